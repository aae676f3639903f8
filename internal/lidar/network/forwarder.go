package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// PacketForwarder sends packets to a UDP destination from a background
// goroutine. ForwardAsync never blocks: a full queue drops the packet.
type PacketForwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	logInterval time.Duration
	address     string

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewPacketForwarder dials addr:port. A non-positive logInterval
// defaults to ten seconds.
func NewPacketForwarder(addr string, port int, logInterval time.Duration) (*PacketForwarder, error) {
	forwardAddress := net.JoinHostPort(addr, fmt.Sprint(port))
	udpAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial forward address: %w", err)
	}
	if logInterval <= 0 {
		logInterval = 10 * time.Second
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		logInterval: logInterval,
		address:     forwardAddress,
		done:        make(chan struct{}),
	}, nil
}

// Address returns the destination.
func (f *PacketForwarder) Address() string { return f.address }

// Start sends queued packets until ctx is done or Close is called. Write
// failures are summarised once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		failures := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case packet := <-f.channel:
				if _, err := f.conn.Write(packet); err != nil {
					failures++
					lastError = err
					f.failed.Add(1)
					continue
				}
				f.sent.Add(1)
			case <-ticker.C:
				if failures > 0 {
					lidar.Opsf("forwarder %s: %d packets failed (latest: %v)", f.address, failures, lastError)
					failures = 0
					lastError = nil
				}
			}
		}
	}()
	lidar.Diagf("forwarding scan packets to %s", f.address)
}

// ForwardAsync queues a copy of packet.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	select {
	case <-f.done:
		f.dropped.Add(1)
		return
	default:
	}
	cp := make([]byte, len(packet))
	copy(cp, packet)
	select {
	case f.channel <- cp:
	default:
		f.dropped.Add(1)
	}
}

// ForwarderStats are the forwarder's counters.
type ForwarderStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Queued  int    `json:"queued"`
}

// Stats returns the forwarder's counters.
func (f *PacketForwarder) Stats() ForwarderStats {
	return ForwarderStats{
		Sent:    f.sent.Load(),
		Dropped: f.dropped.Load(),
		Failed:  f.failed.Load(),
		Queued:  len(f.channel),
	}
}

// Close stops the send loop and closes the connection.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
