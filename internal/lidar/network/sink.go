package network

import (
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
	"github.com/banshee-data/lidarscan/internal/timeutil"
)

// PacketSink is a pointbuffer.RenderSink that encodes every uploaded
// segment as scan packets and hands them to a pcap writer, a forwarder,
// or both. A reconfiguration is sent as an empty reset packet.
type PacketSink struct {
	pcap      *PcapWriter
	forwarder *PacketForwarder
	clock     timeutil.Clock

	mu       sync.Mutex
	seq      uint32
	capacity int
	scratch  []byte
	stats    PacketSinkStats
}

var _ pointbuffer.RenderSink = (*PacketSink)(nil)

// PacketSinkStats are the sink's counters.
type PacketSinkStats struct {
	Packets uint64 `json:"packets"`
	Points  uint64 `json:"points"`
	Bytes   uint64 `json:"bytes"`
	Errors  uint64 `json:"errors"`
}

// NewPacketSink returns a sink writing to pcap and forwarder, either of
// which may be nil.
func NewPacketSink(pcap *PcapWriter, forwarder *PacketForwarder, clock timeutil.Clock) *PacketSink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PacketSink{pcap: pcap, forwarder: forwarder, clock: clock}
}

// Configure emits a reset packet carrying the new capacity.
func (s *PacketSink) Configure(capacity int, _ pointbuffer.Channels) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
	return s.emit(Packet{Reset: true})
}

// UploadBatch splits the segment into packets of at most MaxPoints.
// Timestamps travel per packet: the first record's stamp is used.
func (s *PacketSink) UploadBatch(offset int, positions [][3]float32, colors [][4]float32, _ [][3]float32, timestamps []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for start := 0; start < len(positions); start += MaxPoints {
		end := min(start+MaxPoints, len(positions))
		p := Packet{
			Offset:    uint32(offset + start),
			Positions: positions[start:end],
			Colors:    colors[start:end],
		}
		if timestamps != nil {
			p.Timestamp = timestamps[start]
		}
		if err := s.emit(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// emit must be called with mu held.
func (s *PacketSink) emit(p Packet) error {
	s.seq++
	p.Seq = s.seq
	p.Capacity = uint32(s.capacity)
	var n int
	s.scratch, n = AppendPacket(s.scratch[:0], p)

	s.stats.Packets++
	s.stats.Points += uint64(n)
	s.stats.Bytes += uint64(len(s.scratch))
	if s.forwarder != nil {
		s.forwarder.ForwardAsync(s.scratch)
	}
	if s.pcap != nil {
		if err := s.pcap.WritePayload(s.clock.Now(), s.scratch); err != nil {
			s.stats.Errors++
			return err
		}
	}
	return nil
}

// Stats returns the sink's counters.
func (s *PacketSink) Stats() PacketSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Replay feeds decoded packets to a buffer-shaped callback. It is the
// inverse of PacketSink for tests and tools.
type Replay struct {
	OnReset func(capacity int)
	OnBatch func(offset int, positions [][3]float32, colors [][4]float32, timestamp float32)
}

// Handle decodes one payload and dispatches it.
func (r Replay) Handle(_ time.Time, payload []byte) error {
	p, err := DecodePacket(payload)
	if err != nil {
		return err
	}
	if p.Reset {
		if r.OnReset != nil {
			r.OnReset(int(p.Capacity))
		}
		return nil
	}
	if r.OnBatch != nil {
		r.OnBatch(int(p.Offset), p.Positions, p.Colors, p.Timestamp)
	}
	return nil
}
