package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const pcapSnapLen = 65536

// PcapOptions sets the synthetic addressing of captured packets.
type PcapOptions struct {
	SrcIP, DstIP     net.IP
	SrcPort, DstPort int
}

// DefaultPcapOptions addresses packets from 192.168.1.201 to
// 192.168.1.100 on DefaultPort.
func DefaultPcapOptions() PcapOptions {
	return PcapOptions{
		SrcIP:   net.IPv4(192, 168, 1, 201),
		DstIP:   net.IPv4(192, 168, 1, 100),
		SrcPort: DefaultPort,
		DstPort: DefaultPort,
	}
}

// PcapWriter wraps payloads in Ethernet/IPv4/UDP frames and writes them
// to a pcap stream. It is safe for concurrent use.
type PcapWriter struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	eth     layers.Ethernet
	ip      layers.IPv4
	udp     layers.UDP
	buf     gopacket.SerializeBuffer
	packets uint64
	id      uint16
}

// NewPcapWriter writes the pcap file header and returns a writer.
func NewPcapWriter(w io.Writer, opts PcapOptions) (*PcapWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	d := DefaultPcapOptions()
	if opts.SrcIP == nil {
		opts.SrcIP = d.SrcIP
	}
	if opts.DstIP == nil {
		opts.DstIP = d.DstIP
	}
	if opts.SrcPort == 0 {
		opts.SrcPort = d.SrcPort
	}
	if opts.DstPort == 0 {
		opts.DstPort = d.DstPort
	}
	p := &PcapWriter{
		w: pw,
		eth: layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip: layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    opts.SrcIP.To4(),
			DstIP:    opts.DstIP.To4(),
		},
		udp: layers.UDP{
			SrcPort: layers.UDPPort(opts.SrcPort),
			DstPort: layers.UDPPort(opts.DstPort),
		},
		buf: gopacket.NewSerializeBuffer(),
	}
	return p, nil
}

// WritePayload frames payload and appends it to the capture at ts.
func (p *PcapWriter) WritePayload(ts time.Time, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.id++
	p.ip.Id = p.id
	if err := p.udp.SetNetworkLayerForChecksum(&p.ip); err != nil {
		return fmt.Errorf("udp checksum layer: %w", err)
	}
	if err := p.buf.Clear(); err != nil {
		return err
	}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(p.buf, opts, &p.eth, &p.ip, &p.udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialise packet: %w", err)
	}
	data := p.buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	if err := p.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write pcap packet: %w", err)
	}
	p.packets++
	return nil
}

// Packets returns the number of packets written.
func (p *PcapWriter) Packets() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packets
}

// ReadPcap calls fn with the UDP payload and capture time of every packet
// in r addressed to port; port 0 accepts any. Non-UDP packets are
// skipped. It stops at end of file, on ctx cancellation or when fn errors.
func ReadPcap(ctx context.Context, r io.Reader, port int, fn func(ts time.Time, payload []byte) error) (int, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("open pcap: %w", err)
	}
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read pcap packet %d: %w", count+1, err)
		}
		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		count++
		if err := fn(ci.Timestamp, udp.Payload); err != nil {
			return count, err
		}
	}
}
