// Package network exports point batches as UDP packets: a fixed-layout
// wire codec, a pcap writer and reader built on gopacket, a non-blocking
// UDP forwarder and a render sink that drives them.
package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wire layout, little endian:
//
//	0  magic "LSP1"
//	4  uint16 flags
//	6  uint16 point count
//	8  uint32 packet sequence
//	12 uint32 ring slot of the first point
//	16 uint32 ring capacity
//	20 float32 ingest timestamp (s)
//	24 points: x, y, z float32 and RGBA8
const (
	HeaderSize   = 24
	PointSize    = 16
	MaxPayload   = 1472 // Ethernet MTU less IPv4 and UDP headers
	MaxPoints    = (MaxPayload - HeaderSize) / PointSize
	DefaultPort  = 2370
	packetMagic  = "LSP1"
	flagResetBit = 1
)

var (
	ErrShortPacket = errors.New("packet too short")
	ErrBadMagic    = errors.New("not a scan packet")
)

// Packet is a decoded scan packet.
type Packet struct {
	Seq       uint32
	Reset     bool // the sender's buffer was reconfigured or cleared
	Offset    uint32
	Capacity  uint32
	Timestamp float32
	Positions [][3]float32
	Colors    [][4]float32 // quantised to 8 bits per channel
}

// AppendPacket appends one encoded packet to dst. At most MaxPoints
// points are encoded; the number written is returned.
func AppendPacket(dst []byte, p Packet) ([]byte, int) {
	n := min(len(p.Positions), MaxPoints)
	var flags uint16
	if p.Reset {
		flags |= flagResetBit
	}
	dst = append(dst, packetMagic...)
	dst = binary.LittleEndian.AppendUint16(dst, flags)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(n))
	dst = binary.LittleEndian.AppendUint32(dst, p.Seq)
	dst = binary.LittleEndian.AppendUint32(dst, p.Offset)
	dst = binary.LittleEndian.AppendUint32(dst, p.Capacity)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.Timestamp))
	for i := 0; i < n; i++ {
		pos := p.Positions[i]
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(pos[0]))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(pos[1]))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(pos[2]))
		var c [4]float32
		if i < len(p.Colors) {
			c = p.Colors[i]
		}
		dst = append(dst, quantise(c[0]), quantise(c[1]), quantise(c[2]), quantise(c[3]))
	}
	return dst, n
}

// DecodePacket parses one payload. The returned slices are freshly
// allocated.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	if string(b[:4]) != packetMagic {
		return Packet{}, ErrBadMagic
	}
	flags := binary.LittleEndian.Uint16(b[4:])
	n := int(binary.LittleEndian.Uint16(b[6:]))
	if want := HeaderSize + n*PointSize; len(b) < want {
		return Packet{}, fmt.Errorf("%w: %d points need %d bytes, got %d", ErrShortPacket, n, want, len(b))
	}
	p := Packet{
		Reset:     flags&flagResetBit != 0,
		Seq:       binary.LittleEndian.Uint32(b[8:]),
		Offset:    binary.LittleEndian.Uint32(b[12:]),
		Capacity:  binary.LittleEndian.Uint32(b[16:]),
		Timestamp: math.Float32frombits(binary.LittleEndian.Uint32(b[20:])),
		Positions: make([][3]float32, n),
		Colors:    make([][4]float32, n),
	}
	for i := 0; i < n; i++ {
		q := b[HeaderSize+i*PointSize:]
		p.Positions[i] = [3]float32{
			math.Float32frombits(binary.LittleEndian.Uint32(q[0:])),
			math.Float32frombits(binary.LittleEndian.Uint32(q[4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(q[8:])),
		}
		p.Colors[i] = [4]float32{
			float32(q[12]) / 255, float32(q[13]) / 255, float32(q[14]) / 255, float32(q[15]) / 255,
		}
	}
	return p, nil
}

func quantise(v float32) byte {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	}
	return byte(v*255 + 0.5)
}
