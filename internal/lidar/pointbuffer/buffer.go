// Package pointbuffer is the fixed-capacity ring store scan hits are
// streamed into. One writer ingests batches; any number of readers see
// the buffer as of the last completed ingest.
package pointbuffer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// Channels is a bit set of the per-record channels a buffer stores.
type Channels uint8

const (
	ChannelPosition Channels = 1 << iota
	ChannelColor
	ChannelNormal
	ChannelTimestamp

	// CoreChannels are always present.
	CoreChannels = ChannelPosition | ChannelColor
)

// Has reports whether all of o are set in c.
func (c Channels) Has(o Channels) bool { return c&o == o }

func (c Channels) String() string {
	var parts []string
	for _, ch := range []struct {
		bit  Channels
		name string
	}{
		{ChannelPosition, "position"},
		{ChannelColor, "color"},
		{ChannelNormal, "normal"},
		{ChannelTimestamp, "timestamp"},
	} {
		if c.Has(ch.bit) {
			parts = append(parts, ch.name)
		}
	}
	return strings.Join(parts, "+")
}

// Options configures a Buffer.
type Options struct {
	Capacity   int
	Normals    bool
	Timestamps bool
	Sink       RenderSink // optional
}

// Buffer is a multi-channel ring of scan points. All enabled channels are
// written through the same wrap helper so they stay index aligned.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	channels Channels
	sink     RenderSink

	positions  [][3]float32
	colors     [][4]float32
	normals    [][3]float32
	timestamps []float32

	// written is W, the total records ever ingested since the last clear.
	written uint64

	ingests     uint64
	overwritten uint64
	dropped     uint64
	sinkErrors  uint64
}

// New allocates a buffer of opts.Capacity records. A non-positive capacity
// is a configuration error, as is a sink that rejects the layout.
func New(opts Options) (*Buffer, error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("%w: buffer capacity must be positive, got %d", lidar.ErrConfiguration, opts.Capacity)
	}
	b := &Buffer{sink: opts.Sink}
	b.channels = CoreChannels
	if opts.Normals {
		b.channels |= ChannelNormal
	}
	if opts.Timestamps {
		b.channels |= ChannelTimestamp
	}
	b.allocate(opts.Capacity)
	if b.sink != nil {
		if err := b.sink.Configure(b.capacity, b.channels); err != nil {
			return nil, fmt.Errorf("%w: render sink rejected layout: %w", lidar.ErrConfiguration, err)
		}
	}
	return b, nil
}

// NewFromBudget derives the capacity from budget and allocates the buffer.
// The capacity in opts is ignored.
func NewFromBudget(budget Budget, opts Options) (*Buffer, Capacity, error) {
	c, err := budget.Capacity()
	if err != nil {
		return nil, Capacity{}, err
	}
	if c.Adjusted {
		lidar.Diagf("memory budget %.2f MB adjusted to %.2f MB (%d records)", budget.TotalMB, c.EffectiveMB, c.Records)
	}
	opts.Capacity = c.Records
	b, err := New(opts)
	if err != nil {
		return nil, Capacity{}, err
	}
	return b, c, nil
}

func (b *Buffer) allocate(capacity int) {
	b.capacity = capacity
	b.written = 0
	b.positions = make([][3]float32, capacity)
	b.colors = make([][4]float32, capacity)
	b.normals = nil
	b.timestamps = nil
	if b.channels.Has(ChannelNormal) {
		b.normals = make([][3]float32, capacity)
	}
	if b.channels.Has(ChannelTimestamp) {
		b.timestamps = make([]float32, capacity)
	}
}

// Capacity returns C.
func (b *Buffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// Channels returns the enabled channel set.
func (b *Buffer) Channels() Channels {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.channels
}

// IngestResult describes one completed ingest.
type IngestResult struct {
	Records     int    // records in the batch
	Stored      int    // records written, min(Records, C)
	Dropped     int    // batch records never stored because Records > C
	Start       uint64 // logical index of the first stored record
	Segments    int    // 1 for a contiguous write, 2 when it wrapped
	Overwritten int    // live records evicted by this batch
}

// Ingest appends records to the ring, stamping each with timestamp when
// the timestamp channel is enabled. A batch that runs past the end of the
// storage is split in two and both parts are written before W advances.
// A batch larger than C keeps only its newest C records.
func (b *Buffer) Ingest(records []lidar.HitRecord, timestamp float32) IngestResult {
	n := len(records)
	if n == 0 {
		return IngestResult{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.capacity
	res := IngestResult{Records: n}
	src := records
	logicalStart := b.written
	if n > c {
		res.Dropped = n - c
		src = records[n-c:]
		logicalStart += uint64(n - c)
	}
	res.Stored = len(src)
	res.Start = logicalStart

	live := min(b.written, uint64(c))
	if free := uint64(c) - live; uint64(n) > free {
		res.Overwritten = int(min(uint64(n)-free, live))
	}

	staged := stage(src, b.channels, timestamp)
	defer staged.release()

	start := int(logicalStart % uint64(c))
	first, second := writeWrapped(b.positions, staged.positions, start)
	writeWrapped(b.colors, staged.colors, start)
	if b.normals != nil {
		writeWrapped(b.normals, staged.normals, start)
	}
	if b.timestamps != nil {
		writeWrapped(b.timestamps, staged.timestamps, start)
	}

	res.Segments = 1
	if second > 0 {
		res.Segments = 2
	}
	if b.sink != nil {
		b.upload(start, 0, first, staged)
		if second > 0 {
			b.upload(0, first, first+second, staged)
		}
	}

	b.written += uint64(n)
	b.ingests++
	b.overwritten += uint64(res.Overwritten)
	b.dropped += uint64(res.Dropped)
	return res
}

// upload pushes staged[from:to] to the sink at slot offset.
func (b *Buffer) upload(offset, from, to int, s *staging) {
	var normals [][3]float32
	var timestamps []float32
	if s.normals != nil {
		normals = s.normals[from:to]
	}
	if s.timestamps != nil {
		timestamps = s.timestamps[from:to]
	}
	if err := b.sink.UploadBatch(offset, s.positions[from:to], s.colors[from:to], normals, timestamps); err != nil {
		b.sinkErrors++
		lidar.Opsf("render sink upload at offset %d (%d records) failed: %v", offset, to-from, err)
	}
}

// LiveWindow returns the logical index of the oldest live record and the
// live count, min(W, C). Records are ordered by insertion from start.
func (b *Buffer) LiveWindow() (start uint64, count int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.liveWindow()
}

func (b *Buffer) liveWindow() (uint64, int) {
	count := min(b.written, uint64(b.capacity))
	return b.written - count, int(count)
}

// Written returns W.
func (b *Buffer) Written() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.written
}

// Clear forgets every record. Storage is not zeroed; the live count alone
// hides stale slots. The sink is re-configured so it can drop its copy.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.written = 0
	b.reconfigureSink()
}

// Resize reallocates the buffer at a new capacity, discarding all records.
func (b *Buffer) Resize(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: buffer capacity must be positive, got %d", lidar.ErrConfiguration, capacity)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allocate(capacity)
	b.reconfigureSink()
	return nil
}

func (b *Buffer) reconfigureSink() {
	if b.sink == nil {
		return
	}
	if err := b.sink.Configure(b.capacity, b.channels); err != nil {
		b.sinkErrors++
		lidar.Opsf("render sink reconfigure (capacity %d) failed: %v", b.capacity, err)
	}
}
