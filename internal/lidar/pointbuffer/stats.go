package pointbuffer

// DefaultWarnMemoryMB is the in-use memory above which Stats flags a
// warning.
const DefaultWarnMemoryMB = 1500.0

// Stats summarises buffer usage for status displays.
type Stats struct {
	Capacity     int     `json:"capacity"`
	Channels     string  `json:"channels"`
	Written      uint64  `json:"written"`
	Live         int     `json:"live"`
	Ingests      uint64  `json:"ingests"`
	Overwritten  uint64  `json:"overwritten"`
	Dropped      uint64  `json:"dropped"`
	SinkErrors   uint64  `json:"sink_errors"`
	AllocatedMB  float64 `json:"allocated_mb"`
	UsedFraction float64 `json:"used_fraction"`
	UsedMB       float64 `json:"used_mb"`
	Warning      bool    `json:"warning"`
}

// BytesPerRecord returns the storage cost of one record across the
// enabled channels.
func (c Channels) BytesPerRecord() int {
	n := 0
	if c.Has(ChannelPosition) {
		n += 12
	}
	if c.Has(ChannelColor) {
		n += 16
	}
	if c.Has(ChannelNormal) {
		n += 12
	}
	if c.Has(ChannelTimestamp) {
		n += 4
	}
	return n
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, live := b.liveWindow()
	allocated := float64(b.capacity*b.channels.BytesPerRecord()) / Megabyte
	frac := float64(live) / float64(b.capacity)
	used := allocated * frac
	return Stats{
		Capacity:     b.capacity,
		Channels:     b.channels.String(),
		Written:      b.written,
		Live:         live,
		Ingests:      b.ingests,
		Overwritten:  b.overwritten,
		Dropped:      b.dropped,
		SinkErrors:   b.sinkErrors,
		AllocatedMB:  allocated,
		UsedFraction: frac,
		UsedMB:       used,
		Warning:      used > DefaultWarnMemoryMB,
	}
}
