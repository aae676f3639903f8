package pointbuffer

// Snapshot is a copy of the live window in insertion order, oldest first.
type Snapshot struct {
	Start      uint64 // logical index of Positions[0]
	Written    uint64
	Capacity   int
	Channels   Channels
	Positions  [][3]float32
	Colors     [][4]float32
	Normals    [][3]float32 // nil when the channel is disabled
	Timestamps []float32    // nil when the channel is disabled
}

// Len returns the number of records in the snapshot.
func (s Snapshot) Len() int { return len(s.Positions) }

// Snapshot copies the live window. It never observes a partial ingest.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start, count := b.liveWindow()
	snap := Snapshot{
		Start:     start,
		Written:   b.written,
		Capacity:  b.capacity,
		Channels:  b.channels,
		Positions: make([][3]float32, count),
		Colors:    make([][4]float32, count),
	}
	slot := int(start % uint64(b.capacity))
	readWrapped(snap.Positions, b.positions, slot, count)
	readWrapped(snap.Colors, b.colors, slot, count)
	if b.normals != nil {
		snap.Normals = make([][3]float32, count)
		readWrapped(snap.Normals, b.normals, slot, count)
	}
	if b.timestamps != nil {
		snap.Timestamps = make([]float32, count)
		readWrapped(snap.Timestamps, b.timestamps, slot, count)
	}
	return snap
}

// View exposes the raw ring storage to fn without copying. Slot i of the
// channels holds logical record Start+k where i = (Start+k) mod Capacity.
// fn must not retain the slices or call back into the buffer.
type View struct {
	Start      uint64
	Count      int
	Capacity   int
	Positions  [][3]float32
	Colors     [][4]float32
	Normals    [][3]float32
	Timestamps []float32
}

// Slot returns the storage slot of the k-th live record.
func (v View) Slot(k int) int {
	return int((v.Start + uint64(k)) % uint64(v.Capacity))
}

// View calls fn with the live window while holding the read lock.
func (b *Buffer) View(fn func(View)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start, count := b.liveWindow()
	fn(View{
		Start:      start,
		Count:      count,
		Capacity:   b.capacity,
		Positions:  b.positions,
		Colors:     b.colors,
		Normals:    b.normals,
		Timestamps: b.timestamps,
	})
}
