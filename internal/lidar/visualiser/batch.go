package visualiser

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
)

// maxPooledRecords bounds the slices returned to the pool.
const maxPooledRecords = 1 << 20

// PointBatch is one uploaded segment of the point buffer, or a reset
// marker when Reset is set. Batches are shared between subscribers and
// reference counted: every receiver must call Release exactly once.
type PointBatch struct {
	Seq      uint64
	Reset    bool // the sink was (re)configured; drop any mirrored state
	Capacity int
	Channels pointbuffer.Channels

	// Offset is the ring slot of Positions[0].
	Offset     int
	Positions  [][3]float32
	Colors     [][4]float32
	Normals    [][3]float32
	Timestamps []float32

	refs atomic.Int32
}

var batchPool = sync.Pool{
	New: func() interface{} { return new(PointBatch) },
}

func newBatch() *PointBatch {
	b := batchPool.Get().(*PointBatch)
	b.refs.Store(1)
	return b
}

// Len returns the number of records in the batch.
func (b *PointBatch) Len() int { return len(b.Positions) }

// Retain adds a reference.
func (b *PointBatch) Retain() { b.refs.Add(1) }

// Release drops a reference. The last release returns the batch to the
// pool; the batch must not be used afterwards.
func (b *PointBatch) Release() {
	if b == nil || b.refs.Add(-1) > 0 {
		return
	}
	if cap(b.Positions) > maxPooledRecords {
		*b = PointBatch{}
		return
	}
	b.Seq, b.Reset, b.Capacity, b.Channels, b.Offset = 0, false, 0, 0, 0
	b.Positions = b.Positions[:0]
	b.Colors = b.Colors[:0]
	b.Normals = b.Normals[:0]
	b.Timestamps = b.Timestamps[:0]
	batchPool.Put(b)
}

// fill copies one segment into b. nil optional channels stay nil.
func (b *PointBatch) fill(offset int, positions [][3]float32, colors [][4]float32, normals [][3]float32, timestamps []float32) {
	b.Offset = offset
	b.Positions = append(b.Positions[:0], positions...)
	b.Colors = append(b.Colors[:0], colors...)
	if normals != nil {
		b.Normals = append(b.Normals[:0], normals...)
	} else {
		b.Normals = nil
	}
	if timestamps != nil {
		b.Timestamps = append(b.Timestamps[:0], timestamps...)
	} else {
		b.Timestamps = nil
	}
}
