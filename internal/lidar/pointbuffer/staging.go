package pointbuffer

import (
	"sync"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// staging holds one batch converted to channel layout. Staging slices are
// pooled because a scanner ingests a batch every tick.
type staging struct {
	positions  [][3]float32
	colors     [][4]float32
	normals    [][3]float32
	timestamps []float32

	pooled *staging // backing entry returned to the pool on release
}

// maxPooledRecords keeps very large batches out of the pool.
const maxPooledRecords = 1 << 18

var stagingPool = sync.Pool{
	New: func() interface{} {
		return &staging{}
	},
}

func grow[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}

func stage(records []lidar.HitRecord, ch Channels, timestamp float32) *staging {
	s := stagingPool.Get().(*staging)
	n := len(records)
	s.positions = grow(s.positions, n)
	s.colors = grow(s.colors, n)
	var normals [][3]float32
	var timestamps []float32
	if ch.Has(ChannelNormal) {
		normals = grow(s.normals, n)
		s.normals = normals
	}
	if ch.Has(ChannelTimestamp) {
		timestamps = grow(s.timestamps, n)
		s.timestamps = timestamps
	}

	for i := range records {
		r := &records[i]
		s.positions[i] = [3]float32{float32(r.Position.X), float32(r.Position.Y), float32(r.Position.Z)}
		s.colors[i] = r.Color.RGBA()
		if normals != nil {
			normals[i] = [3]float32{float32(r.Normal.X), float32(r.Normal.Y), float32(r.Normal.Z)}
		}
		if timestamps != nil {
			timestamps[i] = timestamp
		}
	}
	return &staging{positions: s.positions, colors: s.colors, normals: normals, timestamps: timestamps, pooled: s}
}

func (s *staging) release() {
	if s.pooled == nil || cap(s.positions) > maxPooledRecords {
		return
	}
	stagingPool.Put(s.pooled)
}
