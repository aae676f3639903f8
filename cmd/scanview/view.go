package main

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
)

// cell is one terminal character of the top-down view.
type cell struct {
	set     bool
	r, g, b int32
	height  float32
}

// Terminal cells are about twice as tall as they are wide.
const cellAspect = 2.0

// project maps a world point to a cell, looking down -Y with +Z up the
// screen, centred on centre with extent metres to the nearer edge.
func project(p r3.Vec, w, h int, centre r3.Vec, extent float64) (int, int, bool) {
	if w <= 0 || h <= 0 || extent <= 0 {
		return 0, 0, false
	}
	scale := math.Min(float64(w)/cellAspect, float64(h)) / (2 * extent)
	x := int(math.Floor(float64(w)/2 + (p.X-centre.X)*scale*cellAspect))
	y := int(math.Floor(float64(h)/2 - (p.Z-centre.Z)*scale))
	if x < 0 || y < 0 || x >= w || y >= h {
		return 0, 0, false
	}
	return x, y, true
}

// rasterise keeps, per cell, the highest point seen so walls read over
// the ground beneath them.
func rasterise(v pointbuffer.View, w, h int, centre r3.Vec, extent float64) [][]cell {
	if w <= 0 || h <= 0 {
		return nil
	}
	grid := make([][]cell, h)
	for i := range grid {
		grid[i] = make([]cell, w)
	}
	for k := 0; k < v.Count; k++ {
		slot := v.Slot(k)
		p := v.Positions[slot]
		x, y, ok := project(r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}, w, h, centre, extent)
		if !ok {
			continue
		}
		c := &grid[y][x]
		if c.set && p[1] < c.height {
			continue
		}
		col := v.Colors[slot]
		*c = cell{
			set:    true,
			r:      to255(col[0]),
			g:      to255(col[1]),
			b:      to255(col[2]),
			height: p[1],
		}
	}
	return grid
}

func to255(v float32) int32 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	}
	return int32(v*255 + 0.5)
}
