package visualiser

import (
	"fmt"
	"io"
	"math"

	"github.com/gogpu/gg"

	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
)

// Projection selects the plane a preview is drawn in.
type Projection int

const (
	// TopDown looks down -Y: X to the right, Z up the image.
	TopDown Projection = iota
	// Side looks along +X: Z to the right, Y up the image.
	Side
)

// ParseProjection accepts "top" or "side".
func ParseProjection(s string) (Projection, error) {
	switch s {
	case "", "top", "topdown":
		return TopDown, nil
	case "side":
		return Side, nil
	}
	return TopDown, fmt.Errorf("%w: unknown projection %q", lidar.ErrConfiguration, s)
}

// PreviewOptions controls RenderPreview.
type PreviewOptions struct {
	Width, Height int
	Projection    Projection

	// Extent is the half-size of the square world window centred on
	// Center. Zero fits the window to the points.
	Extent float64
	Center [3]float32

	PointRadius float64
	MaxPoints   int // stride-decimate above this; 0 draws everything
	Background  lidar.Color

	// ColorByNormal draws (n+1)/2 instead of the point colour when the
	// snapshot carries normals.
	ColorByNormal bool

	// FarColor, when set, is blended in with distance from Center,
	// reaching it fully at FarDistance.
	FarColor    *lidar.Color
	FarDistance float64
}

// DefaultPreviewOptions is a 512x512 top-down view.
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{
		Width:       512,
		Height:      512,
		PointRadius: 1,
		MaxPoints:   50000,
		Background:  lidar.Color{R: 0.05, G: 0.05, B: 0.07, A: 1},
	}
}

// PreviewStats reports what RenderPreview drew.
type PreviewStats struct {
	Points int
	Drawn  int
	Stride int
	Extent float64
}

// RenderPreview rasterises snap to a PNG on w.
func RenderPreview(w io.Writer, snap pointbuffer.Snapshot, opts PreviewOptions) (PreviewStats, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return PreviewStats{}, fmt.Errorf("%w: preview size must be positive, got %dx%d", lidar.ErrConfiguration, opts.Width, opts.Height)
	}
	if opts.PointRadius <= 0 {
		opts.PointRadius = 1
	}

	n := snap.Len()
	st := PreviewStats{Points: n, Stride: 1}
	if opts.MaxPoints > 0 && n > opts.MaxPoints {
		st.Stride = int(math.Ceil(float64(n) / float64(opts.MaxPoints)))
	}

	project := projector(opts.Projection)
	cu, cv := project(opts.Center)
	extent := opts.Extent
	if extent <= 0 {
		for i := 0; i < n; i += st.Stride {
			u, v := project(snap.Positions[i])
			extent = math.Max(extent, math.Max(math.Abs(u-cu), math.Abs(v-cv)))
		}
		extent *= 1.05
		if extent == 0 {
			extent = 1
		}
	}
	st.Extent = extent

	dc := gg.NewContext(opts.Width, opts.Height)
	defer dc.Close()
	bg := opts.Background
	dc.ClearWithColor(gg.RGBA2(float64(bg.R), float64(bg.G), float64(bg.B), float64(bg.A)))

	scale := math.Min(float64(opts.Width), float64(opts.Height)) / (2 * extent)
	halfW, halfH := float64(opts.Width)/2, float64(opts.Height)/2
	useNormals := opts.ColorByNormal && snap.Normals != nil

	// Oldest first, so the newest points land on top.
	for i := 0; i < n; i += st.Stride {
		u, v := project(snap.Positions[i])
		x := halfW + (u-cu)*scale
		y := halfH - (v-cv)*scale
		if x < -opts.PointRadius || y < -opts.PointRadius ||
			x > float64(opts.Width)+opts.PointRadius || y > float64(opts.Height)+opts.PointRadius {
			continue
		}

		c := pointColor(snap, i, useNormals)
		if opts.FarColor != nil && opts.FarDistance > 0 {
			c = c.Lerp(*opts.FarColor, distance(snap.Positions[i], opts.Center)/opts.FarDistance)
		}
		dc.SetRGBA(float64(c.R), float64(c.G), float64(c.B), 1)
		dc.DrawPoint(x, y, opts.PointRadius)
		if err := dc.Fill(); err != nil {
			return st, fmt.Errorf("fill point %d: %w", i, err)
		}
		st.Drawn++
	}

	if err := dc.EncodePNG(w); err != nil {
		return st, fmt.Errorf("encode preview: %w", err)
	}
	return st, nil
}

func projector(p Projection) func([3]float32) (float64, float64) {
	if p == Side {
		return func(q [3]float32) (float64, float64) { return float64(q[2]), float64(q[1]) }
	}
	return func(q [3]float32) (float64, float64) { return float64(q[0]), float64(q[2]) }
}

func pointColor(snap pointbuffer.Snapshot, i int, useNormals bool) lidar.Color {
	if useNormals {
		n := snap.Normals[i]
		return lidar.Color{R: (n[0] + 1) / 2, G: (n[1] + 1) / 2, B: (n[2] + 1) / 2, A: 1}
	}
	c := snap.Colors[i]
	return lidar.Color{R: c[0], G: c[1], B: c[2], A: c[3]}
}

func distance(a, b [3]float32) float64 {
	dx := float64(a[0] - b[0])
	dy := float64(a[1] - b[1])
	dz := float64(a[2] - b[2])
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
