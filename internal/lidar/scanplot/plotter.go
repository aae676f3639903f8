// Package scanplot records per-tick scanner summaries during a run and
// renders them, together with the buffered point cloud, as PNG plots.
package scanplot

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/lidarscan/internal/lidar/pipeline"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
)

const (
	// DefaultMaxTicks bounds the tick history kept for plotting.
	DefaultMaxTicks = 100_000
	// DefaultMaxScatter bounds the points drawn in the top-down plot.
	DefaultMaxScatter = 20_000
	// DefaultHistBins is the bin count of the hit distance histogram.
	DefaultHistBins = 50
)

// TickPlotter is a pipeline.TickRecorder that keeps tick summaries in
// memory for GeneratePlots. Once MaxTicks is reached further ticks are
// counted but not kept.
type TickPlotter struct {
	mu       sync.Mutex
	maxTicks int
	ticks    []pipeline.TickRecord
	sweeps   []pipeline.SweepRecord
	dropped  int
}

// NewTickPlotter returns a plotter keeping at most maxTicks ticks;
// maxTicks <= 0 selects DefaultMaxTicks.
func NewTickPlotter(maxTicks int) *TickPlotter {
	if maxTicks <= 0 {
		maxTicks = DefaultMaxTicks
	}
	return &TickPlotter{maxTicks: maxTicks}
}

func (tp *TickPlotter) RecordTick(_ context.Context, rec pipeline.TickRecord) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if len(tp.ticks) >= tp.maxTicks {
		tp.dropped++
		return nil
	}
	tp.ticks = append(tp.ticks, rec)
	return nil
}

func (tp *TickPlotter) RecordSweep(_ context.Context, rec pipeline.SweepRecord) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.sweeps = append(tp.sweeps, rec)
	return nil
}

// Len returns the number of ticks kept and the number dropped.
func (tp *TickPlotter) Len() (kept, dropped int) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.ticks), tp.dropped
}

// PlotOptions selects what GeneratePlots draws from the point cloud.
type PlotOptions struct {
	Origin     r3.Vec // distances are measured from here
	MaxScatter int
	HistBins   int
}

// GeneratePlots writes ticks.png, tick_duration.png, distance_hist.png and
// topdown.png to outputDir and returns the number of files written.
// Plots with no data are skipped.
func (tp *TickPlotter) GeneratePlots(outputDir string, snap pointbuffer.Snapshot, opts PlotOptions) (int, error) {
	if outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	if opts.MaxScatter <= 0 {
		opts.MaxScatter = DefaultMaxScatter
	}
	if opts.HistBins <= 0 {
		opts.HistBins = DefaultHistBins
	}

	tp.mu.Lock()
	ticks := append([]pipeline.TickRecord(nil), tp.ticks...)
	sweeps := len(tp.sweeps)
	tp.mu.Unlock()

	type job struct {
		name  string
		build func() (*plot.Plot, error)
		w, h  vg.Length
	}
	var jobs []job
	if len(ticks) > 0 {
		jobs = append(jobs,
			job{"ticks.png", func() (*plot.Plot, error) { return tickCountPlot(ticks, sweeps) }, 14 * vg.Inch, 6 * vg.Inch},
			job{"tick_duration.png", func() (*plot.Plot, error) { return tickDurationPlot(ticks) }, 14 * vg.Inch, 6 * vg.Inch},
		)
	}
	if snap.Len() > 0 {
		jobs = append(jobs,
			job{"distance_hist.png", func() (*plot.Plot, error) { return distancePlot(snap, opts) }, 8 * vg.Inch, 6 * vg.Inch},
			job{"topdown.png", func() (*plot.Plot, error) { return topDownPlot(snap, opts) }, 8 * vg.Inch, 8 * vg.Inch},
		)
	}

	written := 0
	for _, j := range jobs {
		p, err := j.build()
		if err != nil {
			return written, fmt.Errorf("%s: %w", j.name, err)
		}
		if err := p.Save(j.w, j.h, filepath.Join(outputDir, j.name)); err != nil {
			return written, fmt.Errorf("save %s: %w", j.name, err)
		}
		written++
	}
	return written, nil
}

func tickCountPlot(ticks []pipeline.TickRecord, sweeps int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Samples and hits per tick (%d sweeps)", sweeps)
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Count"

	samples := make(plotter.XYs, len(ticks))
	hits := make(plotter.XYs, len(ticks))
	for i, t := range ticks {
		samples[i] = plotter.XY{X: float64(i), Y: float64(t.Samples)}
		hits[i] = plotter.XY{X: float64(i), Y: float64(t.Hits)}
	}
	sLine, err := plotter.NewLine(samples)
	if err != nil {
		return nil, err
	}
	sLine.Color = color.RGBA{R: 70, G: 110, B: 200, A: 255}
	sLine.Width = vg.Points(1)
	hLine, err := plotter.NewLine(hits)
	if err != nil {
		return nil, err
	}
	hLine.Color = color.RGBA{R: 220, G: 90, B: 40, A: 255}
	hLine.Width = vg.Points(1)

	p.Add(sLine, hLine)
	p.Legend.Add("samples", sLine)
	p.Legend.Add("hits", hLine)
	p.Legend.Top = true
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func tickDurationPlot(ticks []pipeline.TickRecord) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Tick duration"
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Duration (ms)"

	pts := make(plotter.XYs, 0, len(ticks))
	for i, t := range ticks {
		if t.Skipped {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i), Y: float64(t.Duration.Microseconds()) / 1000})
	}
	if len(pts) == 0 {
		return p, nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Width = vg.Points(1)
	p.Add(line)
	return p, nil
}

func distancePlot(snap pointbuffer.Snapshot, opts PlotOptions) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Hit distance (%d points)", snap.Len())
	p.X.Label.Text = "Distance (m)"
	p.Y.Label.Text = "Points"

	h, err := plotter.NewHist(Distances(snap, opts.Origin), opts.HistBins)
	if err != nil {
		return nil, err
	}
	p.Add(h)
	return p, nil
}

func topDownPlot(snap pointbuffer.Snapshot, opts PlotOptions) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Top-down"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"

	stride := Stride(snap.Len(), opts.MaxScatter)
	pts := make(plotter.XYs, 0, snap.Len()/stride+1)
	for i := 0; i < snap.Len(); i += stride {
		pos := snap.Positions[i]
		pts = append(pts, plotter.XY{X: float64(pos[0]), Y: float64(pos[2])})
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	sc.GlyphStyle.Radius = vg.Points(0.8)
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		c := snap.Colors[i*stride]
		return draw.GlyphStyle{
			Color:  color.NRGBA{R: to8(c[0]), G: to8(c[1]), B: to8(c[2]), A: 255},
			Radius: vg.Points(0.8),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(sc)
	return p, nil
}

// Distances returns the distance of every snapshot point from origin.
func Distances(snap pointbuffer.Snapshot, origin r3.Vec) plotter.Values {
	out := make(plotter.Values, snap.Len())
	for i, pos := range snap.Positions {
		v := r3.Vec{X: float64(pos[0]), Y: float64(pos[1]), Z: float64(pos[2])}
		out[i] = r3.Norm(r3.Sub(v, origin))
	}
	return out
}

// Stride returns the step that keeps at most max of n points.
func Stride(n, max int) int {
	if max <= 0 || n <= max {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(max)))
}

func to8(v float32) uint8 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}
