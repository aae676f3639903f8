package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/intersect"
	"github.com/banshee-data/lidarscan/internal/lidar/pointbuffer"
	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
	"github.com/banshee-data/lidarscan/internal/timeutil"
)

// Config is the scanner configuration applied at tick boundaries.
type Config struct {
	Scan        sampling.ScanConfig
	MaxDistance float64
	Mask        lidar.LayerMask
	Colors      intersect.AttributeResolver
}

// DefaultConfig returns a disc scan against all layers with height colours.
func DefaultConfig() Config {
	return Config{
		Scan:        sampling.DefaultScanConfig(),
		MaxDistance: intersect.DefaultMaxDistance,
		Mask:        lidar.AllLayers,
		Colors:      *intersect.NewAttributeResolver(intersect.ModeHeight, nil),
	}
}

// Validate checks the scan parameters and query range.
func (c Config) Validate() error {
	if err := c.Scan.Validate(); err != nil {
		return err
	}
	if c.MaxDistance < 0 {
		return fmt.Errorf("%w: max distance must be >= 0, got %.2f", lidar.ErrConfiguration, c.MaxDistance)
	}
	return nil
}

// Options holds the scanner collaborators that are not configuration.
type Options struct {
	ID       string         // defaults to a random UUID
	Clock    timeutil.Clock // defaults to RealClock
	Seeds    func() uint64  // per-tick RNG seeds; defaults to a random stream
	Recorder TickRecorder   // optional
	Workers  int            // query goroutines; 0 uses GOMAXPROCS
}

// TickResult describes one tick or one sweep row.
type TickResult struct {
	Seq      uint64
	Samples  int
	Hits     int
	Skipped  bool
	Ingest   pointbuffer.IngestResult
	Duration time.Duration
}

// Stats holds cumulative scanner counters.
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Skipped uint64 `json:"skipped"`
	Samples uint64 `json:"samples"`
	Hits    uint64 `json:"hits"`
	Sweeps  uint64 `json:"sweeps"`
}

// Scanner is the single writer of a point buffer.
type Scanner struct {
	id       string
	batcher  *intersect.Batcher
	buffer   *pointbuffer.Buffer
	clock    timeutil.Clock
	seeds    func() uint64
	recorder TickRecorder
	started  time.Time

	cfgMu sync.RWMutex
	cfg   Config

	// writeMu serialises ticks and sweep rows; sweep is the ring angle
	// and is only touched under it.
	writeMu sync.Mutex
	sweep   sampling.SweepState

	seq     atomic.Uint64
	ticks   atomic.Uint64
	skipped atomic.Uint64
	samples atomic.Uint64
	hits    atomic.Uint64
	sweeps  atomic.Uint64

	wideMu sync.Mutex
	wide   *WideSweep
	closed bool
}

// NewScanner validates cfg and returns a scanner writing to buf.
func NewScanner(cfg Config, provider intersect.Provider, buf *pointbuffer.Buffer, opts Options) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scanner config: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: scanner needs an intersection provider", lidar.ErrConfiguration)
	}
	if buf == nil {
		return nil, fmt.Errorf("%w: scanner needs a point buffer", lidar.ErrConfiguration)
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Seeds == nil {
		opts.Seeds = rand.Uint64
	}
	var batchOpts []intersect.BatcherOption
	if opts.Workers > 0 {
		batchOpts = append(batchOpts, intersect.WithWorkers(opts.Workers))
	}

	s := &Scanner{
		id:       opts.ID,
		batcher:  intersect.NewBatcher(provider, batchOpts...),
		buffer:   buf,
		clock:    opts.Clock,
		seeds:    opts.Seeds,
		recorder: opts.Recorder,
		started:  opts.Clock.Now(),
		cfg:      cfg,
	}
	diagf("scanner %s created: pattern=%s rate=%.0f/s capacity=%d", s.id, cfg.Scan.Pattern, cfg.Scan.SampleRate, buf.Capacity())
	return s, nil
}

// ID returns the scanner identifier.
func (s *Scanner) ID() string { return s.id }

// Buffer returns the buffer the scanner writes to.
func (s *Scanner) Buffer() *pointbuffer.Buffer { return s.buffer }

// Batcher returns the query batcher, for its counters.
func (s *Scanner) Batcher() *intersect.Batcher { return s.batcher }

// Config returns the current configuration.
func (s *Scanner) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// SetConfig replaces the configuration. It takes effect from the next
// tick; a tick already running keeps the configuration it started with.
func (s *Scanner) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("scanner config: %w", err)
	}
	s.cfgMu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.cfgMu.Unlock()
	if prev.Scan.Pattern != cfg.Scan.Pattern {
		diagf("scanner %s: pattern %s -> %s", s.id, prev.Scan.Pattern, cfg.Scan.Pattern)
	}
	return nil
}

// AdjustScanArea widens or narrows the disc and square footprint.
func (s *Scanner) AdjustScanArea(delta float64) sampling.ScanConfig {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg.Scan.AdjustScanArea(delta)
	return s.cfg.Scan
}

// SweepState returns the scanner's ring angle.
func (s *Scanner) SweepState() sampling.SweepState {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.sweep
}

// Stats returns the cumulative counters.
func (s *Scanner) Stats() Stats {
	return Stats{
		Ticks:   s.ticks.Load(),
		Skipped: s.skipped.Load(),
		Samples: s.samples.Load(),
		Hits:    s.hits.Load(),
		Sweeps:  s.sweeps.Load(),
	}
}

// Tick runs one scan: generate samples for dt seconds, resolve them and
// ingest the hits. A provider failure skips the tick, leaving the buffer
// untouched; the returned error wraps lidar.ErrIntersectionProvider and
// the result has Skipped set. A degenerate frame returns
// lidar.ErrInvalidDirection.
func (s *Scanner) Tick(ctx context.Context, frame sampling.Frame, dt float64) (TickResult, error) {
	cfg := s.Config()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := s.clock.Now()
	res := TickResult{Seq: s.seq.Add(1)}
	samples, err := sampling.Generate(sampling.Request{
		Config:    cfg.Scan,
		Frame:     frame,
		DeltaTime: dt,
		Seed:      s.seeds(),
		Sweep:     &s.sweep,
	})
	if err != nil {
		return res, fmt.Errorf("tick %d: generate %s samples: %w", res.Seq, cfg.Scan.Pattern, err)
	}

	base := frame.Forward
	if cfg.Scan.Pattern.Omnidirectional() {
		base = r3.Vec{}
	}
	res, err = s.resolveAndIngest(ctx, cfg, frame.Origin, base, samples, res, start)
	s.record(ctx, "", cfg.Scan.Pattern.String(), res, err, start)
	if err != nil {
		return res, fmt.Errorf("tick %d: %w", res.Seq, err)
	}
	return res, nil
}

// resolveAndIngest must be called with writeMu held.
func (s *Scanner) resolveAndIngest(ctx context.Context, cfg Config, origin, base r3.Vec, samples []r3.Vec, res TickResult, start time.Time) (TickResult, error) {
	res.Samples = len(samples)
	s.ticks.Add(1)
	s.samples.Add(uint64(len(samples)))

	colors := cfg.Colors
	hits, err := s.batcher.Resolve(ctx, intersect.BatchRequest{
		Origin:      origin,
		Direction:   base,
		Samples:     samples,
		MaxDistance: cfg.MaxDistance,
		Mask:        cfg.Mask,
		Colors:      &colors,
	})
	if err != nil {
		res.Skipped = true
		res.Duration = s.clock.Since(start)
		s.skipped.Add(1)
		opsf("scanner %s: tick %d skipped (%d samples): %v", s.id, res.Seq, len(samples), err)
		return res, err
	}

	ts := float32(start.Sub(s.started).Seconds())
	res.Ingest = s.buffer.Ingest(hits, ts)
	res.Hits = len(hits)
	res.Duration = s.clock.Since(start)
	s.hits.Add(uint64(len(hits)))
	tracef("scanner %s: tick %d samples=%d hits=%d wrapped=%t in %s",
		s.id, res.Seq, res.Samples, res.Hits, res.Ingest.Segments > 1, res.Duration)
	return res, nil
}

// FixedStepResult aggregates the ticks of one RunFixedStep call.
type FixedStepResult struct {
	Ticks   int
	Skipped int
	Samples int
	Hits    int
}

// RunFixedStep repeats ticks of step seconds until the accumulated step
// time reaches budget seconds. This lets a sweep scanner lay down several
// rings per displayed frame. Skipped ticks do not stop the loop; their
// errors are joined into the returned error. A configuration error stops
// the loop at once.
func (s *Scanner) RunFixedStep(ctx context.Context, frame sampling.Frame, step, budget float64) (FixedStepResult, error) {
	var out FixedStepResult
	if !(step > 0) || !(budget > 0) {
		return out, nil
	}
	var errs []error
	for elapsed := 0.0; elapsed < budget; elapsed += step {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.Tick(ctx, frame, step)
		out.Ticks++
		out.Samples += res.Samples
		out.Hits += res.Hits
		if res.Skipped {
			out.Skipped++
		}
		if err != nil {
			errs = append(errs, err)
			if errors.Is(err, lidar.ErrConfiguration) {
				break
			}
		}
	}
	return out, errors.Join(errs...)
}

func (s *Scanner) record(ctx context.Context, sweepID, pattern string, res TickResult, err error, at time.Time) {
	if s.recorder == nil {
		return
	}
	rec := TickRecord{
		ScannerID: s.id,
		SweepID:   sweepID,
		Seq:       res.Seq,
		Pattern:   pattern,
		Samples:   res.Samples,
		Hits:      res.Hits,
		Skipped:   res.Skipped,
		Duration:  res.Duration,
		At:        at,
		Written:   s.buffer.Written(),
	}
	if err != nil {
		rec.Err = err.Error()
	}
	if rerr := s.recorder.RecordTick(context.WithoutCancel(ctx), rec); rerr != nil {
		opsf("scanner %s: record tick %d: %v", s.id, res.Seq, rerr)
	}
}
