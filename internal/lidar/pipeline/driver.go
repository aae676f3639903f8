package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
	"github.com/banshee-data/lidarscan/internal/timeutil"
)

const (
	// DefaultTickRate is the driver loop rate in Hz.
	DefaultTickRate = 60.0
	// DefaultFixedStep is the sweep scanner's fixed tick in seconds.
	DefaultFixedStep = 0.02
)

// DriverOptions configures a Driver.
type DriverOptions struct {
	TickRate    float64 // Hz; default 60
	FixedStep   float64 // seconds per sweep tick; default 0.02
	SpinRateDeg float64 // turret rate for the line pattern; default 30
	Clock       timeutil.Clock
}

// Driver runs a scanner once per frame, choosing the tick style from the
// current pattern: the line pattern rides a spinning turret, the sweep
// pattern runs fixed steps covering the frame time, and every other
// pattern ticks once with the measured frame delta.
type Driver struct {
	scanner   *Scanner
	clock     timeutil.Clock
	frames    *timeutil.FrameClock
	tickRate  float64
	fixedStep float64

	mu     sync.Mutex
	base   sampling.Frame
	turret *Turret
}

// NewDriver returns a driver for s posed at base.
func NewDriver(s *Scanner, base sampling.Frame, opts DriverOptions) *Driver {
	if !(opts.TickRate > 0) {
		opts.TickRate = DefaultTickRate
	}
	if !(opts.FixedStep > 0) {
		opts.FixedStep = DefaultFixedStep
	}
	if opts.SpinRateDeg == 0 {
		opts.SpinRateDeg = DefaultSpinRateDeg
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Driver{
		scanner:   s,
		clock:     opts.Clock,
		frames:    timeutil.NewFrameClock(opts.Clock),
		tickRate:  opts.TickRate,
		fixedStep: opts.FixedStep,
		base:      base,
		turret:    NewTurret(base, opts.SpinRateDeg),
	}
}

// Frame returns the pose the next tick will scan from.
func (d *Driver) Frame() sampling.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scanner.Config().Scan.Pattern == sampling.PatternLine {
		return d.turret.Frame()
	}
	return d.base
}

// SetFrame moves the scanner. The turret restarts from the new pose.
func (d *Driver) SetFrame(f sampling.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base = f
	d.turret = NewTurret(f, d.turret.SpinRateDeg)
}

// Ticks returns the number of driver frames run.
func (d *Driver) Ticks() uint64 { return d.frames.Ticks() }

// Step runs one driver frame using the time since the previous one.
func (d *Driver) Step(ctx context.Context) (FixedStepResult, error) {
	dt := d.frames.Tick()
	pattern := d.scanner.Config().Scan.Pattern

	d.mu.Lock()
	frame := d.base
	if pattern == sampling.PatternLine {
		frame = d.turret.Step(dt)
	}
	d.mu.Unlock()

	if pattern == sampling.PatternContinuousSweep {
		return d.scanner.RunFixedStep(ctx, frame, d.fixedStep, dt)
	}
	res, err := d.scanner.Tick(ctx, frame, dt)
	out := FixedStepResult{Ticks: 1, Samples: res.Samples, Hits: res.Hits}
	if res.Skipped {
		out.Skipped = 1
	}
	return out, err
}

// Run steps at the tick rate until ctx is done. Tick errors are logged;
// the loop keeps going so a flaky provider only costs frames.
func (d *Driver) Run(ctx context.Context) error {
	t := d.clock.NewTicker(time.Duration(float64(time.Second) / d.tickRate))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			if _, err := d.Step(ctx); err != nil && ctx.Err() == nil {
				tracef("scanner %s: driver frame %d: %v", d.scanner.ID(), d.frames.Ticks(), err)
			}
		}
	}
}
