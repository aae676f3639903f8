package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
	"github.com/banshee-data/lidarscan/internal/timeutil"
)

func TestDriver_DiscTicksOnceWithFrameDelta(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	s := newTestScanner(t, testConfig(sampling.PatternDisc), hitAll(), 1024, Options{Clock: clock})
	d := NewDriver(s, forwardFrame, DriverOptions{Clock: clock})

	clock.Advance(16 * time.Millisecond)
	res, err := d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ticks)
	assert.Equal(t, 16, res.Samples, "1000/s for 16ms")
	assert.Equal(t, uint64(1), d.Ticks())
}

func TestDriver_SweepRunsFixedSteps(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	s := newTestScanner(t, testConfig(sampling.PatternContinuousSweep), hitAll(), 1<<14, Options{Clock: clock})
	d := NewDriver(s, forwardFrame, DriverOptions{Clock: clock, FixedStep: 0.01})

	clock.Advance(50 * time.Millisecond)
	res, err := d.Step(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Ticks, 5)
	assert.LessOrEqual(t, res.Ticks, 6)
	assert.Equal(t, uint64(res.Ticks), s.Stats().Ticks)
}

func TestDriver_LineRidesTurret(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	s := newTestScanner(t, testConfig(sampling.PatternLine), hitAll(), 1024, Options{Clock: clock})
	d := NewDriver(s, forwardFrame, DriverOptions{Clock: clock, SpinRateDeg: 90})

	clock.Advance(time.Second)
	_, err := d.Step(context.Background())
	require.NoError(t, err)
	f := d.Frame()
	assert.InDelta(t, 0, r3.Dot(f.Forward, forwardFrame.Forward), 1e-9, "a quarter turn")

	d.SetFrame(sampling.LookFrame(r3.Vec{}, r3.Vec{X: 1}))
	assert.InDelta(t, 1, d.Frame().Forward.X, 1e-9, "turret restarts from the new pose")
}

func TestDriver_RunUntilCancelled(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	s := newTestScanner(t, testConfig(sampling.PatternDisc), hitAll(), 1024, Options{Clock: clock})
	d := NewDriver(s, forwardFrame, DriverOptions{Clock: clock, TickRate: 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Millisecond)
		return d.Ticks() >= 3
	}, 5*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
