package timeutil

import (
	"sync"
	"time"
)

// FrameClock measures the time between successive ticks of a driver loop.
type FrameClock struct {
	mu    sync.Mutex
	clock Clock
	last  time.Time
	ticks uint64
}

// NewFrameClock starts a frame clock on c. A nil c uses RealClock.
func NewFrameClock(c Clock) *FrameClock {
	if c == nil {
		c = RealClock{}
	}
	return &FrameClock{clock: c, last: c.Now()}
}

// Now returns the underlying clock's time.
func (f *FrameClock) Now() time.Time {
	return f.clock.Now()
}

// Delta returns the seconds elapsed since the last Tick, or since the
// clock was created, without marking a new tick.
func (f *FrameClock) Delta() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock.Since(f.last).Seconds()
}

// Tick marks a new frame and returns the seconds since the previous one.
func (f *FrameClock) Tick() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	dt := now.Sub(f.last).Seconds()
	f.last = now
	f.ticks++
	return dt
}

// Ticks returns the number of Tick calls.
func (f *FrameClock) Ticks() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}
