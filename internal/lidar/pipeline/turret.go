package pipeline

import (
	"math"

	"github.com/banshee-data/lidarscan/internal/lidar/sampling"
)

// DefaultSpinRateDeg is the turret yaw rate in degrees per second.
const DefaultSpinRateDeg = 30.0

// Turret spins a scan frame about world up at a fixed rate. Paired with a
// line scanner it paints a full circle every 360/SpinRateDeg seconds.
type Turret struct {
	SpinRateDeg float64
	base        sampling.Frame
	yawDeg      float64
}

// NewTurret returns a turret starting at base.
func NewTurret(base sampling.Frame, spinRateDeg float64) *Turret {
	return &Turret{SpinRateDeg: spinRateDeg, base: base}
}

// Step advances the yaw by SpinRateDeg·dt and returns the new frame.
func (t *Turret) Step(dt float64) sampling.Frame {
	if dt > 0 {
		t.yawDeg = math.Mod(t.yawDeg+t.SpinRateDeg*dt, 360)
		if t.yawDeg < 0 {
			t.yawDeg += 360
		}
	}
	return t.Frame()
}

// Frame returns the current frame.
func (t *Turret) Frame() sampling.Frame {
	return t.base.RotateYaw(t.yawDeg)
}

// YawDeg returns the current yaw in [0, 360).
func (t *Turret) YawDeg() float64 { return t.yawDeg }
