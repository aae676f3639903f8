package sampling

import (
	"fmt"
	"math"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

const (
	// MaxConeAngleDeg bounds the disc half-angle.
	MaxConeAngleDeg = 60.0
	// DefaultMinTickRate is the tick rate below which the clamped
	// patterns stop producing proportionally more samples.
	DefaultMinTickRate = 20.0
	// DefaultSphereLength scales sphere and sweep offsets.
	DefaultSphereLength = 100.0
)

// ScanConfig holds the per-tick sampling parameters. It is read, never
// written, during a tick.
type ScanConfig struct {
	Pattern           Pattern
	ConeAngleDeg      float64 // disc half-angle, [0, 60]
	SquareHalfExtent  float64 // square half-size, [0, 1]
	SweepIncrementDeg float64 // ring angle advance per sweep tick
	SampleRate        float64 // samples per second
	MinTickRate       float64 // <= 0 disables the delta clamp
	SphereLength      float64
}

// DefaultScanConfig returns a disc scan at 20k samples per second.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Pattern:           PatternDisc,
		ConeAngleDeg:      20,
		SquareHalfExtent:  0.3,
		SweepIncrementDeg: 1,
		SampleRate:        20000,
		MinTickRate:       DefaultMinTickRate,
		SphereLength:      DefaultSphereLength,
	}
}

// Validate checks the configuration for values that can never produce a
// sensible scan. A zero sample rate is allowed and yields no samples.
func (c ScanConfig) Validate() error {
	if _, ok := patternNames[c.Pattern]; !ok {
		return fmt.Errorf("%w: unknown pattern %d", lidar.ErrConfiguration, int(c.Pattern))
	}
	for name, v := range map[string]float64{
		"cone_angle_deg":      c.ConeAngleDeg,
		"square_half_extent":  c.SquareHalfExtent,
		"sweep_increment_deg": c.SweepIncrementDeg,
		"sample_rate":         c.SampleRate,
		"min_tick_rate":       c.MinTickRate,
		"sphere_length":       c.SphereLength,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite", lidar.ErrConfiguration, name)
		}
	}
	if c.ConeAngleDeg < 0 || c.ConeAngleDeg > MaxConeAngleDeg {
		return fmt.Errorf("%w: cone_angle_deg %.2f outside [0, %.0f]", lidar.ErrConfiguration, c.ConeAngleDeg, MaxConeAngleDeg)
	}
	if c.SquareHalfExtent < 0 || c.SquareHalfExtent > 1 {
		return fmt.Errorf("%w: square_half_extent %.3f outside [0, 1]", lidar.ErrConfiguration, c.SquareHalfExtent)
	}
	if c.SampleRate < 0 {
		return fmt.Errorf("%w: sample_rate must be >= 0, got %.2f", lidar.ErrConfiguration, c.SampleRate)
	}
	if c.Pattern.Omnidirectional() && c.SphereLength <= 0 {
		return fmt.Errorf("%w: sphere_length must be positive for %s scans", lidar.ErrConfiguration, c.Pattern)
	}
	return nil
}

// AdjustScanArea widens or narrows the scan footprint by a scroll delta.
// The cone angle moves by delta degrees and the square extent by delta/100,
// each clamped to its valid range. A non-finite delta changes nothing.
func (c *ScanConfig) AdjustScanArea(delta float64) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return
	}
	c.ConeAngleDeg = math.Max(0, math.Min(MaxConeAngleDeg, c.ConeAngleDeg+delta))
	c.SquareHalfExtent = math.Max(0, math.Min(1, c.SquareHalfExtent+delta*0.01))
}

// EffectiveDelta returns the delta time used to size a tick's batch.
func (c ScanConfig) EffectiveDelta(dt float64) float64 {
	if c.Pattern.ClampsDelta() && c.MinTickRate > 0 {
		return math.Min(dt, 1/c.MinTickRate)
	}
	return dt
}

// SampleCount returns ceil(rate × effective delta), or 0 when either the
// rate or the delta is non-positive. Any positive product yields at least
// one sample.
func (c ScanConfig) SampleCount(dt float64) int {
	if !(c.SampleRate > 0) || !(dt > 0) {
		return 0
	}
	x := c.SampleRate * c.EffectiveDelta(dt)
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return 0
	}
	// Tolerate float noise such as 1000*0.016 = 16.000000000000004; the
	// slack scales with x so it never swallows a real fraction.
	return max(1, int(math.Ceil(x-x*1e-12)))
}
