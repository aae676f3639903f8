// Package lidar holds the types shared by the scan pipeline: resolved hit
// records, colours, layer masks and the error kinds every stage reports.
package lidar

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrConfiguration marks a setup-time failure: an invalid budget,
	// pattern, rate or channel layout. Construction refuses to proceed.
	ErrConfiguration = errors.New("lidar: invalid configuration")

	// ErrInvalidDirection is reported when a scan basis vector has zero
	// length and no perpendicular pair can be derived from it.
	ErrInvalidDirection = fmt.Errorf("%w: zero-length direction", ErrConfiguration)

	// ErrIntersectionProvider marks a failed query batch. It is scoped to
	// one tick; the caller skips that tick and carries on.
	ErrIntersectionProvider = errors.New("lidar: intersection provider failed")
)

// Color is a linear RGBA colour with float32 components in [0, 1].
type Color struct {
	R, G, B, A float32
}

var (
	Blue    = Color{0, 0, 1, 1}
	Red     = Color{1, 0, 0, 1}
	White   = Color{1, 1, 1, 1}
	Magenta = Color{1, 0, 1, 1}
	// Yellow matches the slightly warm yellow used by height gradients.
	Yellow = Color{1, 0.92, 0.016, 1}

	// ColorUnresolved is the sentinel for a hit whose surface colour could
	// not be looked up. It renders as magenta but carries alpha 0 so it
	// can never be confused with a real opaque magenta surface.
	ColorUnresolved = Color{1, 0, 1, 0}
)

// IsUnresolved reports whether c is the unresolved sentinel.
func (c Color) IsUnresolved() bool {
	return c == ColorUnresolved
}

// Lerp interpolates from c to o by t, clamped to [0, 1]. The end points
// are returned exactly.
func (c Color) Lerp(o Color, t float64) Color {
	switch {
	case !(t > 0):
		return c
	case t >= 1:
		return o
	}
	f := float32(t)
	return Color{
		R: c.R + (o.R-c.R)*f,
		G: c.G + (o.G-c.G)*f,
		B: c.B + (o.B-c.B)*f,
		A: c.A + (o.A-c.A)*f,
	}
}

// RGBA returns the colour as a packed [4]float32.
func (c Color) RGBA() [4]float32 {
	return [4]float32{c.R, c.G, c.B, c.A}
}

// ParseHexColor parses "#rrggbb" or "rrggbb" into an opaque Color.
func ParseHexColor(s string) (Color, error) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return Color{}, fmt.Errorf("%w: colour %q must be 6 hex digits", ErrConfiguration, s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return Color{}, fmt.Errorf("%w: colour %q: %v", ErrConfiguration, s, err)
	}
	return Color{R: float32(r) / 255, G: float32(g) / 255, B: float32(b) / 255, A: 1}, nil
}

// Clamp01 clamps v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	return math.Min(v, 1)
}

// LayerMask selects which scene layers a query may hit. Bit i set means
// layer i is hittable.
type LayerMask uint32

// AllLayers hits every layer.
const AllLayers LayerMask = math.MaxUint32

// MaxLayer is the highest layer index a LayerMask can address.
const MaxLayer uint = 31

// Layer returns the mask containing only layer i, or an empty mask when i
// exceeds MaxLayer.
func Layer(i uint) LayerMask {
	if i > MaxLayer {
		return 0
	}
	return LayerMask(1) << i
}

// Has reports whether layer i is included in m.
func (m LayerMask) Has(i uint) bool {
	return m&Layer(i) != 0
}

// HitRecord is one resolved scan point, ready for buffer ingest.
type HitRecord struct {
	Position r3.Vec
	Normal   r3.Vec // zero when unavailable
	Color    Color
	Valid    bool
}
