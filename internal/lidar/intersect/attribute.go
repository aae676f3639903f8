package intersect

import (
	"fmt"
	"strings"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// ColorMode selects how a hit is coloured.
type ColorMode int

const (
	ModeOverride ColorMode = iota
	ModeHeight
	ModeSurface
)

// DefaultHeightRange is the world height mapped to the top of the
// blue-yellow-red gradient.
const DefaultHeightRange = 5.0

func (m ColorMode) String() string {
	switch m {
	case ModeOverride:
		return "override"
	case ModeHeight:
		return "height"
	case ModeSurface:
		return "surface"
	}
	return fmt.Sprintf("ColorMode(%d)", int(m))
}

// ParseColorMode parses "override", "height" or "surface".
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "override", "constant":
		return ModeOverride, nil
	case "height", "heightbased":
		return ModeHeight, nil
	case "surface", "uv", "texture":
		return ModeSurface, nil
	}
	return 0, fmt.Errorf("%w: unknown colour mode %q", lidar.ErrConfiguration, s)
}

// AttributeResolver colours hits. The zero value colours everything with
// the zero Color in override mode; use NewAttributeResolver for defaults.
type AttributeResolver struct {
	Mode        ColorMode
	Override    lidar.Color
	HeightRange float64
	Lookup      SurfaceColorLookup
}

// NewAttributeResolver returns a resolver for mode with a white override
// and the default height range.
func NewAttributeResolver(mode ColorMode, lookup SurfaceColorLookup) *AttributeResolver {
	return &AttributeResolver{
		Mode:        mode,
		Override:    lidar.White,
		HeightRange: DefaultHeightRange,
		Lookup:      lookup,
	}
}

// Color returns the colour for h. It has no side effects. A surface with
// no texture yields lidar.ColorUnresolved rather than an error.
func (r *AttributeResolver) Color(h Hit) lidar.Color {
	switch r.Mode {
	case ModeHeight:
		return HeightColor(h.Point.Y, r.HeightRange)
	case ModeSurface:
		if r.Lookup == nil {
			return lidar.ColorUnresolved
		}
		c, ok := r.Lookup.ColorAt(h.Surface, h.UV)
		if !ok {
			return lidar.ColorUnresolved
		}
		c.A = 1
		return c
	default:
		return r.Override
	}
}

// HeightColor maps y onto blue→yellow over [0, yRange/2] and yellow→red
// over [yRange/2, yRange], clamping outside. A non-positive range uses
// DefaultHeightRange.
func HeightColor(y, yRange float64) lidar.Color {
	if !(yRange > 0) {
		yRange = DefaultHeightRange
	}
	n := lidar.Clamp01(y / yRange)
	if n <= 0.5 {
		return lidar.Blue.Lerp(lidar.Yellow, n*2)
	}
	return lidar.Yellow.Lerp(lidar.Red, (n-0.5)*2)
}
