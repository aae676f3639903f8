// Package intersect turns sample directions into resolved hit records by
// querying an external intersection provider and colouring each hit.
package intersect

import (
	"context"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// SurfaceRef identifies the surface a ray hit. Zero means the provider
// has no surface to report.
type SurfaceRef uint32

// Hit is a single successful intersection.
type Hit struct {
	Point    r3.Vec
	Normal   r3.Vec
	Distance float64
	Surface  SurfaceRef
	UV       r2.Vec
}

// Provider answers ray queries against a scene. Implementations must be
// safe for concurrent use and must bound their own query time.
type Provider interface {
	Cast(ctx context.Context, origin, dir r3.Vec, maxDistance float64, mask lidar.LayerMask) (Hit, bool, error)
}

// Query is one ray of a batched cast.
type Query struct {
	Origin      r3.Vec
	Direction   r3.Vec
	MaxDistance float64
	Mask        lidar.LayerMask
}

// Result is the outcome of one Query. OK is false on a miss.
type Result struct {
	Hit Hit
	OK  bool
}

// BatchProvider is implemented by providers that prefer a whole batch in
// one call. out has the same length as queries.
type BatchProvider interface {
	Provider
	CastBatch(ctx context.Context, queries []Query, out []Result) error
}

// SurfaceColorLookup samples a surface's colour at a texture coordinate.
// ok is false when the surface has no texture.
type SurfaceColorLookup interface {
	ColorAt(ref SurfaceRef, uv r2.Vec) (lidar.Color, bool)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, origin, dir r3.Vec, maxDistance float64, mask lidar.LayerMask) (Hit, bool, error)

// Cast calls f.
func (f ProviderFunc) Cast(ctx context.Context, origin, dir r3.Vec, maxDistance float64, mask lidar.LayerMask) (Hit, bool, error) {
	return f(ctx, origin, dir, maxDistance, mask)
}
