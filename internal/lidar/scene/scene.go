// Package scene is a small ray-cast world used as the reference
// intersection provider. Objects are scanned linearly; scenes here are a
// few dozen shapes at most.
package scene

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/intersect"
)

// NoSurface is the surface ref of untextured objects.
const NoSurface intersect.SurfaceRef = 0

// Object places a shape on a layer with a surface.
type Object struct {
	Name    string
	Shape   Shape
	Layer   uint
	Surface intersect.SurfaceRef
}

type surface struct {
	name    string
	texture *Texture
}

// Scene implements intersect.Provider and intersect.SurfaceColorLookup.
// It is safe for concurrent casts; edits take a write lock.
type Scene struct {
	mu       sync.RWMutex
	objects  []Object
	surfaces []surface
}

var (
	_ intersect.Provider           = (*Scene)(nil)
	_ intersect.SurfaceColorLookup = (*Scene)(nil)
)

// New returns an empty scene.
func New() *Scene { return &Scene{} }

// AddSurface registers a texture and returns its ref. A nil texture makes
// a surface whose colour is always unresolved.
func (s *Scene) AddSurface(name string, tex *Texture) intersect.SurfaceRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfaces = append(s.surfaces, surface{name: name, texture: tex})
	return intersect.SurfaceRef(len(s.surfaces))
}

// Add appends an object. Layers above lidar.MaxLayer are rejected since no
// mask could select them.
func (s *Scene) Add(obj Object) error {
	if obj.Layer > lidar.MaxLayer {
		return fmt.Errorf("%w: object %q layer %d exceeds %d", lidar.ErrConfiguration, obj.Name, obj.Layer, lidar.MaxLayer)
	}
	if obj.Shape == nil {
		return fmt.Errorf("%w: object %q has no shape", lidar.ErrConfiguration, obj.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = append(s.objects, obj)
	return nil
}

// Len returns the object count.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Objects returns a copy of the object list.
func (s *Scene) Objects() []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Object(nil), s.objects...)
}

// Cast returns the nearest hit along dir within maxDistance on a layer in
// mask. dir need not be unit length; Distance is in world units. A
// non-positive maxDistance is unlimited.
func (s *Scene) Cast(ctx context.Context, origin, dir r3.Vec, maxDistance float64, mask lidar.LayerMask) (intersect.Hit, bool, error) {
	if err := ctx.Err(); err != nil {
		return intersect.Hit{}, false, err
	}
	l := r3.Norm(dir)
	if l == 0 {
		return intersect.Hit{}, false, nil
	}
	d := r3.Scale(1/l, dir)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Intersection
	var bestObj *Object
	tMax := maxDistance
	if !(tMax > 0) {
		tMax = math.Inf(1)
	}
	for i := range s.objects {
		obj := &s.objects[i]
		if obj.Shape == nil || !mask.Has(obj.Layer) {
			continue
		}
		if hit, ok := obj.Shape.Intersect(origin, d, minT, tMax); ok {
			best, bestObj, tMax = hit, obj, hit.T
		}
	}
	if bestObj == nil {
		return intersect.Hit{}, false, nil
	}
	return intersect.Hit{
		Point:    r3.Add(origin, r3.Scale(best.T, d)),
		Normal:   best.Normal,
		Distance: best.T,
		Surface:  bestObj.Surface,
		UV:       best.UV,
	}, true, nil
}

// ColorAt samples the surface texture. Unknown and untextured surfaces
// report false.
func (s *Scene) ColorAt(ref intersect.SurfaceRef, uv r2.Vec) (lidar.Color, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ref == NoSurface || int(ref) > len(s.surfaces) {
		return lidar.Color{}, false
	}
	tex := s.surfaces[ref-1].texture
	if tex == nil {
		return lidar.Color{}, false
	}
	return tex.Sample(uv), true
}

// SurfaceName returns the name a surface was registered with.
func (s *Scene) SurfaceName(ref intersect.SurfaceRef) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ref == NoSurface || int(ref) > len(s.surfaces) {
		return ""
	}
	return s.surfaces[ref-1].name
}
