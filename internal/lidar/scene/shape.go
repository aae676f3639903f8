package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// minT keeps a ray from hitting the surface it starts on.
const minT = 1e-6

// Intersection is where a ray meets a shape. T is measured along a unit
// direction, so it is also the distance.
type Intersection struct {
	T      float64
	Normal r3.Vec
	UV     r2.Vec
}

// Shape is anything a ray can hit. dir must be unit length.
type Shape interface {
	Intersect(origin, dir r3.Vec, tMin, tMax float64) (Intersection, bool)
}

// Plane is an infinite plane. UVs repeat every TileSize world units
// (1 when unset).
type Plane struct {
	Point    r3.Vec
	Normal   r3.Vec
	TileSize float64

	u, v r3.Vec
}

// NewPlane returns a plane through point facing normal.
func NewPlane(point, normal r3.Vec, tileSize float64) *Plane {
	n := r3.Unit(normal)
	ref := r3.Vec{Y: 1}
	if math.Abs(n.Y) > 0.9 {
		ref = r3.Vec{Z: 1}
	}
	u := r3.Unit(r3.Cross(ref, n))
	if !(tileSize > 0) {
		tileSize = 1
	}
	return &Plane{Point: point, Normal: n, TileSize: tileSize, u: u, v: r3.Cross(n, u)}
}

func (p *Plane) Intersect(origin, dir r3.Vec, tMin, tMax float64) (Intersection, bool) {
	denom := r3.Dot(dir, p.Normal)
	if math.Abs(denom) < 1e-9 {
		return Intersection{}, false
	}
	t := r3.Dot(r3.Sub(p.Point, origin), p.Normal) / denom
	if t < tMin || t > tMax {
		return Intersection{}, false
	}
	rel := r3.Sub(r3.Add(origin, r3.Scale(t, dir)), p.Point)
	return Intersection{
		T:      t,
		Normal: p.Normal,
		UV:     r2.Vec{X: r3.Dot(rel, p.u) / p.TileSize, Y: r3.Dot(rel, p.v) / p.TileSize},
	}, true
}

// Sphere is a solid ball. UV is longitude and latitude in [0, 1].
type Sphere struct {
	Center r3.Vec
	Radius float64
}

func (s *Sphere) Intersect(origin, dir r3.Vec, tMin, tMax float64) (Intersection, bool) {
	oc := r3.Sub(origin, s.Center)
	halfB := r3.Dot(oc, dir)
	c := r3.Dot(oc, oc) - s.Radius*s.Radius
	disc := halfB*halfB - c
	if disc < 0 {
		return Intersection{}, false
	}
	sq := math.Sqrt(disc)
	t := -halfB - sq
	if t < tMin || t > tMax {
		t = -halfB + sq
		if t < tMin || t > tMax {
			return Intersection{}, false
		}
	}
	n := r3.Scale(1/s.Radius, r3.Sub(r3.Add(origin, r3.Scale(t, dir)), s.Center))
	return Intersection{T: t, Normal: n, UV: sphereUV(n)}, true
}

func sphereUV(n r3.Vec) r2.Vec {
	phi := math.Atan2(-n.Z, n.X) + math.Pi
	theta := math.Acos(math.Max(-1, math.Min(1, -n.Y)))
	return r2.Vec{X: phi / (2 * math.Pi), Y: theta / math.Pi}
}

// Box is an axis-aligned box. UV spans [0, 1] across each face.
type Box struct {
	Min, Max r3.Vec
}

// NewBox returns the box centred on center with the given half extents.
func NewBox(center, half r3.Vec) *Box {
	return &Box{Min: r3.Sub(center, half), Max: r3.Add(center, half)}
}

func (b *Box) Intersect(origin, dir r3.Vec, tMin, tMax float64) (Intersection, bool) {
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float64{b.Max.X, b.Max.Y, b.Max.Z}

	near, far := math.Inf(-1), math.Inf(1)
	nearAxis, farAxis := -1, -1
	var nearSign, farSign float64
	for a := 0; a < 3; a++ {
		if d[a] == 0 {
			if o[a] < lo[a] || o[a] > hi[a] {
				return Intersection{}, false
			}
			continue
		}
		inv := 1 / d[a]
		t0 := (lo[a] - o[a]) * inv
		t1 := (hi[a] - o[a]) * inv
		s0, s1 := -1.0, 1.0
		if t0 > t1 {
			t0, t1 = t1, t0
			s0, s1 = s1, s0
		}
		if t0 > near {
			near, nearAxis, nearSign = t0, a, s0
		}
		if t1 < far {
			far, farAxis, farSign = t1, a, s1
		}
		if near > far {
			return Intersection{}, false
		}
	}

	t, axis, sign := near, nearAxis, nearSign
	if t < tMin {
		t, axis, sign = far, farAxis, farSign
	}
	if axis < 0 || t < tMin || t > tMax {
		return Intersection{}, false
	}

	p := r3.Add(origin, r3.Scale(t, dir))
	pa := [3]float64{p.X, p.Y, p.Z}
	var n [3]float64
	n[axis] = sign
	ua, va := (axis+1)%3, (axis+2)%3
	return Intersection{
		T:      t,
		Normal: r3.Vec{X: n[0], Y: n[1], Z: n[2]},
		UV: r2.Vec{
			X: span(pa[ua], lo[ua], hi[ua]),
			Y: span(pa[va], lo[va], hi[va]),
		},
	}, true
}

func span(x, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return (x - lo) / (hi - lo)
}
