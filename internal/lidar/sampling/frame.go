package sampling

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// WorldUp is the vertical axis the sweep pattern spins around.
var WorldUp = r3.Vec{Y: 1}

// Frame is the scanner pose for one tick: where rays start and the basis
// the pattern is laid out in. Forward, Up and Right need not be unit length.
type Frame struct {
	Origin  r3.Vec
	Forward r3.Vec
	Up      r3.Vec
	Right   r3.Vec
}

// LookFrame builds a frame at origin facing forward, with up and right
// derived from world up. Facing straight up or down falls back to +Z as
// the reference so the basis is still defined.
func LookFrame(origin, forward r3.Vec) Frame {
	f := r3.Unit(forward)
	ref := WorldUp
	if math.Abs(r3.Dot(f, ref)) > 0.999 {
		ref = r3.Vec{Z: 1}
	}
	right := r3.Unit(r3.Cross(ref, f))
	up := r3.Cross(f, right)
	return Frame{Origin: origin, Forward: f, Up: up, Right: right}
}

// RotateYaw returns the frame rotated about world up by deg degrees.
func (f Frame) RotateYaw(deg float64) Frame {
	a := deg * math.Pi / 180
	return Frame{
		Origin:  f.Origin,
		Forward: r3.Rotate(f.Forward, a, WorldUp),
		Up:      r3.Rotate(f.Up, a, WorldUp),
		Right:   r3.Rotate(f.Right, a, WorldUp),
	}
}

// perpendicularBasis returns an orthonormal pair spanning the plane
// perpendicular to dir.
func perpendicularBasis(dir r3.Vec) (p, q r3.Vec, err error) {
	n := r3.Norm(dir)
	if !(n > 0) || math.IsInf(n, 0) {
		return r3.Vec{}, r3.Vec{}, lidar.ErrInvalidDirection
	}
	d := r3.Scale(1/n, dir)
	// Cross with the axis least aligned with d.
	axis := r3.Vec{X: 1}
	ax, ay, az := math.Abs(d.X), math.Abs(d.Y), math.Abs(d.Z)
	switch {
	case ay <= ax && ay <= az:
		axis = r3.Vec{Y: 1}
	case az <= ax && az <= ay:
		axis = r3.Vec{Z: 1}
	}
	p = r3.Unit(r3.Cross(d, axis))
	q = r3.Cross(d, p)
	return p, q, nil
}

func nonZero(v r3.Vec) bool {
	n := r3.Norm(v)
	return n > 0 && !math.IsInf(n, 0)
}
