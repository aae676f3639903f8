package sampling

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// SweepState is the ring angle of a continuous sweep. Each scanner owns
// its own copy; two scanners never share progress.
type SweepState struct {
	AngleDeg float64 // always in [0, 180)
	Wraps    int     // completed passes through 180°
}

// Advance moves the ring angle by inc degrees, wrapping mod 180.
func (s *SweepState) Advance(inc float64) {
	a := s.AngleDeg + inc
	if a >= 180 || a < 0 {
		turns := math.Floor(a / 180)
		s.Wraps += int(math.Abs(turns))
		a -= turns * 180
	}
	s.AngleDeg = a
}

// SweepRing returns n directions evenly spaced by 360/n degrees around
// world up, all tilted from up by angleDeg, scaled by length. The first
// point sits at 360/n degrees so the last closes the ring at 360.
func SweepRing(n int, angleDeg, length float64) []r3.Vec {
	if n <= 0 {
		return nil
	}
	tilt := math.Mod(angleDeg, 180) * math.Pi / 180
	dir := r3.Rotate(WorldUp, tilt, r3.Vec{Z: 1})

	step := 2 * math.Pi / float64(n)
	out := make([]r3.Vec, n)
	for i := range out {
		out[i] = r3.Scale(length, r3.Rotate(dir, step*float64(i+1), WorldUp))
	}
	return out
}

// SweepSpread is the divisor that maps the unit row/column trig terms onto
// the visible field. Columns are further stretched by the aspect ratio.
const SweepSpread = 1.75

// SweepRow returns the n offsets of row i (0 <= i < n) of a wide sweep.
// Row elevation runs cos(i/n·π) along up; columns run sin(j/n·π + π/2)
// along forward × up, so each row spans the field edge to edge.
func SweepRow(f Frame, n, i int, aspect float64) []r3.Vec {
	if n <= 0 || i < 0 || i >= n {
		return nil
	}
	if !(aspect > 0) {
		aspect = 1
	}
	up := r3.Unit(f.Up)
	q := r3.Cross(r3.Unit(f.Forward), up)

	meta := float64(i) / float64(n) * math.Pi
	vert := r3.Scale(math.Cos(meta)/SweepSpread, up)
	out := make([]r3.Vec, n)
	for j := range out {
		theta := float64(j)/float64(n)*math.Pi + math.Pi/2
		out[j] = r3.Add(vert, r3.Scale(math.Sin(theta)*aspect/SweepSpread, q))
	}
	return out
}
