// Package sampling produces the per-tick sample offsets for each scan
// pattern. Random patterns are fully determined by the request seed.
package sampling

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// Request is one generator invocation.
type Request struct {
	Config    ScanConfig
	Frame     Frame
	DeltaTime float64 // seconds since the previous tick
	Seed      uint64

	// Sweep carries the ring angle for PatternContinuousSweep. It is
	// advanced in place and must be non-nil for that pattern.
	Sweep *SweepState
}

// Generate returns the sample offsets for one tick. The slice is empty
// when the rate or delta is non-positive.
func Generate(req Request) ([]r3.Vec, error) {
	cfg := req.Config
	n := cfg.SampleCount(req.DeltaTime)
	if n == 0 {
		return nil, nil
	}

	src := rand.NewPCG(req.Seed, req.Seed^0x9e3779b97f4a7c15)
	switch cfg.Pattern {
	case PatternDisc:
		p, q, err := perpendicularBasis(req.Frame.Forward)
		if err != nil {
			return nil, err
		}
		return discSamples(n, p, q, cfg.ConeAngleDeg, src), nil
	case PatternSquare:
		if !nonZero(req.Frame.Up) || !nonZero(req.Frame.Right) {
			return nil, lidar.ErrInvalidDirection
		}
		return squareSamples(n, req.Frame.Up, req.Frame.Right, cfg.SquareHalfExtent, src), nil
	case PatternLine:
		if !nonZero(req.Frame.Right) {
			return nil, lidar.ErrInvalidDirection
		}
		return lineSamples(n, req.Frame.Right, src), nil
	case PatternRandomSphere:
		return sphereSamples(n, cfg.SphereLength, src), nil
	case PatternContinuousSweep:
		if req.Sweep == nil {
			return nil, fmt.Errorf("%w: sweep pattern requires sweep state", lidar.ErrConfiguration)
		}
		out := SweepRing(n, req.Sweep.AngleDeg, cfg.SphereLength)
		req.Sweep.Advance(cfg.SweepIncrementDeg)
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown pattern %d", lidar.ErrConfiguration, int(cfg.Pattern))
}

// discSamples draws area-uniform points on a disc of radius tan(cone)
// in the plane spanned by p and q. The sqrt on the radial draw keeps the
// density uniform over area rather than bunching at the centre.
func discSamples(n int, p, q r3.Vec, coneDeg float64, src rand.Source) []r3.Vec {
	rmax := math.Tan(coneDeg * math.Pi / 180)
	theta := distuv.Uniform{Min: 0, Max: 2 * math.Pi, Src: src}
	unit := distuv.Uniform{Min: 0, Max: 1, Src: src}

	out := make([]r3.Vec, n)
	for i := range out {
		th := theta.Rand()
		r := rmax * math.Sqrt(unit.Rand())
		out[i] = r3.Scale(r, r3.Add(r3.Scale(math.Cos(th), p), r3.Scale(math.Sin(th), q)))
	}
	return out
}

func squareSamples(n int, p, q r3.Vec, size float64, src rand.Source) []r3.Vec {
	out := make([]r3.Vec, n)
	if size == 0 {
		return out
	}
	u := distuv.Uniform{Min: -size, Max: size, Src: src}
	for i := range out {
		x, y := u.Rand(), u.Rand()
		out[i] = r3.Add(r3.Scale(x, p), r3.Scale(y, q))
	}
	return out
}

func lineSamples(n int, right r3.Vec, src rand.Source) []r3.Vec {
	u := distuv.Uniform{Min: -1, Max: 1, Src: src}
	out := make([]r3.Vec, n)
	for i := range out {
		out[i] = r3.Scale(u.Rand(), right)
	}
	return out
}

// sphereSamples scales cube coordinates straight to length without
// normalising, so the directions are biased toward the cube corners.
func sphereSamples(n int, length float64, src rand.Source) []r3.Vec {
	u := distuv.Uniform{Min: -1, Max: 1, Src: src}
	out := make([]r3.Vec, n)
	for i := range out {
		out[i] = r3.Scale(length, r3.Vec{X: u.Rand(), Y: u.Rand(), Z: u.Rand()})
	}
	return out
}
