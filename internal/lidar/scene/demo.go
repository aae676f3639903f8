package scene

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// Demo scene layers.
const (
	LayerGround uint = iota
	LayerWalls
	LayerProps
)

// DemoHalfWidth is the distance from the courtyard centre to each wall.
const DemoHalfWidth = 15.0

// Demo builds a walled courtyard: a checkered ground, four striped walls
// and a handful of boxes and spheres. The scanner origin is expected near
// (0, 1.5, 0) looking down +Z.
func Demo() *Scene {
	s := New()

	grey := lidar.Color{R: 0.35, G: 0.35, B: 0.38, A: 1}
	light := lidar.Color{R: 0.8, G: 0.8, B: 0.78, A: 1}
	brick := lidar.Color{R: 0.62, G: 0.28, B: 0.2, A: 1}
	mortar := lidar.Color{R: 0.85, G: 0.82, B: 0.75, A: 1}

	ground := s.AddSurface("ground", Checker(64, 8, grey, light))
	walls := s.AddSurface("walls", Stripes(64, 16, brick, mortar))
	crate := s.AddSurface("crate", Checker(16, 2, lidar.Color{R: 0.55, G: 0.4, B: 0.2, A: 1}, lidar.Color{R: 0.4, G: 0.28, B: 0.12, A: 1}))
	ball := s.AddSurface("ball", Stripes(32, 8, lidar.Blue, lidar.White))
	unpainted := s.AddSurface("unpainted", nil)
	add := func(obj Object) {
		if err := s.Add(obj); err != nil {
			panic(err)
		}
	}

	add(Object{Name: "ground", Shape: NewPlane(r3.Vec{}, r3.Vec{Y: 1}, 4), Layer: LayerGround, Surface: ground})

	w := DemoHalfWidth
	for _, wall := range []struct {
		name          string
		point, normal r3.Vec
	}{
		{"north wall", r3.Vec{Z: w}, r3.Vec{Z: -1}},
		{"south wall", r3.Vec{Z: -w}, r3.Vec{Z: 1}},
		{"east wall", r3.Vec{X: w}, r3.Vec{X: -1}},
		{"west wall", r3.Vec{X: -w}, r3.Vec{X: 1}},
	} {
		add(Object{Name: wall.name, Shape: NewPlane(wall.point, wall.normal, 3), Layer: LayerWalls, Surface: walls})
	}

	add(Object{Name: "crate", Shape: NewBox(r3.Vec{X: -3, Y: 1, Z: 8}, r3.Vec{X: 1, Y: 1, Z: 1}), Layer: LayerProps, Surface: crate})
	add(Object{Name: "pillar", Shape: NewBox(r3.Vec{X: 5, Y: 3, Z: 10}, r3.Vec{X: 0.5, Y: 3, Z: 0.5}), Layer: LayerProps, Surface: crate})
	add(Object{Name: "ball", Shape: &Sphere{Center: r3.Vec{X: 2, Y: 1.5, Z: 6}, Radius: 1.5}, Layer: LayerProps, Surface: ball})
	add(Object{Name: "dome", Shape: &Sphere{Center: r3.Vec{X: -8, Z: -6}, Radius: 3}, Layer: LayerProps, Surface: unpainted})
	return s
}

// DemoOrigin is the suggested scanner position in the demo scene.
var DemoOrigin = r3.Vec{Y: 1.5}
