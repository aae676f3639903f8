package scene

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidarscan/internal/lidar"
	"github.com/banshee-data/lidarscan/internal/lidar/intersect"
)

func TestShapes_Intersect(t *testing.T) {
	t.Parallel()
	down := r3.Vec{Y: -1}
	fwd := r3.Vec{Z: 1}

	tests := []struct {
		name       string
		shape      Shape
		origin     r3.Vec
		dir        r3.Vec
		wantHit    bool
		wantT      float64
		wantNormal r3.Vec
	}{
		{"ground from above", NewPlane(r3.Vec{}, r3.Vec{Y: 1}, 1), r3.Vec{Y: 2}, down, true, 2, r3.Vec{Y: 1}},
		{"ground parallel", NewPlane(r3.Vec{}, r3.Vec{Y: 1}, 1), r3.Vec{Y: 2}, fwd, false, 0, r3.Vec{}},
		{"ground behind", NewPlane(r3.Vec{}, r3.Vec{Y: 1}, 1), r3.Vec{Y: 2}, r3.Vec{Y: 1}, false, 0, r3.Vec{}},
		{"sphere front", &Sphere{Center: r3.Vec{Z: 5}, Radius: 1}, r3.Vec{}, fwd, true, 4, r3.Vec{Z: -1}},
		{"sphere from inside", &Sphere{Center: r3.Vec{}, Radius: 2}, r3.Vec{}, fwd, true, 2, r3.Vec{Z: 1}},
		{"sphere miss", &Sphere{Center: r3.Vec{X: 3, Z: 5}, Radius: 1}, r3.Vec{}, fwd, false, 0, r3.Vec{}},
		{"box front face", NewBox(r3.Vec{Z: 5}, r3.Vec{X: 1, Y: 1, Z: 1}), r3.Vec{}, fwd, true, 4, r3.Vec{Z: -1}},
		{"box top face", NewBox(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}), r3.Vec{Y: 5}, down, true, 4, r3.Vec{Y: 1}},
		{"box from inside", NewBox(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}), r3.Vec{}, fwd, true, 1, r3.Vec{Z: 1}},
		{"box miss", NewBox(r3.Vec{X: 5}, r3.Vec{X: 1, Y: 1, Z: 1}), r3.Vec{}, fwd, false, 0, r3.Vec{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit, ok := tt.shape.Intersect(tt.origin, tt.dir, minT, 100)
			require.Equal(t, tt.wantHit, ok)
			if !ok {
				return
			}
			assert.InDelta(t, tt.wantT, hit.T, 1e-9)
			assert.InDelta(t, tt.wantNormal.X, hit.Normal.X, 1e-9)
			assert.InDelta(t, tt.wantNormal.Y, hit.Normal.Y, 1e-9)
			assert.InDelta(t, tt.wantNormal.Z, hit.Normal.Z, 1e-9)
		})
	}
}

func TestShapes_RespectTMax(t *testing.T) {
	t.Parallel()
	s := &Sphere{Center: r3.Vec{Z: 50}, Radius: 1}
	_, ok := s.Intersect(r3.Vec{}, r3.Vec{Z: 1}, minT, 10)
	assert.False(t, ok)
}

func TestBox_UVSpansFace(t *testing.T) {
	t.Parallel()
	b := NewBox(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1})
	hit, ok := b.Intersect(r3.Vec{X: 0.5, Y: -0.5, Z: -5}, r3.Vec{Z: 1}, minT, 100)
	require.True(t, ok)
	// Z face: u follows X, v follows Y.
	assert.InDelta(t, 0.75, hit.UV.X, 1e-9)
	assert.InDelta(t, 0.25, hit.UV.Y, 1e-9)
}

func TestScene_NearestHitAndMask(t *testing.T) {
	t.Parallel()
	s := New()
	near := s.AddSurface("near", Solid(lidar.Red))
	far := s.AddSurface("far", Solid(lidar.Blue))
	require.NoError(t, s.Add(Object{Name: "near", Shape: &Sphere{Center: r3.Vec{Z: 5}, Radius: 1}, Layer: 1, Surface: near}))
	require.NoError(t, s.Add(Object{Name: "far", Shape: NewPlane(r3.Vec{Z: 10}, r3.Vec{Z: -1}, 1), Layer: 0, Surface: far}))
	ctx := context.Background()

	hit, ok, err := s.Cast(ctx, r3.Vec{}, r3.Vec{Z: 3}, 100, lidar.AllLayers)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 4, hit.Distance, 1e-9, "distance is in world units for a non-unit direction")
	assert.Equal(t, near, hit.Surface)
	assert.InDelta(t, 4, hit.Point.Z, 1e-9)

	hit, ok, err = s.Cast(ctx, r3.Vec{}, r3.Vec{Z: 1}, 100, lidar.Layer(0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, far, hit.Surface, "the sphere's layer is masked out")

	_, ok, err = s.Cast(ctx, r3.Vec{}, r3.Vec{Z: 1}, 3, lidar.AllLayers)
	require.NoError(t, err)
	assert.False(t, ok, "beyond max distance")

	_, ok, err = s.Cast(ctx, r3.Vec{}, r3.Vec{}, 100, lidar.AllLayers)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Cast(ctx, r3.Vec{}, r3.Vec{Z: 1}, 0, lidar.AllLayers)
	require.NoError(t, err)
	assert.True(t, ok, "zero range is unlimited")
}

func TestScene_CastHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Demo().Cast(ctx, DemoOrigin, r3.Vec{Z: 1}, 100, lidar.AllLayers)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScene_ColorAt(t *testing.T) {
	t.Parallel()
	s := New()
	red := s.AddSurface("red", Solid(lidar.Red))
	bare := s.AddSurface("bare", nil)

	c, ok := s.ColorAt(red, r2.Vec{X: 0.3, Y: 0.7})
	require.True(t, ok)
	assert.Equal(t, lidar.Red, c)

	_, ok = s.ColorAt(bare, r2.Vec{})
	assert.False(t, ok)
	_, ok = s.ColorAt(NoSurface, r2.Vec{})
	assert.False(t, ok)
	_, ok = s.ColorAt(99, r2.Vec{})
	assert.False(t, ok)
	assert.Equal(t, "bare", s.SurfaceName(bare))
}

func TestScene_SurfaceModeThroughResolver(t *testing.T) {
	t.Parallel()
	s := New()
	bare := s.AddSurface("bare", nil)
	require.NoError(t, s.Add(Object{Shape: NewPlane(r3.Vec{}, r3.Vec{Y: 1}, 1), Surface: bare}))

	hit, ok, err := s.Cast(context.Background(), r3.Vec{Y: 1}, r3.Vec{Y: -1}, 10, lidar.AllLayers)
	require.NoError(t, err)
	require.True(t, ok)
	r := intersect.NewAttributeResolver(intersect.ModeSurface, s)
	assert.True(t, r.Color(hit).IsUnresolved())
}

func TestTexture_Bilinear(t *testing.T) {
	t.Parallel()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	tex, err := NewTexture(img)
	require.NoError(t, err)

	// Texel centres are at u = 0.25 and u = 0.75.
	c := tex.Sample(r2.Vec{X: 0.25, Y: 0.5})
	assert.InDelta(t, 0, c.R, 1e-6)
	c = tex.Sample(r2.Vec{X: 0.75, Y: 0.5})
	assert.InDelta(t, 1, c.R, 1e-6)
	c = tex.Sample(r2.Vec{X: 0.5, Y: 0.5})
	assert.InDelta(t, 0.5, c.R, 1e-6)

	// u wraps: halfway between the last and first texel.
	c = tex.Sample(r2.Vec{X: 1.0, Y: 0.5})
	assert.InDelta(t, 0.5, c.R, 1e-6)
	assert.InDelta(t, tex.Sample(r2.Vec{X: 0.6, Y: 0.5}).R, tex.Sample(r2.Vec{X: -0.4, Y: 0.5}).R, 1e-6)
}

func TestTexture_Checker(t *testing.T) {
	t.Parallel()
	tex := Checker(4, 2, lidar.Red, lidar.Blue)
	w, h := tex.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 4, h)
	// Top-left cell is red; v=1 is the top row.
	assert.Equal(t, lidar.Red, tex.Sample(r2.Vec{X: 0.25, Y: 0.75}))
	assert.Equal(t, lidar.Blue, tex.Sample(r2.Vec{X: 0.75, Y: 0.75}))
	assert.Equal(t, lidar.Blue, tex.Sample(r2.Vec{X: 0.25, Y: 0.25}))
}

func TestLoadTexture(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "tex.png")
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{G: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	tex, err := LoadTexture(path)
	require.NoError(t, err)
	assert.Equal(t, lidar.Color{G: 1, A: 1}, tex.Sample(r2.Vec{X: 0.9, Y: 0.1}))

	_, err = LoadTexture(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)

	_, err = NewTexture(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, lidar.ErrConfiguration)
}

func TestDemo(t *testing.T) {
	t.Parallel()
	s := Demo()
	assert.Equal(t, 9, s.Len())
	ctx := context.Background()

	hit, ok, err := s.Cast(ctx, DemoOrigin, r3.Vec{Y: -1}, 100, lidar.AllLayers)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.5, hit.Distance, 1e-9)
	assert.Equal(t, "ground", s.SurfaceName(hit.Surface))

	// Looking straight back there is nothing but the south wall.
	hit, ok, err = s.Cast(ctx, DemoOrigin, r3.Vec{Z: -1}, 100, lidar.AllLayers)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, DemoHalfWidth, hit.Distance, 1e-9)
	assert.Equal(t, "walls", s.SurfaceName(hit.Surface))

	// Walls only: every horizontal ray is caught.
	for _, dir := range []r3.Vec{{X: 1}, {X: -1}, {Z: 1}, {X: 1, Z: 1}} {
		_, ok, err := s.Cast(ctx, DemoOrigin, dir, 100, lidar.Layer(LayerWalls))
		require.NoError(t, err)
		assert.True(t, ok, "dir %v", dir)
	}
}

func TestScene_AddRejectsUnaddressableLayer(t *testing.T) {
	t.Parallel()
	s := New()
	err := s.Add(Object{Name: "high", Shape: &Sphere{Radius: 1}, Layer: lidar.MaxLayer + 1})
	require.ErrorIs(t, err, lidar.ErrConfiguration)
	require.ErrorIs(t, s.Add(Object{Name: "empty"}), lidar.ErrConfiguration)
	assert.Zero(t, s.Len())

	require.NoError(t, s.Add(Object{Name: "top", Shape: &Sphere{Center: r3.Vec{Z: 5}, Radius: 1}, Layer: lidar.MaxLayer}))
	_, ok, err := s.Cast(context.Background(), r3.Vec{}, r3.Vec{Z: 1}, 100, lidar.Layer(lidar.MaxLayer))
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.Cast(context.Background(), r3.Vec{}, r3.Vec{Z: 1}, 100, lidar.Layer(0))
	require.NoError(t, err)
	assert.False(t, ok)
}
