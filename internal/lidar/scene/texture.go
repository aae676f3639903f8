package scene

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder for LoadTexture
	_ "image/png"  // register decoder for LoadTexture
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/lidarscan/internal/lidar"
)

// Texture is an image sampled with bilinear filtering. UVs wrap, and
// v = 0 is the bottom row of the image.
type Texture struct {
	img  image.Image
	minX int
	minY int
	w, h int
}

// NewTexture wraps img. An empty image is rejected.
func NewTexture(img image.Image) (*Texture, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil texture image", lidar.ErrConfiguration)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty texture image %v", lidar.ErrConfiguration, b)
	}
	return &Texture{img: img, minX: b.Min.X, minY: b.Min.Y, w: b.Dx(), h: b.Dy()}, nil
}

// LoadTexture decodes a PNG or JPEG file.
func LoadTexture(path string) (*Texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open texture: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode texture %s: %w", path, err)
	}
	return NewTexture(img)
}

// Size returns the image width and height.
func (t *Texture) Size() (int, int) { return t.w, t.h }

// Sample returns the bilinearly filtered colour at uv.
func (t *Texture) Sample(uv r2.Vec) lidar.Color {
	u := uv.X - math.Floor(uv.X)
	v := uv.Y - math.Floor(uv.Y)

	// Texel centres sit at half-integer coordinates.
	x := u*float64(t.w) - 0.5
	y := (1-v)*float64(t.h) - 0.5
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)

	c00 := t.texel(ix, iy)
	c10 := t.texel(ix+1, iy)
	c01 := t.texel(ix, iy+1)
	c11 := t.texel(ix+1, iy+1)
	top := c00.Lerp(c10, fx)
	bottom := c01.Lerp(c11, fx)
	return top.Lerp(bottom, fy)
}

func (t *Texture) texel(x, y int) lidar.Color {
	x = ((x % t.w) + t.w) % t.w
	y = ((y % t.h) + t.h) % t.h
	r, g, b, a := t.img.At(t.minX+x, t.minY+y).RGBA()
	return lidar.Color{
		R: float32(r) / 0xffff,
		G: float32(g) / 0xffff,
		B: float32(b) / 0xffff,
		A: float32(a) / 0xffff,
	}
}

// Solid returns a 1x1 texture of c.
func Solid(c lidar.Color) *Texture {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, toNRGBA(c))
	t, _ := NewTexture(img)
	return t
}

// Checker returns a size×size texture of cells×cells alternating squares.
func Checker(size, cells int, a, b lidar.Color) *Texture {
	size = max(size, 1)
	cells = max(cells, 1)
	ca, cb := toNRGBA(a), toNRGBA(b)
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	cell := max(size/cells, 1)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetNRGBA(x, y, ca)
			} else {
				img.SetNRGBA(x, y, cb)
			}
		}
	}
	t, _ := NewTexture(img)
	return t
}

// Stripes returns a texture of n vertical stripes alternating a and b.
func Stripes(size, n int, a, b lidar.Color) *Texture {
	size = max(size, 1)
	n = max(n, 1)
	ca, cb := toNRGBA(a), toNRGBA(b)
	img := image.NewNRGBA(image.Rect(0, 0, size, 1))
	w := max(size/n, 1)
	for x := 0; x < size; x++ {
		if (x/w)%2 == 0 {
			img.SetNRGBA(x, 0, ca)
		} else {
			img.SetNRGBA(x, 0, cb)
		}
	}
	t, _ := NewTexture(img)
	return t
}

func toNRGBA(c lidar.Color) color.NRGBA {
	q := func(f float32) uint8 { return uint8(math.Round(lidar.Clamp01(float64(f)) * 255)) }
	return color.NRGBA{R: q(c.R), G: q(c.G), B: q(c.B), A: q(c.A)}
}
