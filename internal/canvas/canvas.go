// Package canvas draws anti-aliased fills, strokes and glyph masks onto an
// RGBA image. Coordinates are in pixels with y pointing down; anything that
// falls outside the canvas is dropped.
package canvas

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// Canvas wraps an RGBA image.
type Canvas struct {
	img *image.RGBA
}

// New creates a size×size canvas filled with bg.
func New(size int, bg color.RGBA) *Canvas {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return &Canvas{img: img}
}

// Wrap draws onto an existing image.
func Wrap(img *image.RGBA) *Canvas {
	return &Canvas{img: img}
}

func (c *Canvas) Image() *image.RGBA {
	return c.img
}

func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Bounds()
}

// Blend composites col over the pixel at (x, y) with the given coverage in
// [0, 1]. col is premultiplied like every color.RGBA.
func (c *Canvas) Blend(x, y int, col color.RGBA, coverage float64) {
	if !(image.Point{X: x, Y: y}).In(c.img.Rect) || coverage <= 0 {
		return
	}
	if coverage > 1 {
		coverage = 1
	}

	i := c.img.PixOffset(x, y)
	p := c.img.Pix[i : i+4 : i+4]
	srcA := float64(col.A) * coverage
	inv := 1 - srcA/255

	p[0] = blendChannel(col.R, coverage, p[0], inv)
	p[1] = blendChannel(col.G, coverage, p[1], inv)
	p[2] = blendChannel(col.B, coverage, p[2], inv)
	p[3] = uint8(math.Min(255, math.Round(srcA+float64(p[3])*inv)))
}

func blendChannel(src uint8, coverage float64, dst uint8, inv float64) uint8 {
	return uint8(math.Min(255, math.Round(float64(src)*coverage+float64(dst)*inv)))
}

// DrawMask blends an alpha mask with its top-left corner at (x, y).
func (c *Canvas) DrawMask(mask *image.Alpha, x, y int, col color.RGBA) {
	if mask == nil {
		return
	}
	b := mask.Bounds()
	for my := b.Min.Y; my < b.Max.Y; my++ {
		for mx := b.Min.X; mx < b.Max.X; mx++ {
			a := mask.AlphaAt(mx, my).A
			if a == 0 {
				continue
			}
			c.Blend(x+mx-b.Min.X, y+my-b.Min.Y, col, float64(a)/255)
		}
	}
}

// DrawMaskRotated blends mask rotated by angle radians about its centre,
// with the centre placed at (cx, cy). Destination pixels are mapped back
// into the mask and sampled bilinearly.
func (c *Canvas) DrawMaskRotated(mask *image.Alpha, cx, cy, angle float64, col color.RGBA) {
	if mask == nil || mask.Bounds().Empty() {
		return
	}
	b := mask.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	cos, sin := math.Cos(angle), math.Sin(angle)

	// the rotated mask fits in a circle of the half diagonal
	r := math.Hypot(w, h)/2 + 1
	x0, x1 := int(math.Floor(cx-r)), int(math.Ceil(cx+r))
	y0, y1 := int(math.Floor(cy-r)), int(math.Ceil(cy+r))
	clip := c.img.Rect
	x0, y0 = max(x0, clip.Min.X), max(y0, clip.Min.Y)
	x1, y1 = min(x1, clip.Max.X-1), min(y1, clip.Max.Y-1)

	for py := y0; py <= y1; py++ {
		for px := x0; px <= x1; px++ {
			dx, dy := float64(px)+0.5-cx, float64(py)+0.5-cy
			// inverse rotation into mask space
			mx := dx*cos + dy*sin + w/2 - 0.5
			my := -dx*sin + dy*cos + h/2 - 0.5
			if a := sampleBilinear(mask, mx, my); a > 0 {
				c.Blend(px, py, col, a)
			}
		}
	}
}

func sampleBilinear(mask *image.Alpha, x, y float64) float64 {
	b := mask.Bounds()
	if x < -1 || y < -1 || x > float64(b.Dx()) || y > float64(b.Dy()) {
		return 0
	}
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	at := func(ix, iy int) float64 {
		p := image.Point{X: b.Min.X + ix, Y: b.Min.Y + iy}
		if !p.In(b) {
			return 0
		}
		return float64(mask.AlphaAt(p.X, p.Y).A) / 255
	}
	ix, iy := int(x0), int(y0)
	top := at(ix, iy)*(1-fx) + at(ix+1, iy)*fx
	bottom := at(ix, iy+1)*(1-fx) + at(ix+1, iy+1)*fx
	return top*(1-fy) + bottom*fy
}
