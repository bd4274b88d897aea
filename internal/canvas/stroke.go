package canvas

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/vector"
)

// StrokePolyline draws a line of the given width through pts with butt caps
// and round joins.
func (c *Canvas) StrokePolyline(pts []orb.Point, width float64, col color.RGBA) {
	if len(pts) < 2 || width <= 0 {
		return
	}
	half := width / 2

	z := c.rasterizer()
	for i := 0; i+1 < len(pts); i++ {
		segment(z, pts[i], pts[i+1], half)
	}
	// joins cover the wedge gaps between consecutive segments
	for i := 1; i+1 < len(pts); i++ {
		circle(z, pts[i][0], pts[i][1], half)
	}
	c.fill(z, col)
}

// FillCircle draws a filled disc.
func (c *Canvas) FillCircle(cx, cy, r float64, col color.RGBA) {
	if r <= 0 {
		return
	}
	z := c.rasterizer()
	circle(z, cx, cy, r)
	c.fill(z, col)
}

func (c *Canvas) rasterizer() *vector.Rasterizer {
	b := c.img.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	return z
}

func (c *Canvas) fill(z *vector.Rasterizer, col color.RGBA) {
	z.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{})
}

// segment adds the quad around a→b. All quads and circles share the same
// winding so overlapping parts saturate instead of cancelling out.
func segment(z *vector.Rasterizer, a, b orb.Point, half float64) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	nx, ny := -dy/length*half, dx/length*half

	z.MoveTo(float32(a[0]+nx), float32(a[1]+ny))
	z.LineTo(float32(b[0]+nx), float32(b[1]+ny))
	z.LineTo(float32(b[0]-nx), float32(b[1]-ny))
	z.LineTo(float32(a[0]-nx), float32(a[1]-ny))
	z.ClosePath()
}

func circle(z *vector.Rasterizer, cx, cy, r float64) {
	n := max(12, int(r*4))
	z.MoveTo(float32(cx+r), float32(cy))
	for i := 1; i < n; i++ {
		theta := -2 * math.Pi * float64(i) / float64(n)
		z.LineTo(float32(cx+r*math.Cos(theta)), float32(cy+r*math.Sin(theta)))
	}
	z.ClosePath()
}
