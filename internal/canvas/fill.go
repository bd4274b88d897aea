package canvas

import (
	"image/color"
	"math"
	"slices"

	"github.com/paulmach/orb"
)

// subsamples is the number of scanlines sampled per pixel row.
const subsamples = 4

// FillEvenOdd fills a ring with the even-odd rule. The ring is closed
// implicitly. Horizontal coverage is exact per span, vertical coverage is
// estimated from subsamples scanlines per row.
func (c *Canvas) FillEvenOdd(ring []orb.Point, col color.RGBA) {
	if len(ring) < 3 {
		return
	}

	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, p := range ring {
		minY = math.Min(minY, p[1])
		maxY = math.Max(maxY, p[1])
	}

	bounds := c.img.Rect
	rowStart := max(int(math.Floor(minY)), bounds.Min.Y)
	rowEnd := min(int(math.Ceil(maxY)), bounds.Max.Y)
	if rowStart >= rowEnd {
		return
	}

	width := bounds.Dx()
	cover := make([]float64, width)
	var xs []float64

	for row := rowStart; row < rowEnd; row++ {
		clear(cover)
		touched := false

		for s := 0; s < subsamples; s++ {
			sy := float64(row) + (float64(s)+0.5)/subsamples
			xs = crossings(ring, sy, xs[:0])
			for i := 0; i+1 < len(xs); i += 2 {
				if accumulateSpan(cover, xs[i]-float64(bounds.Min.X), xs[i+1]-float64(bounds.Min.X), 1.0/subsamples) {
					touched = true
				}
			}
		}

		if !touched {
			continue
		}
		for i, v := range cover {
			if v > 0 {
				c.Blend(bounds.Min.X+i, row, col, v)
			}
		}
	}
}

// crossings appends the sorted x positions where the ring crosses the
// horizontal line y. Edges are half-open in y so shared vertices count once.
func crossings(ring []orb.Point, y float64, xs []float64) []float64 {
	n := len(ring)
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		if a[1] == b[1] {
			continue
		}
		if (y >= a[1]) == (y >= b[1]) {
			continue
		}
		t := (y - a[1]) / (b[1] - a[1])
		xs = append(xs, a[0]+t*(b[0]-a[0]))
	}
	slices.Sort(xs)
	return xs
}

// accumulateSpan adds weight times the covered fraction of every pixel
// between x0 and x1. It reports whether any pixel was touched.
func accumulateSpan(cover []float64, x0, x1, weight float64) bool {
	x0 = math.Max(x0, 0)
	x1 = math.Min(x1, float64(len(cover)))
	if x1 <= x0 {
		return false
	}
	first, last := int(x0), int(math.Ceil(x1))-1
	for px := first; px <= last; px++ {
		lo := math.Max(x0, float64(px))
		hi := math.Min(x1, float64(px+1))
		if hi > lo {
			cover[px] += (hi - lo) * weight
		}
	}
	return true
}
