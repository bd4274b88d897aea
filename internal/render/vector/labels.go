package vector

import (
	"image/color"
	"math"
	"unicode/utf8"

	"github.com/paulmach/orb"

	"github.com/kiesman99/tilevas/internal/canvas"
	"github.com/kiesman99/tilevas/internal/glyph"
)

type pointLabel struct {
	x, y     float64
	name     string
	fontBase float64
}

type pathLabel struct {
	layer string
	name  string
	// pixel coordinates
	path []orb.Point
}

// pathLength returns the summed segment lengths of a polyline.
func pathLength(path []orb.Point) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += math.Hypot(path[i][0]-path[i-1][0], path[i][1]-path[i-1][1])
	}
	return total
}

// pointAlongPath walks offset pixels along path and returns the position
// there and the direction of the segment it falls on. within is false when
// offset lies outside the path.
func pointAlongPath(path []orb.Point, offset float64) (x, y, angle float64, within bool) {
	if len(path) < 2 || offset < 0 {
		return 0, 0, 0, false
	}
	walked := 0.0
	for i := 1; i < len(path); i++ {
		a, b := path[i-1], path[i]
		dx, dy := b[0]-a[0], b[1]-a[1]
		seg := math.Hypot(dx, dy)
		if seg == 0 {
			continue
		}
		if walked+seg >= offset {
			t := (offset - walked) / seg
			return a[0] + dx*t, a[1] + dy*t, math.Atan2(dy, dx), true
		}
		walked += seg
	}
	return 0, 0, 0, false
}

// labeler draws text with one glyph rasterizer and style snapshot.
type labeler struct {
	c     *canvas.Canvas
	g     glyph.Rasterizer
	style *Style
	size  float64
}

func (l *labeler) scale() float64 {
	return l.size / 256
}

// drawPoint draws the marker dot and the name set horizontally to its right.
func (l *labeler) drawPoint(p pointLabel) {
	m := l.style.Markers
	font := math.Min(p.fontBase*l.scale(), l.style.Fonts.MaxFont)
	radius := m.BaseRadius * math.Min(l.scale(), m.MaxRadius)

	l.c.FillCircle(p.x, p.y, radius, l.style.Marker)

	textX := p.x + radius + m.TextOffsetX
	textY := p.y
	if m.TextVerticalCenter != 0 {
		textY += font / m.TextVerticalCenter
	}
	l.drawText(p.name, textX, textY, font, l.style.PlaceLabel)
}

// drawText sets text glyph by glyph from (x, y). Every glyph hangs off the
// baseline of the reference glyph 'A' so mixed heights line up.
func (l *labeler) drawText(text string, x, y, font float64, col color.RGBA) {
	ref, ok := l.g.Rasterize('A', font)
	if !ok {
		return
	}
	baseline := float64(ref.Height() + ref.YMin)

	cursor := x
	for _, r := range text {
		g, ok := l.g.Rasterize(r, font)
		if !ok {
			continue
		}
		if !g.Empty() {
			gx := int(math.Round(cursor + float64(g.XMin)))
			gy := int(math.Round(y + baseline - float64(g.Height()) - float64(g.YMin)))
			l.c.DrawMask(g.Mask, gx, gy, col)
		}
		cursor += g.Advance
	}
}

// drawPath lays a name along its line, each glyph turned to the local
// direction of the path.
func (l *labeler) drawPath(p pathLabel) {
	base, col := l.style.Fonts.WaterLabel, l.style.WaterLabel
	if p.layer == "roads" {
		base, col = l.style.Fonts.RoadLabel, l.style.RoadLabel
	}
	font := base * math.Min(l.scale(), l.style.Fonts.MaxLabel)

	length := pathLength(p.path)
	width := float64(utf8.RuneCountInString(p.name)) * font * l.style.Fonts.CharWidth
	if length == 0 || width > length*l.style.Fonts.MaxCoverage {
		return
	}

	path := p.path
	if path[0][0] > path[len(path)-1][0] {
		path = reversed(path)
	}

	offset := math.Max(0, (length-width)/2)
	for _, r := range p.name {
		g, ok := l.g.Rasterize(r, font)
		if !ok {
			continue
		}
		if g.Empty() {
			offset += g.Advance
			continue
		}
		x, y, angle, within := pointAlongPath(path, offset+g.Advance/2)
		if !within {
			break
		}
		l.c.DrawMaskRotated(g.Mask, x, y, angle, col)
		offset += g.Advance
	}
}

func reversed(path []orb.Point) []orb.Point {
	out := make([]orb.Point, len(path))
	for i, p := range path {
		out[len(path)-1-i] = p
	}
	return out
}
