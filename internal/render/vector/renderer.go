// Package vector renders Mapbox Vector Tiles into styled raster images.
package vector

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"go.uber.org/zap"

	"github.com/kiesman99/tilevas/internal/canvas"
	"github.com/kiesman99/tilevas/internal/glyph"
	"github.com/kiesman99/tilevas/internal/render"
	"github.com/kiesman99/tilevas/pkg/tile"
)

const defaultExtent = 4096

var gzipMagic = []byte{0x1f, 0x8b}

// layerOrder lists the layers drawn first, bottom to top. Any other layer
// follows in payload order.
var layerOrder = []string{
	"landcover", "landuse", "park", "water", "waterway",
	"building", "transportation", "road", "highway",
}

// Renderer draws vector tiles with a style snapshot per render.
type Renderer struct {
	styles   *StyleStore
	glyphs   glyph.Rasterizer
	tileSize int
	logger   *zap.Logger
}

var _ render.Renderer = (*Renderer)(nil)

type Option func(*Renderer)

// WithStyleStore shares a style store, e.g. one that is reloaded at runtime.
func WithStyleStore(s *StyleStore) Option {
	return func(r *Renderer) {
		r.styles = s
	}
}

func WithGlyphs(g glyph.Rasterizer) Option {
	return func(r *Renderer) {
		r.glyphs = g
	}
}

// WithTileSize changes the edge length of an unscaled render.
func WithTileSize(size int) Option {
	return func(r *Renderer) {
		if size > 0 {
			r.tileSize = size
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) {
		r.logger = l
	}
}

// New creates a renderer using the default style and the built-in font
// unless options say otherwise.
func New(opts ...Option) (*Renderer, error) {
	r := &Renderer{
		tileSize: render.DefaultTileSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.styles == nil {
		r.styles = NewStyleStore(nil)
	}
	if r.glyphs == nil {
		f, err := glyph.Default()
		if err != nil {
			return nil, fmt.Errorf("load default font: %w", err)
		}
		r.glyphs = f
	}
	r.logger = r.logger.Named("vector")
	return r, nil
}

func (r *Renderer) Name() string {
	return "Vector"
}

// Styles returns the store the renderer reads from.
func (r *Renderer) Styles() *StyleStore {
	return r.styles
}

func (r *Renderer) Render(a tile.Address, data []byte) (*image.RGBA, error) {
	return r.RenderScaled(a, data, 1)
}

// RenderScaled draws the tile at tileSize*scale pixels.
func (r *Renderer) RenderScaled(a tile.Address, data []byte, scale float64) (*image.RGBA, error) {
	if err := render.CheckScale(scale); err != nil {
		return nil, render.NewError(render.KindScale, a, err)
	}
	if scale <= 0 {
		scale = 1
	}
	size := int(math.Round(float64(r.tileSize) * scale))
	if size < 1 {
		size = 1
	}

	layers, err := decode(data)
	if err != nil {
		return nil, render.NewError(render.KindParse, a, err)
	}

	style, _ := r.styles.Load()
	d := &drawing{
		c:      canvas.New(size, style.Background),
		style:  style,
		zoom:   a.Zoom,
		size:   float64(size),
		logger: r.logger.With(zap.Stringer("tile", a)),
	}
	for _, l := range ordered(layers) {
		d.layer(l)
	}

	lb := &labeler{c: d.c, g: r.glyphs, style: style, size: d.size}
	for _, p := range d.paths {
		lb.drawPath(p)
	}
	for _, p := range d.points {
		lb.drawPoint(p)
	}
	return d.c.Image(), nil
}

func decode(data []byte) (layers mvt.Layers, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			layers, err = nil, fmt.Errorf("decoder panic: %v", rec)
		}
	}()
	if bytes.HasPrefix(data, gzipMagic) {
		return mvt.UnmarshalGzipped(data)
	}
	return mvt.Unmarshal(data)
}

// ordered returns the layers in drawing order.
func ordered(layers mvt.Layers) []*mvt.Layer {
	out := make([]*mvt.Layer, 0, len(layers))
	taken := make(map[*mvt.Layer]bool, len(layers))
	for _, name := range layerOrder {
		for _, l := range layers {
			if l.Name == name && !taken[l] {
				out = append(out, l)
				taken[l] = true
			}
		}
	}
	for _, l := range layers {
		if !taken[l] {
			out = append(out, l)
		}
	}
	return out
}

// drawing is the state of one render.
type drawing struct {
	c      *canvas.Canvas
	style  *Style
	zoom   uint8
	size   float64
	logger *zap.Logger

	// factor maps tile coordinates of the current layer to pixels.
	factor float64
	points []pointLabel
	paths  []pathLabel
}

func (d *drawing) layer(l *mvt.Layer) {
	extent := float64(l.Extent)
	if extent == 0 {
		extent = defaultExtent
	}
	d.factor = d.size / extent

	for _, f := range l.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		p := readProps(f)
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			d.polygon(l.Name, p, g)
		case orb.MultiPolygon:
			for _, poly := range g {
				d.polygon(l.Name, p, poly)
			}
		case orb.LineString:
			d.line(l.Name, p, g, true)
		case orb.MultiLineString:
			for i, ls := range g {
				d.line(l.Name, p, ls, i == 0)
			}
		case orb.Point:
			d.point(l.Name, p, g)
		case orb.MultiPoint:
			for _, pt := range g {
				d.point(l.Name, p, pt)
			}
		default:
			d.logger.Debug("skipping unsupported geometry",
				zap.String("layer", l.Name), zap.String("type", f.Geometry.GeoJSONType()))
		}
	}
}

func (d *drawing) pixels(pts []orb.Point) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		out[i] = orb.Point{p[0] * d.factor, p[1] * d.factor}
	}
	return out
}

func (d *drawing) polygon(layer string, p props, poly orb.Polygon) {
	if len(poly) == 0 || len(poly[0]) < 3 {
		return
	}
	key := p.class
	if (layer == "landcover" || layer == "landuse") && p.kind != "" {
		key = p.kind
	}
	col, ok := d.style.FillColor(layer, key)
	if !ok {
		return
	}
	d.c.FillEvenOdd(d.pixels(poly[0]), col)
}

func (d *drawing) line(layer string, p props, ls orb.LineString, labelled bool) {
	if len(ls) < 2 {
		return
	}
	pts := d.pixels(ls)
	px := d.size / render.DefaultTileSize

	if layer == "water" || layer == "waterway" {
		d.c.StrokePolyline(pts, d.style.WaterWidth*px, d.style.Water)
	} else {
		rs := d.style.Road(NormalizeRoadClass(p.roadClass(layer)))
		scale := d.style.WidthScale(d.zoom) * px
		if rs.CasingWidth > 0 {
			d.c.StrokePolyline(pts, rs.CasingWidth*scale, rs.Casing)
		}
		d.c.StrokePolyline(pts, rs.InnerWidth*scale, rs.Inner)
	}

	if labelled && p.name != "" && (layer == "water" || layer == "waterway" || layer == "roads") {
		d.paths = append(d.paths, pathLabel{layer: layer, name: p.name, path: pts})
	}
}

func (d *drawing) point(layer string, p props, pt orb.Point) {
	if p.name == "" || layer == "water" || p.kind == "ocean" || p.kind == "sea" {
		return
	}
	kind := p.placeKind()
	if !d.style.ShouldShowPlace(kind, p.rank, p.hasRank, p.capital, d.zoom) {
		return
	}
	d.points = append(d.points, pointLabel{
		x:        pt[0] * d.factor,
		y:        pt[1] * d.factor,
		name:     p.name,
		fontBase: d.style.PlaceFontSize(kind, p.rank, p.hasRank, p.capital),
	})
}
