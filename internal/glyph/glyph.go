// Package glyph rasterizes single characters into alpha masks.
package glyph

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Glyph is a rasterized character.
//
// Metrics follow the pen model: the mask's left edge sits XMin pixels right
// of the pen, its bottom edge YMin pixels above the baseline.
type Glyph struct {
	Mask    *image.Alpha
	XMin    int
	YMin    int
	Advance float64
}

func (g Glyph) Width() int {
	if g.Mask == nil {
		return 0
	}
	return g.Mask.Bounds().Dx()
}

func (g Glyph) Height() int {
	if g.Mask == nil {
		return 0
	}
	return g.Mask.Bounds().Dy()
}

// Empty reports whether the glyph has no visible pixels, e.g. a space.
func (g Glyph) Empty() bool {
	return g.Width() == 0 || g.Height() == 0
}

// Rasterizer renders a rune at a pixel size. Implementations must be safe
// for concurrent use.
type Rasterizer interface {
	Rasterize(r rune, size float64) (Glyph, bool)
}

const (
	// sizeStep is the resolution sizes are rounded to before caching.
	sizeStep = 0.25
	// MaxSize caps the pixel size of a glyph.
	MaxSize = 128.0

	maxFaces  = 64
	maxGlyphs = 4096
	cacheTTL  = time.Hour
)

// Quantize rounds size to the cache resolution and clamps it to MaxSize.
func Quantize(size float64) float64 {
	return math.Min(math.Round(size/sizeStep)*sizeStep, MaxSize)
}

// face is an opentype face and the lock it needs, faces reuse their mask buffer.
type face struct {
	mu sync.Mutex
	font.Face
}

// Font rasterizes glyphs from an OpenType font. Faces and glyphs are kept in
// bounded LRU caches keyed by the quantized size.
type Font struct {
	font *opentype.Font

	faces  *ccache.Cache[*face]
	glyphs *ccache.Cache[Glyph]
}

var _ Rasterizer = (*Font)(nil)

// Parse loads an OpenType or TrueType font.
func Parse(data []byte) (*Font, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &Font{
		font:   f,
		faces:  ccache.New(ccache.Configure[*face]().MaxSize(maxFaces).ItemsToPrune(maxFaces / 8)),
		glyphs: ccache.New(ccache.Configure[Glyph]().MaxSize(maxGlyphs).ItemsToPrune(maxGlyphs / 16)),
	}, nil
}

var (
	defaultOnce sync.Once
	defaultFont *Font
	defaultErr  error
)

// Default returns the shared Go Regular font.
func Default() (*Font, error) {
	defaultOnce.Do(func() {
		defaultFont, defaultErr = Parse(goregular.TTF)
	})
	return defaultFont, defaultErr
}

// Close stops the cache workers. The shared Default font is never closed.
func (f *Font) Close() {
	f.faces.Stop()
	f.glyphs.Stop()
}

func (f *Font) Rasterize(r rune, size float64) (Glyph, bool) {
	size = Quantize(size)
	if !(size > 0) {
		return Glyph{}, false
	}

	key := strconv.Itoa(int(r)) + "/" + strconv.FormatFloat(size, 'f', -1, 64)
	if item := f.glyphs.Get(key); item != nil && !item.Expired() {
		return item.Value(), true
	}

	fc, err := f.face(size)
	if err != nil {
		return Glyph{}, false
	}

	fc.mu.Lock()
	dr, mask, maskp, advance, ok := fc.Glyph(fixed.Point26_6{}, r)
	var alpha *image.Alpha
	if ok {
		alpha = image.NewAlpha(image.Rect(0, 0, dr.Dx(), dr.Dy()))
		if mask != nil && !dr.Empty() {
			draw.Draw(alpha, alpha.Bounds(), mask, maskp, draw.Src)
		}
	}
	fc.mu.Unlock()
	if !ok {
		return Glyph{}, false
	}

	g := Glyph{
		Mask:    alpha,
		XMin:    dr.Min.X,
		YMin:    -dr.Max.Y,
		Advance: float64(advance) / 64,
	}
	f.glyphs.Set(key, g, cacheTTL)
	return g, true
}

func (f *Font) face(size float64) (*face, error) {
	key := strconv.FormatFloat(size, 'f', -1, 64)
	if item := f.faces.Get(key); item != nil && !item.Expired() {
		return item.Value(), nil
	}
	ff, err := opentype.NewFace(f.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("create face: %w", err)
	}
	fc := &face{Face: ff}
	f.faces.Set(key, fc, cacheTTL)
	return fc, nil
}
