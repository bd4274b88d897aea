// Package stitcher composes rendered tiles into one georeferenced image.
package stitcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"github.com/kiesman99/tilevas/internal/loader"
	"github.com/kiesman99/tilevas/internal/render"
	"github.com/kiesman99/tilevas/pkg/tile"
)

// Mode constants
const (
	ModeBBox = iota
	ModeCentered
)

const (
	// MaxZoom is the deepest zoom the 32 bit fixed point maths can address
	// with 8 bits of sub-tile pixel precision.
	MaxZoom = 24
	// maxPixels caps the output image size.
	maxPixels = 10000 * 10000
	// fallbackLevels bounds how far up the pyramid a missing tile is replaced from.
	fallbackLevels = 5
)

// ErrImageSize is returned when the requested window is empty or too large.
var ErrImageSize = errors.New("invalid image size")

// Options contains all stitching parameters
type Options struct {
	// Coordinates for bbox mode
	MinLat, MinLon, MaxLat, MaxLon float64

	// Coordinates for centered mode
	CenterLat, CenterLon float64
	Width, Height        int

	// Common options
	Zoom int
	// Scale multiplies the tile edge of renderers that support it.
	Scale             float64
	GenerateWorldFile bool
	Mode              int
}

// Result contains the stitching result
type Result struct {
	ImageData     []byte
	WorldFileData []byte
	Width         int
	Height        int
	MinX, MaxY    float64 // For world file
	PixelSizeX    float64
	PixelSizeY    float64

	TotalTiles      int
	SuccessfulTiles int
	// FallbackTiles were stretched from an ancestor tile.
	FallbackTiles int
	FailedTiles   []FailedTile
}

// TileError is returned when not a single tile could be produced.
type TileError struct {
	Message         string
	FailedTiles     []FailedTile
	SuccessfulTiles int
	TotalTiles      int
}

func (e *TileError) Error() string {
	return e.Message
}

// FailedTile describes a tile that could not be fetched or rendered.
type FailedTile struct {
	Tile       tile.Address
	URL        string
	StatusCode *int
	Error      string
}

// Submitter fetches and renders tiles, usually a *loader.Pool.
type Submitter interface {
	Submit(ctx context.Context, tiles []tile.Address, scale float64) <-chan loader.Result
}

// Stitcher performs tile stitching operations
type Stitcher struct {
	pool   Submitter
	logger *zap.Logger
}

// New creates a new stitcher on top of a fetch-and-render pool.
func New(pool Submitter, logger *zap.Logger) *Stitcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stitcher{pool: pool, logger: logger.Named("stitcher")}
}

// window is the pixel area of the output image in world fixed point coordinates.
type window struct {
	x1, y1, x2, y2 uint32
	minLat, minLon float64
	maxLat, maxLon float64
}

// Validate checks the options before any tile is requested.
func (o *Options) Validate() error {
	if o.Zoom < 0 || o.Zoom > MaxZoom {
		return fmt.Errorf("zoom must be between 0 and %d", MaxZoom)
	}
	if err := render.CheckScale(o.Scale); err != nil {
		return err
	}
	switch o.Mode {
	case ModeBBox:
		if o.MinLat >= o.MaxLat {
			return errors.New("min_lat must be less than max_lat")
		}
		if o.MinLon >= o.MaxLon {
			return errors.New("min_lon must be less than max_lon")
		}
	case ModeCentered:
		if o.Width <= 0 || o.Height <= 0 {
			return errors.New("width and height must be positive")
		}
	default:
		return fmt.Errorf("invalid mode: %d", o.Mode)
	}
	return nil
}

// Stitch performs the tile stitching operation
func (s *Stitcher) Stitch(ctx context.Context, opts *Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	tileSize := int(math.Round(render.DefaultTileSize * scale))
	zoom := uint(opts.Zoom)
	w := opts.window()

	// Convert to actual tile coordinates
	tx1, ty1 := w.x1>>(32-zoom), w.y1>>(32-zoom)
	tx2, ty2 := w.x2>>(32-zoom), w.y2>>(32-zoom)
	// the last row and column of the grid start exactly on the window edge
	tx2, ty2 = min(tx2, lastTile(zoom)), min(ty2, lastTile(zoom))

	// Calculate pixel offsets and dimensions
	sub := 32 - (zoom + 8)
	xa := int((w.x1>>sub)&0xFF) * tileSize / 256
	ya := int((w.y1>>sub)&0xFF) * tileSize / 256
	width := int((w.x2>>sub)-(w.x1>>sub)) * tileSize / 256
	height := int((w.y2>>sub)-(w.y1>>sub)) * tileSize / 256

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: requested image is empty: %dx%d", ErrImageSize, width, height)
	}
	if int64(width)*int64(height) > maxPixels {
		return nil, fmt.Errorf("%w: requested image size too large: %dx%d", ErrImageSize, width, height)
	}

	// Project coordinates for world file
	minX, minY := projectlatlon(w.minLat, w.minLon)
	maxX, maxY := projectlatlon(w.maxLat, w.maxLon)
	px := (maxX - minX) / float64(width)
	py := math.Abs(maxY-minY) / float64(height)

	var tiles []tile.Address
	for ty := ty1; ty <= ty2; ty++ {
		for tx := tx1; tx <= tx2; tx++ {
			tiles = append(tiles, tile.New(tx, ty, uint8(zoom)))
		}
	}

	images, failed, err := s.collect(ctx, tiles, scale)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Width:      width,
		Height:     height,
		MinX:       minX,
		MaxY:       maxY,
		PixelSizeX: px,
		PixelSizeY: py,
		TotalTiles: len(tiles),
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for _, a := range tiles {
		xoff := int(a.X-tx1)*tileSize - xa
		yoff := int(a.Y-ty1)*tileSize - ya
		dst := image.Rect(xoff, yoff, xoff+tileSize, yoff+tileSize)

		if img, ok := images[a]; ok {
			paste(out, dst, img, img.Bounds())
			result.SuccessfulTiles++
			continue
		}
		if ancestor, _, ok := tile.NearestAncestor(a, func(p tile.Address) bool {
			_, ok := images[p]
			return ok
		}); ok {
			img := images[ancestor]
			src := tile.ChildRegion(ancestor, a, img.Bounds().Dx())
			paste(out, dst, img, src)
			result.FallbackTiles++
		}
	}

	for _, a := range tiles {
		if f, ok := failed[a]; ok {
			result.FailedTiles = append(result.FailedTiles, f)
		}
	}

	if result.SuccessfulTiles == 0 && result.FallbackTiles == 0 {
		return nil, &TileError{
			Message:         "No tiles could be downloaded successfully",
			FailedTiles:     result.FailedTiles,
			SuccessfulTiles: 0,
			TotalTiles:      len(tiles),
		}
	}
	if len(result.FailedTiles) > 0 {
		s.logger.Warn("stitched with missing tiles",
			zap.Int("failed", len(result.FailedTiles)),
			zap.Int("fallback", result.FallbackTiles),
			zap.Int("total", len(tiles)))
	}

	// Encode output image
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode output image: %w", err)
	}
	result.ImageData = buf.Bytes()

	// Generate world file if requested
	if opts.GenerateWorldFile {
		result.WorldFileData = generateWorldFile(px, py, minX, maxY)
	}

	return result, nil
}

// collect renders the requested tiles. Tiles another request is already
// downloading are asked for once more after the first pass. Tiles that stay
// missing are looked up level by level in their ancestors.
func (s *Stitcher) collect(ctx context.Context, tiles []tile.Address, scale float64) (map[tile.Address]*image.RGBA, map[tile.Address]FailedTile, error) {
	images := make(map[tile.Address]*image.RGBA, len(tiles))
	failed := make(map[tile.Address]FailedTile)

	run := func(batch []tile.Address) (retry []tile.Address) {
		for res := range s.pool.Submit(ctx, batch, scale) {
			switch {
			case res.Err == nil:
				images[res.Tile] = res.Image
				delete(failed, res.Tile)
			case loader.IsInProgress(res.Err):
				retry = append(retry, res.Tile)
				failed[res.Tile] = failure(res.Tile, res.Err)
			default:
				failed[res.Tile] = failure(res.Tile, res.Err)
			}
		}
		return retry
	}

	if retry := run(tiles); len(retry) > 0 {
		run(retry)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// climb the pyramid for the tiles that are still missing
	var missing []tile.Address
	for _, a := range tiles {
		if _, ok := images[a]; !ok {
			missing = append(missing, a)
		}
	}
	for level := uint8(1); level <= fallbackLevels && len(missing) > 0; level++ {
		var batch []tile.Address
		seen := make(map[tile.Address]bool)
		for _, a := range missing {
			p, ok := ancestorAt(a, level)
			if !ok || seen[p] {
				continue
			}
			seen[p] = true
			if _, have := images[p]; !have {
				batch = append(batch, p)
			}
		}
		for res := range s.pool.Submit(ctx, batch, scale) {
			if res.Err == nil {
				images[res.Tile] = res.Image
			}
		}

		keep := missing[:0]
		for _, a := range missing {
			p, ok := ancestorAt(a, level)
			if !ok {
				continue
			}
			if _, have := images[p]; !have {
				keep = append(keep, a)
			}
		}
		missing = keep
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return images, failed, nil
}

// ancestorAt returns the tile levels zoom levels above a.
func ancestorAt(a tile.Address, levels uint8) (tile.Address, bool) {
	if levels > a.Zoom {
		return tile.Address{}, false
	}
	return tile.New(a.X>>levels, a.Y>>levels, a.Zoom-levels), true
}

func failure(a tile.Address, err error) FailedTile {
	f := FailedTile{Tile: a, Error: err.Error()}
	var derr *loader.DownloadError
	if errors.As(err, &derr) {
		f.URL = derr.URL
		if derr.StatusCode != 0 {
			code := derr.StatusCode
			f.StatusCode = &code
		}
	}
	return f
}

// paste draws src of img into dst, stretching when the sizes differ.
func paste(out *image.RGBA, dst image.Rectangle, img *image.RGBA, src image.Rectangle) {
	if src.Dx() == dst.Dx() && src.Dy() == dst.Dy() {
		draw.Draw(out, dst, img, src.Min, draw.Over)
		return
	}
	xdraw.BiLinear.Scale(out, dst, img, src, xdraw.Over, nil)
}

// window converts the options into the fixed point pixel window.
func (o *Options) window() window {
	var w window
	if o.Mode == ModeCentered {
		// Convert centered mode to bounding box
		cx, cy := latlon2tile(o.CenterLat, o.CenterLon, 32)
		shift := uint(32 - (o.Zoom + 8))
		halfW := uint32((uint64(o.Width) << shift) / 2)
		halfH := uint32((uint64(o.Height) << shift) / 2)

		w.x1, w.y1 = sat(cx, -int64(halfW)), sat(cy, -int64(halfH))
		w.x2, w.y2 = sat(cx, int64(halfW)), sat(cy, int64(halfH))

		w.maxLat, w.minLon = tile2latlon(w.x1, w.y1, 32)
		w.minLat, w.maxLon = tile2latlon(w.x2, w.y2, 32)
		return w
	}

	w.minLat, w.minLon, w.maxLat, w.maxLon = o.MinLat, o.MinLon, o.MaxLat, o.MaxLon
	w.x1, w.y1 = latlon2tile(w.maxLat, w.minLon, 32)
	w.x2, w.y2 = latlon2tile(w.minLat, w.maxLon, 32)
	return w
}

// sat adds d to v, saturating at the edges of the world.
func sat(v uint32, d int64) uint32 {
	return uint32(max(0, min(math.MaxUint32, int64(v)+d)))
}

func lastTile(zoom uint) uint32 {
	return uint32(uint64(1)<<zoom - 1)
}

// generateWorldFile generates world file data
func generateWorldFile(px, py, minx, maxy float64) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%24.10f\n", px)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", -py)
	fmt.Fprintf(&buf, "%24.10f\n", minx)
	fmt.Fprintf(&buf, "%24.10f\n", maxy)
	return buf.Bytes()
}

// Coordinate conversion functions

// latlon2tile converts lat/lon to fixed point world coordinates with 2^zoom
// units per axis, clamped into the grid.
func latlon2tile(lat, lon float64, zoom int) (uint32, uint32) {
	latRad := lat * math.Pi / 180
	n := float64(uint64(1) << uint(zoom))
	limit := n - 1

	x := n * ((lon + 180) / 360)
	y := n * (1 - (math.Log(math.Tan(latRad)+1/math.Cos(latRad)) / math.Pi)) / 2

	return uint32(math.Max(0, math.Min(limit, x))), uint32(math.Max(0, math.Min(limit, y)))
}

// tile2latlon converts tile coordinates to lat/lon
func tile2latlon(x, y uint32, zoom int) (float64, float64) {
	n := float64(uint64(1) << uint(zoom))
	lon := 360.0*float64(x)/n - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2.0*float64(y)/n)))
	lat := latRad * 180 / math.Pi

	return lat, lon
}

// projectlatlon converts lat/lon in WGS84 to XY in Spherical Mercator (EPSG:900913/3857)
func projectlatlon(lat, lon float64) (float64, float64) {
	const originshift = 20037508.342789244 // 2 * pi * 6378137 / 2
	x := lon * originshift / 180.0
	y := math.Log(math.Tan((90+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * originshift / 180.0

	return x, y
}
