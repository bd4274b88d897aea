// Package render turns encoded tile bytes into RGBA images.
package render

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/kiesman99/tilevas/pkg/tile"
)

const (
	// DefaultTileSize is the edge length of a rendered tile in pixels.
	DefaultTileSize = 256
	// MaxScale bounds the scale factor of RenderScaled.
	MaxScale = 4.0
)

// CheckScale reports scales that RenderScaled refuses. Zero and negative
// scales are not errors, renderers treat them as 1.
func CheckScale(scale float64) error {
	if math.IsNaN(scale) || scale > MaxScale {
		return fmt.Errorf("%w: %g exceeds %g", ErrScale, scale, MaxScale)
	}
	return nil
}

// Renderer rasterizes the encoded bytes of one tile. Implementations are safe
// for concurrent use.
type Renderer interface {
	Render(a tile.Address, data []byte) (*image.RGBA, error)
	// RenderScaled renders at DefaultTileSize*scale pixels. Renderers without
	// a notion of resolution ignore scale.
	RenderScaled(a tile.Address, data []byte, scale float64) (*image.RGBA, error)
	Name() string
}

// ErrorKind classifies render failures.
type ErrorKind int

const (
	KindImageDecode ErrorKind = iota
	KindParse
	KindUnsupportedFormat
	KindScale
)

var (
	ErrImageDecode       = errors.New("image decode failed")
	ErrParse             = errors.New("vector tile parse failed")
	ErrUnsupportedFormat = errors.New("unsupported tile format")
	ErrScale             = errors.New("render scale out of range")
)

// Error reports a payload that cannot be rendered. It is permanent for that payload.
type Error struct {
	Kind ErrorKind
	Tile tile.Address
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render tile %s: %v: %v", e.Tile, e.sentinel(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindParse:
		return ErrParse
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindScale:
		return ErrScale
	default:
		return ErrImageDecode
	}
}

// NewError wraps err with a render error kind.
func NewError(kind ErrorKind, a tile.Address, err error) *Error {
	return &Error{Kind: kind, Tile: a, Err: err}
}
