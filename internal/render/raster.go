package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/webp"

	"github.com/kiesman99/tilevas/pkg/tile"
)

var (
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	jpegMagic = []byte{0xFF, 0xD8}
)

// Raster decodes PNG, JPEG and WebP tiles.
type Raster struct{}

var _ Renderer = Raster{}

func NewRaster() Raster {
	return Raster{}
}

func (Raster) Name() string {
	return "Raster"
}

func (r Raster) Render(a tile.Address, data []byte) (*image.RGBA, error) {
	return r.RenderScaled(a, data, 1)
}

// RenderScaled ignores scale: raster tiles come at the resolution the server made them.
func (Raster) RenderScaled(a tile.Address, data []byte, _ float64) (img *image.RGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, NewError(KindImageDecode, a, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	decoded, err := decodeImage(data)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			return nil, NewError(KindUnsupportedFormat, a, err)
		}
		return nil, NewError(KindImageDecode, a, err)
	}
	return toRGBA(decoded), nil
}

func decodeImage(data []byte) (image.Image, error) {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return png.Decode(bytes.NewReader(data))
	case bytes.HasPrefix(data, jpegMagic):
		return jpeg.Decode(bytes.NewReader(data))
	case isWebP(data):
		return webp.Decode(bytes.NewReader(data))
	}
	return nil, fmt.Errorf("%w: unrecognized magic bytes", ErrUnsupportedFormat)
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP"))
}

// toRGBA converts any decoded image into a zero-origin RGBA buffer.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
