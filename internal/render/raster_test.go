package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/tilevas/pkg/tile"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	return img
}

func TestRasterPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))

	img, err := NewRaster().Render(tile.New(0, 0, 0), buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
	assert.Equal(t, color.RGBA{R: 48, G: 80, B: 128, A: 255}, img.RGBAAt(3, 5))
}

func TestRasterJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(), &jpeg.Options{Quality: 90}))

	img, err := NewRaster().RenderScaled(tile.New(0, 0, 0), buf.Bytes(), 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
}

func TestRasterErrors(t *testing.T) {
	r := NewRaster()
	a := tile.New(1, 2, 3)

	_, err := r.Render(a, []byte("definitely not an image"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = r.Render(a, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	corrupt := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{0xAB}, 64)...)
	_, err = r.Render(a, corrupt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageDecode)

	var renderErr *Error
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, a, renderErr.Tile)

	_, err = r.Render(a, []byte{0xFF, 0xD8, 0xFF})
	assert.ErrorIs(t, err, ErrImageDecode)
}

func TestRasterName(t *testing.T) {
	assert.Equal(t, "Raster", NewRaster().Name())
}

func TestCheckScale(t *testing.T) {
	for _, ok := range []float64{-1, 0, 0.5, 1, MaxScale} {
		assert.NoError(t, CheckScale(ok), ok)
	}
	for _, bad := range []float64{MaxScale * 2, 1e9} {
		assert.ErrorIs(t, CheckScale(bad), ErrScale, bad)
	}
	assert.ErrorIs(t, CheckScale(math.NaN()), ErrScale)
}
