package glyph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

func TestDefaultFont(t *testing.T) {
	f, err := Default()
	require.NoError(t, err)

	a, ok := f.Rasterize('A', 16)
	require.True(t, ok)
	assert.False(t, a.Empty())
	assert.Greater(t, a.Advance, 0.0)
	assert.InDelta(t, 0, a.YMin, 1, "capital letters sit on the baseline")
	assert.InDelta(t, 11, a.Height(), 2)

	g, ok := f.Rasterize('g', 16)
	require.True(t, ok)
	assert.Less(t, g.YMin, 0, "descenders reach below the baseline")

	space, ok := f.Rasterize(' ', 16)
	require.True(t, ok)
	assert.True(t, space.Empty())
	assert.Greater(t, space.Advance, 0.0)

	big, ok := f.Rasterize('A', 32)
	require.True(t, ok)
	assert.Greater(t, big.Height(), a.Height())
}

func TestRasterizeIsCachedAndConcurrent(t *testing.T) {
	f, err := Parse(goregular.TTF)
	require.NoError(t, err)
	t.Cleanup(f.Close)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, r := range "Berlin Mitte" {
				_, _ = f.Rasterize(r, 12)
			}
		}()
	}
	wg.Wait()

	first, _ := f.Rasterize('B', 12)
	second, _ := f.Rasterize('B', 12)
	assert.Same(t, first.Mask, second.Mask)
}

func TestCacheStaysBoundedAcrossSizes(t *testing.T) {
	f, err := Parse(goregular.TTF)
	require.NoError(t, err)
	t.Cleanup(f.Close)

	for i := 0; i < 2000; i++ {
		for _, r := range "Paris" {
			_, ok := f.Rasterize(r, 10+float64(i)*0.001)
			require.True(t, ok)
		}
	}

	// 10.000 to 11.999 rounds to 10, 10.25, ... 12
	assert.LessOrEqual(t, f.faces.ItemCount(), 9)
	assert.LessOrEqual(t, f.glyphs.ItemCount(), 9*5)

	a, _ := f.Rasterize('P', 10.01)
	b, _ := f.Rasterize('P', 9.99)
	assert.Same(t, a.Mask, b.Mask)
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, 12.0, Quantize(12.1))
	assert.Equal(t, 12.25, Quantize(12.2))
	assert.Equal(t, MaxSize, Quantize(1e9))
	assert.Equal(t, 0.0, Quantize(0.1))

	f, err := Default()
	require.NoError(t, err)
	_, ok := f.Rasterize('A', 0.1)
	assert.False(t, ok)
	huge, ok := f.Rasterize('A', 1e6)
	require.True(t, ok)
	assert.LessOrEqual(t, huge.Height(), int(MaxSize))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not a font"))
	assert.Error(t, err)
}
