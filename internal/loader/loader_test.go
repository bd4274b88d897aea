package loader

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/tilevas/internal/cache"
	"github.com/kiesman99/tilevas/pkg/tile"
)

const testTemplate = "https://tile.example.com/{z}/{x}/{y}.png"

// fakeFetcher returns canned bytes or errors per tile and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	data  map[tile.Address][]byte
	errs  map[tile.Address]error
	calls map[tile.Address]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		data:  make(map[tile.Address][]byte),
		errs:  make(map[tile.Address]error),
		calls: make(map[tile.Address]int),
	}
}

func (f *fakeFetcher) TileData(_ context.Context, a tile.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[a]++
	if err, ok := f.errs[a]; ok {
		return nil, err
	}
	if data, ok := f.data[a]; ok {
		return data, nil
	}
	return nil, &DownloadError{Kind: KindUnavailable, Tile: a, StatusCode: 404}
}

func (f *fakeFetcher) count(a tile.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[a]
}

func TestCachedLoaderWritesThrough(t *testing.T) {
	ctx := context.Background()
	a := tile.New(550, 335, 10)
	f := newFakeFetcher()
	f.data[a] = tileBody
	c := cache.NewMemoryCache(testTemplate, 16, 0)
	l := NewCachedLoader(c, f, nil)

	data, err := l.TileData(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, tileBody, data)

	cached, err := c.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, tileBody, cached)

	// served from cache the second time
	_, err = l.TileData(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(a))
}

func TestCachedLoaderSources(t *testing.T) {
	ctx := context.Background()
	a := tile.New(550, 335, 10)
	f := newFakeFetcher()
	f.data[a] = tileBody
	c := cache.NewMemoryCache(testTemplate, 16, 0)
	l := NewCachedLoader(c, f, nil)

	_, err := l.TileDataFrom(ctx, a, SourceCache)
	require.ErrorIs(t, err, ErrTileNotAvailable)
	assert.Zero(t, f.count(a), "cache-only lookups never download")

	_, err = l.TileDataFrom(ctx, a, SourceDownload)
	require.NoError(t, err)
	_, err = l.TileDataFrom(ctx, a, SourceDownload)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(a), "download-only lookups skip the cache")

	data, err := l.TileDataFrom(ctx, a, SourceCache)
	require.NoError(t, err)
	assert.Equal(t, tileBody, data)
}

func TestCachedLoaderPropagatesDownloadErrors(t *testing.T) {
	ctx := context.Background()
	busy := tile.New(1, 1, 1)
	missing := tile.New(0, 0, 1)
	f := newFakeFetcher()
	f.errs[busy] = &DownloadError{Kind: KindInProgress, Tile: busy}
	c := cache.NewMemoryCache(testTemplate, 16, 0)
	l := NewCachedLoader(c, f, nil)

	_, err := l.TileData(ctx, busy)
	assert.True(t, IsInProgress(err))

	_, err = l.TileData(ctx, missing)
	var derr *DownloadError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, 404, derr.StatusCode)

	_, err = c.Get(ctx, missing)
	assert.ErrorIs(t, err, cache.ErrNotFound, "failures are not cached")
}

func TestCachedLoaderWithoutCache(t *testing.T) {
	a := tile.New(0, 0, 0)
	f := newFakeFetcher()
	f.data[a] = tileBody
	l := NewCachedLoader(nil, f, nil)

	for i := 0; i < 2; i++ {
		_, err := l.TileData(context.Background(), a)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.count(a))
}

// stubRenderer turns any payload into a 1×1 image and fails on "bad".
type stubRenderer struct{}

func (stubRenderer) Name() string { return "Stub" }

func (s stubRenderer) Render(a tile.Address, data []byte) (*image.RGBA, error) {
	return s.RenderScaled(a, data, 1)
}

func (stubRenderer) RenderScaled(a tile.Address, data []byte, _ float64) (*image.RGBA, error) {
	if string(data) == "bad" {
		return nil, errors.New("cannot render")
	}
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func TestPoolSubmit(t *testing.T) {
	f := newFakeFetcher()
	good := []tile.Address{tile.New(0, 0, 2), tile.New(1, 0, 2), tile.New(2, 0, 2)}
	for _, a := range good {
		f.data[a] = tileBody
	}
	broken := tile.New(3, 0, 2)
	f.data[broken] = []byte("bad")
	missing := tile.New(0, 1, 2)

	p := NewPool(f, stubRenderer{}, 2, nil)
	tiles := append(append([]tile.Address{}, good...), broken, missing)

	got := make(map[tile.Address]Result)
	for res := range p.Submit(context.Background(), tiles, 1) {
		got[res.Tile] = res
	}

	require.Len(t, got, len(tiles))
	for _, a := range good {
		assert.NoError(t, got[a].Err)
		assert.NotNil(t, got[a].Image)
	}
	assert.Error(t, got[broken].Err)
	assert.Nil(t, got[broken].Image)
	assert.ErrorIs(t, got[missing].Err, ErrTileNotAvailable)
}

func TestPoolCancelledContext(t *testing.T) {
	f := newFakeFetcher()
	a := tile.New(0, 0, 0)
	f.data[a] = tileBody

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPool(f, stubRenderer{}, 0, nil)
	res := <-p.Submit(ctx, []tile.Address{a}, 1)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, f.count(a))
}
