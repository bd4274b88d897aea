package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/kiesman99/tilevas/pkg/tile"
)

const template = "https://tile.example.com/{zoom}/{x}/{y}.png"

func TestSourceKey(t *testing.T) {
	assert.Equal(t, SourceKey(template), SourceKey(template))
	assert.NotEqual(t, SourceKey(template), SourceKey("https://other.example.com/{zoom}/{x}/{y}.png"))
	assert.Equal(t,
		SourceKey("https://tile.example.com/{zoom}/{x}/{y}.pbf?key=abc-123"),
		SourceKey("https://tile.example.com/{zoom}/{x}/{y}.pbf?key=zzz_987"),
	)
	assert.Equal(t,
		SourceKey("https://tile.example.com/{zoom}/{x}/{y}.pbf?apiKey=one"),
		SourceKey("https://tile.example.com/{zoom}/{x}/{y}.pbf?apiKey=two"),
	)
}

// roundTrip checks the contract every backend shares.
func roundTrip(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()
	a := tile.New(3, 5, 4)
	data := []byte("\x89PNG not really a png but bytes are bytes")

	_, err := c.Get(ctx, a)
	require.ErrorIs(t, err, ErrNotFound)

	c.Put(ctx, a, data)
	got, err := c.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = c.Get(ctx, tile.New(5, 3, 4))
	require.ErrorIs(t, err, ErrNotFound)

	updated := []byte("second version")
	c.Put(ctx, a, updated)
	got, err = c.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestFileCache(t *testing.T) {
	root := t.TempDir()
	c := NewFileCache(root, template, nil)
	roundTrip(t, c)

	path := filepath.Join(root, SourceKey(template), "4_3_5.png")
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestFileCacheSourcesAreIsolated(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	a := tile.New(1, 1, 1)

	NewFileCache(root, template, nil).Put(ctx, a, []byte("from first source"))

	_, err := NewFileCache(root, "https://other.example.com/{zoom}/{x}/{y}.png", nil).Get(ctx, a)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileCachePutFailureIsSilent(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// the cache directory cannot be created below a regular file
	c := NewFileCache(blocker, template, nil)
	c.Put(context.Background(), tile.New(0, 0, 0), []byte("data"))

	_, err := c.Get(context.Background(), tile.New(0, 0, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(template, 16, 0)
	defer c.Close()
	roundTrip(t, c)
}

func TestSQLiteCache(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "tiles.db")
	c, err := NewSQLiteCache(context.Background(), dsn, template, nil)
	require.NoError(t, err)
	defer c.Close()
	roundTrip(t, c)
}

func TestBlobCache(t *testing.T) {
	c := NewBlobCache(memblob.OpenBucket(nil), template, nil)
	defer c.Close()
	roundTrip(t, c)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("TILEVAS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TILEVAS_TEST_REDIS_URL not set")
	}
	c, err := OpenRedisCache(context.Background(), url, template+"?test="+t.Name(), 0, nil)
	require.NoError(t, err)
	defer c.Close()
	roundTrip(t, c)
}

func TestTieredPromotesBackHits(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryCache(template, 16, 0)
	back := NewFileCache(t.TempDir(), template, nil)
	c := NewTiered(front, back)
	defer c.Close()

	a := tile.New(2, 2, 3)
	back.Put(ctx, a, []byte("durable"))

	got, err := c.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)

	got, err = front.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)

	roundTrip(t, NewTiered(NewMemoryCache(template, 16, 0), NewFileCache(t.TempDir(), template, nil)))
}

func TestDisabled(t *testing.T) {
	var c Disabled
	c.Put(context.Background(), tile.New(0, 0, 0), []byte("data"))
	_, err := c.Get(context.Background(), tile.New(0, 0, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, Options{}, template, nil)
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, c)

	c, err = New(ctx, Options{Backend: BackendFile, Dir: t.TempDir()}, template, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, c)

	c, err = New(ctx, Options{Backend: BackendFile, Dir: t.TempDir(), MemoryFront: true}, template, nil)
	require.NoError(t, err)
	assert.IsType(t, &Tiered{}, c)
	roundTrip(t, c)

	c, err = New(ctx, Options{Backend: BackendBlob, BlobURL: "mem://"}, template, nil)
	require.NoError(t, err)
	roundTrip(t, c)

	_, err = New(ctx, Options{Backend: "floppy"}, template, nil)
	assert.Error(t, err)
}
