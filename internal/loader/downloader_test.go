package loader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/tilevas/pkg/tile"
)

var tileBody = bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 64)

// tileServer serves tileBody for every request and counts them.
func tileServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	if handler == nil {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(tileBody)
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDownloaderFetchesTile(t *testing.T) {
	var gotPath, gotUA, gotKey string
	srv, hits := tileServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotUA, gotKey = r.URL.Path, r.UserAgent(), r.Header.Get("X-Api-Key")
		_, _ = w.Write(tileBody)
	})

	d := NewDownloader(srv.URL+"/{zoom}/{x}/{y}.png",
		WithUserAgent("tilevas-test"),
		WithHeaders(map[string]string{"X-Api-Key": "secret"}),
	)
	data, err := d.TileData(context.Background(), tile.New(550, 335, 10))
	require.NoError(t, err)
	assert.Equal(t, tileBody, data)
	assert.Equal(t, "/10/550/335.png", gotPath)
	assert.Equal(t, "tilevas-test", gotUA)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloaderUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			status: http.StatusNotFound,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			status: http.StatusBadGateway,
		},
		{
			name: "placeholder body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(make([]byte, DefaultMinBodySize))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := tileServer(t, tt.handler)
			d := NewDownloader(srv.URL + "/{z}/{x}/{y}")

			data, err := d.TileData(context.Background(), tile.New(8, 5, 4))
			assert.Nil(t, data)
			require.ErrorIs(t, err, ErrTileNotAvailable)
			assert.False(t, IsInProgress(err))

			var derr *DownloadError
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tt.status, derr.StatusCode)
			assert.Equal(t, srv.URL+"/4/8/5", derr.URL)
		})
	}
}

func TestDownloaderRejectsTilesOutsideGrid(t *testing.T) {
	srv, hits := tileServer(t, nil)
	d := NewDownloader(srv.URL + "/{z}/{x}/{y}")

	_, err := d.TileData(context.Background(), tile.Address{Zoom: 2, X: 4, Y: 0})
	assert.ErrorIs(t, err, ErrTileNotAvailable)
	assert.Zero(t, hits.Load())
}

func TestDownloaderMinBodySize(t *testing.T) {
	srv, _ := tileServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tiny"))
	})
	d := NewDownloader(srv.URL+"/{z}/{x}/{y}", WithMinBodySize(0))

	data, err := d.TileData(context.Background(), tile.New(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []byte("tiny"), data)
}

func TestDownloaderDeduplicatesInFlightTiles(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	srv, hits := tileServer(t, func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() { close(started) })
		<-unblock
		_, _ = w.Write(tileBody)
	})
	d := NewDownloader(srv.URL + "/{z}/{x}/{y}")
	a := tile.New(2200, 1343, 12)

	first := make(chan error, 1)
	go func() {
		_, err := d.TileData(context.Background(), a)
		first <- err
	}()
	<-started

	_, err := d.TileData(context.Background(), a)
	require.Error(t, err)
	assert.True(t, IsInProgress(err))
	assert.ErrorIs(t, err, ErrDownloadInProgress)
	assert.NotErrorIs(t, err, ErrTileNotAvailable)

	close(unblock)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), hits.Load())

	// the tile is released once the first request finished
	_, err = d.TileData(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDownloaderReleasesTileAfterFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv, _ := tileServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(tileBody)
	})
	d := NewDownloader(srv.URL + "/{z}/{x}/{y}")
	a := tile.New(17, 10, 5)

	_, err := d.TileData(context.Background(), a)
	require.ErrorIs(t, err, ErrTileNotAvailable)

	fail.Store(false)
	data, err := d.TileData(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, tileBody, data)
}

func TestDownloaderRateLimit(t *testing.T) {
	srv, hits := tileServer(t, nil)
	d := NewDownloader(srv.URL+"/{z}/{x}/{y}", WithRate(5))

	const n = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		finished []time.Duration
	)
	start := time.Now()
	for x := uint32(0); x < n; x++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.TileData(context.Background(), tile.New(x, 0, 3))
			assert.NoError(t, err)
			mu.Lock()
			finished = append(finished, time.Since(start))
			mu.Unlock()
		}()
	}
	wg.Wait()

	// one token up front, then one every 200ms
	require.Len(t, finished, n)
	assert.Equal(t, int32(n), hits.Load())
	var early int
	for _, f := range finished {
		if f < 500*time.Millisecond {
			early++
		}
	}
	assert.Less(t, early, n, "all requests finished within half a second")
	assert.LessOrEqual(t, early, 3)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestDownloaderRateLimitHonoursContext(t *testing.T) {
	srv, hits := tileServer(t, nil)
	d := NewDownloader(srv.URL+"/{z}/{x}/{y}", WithRate(0.1))

	_, err := d.TileData(context.Background(), tile.New(0, 0, 3))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = d.TileData(ctx, tile.New(1, 0, 3))
	assert.ErrorIs(t, err, ErrTileNotAvailable)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloaderCoalescing(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	srv, hits := tileServer(t, func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() { close(started) })
		<-unblock
		_, _ = w.Write(tileBody)
	})
	d := NewDownloader(srv.URL+"/{z}/{x}/{y}", WithCoalescing())
	a := tile.New(2200, 1343, 12)

	const callers = 5
	results := make(chan []byte, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := d.TileData(context.Background(), a)
			assert.NoError(t, err)
			results <- data
		}()
	}

	<-started
	time.Sleep(100 * time.Millisecond)
	close(unblock)
	wg.Wait()
	close(results)

	for data := range results {
		assert.Equal(t, tileBody, data)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloaderSubdomains(t *testing.T) {
	srv, _ := tileServer(t, nil)
	d := NewDownloader(srv.URL + "/{s}/{z}/{x}/{y}")
	assert.Equal(t, srv.URL+"/{s}/{z}/{x}/{y}", d.Template())

	_, err := d.TileData(context.Background(), tile.New(1, 1, 2))
	require.NoError(t, err)
}
