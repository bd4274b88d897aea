package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/kiesman99/tilevas/pkg/tile"
)

const (
	// DefaultRate is the request ceiling per second towards one tile server.
	DefaultRate = 10
	// DefaultTimeout bounds a single tile request.
	DefaultTimeout = 5 * time.Second
	// DefaultMinBodySize is the largest body treated as a "no tile" placeholder.
	DefaultMinBodySize = 100
	DefaultUserAgent   = "tilevas/1.0 (+https://github.com/kiesman99/tilevas)"
)

// Downloader fetches tiles for one URL template. Concurrent requests for the
// same tile are deduplicated and all requests share one token bucket.
type Downloader struct {
	template    string
	client      *http.Client
	limiter     *rate.Limiter
	userAgent   string
	headers     map[string]string
	minBodySize int
	logger      *zap.Logger

	coalesce bool
	group    singleflight.Group

	mu       sync.Mutex
	inFlight map[tile.Address]struct{}
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithRate sets the requests per second ceiling.
func WithRate(perSecond float64) Option {
	return func(d *Downloader) {
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLimiter shares an existing limiter, e.g. between sources of one host.
func WithLimiter(l *rate.Limiter) Option {
	return func(d *Downloader) {
		d.limiter = l
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.client = c
	}
}

func WithUserAgent(ua string) Option {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// WithHeaders adds request headers such as API keys.
func WithHeaders(h map[string]string) Option {
	return func(d *Downloader) {
		d.headers = h
	}
}

func WithMinBodySize(n int) Option {
	return func(d *Downloader) {
		d.minBodySize = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Downloader) {
		d.logger = l
	}
}

// WithCoalescing makes concurrent callers for the same tile wait for and
// share the first caller's result instead of getting ErrDownloadInProgress.
func WithCoalescing() Option {
	return func(d *Downloader) {
		d.coalesce = true
	}
}

// NewDownloader creates a downloader for the given URL template.
func NewDownloader(template string, opts ...Option) *Downloader {
	d := &Downloader{
		template:    template,
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(DefaultRate, 1),
		userAgent:   DefaultUserAgent,
		minBodySize: DefaultMinBodySize,
		logger:      zap.NewNop(),
		inFlight:    make(map[tile.Address]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("downloader").With(zap.String("template", template))
	return d
}

// Template returns the URL template tiles are fetched from.
func (d *Downloader) Template() string {
	return d.template
}

// TileData downloads the encoded bytes of a tile. It never retries.
func (d *Downloader) TileData(ctx context.Context, a tile.Address) ([]byte, error) {
	if !a.Exists() {
		return nil, &DownloadError{Kind: KindUnavailable, Tile: a, Err: errors.New("tile outside of the grid")}
	}
	if d.coalesce {
		return d.shared(ctx, a)
	}

	if !d.acquire(a) {
		downloads.WithLabelValues("in_progress").Inc()
		return nil, &DownloadError{Kind: KindInProgress, Tile: a}
	}
	defer d.release(a)

	return d.fetch(ctx, a)
}

// acquire inserts a into the in-flight set. It reports false if a is already there.
func (d *Downloader) acquire(a tile.Address) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[a]; busy {
		return false
	}
	d.inFlight[a] = struct{}{}
	return true
}

func (d *Downloader) release(a tile.Address) {
	d.mu.Lock()
	delete(d.inFlight, a)
	d.mu.Unlock()
}

func (d *Downloader) shared(ctx context.Context, a tile.Address) ([]byte, error) {
	key := d.template + "|" + a.String()
	v, err, shared := d.group.Do(key, func() (any, error) {
		// joiners must not lose the result because the first caller went away
		return d.fetch(context.WithoutCancel(ctx), a)
	})
	if err != nil {
		return nil, err
	}
	data := v.([]byte)
	if shared {
		data = bytes.Clone(data)
	}
	return data, nil
}

func (d *Downloader) fetch(ctx context.Context, a tile.Address) ([]byte, error) {
	url := tile.ExpandURL(d.template, a)

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, d.unavailable(a, url, 0, fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, d.unavailable(a, url, 0, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	for key, value := range d.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, d.unavailable(a, url, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, d.unavailable(a, url, resp.StatusCode, nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, d.unavailable(a, url, 0, fmt.Errorf("read body: %w", err))
	}
	if len(data) <= d.minBodySize {
		return nil, d.unavailable(a, url, 0, fmt.Errorf("body of %d bytes looks like a placeholder", len(data)))
	}

	downloadDuration.Observe(time.Since(start).Seconds())
	downloads.WithLabelValues("ok").Inc()
	d.logger.Debug("downloaded tile", zap.Stringer("tile", a), zap.Int("bytes", len(data)))
	return data, nil
}

func (d *Downloader) unavailable(a tile.Address, url string, status int, err error) error {
	downloads.WithLabelValues("unavailable").Inc()
	d.logger.Debug("tile unavailable", zap.Stringer("tile", a), zap.String("url", url), zap.Int("status", status), zap.Error(err))
	return &DownloadError{Kind: KindUnavailable, Tile: a, URL: url, StatusCode: status, Err: err}
}
