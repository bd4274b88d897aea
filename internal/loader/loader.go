// Package loader turns tile addresses into encoded tile bytes: cache first,
// network second, with write-through.
package loader

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kiesman99/tilevas/internal/cache"
	"github.com/kiesman99/tilevas/pkg/tile"
)

const tracerName = "github.com/kiesman99/tilevas/internal/loader"

// Source restricts where CachedLoader may look for a tile.
type Source int

const (
	SourceAll Source = iota
	SourceDownload
	SourceCache
)

func (s Source) String() string {
	switch s {
	case SourceDownload:
		return "download"
	case SourceCache:
		return "cache"
	default:
		return "all"
	}
}

// TileFetcher is anything that can produce the encoded bytes of a tile.
type TileFetcher interface {
	TileData(ctx context.Context, a tile.Address) ([]byte, error)
}

// CachedLoader composes a cache and a downloader with write-through semantics.
type CachedLoader struct {
	cache      cache.Cache
	downloader TileFetcher
	logger     *zap.Logger
	tracer     trace.Tracer
}

var _ TileFetcher = (*CachedLoader)(nil)

func NewCachedLoader(c cache.Cache, d TileFetcher, logger *zap.Logger) *CachedLoader {
	if c == nil {
		c = cache.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLoader{
		cache:      c,
		downloader: d,
		logger:     logger.Named("loader"),
		tracer:     otel.Tracer(tracerName),
	}
}

// TileData returns the tile from the cache or downloads it.
func (l *CachedLoader) TileData(ctx context.Context, a tile.Address) ([]byte, error) {
	return l.TileDataFrom(ctx, a, SourceAll)
}

// TileDataFrom is TileData limited to one source. SourceDownload skips the
// cache read but still writes the result through.
func (l *CachedLoader) TileDataFrom(ctx context.Context, a tile.Address, src Source) ([]byte, error) {
	ctx, span := l.tracer.Start(ctx, "CachedLoader.TileData", trace.WithAttributes(
		attribute.String("tile", a.String()),
		attribute.String("source", src.String()),
	))
	defer span.End()

	if src != SourceDownload {
		data, err := l.cache.Get(ctx, a)
		if err == nil {
			cacheHits.Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return data, nil
		}
		cacheMisses.Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))

		if src == SourceCache {
			return nil, fmt.Errorf("%w: %s is not cached", ErrTileNotAvailable, a)
		}
	}

	data, err := l.downloader.TileData(ctx, a)
	if err != nil {
		if !IsInProgress(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	l.cache.Put(ctx, a, data)
	return data, nil
}
