package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kiesman99/tilevas/internal/cache"
	"github.com/kiesman99/tilevas/internal/config"
	"github.com/kiesman99/tilevas/internal/loader"
	"github.com/kiesman99/tilevas/internal/logger"
	"github.com/kiesman99/tilevas/internal/render"
	"github.com/kiesman99/tilevas/internal/render/vector"
	"github.com/kiesman99/tilevas/internal/stitcher"
	"github.com/kiesman99/tilevas/internal/telemetry"
)

const appName = "tilevas"

// version is set at build time with -ldflags "-X github.com/kiesman99/tilevas/cmd.version=..."
var version = "dev"

// app holds the tile pipeline shared by all commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	cache    cache.Cache
	loader   *loader.CachedLoader
	renderer render.Renderer
	pool     *loader.Pool
	stitcher *stitcher.Stitcher

	shutdownTracer telemetry.ShutdownFunc
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}).With(zap.String("app", appName), zap.String("source", cfg.Source.Name))

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Tracing.Endpoint, appName, version, log)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(ctx, cfg.CacheOptions(), cfg.Source.URL, log)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("open %s cache: %w", cfg.Cache.Backend, err)
	}

	opts := []loader.Option{
		loader.WithRate(cfg.Download.Rate),
		loader.WithUserAgent(cfg.Download.UserAgent),
		loader.WithHTTPClient(&http.Client{Timeout: cfg.Download.Timeout}),
		loader.WithLogger(log),
	}
	if cfg.Download.Coalesce {
		opts = append(opts, loader.WithCoalescing())
	}
	downloader := loader.NewDownloader(cfg.Source.URL, opts...)
	l := loader.NewCachedLoader(c, downloader, log)

	r, err := newRenderer(cfg, log)
	if err != nil {
		_ = c.Close()
		_ = shutdownTracer(ctx)
		return nil, err
	}

	pool := loader.NewPool(l, r, cfg.Download.Workers, log)

	log.Debug("pipeline ready",
		zap.String("url", cfg.Source.URL),
		zap.String("type", cfg.Source.Type),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("renderer", r.Name()))

	return &app{
		cfg:            cfg,
		logger:         log,
		cache:          c,
		loader:         l,
		renderer:       r,
		pool:           pool,
		stitcher:       stitcher.New(pool, log),
		shutdownTracer: shutdownTracer,
	}, nil
}

// newRenderer picks the renderer from the configured source type.
func newRenderer(cfg *config.Config, log *zap.Logger) (render.Renderer, error) {
	if !cfg.IsVector() {
		return render.NewRaster(), nil
	}

	style, err := config.LoadStyle(cfg.StylePath)
	if err != nil {
		return nil, err
	}
	return vector.New(
		vector.WithStyleStore(vector.NewStyleStore(style)),
		vector.WithLogger(log),
	)
}

func (a *app) Close(ctx context.Context) error {
	err := errors.Join(a.cache.Close(), a.shutdownTracer(ctx))
	_ = a.logger.Sync()
	return err
}
