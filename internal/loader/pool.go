package loader

import (
	"context"
	"image"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/tilevas/internal/render"
	"github.com/kiesman99/tilevas/pkg/tile"
)

// Result is the outcome of one fetch-and-render task.
type Result struct {
	Tile  tile.Address
	Image *image.RGBA
	Err   error
}

// Pool fetches and renders tiles on a bounded number of workers.
type Pool struct {
	loader   TileFetcher
	renderer render.Renderer
	workers  int
	logger   *zap.Logger
}

// NewPool creates a pool. A non-positive workers count uses GOMAXPROCS.
func NewPool(l TileFetcher, r render.Renderer, workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		loader:   l,
		renderer: r,
		workers:  workers,
		logger:   logger.Named("pool"),
	}
}

// Submit schedules tiles and returns a channel receiving one Result per tile
// in completion order. The channel is buffered for every result and closed
// after the last one, so callers may stop reading at any time.
func (p *Pool) Submit(ctx context.Context, tiles []tile.Address, scale float64) <-chan Result {
	results := make(chan Result, len(tiles))

	go func() {
		defer close(results)

		var g errgroup.Group
		g.SetLimit(p.workers)
		for _, a := range tiles {
			g.Go(func() error {
				results <- p.run(ctx, a, scale)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return results
}

func (p *Pool) run(ctx context.Context, a tile.Address, scale float64) Result {
	if err := ctx.Err(); err != nil {
		return Result{Tile: a, Err: err}
	}

	data, err := p.loader.TileData(ctx, a)
	if err != nil {
		return Result{Tile: a, Err: err}
	}

	start := time.Now()
	img, err := p.renderer.RenderScaled(a, data, scale)
	renderDuration.WithLabelValues(p.renderer.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		p.logger.Warn("failed to render tile", zap.Stringer("tile", a), zap.Error(err))
		return Result{Tile: a, Err: err}
	}
	return Result{Tile: a, Image: img}
}
