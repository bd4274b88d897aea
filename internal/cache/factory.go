package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend names accepted by New.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendBlob     = "blob"
	BackendDisabled = "disabled"
)

// Options selects and configures a cache backend.
type Options struct {
	Backend     string
	Dir         string
	SQLiteDSN   string
	RedisURL    string
	BlobURL     string
	MemoryItems int64
	TTL         time.Duration
	// MemoryFront puts an in-process LRU in front of a durable backend.
	MemoryFront bool
}

// New builds the cache for tiles of the given URL template.
func New(ctx context.Context, opts Options, template string, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		c   Cache
		err error
	)
	switch opts.Backend {
	case "", BackendFile:
		if opts.Dir == "" {
			return Disabled{}, nil
		}
		c = NewFileCache(opts.Dir, template, logger)
	case BackendMemory:
		return NewMemoryCache(template, opts.MemoryItems, opts.TTL), nil
	case BackendSQLite:
		c, err = NewSQLiteCache(ctx, opts.SQLiteDSN, template, logger)
	case BackendRedis:
		c, err = OpenRedisCache(ctx, opts.RedisURL, template, opts.TTL, logger)
	case BackendBlob:
		c, err = OpenBlobCache(ctx, opts.BlobURL, template, logger)
	case BackendDisabled:
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("tile cache ready", zap.String("backend", opts.Backend), zap.Bool("memory_front", opts.MemoryFront))

	if opts.MemoryFront {
		return NewTiered(NewMemoryCache(template, opts.MemoryItems, opts.TTL), c), nil
	}
	return c, nil
}
