package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kiesman99/tilevas/pkg/tile"
)

// RedisCache stores tiles as plain string values. A zero TTL keeps them forever.
type RedisCache struct {
	client redis.UniversalClient
	source string
	ttl    time.Duration
	logger *zap.Logger
}

var _ Cache = (*RedisCache)(nil)

// OpenRedisCache connects to a redis:// URL and checks the connection.
func OpenRedisCache(ctx context.Context, url, template string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCache(client, template, ttl, logger), nil
}

func NewRedisCache(client redis.UniversalClient, template string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client: client,
		source: SourceKey(template),
		ttl:    ttl,
		logger: logger.Named("redis-cache"),
	}
}

func (c *RedisCache) key(a tile.Address) string {
	return "tilevas:" + entryKey(c.source, a)
}

func (c *RedisCache) Get(ctx context.Context, a tile.Address) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(a)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		c.logger.Warn("failed to read cached tile", zap.Stringer("tile", a), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return data, nil
}

func (c *RedisCache) Put(ctx context.Context, a tile.Address, data []byte) {
	if err := c.client.Set(ctx, c.key(a), data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache tile", zap.Stringer("tile", a), zap.Error(err))
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
