package cache

import (
	"bytes"
	"context"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/kiesman99/tilevas/pkg/tile"
)

const (
	DefaultMemoryItems = 1024
	defaultMemoryTTL   = 24 * time.Hour
)

// MemoryCache is an in-process LRU bounded by item count.
type MemoryCache struct {
	items  *ccache.Cache[[]byte]
	source string
	ttl    time.Duration
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache(template string, maxItems int64, ttl time.Duration) *MemoryCache {
	if maxItems <= 0 {
		maxItems = DefaultMemoryItems
	}
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	return &MemoryCache{
		items:  ccache.New(ccache.Configure[[]byte]().MaxSize(maxItems).ItemsToPrune(uint32(max(maxItems/10, 1)))),
		source: SourceKey(template),
		ttl:    ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, a tile.Address) ([]byte, error) {
	item := c.items.Get(entryKey(c.source, a))
	if item == nil || item.Expired() {
		return nil, ErrNotFound
	}
	return bytes.Clone(item.Value()), nil
}

func (c *MemoryCache) Put(_ context.Context, a tile.Address, data []byte) {
	c.items.Set(entryKey(c.source, a), bytes.Clone(data), c.ttl)
}

func (c *MemoryCache) Close() error {
	c.items.Stop()
	return nil
}
