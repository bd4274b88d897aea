// Package cache stores encoded tile bytes keyed by tile address and by the
// tile source they were downloaded from.
//
// Caches are best effort. Put never reports failures to the caller, they are
// logged instead, and Get answers ErrNotFound for anything it cannot serve.
package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/kiesman99/tilevas/pkg/tile"
)

// ErrNotFound is returned by Get on a miss or when caching is disabled.
var ErrNotFound = errors.New("tile not in cache")

// Cache is a byte store for encoded tiles.
type Cache interface {
	Get(ctx context.Context, a tile.Address) ([]byte, error)
	Put(ctx context.Context, a tile.Address, data []byte)
	Close() error
}

var apiKeyPattern = regexp.MustCompile(`[Kk]ey=([A-Za-z0-9_-]*)`)

// SourceKey derives the namespace for a tile URL template. API keys embedded
// in the template are masked so that rotating a key keeps the cache.
func SourceKey(template string) string {
	masked := apiKeyPattern.ReplaceAllString(template, "*")
	return strconv.FormatUint(xxhash.Sum64String(masked), 10)
}

func entryKey(source string, a tile.Address) string {
	return fmt.Sprintf("%s/%s", source, fileName(a))
}

func fileName(a tile.Address) string {
	return fmt.Sprintf("%d_%d_%d.png", a.Zoom, a.X, a.Y)
}
