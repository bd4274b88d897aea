package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/kiesman99/tilevas/pkg/tile"
)

// BlobCache stores tiles in a gocloud bucket, e.g. file:///var/cache/tiles or s3://bucket.
type BlobCache struct {
	bucket *blob.Bucket
	source string
	logger *zap.Logger
}

var _ Cache = (*BlobCache)(nil)

// OpenBlobCache opens the bucket behind url.
func OpenBlobCache(ctx context.Context, url, template string, logger *zap.Logger) (*BlobCache, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", url, err)
	}
	return NewBlobCache(bucket, template, logger), nil
}

func NewBlobCache(bucket *blob.Bucket, template string, logger *zap.Logger) *BlobCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobCache{
		bucket: bucket,
		source: SourceKey(template),
		logger: logger.Named("blob-cache"),
	}
}

func (c *BlobCache) Get(ctx context.Context, a tile.Address) ([]byte, error) {
	data, err := c.bucket.ReadAll(ctx, entryKey(c.source, a))
	if err == nil {
		return data, nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, ErrNotFound
	}
	c.logger.Warn("failed to read cached tile", zap.Stringer("tile", a), zap.Error(err))
	return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
}

func (c *BlobCache) Put(ctx context.Context, a tile.Address, data []byte) {
	opts := &blob.WriterOptions{ContentType: "application/octet-stream"}
	if err := c.bucket.WriteAll(ctx, entryKey(c.source, a), data, opts); err != nil {
		c.logger.Warn("failed to cache tile", zap.Stringer("tile", a), zap.Error(err))
	}
}

func (c *BlobCache) Close() error {
	return c.bucket.Close()
}
