package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kiesman99/tilevas/pkg/tile"
)

// FileCache keeps tiles as files under <root>/<source key>/<zoom>_<x>_<y>.png.
// The .png suffix is kept for vector payloads too. Nothing is ever evicted.
type FileCache struct {
	dir    string
	logger *zap.Logger
}

var _ Cache = (*FileCache)(nil)

// NewFileCache creates a file cache for tiles of the given URL template.
func NewFileCache(root, template string, logger *zap.Logger) *FileCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileCache{
		dir:    filepath.Join(root, SourceKey(template)),
		logger: logger.Named("file-cache"),
	}
}

// Dir returns the directory holding this source's tiles.
func (c *FileCache) Dir() string {
	return c.dir
}

func (c *FileCache) path(a tile.Address) string {
	return filepath.Join(c.dir, fileName(a))
}

func (c *FileCache) Get(_ context.Context, a tile.Address) ([]byte, error) {
	data, err := os.ReadFile(c.path(a))
	if err == nil {
		return data, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	c.logger.Warn("failed to read cached tile", zap.Stringer("tile", a), zap.Error(err))
	return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
}

func (c *FileCache) Put(_ context.Context, a tile.Address, data []byte) {
	if err := c.write(a, data); err != nil {
		c.logger.Warn("failed to cache tile", zap.Stringer("tile", a), zap.Error(err))
	}
}

// write stores data through a temp file so readers never see a partial tile.
func (c *FileCache) write(a tile.Address, data []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".tile-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), c.path(a))
}

func (c *FileCache) Close() error {
	return nil
}
