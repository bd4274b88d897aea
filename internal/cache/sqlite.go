package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/kiesman99/tilevas/pkg/tile"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteCache stores tiles in a single SQLite database shared by all sources.
type SQLiteCache struct {
	db     *sql.DB
	source string
	logger *zap.Logger
}

var _ Cache = (*SQLiteCache)(nil)

// NewSQLiteCache opens dsn and migrates the schema.
func NewSQLiteCache(ctx context.Context, dsn, template string, logger *zap.Logger) (*SQLiteCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteCache{
		db:     db,
		source: SourceKey(template),
		logger: logger.Named("sqlite-cache"),
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate sqlite cache: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Get(ctx context.Context, a tile.Address) ([]byte, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT data FROM tiles WHERE source = ? AND zoom = ? AND x = ? AND y = ?`,
		c.source, a.Zoom, a.X, a.Y,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		c.logger.Warn("failed to read cached tile", zap.Stringer("tile", a), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return data, nil
}

func (c *SQLiteCache) Put(ctx context.Context, a tile.Address, data []byte) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO tiles (source, zoom, x, y, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (source, zoom, x, y) DO UPDATE SET data = excluded.data, created_at = CURRENT_TIMESTAMP`,
		c.source, a.Zoom, a.X, a.Y, data,
	)
	if err != nil {
		c.logger.Warn("failed to cache tile", zap.Stringer("tile", a), zap.Error(err))
	}
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
