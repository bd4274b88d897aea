package cache

import (
	"context"
	"errors"

	"github.com/kiesman99/tilevas/pkg/tile"
)

// Tiered puts a fast cache in front of a durable one. Hits in the back are
// promoted to the front.
type Tiered struct {
	front Cache
	back  Cache
}

var _ Cache = (*Tiered)(nil)

func NewTiered(front, back Cache) *Tiered {
	return &Tiered{front: front, back: back}
}

func (t *Tiered) Get(ctx context.Context, a tile.Address) ([]byte, error) {
	if data, err := t.front.Get(ctx, a); err == nil {
		return data, nil
	}
	data, err := t.back.Get(ctx, a)
	if err != nil {
		return nil, err
	}
	t.front.Put(ctx, a, data)
	return data, nil
}

func (t *Tiered) Put(ctx context.Context, a tile.Address, data []byte) {
	t.back.Put(ctx, a, data)
	t.front.Put(ctx, a, data)
}

func (t *Tiered) Close() error {
	return errors.Join(t.front.Close(), t.back.Close())
}

// Disabled never stores anything.
type Disabled struct{}

var _ Cache = Disabled{}

func (Disabled) Get(context.Context, tile.Address) ([]byte, error) { return nil, ErrNotFound }
func (Disabled) Put(context.Context, tile.Address, []byte)        {}
func (Disabled) Close() error                                      { return nil }
