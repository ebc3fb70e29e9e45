package repository

import (
	"context"

	"github.com/and161185/market-keeper/internal/model"
)

// FavoriteRepository is the local key-value store behind the favorites cache.
type FavoriteRepository interface {
	// Put inserts or replaces the entry for e.ID.
	Put(ctx context.Context, e model.FavoriteEntry) error
	// Delete removes the entry and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Get loads one entry; a missing one yields errs.ErrNotFound.
	Get(ctx context.Context, id string) (*model.FavoriteEntry, error)
	// List returns all entries, most recently added first.
	List(ctx context.Context) ([]model.FavoriteEntry, error)
}
