package repository

import (
	"context"

	"github.com/and161185/market-keeper/internal/model"
)

// ProductRepository is the remote document store holding the catalog.
type ProductRepository interface {
	// List materializes the whole catalog, newest first.
	List(ctx context.Context) (model.Snapshot, error)
	// Get loads one product; a missing one yields errs.ErrNotFound.
	Get(ctx context.Context, id string) (*model.Product, error)
	// Upsert writes the full document for p.ID in a single statement.
	Upsert(ctx context.Context, p *model.Product) error
	// ListByCategory is the server-side equality query on category, newest first.
	ListByCategory(ctx context.Context, category string) ([]model.Product, error)
}

// ChangeFeed is the push channel announcing catalog changes.
type ChangeFeed interface {
	// Subscribe starts listening. The channel is closed once ctx is done, after
	// the underlying listener has been released, or right after an event
	// carrying Err.
	Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error)
}

// ChangeAnnouncer publishes catalog changes for feeds that are not driven by
// the store itself.
type ChangeAnnouncer interface {
	Announce(ctx context.Context, ev model.ChangeEvent) error
}
