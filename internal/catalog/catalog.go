package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
	"github.com/and161185/market-keeper/internal/result"
)

// Catalog answers one-shot reads, preferring the live snapshot.
type Catalog struct {
	store  repository.ProductRepository
	stream *Stream
}

// New returns a Catalog. stream may be nil.
func New(store repository.ProductRepository, stream *Stream) *Catalog {
	return &Catalog{store: store, stream: stream}
}

// Search filters the catalog with Apply. Without a live snapshot it reads
// the store once, narrowing by category on the server when one is given.
func (c *Catalog) Search(ctx context.Context, query, category string) result.State[[]model.Product] {
	if c.stream != nil {
		if snap, ok := c.stream.Latest(); ok {
			return result.Success(Apply(snap, query, category))
		}
	}
	var snap model.Snapshot
	if category != "" {
		products, err := c.store.ListByCategory(ctx, category)
		if err != nil {
			return result.FromError[[]model.Product](unavailable(err))
		}
		snap.Products = products
	} else {
		var err error
		if snap, err = c.store.List(ctx); err != nil {
			return result.FromError[[]model.Product](unavailable(err))
		}
	}
	return result.Success(Apply(snap, query, category))
}

// Get reads one product from the store.
func (c *Catalog) Get(ctx context.Context, id string) result.State[model.Product] {
	p, err := c.store.Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return result.Fail[model.Product](errs.KindNotFound, "product not found")
	}
	if err != nil {
		return result.FromError[model.Product](unavailable(err))
	}
	return result.Success(*p)
}

// Watch maps the live stream through Apply. Without a stream it emits a
// single failure and closes.
func (c *Catalog) Watch(ctx context.Context, query, category string) <-chan result.State[[]model.Product] {
	if c.stream == nil {
		out := make(chan result.State[[]model.Product], 1)
		out <- result.Fail[[]model.Product](errs.KindRemoteUnavailable, "catalog stream not configured")
		close(out)
		return out
	}
	in := c.stream.Subscribe(ctx)
	out := make(chan result.State[[]model.Product])
	go func() {
		defer close(out)
		for st := range in {
			mapped := result.Map(st, func(s model.Snapshot) []model.Product { return Apply(s, query, category) })
			select {
			case out <- mapped:
			case <-ctx.Done():
				for range in {
				}
				return
			}
		}
	}()
	return out
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
}
