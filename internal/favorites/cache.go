// Package favorites is the local, persistent set of bookmarked products.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/market-keeper/internal/broadcast"
	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/keylock"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
	"github.com/and161185/market-keeper/internal/result"
)

// Cache serves live views over a FavoriteRepository. Mutations of one id are
// serialized; every mutation refreshes all open List and Contains streams.
type Cache struct {
	store repository.FavoriteRepository
	locks keylock.Map
	log   *zap.Logger
	now   func() time.Time

	mu      sync.Mutex
	changed chan struct{}

	list *broadcast.Hub[result.State[[]model.FavoriteEntry]]
}

// New returns a Cache over store.
func New(store repository.FavoriteRepository, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{store: store, log: log, now: time.Now, changed: make(chan struct{})}
	c.list = broadcast.New(c.runList, broadcast.Options[result.State[[]model.FavoriteEntry]]{
		Initial: result.Loading[[]model.FavoriteEntry](),
		Replay:  true,
		Skip:    result.State[[]model.FavoriteEntry].IsLoading,
	})
	return c
}

// List streams all entries, most recently added first.
func (c *Cache) List(ctx context.Context) <-chan result.State[[]model.FavoriteEntry] {
	return c.list.Subscribe(ctx)
}

// Contains streams whether id is a favorite. Repeated values are suppressed.
func (c *Cache) Contains(ctx context.Context, id string) <-chan result.State[bool] {
	in := c.list.Subscribe(ctx)
	out := make(chan result.State[bool])
	go func() {
		defer close(out)
		var prev result.State[bool]
		sent := false
		for st := range in {
			cur := result.Map(st, func(es []model.FavoriteEntry) bool { return hasID(es, id) })
			if sent && same(prev, cur) {
				continue
			}
			select {
			case out <- cur:
				prev, sent = cur, true
			case <-ctx.Done():
				for range in {
				}
				return
			}
		}
	}()
	return out
}

// Get returns one entry.
func (c *Cache) Get(ctx context.Context, id string) result.State[model.FavoriteEntry] {
	e, err := c.store.Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return result.Fail[model.FavoriteEntry](errs.KindNotFound, "favorite not found")
	}
	if err != nil {
		return result.FromError[model.FavoriteEntry](err)
	}
	return result.Success(*e)
}

// Add stores a fresh copy of p stamped with the current time.
func (c *Cache) Add(ctx context.Context, p model.Product) error {
	defer c.locks.Lock(p.ID)()
	if err := c.store.Put(ctx, model.NewFavoriteEntry(p, c.now())); err != nil {
		return fmt.Errorf("add favorite %s: %w", p.ID, err)
	}
	c.notify()
	return nil
}

// Remove deletes the entry for id; removing an absent id is a no-op.
func (c *Cache) Remove(ctx context.Context, id string) error {
	defer c.locks.Lock(id)()
	existed, err := c.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("remove favorite %s: %w", id, err)
	}
	if existed {
		c.notify()
	}
	return nil
}

// Toggle flips membership of p and returns the new membership.
func (c *Cache) Toggle(ctx context.Context, p model.Product) result.State[bool] {
	defer c.locks.Lock(p.ID)()

	_, err := c.store.Get(ctx, p.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		if err := c.store.Put(ctx, model.NewFavoriteEntry(p, c.now())); err != nil {
			return result.FromError[bool](err)
		}
		c.notify()
		return result.Success(true)
	case err != nil:
		return result.FromError[bool](err)
	}
	if _, err := c.store.Delete(ctx, p.ID); err != nil {
		return result.FromError[bool](err)
	}
	c.notify()
	return result.Success(false)
}

func (c *Cache) runList(ctx context.Context, emit func(result.State[[]model.FavoriteEntry])) {
	emit(result.Loading[[]model.FavoriteEntry]())
	for {
		wait := c.signal()
		entries, err := c.store.List(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.Warn("list favorites", zap.Error(err))
		}
		emit(result.Of(entries, err))
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) signal() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *Cache) notify() {
	c.mu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

func hasID(es []model.FavoriteEntry, id string) bool {
	for _, e := range es {
		if e.ID == id {
			return true
		}
	}
	return false
}

func same(a, b result.State[bool]) bool {
	av, aok := a.Value()
	bv, bok := b.Value()
	if aok || bok {
		return aok && bok && av == bv
	}
	ae, aFailed := a.Err()
	be, bFailed := b.Err()
	return aFailed == bFailed && ae == be
}
