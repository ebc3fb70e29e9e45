package catalog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
)

type memStore struct {
	mu       sync.Mutex
	products map[string]model.Product
	version  int64
	listErr  error

	lists   atomic.Int32
	byCat   atomic.Int32
	lastCat string
}

var _ repository.ProductRepository = (*memStore)(nil)

func newMemStore(ps ...model.Product) *memStore {
	m := &memStore{products: map[string]model.Product{}}
	for _, p := range ps {
		m.products[p.ID] = p
	}
	return m
}

func (m *memStore) sorted() []model.Product {
	out := make([]model.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) List(context.Context) (model.Snapshot, error) {
	m.lists.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return model.Snapshot{}, m.listErr
	}
	return model.Snapshot{Products: m.sorted(), Version: m.version, At: time.Now()}, nil
}

func (m *memStore) Get(_ context.Context, id string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) Upsert(_ context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = *p
	m.version++
	return nil
}

func (m *memStore) ListByCategory(_ context.Context, category string) ([]model.Product, error) {
	m.byCat.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCat = category
	var out []model.Product
	for _, p := range m.sorted() {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeFeed struct {
	events chan model.ChangeEvent
	subErr error

	subs   atomic.Int32
	active atomic.Int32
}

var _ repository.ChangeFeed = (*fakeFeed)(nil)

func newFakeFeed() *fakeFeed { return &fakeFeed{events: make(chan model.ChangeEvent)} }

func (f *fakeFeed) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subs.Add(1)
	f.active.Add(1)
	out := make(chan model.ChangeEvent)
	go func() {
		defer f.active.Add(-1)
		defer close(out)
		for {
			select {
			case ev := <-f.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func product(id, title, desc, category string, age time.Duration) model.Product {
	return model.Product{
		ID:          id,
		Title:       title,
		Description: desc,
		Price:       decimal.NewFromInt(10),
		Images:      []string{"http://blob/" + id},
		Category:    category,
		Timestamp:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC).Add(-age),
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stream value")
		var zero T
		return zero
	}
}

func quiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected emission %v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
