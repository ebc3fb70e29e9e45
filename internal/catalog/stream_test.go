package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
)

func TestStream_LoadingThenSnapshotThenChanges(t *testing.T) {
	store := newMemStore(product("a", "Lamp", "desk", "Home & Garden", time.Hour))
	feed := newFakeFeed()
	s := NewStream(store, feed, StreamOptions{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	require.True(t, recv(t, ch).IsLoading())
	snap, ok := recv(t, ch).Value()
	require.True(t, ok)
	require.Equal(t, []string{"a"}, ids(snap.Products))

	newer := product("b", "Chair", "oak", "Home & Garden", time.Minute)
	require.NoError(t, store.Upsert(ctx, &newer))
	feed.events <- model.ChangeEvent{ProductID: "b", Op: model.OpInsert}

	snap, ok = recv(t, ch).Value()
	require.True(t, ok)
	require.Equal(t, []string{"b", "a"}, ids(snap.Products))

	latest, ok := s.Latest()
	require.True(t, ok)
	require.Equal(t, snap.Products, latest.Products)
}

func TestStream_ConsumersShareOneFeedAndReleaseIt(t *testing.T) {
	store := newMemStore(product("a", "Lamp", "desk", "Home & Garden", time.Hour))
	feed := newFakeFeed()
	s := NewStream(store, feed, StreamOptions{}, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	a := s.Subscribe(ctxA)
	recv(t, a)
	first, _ := recv(t, a).Value()

	b := s.Subscribe(ctxB)
	require.True(t, recv(t, b).IsLoading())
	replayed, ok := recv(t, b).Value()
	require.True(t, ok)
	require.Equal(t, first.Products, replayed.Products)
	require.Equal(t, int32(1), feed.subs.Load())

	cancelA()
	for range a {
	}
	require.Equal(t, int32(1), feed.active.Load())

	cancelB()
	for range b {
	}
	require.Eventually(t, func() bool { return feed.active.Load() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Consumers() == 0 }, time.Second, 5*time.Millisecond)
	_, ok = s.Latest()
	require.False(t, ok)
}

func TestStream_FeedErrorStaysFailed(t *testing.T) {
	store := newMemStore()
	feed := newFakeFeed()
	s := NewStream(store, feed, StreamOptions{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)
	recv(t, ch)
	recv(t, ch)

	feed.events <- model.ChangeEvent{Err: errors.New("socket closed")}
	e, ok := recv(t, ch).Err()
	require.True(t, ok)
	require.Equal(t, errs.KindRemoteUnavailable, e.Kind)
	quiet(t, ch)
	require.Equal(t, int32(1), feed.subs.Load())
	require.Eventually(t, func() bool { return feed.active.Load() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStream_InitialListFailure(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("timeout")
	s := NewStream(store, newFakeFeed(), StreamOptions{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)
	require.True(t, recv(t, ch).IsLoading())
	require.True(t, recv(t, ch).IsFailure())
}

func TestStream_ResubscribesAfterDelay(t *testing.T) {
	store := newMemStore(product("a", "Lamp", "desk", "Home & Garden", time.Hour))
	feed := newFakeFeed()
	s := NewStream(store, feed, StreamOptions{ResubscribeAfter: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)
	recv(t, ch)
	recv(t, ch)

	feed.events <- model.ChangeEvent{Err: errors.New("socket closed")}
	require.True(t, recv(t, ch).IsFailure())
	require.True(t, recv(t, ch).IsLoading())
	snap, ok := recv(t, ch).Value()
	require.True(t, ok)
	require.Len(t, snap.Products, 1)
	require.Equal(t, int32(2), feed.subs.Load())
}
