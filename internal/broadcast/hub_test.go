package broadcast

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type ctlSource struct {
	in      chan int
	starts  atomic.Int32
	stopped chan struct{}
}

func newCtlSource() *ctlSource {
	return &ctlSource{in: make(chan int), stopped: make(chan struct{}, 4)}
}

func (c *ctlSource) run(ctx context.Context, emit func(int)) {
	c.starts.Add(1)
	defer func() { c.stopped <- struct{}{} }()
	emit(0)
	for {
		select {
		case v := <-c.in:
			emit(v)
		case <-ctx.Done():
			return
		}
	}
}

func recv(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for value")
		return 0
	}
}

func TestHub_BroadcastsSameValuesToAllConsumers(t *testing.T) {
	src := newCtlSource()
	h := New(src.run, Options[int]{Initial: 0, Replay: true, Skip: func(v int) bool { return v == 0 }})

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	a := h.Subscribe(ctx1)
	require.Equal(t, 0, recv(t, a))

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	b := h.Subscribe(ctx2)
	require.Equal(t, 0, recv(t, b))

	src.in <- 1
	src.in <- 2
	require.Equal(t, 1, recv(t, a))
	require.Equal(t, 2, recv(t, a))
	require.Equal(t, 1, recv(t, b))
	require.Equal(t, 2, recv(t, b))
	require.Equal(t, int32(1), src.starts.Load(), "upstream must be shared")
}

func TestHub_LateConsumerGetsInitialThenReplay(t *testing.T) {
	src := newCtlSource()
	h := New(src.run, Options[int]{Initial: 0, Replay: true, Skip: func(v int) bool { return v == 0 }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := h.Subscribe(ctx)
	recv(t, a)
	src.in <- 5
	require.Equal(t, 5, recv(t, a))

	b := h.Subscribe(ctx)
	require.Equal(t, 0, recv(t, b))
	require.Equal(t, 5, recv(t, b))

	last, ok := h.Last()
	require.True(t, ok)
	require.Equal(t, 5, last)
}

func TestHub_ReleasesUpstreamOnLastDetach(t *testing.T) {
	src := newCtlSource()
	h := New(src.run, Options[int]{})

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	a := h.Subscribe(ctx1)
	b := h.Subscribe(ctx2)
	recv(t, a)

	cancel1()
	for range a {
	}
	select {
	case <-src.stopped:
		t.Fatal("upstream stopped while a consumer is still attached")
	case <-time.After(50 * time.Millisecond):
	}

	cancel2()
	for range b {
	}
	select {
	case <-src.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream not released after last consumer detached")
	}
	require.Eventually(t, func() bool { return h.Active() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := h.Last()
	require.False(t, ok)
}

func TestHub_SlowConsumerKeepsHeadAndOrder(t *testing.T) {
	src := newCtlSource()
	h := New(src.run, Options[int]{Buffer: 3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fast := h.Subscribe(ctx)
	recv(t, fast)

	// Nobody reads a while the source pushes; its head (0) must survive.
	a := h.Subscribe(ctx)
	for i := 1; i <= 10; i++ {
		src.in <- i
		require.Equal(t, i, recv(t, fast))
	}

	got := []int{recv(t, a)}
	for len(got) < 3 {
		got = append(got, recv(t, a))
	}
	require.Equal(t, 0, got[0])
	require.Equal(t, 10, got[2])
	require.Less(t, got[1], got[2])
}
