// Package broadcast fans one upstream source out to any number of consumers.
//
// The upstream is started lazily by the first consumer and cancelled when the
// last consumer detaches. Every consumer receives the same values in the same
// order; a slow consumer never blocks the upstream or other consumers.
package broadcast

import (
	"context"
	"sync"
)

// Source produces values until ctx is done or it has nothing more to say.
// emit must not be called after Source returns.
type Source[T any] func(ctx context.Context, emit func(T))

// Options tune a Hub.
type Options[T any] struct {
	// Initial is delivered first to a consumer joining a running source. A
	// consumer that starts the source gets whatever the source emits first.
	Initial T
	// Replay delivers the last emitted value to a consumer joining a running source.
	Replay bool
	// Skip reports values that must not be replayed (e.g. a transient Loading).
	Skip func(T) bool
	// Buffer bounds the per-consumer queue. On overflow the second-oldest
	// pending value is dropped, so order and the head are preserved.
	Buffer int
}

// Hub is a ref-counted broadcast of a single Source.
type Hub[T any] struct {
	src  Source[T]
	opts Options[T]

	mu      sync.Mutex
	subs    map[*subscriber[T]]struct{}
	cancel  context.CancelFunc
	gen     uint64 // incremented per upstream run
	last    T
	hasLast bool
}

// New returns a Hub over src.
func New[T any](src Source[T], opts Options[T]) *Hub[T] {
	if opts.Buffer < 2 {
		opts.Buffer = 16
	}
	return &Hub[T]{src: src, opts: opts, subs: map[*subscriber[T]]struct{}{}}
}

// Subscribe attaches a consumer. The returned channel is closed after ctx is
// done; the upstream is released when no consumers remain.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	s := newSubscriber[T](h.opts.Buffer)

	h.mu.Lock()
	if h.cancel != nil {
		s.push(h.opts.Initial)
		if h.hasLast && h.opts.Replay && (h.opts.Skip == nil || !h.opts.Skip(h.last)) {
			s.push(h.last)
		}
	}
	h.subs[s] = struct{}{}
	if h.cancel == nil {
		h.startLocked()
	}
	h.mu.Unlock()

	go s.pump(ctx)
	go func() {
		<-s.done
		h.detach(s)
	}()
	return s.out
}

// Active reports the number of attached consumers.
func (h *Hub[T]) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Last returns the last value emitted by the running upstream.
func (h *Hub[T]) Last() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		var zero T
		return zero, false
	}
	return h.last, h.hasLast
}

func (h *Hub[T]) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.gen++
	gen := h.gen
	h.hasLast = false

	go func() {
		h.src(ctx, func(v T) { h.publish(gen, v) })
		h.mu.Lock()
		if h.gen == gen && h.cancel != nil {
			// Source finished on its own; attached consumers keep their last
			// value and the next Subscribe starts a fresh run.
			h.cancel()
			h.cancel = nil
		}
		h.mu.Unlock()
	}()
}

func (h *Hub[T]) publish(gen uint64, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return
	}
	h.last, h.hasLast = v, true
	for s := range h.subs {
		s.push(v)
	}
}

func (h *Hub[T]) detach(s *subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
	if len(h.subs) == 0 {
		if h.cancel != nil {
			h.cancel()
			h.cancel = nil
		}
		h.gen++
		h.hasLast = false
	}
}

type subscriber[T any] struct {
	mu      sync.Mutex
	pending []T
	limit   int
	wake    chan struct{}
	out     chan T
	done    chan struct{}
}

func newSubscriber[T any](limit int) *subscriber[T] {
	return &subscriber[T]{
		limit: limit,
		wake:  make(chan struct{}, 1),
		out:   make(chan T),
		done:  make(chan struct{}),
	}
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	s.pending = append(s.pending, v)
	if len(s.pending) > s.limit {
		s.pending = append(s.pending[:1], s.pending[2:]...)
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) pump(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		head := s.pending[0]
		s.mu.Unlock()

		select {
		case s.out <- head:
			s.mu.Lock()
			s.pending = s.pending[1:]
			s.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}
