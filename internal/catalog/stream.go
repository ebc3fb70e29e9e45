package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/market-keeper/internal/broadcast"
	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
	"github.com/and161185/market-keeper/internal/result"
)

// StreamOptions tune a Stream.
type StreamOptions struct {
	// ResubscribeAfter > 0 retries the feed after that delay following a
	// failure. Zero leaves the stream failed until every consumer detaches.
	ResubscribeAfter time.Duration
	// Buffer bounds each consumer's pending snapshots.
	Buffer int
}

// Stream is a shared subscription to the catalog. Every consumer sees Loading,
// then a full snapshot after the initial read and after each change.
type Stream struct {
	store repository.ProductRepository
	feed  repository.ChangeFeed
	opts  StreamOptions
	log   *zap.Logger
	hub   *broadcast.Hub[result.State[model.Snapshot]]
}

// NewStream wires a stream over store and its change feed.
func NewStream(store repository.ProductRepository, feed repository.ChangeFeed, opts StreamOptions, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stream{store: store, feed: feed, opts: opts, log: log}
	s.hub = broadcast.New(s.run, broadcast.Options[result.State[model.Snapshot]]{
		Initial: result.Loading[model.Snapshot](),
		Replay:  true,
		Skip:    result.State[model.Snapshot].IsLoading,
		Buffer:  opts.Buffer,
	})
	return s
}

// Subscribe attaches a consumer until ctx is done.
func (s *Stream) Subscribe(ctx context.Context) <-chan result.State[model.Snapshot] {
	return s.hub.Subscribe(ctx)
}

// Latest returns the last snapshot of the live subscription, if any.
func (s *Stream) Latest() (model.Snapshot, bool) {
	st, ok := s.hub.Last()
	if !ok {
		return model.Snapshot{}, false
	}
	return st.Value()
}

// Consumers reports how many consumers are attached.
func (s *Stream) Consumers() int { return s.hub.Active() }

func (s *Stream) run(ctx context.Context, emit func(result.State[model.Snapshot])) {
	for {
		emit(result.Loading[model.Snapshot]())
		err := s.follow(ctx, emit)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("catalog stream failed", zap.Error(err))
		emit(result.FromError[model.Snapshot](fmt.Errorf("%w: %v", errs.ErrUnavailable, err)))

		if s.opts.ResubscribeAfter <= 0 {
			<-ctx.Done()
			return
		}
		select {
		case <-time.After(s.opts.ResubscribeAfter):
			s.log.Info("resubscribing to catalog")
		case <-ctx.Done():
			return
		}
	}
}

// follow listens before the first read so no change between the two is lost.
// The feed is fully released before follow returns.
func (s *Stream) follow(ctx context.Context, emit func(result.State[model.Snapshot])) error {
	fctx, cancel := context.WithCancel(ctx)
	changes, err := s.feed.Subscribe(fctx)
	if err != nil {
		cancel()
		return err
	}
	defer func() {
		cancel()
		for range changes {
		}
	}()

	if err := s.publish(ctx, emit); err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-changes:
			if !ok {
				return errors.New("change feed closed")
			}
			if ev.Err != nil {
				return ev.Err
			}
			if err := drain(changes); err != nil {
				return err
			}
			s.log.Debug("catalog changed", zap.String("id", ev.ProductID), zap.String("op", ev.Op))
			if err := s.publish(ctx, emit); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) publish(ctx context.Context, emit func(result.State[model.Snapshot])) error {
	snap, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}
	emit(result.Success(snap))
	return nil
}

// drain consumes already queued events; one re-read covers them all.
func drain(changes <-chan model.ChangeEvent) error {
	for {
		select {
		case ev, ok := <-changes:
			if !ok {
				return errors.New("change feed closed")
			}
			if ev.Err != nil {
				return ev.Err
			}
		default:
			return nil
		}
	}
}
