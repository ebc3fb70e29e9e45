package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/and161185/market-keeper/internal/model"
)

// CatalogChannel is the NOTIFY channel fed by the products trigger.
const CatalogChannel = "catalog_changes"

// notifyConn is the part of *pgx.Conn a listener needs.
type notifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

type acquireFunc func(ctx context.Context) (conn notifyConn, release func(), err error)

// Listener implements ChangeFeed with LISTEN/NOTIFY on a dedicated pooled connection.
type Listener struct {
	acquire acquireFunc
	channel string
	log     *zap.Logger
}

// NewListener returns a feed listening on channel through pool.
func NewListener(pool *pgxpool.Pool, channel string, log *zap.Logger) *Listener {
	acquire := func(ctx context.Context) (notifyConn, func(), error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return c.Conn(), c.Release, nil
	}
	return newListener(acquire, channel, log)
}

func newListener(acquire acquireFunc, channel string, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{acquire: acquire, channel: channel, log: log}
}

// Subscribe holds one connection for the lifetime of ctx. The connection is
// UNLISTENed and returned to the pool before the channel closes.
func (l *Listener) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	conn, release, err := l.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		release()
		return nil, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Debug("listening", zap.String("channel", l.channel))

	out := make(chan model.ChangeEvent)
	go func() {
		defer close(out)
		defer func() {
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := conn.Exec(cctx, "UNLISTEN *"); err != nil {
				l.log.Debug("unlisten", zap.Error(err))
			}
			release()
		}()

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.log.Warn("listener failed", zap.String("channel", l.channel), zap.Error(err))
				select {
				case out <- model.ChangeEvent{Err: fmt.Errorf("wait notification: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			ev := decodeChange(n.Payload)
			if ev.ProductID == "" {
				l.log.Warn("unparsable notification", zap.String("payload", n.Payload))
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// decodeChange parses the trigger payload. A payload that cannot be parsed
// still signals that something changed.
func decodeChange(payload string) model.ChangeEvent {
	var ev model.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Op == "" {
		return model.ChangeEvent{ProductID: ev.ProductID, Op: model.OpUpdate}
	}
	return ev
}
