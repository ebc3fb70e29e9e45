// Package natsfeed carries catalog change events over a NATS subject.
package natsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
)

// DefaultSubject is used when none is configured.
const DefaultSubject = "market.catalog.changes"

// ErrClosed is delivered to subscribers once the connection is closed for good.
var ErrClosed = errors.New("nats connection closed")

type transport interface {
	subscribe(subject string, ch chan *nats.Msg) (unsubscribe func() error, err error)
	publish(subject string, data []byte) error
	// closed is closed when the connection will not reconnect again.
	closed() <-chan struct{}
}

type natsTransport struct {
	nc   *nats.Conn
	done chan struct{}
}

func newNATSTransport(nc *nats.Conn) natsTransport {
	t := natsTransport{nc: nc, done: make(chan struct{})}
	var once sync.Once
	stop := func() { once.Do(func() { close(t.done) }) }
	nc.SetClosedHandler(func(*nats.Conn) { stop() })
	if nc.IsClosed() {
		stop()
	}
	return t
}

func (t natsTransport) closed() <-chan struct{} { return t.done }

func (t natsTransport) subscribe(subject string, ch chan *nats.Msg) (func() error, error) {
	sub, err := t.nc.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (t natsTransport) publish(subject string, data []byte) error {
	return t.nc.Publish(subject, data)
}

// Feed is both a ChangeFeed and a ChangeAnnouncer.
type Feed struct {
	t       transport
	subject string
	log     *zap.Logger
}

var (
	_ repository.ChangeFeed      = (*Feed)(nil)
	_ repository.ChangeAnnouncer = (*Feed)(nil)
)

// Connect dials url and keeps reconnecting in the background.
func Connect(url, name string, log *zap.Logger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// New returns a feed on subject.
func New(nc *nats.Conn, subject string, log *zap.Logger) *Feed {
	return newFeed(newNATSTransport(nc), subject, log)
}

func newFeed(t transport, subject string, log *zap.Logger) *Feed {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{t: t, subject: subject, log: log}
}

func (f *Feed) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	msgs := make(chan *nats.Msg, 64)
	unsubscribe, err := f.t.subscribe(f.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", f.subject, err)
	}

	out := make(chan model.ChangeEvent)
	go func() {
		defer close(out)
		defer func() {
			if err := unsubscribe(); err != nil {
				f.log.Debug("unsubscribe", zap.String("subject", f.subject), zap.Error(err))
			}
		}()
		for {
			select {
			case m := <-msgs:
				var ev model.ChangeEvent
				if err := json.Unmarshal(m.Data, &ev); err != nil || ev.Op == "" {
					f.log.Warn("malformed change event", zap.ByteString("data", m.Data))
					ev = model.ChangeEvent{ProductID: ev.ProductID, Op: model.OpUpdate}
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-f.t.closed():
				f.log.Warn("change feed closed", zap.String("subject", f.subject))
				select {
				case out <- model.ChangeEvent{Err: fmt.Errorf("%s: %w", f.subject, ErrClosed)}:
				case <-ctx.Done():
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *Feed) Announce(_ context.Context, ev model.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := f.t.publish(f.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", f.subject, err)
	}
	return nil
}
