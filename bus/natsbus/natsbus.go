// Package natsbus runs the inter-server bus over NATS subjects.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kasuganosora/realmcore/bus"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bus implements bus.Bus on a NATS connection. Subjects are the channel
// names under a common prefix.
type Bus struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[*nats.Subscription]struct{}
	closed bool
}

// Connect dials url and returns a Bus publishing under prefix.
func Connect(url, prefix, name string, logger *zap.Logger) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect %s: %w", url, err)
	}
	return New(conn, prefix, logger), nil
}

// New wraps an existing connection. Close drains it.
func New(conn *nats.Conn, prefix string, logger *zap.Logger) *Bus {
	return &Bus{conn: conn, prefix: prefix, logger: logger, subs: make(map[*nats.Subscription]struct{})}
}

func (b *Bus) subject(channel string) string {
	if b.prefix == "" {
		return channel
	}
	return b.prefix + "." + channel
}

// Publish implements bus.Bus.
func (b *Bus) Publish(_ context.Context, channel string, msg any) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("natsbus: encode %s: %w", channel, err)
	}
	return b.conn.Publish(b.subject(channel), data)
}

// Subscribe implements bus.Bus. The subscription is flushed to the server
// before returning so that messages published afterwards are seen.
func (b *Bus) Subscribe(_ context.Context, channel string, h bus.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}
	sub, err := b.conn.Subscribe(b.subject(channel), func(m *nats.Msg) {
		h(context.Background(), m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("natsbus: subscribe %s: %w", channel, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("natsbus: flush %s: %w", channel, err)
	}
	b.subs[sub] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Debug("natsbus: unsubscribe", zap.String("channel", channel), zap.Error(err))
			}
		})
	}, nil
}

// Close drains the connection, letting in-flight handlers finish.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = nil
	b.mu.Unlock()
	return b.conn.Drain()
}
