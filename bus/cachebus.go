package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kasuganosora/realmcore/cache"
	"go.uber.org/zap"
)

// CacheBus runs the bus over the record store's pub/sub (Redis in
// production, the in-process broker otherwise).
type CacheBus struct {
	ps     cache.PubSub
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[int]func()
	nextID int
	closed bool
	wg     sync.WaitGroup
}

// NewCacheBus creates a CacheBus over ps.
func NewCacheBus(ps cache.PubSub, logger *zap.Logger) *CacheBus {
	return &CacheBus{ps: ps, logger: logger, subs: make(map[int]func())}
}

// Publish implements Bus.
func (b *CacheBus) Publish(ctx context.Context, channel string, msg any) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", channel, err)
	}
	return b.ps.Publish(ctx, channel, string(data))
}

// Subscribe implements Bus. Messages are handled one at a time in arrival
// order on a goroutine owned by the subscription.
func (b *CacheBus) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	msgs, unsub, err := b.ps.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", channel, err)
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsub()
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	b.subs[id] = cancel
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for m := range msgs {
			h(context.Background(), []byte(m.Payload))
		}
	}()
	return cancel, nil
}

// Close cancels every subscription and waits for the handlers to return.
func (b *CacheBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancels := make([]func(), 0, len(b.subs))
	for _, c := range b.subs {
		cancels = append(cancels, c)
	}
	b.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	b.wg.Wait()
	return nil
}
