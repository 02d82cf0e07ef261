// ABOUTME: In-process relay bus fanning envelopes out to subscribed hubs
// ABOUTME: Lets several hubs in one process share deliveries without a broker

package relay

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the envelope buffer for each subscriber.
const subscriberBufferSize = 64

// LocalBus implements Bus in memory. Each subscriber gets its own buffered
// channel drained by a goroutine; envelopes for a full subscriber are dropped.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Envelope // subID -> ch
	wg          sync.WaitGroup
	closed      bool
	logger      *slog.Logger
}

// NewLocalBus creates a bus. Pass nil logger for default.
func NewLocalBus(logger *slog.Logger) *LocalBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBus{
		subscribers: make(map[string]chan Envelope),
		logger:      logger.With("component", "relay-localbus"),
	}
}

// Subscribe registers handler. Handlers run on the subscriber's own goroutine,
// one envelope at a time.
func (b *LocalBus) Subscribe(handler func(Envelope)) (func(), error) {
	subID := uuid.NewString()
	ch := make(chan Envelope, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.subscribers[subID] = ch
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for env := range ch {
			handler(env)
		}
	}()

	b.logger.Debug("subscriber added", "sub_id", subID)
	return func() { b.unsubscribe(subID) }, nil
}

// Publish hands env to every subscriber without blocking.
func (b *LocalBus) Publish(env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- env:
		default:
			b.logger.Warn("dropped envelope for slow subscriber",
				"sub_id", id,
				"receiver", env.ReceiverID)
		}
	}
	return nil
}

func (b *LocalBus) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes every subscriber and waits for their handlers to finish.
func (b *LocalBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Debug("local bus closed")
}
