package realtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"menulink/pkg/models"
)

var ErrBusClosed = errors.New("change bus is closed")

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
)

// ChangeEvent is a row-level change notification. Insert events carry the
// full order; update events carry a partial patch. Delivery is at-least-once
// and ordered within a channel, so consumers must merge idempotently.
type ChangeEvent struct {
	Type  ChangeType         `json:"type"`
	Order *models.Order      `json:"order,omitempty"`
	Patch *models.OrderPatch `json:"patch,omitempty"`
}

// Channel keys. Every order mutation is published to the owning merchant's
// channel and to the single-order channel, so a merchant dashboard and a
// customer waiting on one order observe the same stream.
func MerchantChannel(publicID string) string { return "merchant:" + publicID }
func OrderChannel(orderID string) string     { return "order:" + orderID }

type Subscription struct {
	Key string
	C   chan ChangeEvent

	bus        *Bus
	once       sync.Once
	overflowed atomic.Bool
}

// Close detaches the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}

// Overflowed reports whether the bus detached this subscription because its
// buffer was full when an event arrived. Set before the channel closes, so
// a consumer draining C sees it once the range loop ends.
func (s *Subscription) Overflowed() bool {
	return s.overflowed.Load()
}

// Bus is the in-process change notification fan-out. Publish never blocks:
// a subscriber whose buffer is full has already missed an event, so its
// stream can no longer be trusted and the bus detaches it. The owner
// observes the closed channel, checks Overflowed and reconciles with a
// fresh load.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
	logger *logrus.Logger
}

func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

func (b *Bus) Subscribe(key string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		Key: key,
		C:   make(chan ChangeEvent, 64),
		bus: b,
	}
	if b.subs[key] == nil {
		b.subs[key] = make(map[*Subscription]struct{})
	}
	b.subs[key][sub] = struct{}{}
	return sub, nil
}

// Publish delivers the event to every subscriber of every given key.
// Subscribers whose buffer is full are detached rather than silently
// skipped, so a gap in the stream is always observable.
func (b *Bus) Publish(event ChangeEvent, keys ...string) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	var overflowed []*Subscription
	for _, key := range keys {
		for sub := range b.subs[key] {
			select {
			case sub.C <- event:
			default:
				overflowed = append(overflowed, sub)
			}
		}
	}
	b.mu.RUnlock()

	for _, sub := range overflowed {
		b.logger.WithField("channel", sub.Key).Warn("Subscriber buffer full, detaching subscription")
		sub.overflowed.Store(true)
		sub.Close()
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[sub.Key]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			close(sub.C)
		}
		if len(set) == 0 {
			delete(b.subs, sub.Key)
		}
	}
}

// Close tears down every subscription. Further Subscribe calls fail and
// Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, set := range b.subs {
		for sub := range set {
			close(sub.C)
		}
		delete(b.subs, key)
	}
}

// SubscriberCount reports the number of active subscriptions for a key.
func (b *Bus) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}
