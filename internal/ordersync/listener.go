package ordersync

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"menulink/internal/realtime"
	"menulink/pkg/models"
)

var ErrListenerClosed = errors.New("listener is closed")

// Listener maintains at most one bus subscription per channel key and
// forwards observed change events into the store. Delivery is at-least-once
// and per-channel ordered; the store's idempotent merge absorbs duplicates.
// A subscription the bus detached for overflow is re-established and the
// store reloaded, so a gap in the stream never leaves the view stale.
type Listener struct {
	bus    *realtime.Bus
	store  *Store
	logger *logrus.Logger

	// Accept, when set, filters insert events before they reach the store.
	// Customer views share the merchant channel but only track their own
	// orders. Must be set before the first Watch call.
	Accept func(order *models.Order) bool

	mu     sync.Mutex
	subs   map[string]*realtime.Subscription
	closed bool
	wg     sync.WaitGroup
}

func NewListener(bus *realtime.Bus, store *Store, logger *logrus.Logger) *Listener {
	return &Listener{
		bus:    bus,
		store:  store,
		logger: logger,
		subs:   make(map[string]*realtime.Subscription),
	}
}

// Watch subscribes to a channel key. Watching a key that is already watched
// tears the old subscription down first, so the call is idempotent and
// subscriptions never stack.
func (l *Listener) Watch(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}

	if old, ok := l.subs[key]; ok {
		old.Close()
		delete(l.subs, key)
	}

	sub, err := l.bus.Subscribe(key)
	if err != nil {
		// A failed subscription is not fatal: the view keeps the last
		// loaded snapshot and reconciles on the next Load.
		l.logger.WithError(err).WithField("channel", key).Error("Failed to establish subscription")
		return err
	}
	l.subs[key] = sub

	l.wg.Add(1)
	go l.dispatch(sub)
	return nil
}

// Unwatch tears down the subscription for a key, if any.
func (l *Listener) Unwatch(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sub, ok := l.subs[key]; ok {
		sub.Close()
		delete(l.subs, key)
	}
}

// Close tears down every subscription and waits for dispatch loops to drain.
func (l *Listener) Close() {
	l.mu.Lock()
	l.closed = true
	for key, sub := range l.subs {
		sub.Close()
		delete(l.subs, key)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Listener) dispatch(sub *realtime.Subscription) {
	defer l.wg.Done()
	for event := range sub.C {
		switch event.Type {
		case realtime.ChangeInsert:
			if event.Order == nil {
				continue
			}
			if l.Accept != nil && !l.Accept(event.Order) {
				continue
			}
			l.store.ApplyRemoteInsert(event.Order)
		case realtime.ChangeUpdate:
			if event.Patch != nil {
				l.store.ApplyRemoteUpdate(*event.Patch)
			}
		default:
			l.logger.WithField("type", event.Type).Warn("Unknown change event type")
		}
	}

	if sub.Overflowed() {
		l.reconcile(sub)
	}
}

// reconcile recovers from a gap in the realtime stream: the bus detached the
// subscription because events were missed, so the tracked state can no
// longer be trusted. Resubscribe first, then reload, so no update falls
// between the two.
func (l *Listener) reconcile(sub *realtime.Subscription) {
	l.mu.Lock()
	if l.closed || l.subs[sub.Key] != sub {
		l.mu.Unlock()
		return
	}
	delete(l.subs, sub.Key)
	l.mu.Unlock()

	l.logger.WithField("channel", sub.Key).Warn("Subscription overflowed, reconciling with a fresh snapshot")

	if err := l.Watch(sub.Key); err != nil {
		return
	}
	if err := l.store.Reload(context.Background()); err != nil {
		l.logger.WithError(err).WithField("channel", sub.Key).Error("Failed to reload snapshot after stream gap")
	}
}
