package lifecycle

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RestoreTimers tracks the per-order countdown during which a cancelled
// order may be restored. Timers are advisory: restorability itself is always
// re-derived from the persisted cancellation timestamp, so a process restart
// that loses these timers never changes the answer. The expiry callback only
// lets attached views drop the restore affordance promptly.
type RestoreTimers struct {
	window   time.Duration
	onExpire func(orderID string)
	logger   *logrus.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewRestoreTimers(window time.Duration, onExpire func(orderID string), logger *logrus.Logger) *RestoreTimers {
	return &RestoreTimers{
		window:   window,
		onExpire: onExpire,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}
}

// Start begins the countdown for an order. An existing timer for the same
// order is replaced, never stacked, so re-cancelling after a restore yields
// exactly one fresh window.
func (t *RestoreTimers) Start(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[orderID]; ok {
		timer.Stop()
	}
	t.timers[orderID] = time.AfterFunc(t.window, func() {
		t.expire(orderID)
	})
}

// Stop cancels the countdown, used when the order is restored in time.
func (t *RestoreTimers) Stop(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[orderID]; ok {
		timer.Stop()
		delete(t.timers, orderID)
	}
}

// Active reports whether a countdown is currently running for the order.
func (t *RestoreTimers) Active(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[orderID]
	return ok
}

// Close stops every timer without firing expiry callbacks.
func (t *RestoreTimers) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *RestoreTimers) expire(orderID string) {
	t.mu.Lock()
	delete(t.timers, orderID)
	t.mu.Unlock()

	t.logger.WithField("order_id", orderID).Info("Restore window expired")
	if t.onExpire != nil {
		t.onExpire(orderID)
	}
}
