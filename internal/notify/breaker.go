package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrBreakerOpen = errors.New("notification circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker protects the notification endpoint: after maxFailures consecutive
// delivery failures it fast-fails for the timeout period, then lets a single
// probe through. Since notifications are best-effort, a fast failure here
// just parks the event on the DLQ instead of stalling the consumer on a
// dead webhook.
type Breaker struct {
	maxFailures int
	timeout     time.Duration
	logger      *logrus.Logger

	mu           sync.Mutex
	state        breakerState
	failures     int
	lastFailTime time.Time
	now          func() time.Time
}

func NewBreaker(maxFailures int, timeout time.Duration, logger *logrus.Logger) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		logger:      logger,
		now:         time.Now,
	}
}

func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if b.now().Sub(b.lastFailTime) < b.timeout {
			return ErrBreakerOpen
		}
		b.transition(stateHalfOpen)
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == stateHalfOpen {
			b.transition(stateClosed)
		}
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailTime = b.now()

	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.transition(stateOpen)
	}
}

func (b *Breaker) transition(to breakerState) {
	if b.state == to {
		return
	}
	b.logger.WithFields(logrus.Fields{
		"from": b.state.String(),
		"to":   to.String(),
	}).Warn("Notification circuit breaker state change")
	b.state = to
	if to == stateClosed {
		b.failures = 0
	}
}
