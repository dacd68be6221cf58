// Package lifecycle validates and executes order status transitions.
//
// The legal transitions are pending→confirmed, pending→cancelled,
// confirmed→cancelled, and cancelled→pending while the restore window is
// still open. The restore window applies uniformly to any cancellation.
// Transitions are applied optimistically to the attached view state before
// the persistence call and rolled back if it fails.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"menulink/internal/events"
	"menulink/internal/realtime"
	"menulink/pkg/models"
)

// ErrPersistFailed wraps storage errors during a transition; by the time it
// is returned the optimistic local update has been rolled back.
var ErrPersistFailed = fmt.Errorf("failed to persist order status")

type Persister interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, cancelledAt *time.Time) (*models.Order, error)
}

// ViewState is the optimistic in-memory state the controller mutates ahead
// of persistence. Satisfied by both a single ordersync.Store and the
// ordersync.Manager spanning all active views.
type ViewState interface {
	Get(id string) (*models.Order, bool)
	ApplyLocalUpdate(id string, patch models.OrderPatch)
	RollbackLocal(id string)
}

type EventPublisher interface {
	PublishStatusChanged(event events.OrderStatusChangedEvent) error
}

type Controller struct {
	repo     Persister
	store    ViewState
	bus      *realtime.Bus
	producer EventPublisher
	timers   *RestoreTimers
	logger   *logrus.Logger
	now      func() time.Time
}

// NewController wires the transition controller. store, bus and producer may
// each be nil when the corresponding side effect is not wanted (tests, the
// notify worker).
func NewController(repo Persister, store ViewState, bus *realtime.Bus, producer EventPublisher, timers *RestoreTimers, logger *logrus.Logger) *Controller {
	return &Controller{
		repo:     repo,
		store:    store,
		bus:      bus,
		producer: producer,
		timers:   timers,
		logger:   logger,
		now:      time.Now,
	}
}

// Transition moves the order to the target status. Illegal transitions are
// rejected synchronously with models.ErrInvalidTransition before any
// persistence call; an expired restore window is rejected the same way.
func (c *Controller) Transition(ctx context.Context, orderID string, target models.OrderStatus) (*models.Order, error) {
	current, err := c.currentState(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !models.ValidTransition(current.Status, target) {
		return nil, fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, current.Status, target)
	}

	now := c.now()
	if current.Status == models.StatusCancelled && target == models.StatusPending && !current.IsRestorable(now) {
		return nil, fmt.Errorf("%w: restore window for order %s has expired", models.ErrInvalidTransition, orderID)
	}

	patch := models.OrderPatch{ID: orderID, Status: &target}
	var cancelledAt *time.Time
	switch target {
	case models.StatusCancelled:
		t := now
		cancelledAt = &t
		patch.CancelledAt = &t
	case models.StatusPending:
		patch.ClearCancelledAt = true
	}

	// Optimistic apply so an attached view reflects intent immediately.
	if c.store != nil {
		c.store.ApplyLocalUpdate(orderID, patch)
	}

	updated, err := c.repo.UpdateStatus(ctx, orderID, target, cancelledAt)
	if err != nil {
		if c.store != nil {
			c.store.RollbackLocal(orderID)
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": orderID,
			"target":   target,
		}).Error("Failed to persist status transition, optimistic update rolled back")
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	switch target {
	case models.StatusCancelled:
		c.timers.Start(orderID)
	case models.StatusPending:
		c.timers.Stop(orderID)
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":   orderID,
		"old_status": current.Status,
		"new_status": target,
	}).Info("Order status transition persisted")

	c.announce(current.Status, updated, patch)
	return updated, nil
}

// Restorable reports whether the order can still be returned to pending.
func (c *Controller) Restorable(order *models.Order) bool {
	return order.IsRestorable(c.now())
}

// currentState prefers the attached in-memory view so illegal transitions
// are rejected without touching storage; it falls back to a lookup when the
// order is not tracked.
func (c *Controller) currentState(ctx context.Context, orderID string) (*models.Order, error) {
	if c.store != nil {
		if order, ok := c.store.Get(orderID); ok {
			return order, nil
		}
	}
	return c.repo.Get(ctx, orderID)
}

// announce fans the confirmed change out: realtime channels for attached
// views, Kafka for the notification pipeline. Neither failure is allowed to
// fail the transition itself.
func (c *Controller) announce(oldStatus models.OrderStatus, updated *models.Order, patch models.OrderPatch) {
	if c.bus != nil {
		c.bus.Publish(
			realtime.ChangeEvent{Type: realtime.ChangeUpdate, Patch: &patch},
			realtime.MerchantChannel(updated.MerchantPublicID),
			realtime.OrderChannel(updated.ID),
		)
	}

	if c.producer != nil {
		event := events.OrderStatusChangedEvent{
			OrderID:          updated.ID,
			DisplayOrderID:   updated.DisplayOrderID,
			MerchantPublicID: updated.MerchantPublicID,
			CustomerID:       updated.CustomerID,
			OldStatus:        oldStatus,
			NewStatus:        updated.Status,
			CancelledAt:      updated.CancelledAt,
		}
		if err := c.producer.PublishStatusChanged(event); err != nil {
			c.logger.WithError(err).Error("Failed to publish status changed event")
		}
	}
}
