package notify

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"menulink/internal/events"
	"menulink/pkg/models"
)

// Handler consumes order lifecycle events and delivers notifications. It
// satisfies events.OrderEventHandler: transient delivery failures are
// retryable (the consumer backs off and eventually parks the event on the
// DLQ); permanent rejections are not.
type Handler struct {
	notifier Notifier
	breaker  *Breaker
	logger   *logrus.Logger
}

func NewHandler(notifier Notifier, breaker *Breaker, logger *logrus.Logger) *Handler {
	return &Handler{
		notifier: notifier,
		breaker:  breaker,
		logger:   logger,
	}
}

func (h *Handler) HandleOrderPlaced(event events.OrderPlacedEvent) error {
	return h.deliver(Notification{
		Title: fmt.Sprintf("New order #%s", event.DisplayOrderID),
		Body:  fmt.Sprintf("%d item(s), total %.2f", event.ItemCount, event.Total),
	}, event.OrderID)
}

func (h *Handler) HandleStatusChanged(event events.OrderStatusChangedEvent) error {
	var n Notification
	switch event.NewStatus {
	case models.StatusConfirmed:
		n = Notification{
			Title: fmt.Sprintf("Order #%s confirmed", event.DisplayOrderID),
			Body:  "Your order has been confirmed by the merchant",
		}
	case models.StatusCancelled:
		n = Notification{
			Title: fmt.Sprintf("Order #%s cancelled", event.DisplayOrderID),
			Body:  "Your order has been cancelled",
		}
	case models.StatusPending:
		n = Notification{
			Title: fmt.Sprintf("Order #%s restored", event.DisplayOrderID),
			Body:  "Your order is pending again",
		}
	default:
		h.logger.WithField("status", event.NewStatus).Warn("Status change with unknown status, skipping notification")
		return nil
	}
	return h.deliver(n, event.OrderID)
}

func (h *Handler) IsRetryable(err error) bool {
	return !errors.Is(err, ErrPermanent)
}

func (h *Handler) deliver(n Notification, orderID string) error {
	err := h.breaker.Execute(func() error {
		return h.notifier.Send(n)
	})
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": orderID,
			"title":    n.Title,
		}).Warn("Notification delivery failed")
		return err
	}
	return nil
}
