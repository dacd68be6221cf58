package models

import (
	"errors"
	"time"
)

const RestoreWindow = 5000 * time.Millisecond

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusCancelled OrderStatus = "cancelled"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyOrder        = errors.New("order must contain at least one item")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

type Order struct {
	ID               string      `json:"id"`
	DisplayOrderID   string      `json:"display_order_id"`
	MerchantPublicID string      `json:"merchant_public_id"`
	CustomerID       string      `json:"customer_id"`
	Items            []OrderItem `json:"items"`
	Total            float64     `json:"total"`
	Status           OrderStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	CancelledAt      *time.Time  `json:"cancelled_at,omitempty"`
}

type OrderItem struct {
	MenuItemID string  `json:"menu_item_id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
}

// OrderPatch is a partial order update as observed through the realtime
// channel or applied optimistically ahead of persistence. Nil fields are
// left untouched on merge.
type OrderPatch struct {
	ID          string       `json:"id"`
	Status      *OrderStatus `json:"status,omitempty"`
	CancelledAt *time.Time   `json:"cancelled_at,omitempty"`
	// ClearCancelledAt distinguishes "set cancelled_at to null" from
	// "cancelled_at unchanged", which a nil pointer alone cannot express.
	ClearCancelledAt bool `json:"clear_cancelled_at,omitempty"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}

// ValidTransition reports whether an order may move from one status to
// another. The cancelled→pending edge is additionally time-boxed by the
// restore window, which is enforced by the lifecycle controller since it
// depends on the order's cancellation timestamp.
func ValidTransition(from, to OrderStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCancelled
	case StatusCancelled:
		return to == StatusPending
	default:
		return false
	}
}

// IsRestorable reports whether a cancelled order can still be returned to
// pending. Restorability is always derived from the persisted cancellation
// timestamp compared against the supplied clock reading, never from a
// running countdown, so it survives process restarts.
func (o *Order) IsRestorable(now time.Time) bool {
	if o.Status != StatusCancelled || o.CancelledAt == nil {
		return false
	}
	return now.Sub(*o.CancelledAt) < RestoreWindow
}

// Apply merges a patch into the order.
func (o *Order) Apply(p OrderPatch) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.ClearCancelledAt {
		o.CancelledAt = nil
	} else if p.CancelledAt != nil {
		t := *p.CancelledAt
		o.CancelledAt = &t
	}
}

// Clone returns a deep copy, used to snapshot state before an optimistic
// update so it can be rolled back if persistence fails.
func (o *Order) Clone() *Order {
	c := *o
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	c.Items = make([]OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	return &c
}
