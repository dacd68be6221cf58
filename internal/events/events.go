package events

import (
	"time"

	"menulink/pkg/models"
)

const (
	OrderPlacedTopic        = "order.placed"
	OrderStatusChangedTopic = "order.status_changed"
	NotifyDLQTopic          = "order.notify.dlq"
)

type OrderPlacedEvent struct {
	OrderID          string    `json:"order_id"`
	DisplayOrderID   string    `json:"display_order_id"`
	MerchantPublicID string    `json:"merchant_public_id"`
	CustomerID       string    `json:"customer_id"`
	Total            float64   `json:"total"`
	ItemCount        int       `json:"item_count"`
	CreatedAt        time.Time `json:"created_at"`
	EventTime        time.Time `json:"event_time"`
}

type OrderStatusChangedEvent struct {
	OrderID          string             `json:"order_id"`
	DisplayOrderID   string             `json:"display_order_id"`
	MerchantPublicID string             `json:"merchant_public_id"`
	CustomerID       string             `json:"customer_id"`
	OldStatus        models.OrderStatus `json:"old_status"`
	NewStatus        models.OrderStatus `json:"new_status"`
	CancelledAt      *time.Time         `json:"cancelled_at,omitempty"`
	EventTime        time.Time          `json:"event_time"`
}
