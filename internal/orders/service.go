// Package orders implements customer order placement and the HTTP surface
// for the menu and order APIs.
package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"menulink/internal/events"
	"menulink/internal/realtime"
	"menulink/internal/storage"
	"menulink/pkg/models"
)

var (
	ErrInvalidQuantity  = errors.New("item quantity must be positive")
	ErrUnknownMenuItem  = errors.New("order references an unknown menu item")
	ErrMerchantMismatch = errors.New("menu item belongs to a different merchant")
)

type LineInput struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

type PlacementInput struct {
	CustomerID string      `json:"customer_id"`
	Items      []LineInput `json:"items"`
}

type PlacedPublisher interface {
	PublishOrderPlaced(event events.OrderPlacedEvent) error
}

type Service struct {
	repo     storage.OrderRepository
	menus    storage.MenuRepository
	bus      *realtime.Bus
	producer PlacedPublisher
	logger   *logrus.Logger
	now      func() time.Time
}

func NewService(repo storage.OrderRepository, menus storage.MenuRepository, bus *realtime.Bus, producer PlacedPublisher, logger *logrus.Logger) *Service {
	return &Service{
		repo:     repo,
		menus:    menus,
		bus:      bus,
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// Place creates a pending order for a customer. Line items snapshot the
// current menu name and price; the total is computed once here and stays
// authoritative for the life of the order.
func (s *Service) Place(ctx context.Context, merchantPublicID string, input PlacementInput) (*models.Order, error) {
	if len(input.Items) == 0 {
		return nil, models.ErrEmptyOrder
	}

	var (
		items []models.OrderItem
		total float64
	)
	for _, line := range input.Items {
		quantity := line.Quantity
		if quantity == 0 {
			quantity = 1
		}
		if quantity < 0 {
			return nil, ErrInvalidQuantity
		}

		menuItem, err := s.menus.Get(ctx, line.MenuItemID)
		if err != nil {
			if errors.Is(err, models.ErrMenuItemNotFound) {
				return nil, ErrUnknownMenuItem
			}
			return nil, err
		}
		if menuItem.MerchantID != merchantPublicID {
			return nil, ErrMerchantMismatch
		}

		items = append(items, models.OrderItem{
			MenuItemID: menuItem.ID,
			Name:       menuItem.Name,
			Price:      menuItem.Price,
			Quantity:   quantity,
		})
		total += menuItem.Price * float64(quantity)
	}

	id := uuid.New().String()
	order := &models.Order{
		ID:               id,
		DisplayOrderID:   displayCode(id),
		MerchantPublicID: merchantPublicID,
		CustomerID:       input.CustomerID,
		Items:            items,
		Total:            total,
		Status:           models.StatusPending,
		CreatedAt:        s.now(),
	}

	if err := s.repo.Insert(ctx, order); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":         order.ID,
		"display_order_id": order.DisplayOrderID,
		"merchant":         merchantPublicID,
		"customer_id":      order.CustomerID,
		"total":            order.Total,
		"items_count":      len(order.Items),
	}).Info("Order placed")

	if s.bus != nil {
		s.bus.Publish(
			realtime.ChangeEvent{Type: realtime.ChangeInsert, Order: order},
			realtime.MerchantChannel(merchantPublicID),
			realtime.OrderChannel(order.ID),
		)
	}

	if s.producer != nil {
		event := events.OrderPlacedEvent{
			OrderID:          order.ID,
			DisplayOrderID:   order.DisplayOrderID,
			MerchantPublicID: order.MerchantPublicID,
			CustomerID:       order.CustomerID,
			Total:            order.Total,
			ItemCount:        len(order.Items),
			CreatedAt:        order.CreatedAt,
		}
		if err := s.producer.PublishOrderPlaced(event); err != nil {
			// Don't fail the request, the order is already persisted.
			s.logger.WithError(err).Error("Failed to publish order placed event")
		}
	}

	return order, nil
}

// Get looks up a single order by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.repo.Get(ctx, id)
}

// displayCode derives the short human-readable order code shown to
// customers and kitchen staff.
func displayCode(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "")[:6])
}
