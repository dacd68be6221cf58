// Package menu manages the merchant's catalog. Orders snapshot name and
// price out of the catalog at placement time, so edits here never rewrite
// order history.
package menu

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"menulink/internal/storage"
	"menulink/pkg/models"
)

var (
	ErrEmptyName     = errors.New("menu item name cannot be empty")
	ErrNegativePrice = errors.New("menu item price cannot be negative")
)

type ItemInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	ImageURL    string  `json:"image_url"`
}

type Service struct {
	repo   storage.MenuRepository
	logger *logrus.Logger
	now    func() time.Time
}

func NewService(repo storage.MenuRepository, logger *logrus.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

func (s *Service) Create(ctx context.Context, merchantID string, input ItemInput) (*models.MenuItem, error) {
	if err := validate(input); err != nil {
		return nil, err
	}

	now := s.now()
	item := &models.MenuItem{
		ID:          uuid.New().String(),
		MerchantID:  merchantID,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Price:       input.Price,
		Category:    input.Category,
		ImageURL:    input.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, item); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"menu_item_id": item.ID,
		"merchant_id":  merchantID,
		"name":         item.Name,
	}).Info("Menu item created")
	return item, nil
}

func (s *Service) Update(ctx context.Context, id string, input ItemInput) (*models.MenuItem, error) {
	if err := validate(input); err != nil {
		return nil, err
	}

	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	item.Name = strings.TrimSpace(input.Name)
	item.Description = input.Description
	item.Price = input.Price
	item.Category = input.Category
	item.ImageURL = input.ImageURL
	item.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, item); err != nil {
		return nil, err
	}

	s.logger.WithField("menu_item_id", id).Info("Menu item updated")
	return item, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("menu_item_id", id).Info("Menu item deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.MenuItem, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, merchantID string) ([]*models.MenuItem, error) {
	return s.repo.ListByMerchant(ctx, merchantID)
}

func validate(input ItemInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return ErrEmptyName
	}
	if input.Price < 0 {
		return ErrNegativePrice
	}
	return nil
}
