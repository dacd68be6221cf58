package models

import (
	"errors"
	"time"
)

var ErrMenuItemNotFound = errors.New("menu item not found")

// MenuItem is the merchant-managed catalog entry. Orders embed a snapshot
// of name and price at placement time; later edits to a menu item never
// change historical orders.
type MenuItem struct {
	ID          string    `json:"id"`
	MerchantID  string    `json:"merchant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
