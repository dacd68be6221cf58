package storage

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"menulink/pkg/models"
)

type PostgresMenuRepository struct {
	db *sql.DB
}

func NewPostgresMenuRepository(db *sql.DB) *PostgresMenuRepository {
	return &PostgresMenuRepository{db: db}
}

func (r *PostgresMenuRepository) Insert(ctx context.Context, item *models.MenuItem) error {
	query := `
		INSERT INTO menu_items (id, merchant_id, name, description, price, category, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query, item.ID, item.MerchantID, item.Name, item.Description,
		item.Price, item.Category, item.ImageURL, item.CreatedAt, item.UpdatedAt)
	return errors.Wrap(err, "insert menu item")
}

func (r *PostgresMenuRepository) Update(ctx context.Context, item *models.MenuItem) error {
	query := `
		UPDATE menu_items SET name = $2, description = $3, price = $4, category = $5, image_url = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, item.ID, item.Name, item.Description,
		item.Price, item.Category, item.ImageURL, item.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update menu item")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update menu item")
	}
	if affected == 0 {
		return models.ErrMenuItemNotFound
	}
	return nil
}

func (r *PostgresMenuRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete menu item")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete menu item")
	}
	if affected == 0 {
		return models.ErrMenuItemNotFound
	}
	return nil
}

func (r *PostgresMenuRepository) Get(ctx context.Context, id string) (*models.MenuItem, error) {
	item := &models.MenuItem{}
	query := `
		SELECT id, merchant_id, name, description, price, category, image_url, created_at, updated_at
		FROM menu_items WHERE id = $1
	`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.MerchantID, &item.Name, &item.Description,
		&item.Price, &item.Category, &item.ImageURL, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrMenuItemNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query menu item")
	}
	return item, nil
}

func (r *PostgresMenuRepository) ListByMerchant(ctx context.Context, merchantID string) ([]*models.MenuItem, error) {
	query := `
		SELECT id, merchant_id, name, description, price, category, image_url, created_at, updated_at
		FROM menu_items WHERE merchant_id = $1 ORDER BY category, name
	`
	rows, err := r.db.QueryContext(ctx, query, merchantID)
	if err != nil {
		return nil, errors.Wrap(err, "query menu items")
	}
	defer rows.Close()

	var items []*models.MenuItem
	for rows.Next() {
		item := &models.MenuItem{}
		err := rows.Scan(&item.ID, &item.MerchantID, &item.Name, &item.Description,
			&item.Price, &item.Category, &item.ImageURL, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scan menu item")
		}
		items = append(items, item)
	}
	return items, errors.Wrap(rows.Err(), "iterate menu items")
}
