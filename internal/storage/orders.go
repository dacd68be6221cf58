package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"menulink/pkg/models"
)

type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

func (r *PostgresOrderRepository) Insert(ctx context.Context, order *models.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, display_order_id, merchant_public_id, customer_id, total, status, created_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, query, order.ID, order.DisplayOrderID, order.MerchantPublicID,
		order.CustomerID, order.Total, order.Status, order.CreatedAt, order.CancelledAt)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	itemQuery := `
		INSERT INTO order_items (order_id, menu_item_id, name, price, quantity)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, itemQuery, order.ID, item.MenuItemID, item.Name, item.Price, item.Quantity)
		if err != nil {
			return errors.Wrap(err, "insert order item")
		}
	}

	return errors.Wrap(tx.Commit(), "commit order insert")
}

func (r *PostgresOrderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	order := &models.Order{}
	query := `
		SELECT id, display_order_id, merchant_public_id, customer_id, total, status, created_at, cancelled_at
		FROM orders WHERE id = $1
	`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.DisplayOrderID, &order.MerchantPublicID, &order.CustomerID,
		&order.Total, &order.Status, &order.CreatedAt, &order.CancelledAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *PostgresOrderRepository) ListByMerchant(ctx context.Context, merchantPublicID string) ([]*models.Order, error) {
	query := `
		SELECT id, display_order_id, merchant_public_id, customer_id, total, status, created_at, cancelled_at
		FROM orders WHERE merchant_public_id = $1 ORDER BY created_at DESC
	`
	return r.list(ctx, query, merchantPublicID)
}

func (r *PostgresOrderRepository) ListByCustomer(ctx context.Context, merchantPublicID, customerID string) ([]*models.Order, error) {
	query := `
		SELECT id, display_order_id, merchant_public_id, customer_id, total, status, created_at, cancelled_at
		FROM orders WHERE merchant_public_id = $1 AND customer_id = $2 ORDER BY created_at DESC
	`
	return r.list(ctx, query, merchantPublicID, customerID)
}

// UpdateStatus sets status and cancelled_at in one statement and returns the
// updated row. A nil cancelledAt clears the column, which is how a restore
// re-opens a cancelled order.
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, cancelledAt *time.Time) (*models.Order, error) {
	query := `
		UPDATE orders SET status = $2, cancelled_at = $3 WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, status, cancelledAt)
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	if affected == 0 {
		return nil, models.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

func (r *PostgresOrderRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		err := rows.Scan(
			&order.ID, &order.DisplayOrderID, &order.MerchantPublicID, &order.CustomerID,
			&order.Total, &order.Status, &order.CreatedAt, &order.CancelledAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}

	for _, order := range orders {
		if err := r.loadItems(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *PostgresOrderRepository) loadItems(ctx context.Context, order *models.Order) error {
	query := `
		SELECT menu_item_id, name, price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, order.ID)
	if err != nil {
		return errors.Wrap(err, "query order items")
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.MenuItemID, &item.Name, &item.Price, &item.Quantity); err != nil {
			return errors.Wrap(err, "scan order item")
		}
		order.Items = append(order.Items, item)
	}
	return errors.Wrap(rows.Err(), "iterate order items")
}
