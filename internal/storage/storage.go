package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"menulink/pkg/models"
)

// OrderRepository is the persistence boundary for orders. The Postgres
// implementation lives in this package; tests use in-memory fakes.
type OrderRepository interface {
	Insert(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	ListByMerchant(ctx context.Context, merchantPublicID string) ([]*models.Order, error)
	ListByCustomer(ctx context.Context, merchantPublicID, customerID string) ([]*models.Order, error)
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, cancelledAt *time.Time) (*models.Order, error)
}

type MenuRepository interface {
	Insert(ctx context.Context, item *models.MenuItem) error
	Update(ctx context.Context, item *models.MenuItem) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.MenuItem, error)
	ListByMerchant(ctx context.Context, merchantID string) ([]*models.MenuItem, error)
}

// Connect opens the database and waits for it to accept connections, since
// the service may come up before Postgres does in a compose environment.
func Connect(dsn string, logger *logrus.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			logger.Info("Database connection established")
			return db, nil
		}
		logger.Info("Waiting for database...")
		time.Sleep(2 * time.Second)
	}
	db.Close()
	return nil, errors.Wrap(err, "database did not become ready")
}

// CreateTables bootstraps the schema. Idempotent.
func CreateTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS menu_items (
			id VARCHAR(255) PRIMARY KEY,
			merchant_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price DECIMAL(10,2) NOT NULL,
			category VARCHAR(100) NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(255) PRIMARY KEY,
			display_order_id VARCHAR(32) NOT NULL,
			merchant_public_id VARCHAR(255) NOT NULL,
			customer_id VARCHAR(255) NOT NULL,
			total DECIMAL(10,2) NOT NULL,
			status VARCHAR(50) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			cancelled_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(255) NOT NULL REFERENCES orders(id),
			menu_item_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			price DECIMAL(10,2) NOT NULL,
			quantity INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_menu_items_merchant_id ON menu_items(merchant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_merchant_public_id ON orders(merchant_public_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return errors.Wrap(err, "create tables")
		}
	}
	return nil
}
