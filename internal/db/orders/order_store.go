package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orderflow/internal/orders"
	"orderflow/internal/saga"
)

// OrderStore persists order aggregates in Postgres with optimistic
// concurrency on the version column.
type OrderStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db, now: time.Now}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			customer_email TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			total_amount DOUBLE PRECISION NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Create inserts a new order with version 1.
func (s *OrderStore) Create(ctx context.Context, order *orders.Order) error {
	order.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, customer_email, customer_name, status, total_amount, note, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.CustomerEmail, order.CustomerName, string(order.Status),
		order.TotalAmount, order.Note, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	return err
}

// Read returns the order and its current version.
func (s *OrderStore) Read(ctx context.Context, id string) (orders.Order, int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_email, customer_name, status, total_amount, note, version, created_at, updated_at
		FROM orders
		WHERE id = $1`,
		id,
	)
	var order orders.Order
	var status string
	err := row.Scan(
		&order.ID, &order.CustomerEmail, &order.CustomerName, &status,
		&order.TotalAmount, &order.Note, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, 0, fmt.Errorf("%w: %q", orders.ErrOrderNotFound, id)
	}
	if err != nil {
		return orders.Order{}, 0, err
	}
	order.Status = orders.OrderStatus(status)
	return order, order.Version, nil
}

// Write applies the mutation to the order, conditional on the version still
// matching. A lost race fails wrapping saga.ErrConflict so the caller re-reads
// and retries.
func (s *OrderStore) Write(ctx context.Context, id string, version int64, mutate func(*orders.Order) error) error {
	order, current, err := s.Read(ctx, id)
	if err != nil {
		return err
	}
	if current != version {
		return fmt.Errorf("%w: order %q is at version %d, write supplied %d", saga.ErrConflict, id, current, version)
	}
	if err := mutate(&order); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET customer_email = $2, customer_name = $3, status = $4, total_amount = $5,
			note = $6, version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $8`,
		order.ID, order.CustomerEmail, order.CustomerName, string(order.Status),
		order.TotalAmount, order.Note, s.now(), version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: order %q changed while writing", saga.ErrConflict, id)
	}
	return nil
}
