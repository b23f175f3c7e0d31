package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderflow/internal/saga"
)

// OrderStatus is the fulfillment state of an order aggregate.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderFulfilled  OrderStatus = "fulfilled"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

// Order is the aggregate protected by versioned writes. Concurrent saga steps
// targeting the same order serialize through the version check, never through
// a lock held across I/O.
type Order struct {
	ID            string      `json:"id"`
	CustomerEmail string      `json:"customer_email"`
	CustomerName  string      `json:"customer_name"`
	Status        OrderStatus `json:"status"`
	TotalAmount   float64     `json:"total_amount"`
	Note          string      `json:"note,omitempty"`
	Version       int64       `json:"version"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ErrOrderNotFound signals a lookup for an order that does not exist.
var ErrOrderNotFound = errors.New("order not found")

// Store persists order aggregates with optimistic concurrency. Write applies
// the mutation only if the stored version still matches the supplied one;
// otherwise it fails wrapping saga.ErrConflict and the caller must re-read
// and retry.
type Store interface {
	Create(ctx context.Context, order *Order) error
	Read(ctx context.Context, id string) (Order, int64, error)
	Write(ctx context.Context, id string, version int64, mutate func(*Order) error) error
}

// MemoryStore is a mutex-guarded in-memory Store used in tests and DSN-less
// deployments.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

// NewMemoryStore constructs an empty in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]Order)}
}

func (s *MemoryStore) Create(ctx context.Context, order *Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %q already exists", order.ID)
	}
	order.Version = 1
	s.orders[order.ID] = *order
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, id string) (Order, int64, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return Order{}, 0, fmt.Errorf("%w: %q", ErrOrderNotFound, id)
	}
	return order, order.Version, nil
}

func (s *MemoryStore) Write(ctx context.Context, id string, version int64, mutate func(*Order) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrOrderNotFound, id)
	}
	if order.Version != version {
		return fmt.Errorf("%w: order %q is at version %d, write supplied %d", saga.ErrConflict, id, order.Version, version)
	}
	if err := mutate(&order); err != nil {
		return err
	}
	order.Version = version + 1
	order.UpdatedAt = time.Now()
	s.orders[id] = order
	return nil
}
