package orders

import (
	"context"
	"fmt"
	"sync"

	"orderflow/internal/saga"
)

// PaymentClient charges and refunds payments for an order. Implementations
// are expected to deduplicate on the idempotency key where they support it.
type PaymentClient interface {
	Charge(ctx context.Context, orderID string, amount float64, idemKey string) error
	Refund(ctx context.Context, orderID string, amount float64, idemKey string) error
}

// InventoryClient reserves and releases stock for an order.
type InventoryClient interface {
	Reserve(ctx context.Context, orderID, sku string, quantity int, idemKey string) error
	Release(ctx context.Context, orderID, sku string, quantity int, idemKey string) error
}

// NotifyClient sends the order confirmation to the customer.
type NotifyClient interface {
	Send(ctx context.Context, orderID, email string, idemKey string) error
}

// NewInMemoryPaymentClient constructs an in-memory payment client.
func NewInMemoryPaymentClient() *InMemoryPaymentClient {
	return &InMemoryPaymentClient{
		charges:  make(map[string]float64),
		refunds:  make(map[string]float64),
		refunded: make(map[string]bool),
	}
}

// InMemoryPaymentClient tracks charges and refunds in memory, keyed by order,
// so repeated calls with the same order are naturally idempotent.
type InMemoryPaymentClient struct {
	mu       sync.Mutex
	charges  map[string]float64
	refunds  map[string]float64
	refunded map[string]bool
}

func (c *InMemoryPaymentClient) Charge(ctx context.Context, orderID string, amount float64, idemKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.charges[orderID] = amount
	return nil
}

func (c *InMemoryPaymentClient) Refund(ctx context.Context, orderID string, amount float64, idemKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.charges[orderID]; !ok {
		return fmt.Errorf("refund without charge for order %q", orderID)
	}
	c.refunds[orderID] = amount
	c.refunded[orderID] = true
	return nil
}

// WasCharged reports whether an order was charged (for testing/inspection).
func (c *InMemoryPaymentClient) WasCharged(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.charges[orderID]
	return ok
}

// WasRefunded reports whether an order was refunded (for testing/inspection).
func (c *InMemoryPaymentClient) WasRefunded(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refunded[orderID]
}

// NewInMemoryInventoryClient constructs an inventory client with the given
// stock per SKU.
func NewInMemoryInventoryClient(stock map[string]int) *InMemoryInventoryClient {
	c := &InMemoryInventoryClient{
		stock:    make(map[string]int, len(stock)),
		reserved: make(map[string]int),
	}
	for sku, qty := range stock {
		c.stock[sku] = qty
	}
	return c
}

// InMemoryInventoryClient tracks stock reservations in memory. Reserving more
// than the available stock fails validation, which is what drives a saga into
// its compensation chain in tests.
type InMemoryInventoryClient struct {
	mu       sync.Mutex
	stock    map[string]int
	reserved map[string]int
}

func (c *InMemoryInventoryClient) Reserve(ctx context.Context, orderID, sku string, quantity int, idemKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.reserved[orderID]; ok && prev == quantity {
		return nil
	}
	if c.stock[sku] < quantity {
		return fmt.Errorf("%w: insufficient stock for sku %q (want %d, have %d)", saga.ErrValidation, sku, quantity, c.stock[sku])
	}
	c.stock[sku] -= quantity
	c.reserved[orderID] = quantity
	return nil
}

func (c *InMemoryInventoryClient) Release(ctx context.Context, orderID, sku string, quantity int, idemKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.reserved[orderID]; !ok {
		return nil
	}
	c.stock[sku] += quantity
	delete(c.reserved, orderID)
	return nil
}

// Reserved returns the reserved quantity for an order (for testing/inspection).
func (c *InMemoryInventoryClient) Reserved(orderID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	qty, ok := c.reserved[orderID]
	return qty, ok
}

// NewInMemoryNotifyClient constructs an in-memory notification client.
func NewInMemoryNotifyClient() *InMemoryNotifyClient {
	return &InMemoryNotifyClient{sent: make(map[string]string)}
}

// InMemoryNotifyClient records sent notifications in memory.
type InMemoryNotifyClient struct {
	mu   sync.Mutex
	sent map[string]string
}

func (c *InMemoryNotifyClient) Send(ctx context.Context, orderID, email string, idemKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[orderID] = email
	return nil
}

// Sent returns the notified email for an order (for testing/inspection).
func (c *InMemoryNotifyClient) Sent(orderID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	email, ok := c.sent[orderID]
	return email, ok
}
