package orders

import "context"

// NoopPaymentClient is a stub PaymentClient that always succeeds.
type NoopPaymentClient struct{}

func (NoopPaymentClient) Charge(ctx context.Context, orderID string, amount float64, idemKey string) error {
	return nil
}

func (NoopPaymentClient) Refund(ctx context.Context, orderID string, amount float64, idemKey string) error {
	return nil
}

// NoopInventoryClient is a stub InventoryClient that always succeeds.
type NoopInventoryClient struct{}

func (NoopInventoryClient) Reserve(ctx context.Context, orderID, sku string, quantity int, idemKey string) error {
	return nil
}

func (NoopInventoryClient) Release(ctx context.Context, orderID, sku string, quantity int, idemKey string) error {
	return nil
}

// NoopNotifyClient is a stub NotifyClient that always succeeds.
type NoopNotifyClient struct{}

func (NoopNotifyClient) Send(ctx context.Context, orderID, email string, idemKey string) error {
	return nil
}
