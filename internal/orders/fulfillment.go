package orders

import (
	"context"
	"fmt"

	"orderflow/internal/saga"
)

// SagaOrderFulfillment is the registered saga type for order fulfillment:
// charge payment, reserve inventory, notify the customer. Payment compensates
// with a refund and inventory with a release; notification has nothing to
// undo.
const SagaOrderFulfillment = "order-fulfillment"

// Step names within the fulfillment saga.
const (
	StepChargePayment    = "charge-payment"
	StepReserveInventory = "reserve-inventory"
	StepNotifyCustomer   = "notify-customer"
)

// FulfillmentConfig wires the fulfillment saga definition.
type FulfillmentConfig struct {
	Orders    Store
	Payments  PaymentClient
	Inventory InventoryClient
	Notifier  NotifyClient

	// StepRetries and Backoff apply to every step.
	StepRetries int
	Backoff     saga.Backoff
}

// FulfillmentDefinition builds the order fulfillment saga definition. Every
// forward action mutates the order aggregate through a single versioned write;
// a conflicting write surfaces as a transient outcome and the step re-runs
// against fresh state.
func FulfillmentDefinition(cfg FulfillmentConfig) (*saga.Definition, error) {
	steps := []saga.StepDefinition{
		{
			Name: StepChargePayment,
			Forward: saga.ActionFunc(func(ctx context.Context, c saga.Context, idemKey string) (saga.Context, error) {
				orderID, amount, err := paymentInput(c)
				if err != nil {
					return nil, err
				}
				if err := cfg.Payments.Charge(ctx, orderID, amount, idemKey); err != nil {
					return nil, fmt.Errorf("charge order %q: %w", orderID, err)
				}
				if err := transition(ctx, cfg.Orders, orderID, OrderConfirmed); err != nil {
					return nil, err
				}
				c["payment_charged"] = amount
				return c, nil
			}),
			Compensation: saga.ActionFunc(func(ctx context.Context, c saga.Context, idemKey string) (saga.Context, error) {
				orderID, amount, err := paymentInput(c)
				if err != nil {
					return nil, err
				}
				if err := cfg.Payments.Refund(ctx, orderID, amount, idemKey); err != nil {
					return nil, fmt.Errorf("refund order %q: %w", orderID, err)
				}
				if err := transition(ctx, cfg.Orders, orderID, OrderRefunded); err != nil {
					return nil, err
				}
				return c, nil
			}),
			MaxRetries: cfg.StepRetries,
			Backoff:    cfg.Backoff,
		},
		{
			Name: StepReserveInventory,
			Forward: saga.ActionFunc(func(ctx context.Context, c saga.Context, idemKey string) (saga.Context, error) {
				orderID, sku, quantity, err := inventoryInput(c)
				if err != nil {
					return nil, err
				}
				if err := cfg.Inventory.Reserve(ctx, orderID, sku, quantity, idemKey); err != nil {
					return nil, fmt.Errorf("reserve inventory for order %q: %w", orderID, err)
				}
				if err := transition(ctx, cfg.Orders, orderID, OrderProcessing); err != nil {
					return nil, err
				}
				c["inventory_reserved"] = quantity
				return c, nil
			}),
			Compensation: saga.ActionFunc(func(ctx context.Context, c saga.Context, idemKey string) (saga.Context, error) {
				orderID, sku, quantity, err := inventoryInput(c)
				if err != nil {
					return nil, err
				}
				if err := cfg.Inventory.Release(ctx, orderID, sku, quantity, idemKey); err != nil {
					return nil, fmt.Errorf("release inventory for order %q: %w", orderID, err)
				}
				if err := transition(ctx, cfg.Orders, orderID, OrderConfirmed); err != nil {
					return nil, err
				}
				return c, nil
			}),
			MaxRetries: cfg.StepRetries,
			Backoff:    cfg.Backoff,
		},
		{
			Name: StepNotifyCustomer,
			Forward: saga.ActionFunc(func(ctx context.Context, c saga.Context, idemKey string) (saga.Context, error) {
				orderID, err := ctxString(c, "order_id")
				if err != nil {
					return nil, err
				}
				email, err := ctxString(c, "customer_email")
				if err != nil {
					return nil, err
				}
				if err := cfg.Notifier.Send(ctx, orderID, email, idemKey); err != nil {
					return nil, fmt.Errorf("notify customer for order %q: %w", orderID, err)
				}
				if err := transition(ctx, cfg.Orders, orderID, OrderFulfilled); err != nil {
					return nil, err
				}
				c["customer_notified"] = true
				return c, nil
			}),
			MaxRetries: cfg.StepRetries,
			Backoff:    cfg.Backoff,
		},
	}
	return saga.NewDefinition(SagaOrderFulfillment, steps)
}

// transition applies a status change to the order through one versioned write.
func transition(ctx context.Context, store Store, orderID string, status OrderStatus) error {
	_, version, err := store.Read(ctx, orderID)
	if err != nil {
		return fmt.Errorf("read order %q: %w", orderID, err)
	}
	err = store.Write(ctx, orderID, version, func(o *Order) error {
		o.Status = status
		return nil
	})
	if err != nil {
		return fmt.Errorf("update order %q to %s: %w", orderID, status, err)
	}
	return nil
}

func paymentInput(c saga.Context) (orderID string, amount float64, err error) {
	if orderID, err = ctxString(c, "order_id"); err != nil {
		return "", 0, err
	}
	if amount, err = ctxFloat(c, "amount"); err != nil {
		return "", 0, err
	}
	return orderID, amount, nil
}

func inventoryInput(c saga.Context) (orderID, sku string, quantity int, err error) {
	if orderID, err = ctxString(c, "order_id"); err != nil {
		return "", "", 0, err
	}
	if sku, err = ctxString(c, "sku"); err != nil {
		return "", "", 0, err
	}
	if quantity, err = ctxInt(c, "quantity"); err != nil {
		return "", "", 0, err
	}
	return orderID, sku, quantity, nil
}

func ctxString(c saga.Context, key string) (string, error) {
	v, ok := c[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: saga context missing %q", saga.ErrValidation, key)
	}
	return v, nil
}

func ctxFloat(c saga.Context, key string) (float64, error) {
	switch v := c[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%w: saga context missing %q", saga.ErrValidation, key)
}

// ctxInt tolerates float64 because JSON round-trips numbers that way.
func ctxInt(c saga.Context, key string) (int, error) {
	switch v := c[key].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: saga context missing %q", saga.ErrValidation, key)
}
