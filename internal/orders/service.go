package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"orderflow/internal/saga"
)

// ErrRequestInFlight signals that a submission with the same idempotency key
// is still being accepted by another caller.
var ErrRequestInFlight = errors.New("request with this idempotency key is in flight")

// StartOrderRequest is a request to create an order and run its fulfillment
// saga.
type StartOrderRequest struct {
	CustomerEmail string  `json:"customer_email"`
	CustomerName  string  `json:"customer_name"`
	TotalAmount   float64 `json:"total_amount"`
	SKU           string  `json:"sku"`
	Quantity      int     `json:"quantity"`
	Note          string  `json:"note,omitempty"`
}

// StartOrderResult identifies the accepted order and its saga instance.
type StartOrderResult struct {
	OrderID string `json:"order_id"`
	SagaID  string `json:"saga_id"`
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Orders       Store
	Orchestrator *saga.Orchestrator

	// Idempotency deduplicates order submissions by client-supplied key.
	Idempotency saga.IdempotencyStore

	NewID func() string
	Now   func() time.Time
}

// Service is the application facade over orders and their fulfillment sagas.
// Submissions are deduplicated on the caller's idempotency key: a repeated key
// returns the original order and saga ids instead of creating new ones.
type Service struct {
	orders Store
	orch   *saga.Orchestrator
	idem   saga.IdempotencyStore
	newID  func() string
	now    func() time.Time
}

// NewService constructs a Service from config.
func NewService(cfg ServiceConfig) *Service {
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		orders: cfg.Orders,
		orch:   cfg.Orchestrator,
		idem:   cfg.Idempotency,
		newID:  newID,
		now:    now,
	}
}

// StartOrder creates an order and starts its fulfillment saga. The idemKey
// deduplicates the whole submission: replays return the original ids, a
// concurrent duplicate fails with ErrRequestInFlight.
func (s *Service) StartOrder(ctx context.Context, req StartOrderRequest, idemKey string) (StartOrderResult, error) {
	if err := validateStartOrder(req, idemKey); err != nil {
		return StartOrderResult{}, err
	}

	key := "start-order:" + idemKey
	begin, err := s.idem.Begin(ctx, key)
	if err != nil {
		return StartOrderResult{}, fmt.Errorf("idempotency begin %q: %w", key, err)
	}
	switch begin.State {
	case saga.BeginCompleted:
		return decodeStartResult(begin.Outcome)
	case saga.BeginInProgress:
		return StartOrderResult{}, ErrRequestInFlight
	}

	result, err := s.startOrder(ctx, req)
	if err != nil {
		// The submission did not take effect; free the key for a retry.
		if abortErr := s.idem.Abort(ctx, key); abortErr != nil {
			return StartOrderResult{}, errors.Join(err, abortErr)
		}
		return StartOrderResult{}, err
	}

	outcome := saga.Success(saga.Context{
		"order_id": result.OrderID,
		"saga_id":  result.SagaID,
	})
	if err := s.idem.Complete(ctx, key, outcome); err != nil {
		return StartOrderResult{}, fmt.Errorf("idempotency complete %q: %w", key, err)
	}
	return result, nil
}

func (s *Service) startOrder(ctx context.Context, req StartOrderRequest) (StartOrderResult, error) {
	now := s.now()
	order := &Order{
		ID:            s.newID(),
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Status:        OrderPending,
		TotalAmount:   req.TotalAmount,
		Note:          req.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return StartOrderResult{}, fmt.Errorf("create order: %w", err)
	}

	sagaID, err := s.orch.Start(ctx, SagaOrderFulfillment, saga.Context{
		"order_id":       order.ID,
		"customer_email": req.CustomerEmail,
		"amount":         req.TotalAmount,
		"sku":            req.SKU,
		"quantity":       req.Quantity,
	})
	if err != nil {
		return StartOrderResult{}, fmt.Errorf("start fulfillment saga: %w", err)
	}
	return StartOrderResult{OrderID: order.ID, SagaID: sagaID}, nil
}

// Order returns the current order aggregate.
func (s *Service) Order(ctx context.Context, orderID string) (Order, error) {
	order, _, err := s.orders.Read(ctx, orderID)
	return order, err
}

// SagaStatus returns the latest persisted state of a saga instance.
func (s *Service) SagaStatus(ctx context.Context, sagaID string) (*saga.Instance, error) {
	return s.orch.Status(ctx, sagaID)
}

// CancelSaga requests cancellation of a running saga instance.
func (s *Service) CancelSaga(ctx context.Context, sagaID string) error {
	return s.orch.Cancel(ctx, sagaID)
}

// Resume re-schedules all non-terminal saga instances, typically on startup.
func (s *Service) Resume(ctx context.Context) error {
	return s.orch.Resume(ctx)
}

func validateStartOrder(req StartOrderRequest, idemKey string) error {
	if strings.TrimSpace(idemKey) == "" {
		return fmt.Errorf("%w: idempotency key is required", saga.ErrValidation)
	}
	if strings.TrimSpace(req.CustomerEmail) == "" || !strings.Contains(req.CustomerEmail, "@") {
		return fmt.Errorf("%w: valid customer_email is required", saga.ErrValidation)
	}
	if req.TotalAmount <= 0 {
		return fmt.Errorf("%w: total_amount must be positive", saga.ErrValidation)
	}
	if strings.TrimSpace(req.SKU) == "" {
		return fmt.Errorf("%w: sku is required", saga.ErrValidation)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", saga.ErrValidation)
	}
	return nil
}

func decodeStartResult(outcome saga.Outcome) (StartOrderResult, error) {
	orderID, _ := outcome.Context["order_id"].(string)
	sagaID, _ := outcome.Context["saga_id"].(string)
	if orderID == "" || sagaID == "" {
		return StartOrderResult{}, errors.New("stored submission outcome is missing ids")
	}
	return StartOrderResult{OrderID: orderID, SagaID: sagaID}, nil
}
