package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"orderflow/internal/observability"
	"orderflow/internal/orders"
	"orderflow/internal/realtime"
	"orderflow/internal/saga"
)

// OrderService defines the behavior needed by the HTTP adapter.
type OrderService interface {
	StartOrder(ctx context.Context, req orders.StartOrderRequest, idemKey string) (orders.StartOrderResult, error)
	Order(ctx context.Context, orderID string) (orders.Order, error)
	SagaStatus(ctx context.Context, sagaID string) (*saga.Instance, error)
	CancelSaga(ctx context.Context, sagaID string) error
}

// Handler adapts OrderService to HTTP. Order submission is asynchronous: a
// 202 response means the saga was persisted and scheduled, not that the order
// was fulfilled.
type Handler struct {
	service  OrderService
	hub      *realtime.Hub
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler. hub and metrics may be nil.
func NewHandler(svc OrderService, hub *realtime.Hub, metrics *observability.Metrics) *Handler {
	return &Handler{
		service: svc,
		hub:     hub,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes registers the API endpoints on a mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", h.startOrder)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	mux.HandleFunc("GET /sagas/{id}", h.getSaga)
	mux.HandleFunc("POST /sagas/{id}/cancel", h.cancelSaga)
	if h.hub != nil {
		mux.HandleFunc("GET /ws", h.serveWS)
	}
	return mux
}

type startOrderResponse struct {
	OrderID string `json:"order_id"`
	SagaID  string `json:"saga_id"`
	Status  string `json:"status"`
}

func (h *Handler) startOrder(w http.ResponseWriter, r *http.Request) {
	span := h.span("StartOrder")
	var req orders.StartOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	result, err := h.service.StartOrder(r.Context(), req, idemKey)
	span.End(err)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startOrderResponse{
		OrderID: result.OrderID,
		SagaID:  result.SagaID,
		Status:  "accepted",
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	span := h.span("GetOrder")
	order, err := h.service.Order(r.Context(), r.PathValue("id"))
	span.End(err)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) getSaga(w http.ResponseWriter, r *http.Request) {
	span := h.span("GetSaga")
	inst, err := h.service.SagaStatus(r.Context(), r.PathValue("id"))
	span.End(err)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) cancelSaga(w http.ResponseWriter, r *http.Request) {
	span := h.span("CancelSaga")
	err := h.service.CancelSaga(r.Context(), r.PathValue("id"))
	span.End(err)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade: %v", err)
		return
	}
	h.hub.Register <- conn
	go func() {
		defer func() { h.hub.Unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Handler) span(method string) *observability.CallSpan {
	// A nil *Metrics still yields a usable no-op span.
	return h.metrics.Start(method)
}

func writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, saga.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, saga.ErrInstanceNotFound), errors.Is(err, saga.ErrUnknownSagaType):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrRequestInFlight), errors.Is(err, saga.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
