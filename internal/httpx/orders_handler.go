package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/orders"
)

type OrdersHandler struct {
	Service *orders.Service
	Log     *zap.Logger
}

type orderView struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CustomerID     string            `json:"customer_id"`
	Currency       string            `json:"currency"`
	Total          decimal.Decimal   `json:"total"`
	Status         orders.Status     `json:"status"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	PaymentAttempt int               `json:"payment_attempt"`
	PaymentID      string            `json:"payment_id,omitempty"`
	Items          []orders.LineItem `json:"items"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func viewOrder(o orders.Order) orderView {
	return orderView{
		ID:             o.ID,
		IdempotencyKey: o.IdempotencyKey,
		CustomerID:     o.CustomerID,
		Currency:       o.Currency,
		Total:          o.Total,
		Status:         o.Status,
		FailureReason:  o.FailureReason,
		PaymentAttempt: o.PaymentAttempt,
		PaymentID:      o.PaymentID,
		Items:          o.Items,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/retry-payment", h.retryPayment)
	r.Post("/orders/{id}/complete", h.complete)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, created, err := h.Service.Create(ctx, req)
	if err != nil {
		h.fail(w, "create order", err)
		return
	}
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, viewOrder(o))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(o))
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	st, err := h.Service.Status(ctx, id)
	if err != nil {
		h.fail(w, "get order status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(st)})
}

func (h *OrdersHandler) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.RetryPayment(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "retry payment", err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOrder(o))
}

func (h *OrdersHandler) complete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Complete(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "complete order", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(o))
}

func (h *OrdersHandler) fail(w http.ResponseWriter, op string, err error) {
	var (
		qty      *orders.InvalidQuantityError
		unknown  *orders.ProductNotFoundError
		currency *orders.CurrencyMismatchError
		stock    *orders.UnavailableError
		trans    *orders.TransitionError
	)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, orders.ErrEmptyItems), errors.As(err, &qty):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &unknown), errors.As(err, &currency):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &stock), errors.As(err, &trans):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orders.ErrConflict):
		writeError(w, http.StatusConflict, "order changed concurrently, retry")
	default:
		h.Log.Error("Request failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}
