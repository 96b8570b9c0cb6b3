package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/gateway"
	"github.com/ariefcatur/checkout-saga/internal/payment"
)

type PaymentsHandler struct {
	Service *payment.Service
	Log     *zap.Logger
}

type createPaymentReq struct {
	OrderID string `json:"order_id"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments", h.createPayment)
	r.Get("/payments/{id}", h.getPayment)
	r.Post("/webhooks/{provider}", h.webhook)
}

func (h *PaymentsHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "missing order_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p, err := h.Service.CreateSession(ctx, req.OrderID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, p)
	case errors.Is(err, payment.ErrExists):
		// The live payment is returned so the client can resume it.
		writeJSON(w, http.StatusConflict, p)
	case errors.Is(err, payment.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, payment.ErrOrderNotAwaitingPayment):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.Log.Error("Create payment failed", zap.String("order_id", req.OrderID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}

func (h *PaymentsHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, payment.ErrNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
	case err != nil:
		h.Log.Error("Get payment failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

// webhook answers 2xx only once the callback is applied, so the gateway
// redelivers on any infrastructure failure.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	provider := chi.URLParam(r, "provider")
	err = h.Service.Webhook(ctx, provider, body, r.Header.Get(gateway.SignatureHeader))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, gateway.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, "unknown provider")
	case errors.Is(err, gateway.ErrBadSignature):
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, gateway.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Log.Error("Webhook failed", zap.String("provider", provider), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}
