package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/inventory"
)

// ProductsHandler serves the catalog read by the order service and the
// stock seeding endpoint.
type ProductsHandler struct {
	Service *inventory.Service
	Log     *zap.Logger
}

type setStockReq struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Stock    int             `json:"stock"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products/{id}", h.getProduct)
	r.Put("/products/{id}/stock", h.setStock)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Service.Product(ctx, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, inventory.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case err != nil:
		h.Log.Error("Get product failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *ProductsHandler) setStock(w http.ResponseWriter, r *http.Request) {
	var req setStockReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	err := h.Service.SetStock(ctx, inventory.Product{
		ID:       id,
		Name:     req.Name,
		Price:    req.Price,
		Currency: req.Currency,
		Stock:    req.Stock,
	})
	switch {
	case errors.Is(err, inventory.ErrInvalidProduct):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.Log.Error("Set stock failed", zap.String("product_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	p, err := h.Service.Product(ctx, id)
	if err != nil {
		h.Log.Error("Reload product failed", zap.String("product_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
