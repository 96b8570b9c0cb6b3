package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/gateway"
	"github.com/ariefcatur/checkout-saga/internal/inventory"
	"github.com/ariefcatur/checkout-saga/internal/orders"
	"github.com/ariefcatur/checkout-saga/internal/payment"
)

var whsec = []byte("whsec")

// stack runs the three services behind real HTTP servers, wired to each
// other through their HTTP clients.
type stack struct {
	inventory *httptest.Server
	orders    *httptest.Server
	payments  *httptest.Server
	orderSvc  *orders.Service
}

func newStack(t *testing.T) *stack {
	t.Helper()
	lg := zap.NewNop()
	s := &stack{}

	inv := NewRouter(lg)
	(&ProductsHandler{Service: inventory.NewService(inventory.NewMemoryStore(), "inventory", lg), Log: lg}).Register(inv)
	s.inventory = httptest.NewServer(inv)
	t.Cleanup(s.inventory.Close)

	s.orderSvc = orders.NewService(orders.NewMemoryStore(), orders.NewCatalogClient(s.inventory.URL, time.Second), "order-api", lg)
	ord := NewRouter(lg)
	(&OrdersHandler{Service: s.orderSvc, Log: lg}).Register(ord)
	s.orders = httptest.NewServer(ord)
	t.Cleanup(s.orders.Close)

	reg := gateway.NewRegistry(gateway.NameSandbox)
	reg.Register(gateway.NewSandbox(gateway.NameSandbox, 30*time.Minute), whsec)
	paySvc := payment.NewService(payment.NewMemoryStore(), reg, payment.NewOrderClient(s.orders.URL, time.Second), "payment", lg)
	pay := NewRouter(lg)
	(&PaymentsHandler{Service: paySvc, Log: lg}).Register(pay)
	s.payments = httptest.NewServer(pay)
	t.Cleanup(s.payments.Close)
	return s
}

func do(t *testing.T, method, url string, body any, hdr ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *stack) seed(t *testing.T, id, price string, stock int) {
	t.Helper()
	resp := do(t, http.MethodPut, s.inventory.URL+"/products/"+id+"/stock", map[string]any{
		"name": id, "price": price, "currency": "USD", "stock": stock,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func (s *stack) createOrder(t *testing.T, key string, items ...orders.ItemRequest) orderView {
	t.Helper()
	resp := do(t, http.MethodPost, s.orders.URL+"/orders", orders.CreateRequest{IdempotencyKey: key, CustomerID: "c1", Items: items})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[orderView](t, resp)
}

func TestHealthz(t *testing.T) {
	s := newStack(t)
	resp := do(t, http.MethodGet, s.orders.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProducts_SeedAndGet(t *testing.T) {
	s := newStack(t)
	s.seed(t, "P1", "10.00", 5)

	resp := do(t, http.MethodGet, s.inventory.URL+"/products/P1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeBody[inventory.Product](t, resp)
	assert.Equal(t, 5, p.Stock)
	assert.True(t, decimal.RequireFromString("10").Equal(p.Price))

	resp = do(t, http.MethodGet, s.inventory.URL+"/products/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPut, s.inventory.URL+"/products/P1/stock", map[string]any{"price": "1", "currency": "US", "stock": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrders_Create(t *testing.T) {
	s := newStack(t)
	s.seed(t, "P1", "10.00", 5)

	o := s.createOrder(t, "k1", orders.ItemRequest{ProductID: "P1", Quantity: 2})
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, "USD", o.Currency)
	assert.True(t, decimal.RequireFromString("20").Equal(o.Total))

	// Same key: the first order comes back.
	resp := do(t, http.MethodPost, s.orders.URL+"/orders",
		map[string]any{"customer_id": "c1", "items": []map[string]any{{"product_id": "P1", "quantity": 2}}},
		"Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, o.ID, decodeBody[orderView](t, resp).ID)

	resp = do(t, http.MethodGet, s.orders.URL+"/orders/"+o.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[orderView](t, resp)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "P1", got.Items[0].ProductID)

	resp = do(t, http.MethodGet, s.orders.URL+"/orders/"+o.ID+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING", decodeBody[map[string]string](t, resp)["status"])
}

func TestOrders_CreateRejections(t *testing.T) {
	s := newStack(t)
	s.seed(t, "P1", "10.00", 5)

	tests := []struct {
		name string
		body any
		code int
	}{
		{"malformed", []byte(`{"items":`), http.StatusBadRequest},
		{"unknown field", map[string]any{"itemz": 1}, http.StatusBadRequest},
		{"no items", orders.CreateRequest{CustomerID: "c1"}, http.StatusBadRequest},
		{"zero quantity", orders.CreateRequest{Items: []orders.ItemRequest{{ProductID: "P1"}}}, http.StatusBadRequest},
		{"unknown product", orders.CreateRequest{Items: []orders.ItemRequest{{ProductID: "X", Quantity: 1}}}, http.StatusUnprocessableEntity},
		{"not enough stock", orders.CreateRequest{Items: []orders.ItemRequest{{ProductID: "P1", Quantity: 6}}}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, s.orders.URL+"/orders", tt.body)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.NotEmpty(t, decodeBody[errorBody](t, resp).Error)
		})
	}
}

func TestOrders_Transitions(t *testing.T) {
	s := newStack(t)
	s.seed(t, "P1", "10.00", 5)
	o := s.createOrder(t, "", orders.ItemRequest{ProductID: "P1", Quantity: 1})

	resp := do(t, http.MethodGet, s.orders.URL+"/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, s.orders.URL+"/orders/"+o.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = do(t, http.MethodPost, s.orders.URL+"/orders/"+o.ID+"/retry-payment", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPayments_SessionAndWebhook(t *testing.T) {
	s := newStack(t)
	s.seed(t, "P1", "10.00", 5)
	o := s.createOrder(t, "", orders.ItemRequest{ProductID: "P1", Quantity: 2})

	// Still PENDING: no session yet.
	resp := do(t, http.MethodPost, s.payments.URL+"/payments", createPaymentReq{OrderID: o.ID})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, s.orderSvc.HandleReservationResult(context.Background(),
		events.StockReservationResult{OrderID: o.ID, Success: true}))

	resp = do(t, http.MethodPost, s.payments.URL+"/payments", createPaymentReq{OrderID: o.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decodeBody[payment.Payment](t, resp)
	assert.Equal(t, payment.StatusCreated, p.Status)
	assert.Equal(t, gateway.NameSandbox, p.Gateway)
	assert.True(t, decimal.RequireFromString("20").Equal(p.Amount))
	assert.NotEmpty(t, p.CheckoutURL)

	resp = do(t, http.MethodPost, s.payments.URL+"/payments", createPaymentReq{OrderID: o.ID})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, p.ID, decodeBody[payment.Payment](t, resp).ID)

	resp = do(t, http.MethodPost, s.payments.URL+"/payments", createPaymentReq{OrderID: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := []byte(`{"id":"evt_1","type":"checkout.completed","payment_id":"` + p.ID + `","session_ref":"` + p.GatewayRef + `"}`)
	hook := s.payments.URL + "/webhooks/" + gateway.NameSandbox

	resp = do(t, http.MethodPost, hook, body, gateway.SignatureHeader, "00")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = do(t, http.MethodPost, s.payments.URL+"/webhooks/acme", body, gateway.SignatureHeader, gateway.Sign(whsec, body))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	bad := []byte(`{"type":"checkout.completed"}`)
	resp = do(t, http.MethodPost, hook, bad, gateway.SignatureHeader, gateway.Sign(whsec, bad))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, hook, body, gateway.SignatureHeader, gateway.Sign(whsec, body))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	// Redelivery is acknowledged too.
	resp = do(t, http.MethodPost, hook, body, gateway.SignatureHeader, gateway.Sign(whsec, body))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, s.payments.URL+"/payments/"+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, payment.StatusSuccessful, decodeBody[payment.Payment](t, resp).Status)

	resp = do(t, http.MethodGet, s.payments.URL+"/payments/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
