package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

func newTestService(t *testing.T, stock map[string]int) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, "inventory-test", zap.NewNop())
	for id, n := range stock {
		require.NoError(t, svc.SetStock(context.Background(), Product{
			ID: id, Price: decimal.RequireFromString("10.00"), Currency: "usd", Stock: n,
		}))
	}
	return svc, store
}

func stockOf(t *testing.T, s *MemoryStore, id string) int {
	t.Helper()
	p, err := s.Product(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func results(t *testing.T, s *MemoryStore) []events.StockReservationResult {
	t.Helper()
	var out []events.StockReservationResult
	for _, rec := range s.Outbox().Of(events.TypeStockReservationResult) {
		env, err := events.Parse(rec.Value)
		require.NoError(t, err)
		ev, err := events.Decode[events.StockReservationResult](env)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestReserve_Success(t *testing.T) {
	svc, store := newTestService(t, map[string]int{"P1": 5})
	ctx := context.Background()

	r, err := svc.Reserve(ctx, events.ReserveStock{OrderID: "o1", Items: []events.Item{{ProductID: "P1", Quantity: 2}}})
	require.NoError(t, err)
	assert.Equal(t, ReservationReserved, r.Status)
	assert.Equal(t, 3, stockOf(t, store, "P1"))
	assert.Equal(t, []events.StockReservationResult{{OrderID: "o1", Success: true}}, results(t, store))
}

func TestReserve_Idempotent(t *testing.T) {
	svc, store := newTestService(t, map[string]int{"P1": 5})
	ctx := context.Background()
	ev := events.ReserveStock{OrderID: "o1", Items: []events.Item{{ProductID: "P1", Quantity: 2}}}

	_, err := svc.Reserve(ctx, ev)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, 3, stockOf(t, store, "P1"))
	res := results(t, store)
	require.Len(t, res, 2, "replay re-sends the recorded result")
	assert.Equal(t, res[0], res[1])
}

func TestReserve_AllOrNothing(t *testing.T) {
	svc, store := newTestService(t, map[string]int{"P1": 5, "P2": 3})
	ctx := context.Background()

	r, err := svc.Reserve(ctx, events.ReserveStock{OrderID: "o2", Items: []events.Item{
		{ProductID: "P1", Quantity: 1},
		{ProductID: "P2", Quantity: 10},
	}})
	require.NoError(t, err)
	assert.Equal(t, ReservationRejected, r.Status)
	assert.Equal(t, 5, stockOf(t, store, "P1"))
	assert.Equal(t, 3, stockOf(t, store, "P2"))
	assert.Equal(t, []events.StockReservationResult{
		{OrderID: "o2", FailureReason: "insufficient stock: P2"},
	}, results(t, store))
}

func TestRelease(t *testing.T) {
	svc, store := newTestService(t, map[string]int{"P1": 5})
	ctx := context.Background()
	items := []events.Item{{ProductID: "P1", Quantity: 2}}

	_, err := svc.Reserve(ctx, events.ReserveStock{OrderID: "o1", Items: items})
	require.NoError(t, err)
	require.Equal(t, 3, stockOf(t, store, "P1"))

	require.NoError(t, svc.Release(ctx, events.ReleaseStock{OrderID: "o1", Items: items}))
	assert.Equal(t, 5, stockOf(t, store, "P1"))

	// Second delivery restores nothing.
	require.NoError(t, svc.Release(ctx, events.ReleaseStock{OrderID: "o1", Items: items}))
	assert.Equal(t, 5, stockOf(t, store, "P1"))
	assert.Empty(t, store.Outbox().Of(events.TypeReleaseStock))
}

func TestRelease_Rejected(t *testing.T) {
	svc, store := newTestService(t, map[string]int{"P2": 3})
	ctx := context.Background()
	items := []events.Item{{ProductID: "P2", Quantity: 10}}

	_, err := svc.Reserve(ctx, events.ReserveStock{OrderID: "o2", Items: items})
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, events.ReleaseStock{OrderID: "o2", Items: items}))
	assert.Equal(t, 3, stockOf(t, store, "P2"))
}

func TestRelease_BeforeReserve(t *testing.T) {
	svc, store := newTestService(t, map[string]int{"P1": 5})
	ctx := context.Background()
	items := []events.Item{{ProductID: "P1", Quantity: 2}}

	require.NoError(t, svc.Release(ctx, events.ReleaseStock{OrderID: "o3", Items: items}))
	assert.Equal(t, 5, stockOf(t, store, "P1"))

	r, err := svc.Reserve(ctx, events.ReserveStock{OrderID: "o3", Items: items})
	require.NoError(t, err)
	assert.Equal(t, ReservationReleased, r.Status)
	assert.Equal(t, 5, stockOf(t, store, "P1"), "tombstone blocks a late reservation")
	assert.Equal(t, []events.StockReservationResult{
		{OrderID: "o3", FailureReason: "reservation released"},
	}, results(t, store))
}

func TestHandle_Malformed(t *testing.T) {
	svc, store := newTestService(t, map[string]int{"P1": 5})
	err := svc.Handle(context.Background(), events.Envelope{
		EventID:   "e1",
		EventType: events.TypeReserveStock,
		Payload:   []byte(`{"order_id":`),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, stockOf(t, store, "P1"))
}

func TestHandle_Dispatch(t *testing.T) {
	svc, store := newTestService(t, map[string]int{"P1": 5})
	ctx := context.Background()
	env, err := events.New("test", events.ReserveStock{OrderID: "o1", Items: []events.Item{{ProductID: "P1", Quantity: 5}}})
	require.NoError(t, err)

	require.NoError(t, svc.Handle(ctx, env))
	assert.Equal(t, 0, stockOf(t, store, "P1"))

	env, err = events.New("test", events.ReleaseStock{OrderID: "o1"})
	require.NoError(t, err)
	require.NoError(t, svc.Handle(ctx, env))
	assert.Equal(t, 5, stockOf(t, store, "P1"))
}

func TestSetStock_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	err := svc.SetStock(context.Background(), Product{ID: "P1", Currency: "USD", Stock: -1})
	require.ErrorIs(t, err, ErrInvalidProduct)
	err = svc.SetStock(context.Background(), Product{ID: "P1", Currency: "US", Stock: 1})
	require.ErrorIs(t, err, ErrInvalidProduct)
}
