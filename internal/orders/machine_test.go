package orders

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func order(st Status) Order {
	return Order{
		ID:        "o1",
		Currency:  "USD",
		Total:     decimal.RequireFromString("20.00"),
		Items:     []LineItem{{ProductID: "P1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")}},
		Status:    st,
		Version:   1,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func TestOnReservationResult(t *testing.T) {
	d := OnReservationResult(order(StatusPending), events.StockReservationResult{OrderID: "o1", Success: true})
	assert.Equal(t, []Status{StatusConfirmed, StatusAwaitingPayment}, d.Path)
	require.Len(t, d.Emit, 1)
	assert.Equal(t, events.OrderConfirmed{OrderID: "o1", Amount: decimal.RequireFromString("20.00"), Currency: "USD"}, d.Emit[0])

	d = OnReservationResult(order(StatusPending), events.StockReservationResult{OrderID: "o1", FailureReason: "insufficient stock: P2"})
	assert.Equal(t, []Status{StatusCancelled}, d.Path)
	assert.Equal(t, "insufficient stock: P2", d.Reason)
	assert.Empty(t, d.Emit, "nothing reserved, nothing to release")

	d = OnReservationResult(order(StatusAwaitingPayment), events.StockReservationResult{OrderID: "o1", Success: true})
	assert.True(t, d.Noop())
	assert.NotEmpty(t, d.Discard)
}

func TestOnPaymentResult(t *testing.T) {
	d := OnPaymentResult(order(StatusAwaitingPayment), events.PaymentProcessed{OrderID: "o1", PaymentID: "p1", Success: true})
	assert.Equal(t, []Status{StatusPaid}, d.Path)
	assert.Equal(t, "p1", d.PaymentID)

	d = OnPaymentResult(order(StatusAwaitingPayment), events.PaymentProcessed{OrderID: "o1", PaymentID: "p1", Expired: true})
	assert.Equal(t, []Status{StatusPaymentFailed}, d.Path)
	assert.Equal(t, "payment session expired", d.Reason)
	assert.Empty(t, d.Emit, "failure does not compensate")

	d = OnPaymentResult(order(StatusAwaitingPayment), events.PaymentProcessed{OrderID: "o1", PaymentID: "p1", FailureReason: "card declined"})
	assert.Equal(t, "card declined", d.Reason)

	o := order(StatusAwaitingPayment)
	o.PaymentID = "p1"
	d = OnPaymentResult(o, events.PaymentProcessed{OrderID: "o1", PaymentID: "p1", Success: true})
	assert.True(t, d.Noop(), "result of an already applied payment")

	d = OnPaymentResult(order(StatusPending), events.PaymentProcessed{OrderID: "o1", PaymentID: "p1", Success: true})
	assert.True(t, d.Noop())
}

func TestOnPaymentResult_Attempts(t *testing.T) {
	o := order(StatusAwaitingPayment)
	o.PaymentAttempt = 1

	d := OnPaymentResult(o, events.PaymentProcessed{OrderID: "o1", PaymentID: "p0", Attempt: 0, Expired: true})
	assert.True(t, d.Noop(), "failure of an earlier attempt")
	assert.Contains(t, d.Discard, "attempt 0")

	d = OnPaymentResult(o, events.PaymentProcessed{OrderID: "o1", PaymentID: "p1", Attempt: 1, FailureReason: "card declined"})
	assert.Equal(t, []Status{StatusPaymentFailed}, d.Path)
	assert.Equal(t, "p1", d.PaymentID)

	d = OnPaymentResult(o, events.PaymentProcessed{OrderID: "o1", PaymentID: "p0", Attempt: 0, Success: true})
	assert.Equal(t, []Status{StatusPaid}, d.Path, "money collected on an earlier attempt pays the order")
	assert.Equal(t, "p0", d.PaymentID)
}

func TestOnPaymentFailedExpired(t *testing.T) {
	o := order(StatusPaymentFailed)
	o.FailureReason = "card declined"

	d := OnPaymentFailedExpired(o, t0.Add(59*time.Minute), time.Hour)
	assert.True(t, d.Noop())

	d = OnPaymentFailedExpired(o, t0.Add(time.Hour), time.Hour)
	assert.Equal(t, []Status{StatusCancelled}, d.Path)
	assert.Equal(t, []events.Payload{events.ReleaseStock{OrderID: "o1", Items: []events.Item{{ProductID: "P1", Quantity: 2}}}}, d.Emit)
	assert.Equal(t, "card declined", d.Reason)
}

func TestSweepDecisions(t *testing.T) {
	d := OnConfirmedStuck(order(StatusConfirmed), t0.Add(5*time.Minute), 5*time.Minute)
	assert.Equal(t, []Status{StatusAwaitingPayment}, d.Path)
	require.Len(t, d.Emit, 1)
	assert.Equal(t, events.TypeOrderConfirmed, d.Emit[0].EventType())

	d = OnAwaitingPaymentTimeout(order(StatusAwaitingPayment), t0.Add(2*time.Hour), 2*time.Hour)
	assert.Equal(t, []Status{StatusPaymentFailed}, d.Path)
	assert.Equal(t, "payment timeout", d.Reason)

	d = OnPendingStale(order(StatusPending), t0.Add(2*time.Minute), 2*time.Minute)
	assert.Empty(t, d.Path)
	require.Len(t, d.Emit, 1)
	assert.Equal(t, events.TypeReserveStock, d.Emit[0].EventType())

	assert.True(t, OnPendingStale(order(StatusPending), t0.Add(time.Minute), 2*time.Minute).Noop())
}

func TestOnRetryPayment(t *testing.T) {
	d, err := OnRetryPayment(order(StatusPaymentFailed))
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusAwaitingPayment}, d.Path)
	assert.Equal(t, 1, d.Attempt)
	assert.Equal(t, 1, d.Emit[0].(events.OrderConfirmed).Attempt)

	_, err = OnRetryPayment(order(StatusCancelled))
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusCancelled, te.From)
}

func TestOnComplete(t *testing.T) {
	d, err := OnComplete(order(StatusPaid))
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusCompleted}, d.Path)

	d, err = OnComplete(order(StatusCompleted))
	require.NoError(t, err)
	assert.True(t, d.Noop())

	_, err = OnComplete(order(StatusAwaitingPayment))
	require.Error(t, err)
}

// No input moves an order out of a terminal status.
func TestTerminalStatusesAbsorb(t *testing.T) {
	late := t0.Add(24 * time.Hour)
	for _, st := range []Status{StatusCancelled, StatusCompleted} {
		o := order(st)
		decisions := []Decision{
			OnReservationResult(o, events.StockReservationResult{OrderID: "o1", Success: true}),
			OnReservationResult(o, events.StockReservationResult{OrderID: "o1"}),
			OnPaymentResult(o, events.PaymentProcessed{OrderID: "o1", PaymentID: "p9", Success: true}),
			OnPaymentResult(o, events.PaymentProcessed{OrderID: "o1", PaymentID: "p9"}),
			OnPaymentFailedExpired(o, late, time.Hour),
			OnConfirmedStuck(o, late, time.Minute),
			OnAwaitingPaymentTimeout(o, late, time.Minute),
			OnPendingStale(o, late, time.Minute),
		}
		for i, d := range decisions {
			assert.True(t, d.Noop(), "%s: decision %d", st, i)
		}
		_, err := OnRetryPayment(o)
		assert.Error(t, err)
		assert.True(t, st.Terminal())
		for _, next := range []Status{StatusPending, StatusConfirmed, StatusAwaitingPayment, StatusPaid, StatusPaymentFailed, StatusCancelled, StatusCompleted} {
			assert.False(t, CanTransition(st, next))
		}
	}
}
