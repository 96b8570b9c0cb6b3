package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

// ErrEmptyItems is returned for an order without lines.
var ErrEmptyItems = errors.New("order has no items")

type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

type ProductNotFoundError struct{ ProductID string }

func (e *ProductNotFoundError) Error() string { return "unknown product: " + e.ProductID }

// UnavailableError is the best-effort availability rejection at checkout.
type UnavailableError struct {
	ProductID string
	Requested int
	Available int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("insufficient stock: %s (requested %d, available %d)", e.ProductID, e.Requested, e.Available)
}

type CurrencyMismatchError struct {
	ProductID string
	Want, Got string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("product %s is priced in %s, order currency is %s", e.ProductID, e.Got, e.Want)
}

// StatusCache is the read-through cache in front of order status lookups.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (string, bool, error)
	Set(ctx context.Context, orderID, status string) error
	Invalidate(ctx context.Context, orderID string) error
}

// SweepConfig holds the deadlines enforced by the order reconciliation sweep.
type SweepConfig struct {
	PaymentFailedGrace     time.Duration
	ConfirmedStuckAfter    time.Duration
	AwaitingPaymentTimeout time.Duration
	PendingResendAfter     time.Duration
	Batch                  int
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		PaymentFailedGrace:     time.Hour,
		ConfirmedStuckAfter:    5 * time.Minute,
		AwaitingPaymentTimeout: 2 * time.Hour,
		PendingResendAfter:     2 * time.Minute,
		Batch:                  100,
	}
}

const maxConflictRetries = 3

// Service owns the order lifecycle.
type Service struct {
	store   Store
	catalog Catalog
	cache   StatusCache
	name    string
	sweep   SweepConfig
	now     func() time.Time
	lg      *zap.Logger

	transitions metric.Int64Counter
	discarded   metric.Int64Counter
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithCache(c StatusCache) Option { return func(s *Service) { s.cache = c } }

func WithSweepConfig(c SweepConfig) Option { return func(s *Service) { s.sweep = c } }

// NewService creates the order service. name stamps produced events.
func NewService(store Store, catalog Catalog, name string, lg *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		name:    name,
		sweep:   DefaultSweepConfig(),
		now:     func() time.Time { return time.Now().UTC() },
		lg:      lg,
	}
	for _, o := range opts {
		o(s)
	}
	meter := otel.Meter("github.com/ariefcatur/checkout-saga/internal/orders")
	s.transitions, _ = meter.Int64Counter("orders.transitions")
	s.discarded, _ = meter.Int64Counter("orders.discarded")
	return s
}

type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	CustomerID     string        `json:"customer_id"`
	Currency       string        `json:"currency"`
	Items          []ItemRequest `json:"items"`
}

// Create validates req against the catalog, persists a PENDING order and
// queues its ReserveStock event. A known idempotency key returns the existing
// order with created=false.
func (s *Service) Create(ctx context.Context, req CreateRequest) (o Order, created bool, err error) {
	if len(req.Items) == 0 {
		return Order{}, false, ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return Order{}, false, &InvalidQuantityError{ProductID: it.ProductID, Quantity: it.Quantity}
		}
	}
	if req.IdempotencyKey != "" {
		existing, err := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Order{}, false, errors.Wrap(err, "lookup idempotency key")
		}
	}

	products := make([]Product, len(req.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, it := range req.Items {
		g.Go(func() error {
			p, err := s.catalog.Product(gctx, it.ProductID)
			if errors.Is(err, ErrProductNotFound) {
				return &ProductNotFoundError{ProductID: it.ProductID}
			}
			if err != nil {
				return errors.Wrapf(err, "read product %s", it.ProductID)
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Order{}, false, err
	}

	currency := req.Currency
	if currency == "" {
		currency = products[0].Currency
	}
	// Quantities per product across repeated lines.
	requested := make(map[string]int, len(req.Items))
	for _, it := range req.Items {
		requested[it.ProductID] += it.Quantity
	}

	now := s.now()
	o = Order{
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     req.CustomerID,
		Currency:       currency,
		Total:          decimal.Zero,
		Status:         StatusPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, it := range req.Items {
		p := products[i]
		if p.Currency != currency {
			return Order{}, false, &CurrencyMismatchError{ProductID: p.ID, Want: currency, Got: p.Currency}
		}
		if p.Stock < requested[it.ProductID] {
			return Order{}, false, &UnavailableError{ProductID: it.ProductID, Requested: requested[it.ProductID], Available: p.Stock}
		}
		o.Items = append(o.Items, LineItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: p.Price})
		o.Total = o.Total.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Order{}, false, errors.Wrap(err, "order id")
	}
	o.ID = id.String()

	recs, err := outbox.Build(s.name, events.ReserveStock{OrderID: o.ID, Items: o.StockItems()})
	if err != nil {
		return Order{}, false, err
	}
	if err := s.store.Create(ctx, o, recs); err != nil {
		if errors.Is(err, ErrDuplicate) && req.IdempotencyKey != "" {
			existing, gerr := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if gerr != nil {
				return Order{}, false, errors.Wrap(gerr, "load concurrent order")
			}
			return existing, false, nil
		}
		return Order{}, false, errors.Wrap(err, "create order")
	}

	s.lg.Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("total", o.Total.String()),
		zap.Int("items", len(o.Items)),
	)
	s.cacheSet(ctx, o)
	return o, true, nil
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.store.Get(ctx, id)
}

// Status reads the order status through the cache.
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	if s.cache != nil {
		st, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.lg.Warn("Status cache read failed", zap.String("order_id", id), zap.Error(err))
		}
		if ok {
			return Status(st), nil
		}
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	s.cacheSet(ctx, o)
	return o.Status, nil
}

// HandleReservationResult applies the inventory answer for a PENDING order.
func (s *Service) HandleReservationResult(ctx context.Context, ev events.StockReservationResult) error {
	_, err := s.update(ctx, ev.OrderID, func(o Order) (Decision, error) {
		return OnReservationResult(o, ev), nil
	})
	return s.absorb(ev.OrderID, events.TypeStockReservationResult, err)
}

// HandlePaymentResult applies a payment outcome for an order awaiting it.
func (s *Service) HandlePaymentResult(ctx context.Context, ev events.PaymentProcessed) error {
	_, err := s.update(ctx, ev.OrderID, func(o Order) (Decision, error) {
		return OnPaymentResult(o, ev), nil
	})
	return s.absorb(ev.OrderID, events.TypePaymentProcessed, err)
}

// RetryPayment reopens payment for a PAYMENT_FAILED order.
func (s *Service) RetryPayment(ctx context.Context, id string) (Order, error) {
	return s.update(ctx, id, OnRetryPayment)
}

// Complete hands a PAID order over to fulfillment.
func (s *Service) Complete(ctx context.Context, id string) (Order, error) {
	return s.update(ctx, id, OnComplete)
}

// absorb turns business outcomes of an inbound event into a logged discard.
// Only infrastructure errors reach the consumer and cause redelivery.
func (s *Service) absorb(orderID string, t events.Type, err error) error {
	var te *TransitionError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		s.lg.Warn("Event for unknown order dropped",
			zap.String("order_id", orderID), zap.String("event_type", string(t)))
		s.discarded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", "unknown_order")))
		return nil
	case errors.As(err, &te):
		s.lg.Warn("Event rejected by state graph",
			zap.String("order_id", orderID), zap.String("event_type", string(t)), zap.Error(err))
		return nil
	default:
		return err
	}
}

// update loads the order, asks decide what to do and persists the result,
// re-deciding on a concurrent modification.
func (s *Service) update(ctx context.Context, id string, decide func(Order) (Decision, error)) (Order, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return Order{}, err
		}
		d, err := decide(o)
		if err != nil {
			return o, err
		}
		if d.Noop() {
			if d.Discard != "" {
				s.lg.Info("Order input discarded",
					zap.String("order_id", o.ID),
					zap.String("status", string(o.Status)),
					zap.String("reason", d.Discard),
				)
				s.discarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "state_guard")))
			}
			return o, nil
		}
		next, steps, err := s.apply(ctx, o, d)
		if errors.Is(err, ErrConflict) && steps == 0 && attempt < maxConflictRetries {
			s.lg.Debug("Order changed concurrently, retrying", zap.String("order_id", id), zap.Int("attempt", attempt))
			continue
		}
		if errors.Is(err, ErrConflict) && steps > 0 {
			// A partial path is finished by the reconciliation sweep.
			s.lg.Warn("Order changed between steps", zap.String("order_id", id), zap.String("status", string(next.Status)))
			return next, nil
		}
		return next, err
	}
}

// apply persists the steps of d one by one and reports how many succeeded.
func (s *Service) apply(ctx context.Context, o Order, d Decision) (Order, int, error) {
	path := d.Path
	if len(path) == 0 {
		// Re-publish only; the same-status step refreshes the staleness clock.
		path = []Status{o.Status}
	}
	cur := o
	for i, to := range path {
		if to != cur.Status && !CanTransition(cur.Status, to) {
			return cur, i, &TransitionError{OrderID: o.ID, From: cur.Status, To: to}
		}
		p := Patch{Status: to, At: s.now()}
		var recs []outbox.Record
		if i == len(path)-1 {
			if d.Reason != "" {
				p.FailureReason = &d.Reason
			} else if to == StatusAwaitingPayment && cur.Status == StatusPaymentFailed {
				cleared := ""
				p.FailureReason = &cleared
			}
			if d.PaymentID != "" {
				p.PaymentID = &d.PaymentID
			}
			if d.Attempt > 0 {
				p.PaymentAttempt = &d.Attempt
			}
			var err error
			if recs, err = outbox.Build(s.name, d.Emit...); err != nil {
				return cur, i, err
			}
		}
		next, err := s.store.Transition(ctx, o.ID, cur.Version, p, recs)
		if err != nil {
			return cur, i, err
		}
		s.lg.Info("Order transitioned",
			zap.String("order_id", o.ID),
			zap.String("from", string(cur.Status)),
			zap.String("to", string(to)),
			zap.Int("version", next.Version),
		)
		s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
		cur = next
	}
	s.cacheInvalidate(ctx, cur.ID)
	return cur, len(path), nil
}

func (s *Service) cacheSet(ctx context.Context, o Order) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, o.ID, string(o.Status)); err != nil {
		s.lg.Warn("Status cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (s *Service) cacheInvalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.lg.Warn("Status cache invalidation failed", zap.String("order_id", id), zap.Error(err))
	}
}
