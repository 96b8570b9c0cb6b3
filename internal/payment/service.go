package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/gateway"
	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

// ErrOrderNotAwaitingPayment rejects a session for an order in another status.
var ErrOrderNotAwaitingPayment = errors.New("order is not awaiting payment")

// orderAwaitingPayment is the order status a payment may be opened for.
const orderAwaitingPayment = "AWAITING_PAYMENT"

const maxConflictRetries = 3

// SweepConfig holds the deadlines of the payment reconciliation sweep.
type SweepConfig struct {
	// SessionTTL is how long a CREATED payment waits before the gateway is
	// asked for the session status.
	SessionTTL time.Duration
	// PendingTimeout fails payments whose session was never opened.
	PendingTimeout time.Duration
	Batch          int
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{SessionTTL: 30 * time.Minute, PendingTimeout: 5 * time.Minute, Batch: 100}
}

type Service struct {
	store    Store
	gateways *gateway.Registry
	orders   OrderReader
	name     string
	sweep    SweepConfig
	now      func() time.Time
	lg       *zap.Logger

	settled   metric.Int64Counter
	discarded metric.Int64Counter
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithSweepConfig(c SweepConfig) Option { return func(s *Service) { s.sweep = c } }

func NewService(store Store, gateways *gateway.Registry, orders OrderReader, name string, lg *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		gateways: gateways,
		orders:   orders,
		name:     name,
		sweep:    DefaultSweepConfig(),
		now:      func() time.Time { return time.Now().UTC() },
		lg:       lg,
	}
	for _, o := range opts {
		o(s)
	}
	meter := otel.Meter("github.com/ariefcatur/checkout-saga/internal/payment")
	s.settled, _ = meter.Int64Counter("payment.settled")
	s.discarded, _ = meter.Int64Counter("payment.discarded")
	return s
}

// ConsumedTopics are the topics the payment handler subscribes to.
func ConsumedTopics() []string {
	return events.Topics(events.TypeOrderConfirmed, events.TypeChargeRequested)
}

func (s *Service) Get(ctx context.Context, id string) (Payment, error) {
	return s.store.Get(ctx, id)
}

// CreateSession opens a payment for an order read from the order service.
// An order with a live payment gets ErrExists together with that payment.
func (s *Service) CreateSession(ctx context.Context, orderID string) (Payment, error) {
	o, err := s.orders.Order(ctx, orderID)
	if err != nil {
		return Payment{}, err
	}
	if o.Status != orderAwaitingPayment {
		return Payment{}, errors.Wrapf(ErrOrderNotAwaitingPayment, "order %s is %s", orderID, o.Status)
	}
	return s.open(ctx, o.ID, o.Total, o.Currency, o.PaymentAttempt)
}

// HandleOrderConfirmed opens the payment triggered by a confirmed order.
func (s *Service) HandleOrderConfirmed(ctx context.Context, ev events.OrderConfirmed) error {
	p, err := s.open(ctx, ev.OrderID, ev.Amount, ev.Currency, ev.Attempt)
	if !errors.Is(err, ErrExists) {
		return err
	}
	s.lg.Info("Payment already exists for order",
		zap.String("order_id", ev.OrderID),
		zap.String("payment_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.Int("attempt", ev.Attempt),
	)
	if p.Status.Terminal() {
		// The order asked again, so it may have missed the result.
		return s.republish(ctx, p)
	}
	return nil
}

func (s *Service) open(ctx context.Context, orderID string, amount decimal.Decimal, currency string, attempt int) (Payment, error) {
	gw, err := s.gateways.Default()
	if err != nil {
		return Payment{}, err
	}
	if live, err := s.store.Live(ctx, orderID); err == nil {
		if live.Status == StatusCreated && supersedes(live, attempt) {
			paid, err := s.closeSession(ctx, live)
			if err != nil {
				return Payment{}, err
			}
			if paid.Status == StatusSuccessful {
				return paid, ErrExists
			}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Payment{}, errors.Wrap(err, "get live payment")
	}

	now := s.now()
	p, err := s.store.Open(ctx, Payment{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Attempt:   attempt,
		Amount:    amount,
		Currency:  currency,
		Status:    StatusPending,
		Gateway:   gw.Name(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return p, err
	}

	sess, err := gw.OpenCheckout(ctx, gateway.CheckoutRequest{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
	})
	if err != nil {
		s.lg.Warn("Gateway rejected checkout",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.String("gateway", gw.Name()),
			zap.Error(err),
		)
		return s.settle(ctx, p, Outcome{Status: StatusFailed, Reason: "gateway error: " + err.Error()})
	}

	var recs []outbox.Record
	if _, ok := gw.(gateway.Charger); ok {
		if recs, err = outbox.Build(s.name, events.ChargeRequested{OrderID: p.OrderID, PaymentID: p.ID}); err != nil {
			return p, err
		}
	}
	created, err := s.store.Update(ctx, p.ID, StatusPending, Patch{
		Status:      StatusCreated,
		At:          s.now(),
		GatewayRef:  &sess.Ref,
		CheckoutURL: &sess.CheckoutURL,
		ExpiresAt:   &sess.ExpiresAt,
	}, recs)
	if errors.Is(err, ErrConflict) {
		// Settled by a callback or superseded in the meantime.
		cur, err := s.store.Get(ctx, p.ID)
		if err != nil {
			return Payment{}, err
		}
		if cur.Status == StatusCancelled {
			if err := gw.CancelCheckout(ctx, sess.Ref); err != nil && !errors.Is(err, gateway.ErrSessionNotFound) {
				s.lg.Error("Session of a superseded payment left open",
					zap.String("payment_id", cur.ID), zap.String("session", sess.Ref), zap.Error(err))
			}
		}
		return cur, nil
	}
	if err != nil {
		return Payment{}, errors.Wrap(err, "store session")
	}
	s.lg.Info("Payment session opened",
		zap.String("payment_id", created.ID),
		zap.String("order_id", created.OrderID),
		zap.String("gateway", created.Gateway),
		zap.Int("attempt", created.Attempt),
	)
	return created, nil
}

// closeSession cancels the open session of p at its gateway before a new
// attempt supersedes it. A session paid in the meantime settles p instead.
func (s *Service) closeSession(ctx context.Context, p Payment) (Payment, error) {
	gw, err := s.gateways.Get(p.Gateway)
	if err != nil {
		s.lg.Error("Cannot cancel session of unregistered gateway",
			zap.String("payment_id", p.ID), zap.String("gateway", p.Gateway), zap.Error(err))
		return p, nil
	}
	err = gw.CancelCheckout(ctx, p.GatewayRef)
	switch {
	case errors.Is(err, gateway.ErrSessionCompleted):
		s.lg.Info("Superseded session was already paid",
			zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID))
		return s.settle(ctx, p, Outcome{Status: StatusSuccessful})
	case errors.Is(err, gateway.ErrSessionNotFound):
	case err != nil:
		return p, errors.Wrap(err, "cancel checkout")
	}
	return p, nil
}

// Webhook verifies and applies a gateway callback.
func (s *Service) Webhook(ctx context.Context, provider string, body []byte, sig string) error {
	if err := s.gateways.Verify(provider, body, sig); err != nil {
		return err
	}
	ev, err := gateway.ParseEvent(body)
	if err != nil {
		return err
	}
	return s.HandleGatewayEvent(ctx, ev)
}

// HandleGatewayEvent applies a gateway callback to the payment it names.
// Unknown payments and already-settled ones are logged and dropped.
func (s *Service) HandleGatewayEvent(ctx context.Context, ev gateway.Event) error {
	out, ok := FromEvent(ev)
	if !ok {
		s.lg.Debug("Ignoring gateway event", zap.String("type", string(ev.Kind)), zap.String("id", ev.ID))
		return nil
	}
	p, err := s.store.Get(ctx, ev.PaymentID)
	if errors.Is(err, ErrNotFound) {
		s.lg.Warn("Gateway event for unknown payment dropped",
			zap.String("payment_id", ev.PaymentID), zap.String("type", string(ev.Kind)))
		s.discarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "unknown_payment")))
		return nil
	}
	if err != nil {
		return err
	}
	if ev.SessionRef != "" && p.GatewayRef != "" && ev.SessionRef != p.GatewayRef {
		s.lg.Warn("Gateway event for another session dropped",
			zap.String("payment_id", p.ID), zap.String("session_ref", ev.SessionRef))
		return nil
	}
	if out.Status == StatusSuccessful && p.Status.Terminal() && p.Status != StatusSuccessful {
		s.lg.Error("Gateway reports payment on a closed payment, refund needed",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.String("status", string(p.Status)),
			zap.String("event_id", ev.ID),
		)
		s.discarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "late_success")))
		return nil
	}
	_, err = s.settle(ctx, p, out)
	return err
}

// HandleChargeRequested settles a payment through a provider without
// webhooks.
func (s *Service) HandleChargeRequested(ctx context.Context, ev events.ChargeRequested) error {
	p, err := s.store.Get(ctx, ev.PaymentID)
	if errors.Is(err, ErrNotFound) {
		s.lg.Warn("Charge for unknown payment dropped", zap.String("payment_id", ev.PaymentID))
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status != StatusCreated {
		s.lg.Info("Charge skipped", zap.String("payment_id", p.ID), zap.String("status", string(p.Status)))
		return nil
	}
	gw, err := s.gateways.Get(p.Gateway)
	if err != nil {
		s.lg.Error("Charge for unregistered gateway dropped", zap.String("payment_id", p.ID), zap.Error(err))
		return nil
	}
	ch, ok := gw.(gateway.Charger)
	if !ok {
		s.lg.Warn("Gateway cannot charge directly", zap.String("payment_id", p.ID), zap.String("gateway", p.Gateway))
		return nil
	}
	res, err := ch.Charge(ctx, p.GatewayRef)
	out := FromCharge(res)
	if err != nil {
		out = Outcome{Status: StatusFailed, Reason: "gateway error: " + err.Error()}
	}
	_, err = s.settle(ctx, p, out)
	return err
}

// settle moves p to a terminal outcome and queues its result, once.
func (s *Service) settle(ctx context.Context, p Payment, out Outcome) (Payment, error) {
	for attempt := 0; ; attempt++ {
		if why := Settle(p, out); why != "" {
			s.lg.Info("Payment outcome discarded",
				zap.String("payment_id", p.ID),
				zap.String("outcome", string(out.Status)),
				zap.String("reason", why),
			)
			s.discarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "state_guard")))
			return p, nil
		}
		next := p
		next.Status = out.Status
		next.FailureReason = out.Reason
		recs, err := outbox.Build(s.name, next.Result())
		if err != nil {
			return p, err
		}
		patch := Patch{Status: out.Status, At: s.now()}
		if out.Reason != "" {
			patch.FailureReason = &out.Reason
		}
		updated, err := s.store.Update(ctx, p.ID, p.Status, patch, recs)
		if errors.Is(err, ErrConflict) && attempt < maxConflictRetries {
			if p, err = s.store.Get(ctx, p.ID); err != nil {
				return Payment{}, err
			}
			continue
		}
		if err != nil {
			return p, errors.Wrap(err, "settle payment")
		}
		s.lg.Info("Payment settled",
			zap.String("payment_id", updated.ID),
			zap.String("order_id", updated.OrderID),
			zap.String("status", string(updated.Status)),
		)
		s.settled.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(updated.Status))))
		return updated, nil
	}
}

// republish queues the result of a terminal payment again.
func (s *Service) republish(ctx context.Context, p Payment) error {
	recs, err := outbox.Build(s.name, p.Result())
	if err != nil {
		return err
	}
	_, err = s.store.Update(ctx, p.ID, p.Status, Patch{Status: p.Status, At: s.now()}, recs)
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

func (s *Service) Handle(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypeOrderConfirmed:
		ev, err := events.Decode[events.OrderConfirmed](env)
		if err != nil {
			s.malformed(env, err)
			return nil
		}
		return s.HandleOrderConfirmed(ctx, ev)
	case events.TypeChargeRequested:
		ev, err := events.Decode[events.ChargeRequested](env)
		if err != nil {
			s.malformed(env, err)
			return nil
		}
		return s.HandleChargeRequested(ctx, ev)
	default:
		s.lg.Debug("Ignoring event", zap.String("event_type", string(env.EventType)), zap.String("event_id", env.EventID))
		return nil
	}
}

func (s *Service) malformed(env events.Envelope, err error) {
	s.lg.Warn("Malformed event dropped",
		zap.String("event_id", env.EventID),
		zap.String("event_type", string(env.EventType)),
		zap.Error(err),
	)
}
