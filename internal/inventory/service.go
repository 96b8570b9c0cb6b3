package inventory

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

// ErrInvalidProduct is returned by SetStock for a malformed product.
var ErrInvalidProduct = errors.New("invalid product")

// Service is the reservation handler of the catalog service.
type Service struct {
	store Store
	name  string
	lg    *zap.Logger

	outcomes metric.Int64Counter
}

func NewService(store Store, name string, lg *zap.Logger) *Service {
	s := &Service{store: store, name: name, lg: lg}
	s.outcomes, _ = otel.Meter("github.com/ariefcatur/checkout-saga/internal/inventory").
		Int64Counter("inventory.reservations")
	return s
}

// ConsumedTopics are the topics the reservation handler subscribes to.
func ConsumedTopics() []string {
	return events.Topics(events.TypeReserveStock, events.TypeReleaseStock)
}

func (s *Service) Handle(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypeReserveStock:
		ev, err := events.Decode[events.ReserveStock](env)
		if err != nil {
			s.malformed(env, err)
			return nil
		}
		_, err = s.Reserve(ctx, ev)
		return err
	case events.TypeReleaseStock:
		ev, err := events.Decode[events.ReleaseStock](env)
		if err != nil {
			s.malformed(env, err)
			return nil
		}
		return s.Release(ctx, ev)
	default:
		s.lg.Debug("Ignoring event", zap.String("event_type", string(env.EventType)), zap.String("event_id", env.EventID))
		return nil
	}
}

// Reserve applies the batch all-or-nothing and queues the result event. A
// redelivered request re-sends the recorded result without touching stock.
func (s *Service) Reserve(ctx context.Context, ev events.ReserveStock) (Reservation, error) {
	if ev.OrderID == "" {
		s.lg.Warn("Reserve request without order id dropped")
		return Reservation{}, nil
	}
	r, applied, err := s.store.Reserve(ctx, ev.OrderID, ev.Items, func(r Reservation) ([]outbox.Record, error) {
		return outbox.Build(s.name, r.Result())
	})
	if err != nil {
		return Reservation{}, errors.Wrap(err, "reserve batch")
	}
	if !applied {
		s.lg.Info("Reservation replayed",
			zap.String("order_id", r.OrderID),
			zap.String("status", string(r.Status)),
		)
		return r, nil
	}
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(r.Status))))
	if r.Status == ReservationReserved {
		s.lg.Info("Stock reserved", zap.String("order_id", r.OrderID), zap.Int("items", len(r.Items)))
	} else {
		s.lg.Info("Stock reservation rejected", zap.String("order_id", r.OrderID), zap.String("reason", r.Reason))
	}
	return r, nil
}

// Release restores the stock of a reserved order. It emits nothing.
func (s *Service) Release(ctx context.Context, ev events.ReleaseStock) error {
	released, err := s.store.Release(ctx, ev.OrderID, ev.Items)
	if err != nil {
		return errors.Wrap(err, "release batch")
	}
	if !released {
		s.lg.Info("Release without active reservation", zap.String("order_id", ev.OrderID))
		return nil
	}
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(ReservationReleased))))
	s.lg.Info("Stock released", zap.String("order_id", ev.OrderID))
	return nil
}

func (s *Service) Product(ctx context.Context, id string) (Product, error) {
	return s.store.Product(ctx, id)
}

func (s *Service) SetStock(ctx context.Context, p Product) error {
	p.Currency = strings.ToUpper(p.Currency)
	switch {
	case p.ID == "":
		return errors.Wrap(ErrInvalidProduct, "missing id")
	case p.Stock < 0:
		return errors.Wrap(ErrInvalidProduct, "negative stock")
	case p.Price.IsNegative():
		return errors.Wrap(ErrInvalidProduct, "negative price")
	case len(p.Currency) != 3:
		return errors.Wrap(ErrInvalidProduct, "currency must be a 3-letter code")
	}
	return s.store.SetStock(ctx, p)
}

func (s *Service) malformed(env events.Envelope, err error) {
	s.lg.Warn("Malformed event dropped",
		zap.String("event_id", env.EventID),
		zap.String("event_type", string(env.EventType)),
		zap.Error(err),
	)
}
