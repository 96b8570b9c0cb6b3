package orders

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

type sweepRule struct {
	name   string
	status Status
	window time.Duration
	decide func(o Order, now time.Time, window time.Duration) Decision
}

func (s *Service) rules() []sweepRule {
	return []sweepRule{
		{"payment_failed_grace", StatusPaymentFailed, s.sweep.PaymentFailedGrace, OnPaymentFailedExpired},
		{"confirmed_stuck", StatusConfirmed, s.sweep.ConfirmedStuckAfter, OnConfirmedStuck},
		{"awaiting_payment_timeout", StatusAwaitingPayment, s.sweep.AwaitingPaymentTimeout, OnAwaitingPaymentTimeout},
		{"pending_resend", StatusPending, s.sweep.PendingResendAfter, OnPendingStale},
	}
}

// Sweep repairs orders stuck past their deadlines. Every candidate is
// re-read and re-decided under the version guard, so a sweep racing an
// in-flight event loses cleanly.
func (s *Service) Sweep(ctx context.Context) error {
	var failed int
	for _, r := range s.rules() {
		if r.window <= 0 {
			continue
		}
		now := s.now()
		stale, err := s.store.ListStale(ctx, r.status, now.Add(-r.window), s.sweep.Batch)
		if err != nil {
			return errors.Wrapf(err, "list %s", r.name)
		}
		for _, o := range stale {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := s.update(ctx, o.ID, func(cur Order) (Decision, error) {
				return r.decide(cur, s.now(), r.window), nil
			})
			if err != nil {
				failed++
				s.lg.Error("Sweep step failed",
					zap.String("rule", r.name),
					zap.String("order_id", o.ID),
					zap.Error(err),
				)
			}
		}
		if len(stale) > 0 {
			s.lg.Info("Sweep rule done", zap.String("rule", r.name), zap.Int("candidates", len(stale)))
		}
	}
	if failed > 0 {
		return errors.Errorf("%d orders failed to reconcile", failed)
	}
	return nil
}
