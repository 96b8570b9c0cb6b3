package payment

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/gateway"
)

// Sweep reconciles payments the gateway never reported back on. Sessions
// past their duration are checked against the gateway; payments that never
// reached the gateway are failed.
func (s *Service) Sweep(ctx context.Context) error {
	var failed int
	now := s.now()

	created, err := s.store.ListStale(ctx, StatusCreated, now.Add(-s.sweep.SessionTTL), s.sweep.Batch)
	if err != nil {
		return errors.Wrap(err, "list created payments")
	}
	for _, p := range created {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.reconcileSession(ctx, p); err != nil {
			failed++
			s.lg.Error("Session reconciliation failed", zap.String("payment_id", p.ID), zap.Error(err))
		}
	}

	pending, err := s.store.ListStale(ctx, StatusPending, now.Add(-s.sweep.PendingTimeout), s.sweep.Batch)
	if err != nil {
		return errors.Wrap(err, "list pending payments")
	}
	for _, p := range pending {
		if _, err := s.settle(ctx, p, Outcome{Status: StatusFailed, Reason: "checkout session not opened"}); err != nil {
			failed++
			s.lg.Error("Pending payment sweep failed", zap.String("payment_id", p.ID), zap.Error(err))
		}
	}

	if failed > 0 {
		return errors.Errorf("%d payments failed to reconcile", failed)
	}
	return nil
}

func (s *Service) reconcileSession(ctx context.Context, p Payment) error {
	gw, err := s.gateways.Get(p.Gateway)
	if err != nil {
		return err
	}
	st, err := gw.SessionStatus(ctx, p.GatewayRef)
	if errors.Is(err, gateway.ErrSessionNotFound) {
		st = gateway.SessionExpired
	} else if err != nil {
		return errors.Wrap(err, "session status")
	}
	out, ok := FromSession(st)
	if !ok {
		s.lg.Debug("Session still open", zap.String("payment_id", p.ID), zap.Time("expires_at", p.ExpiresAt))
		return nil
	}
	s.lg.Info("Session settled by sweep",
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.String("session", string(st)),
	)
	_, err = s.settle(ctx, p, out)
	return err
}
