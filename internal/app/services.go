package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/config"
	"github.com/ariefcatur/checkout-saga/internal/gateway"
	"github.com/ariefcatur/checkout-saga/internal/httpx"
	"github.com/ariefcatur/checkout-saga/internal/inventory"
	"github.com/ariefcatur/checkout-saga/internal/orders"
	"github.com/ariefcatur/checkout-saga/internal/outbox"
	"github.com/ariefcatur/checkout-saga/internal/payment"
	"github.com/ariefcatur/checkout-saga/internal/postgres"
	"github.com/ariefcatur/checkout-saga/internal/redisx"
)

// RunOrders runs the order service: HTTP API, result consumer, outbox relay
// and the order reconciliation sweep.
func RunOrders(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	in, err := open(ctx, config.ServiceOrders, cfg, lg)
	if err != nil {
		return err
	}
	defer in.close()

	var (
		store orders.Store
		box   outbox.Store
	)
	if in.pool != nil {
		store, box = &orders.Repo{DB: in.pool}, postgres.NewOutboxStore(in.pool)
	} else {
		mem := orders.NewMemoryStore()
		store, box = mem, mem.Outbox()
	}

	svc := orders.NewService(store,
		orders.NewCatalogClient(cfg.Upstream.CatalogURL, cfg.Upstream.Timeout),
		cfg.ServiceName, lg.Named("orders"),
		orders.WithCache(redisx.NewStatusCache(in.rdb)),
		orders.WithSweepConfig(orders.SweepConfig{
			PaymentFailedGrace:     cfg.Sweep.PaymentFailedGrace,
			ConfirmedStuckAfter:    cfg.Sweep.ConfirmedStuckAfter,
			AwaitingPaymentTimeout: cfg.Sweep.AwaitingPaymentTimeout,
			PendingResendAfter:     cfg.Sweep.PendingResendAfter,
			Batch:                  cfg.Sweep.Batch,
		}),
	)

	r := httpx.NewRouter(lg)
	(&httpx.OrdersHandler{Service: svc, Log: lg}).Register(r)

	in.relay(box)
	in.consume(orders.ConsumedTopics(), svc.Handle)
	in.sweep("orders", svc.Sweep)
	return in.serve(ctx, r)
}

// RunInventory runs the inventory service: catalog API, reservation consumer
// and outbox relay.
func RunInventory(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	in, err := open(ctx, config.ServiceInventory, cfg, lg)
	if err != nil {
		return err
	}
	defer in.close()

	var (
		store inventory.Store
		box   outbox.Store
	)
	if in.pool != nil {
		store, box = &inventory.Repo{DB: in.pool}, postgres.NewOutboxStore(in.pool)
	} else {
		mem := inventory.NewMemoryStore()
		store, box = mem, mem.Outbox()
	}
	svc := inventory.NewService(store, cfg.ServiceName, lg.Named("inventory"))

	r := httpx.NewRouter(lg)
	(&httpx.ProductsHandler{Service: svc, Log: lg}).Register(r)

	in.relay(box)
	in.consume(inventory.ConsumedTopics(), svc.Handle)
	return in.serve(ctx, r)
}

// RunPayment runs the payment service: session API, gateway webhooks,
// confirmation consumer, outbox relay and the session reconciliation sweep.
func RunPayment(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	gateways, err := gateway.FromConfig(cfg.Gateway)
	if err != nil {
		return err
	}
	in, err := open(ctx, config.ServicePayment, cfg, lg)
	if err != nil {
		return err
	}
	defer in.close()

	var (
		store payment.Store
		box   outbox.Store
	)
	if in.pool != nil {
		store, box = &payment.Repo{DB: in.pool}, postgres.NewOutboxStore(in.pool)
	} else {
		mem := payment.NewMemoryStore()
		store, box = mem, mem.Outbox()
	}

	svc := payment.NewService(store, gateways,
		payment.NewOrderClient(cfg.Upstream.OrdersURL, cfg.Upstream.Timeout),
		cfg.ServiceName, lg.Named("payment"),
		payment.WithSweepConfig(payment.SweepConfig{
			SessionTTL:     cfg.Sweep.SessionTTL,
			PendingTimeout: cfg.Sweep.PendingPaymentTimeout,
			Batch:          cfg.Sweep.Batch,
		}),
	)
	lg.Info("Payment gateways", zap.Strings("registered", gateways.Names()), zap.String("default", cfg.Gateway.Default))

	r := httpx.NewRouter(lg)
	(&httpx.PaymentsHandler{Service: svc, Log: lg}).Register(r)

	in.relay(box)
	in.consume(payment.ConsumedTopics(), svc.Handle)
	in.sweep("payments", svc.Sweep)
	return in.serve(ctx, r)
}
