// Package app wires the services into runnable processes.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/checkout-saga/internal/config"
	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/kafka"
	"github.com/ariefcatur/checkout-saga/internal/outbox"
	"github.com/ariefcatur/checkout-saga/internal/postgres"
	"github.com/ariefcatur/checkout-saga/internal/redisx"
	"github.com/ariefcatur/checkout-saga/internal/sweeper"
)

var schemaOf = map[string]string{
	config.ServiceOrders:    postgres.SchemaOrders,
	config.ServiceInventory: postgres.SchemaInventory,
	config.ServicePayment:   postgres.SchemaPayments,
}

// NewLogger builds the process logger.
func NewLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// infra holds the connections shared by a service process.
type infra struct {
	cfg      config.Config
	lg       *zap.Logger
	pool     *pgxpool.Pool // nil with memory storage
	rdb      *redis.Client
	producer *kafka.Producer
	tasks    []func(ctx context.Context) error
}

func open(ctx context.Context, service string, cfg config.Config, lg *zap.Logger) (*infra, error) {
	in := &infra{cfg: cfg, lg: lg}
	if cfg.Storage == config.StoragePostgres {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}
		in.pool = pool
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, pool, schemaOf[service]); err != nil {
				pool.Close()
				return nil, errors.Wrap(err, "migrate")
			}
		}
	}
	in.rdb = redisx.New(cfg.Redis.Addr)
	in.producer = kafka.NewProducer(cfg.Kafka.Brokers)
	lg.Info("Infrastructure ready",
		zap.String("storage", cfg.Storage),
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("redis", cfg.Redis.Addr),
	)
	return in, nil
}

func (in *infra) close() {
	if err := in.producer.Close(); err != nil {
		in.lg.Warn("Close producer", zap.Error(err))
	}
	if err := in.rdb.Close(); err != nil {
		in.lg.Warn("Close redis", zap.Error(err))
	}
	if in.pool != nil {
		in.pool.Close()
	}
}

// relay publishes store's records to Kafka.
func (in *infra) relay(store outbox.Store) {
	r := outbox.NewRelay(store, in.producer, in.cfg.Outbox.Interval, in.cfg.Outbox.Batch, in.lg.Named("outbox"))
	in.tasks = append(in.tasks, r.Run)
}

// consume feeds topics to h behind the redelivery filter.
func (in *infra) consume(topics []string, h events.Handler) {
	c := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: in.cfg.Kafka.Brokers,
		Group:   in.cfg.Kafka.Group,
		Topics:  topics,
		Workers: in.cfg.Kafka.Workers,
		Backoff: in.cfg.Kafka.Backoff,
	}, in.lg.Named("consumer"))
	dedup := redisx.NewDedup(in.rdb, in.cfg.ServiceName, in.cfg.Redis.DedupTTL, in.lg.Named("dedup"))
	wrapped := dedup.Wrap(h)
	in.tasks = append(in.tasks, func(ctx context.Context) error { return c.Start(ctx, wrapped) })
	in.lg.Info("Consuming", zap.Strings("topics", topics), zap.String("group", in.cfg.Kafka.Group))
}

// sweep schedules job under a lease shared by every replica.
func (in *infra) sweep(name string, job sweeper.Job) {
	r := sweeper.New(name, in.cfg.Sweep.Interval, job, in.lg.Named("sweeper"),
		sweeper.WithLocker(redisx.NewLocker(in.rdb), in.cfg.Redis.LockTTL))
	in.tasks = append(in.tasks, r.Run)
}

// serve runs the HTTP server and every registered task until ctx is done or
// one of them fails.
func (in *infra) serve(ctx context.Context, h http.Handler) error {
	srv := &http.Server{
		Addr:              in.cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range in.tasks {
		g.Go(func() error { return task(gctx) })
	}
	g.Go(func() error {
		in.lg.Info("HTTP listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		in.lg.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
