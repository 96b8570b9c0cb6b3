package kafka

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

// Handler must return nil only when the message was fully processed and its
// offset may be committed.
type Handler = events.Handler

type ConsumerConfig struct {
	Brokers []string
	Group   string
	Topics  []string
	Workers int
	Backoff time.Duration
}

// reader is the part of kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a consumer group and fans messages out to a fixed set of
// lanes. A partition always maps to the same lane, so events of one order are
// handled one at a time and in log order.
type Consumer struct {
	r       reader
	workers int
	backoff time.Duration
	lg      *zap.Logger

	handled metric.Int64Counter
	failed  metric.Int64Counter
}

func NewConsumer(cfg ConsumerConfig, lg *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.Group,
		GroupTopics:    cfg.Topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
		StartOffset:    kafka.FirstOffset,
	})
	return newConsumer(r, cfg.Workers, cfg.Backoff, lg)
}

func newConsumer(r reader, workers int, backoff time.Duration, lg *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	meter := otel.Meter("checkout-saga/kafka")
	handled, _ := meter.Int64Counter("consumer.handled")
	failed, _ := meter.Int64Counter("consumer.failed")
	return &Consumer{
		r:       r,
		workers: workers,
		backoff: backoff,
		lg:      lg,
		handled: handled,
		failed:  failed,
	}
}

// Start blocks until ctx is done or the reader fails. Lanes still retrying a
// message are stopped in both cases.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer func() { _ = c.r.Close() }()

	laneCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.process(laneCtx, h, m) {
					return
				}
			}
		}(lanes[i])
	}
	stop := func() {
		cancel()
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}
		select {
		case lanes[laneFor(m.Topic, m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// process retries m in place until it succeeds, so a failing message blocks
// its own partition instead of being skipped. It returns false on shutdown.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) bool {
	lg := c.lg.With(
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	)
	env, err := events.Parse(m.Value)
	if err != nil {
		// No dead-letter queue: malformed messages are dropped.
		lg.Warn("Dropping malformed message", zap.Error(err))
		return c.commit(ctx, lg, m)
	}
	attrs := metric.WithAttributes(attribute.String("event_type", string(env.EventType)))
	for {
		err := h(ctx, env)
		if err == nil {
			c.handled.Add(ctx, 1, attrs)
			return c.commit(ctx, lg, m)
		}
		c.failed.Add(ctx, 1, attrs)
		lg.Warn("Handler failed, retrying",
			zap.String("event_id", env.EventID),
			zap.String("event_type", string(env.EventType)),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff):
		}
	}
}

func (c *Consumer) commit(ctx context.Context, lg *zap.Logger, m kafka.Message) bool {
	if err := c.r.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return false
		}
		// The message will be redelivered after a rebalance; handlers are idempotent.
		lg.Warn("Commit failed", zap.Error(err))
	}
	return true
}

func laneFor(topic string, partition, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(lanes))
}
