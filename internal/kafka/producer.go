package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

var _ outbox.Sink = (*Producer)(nil)

// Producer writes outbox records synchronously. The topic travels on each
// message so one writer serves every topic of a service.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{}, // same key, same partition
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

// Send blocks until every record is acknowledged by the brokers.
func (p *Producer) Send(ctx context.Context, recs []outbox.Record) error {
	msgs := make([]kafka.Message, len(recs))
	for i, r := range recs {
		msgs[i] = Message(r)
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

// Message maps an outbox record onto a kafka message.
func Message(r outbox.Record) kafka.Message {
	return kafka.Message{
		Topic: r.Topic,
		Key:   []byte(r.Key),
		Value: r.Value,
		Time:  r.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(r.ID)},
			{Key: HeaderEventType, Value: []byte(r.EventType)},
			{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(events.Version))},
		},
	}
}

const (
	HeaderEventID      = "x-event-id"
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)
