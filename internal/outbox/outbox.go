// Package outbox stores events in the same transaction as the state change
// that produced them and relays them to the event channel afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

// Record is one event waiting to be published.
type Record struct {
	ID        string
	Topic     string
	Key       string
	EventType events.Type
	Value     []byte
	CreatedAt time.Time
}

// Store is the persistence side of the outbox.
type Store interface {
	Pending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// Sink writes records to the event channel. It must not return before the
// channel acknowledged every record.
type Sink interface {
	Send(ctx context.Context, recs []Record) error
}

// FromEnvelope encodes env into a record routed by its schema.
func FromEnvelope(env events.Envelope) (Record, error) {
	s, ok := events.Lookup(env.EventType)
	if !ok {
		return Record{}, errors.Errorf("no topic for %q", env.EventType)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return Record{}, errors.Wrap(err, "marshal envelope")
	}
	return Record{
		ID:        env.EventID,
		Topic:     s.Topic,
		Key:       env.CorrelationID,
		EventType: env.EventType,
		Value:     b,
		CreatedAt: env.OccurredAt,
	}, nil
}

// Build wraps every payload into an envelope stamped by producer.
func Build(producer string, payloads ...events.Payload) ([]Record, error) {
	out := make([]Record, 0, len(payloads))
	for _, p := range payloads {
		env, err := events.New(producer, p)
		if err != nil {
			return nil, err
		}
		rec, err := FromEnvelope(env)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Store = (*Memory)(nil)

// Memory is an in-process outbox used by the in-memory stores.
type Memory struct {
	mu        sync.Mutex
	recs      []Record
	published map[string]bool
}

func NewMemory() *Memory {
	return &Memory{published: make(map[string]bool)}
}

// Append adds records. Callers hold their own entity lock so the append is
// atomic with the state change.
func (m *Memory) Append(recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, recs...)
}

func (m *Memory) Pending(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.recs {
		if m.published[r.ID] {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkPublished(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.published[id] = true
	}
	return nil
}

// All returns every record ever appended, in insertion order.
func (m *Memory) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.recs))
	copy(out, m.recs)
	return out
}

// Of returns the appended records of one event type, sorted by creation.
func (m *Memory) Of(t events.Type) []Record {
	var out []Record
	for _, r := range m.All() {
		if r.EventType == t {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
