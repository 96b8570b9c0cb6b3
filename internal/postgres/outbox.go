package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

var _ outbox.Store = (*OutboxStore)(nil)

type OutboxStore struct {
	pool *pgxpool.Pool
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// InsertOutbox writes recs inside the caller's transaction.
func InsertOutbox(ctx context.Context, tx pgx.Tx, recs []outbox.Record) error {
	for _, r := range recs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO outbox(id, topic, key, event_type, value, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.Topic, r.Key, string(r.EventType), r.Value, r.CreatedAt,
		); err != nil {
			return errors.Wrapf(err, "insert outbox %s", r.ID)
		}
	}
	return nil
}

func (s *OutboxStore) Pending(ctx context.Context, limit int) ([]outbox.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, key, event_type, value, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query outbox")
	}
	defer rows.Close()

	var out []outbox.Record
	for rows.Next() {
		var (
			r  outbox.Record
			et string
		)
		if err := rows.Scan(&r.ID, &r.Topic, &r.Key, &et, &r.Value, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan outbox")
		}
		r.EventType = events.Type(et)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *OutboxStore) MarkPublished(ctx context.Context, ids []string) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET published_at = now() WHERE id = ANY($1)`, ids)
	return errors.Wrap(err, "mark published")
}
