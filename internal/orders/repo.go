package orders

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/checkout-saga/internal/outbox"
	"github.com/ariefcatur/checkout-saga/internal/postgres"
)

var _ Store = (*Repo)(nil)

// Repo is the PostgreSQL order store.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, COALESCE(idempotency_key, ''), customer_id, currency, total, status,
	failure_reason, payment_attempt, payment_id, version, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, o Order, out []outbox.Record) error {
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var key *string
		if o.IdempotencyKey != "" {
			key = &o.IdempotencyKey
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO orders(id, idempotency_key, customer_id, currency, total, status,
				failure_reason, payment_attempt, payment_id, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			o.ID, key, o.CustomerID, o.Currency, o.Total, string(o.Status),
			o.FailureReason, o.PaymentAttempt, o.PaymentID, o.Version, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return errors.Wrap(err, "insert order")
		}
		for i, it := range o.Items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items(order_id, line_no, product_id, qty, unit_price)
				VALUES ($1, $2, $3, $4, $5)`,
				o.ID, i, it.ProductID, it.Quantity, it.UnitPrice,
			); err != nil {
				return errors.Wrap(err, "insert order item")
			}
		}
		return postgres.InsertOutbox(ctx, tx, out)
	})
	return err
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	if o.Items, err = r.items(ctx, r.DB, id); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) GetByIdempotencyKey(ctx context.Context, key string) (Order, error) {
	var id string
	err := r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE idempotency_key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, errors.Wrap(err, "lookup idempotency key")
	}
	return r.Get(ctx, id)
}

func (r *Repo) Transition(ctx context.Context, id string, version int, p Patch, out []outbox.Record) (Order, error) {
	var o Order
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		// Compare-and-swap on version: the guard and the write are one statement.
		row := tx.QueryRow(ctx, `
			UPDATE orders SET
				status          = $3,
				failure_reason  = COALESCE($4, failure_reason),
				payment_id      = COALESCE($5, payment_id),
				payment_attempt = COALESCE($6, payment_attempt),
				version         = version + 1,
				updated_at      = $7
			WHERE id = $1 AND version = $2
			RETURNING `+orderColumns,
			id, version, string(p.Status), p.FailureReason, p.PaymentID, p.PaymentAttempt, p.At,
		)
		var err error
		o, err = scanOrder(row)
		if errors.Is(err, ErrNotFound) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
				return errors.Wrap(err, "check order")
			}
			if exists {
				return ErrConflict
			}
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if o.Items, err = r.items(ctx, tx, id); err != nil {
			return err
		}
		return postgres.InsertOutbox(ctx, tx, out)
	})
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, string(status), before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query stale orders")
	}
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate stale orders")
	}
	for i := range out {
		if out[i].Items, err = r.items(ctx, r.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repo) items(ctx context.Context, q querier, orderID string) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, qty, unit_price FROM order_items
		WHERE order_id = $1 ORDER BY line_no`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query order items")
	}
	defer rows.Close()

	var out []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.IdempotencyKey, &o.CustomerID, &o.Currency, &o.Total, &status,
		&o.FailureReason, &o.PaymentAttempt, &o.PaymentID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, errors.Wrap(err, "scan order")
	}
	o.Status = Status(status)
	return o, nil
}
