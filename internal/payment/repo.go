package payment

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

// Repo is the PostgreSQL payment store.
type Repo struct{ DB *pgxpool.Pool }

const paymentColumns = `id, order_id, attempt, amount, currency, status, gateway, gateway_ref,
	checkout_url, failure_reason, expires_at, created_at, updated_at`

func (r *Repo) Get(ctx context.Context, id string) (Payment, error) {
	return scanPayment(r.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *Repo) Live(ctx context.Context, orderID string) (Payment, error) {
	return scanPayment(r.DB.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1 AND superseded_at IS NULL`, orderID))
}

func (r *Repo) Open(ctx context.Context, p Payment) (Payment, error) {
	var existing Payment
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		cur, err := scanPayment(tx.QueryRow(ctx, `
			SELECT `+paymentColumns+` FROM payments
			WHERE order_id = $1 AND superseded_at IS NULL
			FOR UPDATE`, p.OrderID))
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case !supersedes(cur, p.Attempt):
			existing = cur
			return ErrExists
		default:
			if _, err := tx.Exec(ctx, `
				UPDATE payments SET
					superseded_at  = $2,
					status         = CASE WHEN status IN ('PENDING', 'CREATED') THEN 'CANCELLED' ELSE status END,
					failure_reason = CASE WHEN status IN ('PENDING', 'CREATED') THEN 'superseded by a new attempt' ELSE failure_reason END,
					updated_at     = $2
				WHERE id = $1`, cur.ID, p.CreatedAt); err != nil {
				return errors.Wrap(err, "supersede payment")
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO payments(id, order_id, attempt, amount, currency, status, gateway,
				gateway_ref, checkout_url, failure_reason, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			p.ID, p.OrderID, p.Attempt, p.Amount, p.Currency, string(p.Status), p.Gateway,
			p.GatewayRef, p.CheckoutURL, p.FailureReason, nullTime(p.ExpiresAt), p.CreatedAt, p.UpdatedAt,
		); err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrExists
			}
			return errors.Wrap(err, "insert payment")
		}
		return nil
	})
	if errors.Is(err, ErrExists) {
		if existing.ID == "" {
			// Lost an insert race; the winner is committed by now.
			if existing, err = r.Live(ctx, p.OrderID); err != nil {
				return Payment{}, err
			}
		}
		return existing, ErrExists
	}
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (r *Repo) Update(ctx context.Context, id string, from Status, pt Patch, out []outbox.Record) (Payment, error) {
	var p Payment
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		p, err = scanPayment(tx.QueryRow(ctx, `
			UPDATE payments SET
				status         = $3,
				gateway_ref    = COALESCE($4, gateway_ref),
				checkout_url   = COALESCE($5, checkout_url),
				expires_at     = COALESCE($6, expires_at),
				failure_reason = COALESCE($7, failure_reason),
				updated_at     = $8
			WHERE id = $1 AND status = $2
			RETURNING `+paymentColumns,
			id, string(from), string(pt.Status), pt.GatewayRef, pt.CheckoutURL, pt.ExpiresAt, pt.FailureReason, pt.At,
		))
		if errors.Is(err, ErrNotFound) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
				return errors.Wrap(err, "check payment")
			}
			if exists {
				return ErrConflict
			}
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return postgres.InsertOutbox(ctx, tx, out)
	})
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (r *Repo) ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]Payment, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = $1 AND updated_at < $2 AND superseded_at IS NULL
		ORDER BY updated_at
		LIMIT $3`, string(status), before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query stale payments")
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p       Payment
		status  string
		expires *time.Time
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.Attempt, &p.Amount, &p.Currency, &status, &p.Gateway,
		&p.GatewayRef, &p.CheckoutURL, &p.FailureReason, &expires, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, errors.Wrap(err, "scan payment")
	}
	p.Status = Status(status)
	if expires != nil {
		p.ExpiresAt = *expires
	}
	return p, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
