package inventory

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/postgres"
)

var _ Store = (*Repo)(nil)

// Repo is the PostgreSQL stock store.
type Repo struct{ DB *pgxpool.Pool }

// Reserve locks the ledger row and the products of the batch (FOR UPDATE,
// in product order), plans the batch and writes the decrements, the ledger
// row and the result event in one transaction. A rejected batch changes no
// stock.
func (r *Repo) Reserve(ctx context.Context, orderID string, items []events.Item, outcome Outcome) (Reservation, bool, error) {
	var (
		res     Reservation
		applied bool
	)
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		existing, found, err := r.lockReservation(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if found {
			res = existing
			return r.writeOutcome(ctx, tx, res, outcome)
		}

		items = Normalize(items)
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ProductID
		}
		rows, err := tx.Query(ctx, `SELECT id, stock FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
		if err != nil {
			return errors.Wrap(err, "lock products")
		}
		stock := make(map[string]int, len(items))
		for rows.Next() {
			var (
				id string
				n  int
			)
			if err := rows.Scan(&id, &n); err != nil {
				rows.Close()
				return errors.Wrap(err, "scan stock")
			}
			stock[id] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "iterate stock")
		}

		res = Reservation{OrderID: orderID, Items: items, Status: ReservationReserved}
		next, err := Plan(stock, items)
		switch {
		case err == nil:
		case Rejection(err):
			res.Status, res.Reason, next = ReservationRejected, err.Error(), nil
		default:
			return err
		}
		for _, it := range items {
			q, ok := next[it.ProductID]
			if !ok {
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, it.ProductID, q); err != nil {
				return errors.Wrapf(err, "decrement %s", it.ProductID)
			}
		}
		body, err := json.Marshal(res.Items)
		if err != nil {
			return errors.Wrap(err, "marshal items")
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO stock_reservations(order_id, items, status, reason)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at`,
			orderID, body, string(res.Status), res.Reason,
		).Scan(&res.CreatedAt, &res.UpdatedAt); err != nil {
			return errors.Wrap(err, "insert reservation")
		}
		applied = true
		return r.writeOutcome(ctx, tx, res, outcome)
	})
	if err != nil {
		return Reservation{}, false, err
	}
	return res, applied, nil
}

func (r *Repo) Release(ctx context.Context, orderID string, items []events.Item) (bool, error) {
	var released bool
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		res, found, err := r.lockReservation(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !found {
			body, err := json.Marshal(Normalize(items))
			if err != nil {
				return errors.Wrap(err, "marshal items")
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO stock_reservations(order_id, items, status)
				VALUES ($1, $2, $3)
				ON CONFLICT (order_id) DO NOTHING`,
				orderID, body, string(ReservationReleased))
			return errors.Wrap(err, "insert release tombstone")
		}
		if res.Status != ReservationReserved {
			return nil
		}
		for _, it := range res.Items {
			if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, it.ProductID, it.Quantity); err != nil {
				return errors.Wrapf(err, "restore %s", it.ProductID)
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE stock_reservations SET status = $2, updated_at = now() WHERE order_id = $1`,
			orderID, string(ReservationReleased)); err != nil {
			return errors.Wrap(err, "mark released")
		}
		released = true
		return nil
	})
	return released, err
}

func (r *Repo) Product(ctx context.Context, id string) (Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, price, currency, stock, updated_at FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.Stock, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, errors.Wrap(err, "get product")
	}
	return p, nil
}

func (r *Repo) SetStock(ctx context.Context, p Product) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products(id, name, price, currency, stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, currency = EXCLUDED.currency,
			stock = EXCLUDED.stock, updated_at = now()`,
		p.ID, p.Name, p.Price, p.Currency, p.Stock)
	return errors.Wrap(err, "upsert product")
}

func (r *Repo) lockReservation(ctx context.Context, tx pgx.Tx, orderID string) (Reservation, bool, error) {
	var (
		res    Reservation
		body   []byte
		status string
	)
	err := tx.QueryRow(ctx, `
		SELECT order_id, items, status, reason, created_at, updated_at
		FROM stock_reservations WHERE order_id = $1 FOR UPDATE`, orderID,
	).Scan(&res.OrderID, &body, &status, &res.Reason, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, errors.Wrap(err, "lock reservation")
	}
	if err := json.Unmarshal(body, &res.Items); err != nil {
		return Reservation{}, false, errors.Wrap(err, "decode reservation items")
	}
	res.Status = ReservationStatus(status)
	return res, true, nil
}

func (r *Repo) writeOutcome(ctx context.Context, tx pgx.Tx, res Reservation, outcome Outcome) error {
	recs, err := outcome(res)
	if err != nil {
		return err
	}
	return postgres.InsertOutbox(ctx, tx, recs)
}
