package postgres

import (
	"context"
	"embed"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/*.sql
var schema embed.FS

// Schema files, one per service database.
const (
	SchemaOrders    = "orders"
	SchemaInventory = "inventory"
	SchemaPayments  = "payments"
)

// Migrate applies the outbox table and the named service schema. The DDL is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, service string) error {
	for _, name := range []string{"outbox", service} {
		ddl, err := schema.ReadFile("schema/" + name + ".sql")
		if err != nil {
			return errors.Wrapf(err, "read schema %s", name)
		}
		if _, err := pool.Exec(ctx, string(ddl)); err != nil {
			return errors.Wrapf(err, "apply schema %s", name)
		}
	}
	return nil
}
