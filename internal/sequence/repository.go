package sequence

import (
	"context"

	"github.com/flourmill-erp/flourmill/internal/platform/db"
)

// PgCounter implements Store on the document_sequences table. The upsert holds
// the scope row lock until the surrounding transaction ends, so concurrent
// callers serialise and a rollback returns the number to the pool.
type PgCounter struct {
	q db.DBTX
}

// NewPgCounter binds the counter to a query handle, usually a pgx.Tx.
func NewPgCounter(q db.DBTX) *PgCounter {
	return &PgCounter{q: q}
}

// NextSequence implements Store.
func (c *PgCounter) NextSequence(ctx context.Context, scope string) (int64, error) {
	var next int64
	err := c.q.QueryRow(ctx, `INSERT INTO document_sequences (scope, last_value) VALUES ($1, 1)
ON CONFLICT (scope) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`, scope).Scan(&next)
	return next, err
}
