package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/platform/db"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// PgParties implements Store over the customers and suppliers tables.
type PgParties struct {
	q db.DBTX
}

// NewPgParties binds the store to q.
func NewPgParties(q db.DBTX) *PgParties {
	return &PgParties{q: q}
}

// LockParty implements Store.
func (p *PgParties) LockParty(ctx context.Context, kind PartyKind, id int64) (Party, error) {
	var sql string
	switch kind {
	case PartyCustomer:
		sql = `SELECT id, name, credit_limit, current_balance, updated_at FROM customers WHERE id = $1 FOR UPDATE`
	case PartySupplier:
		sql = `SELECT id, name, 0::numeric, current_balance, updated_at FROM suppliers WHERE id = $1 FOR UPDATE`
	default:
		return Party{}, shared.Invalid("party_kind", fmt.Sprintf("unknown party kind %q", kind))
	}
	party := Party{Kind: kind}
	err := p.q.QueryRow(ctx, sql, id).Scan(&party.ID, &party.Name, &party.CreditLimit, &party.CurrentBalance, &party.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Party{}, fmt.Errorf("%s %d: %w", kind, id, shared.ErrNotFound)
	}
	return party, err
}

// AdjustPartyBalance implements Store.
func (p *PgParties) AdjustPartyBalance(ctx context.Context, kind PartyKind, id int64, delta decimal.Decimal) error {
	var sql string
	switch kind {
	case PartyCustomer:
		sql = `UPDATE customers SET current_balance = current_balance + $2, updated_at = NOW() WHERE id = $1`
	case PartySupplier:
		sql = `UPDATE suppliers SET current_balance = current_balance + $2, updated_at = NOW() WHERE id = $1`
	default:
		return shared.Invalid("party_kind", fmt.Sprintf("unknown party kind %q", kind))
	}
	tag, err := p.q.Exec(ctx, sql, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, shared.ErrNotFound)
	}
	return nil
}

// Repository opens transactions for read-only credit checks.
type Repository struct {
	pool *pgxpool.Pool
	opts db.TxOptions
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, opts db.TxOptions) *Repository {
	return &Repository{pool: pool, opts: opts}
}

// WithTx runs fn with a Store bound to a fresh transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, NewPgParties(tx))
	})
}
