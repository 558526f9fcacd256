package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/platform/db"
	"github.com/flourmill-erp/flourmill/internal/sequence"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// PgPayments implements the payment tables half of TxRepository.
type PgPayments struct {
	q db.DBTX
}

// NewPgPayments binds the store to q.
func NewPgPayments(q db.DBTX) *PgPayments {
	return &PgPayments{q: q}
}

// InsertPayment writes the voucher header. The journal is linked afterwards
// because its origin is the payment id.
func (p *PgPayments) InsertPayment(ctx context.Context, pay *Payment) error {
	var key *string
	if pay.IdempotencyKey != "" {
		key = &pay.IdempotencyKey
	}
	var branch *int64
	if pay.BranchID != 0 {
		branch = &pay.BranchID
	}
	return p.q.QueryRow(ctx, `INSERT INTO payments (voucher_number, party_kind, party_id, branch_id, amount, method, payment_date,
allocated, unallocated, advance_amount, posted, reference, idempotency_key, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id, created_at`,
		pay.VoucherNumber, pay.PartyKind, pay.PartyID, branch, pay.Amount, pay.Method, pay.Date,
		pay.Allocated, pay.Unallocated, pay.AdvanceAmount, pay.Posted, pay.Reference, key, pay.CreatedBy,
	).Scan(&pay.ID, &pay.CreatedAt)
}

// SetPaymentJournal links the posted journal entry.
func (p *PgPayments) SetPaymentJournal(ctx context.Context, paymentID, journalID int64) error {
	tag, err := p.q.Exec(ctx, `UPDATE payments SET journal_id = $2 WHERE id = $1 AND journal_id IS NULL`, paymentID, journalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %d: %w", paymentID, shared.ErrNotFound)
	}
	return nil
}

// InsertAllocation records the share of a payment applied to one order.
func (p *PgPayments) InsertAllocation(ctx context.Context, paymentID int64, a Allocation) error {
	_, err := p.q.Exec(ctx, `INSERT INTO payment_allocations (payment_id, order_id, amount) VALUES ($1, $2, $3)`,
		paymentID, a.OrderID, a.Amount)
	return err
}

// PaymentByID reads a payment with its allocations.
func (p *PgPayments) PaymentByID(ctx context.Context, id int64) (Payment, error) {
	var pay Payment
	var key *string
	err := p.q.QueryRow(ctx, `SELECT id, voucher_number, party_kind, party_id, COALESCE(branch_id, 0), amount, method, payment_date,
allocated, unallocated, advance_amount, COALESCE(journal_id, 0), posted, reference, idempotency_key, created_by, created_at
FROM payments WHERE id = $1`, id).Scan(
		&pay.ID, &pay.VoucherNumber, &pay.PartyKind, &pay.PartyID, &pay.BranchID, &pay.Amount, &pay.Method, &pay.Date,
		&pay.Allocated, &pay.Unallocated, &pay.AdvanceAmount, &pay.JournalID, &pay.Posted, &pay.Reference, &key,
		&pay.CreatedBy, &pay.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, shared.ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	if key != nil {
		pay.IdempotencyKey = *key
	}
	rows, err := p.q.Query(ctx, `SELECT a.order_id, o.number, a.amount, o.balance_due
FROM payment_allocations a JOIN orders o ON o.id = a.order_id
WHERE a.payment_id = $1 ORDER BY a.id`, id)
	if err != nil {
		return Payment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.OrderID, &a.OrderNumber, &a.Amount, &a.BalanceDue); err != nil {
			return Payment{}, err
		}
		pay.Allocations = append(pay.Allocations, a)
	}
	return pay, rows.Err()
}

type txRepository struct {
	*sequence.PgCounter
	*ledger.PgBook
	*credit.PgParties
	*orders.PgOrders
	*shared.IdempotencyStore
	*PgPayments
}

// NewTxRepository binds the composite store to q.
func NewTxRepository(q db.DBTX) TxRepository {
	return txRepository{
		PgCounter:        sequence.NewPgCounter(q),
		PgBook:           ledger.NewPgBook(q),
		PgParties:        credit.NewPgParties(q),
		PgOrders:         orders.NewPgOrders(q),
		IdempotencyStore: shared.NewIdempotencyStore(q),
		PgPayments:       NewPgPayments(q),
	}
}

// Repository is the pool-backed RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
	opts db.TxOptions
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, opts db.TxOptions) *Repository {
	return &Repository{pool: pool, opts: opts}
}

// WithTx runs fn inside a retried transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetPayment implements RepositoryPort.
func (r *Repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return NewPgPayments(r.pool).PaymentByID(ctx, id)
}
