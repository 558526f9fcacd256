package eod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/platform/db"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

const summaryColumns = `id, branch_id, business_date, order_count, items_sold, gross_sales, discount_total, net_sales,
payment_breakdown, top_products, opening_cash, cash_in, cash_out, expected_cash, actual_cash, variance, notes, run_by, created_at`

// PgSummaries implements the eod half of TxRepository.
type PgSummaries struct {
	q db.DBTX
}

// NewPgSummaries binds the store to q.
func NewPgSummaries(q db.DBTX) *PgSummaries {
	return &PgSummaries{q: q}
}

func scanSummary(row pgx.Row) (Summary, error) {
	var s Summary
	var breakdown, top []byte
	err := row.Scan(&s.ID, &s.BranchID, &s.BusinessDate, &s.OrderCount, &s.ItemsSold, &s.GrossSales, &s.DiscountTotal,
		&s.NetSales, &breakdown, &top, &s.OpeningCash, &s.CashIn, &s.CashOut, &s.ExpectedCash, &s.ActualCash,
		&s.Variance, &s.Notes, &s.RunBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, shared.ErrNotFound
	}
	if err != nil {
		return Summary{}, err
	}
	if err := json.Unmarshal(breakdown, &s.PaymentBreakdown); err != nil {
		return Summary{}, fmt.Errorf("decode payment breakdown: %w", err)
	}
	if err := json.Unmarshal(top, &s.TopProducts); err != nil {
		return Summary{}, fmt.Errorf("decode top products: %w", err)
	}
	return s, nil
}

// LockBranch implements TxRepository.
func (p *PgSummaries) LockBranch(ctx context.Context, branchID int64) error {
	var id int64
	err := p.q.QueryRow(ctx, `SELECT id FROM branches WHERE id = $1 FOR NO KEY UPDATE`, branchID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.Invalid("branch_id", fmt.Sprintf("branch %d does not exist", branchID))
	}
	return err
}

// SummaryForDay implements TxRepository.
func (p *PgSummaries) SummaryForDay(ctx context.Context, branchID int64, day time.Time) (Summary, error) {
	return scanSummary(p.q.QueryRow(ctx, `SELECT `+summaryColumns+`
FROM eod_summaries WHERE branch_id = $1 AND business_date = $2`, branchID, day))
}

// POSOrdersForDay implements TxRepository.
func (p *PgSummaries) POSOrdersForDay(ctx context.Context, branchID int64, day time.Time) ([]orders.Order, error) {
	rows, err := p.q.Query(ctx, `SELECT o.id, o.number, o.payment_method, o.subtotal, o.discount, o.total,
l.id, l.line_no, l.variant_id, l.quantity, l.unit_price, l.discount, l.line_total
FROM orders o
JOIN order_lines l ON l.order_id = o.id
WHERE o.branch_id = $1 AND o.order_date = $2 AND o.kind = 'pos' AND o.status = 'completed'
ORDER BY o.id, l.line_no`, branchID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []orders.Order
	for rows.Next() {
		var o orders.Order
		var l orders.Line
		if err := rows.Scan(&o.ID, &o.Number, &o.PaymentMethod, &o.Subtotal, &o.Discount, &o.Total,
			&l.ID, &l.LineNo, &l.VariantID, &l.Quantity, &l.UnitPrice, &l.Discount, &l.LineTotal); err != nil {
			return nil, err
		}
		l.OrderID = o.ID
		if n := len(out); n > 0 && out[n-1].ID == o.ID {
			out[n-1].Lines = append(out[n-1].Lines, l)
			continue
		}
		o.Kind = orders.KindPOS
		o.BranchID = branchID
		o.OrderDate = day
		o.Lines = []orders.Line{l}
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertSummary implements TxRepository.
func (p *PgSummaries) InsertSummary(ctx context.Context, s *Summary) error {
	breakdown, err := json.Marshal(s.PaymentBreakdown)
	if err != nil {
		return err
	}
	top, err := json.Marshal(s.TopProducts)
	if err != nil {
		return err
	}
	return p.q.QueryRow(ctx, `INSERT INTO eod_summaries (branch_id, business_date, order_count, items_sold, gross_sales,
discount_total, net_sales, payment_breakdown, top_products, opening_cash, cash_in, cash_out, expected_cash,
actual_cash, variance, notes, run_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING id, created_at`,
		s.BranchID, s.BusinessDate, s.OrderCount, s.ItemsSold, s.GrossSales, s.DiscountTotal, s.NetSales,
		breakdown, top, s.OpeningCash, s.CashIn, s.CashOut, s.ExpectedCash, s.ActualCash, s.Variance, s.Notes, s.RunBy,
	).Scan(&s.ID, &s.CreatedAt)
}

// LockSummary implements TxRepository.
func (p *PgSummaries) LockSummary(ctx context.Context, id int64) (Summary, error) {
	return scanSummary(p.q.QueryRow(ctx, `SELECT `+summaryColumns+` FROM eod_summaries WHERE id = $1 FOR UPDATE`, id))
}

// LaterSummary implements TxRepository.
func (p *PgSummaries) LaterSummary(ctx context.Context, branchID int64, day time.Time) (Summary, error) {
	return scanSummary(p.q.QueryRow(ctx, `SELECT `+summaryColumns+`
FROM eod_summaries WHERE branch_id = $1 AND business_date > $2
ORDER BY business_date DESC LIMIT 1`, branchID, day))
}

// DeleteSummary implements TxRepository.
func (p *PgSummaries) DeleteSummary(ctx context.Context, id int64) error {
	tag, err := p.q.Exec(ctx, `DELETE FROM eod_summaries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("summary %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// ListSummaries returns summaries matching filter, newest first.
func (p *PgSummaries) ListSummaries(ctx context.Context, f ListFilter) ([]Summary, error) {
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	rows, err := p.q.Query(ctx, `SELECT `+summaryColumns+`
FROM eod_summaries
WHERE ($1::bigint = 0 OR branch_id = $1::bigint)
  AND ($2::date IS NULL OR business_date >= $2::date)
  AND ($3::date IS NULL OR business_date <= $3::date)
ORDER BY business_date DESC, branch_id
LIMIT $4`, f.BranchID, from, to, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type txRepository struct {
	*ledger.PgBook
	*shared.AuditLogger
	*PgSummaries
}

// NewTxRepository binds the composite store to q.
func NewTxRepository(q db.DBTX) TxRepository {
	return txRepository{
		PgBook:      ledger.NewPgBook(q),
		AuditLogger: shared.NewAuditLogger(q),
		PgSummaries: NewPgSummaries(q),
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

// GetSummary implements RepositoryPort.
func (r *Repository) GetSummary(ctx context.Context, id int64) (Summary, error) {
	return scanSummary(r.pool.QueryRow(ctx, `SELECT `+summaryColumns+` FROM eod_summaries WHERE id = $1`, id))
}

// ListSummaries implements RepositoryPort.
func (r *Repository) ListSummaries(ctx context.Context, f ListFilter) ([]Summary, error) {
	return NewPgSummaries(r.pool).ListSummaries(ctx, f)
}
