package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/inventory"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/platform/db"
	"github.com/flourmill-erp/flourmill/internal/sequence"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

const orderColumns = `id, number, kind, COALESCE(party_id, 0), branch_id, status, payment_type, payment_method,
subtotal, discount, total, paid, balance_due, recognized, stock_deducted, COALESCE(journal_id, 0),
notes, order_date, created_by, created_at, updated_at`

// PgOrders implements the order tables half of TxRepository.
type PgOrders struct {
	q db.DBTX
}

// NewPgOrders binds the store to q.
func NewPgOrders(q db.DBTX) *PgOrders {
	return &PgOrders{q: q}
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.Kind, &o.PartyID, &o.BranchID, &o.Status, &o.PaymentType, &o.PaymentMethod,
		&o.Subtotal, &o.Discount, &o.Total, &o.Paid, &o.BalanceDue, &o.Recognized, &o.StockDeducted, &o.JournalID,
		&o.Notes, &o.OrderDate, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.ErrNotFound
	}
	return o, err
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

// InsertOrder writes the header and every line, filling in generated ids.
func (p *PgOrders) InsertOrder(ctx context.Context, o *Order) error {
	err := p.q.QueryRow(ctx, `INSERT INTO orders (number, kind, party_id, branch_id, status, payment_type, payment_method,
subtotal, discount, total, paid, balance_due, recognized, stock_deducted, journal_id, notes, order_date, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
RETURNING id, created_at, updated_at`,
		o.Number, o.Kind, nullableID(o.PartyID), o.BranchID, o.Status, o.PaymentType, o.PaymentMethod,
		o.Subtotal, o.Discount, o.Total, o.Paid, o.BalanceDue, o.Recognized, o.StockDeducted, nullableID(o.JournalID),
		o.Notes, o.OrderDate, o.CreatedBy,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		err := p.q.QueryRow(ctx, `INSERT INTO order_lines (order_id, line_no, variant_id, quantity, unit_price, discount, line_total, received)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			o.ID, l.LineNo, l.VariantID, l.Quantity, l.UnitPrice, l.Discount, l.LineTotal, l.Received,
		).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("insert line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

// LockOrder reads the order under FOR UPDATE along with its lines.
func (p *PgOrders) LockOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(p.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, err
	}
	o.Lines, err = p.orderLines(ctx, id)
	return o, err
}

func (p *PgOrders) orderLines(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := p.q.Query(ctx, `SELECT id, order_id, line_no, variant_id, quantity, unit_price, discount, line_total, received
FROM order_lines WHERE order_id = $1 ORDER BY line_no`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.LineNo, &l.VariantID, &l.Quantity, &l.UnitPrice, &l.Discount, &l.LineTotal, &l.Received); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// UpdateOrder persists the mutable header fields and the received quantity
// of any lines carried on o.
func (p *PgOrders) UpdateOrder(ctx context.Context, o Order) error {
	tag, err := p.q.Exec(ctx, `UPDATE orders SET status = $2, paid = $3, balance_due = $4, recognized = $5,
stock_deducted = $6, journal_id = $7, updated_at = NOW()
WHERE id = $1`, o.ID, o.Status, o.Paid, o.BalanceDue, o.Recognized, o.StockDeducted, nullableID(o.JournalID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d: %w", o.ID, shared.ErrNotFound)
	}
	for _, l := range o.Lines {
		if _, err := p.q.Exec(ctx, `UPDATE order_lines SET received = $2 WHERE id = $1`, l.ID, l.Received); err != nil {
			return fmt.Errorf("update line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

// InsertHistory appends a workflow record.
func (p *PgOrders) InsertHistory(ctx context.Context, h HistoryEntry) error {
	_, err := p.q.Exec(ctx, `INSERT INTO order_history (order_id, from_status, to_status, action, actor_id, comments, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, h.OrderID, h.From, h.To, h.Action, h.ActorID, h.Comments, h.At)
	return err
}

// ListHistory returns the workflow records of orderID, oldest first.
func (p *PgOrders) ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	rows, err := p.q.Query(ctx, `SELECT id, order_id, from_status, to_status, action, actor_id, comments, created_at
FROM order_history WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.OrderID, &h.From, &h.To, &h.Action, &h.ActorID, &h.Comments, &h.At); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// InsertGoodsReceipt writes a GRN header with its lines.
func (p *PgOrders) InsertGoodsReceipt(ctx context.Context, g *GoodsReceipt) error {
	err := p.q.QueryRow(ctx, `INSERT INTO goods_receipts (number, order_id, branch_id, value, journal_id, received_by, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		g.Number, g.OrderID, g.BranchID, g.Value, g.JournalID, g.ReceivedBy, g.ReceivedAt).Scan(&g.ID)
	if err != nil {
		return err
	}
	for _, l := range g.Lines {
		if _, err := p.q.Exec(ctx, `INSERT INTO goods_receipt_lines (receipt_id, order_line_id, variant_id, quantity)
VALUES ($1, $2, $3, $4)`, g.ID, l.OrderLineID, l.VariantID, l.Quantity); err != nil {
			return fmt.Errorf("insert receipt line %d: %w", l.OrderLineID, err)
		}
	}
	return nil
}

// DayReconciled reports whether eod_summaries holds the branch-day. The
// branch row is share-locked first so a sale cannot slip past a running
// end-of-day, which takes the same row exclusively.
func (p *PgOrders) DayReconciled(ctx context.Context, branchID int64, day time.Time) (bool, error) {
	var id int64
	err := p.q.QueryRow(ctx, `SELECT id FROM branches WHERE id = $1 FOR SHARE`, branchID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, shared.Invalid("branch_id", fmt.Sprintf("branch %d does not exist", branchID))
	}
	if err != nil {
		return false, err
	}
	var exists bool
	err = p.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM eod_summaries WHERE branch_id = $1 AND business_date = $2)`,
		branchID, day).Scan(&exists)
	return exists, err
}

// OpenOrdersForParty locks every order of the given kinds that still has a
// balance due, oldest first. Lines are not loaded.
func (p *PgOrders) OpenOrdersForParty(ctx context.Context, kinds []Kind, partyID int64) ([]Order, error) {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	rows, err := p.q.Query(ctx, `SELECT `+orderColumns+`
FROM orders
WHERE party_id = $1
  AND kind = ANY($2::text[])
  AND status NOT IN ('draft', 'cancelled', 'rejected')
  AND balance_due > 0
ORDER BY order_date, id
FOR UPDATE`, partyID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UnappliedAdvances locks the party's payments with an unallocated balance,
// oldest first.
func (p *PgOrders) UnappliedAdvances(ctx context.Context, kind credit.PartyKind, partyID int64) ([]Advance, error) {
	rows, err := p.q.Query(ctx, `SELECT id, voucher_number, unallocated
FROM payments
WHERE party_kind = $1 AND party_id = $2 AND unallocated > 0
ORDER BY payment_date, id
FOR UPDATE`, kind, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Advance
	for rows.Next() {
		var a Advance
		if err := rows.Scan(&a.PaymentID, &a.VoucherNumber, &a.Remaining); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplyAdvance moves amount from the payment's unallocated balance to an
// allocation row for the order.
func (p *PgOrders) ApplyAdvance(ctx context.Context, paymentID, orderID int64, amount decimal.Decimal) error {
	tag, err := p.q.Exec(ctx, `UPDATE payments SET allocated = allocated + $2, unallocated = unallocated - $2
WHERE id = $1 AND unallocated >= $2`, paymentID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %d has less than %s unallocated: %w", paymentID, amount.StringFixed(2), shared.ErrNotFound)
	}
	_, err = p.q.Exec(ctx, `INSERT INTO payment_allocations (payment_id, order_id, amount) VALUES ($1, $2, $3)`,
		paymentID, orderID, amount)
	return err
}

// ReleaseAdvances deletes the order's allocation rows and credits each
// payment's unallocated balance with its share.
func (p *PgOrders) ReleaseAdvances(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	rows, err := p.q.Query(ctx, `DELETE FROM payment_allocations WHERE order_id = $1 RETURNING payment_id, amount`, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	shares := map[int64]decimal.Decimal{}
	var ids []int64
	for rows.Next() {
		var id int64
		var amount decimal.Decimal
		if err := rows.Scan(&id, &amount); err != nil {
			rows.Close()
			return decimal.Zero, err
		}
		if _, ok := shares[id]; !ok {
			ids = append(ids, id)
		}
		shares[id] = shares[id].Add(amount)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	released := decimal.Zero
	for _, id := range ids {
		if _, err := p.q.Exec(ctx, `UPDATE payments SET allocated = allocated - $2, unallocated = unallocated + $2 WHERE id = $1`,
			id, shares[id]); err != nil {
			return decimal.Zero, fmt.Errorf("release payment %d: %w", id, err)
		}
		released = released.Add(shares[id])
	}
	return released, nil
}

// txRepository binds every store an order unit of work needs to one pgx.Tx.
type txRepository struct {
	*sequence.PgCounter
	*ledger.PgBook
	*inventory.PgStock
	*credit.PgParties
	*PgOrders
}

// NewTxRepository binds the composite store to q.
func NewTxRepository(q db.DBTX) TxRepository {
	return txRepository{
		PgCounter: sequence.NewPgCounter(q),
		PgBook:    ledger.NewPgBook(q),
		PgStock:   inventory.NewPgStock(q),
		PgParties: credit.NewPgParties(q),
		PgOrders:  NewPgOrders(q),
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

// GetOrder reads a committed order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	store := NewPgOrders(r.pool)
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	o.Lines, err = store.orderLines(ctx, id)
	return o, err
}

// ListHistory implements RepositoryPort.
func (r *Repository) ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	return NewPgOrders(r.pool).ListHistory(ctx, orderID)
}
