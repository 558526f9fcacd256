package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/platform/db"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

const accountColumns = `a.id, a.code, a.name, a.type, a.subtype, COALESCE(a.branch_id, 0), a.is_active`

// PgBook implements Store with parameterised queries on a transaction handle.
type PgBook struct {
	q db.DBTX
}

// NewPgBook binds the store to q.
func NewPgBook(q db.DBTX) *PgBook {
	return &PgBook{q: q}
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Subtype, &a.BranchID, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrNotFound
	}
	return a, err
}

// AccountByCode implements Store.
func (b *PgBook) AccountByCode(ctx context.Context, code string) (Account, error) {
	return scanAccount(b.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.code = $1`, code))
}

// AccountByEvent implements Store.
func (b *PgBook) AccountByEvent(ctx context.Context, ev Event, branchID int64) (Account, error) {
	return scanAccount(b.q.QueryRow(ctx, `SELECT `+accountColumns+`
FROM account_mappings m
JOIN accounts a ON a.id = m.account_id
WHERE m.event = $1 AND (m.branch_id = $2 OR m.branch_id IS NULL)
ORDER BY m.branch_id NULLS LAST, m.version DESC
LIMIT 1`, string(ev), branchID))
}

// FindAccounts implements Store. Filters are bound parameters; subtype lists
// travel as a text[] so nothing is interpolated into the statement.
func (b *PgBook) FindAccounts(ctx context.Context, q AccountQuery) ([]Account, error) {
	subtypes := q.Subtypes
	if subtypes == nil {
		subtypes = []string{}
	}
	rows, err := b.q.Query(ctx, `SELECT `+accountColumns+`
FROM accounts a
WHERE a.is_active
  AND ($1 = '' OR a.name ILIKE '%' || $1 || '%')
  AND (cardinality($2::text[]) = 0 OR a.subtype = ANY($2::text[]))
  AND (a.branch_id = $3 OR a.branch_id IS NULL)
ORDER BY a.branch_id NULLS LAST, a.code`, q.NameLike, subtypes, q.BranchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertJournal implements Store.
func (b *PgBook) InsertJournal(ctx context.Context, entry *JournalEntry) error {
	var reversalOf *int64
	if entry.ReversalOf != 0 {
		reversalOf = &entry.ReversalOf
	}
	err := b.q.QueryRow(ctx, `INSERT INTO journal_entries (reference, entry_date, description, origin_type, origin_id, reversal_of, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`,
		entry.Reference, entry.Date, entry.Description, entry.OriginType, entry.OriginID, reversalOf, entry.CreatedBy,
	).Scan(&entry.ID, &entry.CreatedAt)
	if db.IsUniqueViolation(err, db.JournalReversalConstraint) {
		return &shared.JournalNotReversibleError{JournalID: entry.ReversalOf, Reason: "already reversed"}
	}
	if err != nil {
		return fmt.Errorf("insert journal header: %w", err)
	}
	for i := range entry.Lines {
		line := &entry.Lines[i]
		line.JournalID = entry.ID
		err := b.q.QueryRow(ctx, `INSERT INTO journal_lines (journal_id, line_no, account_id, debit, credit, memo)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			entry.ID, line.LineNo, line.AccountID, line.Debit, line.Credit, line.Memo,
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("insert journal line %d: %w", line.LineNo, err)
		}
	}
	return nil
}

// JournalByID implements Store.
func (b *PgBook) JournalByID(ctx context.Context, id int64) (JournalEntry, error) {
	var e JournalEntry
	var reversalOf *int64
	err := b.q.QueryRow(ctx, `SELECT id, reference, entry_date, description, origin_type, origin_id, reversal_of, created_by, created_at
FROM journal_entries WHERE id = $1`, id).Scan(
		&e.ID, &e.Reference, &e.Date, &e.Description, &e.OriginType, &e.OriginID, &reversalOf, &e.CreatedBy, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, shared.ErrNotFound
	}
	if err != nil {
		return JournalEntry{}, err
	}
	if reversalOf != nil {
		e.ReversalOf = *reversalOf
	}
	rows, err := b.q.Query(ctx, `SELECT id, journal_id, line_no, account_id, debit, credit, memo
FROM journal_lines WHERE journal_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.JournalID, &l.LineNo, &l.AccountID, &l.Debit, &l.Credit, &l.Memo); err != nil {
			return JournalEntry{}, err
		}
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}

// ReversalOf implements Store.
func (b *PgBook) ReversalOf(ctx context.Context, journalID int64) (int64, error) {
	var id int64
	err := b.q.QueryRow(ctx, `SELECT id FROM journal_entries WHERE reversal_of = $1`, journalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// AccountTotals implements Store.
func (b *PgBook) AccountTotals(ctx context.Context, accountID int64, from, to *time.Time) (Totals, error) {
	var t Totals
	err := b.q.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.journal_id
WHERE l.account_id = $1
  AND ($2::date IS NULL OR e.entry_date >= $2::date)
  AND ($3::date IS NULL OR e.entry_date < $3::date)`, accountID, from, to).Scan(&t.Debit, &t.Credit)
	return t, err
}

// Repository opens transactions for ledger-only operations.
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
		return fn(ctx, NewPgBook(tx))
	})
}

// Journal loads a committed entry.
func (r *Repository) Journal(ctx context.Context, id int64) (JournalEntry, error) {
	return NewPgBook(r.pool).JournalByID(ctx, id)
}

// UnbalancedJournals lists journals whose lines differ by more than tolerance.
func (r *Repository) UnbalancedJournals(ctx context.Context, tolerance decimal.Decimal) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
SELECT journal_id
FROM journal_lines
GROUP BY journal_id
HAVING abs(sum(debit) - sum(credit)) > $1::numeric
ORDER BY journal_id`, tolerance)
	if err != nil {
		return nil, fmt.Errorf("ledger: scan balances: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
