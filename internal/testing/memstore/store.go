// Package memstore is an in-memory implementation of every transactional
// repository port, for service tests that do not need Postgres.
//
// A transaction works on a private copy of the data and holds the store mutex
// until it ends, which gives serialisable isolation: concurrent callers queue
// exactly as they would on contended row locks. A callback error discards the
// copy, so a failed unit of work leaves nothing behind. Deadlocks and
// serialization failures re-run the callback on a fresh copy, as
// db.WithTx does.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/eod"
	"github.com/flourmill-erp/flourmill/internal/inventory"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/payments"
	"github.com/flourmill-erp/flourmill/internal/platform/db"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// maxAttempts matches the default TX_MAX_RETRIES plus the first try.
const maxAttempts = 4

type partyKey struct {
	kind credit.PartyKind
	id   int64
}

type mapping struct {
	event     ledger.Event
	branchID  int64
	accountID int64
	version   int
}

type idemKey struct {
	module string
	key    string
}

type data struct {
	nextID      int64
	sequences   map[string]int64
	accounts    map[int64]ledger.Account
	mappings    []mapping
	journals    map[int64]ledger.JournalEntry
	stock       map[inventory.Key]inventory.Stock
	movements   []inventory.Movement
	parties     map[partyKey]credit.Party
	branches    map[int64]bool
	orders      map[int64]orders.Order
	history     []orders.HistoryEntry
	receipts    []orders.GoodsReceipt
	payments    map[int64]payments.Payment
	allocations map[int64][]payments.Allocation
	idempotency map[idemKey]time.Time
	summaries   map[int64]eod.Summary
	audit       []shared.AuditLog
}

func newData() *data {
	return &data{
		sequences:   map[string]int64{},
		accounts:    map[int64]ledger.Account{},
		journals:    map[int64]ledger.JournalEntry{},
		stock:       map[inventory.Key]inventory.Stock{},
		parties:     map[partyKey]credit.Party{},
		branches:    map[int64]bool{},
		orders:      map[int64]orders.Order{},
		payments:    map[int64]payments.Payment{},
		allocations: map[int64][]payments.Allocation{},
		idempotency: map[idemKey]time.Time{},
		summaries:   map[int64]eod.Summary{},
	}
}

// clone copies every table. Stored rows are never mutated in place, so
// copying the maps and slice headers is enough.
func (d *data) clone() *data {
	c := &data{
		nextID:      d.nextID,
		sequences:   make(map[string]int64, len(d.sequences)),
		accounts:    make(map[int64]ledger.Account, len(d.accounts)),
		mappings:    append([]mapping(nil), d.mappings...),
		journals:    make(map[int64]ledger.JournalEntry, len(d.journals)),
		stock:       make(map[inventory.Key]inventory.Stock, len(d.stock)),
		movements:   append([]inventory.Movement(nil), d.movements...),
		parties:     make(map[partyKey]credit.Party, len(d.parties)),
		branches:    make(map[int64]bool, len(d.branches)),
		orders:      make(map[int64]orders.Order, len(d.orders)),
		history:     append([]orders.HistoryEntry(nil), d.history...),
		receipts:    append([]orders.GoodsReceipt(nil), d.receipts...),
		payments:    make(map[int64]payments.Payment, len(d.payments)),
		allocations: make(map[int64][]payments.Allocation, len(d.allocations)),
		idempotency: make(map[idemKey]time.Time, len(d.idempotency)),
		summaries:   make(map[int64]eod.Summary, len(d.summaries)),
		audit:       append([]shared.AuditLog(nil), d.audit...),
	}
	for k, v := range d.sequences {
		c.sequences[k] = v
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.journals {
		c.journals[k] = v
	}
	for k, v := range d.stock {
		c.stock[k] = v
	}
	for k, v := range d.parties {
		c.parties[k] = v
	}
	for k, v := range d.branches {
		c.branches[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.allocations {
		c.allocations[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range d.summaries {
		c.summaries[k] = v
	}
	return c
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

// Store holds the committed state.
type Store struct {
	mu        sync.Mutex
	data      *data
	now       func() time.Time
	deadlocks int
	attempts  int
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newData(), now: time.Now}
}

// WithClock overrides the timestamp source for created_at style columns.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// FailCommits makes the next n commits fail with a detected deadlock after
// the callback has done all of its work. The copy is discarded and the
// callback runs again.
func (s *Store) FailCommits(n int) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlocks = n
	return s
}

// Attempts counts callback executions, retries included.
func (s *Store) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Store) run(ctx context.Context, fn func(context.Context, *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for i := 0; i < maxAttempts; i++ {
		err = s.attempt(ctx, fn)
		if err == nil || !db.IsRetryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) attempt(ctx context.Context, fn func(context.Context, *Tx) error) error {
	s.attempts++
	tx := &Tx{d: s.data.clone(), now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if s.deadlocks > 0 {
		s.deadlocks--
		return &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	}
	s.data = tx.d
	return nil
}

func (s *Store) read(fn func(*Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{d: s.data, now: s.now})
}

// Tx is one unit of work. It satisfies the TxRepository of every service.
type Tx struct {
	d   *data
	now func() time.Time
}

var (
	_ orders.TxRepository   = (*Tx)(nil)
	_ payments.TxRepository = (*Tx)(nil)
	_ eod.TxRepository      = (*Tx)(nil)
)

// NextSequence implements sequence.Store.
func (t *Tx) NextSequence(_ context.Context, scope string) (int64, error) {
	t.d.sequences[scope]++
	return t.d.sequences[scope], nil
}

// AccountByCode implements ledger.Store.
func (t *Tx) AccountByCode(_ context.Context, code string) (ledger.Account, error) {
	for _, a := range t.d.accounts {
		if a.Code == code {
			return a, nil
		}
	}
	return ledger.Account{}, shared.ErrNotFound
}

// AccountByEvent implements ledger.Store.
func (t *Tx) AccountByEvent(_ context.Context, ev ledger.Event, branchID int64) (ledger.Account, error) {
	var best *mapping
	for i := range t.d.mappings {
		m := &t.d.mappings[i]
		if m.event != ev || (m.branchID != 0 && m.branchID != branchID) {
			continue
		}
		switch {
		case best == nil:
			best = m
		case m.branchID != 0 && best.branchID == 0:
			best = m
		case (m.branchID == 0) == (best.branchID == 0) && m.version > best.version:
			best = m
		}
	}
	if best == nil {
		return ledger.Account{}, shared.ErrNotFound
	}
	acc, ok := t.d.accounts[best.accountID]
	if !ok {
		return ledger.Account{}, shared.ErrNotFound
	}
	return acc, nil
}

// FindAccounts implements ledger.Store.
func (t *Tx) FindAccounts(_ context.Context, q ledger.AccountQuery) ([]ledger.Account, error) {
	var out []ledger.Account
	for _, a := range t.d.accounts {
		if !a.Active {
			continue
		}
		if q.NameLike != "" && !containsFold(a.Name, q.NameLike) {
			continue
		}
		if len(q.Subtypes) > 0 && !containsString(q.Subtypes, a.Subtype) {
			continue
		}
		if a.BranchID != 0 && a.BranchID != q.BranchID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i].BranchID != 0, out[j].BranchID != 0
		if bi != bj {
			return bi
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// InsertJournal implements ledger.Store. At most one entry may reverse a
// given journal.
func (t *Tx) InsertJournal(ctx context.Context, entry *ledger.JournalEntry) error {
	if entry.ReversalOf != 0 {
		if id, _ := t.ReversalOf(ctx, entry.ReversalOf); id != 0 {
			return &shared.JournalNotReversibleError{JournalID: entry.ReversalOf, ReversalID: id}
		}
	}
	entry.ID = t.d.id()
	entry.CreatedAt = t.now()
	lines := make([]ledger.Line, len(entry.Lines))
	for i := range entry.Lines {
		if _, ok := t.d.accounts[entry.Lines[i].AccountID]; !ok {
			return fmt.Errorf("journal line %d: account %d does not exist", entry.Lines[i].LineNo, entry.Lines[i].AccountID)
		}
		entry.Lines[i].ID = t.d.id()
		entry.Lines[i].JournalID = entry.ID
		lines[i] = entry.Lines[i]
	}
	stored := *entry
	stored.Lines = lines
	t.d.journals[entry.ID] = stored
	return nil
}

// JournalByID implements ledger.Store.
func (t *Tx) JournalByID(_ context.Context, id int64) (ledger.JournalEntry, error) {
	e, ok := t.d.journals[id]
	if !ok {
		return ledger.JournalEntry{}, shared.ErrNotFound
	}
	e.Lines = append([]ledger.Line(nil), e.Lines...)
	return e, nil
}

// ReversalOf implements ledger.Store.
func (t *Tx) ReversalOf(_ context.Context, journalID int64) (int64, error) {
	for _, e := range t.d.journals {
		if e.ReversalOf == journalID {
			return e.ID, nil
		}
	}
	return 0, nil
}

// AccountTotals implements ledger.Store.
func (t *Tx) AccountTotals(_ context.Context, accountID int64, from, to *time.Time) (ledger.Totals, error) {
	var totals ledger.Totals
	for _, e := range t.d.journals {
		if from != nil && e.Date.Before(*from) {
			continue
		}
		if to != nil && !e.Date.Before(*to) {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID == accountID {
				totals.Debit = totals.Debit.Add(l.Debit)
				totals.Credit = totals.Credit.Add(l.Credit)
			}
		}
	}
	return totals, nil
}

// LockStock implements inventory.Store.
func (t *Tx) LockStock(_ context.Context, variantID, branchID int64) (inventory.Stock, error) {
	key := inventory.Key{VariantID: variantID, BranchID: branchID}
	st, ok := t.d.stock[key]
	if !ok {
		st = inventory.Stock{VariantID: variantID, BranchID: branchID, Quantity: decimal.Zero, UpdatedAt: t.now()}
		t.d.stock[key] = st
	}
	return st, nil
}

// SaveStock implements inventory.Store.
func (t *Tx) SaveStock(_ context.Context, st inventory.Stock) error {
	if _, ok := t.d.stock[st.Key()]; !ok {
		return fmt.Errorf("stock row %d/%d: %w", st.VariantID, st.BranchID, shared.ErrNotFound)
	}
	t.d.stock[st.Key()] = st
	return nil
}

// InsertMovement implements inventory.Store.
func (t *Tx) InsertMovement(_ context.Context, m inventory.Movement) error {
	m.ID = t.d.id()
	t.d.movements = append(t.d.movements, m)
	return nil
}

// LockParty implements credit.Store.
func (t *Tx) LockParty(_ context.Context, kind credit.PartyKind, id int64) (credit.Party, error) {
	if !kind.Valid() {
		return credit.Party{}, shared.Invalid("party_kind", fmt.Sprintf("unknown party kind %q", kind))
	}
	p, ok := t.d.parties[partyKey{kind, id}]
	if !ok {
		return credit.Party{}, fmt.Errorf("%s %d: %w", kind, id, shared.ErrNotFound)
	}
	return p, nil
}

// AdjustPartyBalance implements credit.Store.
func (t *Tx) AdjustPartyBalance(_ context.Context, kind credit.PartyKind, id int64, delta decimal.Decimal) error {
	key := partyKey{kind, id}
	p, ok := t.d.parties[key]
	if !ok {
		return fmt.Errorf("%s %d: %w", kind, id, shared.ErrNotFound)
	}
	p.CurrentBalance = p.CurrentBalance.Add(delta)
	p.UpdatedAt = t.now()
	t.d.parties[key] = p
	return nil
}

// InsertOrder implements orders.TxRepository. Order numbers are unique.
func (t *Tx) InsertOrder(_ context.Context, o *orders.Order) error {
	for _, existing := range t.d.orders {
		if existing.Number == o.Number {
			return fmt.Errorf("duplicate order number %s", o.Number)
		}
	}
	o.ID = t.d.id()
	o.CreatedAt = t.now()
	o.UpdatedAt = o.CreatedAt
	lines := make([]orders.Line, len(o.Lines))
	for i := range o.Lines {
		o.Lines[i].ID = t.d.id()
		o.Lines[i].OrderID = o.ID
		lines[i] = o.Lines[i]
	}
	stored := *o
	stored.Lines = lines
	t.d.orders[o.ID] = stored
	return nil
}

// LockOrder implements orders.TxRepository.
func (t *Tx) LockOrder(_ context.Context, id int64) (orders.Order, error) {
	o, ok := t.d.orders[id]
	if !ok {
		return orders.Order{}, shared.ErrNotFound
	}
	o.Lines = append([]orders.Line(nil), o.Lines...)
	return o, nil
}

// UpdateOrder implements orders.TxRepository.
func (t *Tx) UpdateOrder(_ context.Context, o orders.Order) error {
	stored, ok := t.d.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", o.ID, shared.ErrNotFound)
	}
	stored.Status = o.Status
	stored.Paid = o.Paid
	stored.BalanceDue = o.BalanceDue
	stored.Recognized = o.Recognized
	stored.StockDeducted = o.StockDeducted
	stored.JournalID = o.JournalID
	stored.UpdatedAt = t.now()
	lines := append([]orders.Line(nil), stored.Lines...)
	for _, l := range o.Lines {
		for i := range lines {
			if lines[i].ID == l.ID {
				lines[i].Received = l.Received
			}
		}
	}
	stored.Lines = lines
	t.d.orders[o.ID] = stored
	return nil
}

// InsertHistory implements orders.TxRepository.
func (t *Tx) InsertHistory(_ context.Context, h orders.HistoryEntry) error {
	if _, ok := t.d.orders[h.OrderID]; !ok {
		return fmt.Errorf("order %d: %w", h.OrderID, shared.ErrNotFound)
	}
	h.ID = t.d.id()
	t.d.history = append(t.d.history, h)
	return nil
}

// InsertGoodsReceipt implements orders.TxRepository.
func (t *Tx) InsertGoodsReceipt(_ context.Context, g *orders.GoodsReceipt) error {
	g.ID = t.d.id()
	stored := *g
	stored.Lines = append([]orders.ReceiptLine(nil), g.Lines...)
	t.d.receipts = append(t.d.receipts, stored)
	return nil
}

// DayReconciled implements orders.TxRepository.
func (t *Tx) DayReconciled(_ context.Context, branchID int64, day time.Time) (bool, error) {
	if !t.d.branches[branchID] {
		return false, shared.Invalid("branch_id", fmt.Sprintf("branch %d does not exist", branchID))
	}
	for _, s := range t.d.summaries {
		if s.BranchID == branchID && s.BusinessDate.Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

// OpenOrdersForParty implements payments.TxRepository.
func (t *Tx) OpenOrdersForParty(_ context.Context, kinds []orders.Kind, partyID int64) ([]orders.Order, error) {
	var out []orders.Order
	for _, o := range t.d.orders {
		if o.PartyID != partyID || !kindIn(kinds, o.Kind) || !o.Open() {
			continue
		}
		o.Lines = nil
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderDate.Equal(out[j].OrderDate) {
			return out[i].OrderDate.Before(out[j].OrderDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ClaimIdempotencyKey implements payments.TxRepository.
func (t *Tx) ClaimIdempotencyKey(_ context.Context, module, key string) error {
	k := idemKey{module: module, key: key}
	if _, ok := t.d.idempotency[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.d.idempotency[k] = t.now()
	return nil
}

// InsertPayment implements payments.TxRepository.
func (t *Tx) InsertPayment(_ context.Context, p *payments.Payment) error {
	p.ID = t.d.id()
	p.CreatedAt = t.now()
	stored := *p
	stored.Allocations = nil
	t.d.payments[p.ID] = stored
	return nil
}

// SetPaymentJournal implements payments.TxRepository.
func (t *Tx) SetPaymentJournal(_ context.Context, paymentID, journalID int64) error {
	p, ok := t.d.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment %d: %w", paymentID, shared.ErrNotFound)
	}
	p.JournalID = journalID
	t.d.payments[paymentID] = p
	return nil
}

// InsertAllocation implements payments.TxRepository.
func (t *Tx) InsertAllocation(_ context.Context, paymentID int64, a payments.Allocation) error {
	if _, ok := t.d.payments[paymentID]; !ok {
		return fmt.Errorf("payment %d: %w", paymentID, shared.ErrNotFound)
	}
	t.d.allocations[paymentID] = append(append([]payments.Allocation(nil), t.d.allocations[paymentID]...), a)
	return nil
}

// UnappliedAdvances implements orders.TxRepository.
func (t *Tx) UnappliedAdvances(_ context.Context, kind credit.PartyKind, partyID int64) ([]orders.Advance, error) {
	var open []payments.Payment
	for _, p := range t.d.payments {
		if p.PartyKind == kind && p.PartyID == partyID && p.Unallocated.IsPositive() {
			open = append(open, p)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].Date.Equal(open[j].Date) {
			return open[i].Date.Before(open[j].Date)
		}
		return open[i].ID < open[j].ID
	})
	out := make([]orders.Advance, 0, len(open))
	for _, p := range open {
		out = append(out, orders.Advance{PaymentID: p.ID, VoucherNumber: p.VoucherNumber, Remaining: p.Unallocated})
	}
	return out, nil
}

// ApplyAdvance implements orders.TxRepository.
func (t *Tx) ApplyAdvance(ctx context.Context, paymentID, orderID int64, amount decimal.Decimal) error {
	p, ok := t.d.payments[paymentID]
	if !ok || p.Unallocated.LessThan(amount) {
		return fmt.Errorf("payment %d has less than %s unallocated: %w", paymentID, amount.StringFixed(2), shared.ErrNotFound)
	}
	if _, ok := t.d.orders[orderID]; !ok {
		return fmt.Errorf("order %d: %w", orderID, shared.ErrNotFound)
	}
	p.Allocated = p.Allocated.Add(amount)
	p.Unallocated = p.Unallocated.Sub(amount)
	t.d.payments[paymentID] = p
	return t.InsertAllocation(ctx, paymentID, payments.Allocation{OrderID: orderID, Amount: amount})
}

// ReleaseAdvances implements orders.TxRepository.
func (t *Tx) ReleaseAdvances(_ context.Context, orderID int64) (decimal.Decimal, error) {
	released := decimal.Zero
	for paymentID, allocs := range t.d.allocations {
		kept := make([]payments.Allocation, 0, len(allocs))
		share := decimal.Zero
		for _, a := range allocs {
			if a.OrderID == orderID {
				share = share.Add(a.Amount)
				continue
			}
			kept = append(kept, a)
		}
		if share.IsZero() {
			continue
		}
		t.d.allocations[paymentID] = kept
		p := t.d.payments[paymentID]
		p.Allocated = p.Allocated.Sub(share)
		p.Unallocated = p.Unallocated.Add(share)
		t.d.payments[paymentID] = p
		released = released.Add(share)
	}
	return released, nil
}

// LockBranch implements eod.TxRepository.
func (t *Tx) LockBranch(_ context.Context, branchID int64) error {
	if !t.d.branches[branchID] {
		return shared.Invalid("branch_id", fmt.Sprintf("branch %d does not exist", branchID))
	}
	return nil
}

// SummaryForDay implements eod.TxRepository.
func (t *Tx) SummaryForDay(_ context.Context, branchID int64, day time.Time) (eod.Summary, error) {
	for _, s := range t.d.summaries {
		if s.BranchID == branchID && s.BusinessDate.Equal(day) {
			return s, nil
		}
	}
	return eod.Summary{}, shared.ErrNotFound
}

// POSOrdersForDay implements eod.TxRepository.
func (t *Tx) POSOrdersForDay(_ context.Context, branchID int64, day time.Time) ([]orders.Order, error) {
	var out []orders.Order
	for _, o := range t.d.orders {
		if o.Kind != orders.KindPOS || o.Status != orders.StatusCompleted || o.BranchID != branchID || !o.OrderDate.Equal(day) {
			continue
		}
		o.Lines = append([]orders.Line(nil), o.Lines...)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertSummary implements eod.TxRepository. (branch, date) is unique.
func (t *Tx) InsertSummary(_ context.Context, s *eod.Summary) error {
	for _, existing := range t.d.summaries {
		if existing.BranchID == s.BranchID && existing.BusinessDate.Equal(s.BusinessDate) {
			return &shared.AlreadyRunError{BranchID: s.BranchID, Date: s.BusinessDate}
		}
	}
	s.ID = t.d.id()
	s.CreatedAt = t.now()
	t.d.summaries[s.ID] = *s
	return nil
}

// LockSummary implements eod.TxRepository.
func (t *Tx) LockSummary(_ context.Context, id int64) (eod.Summary, error) {
	s, ok := t.d.summaries[id]
	if !ok {
		return eod.Summary{}, shared.ErrNotFound
	}
	return s, nil
}

// LaterSummary implements eod.TxRepository.
func (t *Tx) LaterSummary(_ context.Context, branchID int64, day time.Time) (eod.Summary, error) {
	var latest *eod.Summary
	for _, s := range t.d.summaries {
		if s.BranchID != branchID || !s.BusinessDate.After(day) {
			continue
		}
		if latest == nil || s.BusinessDate.After(latest.BusinessDate) {
			s := s
			latest = &s
		}
	}
	if latest == nil {
		return eod.Summary{}, shared.ErrNotFound
	}
	return *latest, nil
}

// DeleteSummary implements eod.TxRepository.
func (t *Tx) DeleteSummary(_ context.Context, id int64) error {
	if _, ok := t.d.summaries[id]; !ok {
		return fmt.Errorf("summary %d: %w", id, shared.ErrNotFound)
	}
	delete(t.d.summaries, id)
	return nil
}

// InsertAuditLog implements eod.TxRepository.
func (t *Tx) InsertAuditLog(_ context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = t.now()
	}
	t.d.audit = append(t.d.audit, log)
	return nil
}

func (t *Tx) payment(id int64) (payments.Payment, error) {
	p, ok := t.d.payments[id]
	if !ok {
		return payments.Payment{}, shared.ErrNotFound
	}
	for _, a := range t.d.allocations[id] {
		if o, ok := t.d.orders[a.OrderID]; ok {
			a.OrderNumber = o.Number
			a.BalanceDue = o.BalanceDue
		}
		p.Allocations = append(p.Allocations, a)
	}
	return p, nil
}

func kindIn(kinds []orders.Kind, k orders.Kind) bool {
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
