// Package ledger posts balanced double-entry journals and resolves the
// accounts they touch.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/observability"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// DefaultTolerance is the largest debit/credit difference treated as rounding.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Config tunes the engine.
type Config struct {
	AllowPatternFallback bool
	Tolerance            decimal.Decimal
	// Location is the business calendar for entries posted without a date.
	Location *time.Location
}

// Engine validates and writes journal entries. It is agnostic of business
// meaning: callers pick the account pairs, the engine enforces structure.
type Engine struct {
	resolver  *AccountResolver
	tolerance decimal.Decimal
	loc       *time.Location
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewEngine constructs the posting engine.
func NewEngine(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	tol := cfg.Tolerance
	if !tol.IsPositive() {
		tol = DefaultTolerance
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		resolver:  NewAccountResolver(cfg.AllowPatternFallback, logger),
		tolerance: tol,
		loc:       loc,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Resolver exposes the account resolver for read-side callers.
func (e *Engine) Resolver() *AccountResolver {
	return e.resolver
}

// Post resolves, validates and inserts the entry with all of its lines.
func (e *Engine) Post(ctx context.Context, store Store, in PostInput) (int64, error) {
	if in.Description == "" {
		return 0, shared.Invalid("description", "is required")
	}
	if in.OriginType == "" {
		return 0, shared.Invalid("origin_type", "is required")
	}
	if in.CreatedBy == 0 {
		return 0, shared.Invalid("created_by", "is required")
	}

	lines := make([]Line, 0, len(in.Lines))
	for idx, pl := range in.Lines {
		debit := pl.Debit.Round(2)
		credit := pl.Credit.Round(2)
		if debit.IsZero() && credit.IsZero() {
			continue
		}
		acc, err := e.resolver.Resolve(ctx, store, pl.Account, in.BranchID)
		if err != nil {
			e.fatal(ctx, "resolve account", err, in)
			return 0, err
		}
		lines = append(lines, Line{
			LineNo:    idx + 1,
			AccountID: acc.ID,
			Debit:     debit,
			Credit:    credit,
			Memo:      pl.Memo,
		})
	}

	entry := JournalEntry{
		Reference:   in.Reference,
		Date:        in.Date,
		Description: in.Description,
		OriginType:  in.OriginType,
		OriginID:    in.OriginID,
		CreatedBy:   in.CreatedBy,
		Lines:       lines,
	}
	if err := e.insert(ctx, store, &entry); err != nil {
		e.fatal(ctx, "insert journal", err, in)
		return 0, err
	}
	return entry.ID, nil
}

// Reverse posts a new entry mirroring a manual journal with debit and credit
// swapped. An entry is reversed at most once and reversals are final.
// Document journals are compensated by their own workflow.
func (e *Engine) Reverse(ctx context.Context, store Store, in ReverseInput) (int64, error) {
	if in.CreatedBy == 0 {
		return 0, shared.Invalid("created_by", "is required")
	}
	original, err := store.JournalByID(ctx, in.JournalID)
	if err != nil {
		return 0, fmt.Errorf("ledger: load journal %d: %w", in.JournalID, err)
	}
	switch {
	case original.ReversalOf != 0 || original.OriginType == OriginReversal:
		return 0, &shared.JournalNotReversibleError{JournalID: original.ID, Reason: "it is itself a reversal"}
	case original.OriginType != OriginManual:
		return 0, &shared.JournalNotReversibleError{JournalID: original.ID,
			Reason: fmt.Sprintf("%s journals are compensated through their document", original.OriginType)}
	}
	existing, err := store.ReversalOf(ctx, original.ID)
	if err != nil {
		return 0, fmt.Errorf("ledger: find reversal of %d: %w", original.ID, err)
	}
	if existing != 0 {
		return 0, &shared.JournalNotReversibleError{JournalID: original.ID, ReversalID: existing}
	}

	description := in.Description
	if description == "" {
		description = "Reversal of " + original.Reference
	}
	reversal := JournalEntry{
		Date:        in.Date,
		Description: description,
		OriginType:  OriginReversal,
		OriginID:    original.ID,
		ReversalOf:  original.ID,
		CreatedBy:   in.CreatedBy,
		Lines:       make([]Line, 0, len(original.Lines)),
	}
	for i, l := range original.Lines {
		reversal.Lines = append(reversal.Lines, Line{
			LineNo:    i + 1,
			AccountID: l.AccountID,
			Debit:     l.Credit,
			Credit:    l.Debit,
			Memo:      "reversal: " + l.Memo,
		})
	}
	if err := e.insert(ctx, store, &reversal); err != nil {
		return 0, err
	}
	return reversal.ID, nil
}

func (e *Engine) insert(ctx context.Context, store Store, entry *JournalEntry) error {
	if err := ValidateLines(entry.Lines, e.tolerance); err != nil {
		return err
	}
	if entry.Reference == "" {
		entry.Reference = "JE-" + uuid.NewString()
	}
	if entry.Date.IsZero() {
		entry.Date = shared.BusinessDay(e.now(), e.loc)
	}
	if err := store.InsertJournal(ctx, entry); err != nil {
		return fmt.Errorf("ledger: insert journal: %w", err)
	}
	e.metrics.JournalPosted()
	e.logger.DebugContext(ctx, "journal posted",
		slog.Int64("journal_id", entry.ID),
		slog.String("origin_type", entry.OriginType),
		slog.Int64("origin_id", entry.OriginID))
	return nil
}

// ValidateLines enforces the structural invariants of a journal entry.
func ValidateLines(lines []Line, tolerance decimal.Decimal) error {
	if len(lines) < 2 {
		return shared.Invalid("lines", "a journal needs at least two non-zero lines")
	}
	var debit, credit decimal.Decimal
	for idx, l := range lines {
		if l.AccountID == 0 {
			return shared.Invalid("lines", fmt.Sprintf("line %d missing account", idx+1))
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return shared.Invalid("lines", fmt.Sprintf("line %d has a negative amount", idx+1))
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return shared.Invalid("lines", fmt.Sprintf("line %d must be either debit or credit", idx+1))
		}
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	if debit.Sub(credit).Abs().GreaterThanOrEqual(tolerance) {
		return &shared.UnbalancedJournalError{Debit: debit, Credit: credit}
	}
	return nil
}

func (e *Engine) fatal(ctx context.Context, stage string, err error, in PostInput) {
	if !shared.IsFatal(err) {
		return
	}
	e.logger.ErrorContext(ctx, "ledger posting failed",
		slog.Bool("fatal", true),
		slog.String("stage", stage),
		slog.String("origin_type", in.OriginType),
		slog.Int64("origin_id", in.OriginID),
		slog.Int64("branch_id", in.BranchID),
		slog.Int("lines", len(in.Lines)),
		slog.Any("error", err))
}
