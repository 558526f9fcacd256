package eod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/notify"
	"github.com/flourmill-erp/flourmill/internal/observability"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/platform/db"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// summaryUniqueConstraint backs the one-summary-per-branch-day rule.
const summaryUniqueConstraint = "eod_summaries_branch_date_key"

// TxRepository is the transactional persistence of a run or reopen.
type TxRepository interface {
	ledger.Store

	// LockBranch takes the branch row exclusively so no POS sale for the
	// branch commits while the day is being reconciled.
	LockBranch(ctx context.Context, branchID int64) error
	// SummaryForDay returns shared.ErrNotFound when the day is open.
	SummaryForDay(ctx context.Context, branchID int64, day time.Time) (Summary, error)
	// POSOrdersForDay returns the branch's completed POS sales with lines.
	POSOrdersForDay(ctx context.Context, branchID int64, day time.Time) ([]orders.Order, error)
	InsertSummary(ctx context.Context, s *Summary) error
	LockSummary(ctx context.Context, id int64) (Summary, error)
	// LaterSummary returns the newest summary after day, or shared.ErrNotFound.
	LaterSummary(ctx context.Context, branchID int64, day time.Time) (Summary, error)
	DeleteSummary(ctx context.Context, id int64) error
	InsertAuditLog(ctx context.Context, log shared.AuditLog) error
}

// RepositoryPort is the persistence boundary of Engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSummary(ctx context.Context, id int64) (Summary, error)
	ListSummaries(ctx context.Context, filter ListFilter) ([]Summary, error)
}

// Engine runs and reopens end-of-day reconciliations.
type Engine struct {
	repo     RepositoryPort
	resolver *ledger.AccountResolver
	locker   *shared.Locker
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewEngine constructs Engine. A nil locker skips the cross-process lock and
// relies on the branch row lock and unique index alone.
func NewEngine(repo RepositoryPort, resolver *ledger.AccountResolver, locker *shared.Locker, notifier notify.Notifier,
	metrics *observability.Metrics, logger *slog.Logger, loc *time.Location) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		repo:     repo,
		resolver: resolver,
		locker:   locker,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Run reconciles the branch-day once. A second run fails with AlreadyRunError
// and leaves the first summary as it was.
func (e *Engine) Run(ctx context.Context, in RunInput) (Summary, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return Summary{}, err
	}
	if in.BranchID <= 0 {
		return Summary{}, shared.Invalid("branch_id", "is required")
	}
	if in.ActualCash.IsNegative() {
		return Summary{}, shared.Invalid("actual_cash", "must not be negative")
	}
	day := shared.BusinessDay(e.now(), e.loc)
	if !in.Date.IsZero() {
		day = shared.DateOf(in.Date)
	}

	var summary Summary
	err = e.locker.WithLock(ctx, shared.EODLockKey(in.BranchID, day), func(ctx context.Context) error {
		return e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.LockBranch(ctx, in.BranchID); err != nil {
				return err
			}
			_, err := tx.SummaryForDay(ctx, in.BranchID, day)
			switch {
			case err == nil:
				return &shared.AlreadyRunError{BranchID: in.BranchID, Date: day}
			case !errors.Is(err, shared.ErrNotFound):
				return fmt.Errorf("check existing summary: %w", err)
			}

			sales, err := tx.POSOrdersForDay(ctx, in.BranchID, day)
			if err != nil {
				return fmt.Errorf("load sales: %w", err)
			}
			if len(sales) == 0 {
				return shared.ErrNoOrders
			}
			summary = Aggregate(sales)
			summary.BranchID = in.BranchID
			summary.BusinessDate = day
			summary.Notes = in.Notes
			summary.RunBy = actor.ID

			if err := e.cashPosition(ctx, tx, &summary, in.ActualCash); err != nil {
				return err
			}
			if err := tx.InsertSummary(ctx, &summary); err != nil {
				if db.IsUniqueViolation(err, summaryUniqueConstraint) {
					return &shared.AlreadyRunError{BranchID: in.BranchID, Date: day}
				}
				return fmt.Errorf("insert summary: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		e.metrics.EODRun(runResult(err))
		e.logger.WarnContext(ctx, "end of day rolled back",
			slog.Int64("branch_id", in.BranchID),
			slog.String("date", day.Format(time.DateOnly)),
			slog.String("actual_cash", in.ActualCash.StringFixed(2)),
			slog.Bool("fatal", shared.IsFatal(err)),
			slog.Any("error", err))
		return Summary{}, err
	}

	e.metrics.EODRun("ok")
	e.logger.InfoContext(ctx, "end of day completed",
		slog.Int64("summary_id", summary.ID),
		slog.Int64("branch_id", summary.BranchID),
		slog.String("date", day.Format(time.DateOnly)),
		slog.String("variance", summary.Variance.StringFixed(2)))
	e.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventEODCompleted,
		EntityType: "eod_summary",
		EntityID:   summary.ID,
		BranchID:   summary.BranchID,
		Amount:     summary.NetSales.StringFixed(2),
		ActorID:    actor.ID,
		Meta: map[string]string{
			"date":     day.Format(time.DateOnly),
			"variance": summary.Variance.StringFixed(2),
		},
	})
	return summary, nil
}

// cashPosition fills the cash figures from the branch cash account:
// opening is everything before the day, in and out are the day's debits and
// credits.
func (e *Engine) cashPosition(ctx context.Context, tx TxRepository, s *Summary, actual decimal.Decimal) error {
	account, err := e.resolver.Resolve(ctx, tx, orders.MethodAccount(orders.MethodCash), s.BranchID)
	if err != nil {
		return err
	}
	day := s.BusinessDate
	next := day.AddDate(0, 0, 1)
	before, err := tx.AccountTotals(ctx, account.ID, nil, &day)
	if err != nil {
		return fmt.Errorf("opening cash: %w", err)
	}
	during, err := tx.AccountTotals(ctx, account.ID, &day, &next)
	if err != nil {
		return fmt.Errorf("cash movements: %w", err)
	}
	s.OpeningCash = before.Net()
	s.CashIn = during.Debit
	s.CashOut = during.Credit
	s.ExpectedCash = s.OpeningCash.Add(s.CashIn).Sub(s.CashOut)
	s.ActualCash = actual.Round(2)
	s.Variance = s.ActualCash.Sub(s.ExpectedCash)
	return nil
}

// Aggregate totals a day's sales. Top products are ranked by revenue, ties
// broken by variant id.
func Aggregate(sales []orders.Order) Summary {
	s := Summary{
		OrderCount:       len(sales),
		PaymentBreakdown: map[string]decimal.Decimal{},
	}
	products := map[int64]*ProductSales{}
	for _, o := range sales {
		s.GrossSales = s.GrossSales.Add(o.Gross())
		s.DiscountTotal = s.DiscountTotal.Add(o.TotalDiscount())
		s.NetSales = s.NetSales.Add(o.Total)
		method := string(o.PaymentMethod)
		s.PaymentBreakdown[method] = s.PaymentBreakdown[method].Add(o.Total)
		for _, l := range o.Lines {
			s.ItemsSold = s.ItemsSold.Add(l.Quantity)
			p, ok := products[l.VariantID]
			if !ok {
				p = &ProductSales{VariantID: l.VariantID}
				products[l.VariantID] = p
			}
			p.Quantity = p.Quantity.Add(l.Quantity)
			p.Revenue = p.Revenue.Add(l.LineTotal)
		}
	}
	for _, p := range products {
		s.TopProducts = append(s.TopProducts, *p)
	}
	sort.Slice(s.TopProducts, func(i, j int) bool {
		a, b := s.TopProducts[i], s.TopProducts[j]
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		return a.VariantID < b.VariantID
	})
	if len(s.TopProducts) > TopProductLimit {
		s.TopProducts = s.TopProducts[:TopProductLimit]
	}
	return s
}

// Reopen deletes a summary so the day can be reconciled again. Only a
// superadmin may do it, with a reason, and only for the branch's latest
// reconciled day.
func (e *Engine) Reopen(ctx context.Context, in ReopenInput) error {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return err
	}
	if !actor.IsSuperadmin() {
		return &shared.ForbiddenError{Action: "reopen end of day", Role: actor.Role}
	}
	if in.SummaryID <= 0 {
		return shared.Invalid("summary_id", "is required")
	}
	if in.Reason == "" {
		return shared.Invalid("reason", "is required")
	}

	var reopened Summary
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		s, err := tx.LockSummary(ctx, in.SummaryID)
		if err != nil {
			return fmt.Errorf("load summary %d: %w", in.SummaryID, err)
		}
		later, err := tx.LaterSummary(ctx, s.BranchID, s.BusinessDate)
		switch {
		case err == nil:
			return &shared.OutOfOrderReopenError{BranchID: s.BranchID, Date: s.BusinessDate, Later: later.BusinessDate}
		case !errors.Is(err, shared.ErrNotFound):
			return fmt.Errorf("check later summaries: %w", err)
		}
		if err := tx.DeleteSummary(ctx, s.ID); err != nil {
			return fmt.Errorf("delete summary: %w", err)
		}
		reopened = s
		return tx.InsertAuditLog(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "eod.reopen",
			Entity:   "eod_summary",
			EntityID: strconv.FormatInt(s.ID, 10),
			Meta: map[string]any{
				"reason":        in.Reason,
				"branch_id":     s.BranchID,
				"business_date": s.BusinessDate.Format(time.DateOnly),
				"net_sales":     s.NetSales.StringFixed(2),
				"variance":      s.Variance.StringFixed(2),
			},
			At: e.now(),
		})
	})
	if err != nil {
		e.logger.WarnContext(ctx, "end of day reopen rolled back",
			slog.Int64("summary_id", in.SummaryID),
			slog.Int64("actor_id", actor.ID),
			slog.Any("error", err))
		return err
	}

	e.metrics.EODRun("reopened")
	e.logger.InfoContext(ctx, "end of day reopened",
		slog.Int64("summary_id", reopened.ID),
		slog.Int64("branch_id", reopened.BranchID),
		slog.String("date", reopened.BusinessDate.Format(time.DateOnly)),
		slog.Int64("actor_id", actor.ID))
	e.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventEODReopened,
		EntityType: "eod_summary",
		EntityID:   reopened.ID,
		BranchID:   reopened.BranchID,
		ActorID:    actor.ID,
		Meta: map[string]string{
			"date":   reopened.BusinessDate.Format(time.DateOnly),
			"reason": in.Reason,
		},
	})
	return nil
}

// Get returns one summary.
func (e *Engine) Get(ctx context.Context, id int64) (Summary, error) {
	return e.repo.GetSummary(ctx, id)
}

// List returns summaries newest first.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]Summary, error) {
	if filter.Limit <= 0 || filter.Limit > 366 {
		filter.Limit = 31
	}
	return e.repo.ListSummaries(ctx, filter)
}

func runResult(err error) string {
	var already *shared.AlreadyRunError
	switch {
	case errors.As(err, &already):
		return "already_run"
	case errors.Is(err, shared.ErrNoOrders):
		return "no_orders"
	case errors.Is(err, shared.ErrLockBusy):
		return "busy"
	}
	return "error"
}
