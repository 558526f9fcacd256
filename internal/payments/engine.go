package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/notify"
	"github.com/flourmill-erp/flourmill/internal/observability"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/sequence"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// IdempotencyModule namespaces payment keys in idempotency_keys.
const IdempotencyModule = "payments"

// TxRepository is the transactional persistence of one allocation.
type TxRepository interface {
	sequence.Store
	ledger.Store
	credit.Store

	ClaimIdempotencyKey(ctx context.Context, module, key string) error
	LockOrder(ctx context.Context, id int64) (orders.Order, error)
	OpenOrdersForParty(ctx context.Context, kinds []orders.Kind, partyID int64) ([]orders.Order, error)
	UpdateOrder(ctx context.Context, order orders.Order) error
	InsertPayment(ctx context.Context, p *Payment) error
	SetPaymentJournal(ctx context.Context, paymentID, journalID int64) error
	InsertAllocation(ctx context.Context, paymentID int64, a Allocation) error
}

// RepositoryPort is the persistence boundary of Engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPayment(ctx context.Context, id int64) (Payment, error)
}

// Engine allocates payments across open orders.
type Engine struct {
	repo     RepositoryPort
	ledger   *ledger.Engine
	numbers  sequence.Generator
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewEngine constructs Engine.
func NewEngine(repo RepositoryPort, ledgerEngine *ledger.Engine, numbers sequence.Generator, notifier notify.Notifier,
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
		ledger:   ledgerEngine,
		numbers:  numbers,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

func validateInput(in AllocateInput) error {
	if !in.PartyKind.Valid() {
		return shared.Invalid("party_kind", fmt.Sprintf("unknown party kind %q", in.PartyKind))
	}
	if in.PartyID <= 0 {
		return shared.Invalid("party_id", "is required")
	}
	if in.BranchID < 0 {
		return shared.Invalid("branch_id", "must not be negative")
	}
	if !in.Amount.IsPositive() {
		return shared.Invalid("amount", "must be positive")
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return shared.Invalid("amount", "must not carry fractions of a cent")
	}
	switch in.Method {
	case orders.MethodCash, orders.MethodBank, orders.MethodCard, orders.MethodMobile:
	case "":
		return shared.Invalid("method", "is required")
	default:
		return shared.Invalid("method", fmt.Sprintf("unsupported payment method %q", in.Method))
	}
	seen := make(map[int64]bool, len(in.Targets))
	for i, t := range in.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		if t.OrderID <= 0 {
			return shared.Invalid(field+".order_id", "is required")
		}
		if seen[t.OrderID] {
			return shared.Invalid(field+".order_id", "appears twice")
		}
		seen[t.OrderID] = true
		if t.Amount.IsNegative() {
			return shared.Invalid(field+".amount", "must not be negative")
		}
	}
	return nil
}

func orderKinds(kind credit.PartyKind) []orders.Kind {
	if kind == credit.PartySupplier {
		return []orders.Kind{orders.KindPurchase}
	}
	return []orders.Kind{orders.KindCredit, orders.KindPOS}
}

// Allocate records the payment, applies it to orders, posts exactly one
// journal entry and lowers the counterparty balance by the full amount.
func (e *Engine) Allocate(ctx context.Context, in AllocateInput) (AllocationResult, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return AllocationResult{}, err
	}
	if err := validateInput(in); err != nil {
		return AllocationResult{}, err
	}
	day := shared.BusinessDay(e.now(), e.loc)
	if !in.Date.IsZero() {
		day = shared.DateOf(in.Date)
	}

	var result AllocationResult
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, IdempotencyModule, in.IdempotencyKey); err != nil {
				return err
			}
		}
		if _, err := tx.LockParty(ctx, in.PartyKind, in.PartyID); err != nil {
			return fmt.Errorf("load %s %d: %w", in.PartyKind, in.PartyID, err)
		}

		plan, err := e.plan(ctx, tx, in)
		if err != nil {
			return err
		}

		voucher, err := e.numbers.VoucherNumber(ctx, tx, e.now())
		if err != nil {
			return err
		}
		payment := Payment{
			VoucherNumber:  voucher,
			PartyKind:      in.PartyKind,
			PartyID:        in.PartyID,
			BranchID:       in.BranchID,
			Amount:         in.Amount,
			Method:         in.Method,
			Date:           day,
			Allocated:      plan.allocated,
			Unallocated:    in.Amount.Sub(plan.allocated),
			AdvanceAmount:  in.Amount.Sub(plan.settled),
			Posted:         true,
			Reference:      in.Reference,
			IdempotencyKey: in.IdempotencyKey,
			CreatedBy:      actor.ID,
		}
		if err := tx.InsertPayment(ctx, &payment); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		journalID, err := e.ledger.Post(ctx, tx, ledger.PostInput{
			Reference:   voucher,
			Date:        day,
			Description: fmt.Sprintf("Payment %s %s %d", voucher, in.PartyKind, in.PartyID),
			OriginType:  ledger.OriginPayment,
			OriginID:    payment.ID,
			BranchID:    in.BranchID,
			CreatedBy:   actor.ID,
			Lines:       postingLines(in, plan.settled, payment.AdvanceAmount),
		})
		if err != nil {
			return err
		}
		if err := tx.SetPaymentJournal(ctx, payment.ID, journalID); err != nil {
			return fmt.Errorf("link journal: %w", err)
		}

		for _, o := range plan.touched {
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return fmt.Errorf("update order %s: %w", o.Number, err)
			}
		}
		for _, a := range plan.allocations {
			if err := tx.InsertAllocation(ctx, payment.ID, a); err != nil {
				return fmt.Errorf("insert allocation: %w", err)
			}
		}
		if err := tx.AdjustPartyBalance(ctx, in.PartyKind, in.PartyID, in.Amount.Neg()); err != nil {
			return fmt.Errorf("lower %s balance: %w", in.PartyKind, err)
		}

		result = AllocationResult{
			PaymentID:     payment.ID,
			VoucherNumber: voucher,
			JournalID:     journalID,
			Amount:        in.Amount,
			Allocated:     payment.Allocated,
			Unallocated:   payment.Unallocated,
			AdvanceAmount: payment.AdvanceAmount,
			Advance:       payment.AdvanceAmount.IsPositive(),
			Allocations:   plan.allocations,
		}
		return nil
	})
	if err != nil {
		e.metrics.Rollback("allocate_payment")
		level := slog.LevelError
		if !shared.IsFatal(err) && isRejection(err) {
			level = slog.LevelWarn
		}
		e.logger.LogAttrs(ctx, level, "payment rolled back",
			slog.String("party_kind", string(in.PartyKind)),
			slog.Int64("party_id", in.PartyID),
			slog.String("amount", in.Amount.StringFixed(2)),
			slog.String("method", string(in.Method)),
			slog.Int("targets", len(in.Targets)),
			slog.Any("error", err))
		return AllocationResult{}, err
	}

	e.metrics.PaymentAllocated(string(in.PartyKind), result.Advance)
	eventType := notify.EventPaymentSettled
	if result.Advance {
		eventType = notify.EventPaymentAdvance
	}
	e.notifier.Notify(ctx, notify.Event{
		Type:       eventType,
		EntityType: "payment",
		EntityID:   result.PaymentID,
		Number:     result.VoucherNumber,
		PartyID:    in.PartyID,
		Amount:     result.Amount.StringFixed(2),
		ActorID:    actor.ID,
		Meta: map[string]string{
			"party_kind":     string(in.PartyKind),
			"advance_amount": result.AdvanceAmount.StringFixed(2),
			"unallocated":    result.Unallocated.StringFixed(2),
		},
	})
	return result, nil
}

// Get returns a posted payment with its allocations.
func (e *Engine) Get(ctx context.Context, id int64) (Payment, error) {
	return e.repo.GetPayment(ctx, id)
}

type allocationPlan struct {
	allocations []Allocation
	touched     []orders.Order
	allocated   decimal.Decimal
	// settled is the part applied against value already recognised as due.
	settled decimal.Decimal
}

func (p *allocationPlan) apply(o orders.Order, amount decimal.Decimal) {
	p.settled = p.settled.Add(decimal.Min(amount, o.DueNow()))
	p.allocated = p.allocated.Add(amount)
	o.ApplyPayment(amount)
	p.touched = append(p.touched, o)
	p.allocations = append(p.allocations, Allocation{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Amount:      amount,
		BalanceDue:  o.BalanceDue,
	})
}

// plan decides how much each order receives. Explicit targets go in the given
// order, clamped to balance due and to their cap. Without targets the money
// settles due value oldest first and the rest stays unallocated.
func (e *Engine) plan(ctx context.Context, tx TxRepository, in AllocateInput) (allocationPlan, error) {
	var p allocationPlan
	remaining := in.Amount
	kinds := orderKinds(in.PartyKind)

	if len(in.Targets) > 0 {
		for i, t := range in.Targets {
			if !remaining.IsPositive() {
				break
			}
			o, err := tx.LockOrder(ctx, t.OrderID)
			if err != nil {
				return p, fmt.Errorf("load order %d: %w", t.OrderID, err)
			}
			field := fmt.Sprintf("targets[%d].order_id", i)
			if o.PartyID != in.PartyID || !kindIn(o.Kind, kinds) {
				return p, shared.Invalid(field, fmt.Sprintf("order %s does not belong to %s %d", o.Number, in.PartyKind, in.PartyID))
			}
			switch o.Status {
			case orders.StatusDraft, orders.StatusCancelled, orders.StatusRejected:
				return p, shared.Invalid(field, fmt.Sprintf("order %s is %s", o.Number, o.Status))
			}
			amount := decimal.Min(remaining, o.BalanceDue)
			if t.Amount.IsPositive() {
				amount = decimal.Min(amount, t.Amount)
			}
			if !amount.IsPositive() {
				continue
			}
			p.apply(o, amount)
			remaining = remaining.Sub(amount)
		}
		return p, nil
	}

	open, err := tx.OpenOrdersForParty(ctx, kinds, in.PartyID)
	if err != nil {
		return p, fmt.Errorf("load open orders: %w", err)
	}
	for _, o := range open {
		if !remaining.IsPositive() {
			break
		}
		amount := decimal.Min(remaining, o.DueNow())
		if !amount.IsPositive() {
			continue
		}
		p.apply(o, amount)
		remaining = remaining.Sub(amount)
	}
	return p, nil
}

// postingLines books the cash side against the settled receivable or payable
// and the advances account for the rest.
func postingLines(in AllocateInput, settled, advance decimal.Decimal) []ledger.PostingLine {
	cash := orders.MethodAccount(in.Method)
	if in.PartyKind == credit.PartySupplier {
		return []ledger.PostingLine{
			ledger.Debit(orders.PayableAccount, settled, "settlement"),
			ledger.Debit(orders.SupplierAdvanceAccount, advance, "advance"),
			ledger.Credit(cash, in.Amount, string(in.Method)),
		}
	}
	return []ledger.PostingLine{
		ledger.Debit(cash, in.Amount, string(in.Method)),
		ledger.Credit(orders.ReceivableAccount, settled, "settlement"),
		ledger.Credit(orders.CustomerAdvanceAccount, advance, "advance"),
	}
}

func kindIn(k orders.Kind, kinds []orders.Kind) bool {
	for _, candidate := range kinds {
		if k == candidate {
			return true
		}
	}
	return false
}

func isRejection(err error) bool {
	var validation *shared.ValidationError
	return errors.As(err, &validation) || errors.Is(err, shared.ErrIdempotencyConflict) || errors.Is(err, shared.ErrNotFound)
}
