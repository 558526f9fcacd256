package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/inventory"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/notify"
	"github.com/flourmill-erp/flourmill/internal/observability"
	"github.com/flourmill-erp/flourmill/internal/sequence"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// TxRepository is everything one order unit of work touches, bound to a
// single transaction.
type TxRepository interface {
	sequence.Store
	ledger.Store
	inventory.Store
	credit.Store

	InsertOrder(ctx context.Context, order *Order) error
	// LockOrder loads the order and its lines under a row lock.
	LockOrder(ctx context.Context, id int64) (Order, error)
	UpdateOrder(ctx context.Context, order Order) error
	InsertHistory(ctx context.Context, entry HistoryEntry) error
	InsertGoodsReceipt(ctx context.Context, receipt *GoodsReceipt) error
	// DayReconciled reports whether an end-of-day summary exists for the branch-day.
	DayReconciled(ctx context.Context, branchID int64, day time.Time) (bool, error)

	// UnappliedAdvances locks the party's payments that still hold an
	// unallocated amount, oldest first.
	UnappliedAdvances(ctx context.Context, kind credit.PartyKind, partyID int64) ([]Advance, error)
	// ApplyAdvance moves amount of a payment's unallocated balance onto an order.
	ApplyAdvance(ctx context.Context, paymentID, orderID int64, amount decimal.Decimal) error
	// ReleaseAdvances hands every payment share applied to the order back to
	// its payment and returns the total released.
	ReleaseAdvances(ctx context.Context, orderID int64) (decimal.Decimal, error)
}

// RepositoryPort is the persistence boundary of the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error)
}

// Dependencies wires the collaborators of Service.
type Dependencies struct {
	Repo      RepositoryPort
	Ledger    *ledger.Engine
	Inventory *inventory.Manager
	Credit    *credit.Evaluator
	Numbers   sequence.Generator
	Notifier  notify.Notifier
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	Location  *time.Location
}

// Service runs the order lifecycle for every order kind.
type Service struct {
	repo      RepositoryPort
	ledger    *ledger.Engine
	inventory *inventory.Manager
	credit    *credit.Evaluator
	numbers   sequence.Generator
	notifier  notify.Notifier
	metrics   *observability.Metrics
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewService constructs Service.
func NewService(deps Dependencies) *Service {
	s := &Service{
		repo:      deps.Repo,
		ledger:    deps.Ledger,
		inventory: deps.Inventory,
		credit:    deps.Credit,
		numbers:   deps.Numbers,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		loc:       deps.Location,
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}
	if s.inventory == nil {
		s.inventory = inventory.NewManager()
	}
	if s.credit == nil {
		s.credit = credit.NewEvaluator(credit.DefaultPolicy())
	}
	return s
}

// Create validates, numbers and persists a new order together with its
// kind-specific side effects in one transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (Created, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return Created{}, err
	}
	if err := ValidateCreateInput(&in); err != nil {
		return Created{}, err
	}

	now := s.now()
	lines := BuildLines(in.Lines)
	subtotal, discount, total := Totals(lines, in.Discount, in.DiscountPercent)
	base := Order{
		Kind:          in.Kind,
		PartyID:       in.PartyID,
		BranchID:      in.BranchID,
		Status:        InitialStatus(in.Kind),
		PaymentType:   in.PaymentType,
		PaymentMethod: in.PaymentMethod,
		Subtotal:      subtotal,
		Discount:      discount,
		Total:         total,
		Paid:          decimal.Zero,
		BalanceDue:    total,
		Recognized:    decimal.Zero,
		Notes:         in.Notes,
		OrderDate:     shared.BusinessDay(now, s.loc),
		CreatedBy:     actor.ID,
		Lines:         lines,
	}

	var (
		order    Order
		decision *credit.Decision
	)
	// The transaction may be retried, so every attempt starts from base.
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order = base
		order.Lines = append([]Line(nil), base.Lines...)
		decision = nil

		var err error
		order.Number, err = s.issueNumber(ctx, tx, order, now)
		if err != nil {
			return err
		}
		switch order.Kind {
		case KindCredit:
			d, err := s.openCreditOrder(ctx, tx, &order, in.Draft)
			if err != nil {
				return err
			}
			decision = d
		case KindPurchase:
			if _, err := tx.LockParty(ctx, credit.PartySupplier, order.PartyID); err != nil {
				return fmt.Errorf("load supplier %d: %w", order.PartyID, err)
			}
		case KindPOS:
			d, err := s.openPOSSale(ctx, tx, order)
			if err != nil {
				return err
			}
			decision = d
		}

		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if order.Kind == KindPOS {
			if err := s.completePOSSale(ctx, tx, &order, actor); err != nil {
				return err
			}
		}
		return tx.InsertHistory(ctx, HistoryEntry{
			OrderID:  order.ID,
			To:       order.Status,
			Action:   ActionCreate,
			ActorID:  actor.ID,
			Comments: order.Notes,
			At:       now,
		})
	})
	if err != nil {
		s.rolledBack(ctx, "create_order", err,
			slog.String("kind", string(in.Kind)),
			slog.Int64("branch_id", in.BranchID),
			slog.Int64("party_id", in.PartyID),
			slog.String("total", total.StringFixed(2)),
			slog.Int("lines", len(in.Lines)))
		return Created{}, err
	}

	s.metrics.OrderCreated(string(order.Kind))
	s.logger.InfoContext(ctx, "order created",
		slog.Int64("order_id", order.ID),
		slog.String("number", order.Number),
		slog.String("kind", string(order.Kind)),
		slog.String("status", string(order.Status)))
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventOrderCreated,
		EntityType: "order",
		EntityID:   order.ID,
		Number:     order.Number,
		BranchID:   order.BranchID,
		PartyID:    order.PartyID,
		Amount:     order.Total.StringFixed(2),
		Status:     string(order.Status),
		ActorID:    actor.ID,
		Meta:       map[string]string{"kind": string(order.Kind)},
	})
	return Created{OrderID: order.ID, OrderNumber: order.Number, Status: order.Status, Decision: decision}, nil
}

func (s *Service) issueNumber(ctx context.Context, tx TxRepository, o Order, now time.Time) (string, error) {
	if o.Kind == KindPurchase {
		return s.numbers.PurchaseOrderNumber(ctx, tx, now)
	}
	return s.numbers.OrderNumber(ctx, tx, o.BranchID, now)
}

// openCreditOrder sets the entry status of a credit order. Drafts only check
// that the customer exists; anything else is evaluated now.
func (s *Service) openCreditOrder(ctx context.Context, tx TxRepository, o *Order, draft bool) (*credit.Decision, error) {
	if draft {
		if _, err := tx.LockParty(ctx, credit.PartyCustomer, o.PartyID); err != nil {
			return nil, fmt.Errorf("load customer %d: %w", o.PartyID, err)
		}
		o.Status = StatusDraft
		return nil, nil
	}
	d, err := s.credit.Evaluate(ctx, tx, o.PartyID, o.Total, o.PaymentType)
	if err != nil {
		return nil, err
	}
	o.Status = Status(d.Tier)
	return &d, nil
}

func (s *Service) openPOSSale(ctx context.Context, tx TxRepository, o Order) (*credit.Decision, error) {
	closed, err := tx.DayReconciled(ctx, o.BranchID, o.OrderDate)
	if err != nil {
		return nil, fmt.Errorf("check day close: %w", err)
	}
	if closed {
		return nil, &shared.DayClosedError{BranchID: o.BranchID, Date: o.OrderDate}
	}
	if o.PaymentMethod != MethodOnAccount {
		return nil, nil
	}
	d, err := s.credit.Evaluate(ctx, tx, o.PartyID, o.Total, credit.PaymentUnpaid)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// completePOSSale deducts stock and books the sale. Tendered sales are paid in
// full; on-account sales raise the customer balance instead and draw on any
// advance the customer holds.
func (s *Service) completePOSSale(ctx context.Context, tx TxRepository, o *Order, actor shared.Actor) error {
	if err := s.inventory.ReserveAll(ctx, tx, stockRequests(*o, "pos_sale")); err != nil {
		return err
	}
	o.StockDeducted = true
	o.Recognized = o.Total

	drawn := decimal.Zero
	if o.PaymentMethod == MethodOnAccount {
		var err error
		if drawn, err = s.drawAdvances(ctx, tx, credit.PartyCustomer, o); err != nil {
			return err
		}
	}

	gross := o.Gross()
	journalID, err := s.ledger.Post(ctx, tx, ledger.PostInput{
		Reference:   o.Number,
		Date:        o.OrderDate,
		Description: "POS sale " + o.Number,
		OriginType:  ledger.OriginPOSSale,
		OriginID:    o.ID,
		BranchID:    o.BranchID,
		CreatedBy:   actor.ID,
		Lines: []ledger.PostingLine{
			ledger.Debit(MethodAccount(o.PaymentMethod), o.Total, string(o.PaymentMethod)),
			ledger.Debit(DiscountAccount, gross.Sub(o.Total), "discounts"),
			ledger.Credit(RevenueAccount, gross, "sales"),
			ledger.Debit(CustomerAdvanceAccount, drawn, "advance applied"),
			ledger.Credit(ReceivableAccount, drawn, "advance applied"),
		},
	})
	if err != nil {
		return err
	}
	o.JournalID = journalID

	if o.PaymentMethod == MethodOnAccount {
		if err := tx.AdjustPartyBalance(ctx, credit.PartyCustomer, o.PartyID, o.Total); err != nil {
			return fmt.Errorf("raise customer balance: %w", err)
		}
	} else {
		o.ApplyPayment(o.Total)
	}
	return tx.UpdateOrder(ctx, *o)
}

// Transition applies action to the order on behalf of the context actor.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (State, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return State{}, err
	}
	if in.OrderID <= 0 {
		return State{}, shared.Invalid("order_id", "is required")
	}
	if in.Action == "" {
		return State{}, shared.Invalid("action", "is required")
	}
	if in.Action == ActionReceive {
		return State{}, shared.Invalid("action", "goods are received through a goods receipt")
	}

	var state State
	var order Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return fmt.Errorf("load order %d: %w", in.OrderID, err)
		}
		tr, err := lookup(o, in.Action)
		if err != nil {
			return err
		}
		if err := tr.guard(actor, o); err != nil {
			return err
		}
		from := o.Status
		if err := s.applySideEffect(ctx, tx, &o, in.Action, actor); err != nil {
			return err
		}
		if tr.to != "" {
			o.Status = tr.to
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if err := tx.InsertHistory(ctx, HistoryEntry{
			OrderID:  o.ID,
			From:     from,
			To:       o.Status,
			Action:   in.Action,
			ActorID:  actor.ID,
			Comments: in.Comments,
			At:       s.now(),
		}); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		order = o
		state = State{
			OrderID:  o.ID,
			Number:   o.Number,
			Kind:     o.Kind,
			From:     from,
			Status:   o.Status,
			Action:   in.Action,
			Comments: in.Comments,
		}
		return nil
	})
	if err != nil {
		s.rolledBack(ctx, "transition_order", err,
			slog.Int64("order_id", in.OrderID),
			slog.String("action", string(in.Action)),
			slog.Int64("actor_id", actor.ID))
		return State{}, err
	}

	s.metrics.OrderTransitioned(string(state.Kind), string(state.Action))
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventOrderTransitioned,
		EntityType: "order",
		EntityID:   order.ID,
		Number:     order.Number,
		BranchID:   order.BranchID,
		PartyID:    order.PartyID,
		Amount:     order.Total.StringFixed(2),
		Status:     string(state.Status),
		ActorID:    actor.ID,
		Meta:       map[string]string{"from": string(state.From), "action": string(state.Action)},
	})
	return state, nil
}

func (s *Service) applySideEffect(ctx context.Context, tx TxRepository, o *Order, action Action, actor shared.Actor) error {
	if o.Kind != KindCredit {
		return nil
	}
	switch action {
	case ActionSubmit:
		d, err := s.credit.Evaluate(ctx, tx, o.PartyID, o.Total, o.PaymentType)
		if err != nil {
			return err
		}
		o.Status = Status(d.Tier)
	case ActionApprove:
		return s.recognizeCreditOrder(ctx, tx, o, actor)
	case ActionShip:
		if o.StockDeducted {
			return nil
		}
		if err := s.inventory.ReserveAll(ctx, tx, stockRequests(*o, "credit_order")); err != nil {
			return err
		}
		o.StockDeducted = true
	case ActionReject, ActionCancel:
		return s.unwindCreditOrder(ctx, tx, o, action, actor)
	}
	return nil
}

// recognizeCreditOrder books the receivable on approval. Money already
// received against the order, and then the customer's unallocated advances,
// are moved from customer advances onto the receivable.
func (s *Service) recognizeCreditOrder(ctx context.Context, tx TxRepository, o *Order, actor shared.Actor) error {
	gross := o.Gross()
	advance := clamp(o.Paid.Sub(o.Recognized), o.Total)
	o.Recognized = o.Total
	drawn, err := s.drawAdvances(ctx, tx, credit.PartyCustomer, o)
	if err != nil {
		return err
	}
	applied := advance.Add(drawn)
	journalID, err := s.ledger.Post(ctx, tx, ledger.PostInput{
		Reference:   o.Number,
		Date:        shared.BusinessDay(s.now(), s.loc),
		Description: "Credit order approved " + o.Number,
		OriginType:  ledger.OriginCreditOrder,
		OriginID:    o.ID,
		BranchID:    o.BranchID,
		CreatedBy:   actor.ID,
		Lines: []ledger.PostingLine{
			ledger.Debit(ReceivableAccount, o.Total, o.Number),
			ledger.Debit(DiscountAccount, gross.Sub(o.Total), "discounts"),
			ledger.Credit(RevenueAccount, gross, "sales"),
			ledger.Debit(CustomerAdvanceAccount, applied, "advance applied"),
			ledger.Credit(ReceivableAccount, applied, "advance applied"),
		},
	})
	if err != nil {
		return err
	}
	if err := tx.AdjustPartyBalance(ctx, credit.PartyCustomer, o.PartyID, o.Total); err != nil {
		return fmt.Errorf("raise customer balance: %w", err)
	}
	o.JournalID = journalID
	return nil
}

// drawAdvances settles what the order owes now from the party's unallocated
// payments, oldest first. The party balance already reflects those payments.
func (s *Service) drawAdvances(ctx context.Context, tx TxRepository, kind credit.PartyKind, o *Order) (decimal.Decimal, error) {
	due := o.DueNow()
	if !due.IsPositive() {
		return decimal.Zero, nil
	}
	if _, err := tx.LockParty(ctx, kind, o.PartyID); err != nil {
		return decimal.Zero, fmt.Errorf("load %s %d: %w", kind, o.PartyID, err)
	}
	advances, err := tx.UnappliedAdvances(ctx, kind, o.PartyID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load advances: %w", err)
	}
	drawn := decimal.Zero
	for _, adv := range advances {
		take := decimal.Min(adv.Remaining, due.Sub(drawn))
		if !take.IsPositive() {
			break
		}
		if err := tx.ApplyAdvance(ctx, adv.PaymentID, o.ID, take); err != nil {
			return decimal.Zero, fmt.Errorf("apply advance %s: %w", adv.VoucherNumber, err)
		}
		drawn = drawn.Add(take)
	}
	if drawn.IsPositive() {
		o.ApplyPayment(drawn)
		s.logger.InfoContext(ctx, "advance applied",
			slog.Int64("order_id", o.ID),
			slog.String("party_kind", string(kind)),
			slog.Int64("party_id", o.PartyID),
			slog.String("amount", drawn.StringFixed(2)))
	}
	return drawn, nil
}

// unwindCreditOrder compensates an order that is rejected or cancelled before
// dispatch. Payments applied to it return to customer advances and become
// available to the customer's other orders.
func (s *Service) unwindCreditOrder(ctx context.Context, tx TxRepository, o *Order, action Action, actor shared.Actor) error {
	if o.StockDeducted {
		if err := s.inventory.ReceiveAll(ctx, tx, stockRequests(*o, "credit_order_return")); err != nil {
			return err
		}
		o.StockDeducted = false
	}
	if o.Recognized.IsPositive() {
		if err := s.reverseRecognition(ctx, tx, o, action, actor); err != nil {
			return err
		}
	}
	released, err := tx.ReleaseAdvances(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("release advances: %w", err)
	}
	o.ApplyPayment(released.Neg())
	return nil
}

func (s *Service) reverseRecognition(ctx context.Context, tx TxRepository, o *Order, action Action, actor shared.Actor) error {
	gross := o.Gross()
	settled := decimal.Min(o.Paid, o.Recognized)
	_, err := s.ledger.Post(ctx, tx, ledger.PostInput{
		Reference:   fmt.Sprintf("%s-%s", o.Number, action),
		Date:        shared.BusinessDay(s.now(), s.loc),
		Description: fmt.Sprintf("Credit order %s %s", o.Number, action),
		OriginType:  ledger.OriginReversal,
		OriginID:    o.ID,
		BranchID:    o.BranchID,
		CreatedBy:   actor.ID,
		Lines: []ledger.PostingLine{
			ledger.Debit(RevenueAccount, gross, "sales reversed"),
			ledger.Credit(DiscountAccount, gross.Sub(o.Recognized), "discounts reversed"),
			ledger.Credit(ReceivableAccount, o.DueNow(), o.Number),
			ledger.Credit(CustomerAdvanceAccount, settled, "payments returned to advances"),
		},
	})
	if err != nil {
		return err
	}
	if err := tx.AdjustPartyBalance(ctx, credit.PartyCustomer, o.PartyID, o.Recognized.Neg()); err != nil {
		return fmt.Errorf("lower customer balance: %w", err)
	}
	o.Recognized = decimal.Zero
	return nil
}

// ReceiveGoods records a goods receipt against a purchase order: stock in,
// payable recognised for the received value.
func (s *Service) ReceiveGoods(ctx context.Context, in ReceiveInput) (GoodsReceipt, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if err := ValidateReceiveInput(in); err != nil {
		return GoodsReceipt{}, err
	}

	now := s.now()
	var receipt GoodsReceipt
	var order Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return fmt.Errorf("load order %d: %w", in.OrderID, err)
		}
		if _, err := lookup(o, ActionReceive); err != nil {
			return err
		}

		byID := make(map[int64]int, len(o.Lines))
		for i, l := range o.Lines {
			byID[l.ID] = i
		}
		value := decimal.Zero
		receipt = GoodsReceipt{OrderID: o.ID, BranchID: o.BranchID, ReceivedBy: actor.ID, ReceivedAt: now}
		for i, rl := range in.Lines {
			idx, ok := byID[rl.LineID]
			if !ok {
				return shared.Invalid(fmt.Sprintf("lines[%d].line_id", i), fmt.Sprintf("line %d is not on order %s", rl.LineID, o.Number))
			}
			line := &o.Lines[idx]
			if rl.Quantity.GreaterThan(line.Outstanding()) {
				return shared.Invalid(fmt.Sprintf("lines[%d].quantity", i),
					fmt.Sprintf("receiving %s exceeds outstanding %s", rl.Quantity, line.Outstanding()))
			}
			line.Received = line.Received.Add(rl.Quantity)
			value = value.Add(line.LineTotal.Mul(rl.Quantity).Div(line.Quantity))
			receipt.Lines = append(receipt.Lines, ReceiptLine{OrderLineID: line.ID, VariantID: line.VariantID, Quantity: rl.Quantity})
		}
		value = value.Round(2)
		complete := fullyReceived(o)
		if complete {
			// The last receipt absorbs rounding so the payable equals the order total.
			value = o.Total.Sub(o.Recognized)
		}

		receipt.Number, err = s.numbers.GoodsReceiptNumber(ctx, tx, now)
		if err != nil {
			return err
		}
		reqs := make([]inventory.Request, 0, len(receipt.Lines))
		for _, rl := range receipt.Lines {
			reqs = append(reqs, inventory.Request{
				VariantID: rl.VariantID,
				BranchID:  o.BranchID,
				Quantity:  rl.Quantity,
				RefType:   "goods_receipt",
				RefID:     o.ID,
			})
		}
		if err := s.inventory.ReceiveAll(ctx, tx, reqs); err != nil {
			return err
		}

		advance := clamp(o.Paid.Sub(o.Recognized), value)
		o.Recognized = o.Recognized.Add(value)
		drawn, err := s.drawAdvances(ctx, tx, credit.PartySupplier, &o)
		if err != nil {
			return err
		}
		applied := advance.Add(drawn)
		receipt.Value = value
		receipt.JournalID, err = s.ledger.Post(ctx, tx, ledger.PostInput{
			Reference:   receipt.Number,
			Date:        shared.BusinessDay(now, s.loc),
			Description: fmt.Sprintf("Goods received %s for %s", receipt.Number, o.Number),
			OriginType:  ledger.OriginGoodsReceipt,
			OriginID:    o.ID,
			BranchID:    o.BranchID,
			CreatedBy:   actor.ID,
			Lines: []ledger.PostingLine{
				ledger.Debit(InventoryAccount, value, receipt.Number),
				ledger.Credit(PayableAccount, value, o.Number),
				ledger.Debit(PayableAccount, applied, "advance applied"),
				ledger.Credit(SupplierAdvanceAccount, applied, "advance applied"),
			},
		})
		if err != nil {
			return err
		}
		if err := tx.AdjustPartyBalance(ctx, credit.PartySupplier, o.PartyID, value); err != nil {
			return fmt.Errorf("raise supplier balance: %w", err)
		}

		from := o.Status
		o.Status = StatusPartiallyReceived
		if complete {
			o.Status = StatusCompleted
		}
		if err := tx.InsertGoodsReceipt(ctx, &receipt); err != nil {
			return fmt.Errorf("insert goods receipt: %w", err)
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		order = o
		return tx.InsertHistory(ctx, HistoryEntry{
			OrderID:  o.ID,
			From:     from,
			To:       o.Status,
			Action:   ActionReceive,
			ActorID:  actor.ID,
			Comments: receipt.Number,
			At:       now,
		})
	})
	if err != nil {
		s.rolledBack(ctx, "receive_goods", err,
			slog.Int64("order_id", in.OrderID),
			slog.Int("lines", len(in.Lines)),
			slog.Int64("actor_id", actor.ID))
		return GoodsReceipt{}, err
	}

	s.metrics.OrderTransitioned(string(KindPurchase), string(ActionReceive))
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventOrderGoodsReceived,
		EntityType: "goods_receipt",
		EntityID:   receipt.ID,
		Number:     receipt.Number,
		BranchID:   order.BranchID,
		PartyID:    order.PartyID,
		Amount:     receipt.Value.StringFixed(2),
		Status:     string(order.Status),
		ActorID:    actor.ID,
		Meta:       map[string]string{"order_number": order.Number},
	})
	return receipt, nil
}

// Get returns the order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// History returns the workflow history of an order, oldest first.
func (s *Service) History(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, orderID)
}

func (s *Service) rolledBack(ctx context.Context, operation string, err error, attrs ...slog.Attr) {
	s.metrics.Rollback(operation)
	level := slog.LevelWarn
	if shared.IsFatal(err) || !isBusinessRejection(err) {
		level = slog.LevelError
	}
	attrs = append(attrs, slog.String("operation", operation), slog.Any("error", err))
	s.logger.LogAttrs(ctx, level, "order unit of work rolled back", attrs...)
}

func isBusinessRejection(err error) bool {
	var (
		validation *shared.ValidationError
		creditErr  *shared.InsufficientCreditError
		stockErr   *shared.InsufficientStockError
		transition *shared.InvalidTransitionError
		forbidden  *shared.ForbiddenError
		dayClosed  *shared.DayClosedError
	)
	return errors.As(err, &validation) || errors.As(err, &creditErr) || errors.As(err, &stockErr) ||
		errors.As(err, &transition) || errors.As(err, &forbidden) || errors.As(err, &dayClosed) ||
		errors.Is(err, shared.ErrNotFound)
}

func stockRequests(o Order, refType string) []inventory.Request {
	reqs := make([]inventory.Request, 0, len(o.Lines))
	for _, l := range o.Lines {
		reqs = append(reqs, inventory.Request{
			VariantID: l.VariantID,
			BranchID:  o.BranchID,
			Quantity:  l.Quantity,
			RefType:   refType,
			RefID:     o.ID,
		})
	}
	return reqs
}

func fullyReceived(o Order) bool {
	for _, l := range o.Lines {
		if l.Outstanding().IsPositive() {
			return false
		}
	}
	return true
}

// clamp bounds v to [0, limit].
func clamp(v, limit decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(v, limit)
}
