package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/credit"
)

// Kind tags the order variant.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindCredit   Kind = "credit"
	KindPOS      Kind = "pos"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindPurchase || k == KindCredit || k == KindPOS
}

// PartyKind returns the counterparty kind the order is placed with.
func (k Kind) PartyKind() credit.PartyKind {
	if k == KindPurchase {
		return credit.PartySupplier
	}
	return credit.PartyCustomer
}

// Status is the primary lifecycle state. The set of legal values depends on Kind.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusEscalated       Status = "escalated"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusInProduction    Status = "in_production"
	StatusProduced        Status = "produced"
	StatusReadyToShip     Status = "ready_to_ship"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"

	StatusActive            Status = "active"
	StatusPartiallyReceived Status = "partially_received"
	StatusCompleted         Status = "completed"
	StatusClosed            Status = "closed"
)

// Action is a requested lifecycle step.
type Action string

const (
	ActionCreate           Action = "create"
	ActionSubmit           Action = "submit"
	ActionApprove          Action = "approve"
	ActionReject           Action = "reject"
	ActionCancel           Action = "cancel"
	ActionStartProduction  Action = "start_production"
	ActionFinishProduction Action = "finish_production"
	ActionMarkReady        Action = "mark_ready"
	ActionShip             Action = "ship"
	ActionDeliver          Action = "deliver"
	ActionReceive          Action = "receive"
	ActionClose            Action = "close"
)

// PaymentMethod is how a POS sale or a payment is tendered.
type PaymentMethod string

const (
	MethodCash      PaymentMethod = "cash"
	MethodCard      PaymentMethod = "card"
	MethodMobile    PaymentMethod = "mobile"
	MethodBank      PaymentMethod = "bank"
	MethodOnAccount PaymentMethod = "on_account"
)

// Order is the tagged-variant header shared by purchase, credit and POS orders.
type Order struct {
	ID            int64
	Number        string
	Kind          Kind
	PartyID       int64
	BranchID      int64
	Status        Status
	PaymentType   credit.PaymentType
	PaymentMethod PaymentMethod
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	Paid          decimal.Decimal
	BalanceDue    decimal.Decimal
	// Recognized is the value currently owed: credit orders on approval,
	// purchases as goods arrive, POS sales at creation.
	Recognized    decimal.Decimal
	StockDeducted bool
	JournalID     int64
	Notes         string
	OrderDate     time.Time
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Lines         []Line
}

// Line is one product row of an order.
type Line struct {
	ID        int64
	OrderID   int64
	LineNo    int
	VariantID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	LineTotal decimal.Decimal
	Received  decimal.Decimal
}

// Gross is quantity x unit price before any discount.
func (l Line) Gross() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

// Outstanding is the quantity still to be received.
func (l Line) Outstanding() decimal.Decimal {
	return l.Quantity.Sub(l.Received)
}

// Gross sums line gross amounts.
func (o Order) Gross() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Gross())
	}
	return sum
}

// TotalDiscount is everything between gross and total: line and cart discounts.
func (o Order) TotalDiscount() decimal.Decimal {
	return o.Gross().Sub(o.Total)
}

// DueNow is recognized value not yet paid.
func (o Order) DueNow() decimal.Decimal {
	due := o.Recognized.Sub(o.Paid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// Open reports whether the order can still receive payments.
func (o Order) Open() bool {
	switch o.Status {
	case StatusCancelled, StatusRejected, StatusDraft:
		return false
	}
	return o.BalanceDue.IsPositive()
}

// ApplyPayment records amount against the order; callers clamp to BalanceDue.
func (o *Order) ApplyPayment(amount decimal.Decimal) {
	o.Paid = o.Paid.Add(amount)
	o.recalc()
}

func (o *Order) recalc() {
	o.BalanceDue = o.Total.Sub(o.Paid)
}

// DeliveryStatus is derived from line quantities and status.
func (o Order) DeliveryStatus() string {
	switch o.Kind {
	case KindPurchase:
		received, ordered := decimal.Zero, decimal.Zero
		for _, l := range o.Lines {
			received = received.Add(l.Received)
			ordered = ordered.Add(l.Quantity)
		}
		switch {
		case received.IsZero():
			return "pending"
		case received.LessThan(ordered):
			return "partial"
		}
		return "received"
	case KindCredit:
		switch o.Status {
		case StatusShipped:
			return "in_transit"
		case StatusDelivered:
			return "delivered"
		}
		return "pending"
	}
	return "delivered"
}

// PaymentStatus is derived from paid versus total.
func (o Order) PaymentStatus() string {
	switch {
	case o.Paid.IsZero():
		return "unpaid"
	case o.Paid.LessThan(o.Total):
		return "partial"
	}
	return "paid"
}

// HistoryEntry is one append-only workflow record.
type HistoryEntry struct {
	ID       int64
	OrderID  int64
	From     Status
	To       Status
	Action   Action
	ActorID  int64
	Comments string
	At       time.Time
}

// Advance is the part of a posted payment that no order has absorbed yet.
type Advance struct {
	PaymentID     int64
	VoucherNumber string
	Remaining     decimal.Decimal
}

// GoodsReceipt records physical receipt against a purchase order.
type GoodsReceipt struct {
	ID         int64
	Number     string
	OrderID    int64
	BranchID   int64
	Value      decimal.Decimal
	JournalID  int64
	ReceivedBy int64
	ReceivedAt time.Time
	Lines      []ReceiptLine
}

// ReceiptLine is the received quantity of one order line.
type ReceiptLine struct {
	OrderLineID int64
	VariantID   int64
	Quantity    decimal.Decimal
}

// LineInput describes a requested order line.
type LineInput struct {
	VariantID int64           `json:"variant_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
}

// CreateInput is the createOrder payload.
type CreateInput struct {
	Kind            Kind               `json:"kind" validate:"required"`
	PartyID         int64              `json:"party_id"`
	BranchID        int64              `json:"branch_id" validate:"required,gt=0"`
	PaymentType     credit.PaymentType `json:"payment_type"`
	PaymentMethod   PaymentMethod      `json:"payment_method"`
	Discount        decimal.Decimal    `json:"discount"`
	DiscountPercent decimal.Decimal    `json:"discount_percent"`
	Draft           bool               `json:"draft"`
	Notes           string             `json:"notes"`
	Lines           []LineInput        `json:"lines" validate:"required,min=1,dive"`
}

// Created is returned by a successful createOrder.
type Created struct {
	OrderID     int64            `json:"order_id"`
	OrderNumber string           `json:"order_number"`
	Status      Status           `json:"status"`
	Decision    *credit.Decision `json:"credit_decision,omitempty"`
}

// TransitionInput requests a lifecycle step.
type TransitionInput struct {
	OrderID  int64
	Action   Action
	Comments string
}

// State is the order state after a transition.
type State struct {
	OrderID  int64  `json:"order_id"`
	Number   string `json:"order_number"`
	Kind     Kind   `json:"kind"`
	From     Status `json:"from"`
	Status   Status `json:"status"`
	Action   Action `json:"action"`
	Comments string `json:"comments,omitempty"`
}

// ReceiveInput records a goods receipt.
type ReceiveInput struct {
	OrderID int64
	Lines   []ReceiveLine
}

// ReceiveLine is the quantity received for one order line.
type ReceiveLine struct {
	LineID   int64           `json:"line_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
}
