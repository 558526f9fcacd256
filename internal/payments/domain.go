// Package payments applies incoming and outgoing payments to open orders and
// books them as one journal entry per payment.
package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/orders"
)

// Target asks for a payment to go to one order. A positive Amount caps what
// that order receives.
type Target struct {
	OrderID int64           `json:"order_id" validate:"required,gt=0"`
	Amount  decimal.Decimal `json:"amount"`
}

// AllocateInput is the allocatePayment request.
type AllocateInput struct {
	PartyKind      credit.PartyKind
	PartyID        int64
	// BranchID picks the branch-scoped cash or bank account. Zero posts to
	// the head-office accounts.
	BranchID       int64
	Amount         decimal.Decimal
	Method         orders.PaymentMethod
	Date           time.Time
	Reference      string
	IdempotencyKey string
	// Targets, when present, are applied in order; otherwise oldest due first.
	Targets []Target
}

// Allocation is the amount applied to one order.
type Allocation struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Amount      decimal.Decimal `json:"amount"`
	BalanceDue  decimal.Decimal `json:"balance_due"`
}

// AllocationResult describes a committed payment. Allocated + Unallocated
// always equals Amount.
type AllocationResult struct {
	PaymentID     int64           `json:"payment_id"`
	VoucherNumber string          `json:"voucher_number"`
	JournalID     int64           `json:"journal_id"`
	Amount        decimal.Decimal `json:"amount"`
	Allocated     decimal.Decimal `json:"allocated"`
	Unallocated   decimal.Decimal `json:"unallocated"`
	// AdvanceAmount is the part received ahead of recognised value.
	AdvanceAmount decimal.Decimal `json:"advance_amount"`
	Advance       bool            `json:"advance"`
	Allocations   []Allocation    `json:"allocations"`
}

// Payment is a posted, immutable payment voucher.
type Payment struct {
	ID             int64
	VoucherNumber  string
	PartyKind      credit.PartyKind
	PartyID        int64
	BranchID       int64
	Amount         decimal.Decimal
	Method         orders.PaymentMethod
	Date           time.Time
	Allocated      decimal.Decimal
	Unallocated    decimal.Decimal
	AdvanceAmount  decimal.Decimal
	JournalID      int64
	Posted         bool
	Reference      string
	IdempotencyKey string
	CreatedBy      int64
	CreatedAt      time.Time
	Allocations    []Allocation
}
