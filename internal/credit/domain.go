package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartyKind distinguishes customers (they owe us) from suppliers (we owe them).
type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
)

// Valid reports whether k is a known kind.
func (k PartyKind) Valid() bool {
	return k == PartyCustomer || k == PartySupplier
}

// Party is a counterparty with a running balance. CreditLimit only applies to
// customers.
type Party struct {
	ID             int64
	Kind           PartyKind
	Name           string
	CreditLimit    decimal.Decimal
	CurrentBalance decimal.Decimal
	UpdatedAt      time.Time
}

// AvailableCredit is credit_limit - current_balance.
func (p Party) AvailableCredit() decimal.Decimal {
	return p.CreditLimit.Sub(p.CurrentBalance)
}

// PaymentType states how a credit order will be settled.
type PaymentType string

const (
	PaymentUnpaid  PaymentType = "unpaid"
	PaymentPrepaid PaymentType = "prepaid"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	return t == PaymentUnpaid || t == PaymentPrepaid
}

// Tier is the approval route for an accepted order.
type Tier string

const (
	TierNormal    Tier = "pending_approval"
	TierEscalated Tier = "escalated"
)

// Label is the text shown to operators.
func (t Tier) Label() string {
	if t == TierEscalated {
		return "Pending Superadmin Approval"
	}
	return "Pending Approval"
}

// Decision is the outcome of a credit evaluation.
type Decision struct {
	CustomerID      int64           `json:"customer_id"`
	Allowed         bool            `json:"allowed"`
	Tier            Tier            `json:"status"`
	StatusLabel     string          `json:"status_label"`
	Amount          decimal.Decimal `json:"amount"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
}
