// Package credit evaluates customer credit headroom and keeps counterparty
// running balances.
package credit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

// DefaultEscalationRatio routes orders above 80% of available credit to a superadmin.
var DefaultEscalationRatio = decimal.RequireFromString("0.8")

// Policy holds the tunable escalation thresholds.
type Policy struct {
	// EscalationRatio escalates when amount / available credit exceeds it.
	EscalationRatio decimal.Decimal
	// EscalateWhenExhausted escalates any positive amount once available credit <= 0.
	EscalateWhenExhausted bool
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{EscalationRatio: DefaultEscalationRatio, EscalateWhenExhausted: true}
}

// Store reads and mutates counterparty balances on the caller's transaction.
type Store interface {
	// LockParty reads the party row under an exclusive row lock.
	LockParty(ctx context.Context, kind PartyKind, id int64) (Party, error)
	// AdjustPartyBalance adds delta to current_balance.
	AdjustPartyBalance(ctx context.Context, kind PartyKind, id int64, delta decimal.Decimal) error
}

// Evaluator applies Policy to a prospective credit order.
type Evaluator struct {
	policy Policy
}

// NewEvaluator constructs Evaluator; a non-positive ratio falls back to the default.
func NewEvaluator(policy Policy) *Evaluator {
	if !policy.EscalationRatio.IsPositive() {
		policy.EscalationRatio = DefaultEscalationRatio
	}
	return &Evaluator{policy: policy}
}

// Policy returns the thresholds in force.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate locks the customer and decides the order's fate. An unpaid amount
// above available credit is returned as InsufficientCreditError.
func (e *Evaluator) Evaluate(ctx context.Context, store Store, customerID int64, amount decimal.Decimal, paymentType PaymentType) (Decision, error) {
	if customerID == 0 {
		return Decision{}, shared.Invalid("customer_id", "is required")
	}
	if amount.IsNegative() {
		return Decision{}, shared.Invalid("amount", "must not be negative")
	}
	if !paymentType.Valid() {
		return Decision{}, shared.Invalid("payment_type", fmt.Sprintf("unknown payment type %q", paymentType))
	}
	customer, err := store.LockParty(ctx, PartyCustomer, customerID)
	if err != nil {
		return Decision{}, fmt.Errorf("credit: load customer %d: %w", customerID, err)
	}
	decision := e.Decide(customer, amount, paymentType)
	if !decision.Allowed {
		return decision, &shared.InsufficientCreditError{
			CustomerID: customerID,
			Amount:     amount,
			Available:  decision.AvailableCredit,
		}
	}
	return decision, nil
}

// Decide is the pure evaluation rule.
func (e *Evaluator) Decide(customer Party, amount decimal.Decimal, paymentType PaymentType) Decision {
	available := customer.AvailableCredit()
	d := Decision{
		CustomerID:      customer.ID,
		Allowed:         true,
		Tier:            TierNormal,
		Amount:          amount,
		CreditLimit:     customer.CreditLimit,
		CurrentBalance:  customer.CurrentBalance,
		AvailableCredit: available,
	}
	switch {
	case paymentType == PaymentUnpaid && amount.GreaterThan(available):
		d.Allowed = false
	case !available.IsPositive() && amount.IsPositive():
		if e.policy.EscalateWhenExhausted {
			d.Tier = TierEscalated
		}
	case available.IsPositive() && amount.Div(available).GreaterThan(e.policy.EscalationRatio):
		d.Tier = TierEscalated
	}
	d.StatusLabel = d.Tier.Label()
	return d
}
