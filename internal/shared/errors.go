package shared

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrNoOrders is returned when an end-of-day run finds nothing to reconcile.
	ErrNoOrders = errors.New("no orders recorded for the business day")
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientCreditError rejects an unpaid order that exceeds available credit.
type InsufficientCreditError struct {
	CustomerID int64
	Amount     decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for customer %d: amount %s exceeds available %s",
		e.CustomerID, e.Amount.StringFixed(2), e.Available.StringFixed(2))
}

// InsufficientStockError rejects a reservation larger than stock on hand.
type InsufficientStockError struct {
	VariantID int64
	BranchID  int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d at branch %d: requested %s, available %s",
		e.VariantID, e.BranchID, e.Requested.String(), e.Available.String())
}

// InvalidTransitionError reports an action that is illegal from the current state.
type InvalidTransitionError struct {
	Kind   string
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s order cannot %s from %s", e.Kind, e.Action, e.From)
}

// AccountNotFoundError means a posting referenced an account that cannot be resolved.
type AccountNotFoundError struct {
	Ref string
}

func (e *AccountNotFoundError) Error() string {
	return "ledger account not found: " + e.Ref
}

// UnbalancedJournalError means debits and credits disagree.
type UnbalancedJournalError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedJournalError) Error() string {
	return fmt.Sprintf("unbalanced journal: debit %s credit %s", e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

// AlreadyRunError means the branch-day already has an end-of-day summary.
type AlreadyRunError struct {
	BranchID int64
	Date     time.Time
}

func (e *AlreadyRunError) Error() string {
	return fmt.Sprintf("end of day already run for branch %d on %s", e.BranchID, e.Date.Format(time.DateOnly))
}

// OutOfOrderReopenError blocks reopening a day while a later day is reconciled.
type OutOfOrderReopenError struct {
	BranchID int64
	Date     time.Time
	Later    time.Time
}

func (e *OutOfOrderReopenError) Error() string {
	return fmt.Sprintf("cannot reopen %s for branch %d: %s is already reconciled",
		e.Date.Format(time.DateOnly), e.BranchID, e.Later.Format(time.DateOnly))
}

// DayClosedError refuses sales on a branch-day that has been reconciled.
type DayClosedError struct {
	BranchID int64
	Date     time.Time
}

func (e *DayClosedError) Error() string {
	return fmt.Sprintf("branch %d is closed for %s", e.BranchID, e.Date.Format(time.DateOnly))
}

// JournalNotReversibleError refuses a reversal. ReversalID is set when the
// entry has already been reversed.
type JournalNotReversibleError struct {
	JournalID  int64
	ReversalID int64
	Reason     string
}

func (e *JournalNotReversibleError) Error() string {
	if e.ReversalID != 0 {
		return fmt.Sprintf("journal %d is already reversed by journal %d", e.JournalID, e.ReversalID)
	}
	return fmt.Sprintf("journal %d cannot be reversed: %s", e.JournalID, e.Reason)
}

// ForbiddenError means the actor lacks authority for the action.
type ForbiddenError struct {
	Action string
	Role   Role
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}

// IsFatal reports ledger misconfiguration or logic errors that must abort the unit of work.
func IsFatal(err error) bool {
	var notFound *AccountNotFoundError
	var unbalanced *UnbalancedJournalError
	return errors.As(err, &notFound) || errors.As(err, &unbalanced)
}
