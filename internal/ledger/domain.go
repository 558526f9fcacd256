package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies accounts in the chart of accounts.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

// Account is a posting target. Its balance is always derived from lines.
type Account struct {
	ID       int64
	Code     string
	Name     string
	Type     AccountType
	Subtype  string
	BranchID int64
	Active   bool
}

// Event names a business posting slot configured in account_mappings.
type Event string

const (
	EventSalesRevenue    Event = "sales.revenue"
	EventSalesDiscount   Event = "sales.discount"
	EventReceivable      Event = "receivable.trade"
	EventPayable         Event = "payable.trade"
	EventInventory       Event = "inventory.stock"
	EventPaymentCash     Event = "payment.cash"
	EventPaymentBank     Event = "payment.bank"
	EventPaymentCard     Event = "payment.card"
	EventPaymentMobile   Event = "payment.mobile"
	EventCustomerAdvance Event = "advance.customer"
	EventSupplierAdvance Event = "advance.supplier"
)

// Origin types recorded on journal entries.
const (
	OriginPOSSale      = "pos_sale"
	OriginCreditOrder  = "credit_order"
	OriginGoodsReceipt = "goods_receipt"
	OriginPayment      = "payment"
	OriginReversal     = "reversal"
	OriginManual       = "manual"
)

// AccountRef describes how to find an account: by exact code, by mapped event,
// or by the legacy name/subtype pattern.
type AccountRef struct {
	Code     string
	Event    Event
	NameLike string
	Subtypes []string
}

// ByCode references an account by its chart code.
func ByCode(code string) AccountRef { return AccountRef{Code: code} }

// ForEvent references the account mapped to ev.
func ForEvent(ev Event) AccountRef { return AccountRef{Event: ev} }

// WithPattern adds a name/subtype fallback to the reference.
func (r AccountRef) WithPattern(nameLike string, subtypes ...string) AccountRef {
	r.NameLike = nameLike
	r.Subtypes = subtypes
	return r
}

func (r AccountRef) String() string {
	var parts []string
	if r.Code != "" {
		parts = append(parts, "code:"+r.Code)
	}
	if r.Event != "" {
		parts = append(parts, "event:"+string(r.Event))
	}
	if r.NameLike != "" || len(r.Subtypes) > 0 {
		parts = append(parts, "pattern:"+r.NameLike+"["+strings.Join(r.Subtypes, ",")+"]")
	}
	if len(parts) == 0 {
		return "<empty>"
	}
	return strings.Join(parts, "|")
}

// PostingLine is one side of a requested posting before account resolution.
type PostingLine struct {
	Account AccountRef
	Debit   decimal.Decimal
	Credit  decimal.Decimal
	Memo    string
}

// Debit builds a debit posting line.
func Debit(ref AccountRef, amount decimal.Decimal, memo string) PostingLine {
	return PostingLine{Account: ref, Debit: amount, Memo: memo}
}

// Credit builds a credit posting line.
func Credit(ref AccountRef, amount decimal.Decimal, memo string) PostingLine {
	return PostingLine{Account: ref, Credit: amount, Memo: memo}
}

// PostInput describes a journal entry to post.
type PostInput struct {
	Reference   string
	Date        time.Time
	Description string
	OriginType  string
	OriginID    int64
	BranchID    int64
	CreatedBy   int64
	Lines       []PostingLine
}

// ReverseInput asks for the mirror image of a committed manual entry.
type ReverseInput struct {
	JournalID   int64
	Description string
	Date        time.Time
	CreatedBy   int64
}

// JournalEntry is an immutable, balanced financial event.
type JournalEntry struct {
	ID          int64
	Reference   string
	Date        time.Time
	Description string
	OriginType  string
	OriginID    int64
	ReversalOf  int64
	CreatedBy   int64
	CreatedAt   time.Time
	Lines       []Line
}

// Totals sums the entry's debit and credit columns.
func (e JournalEntry) Totals() Totals {
	var t Totals
	for _, l := range e.Lines {
		t.Debit = t.Debit.Add(l.Debit)
		t.Credit = t.Credit.Add(l.Credit)
	}
	return t
}

// Line is a persisted transaction line.
type Line struct {
	ID        int64
	JournalID int64
	LineNo    int
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// AccountQuery filters accounts for pattern resolution.
type AccountQuery struct {
	NameLike string
	Subtypes []string
	BranchID int64
}

// Totals is a debit/credit pair.
type Totals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// Net returns debit minus credit.
func (t Totals) Net() decimal.Decimal {
	return t.Debit.Sub(t.Credit)
}
