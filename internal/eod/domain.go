// Package eod reconciles a branch's POS day: sales aggregates, expected
// against counted cash, and the audited reopen that undoes it.
package eod

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopProductLimit caps the best sellers kept on a summary.
const TopProductLimit = 5

// ProductSales is one best-seller row.
type ProductSales struct {
	VariantID int64           `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// Summary is the reconciliation of one branch-day. At most one exists per
// (branch, date).
type Summary struct {
	ID               int64                      `json:"id"`
	BranchID         int64                      `json:"branch_id"`
	BusinessDate     time.Time                  `json:"business_date"`
	OrderCount       int                        `json:"order_count"`
	ItemsSold        decimal.Decimal            `json:"items_sold"`
	GrossSales       decimal.Decimal            `json:"gross_sales"`
	DiscountTotal    decimal.Decimal            `json:"discount_total"`
	NetSales         decimal.Decimal            `json:"net_sales"`
	PaymentBreakdown map[string]decimal.Decimal `json:"payment_breakdown"`
	TopProducts      []ProductSales             `json:"top_products"`
	OpeningCash      decimal.Decimal            `json:"opening_cash"`
	CashIn           decimal.Decimal            `json:"cash_in"`
	CashOut          decimal.Decimal            `json:"cash_out"`
	ExpectedCash     decimal.Decimal            `json:"expected_cash"`
	ActualCash       decimal.Decimal            `json:"actual_cash"`
	Variance         decimal.Decimal            `json:"variance"`
	Notes            string                     `json:"notes,omitempty"`
	RunBy            int64                      `json:"run_by"`
	CreatedAt        time.Time                  `json:"created_at"`
}

// RunInput is the runEOD request. ActualCash is the counted drawer.
type RunInput struct {
	BranchID   int64
	Date       time.Time
	ActualCash decimal.Decimal
	Notes      string
}

// ReopenInput is the reopenEOD request.
type ReopenInput struct {
	SummaryID int64
	Reason    string
}

// ListFilter bounds a summary listing. Zero dates are open.
type ListFilter struct {
	BranchID int64
	From     time.Time
	To       time.Time
	Limit    int
}
