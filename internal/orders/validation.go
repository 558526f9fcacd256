package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// ValidateCreateInput checks the per-kind required fields and normalises defaults.
func ValidateCreateInput(in *CreateInput) error {
	if !in.Kind.Valid() {
		if in.Kind == "" {
			return shared.Invalid("kind", "is required")
		}
		return shared.Invalid("kind", fmt.Sprintf("unknown order kind %q", in.Kind))
	}
	if in.BranchID <= 0 {
		return shared.Invalid("branch_id", "is required")
	}
	if len(in.Lines) == 0 {
		return shared.Invalid("lines", "at least one line is required")
	}
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.VariantID <= 0 {
			return shared.Invalid(field+".variant_id", "is required")
		}
		if !l.Quantity.IsPositive() {
			return shared.Invalid(field+".quantity", "must be positive")
		}
		if l.UnitPrice.IsNegative() {
			return shared.Invalid(field+".unit_price", "must not be negative")
		}
		if l.Discount.IsNegative() || l.Discount.GreaterThan(l.Quantity.Mul(l.UnitPrice)) {
			return shared.Invalid(field+".discount", "must be between zero and the line amount")
		}
	}
	if in.Discount.IsNegative() {
		return shared.Invalid("discount", "must not be negative")
	}
	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred) {
		return shared.Invalid("discount_percent", "must be between 0 and 100")
	}
	if in.Discount.IsPositive() && in.DiscountPercent.IsPositive() {
		return shared.Invalid("discount", "give either an amount or a percent, not both")
	}

	switch in.Kind {
	case KindCredit:
		if in.PartyID <= 0 {
			return shared.Invalid("party_id", "customer is required for credit orders")
		}
		if in.PaymentType == "" {
			in.PaymentType = credit.PaymentUnpaid
		}
		if !in.PaymentType.Valid() {
			return shared.Invalid("payment_type", fmt.Sprintf("unknown payment type %q", in.PaymentType))
		}
		if in.PaymentMethod != "" {
			return shared.Invalid("payment_method", "credit orders are settled through payments")
		}
	case KindPurchase:
		if in.PartyID <= 0 {
			return shared.Invalid("party_id", "supplier is required for purchase orders")
		}
		if in.Discount.IsPositive() || in.DiscountPercent.IsPositive() {
			return shared.Invalid("discount", "purchase orders take line discounts only")
		}
		if in.Draft {
			return shared.Invalid("draft", "purchase orders are issued active")
		}
	case KindPOS:
		switch in.PaymentMethod {
		case MethodCash, MethodCard, MethodMobile:
		case MethodOnAccount:
			if in.PartyID <= 0 {
				return shared.Invalid("party_id", "customer is required for on-account sales")
			}
		case "":
			return shared.Invalid("payment_method", "is required")
		default:
			return shared.Invalid("payment_method", fmt.Sprintf("unknown payment method %q", in.PaymentMethod))
		}
		if in.Draft {
			return shared.Invalid("draft", "POS sales complete immediately")
		}
	}
	return nil
}

// ValidateReceiveInput checks a goods receipt request.
func ValidateReceiveInput(in ReceiveInput) error {
	if in.OrderID <= 0 {
		return shared.Invalid("order_id", "is required")
	}
	if len(in.Lines) == 0 {
		return shared.Invalid("lines", "at least one line is required")
	}
	seen := map[int64]bool{}
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.LineID <= 0 {
			return shared.Invalid(field+".line_id", "is required")
		}
		if seen[l.LineID] {
			return shared.Invalid(field+".line_id", "appears twice")
		}
		seen[l.LineID] = true
		if !l.Quantity.IsPositive() {
			return shared.Invalid(field+".quantity", "must be positive")
		}
	}
	return nil
}

// BuildLines computes line totals: quantity x price - line discount.
func BuildLines(inputs []LineInput) []Line {
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		lines = append(lines, Line{
			LineNo:    i + 1,
			VariantID: in.VariantID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			Discount:  in.Discount.Round(2),
			LineTotal: in.Quantity.Mul(in.UnitPrice).Sub(in.Discount).Round(2),
			Received:  decimal.Zero,
		})
	}
	return lines
}

// Totals returns subtotal, cart discount and total for lines.
func Totals(lines []Line, discount, discountPercent decimal.Decimal) (subtotal, cartDiscount, total decimal.Decimal) {
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
	}
	cartDiscount = discount.Round(2)
	if discountPercent.IsPositive() {
		cartDiscount = subtotal.Mul(discountPercent).Div(hundred).Round(2)
	}
	if cartDiscount.GreaterThan(subtotal) {
		cartDiscount = subtotal
	}
	total = subtotal.Sub(cartDiscount)
	return subtotal, cartDiscount, total
}
