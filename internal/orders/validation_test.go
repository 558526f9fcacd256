package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTotalsWithPercentCartDiscount(t *testing.T) {
	lines := BuildLines([]LineInput{{VariantID: 1, Quantity: dec("2"), UnitPrice: dec("100")}})
	subtotal, discount, total := Totals(lines, decimal.Zero, dec("10"))
	require.Equal(t, "200.00", subtotal.StringFixed(2))
	require.Equal(t, "20.00", discount.StringFixed(2))
	require.Equal(t, "180.00", total.StringFixed(2))
}

func TestLineTotalSubtractsLineDiscount(t *testing.T) {
	lines := BuildLines([]LineInput{{VariantID: 1, Quantity: dec("2.5"), UnitPrice: dec("40"), Discount: dec("5")}})
	require.Equal(t, "95.00", lines[0].LineTotal.StringFixed(2))
	require.Equal(t, "100.00", lines[0].Gross().StringFixed(2))
}

func TestValidateNamesMissingField(t *testing.T) {
	cases := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"kind", CreateInput{BranchID: 1}, "kind"},
		{"branch", CreateInput{Kind: KindPOS}, "branch_id"},
		{"lines", CreateInput{Kind: KindPOS, BranchID: 1}, "lines"},
		{"credit customer", CreateInput{Kind: KindCredit, BranchID: 1, Lines: []LineInput{{VariantID: 1, Quantity: dec("1"), UnitPrice: dec("1")}}}, "party_id"},
		{"purchase supplier", CreateInput{Kind: KindPurchase, BranchID: 1, Lines: []LineInput{{VariantID: 1, Quantity: dec("1"), UnitPrice: dec("1")}}}, "party_id"},
		{"pos method", CreateInput{Kind: KindPOS, BranchID: 1, Lines: []LineInput{{VariantID: 1, Quantity: dec("1"), UnitPrice: dec("1")}}}, "payment_method"},
		{"on account customer", CreateInput{Kind: KindPOS, BranchID: 1, PaymentMethod: MethodOnAccount, Lines: []LineInput{{VariantID: 1, Quantity: dec("1"), UnitPrice: dec("1")}}}, "party_id"},
		{"quantity", CreateInput{Kind: KindPOS, BranchID: 1, PaymentMethod: MethodCash, Lines: []LineInput{{VariantID: 1, Quantity: dec("0"), UnitPrice: dec("1")}}}, "lines[0].quantity"},
		{"both discounts", CreateInput{Kind: KindPOS, BranchID: 1, PaymentMethod: MethodCash, Discount: dec("1"), DiscountPercent: dec("1"), Lines: []LineInput{{VariantID: 1, Quantity: dec("1"), UnitPrice: dec("10")}}}, "discount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			err := ValidateCreateInput(&in)
			var verr *shared.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateDefaultsCreditPaymentType(t *testing.T) {
	in := CreateInput{Kind: KindCredit, BranchID: 1, PartyID: 3, Lines: []LineInput{{VariantID: 1, Quantity: dec("1"), UnitPrice: dec("1")}}}
	require.NoError(t, ValidateCreateInput(&in))
	require.Equal(t, credit.PaymentUnpaid, in.PaymentType)
}

func TestDerivedStatuses(t *testing.T) {
	o := Order{Kind: KindPurchase, Total: dec("100"), Lines: []Line{{Quantity: dec("10"), Received: dec("4")}}}
	require.Equal(t, "partial", o.DeliveryStatus())
	require.Equal(t, "unpaid", o.PaymentStatus())
	o.ApplyPayment(dec("40"))
	require.Equal(t, "partial", o.PaymentStatus())
	require.Equal(t, "60.00", o.BalanceDue.StringFixed(2))

	o.Recognized = dec("40")
	require.True(t, o.DueNow().IsZero())
}
