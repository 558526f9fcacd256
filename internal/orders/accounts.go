package orders

import "github.com/flourmill-erp/flourmill/internal/ledger"

// Posting targets. Each resolves through the event mapping first and falls
// back to the legacy name/subtype pattern when the resolver allows it.
var (
	RevenueAccount         = ledger.ForEvent(ledger.EventSalesRevenue).WithPattern("Sales Revenue", "sales")
	DiscountAccount        = ledger.ForEvent(ledger.EventSalesDiscount).WithPattern("Discount", "contra_sales")
	ReceivableAccount      = ledger.ForEvent(ledger.EventReceivable).WithPattern("Receivable", "receivable")
	PayableAccount         = ledger.ForEvent(ledger.EventPayable).WithPattern("Payable", "payable")
	InventoryAccount       = ledger.ForEvent(ledger.EventInventory).WithPattern("Inventory", "inventory")
	CustomerAdvanceAccount = ledger.ForEvent(ledger.EventCustomerAdvance).WithPattern("Customer Advance", "advance")
	SupplierAdvanceAccount = ledger.ForEvent(ledger.EventSupplierAdvance).WithPattern("Supplier Advance", "advance")
)

// MethodAccount returns the account a tender of method lands in. On-account
// sales land in receivables.
func MethodAccount(method PaymentMethod) ledger.AccountRef {
	switch method {
	case MethodCash:
		return ledger.ForEvent(ledger.EventPaymentCash).WithPattern("Cash", "cash")
	case MethodBank:
		return ledger.ForEvent(ledger.EventPaymentBank).WithPattern("Bank", "bank")
	case MethodCard:
		return ledger.ForEvent(ledger.EventPaymentCard).WithPattern("Card", "undeposited_funds")
	case MethodMobile:
		return ledger.ForEvent(ledger.EventPaymentMobile).WithPattern("Mobile", "undeposited_funds")
	case MethodOnAccount:
		return ReceivableAccount
	}
	return ledger.AccountRef{}
}
