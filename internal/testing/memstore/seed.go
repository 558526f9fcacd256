package memstore

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/eod"
	"github.com/flourmill-erp/flourmill/internal/inventory"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/payments"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// ChartAccount is one row of the default chart with the event it serves.
type ChartAccount struct {
	Code    string
	Name    string
	Type    ledger.AccountType
	Subtype string
	Event   ledger.Event
}

// DefaultChart matches the chart-of-accounts migration.
var DefaultChart = []ChartAccount{
	{"1000", "Cash on Hand", ledger.AccountAsset, "cash", ledger.EventPaymentCash},
	{"1010", "Bank", ledger.AccountAsset, "bank", ledger.EventPaymentBank},
	{"1020", "Card Clearing", ledger.AccountAsset, "undeposited_funds", ledger.EventPaymentCard},
	{"1030", "Mobile Wallet Clearing", ledger.AccountAsset, "undeposited_funds", ledger.EventPaymentMobile},
	{"1100", "Accounts Receivable", ledger.AccountAsset, "receivable", ledger.EventReceivable},
	{"1200", "Inventory - Flour and Grain", ledger.AccountAsset, "inventory", ledger.EventInventory},
	{"1300", "Supplier Advances", ledger.AccountAsset, "advance", ledger.EventSupplierAdvance},
	{"2000", "Accounts Payable", ledger.AccountLiability, "payable", ledger.EventPayable},
	{"2100", "Customer Advances", ledger.AccountLiability, "advance", ledger.EventCustomerAdvance},
	{"4000", "Sales Revenue", ledger.AccountRevenue, "sales", ledger.EventSalesRevenue},
	{"4100", "Sales Discounts", ledger.AccountRevenue, "contra_sales", ledger.EventSalesDiscount},
}

// SeedChart loads DefaultChart, skipping any event listed in without.
func (s *Store) SeedChart(without ...ledger.Event) *Store {
	for _, c := range DefaultChart {
		id := s.AddAccount(ledger.Account{Code: c.Code, Name: c.Name, Type: c.Type, Subtype: c.Subtype, Active: true})
		skip := false
		for _, ev := range without {
			if ev == c.Event {
				skip = true
			}
		}
		if !skip {
			s.MapEvent(c.Event, 0, id)
		}
	}
	return s
}

// AddAccount inserts an account and returns its id.
func (s *Store) AddAccount(a ledger.Account) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.data.id()
	s.data.accounts[a.ID] = a
	return a.ID
}

// MapEvent adds a mapping version for ev; branchID 0 is the generic row.
func (s *Store) MapEvent(ev ledger.Event, branchID, accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := 1
	for _, m := range s.data.mappings {
		if m.event == ev && m.branchID == branchID && m.version >= version {
			version = m.version + 1
		}
	}
	s.data.mappings = append(s.data.mappings, mapping{event: ev, branchID: branchID, accountID: accountID, version: version})
}

// AddBranch registers branch ids.
func (s *Store) AddBranch(ids ...int64) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.data.branches[id] = true
	}
	return s
}

// AddCustomer registers a customer with a credit limit and opening balance.
func (s *Store) AddCustomer(id int64, limit, balance decimal.Decimal) *Store {
	return s.addParty(credit.Party{ID: id, Kind: credit.PartyCustomer, Name: "customer", CreditLimit: limit, CurrentBalance: balance})
}

// AddSupplier registers a supplier with an opening balance.
func (s *Store) AddSupplier(id int64, balance decimal.Decimal) *Store {
	return s.addParty(credit.Party{ID: id, Kind: credit.PartySupplier, Name: "supplier", CurrentBalance: balance})
}

func (s *Store) addParty(p credit.Party) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = s.now()
	s.data.parties[partyKey{p.Kind, p.ID}] = p
	return s
}

// SetStock overwrites the quantity on hand.
func (s *Store) SetStock(variantID, branchID int64, qty decimal.Decimal) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := inventory.Key{VariantID: variantID, BranchID: branchID}
	s.data.stock[key] = inventory.Stock{VariantID: variantID, BranchID: branchID, Quantity: qty, UpdatedAt: s.now()}
	return s
}

// Party returns the committed party row.
func (s *Store) Party(kind credit.PartyKind, id int64) credit.Party {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.parties[partyKey{kind, id}]
}

// StockOf returns the committed quantity on hand.
func (s *Store) StockOf(variantID, branchID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.stock[inventory.Key{VariantID: variantID, BranchID: branchID}].Quantity
}

// Movements returns the committed stock card entries of a key, oldest first.
func (s *Store) Movements(variantID, branchID int64) []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Movement
	for _, m := range s.data.movements {
		if m.VariantID == variantID && m.BranchID == branchID {
			out = append(out, m)
		}
	}
	return out
}

// Journals returns every committed journal entry in id order.
func (s *Store) Journals() []ledger.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.JournalEntry, 0, len(s.data.journals))
	for _, e := range s.data.journals {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AccountNet is debit minus credit across all journals for the account code.
func (s *Store) AccountNet(code string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accountID int64
	for _, a := range s.data.accounts {
		if a.Code == code {
			accountID = a.ID
		}
	}
	net := decimal.Zero
	for _, e := range s.data.journals {
		for _, l := range e.Lines {
			if l.AccountID == accountID {
				net = net.Add(l.Debit).Sub(l.Credit)
			}
		}
	}
	return net
}

// Orders returns every committed order in id order.
func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.data.orders))
	for _, o := range s.data.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Receipts returns every committed goods receipt.
func (s *Store) Receipts() []orders.GoodsReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.GoodsReceipt(nil), s.data.receipts...)
}

// Payments returns every committed payment in id order.
func (s *Store) Payments() []payments.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Tx{d: s.data, now: s.now}
	out := make([]payments.Payment, 0, len(s.data.payments))
	for id := range s.data.payments {
		p, _ := tx.payment(id)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Summaries returns every committed end-of-day summary in id order.
func (s *Store) Summaries() []eod.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eod.Summary, 0, len(s.data.summaries))
	for _, sum := range s.data.summaries {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuditLogs returns the committed audit trail.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.AuditLog(nil), s.data.audit...)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
