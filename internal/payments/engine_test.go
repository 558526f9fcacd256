package payments_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/notify"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/payments"
	"github.com/flourmill-erp/flourmill/internal/sequence"
	"github.com/flourmill-erp/flourmill/internal/shared"
	"github.com/flourmill-erp/flourmill/internal/testing/memstore"
)

const (
	branch   = int64(1)
	customer = int64(10)
	other    = int64(11)
	supplier = int64(20)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	staff    = shared.ContextWithActor(context.Background(), shared.Actor{ID: 3, Role: shared.RoleStaff})
	approver = shared.ContextWithActor(context.Background(), shared.Actor{ID: 4, Role: shared.RoleApprover})
)

type fixture struct {
	store  *memstore.Store
	orders *orders.Service
	engine *payments.Engine
	events *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New().SeedChart().AddBranch(branch).
		AddCustomer(customer, d("100000"), decimal.Zero).
		AddCustomer(other, d("100000"), decimal.Zero).
		AddSupplier(supplier, decimal.Zero)
	engine := ledger.NewEngine(ledger.Config{}, nil, nil)
	numbers := sequence.NewGenerator(nil)
	events := &notify.Recorder{}
	return &fixture{
		store: store,
		orders: orders.NewService(orders.Dependencies{
			Repo:    store.OrderRepo(),
			Ledger:  engine,
			Numbers: numbers,
		}),
		engine: payments.NewEngine(store.PaymentRepo(), engine, numbers, events, nil, nil, nil),
		events: events,
	}
}

// creditOrder creates a credit order and, when approve is set, approves it so
// its value is due.
func (f *fixture) creditOrder(t *testing.T, party int64, amount string, approve bool) int64 {
	t.Helper()
	created, err := f.orders.Create(staff, orders.CreateInput{
		Kind:     orders.KindCredit,
		PartyID:  party,
		BranchID: branch,
		Lines:    []orders.LineInput{{VariantID: 100, Quantity: d("1"), UnitPrice: d(amount)}},
	})
	require.NoError(t, err)
	if approve {
		_, err = f.orders.Transition(approver, orders.TransitionInput{OrderID: created.OrderID, Action: orders.ActionApprove})
		require.NoError(t, err)
	}
	return created.OrderID
}

func (f *fixture) order(t *testing.T, id int64) orders.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func requireConserved(t *testing.T, res payments.AllocationResult) {
	t.Helper()
	require.True(t, res.Allocated.Add(res.Unallocated).Equal(res.Amount),
		"allocated %s + unallocated %s != amount %s", res.Allocated, res.Unallocated, res.Amount)
	sum := decimal.Zero
	for _, a := range res.Allocations {
		sum = sum.Add(a.Amount)
	}
	require.True(t, sum.Equal(res.Allocated))
}

func TestFIFOSettlesOldestOrderFirst(t *testing.T) {
	f := newFixture(t)
	first := f.creditOrder(t, customer, "1000", true)
	second := f.creditOrder(t, customer, "500", true)
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("1500")))

	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		Amount:    d("1200"),
		Method:    orders.MethodCash,
	})
	require.NoError(t, err)
	requireConserved(t, res)
	require.True(t, strings.HasPrefix(res.VoucherNumber, "PV-"))
	require.False(t, res.Advance)
	require.True(t, res.Unallocated.IsZero())
	require.Len(t, res.Allocations, 2)
	require.Equal(t, first, res.Allocations[0].OrderID)
	require.True(t, res.Allocations[0].Amount.Equal(d("1000")))
	require.Equal(t, second, res.Allocations[1].OrderID)
	require.True(t, res.Allocations[1].Amount.Equal(d("200")))

	require.True(t, f.order(t, first).BalanceDue.IsZero())
	require.Equal(t, "paid", f.order(t, first).PaymentStatus())
	require.True(t, f.order(t, second).BalanceDue.Equal(d("300")))
	require.Equal(t, "partial", f.order(t, second).PaymentStatus())

	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("300")))
	require.True(t, f.store.AccountNet("1000").Equal(d("1200")))
	require.True(t, f.store.AccountNet("1100").Equal(d("300")))

	journal := f.store.Journals()[len(f.store.Journals())-1]
	require.Equal(t, ledger.OriginPayment, journal.OriginType)
	require.Equal(t, res.PaymentID, journal.OriginID)
	require.Equal(t, res.JournalID, journal.ID)

	stored, err := f.engine.Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	require.Equal(t, res.JournalID, stored.JournalID)
	require.Len(t, stored.Allocations, 2)
	require.Equal(t, []string{notify.EventPaymentSettled}, f.events.Types())
}

func TestOverpaymentBecomesAdvance(t *testing.T) {
	f := newFixture(t)
	f.creditOrder(t, customer, "1000", true)
	f.creditOrder(t, customer, "500", true)

	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		Amount:    d("2000"),
		Method:    orders.MethodBank,
	})
	require.NoError(t, err)
	requireConserved(t, res)
	require.True(t, res.Allocated.Equal(d("1500")))
	require.True(t, res.Unallocated.Equal(d("500")))
	require.True(t, res.AdvanceAmount.Equal(d("500")))
	require.True(t, res.Advance)

	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("-500")))
	require.True(t, f.store.AccountNet("1010").Equal(d("2000")))
	require.True(t, f.store.AccountNet("1100").IsZero())
	require.True(t, f.store.AccountNet("2100").Equal(d("-500")))
	require.Equal(t, []string{notify.EventPaymentAdvance}, f.events.Types())
}

func TestExplicitTargetHonoursCap(t *testing.T) {
	f := newFixture(t)
	first := f.creditOrder(t, customer, "1000", true)
	second := f.creditOrder(t, customer, "500", true)

	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		Amount:    d("400"),
		Method:    orders.MethodCash,
		Targets:   []payments.Target{{OrderID: second, Amount: d("300")}},
	})
	require.NoError(t, err)
	requireConserved(t, res)
	require.Len(t, res.Allocations, 1)
	require.True(t, res.Allocations[0].Amount.Equal(d("300")))
	require.True(t, res.Unallocated.Equal(d("100")))
	require.True(t, res.AdvanceAmount.Equal(d("100")))

	require.True(t, f.order(t, first).BalanceDue.Equal(d("1000")))
	require.True(t, f.order(t, second).BalanceDue.Equal(d("200")))
}

func TestPrepaymentIsHeldAsAdvanceUntilApproval(t *testing.T) {
	f := newFixture(t)
	pending := f.creditOrder(t, customer, "800", false)

	// FIFO never touches value that is not yet due.
	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		Amount:    d("100"),
		Method:    orders.MethodCash,
	})
	require.NoError(t, err)
	require.Empty(t, res.Allocations)
	require.True(t, res.Unallocated.Equal(d("100")))

	res, err = f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		Amount:    d("800"),
		Method:    orders.MethodCash,
		Targets:   []payments.Target{{OrderID: pending}},
	})
	require.NoError(t, err)
	requireConserved(t, res)
	require.True(t, res.Allocated.Equal(d("800")))
	require.True(t, res.AdvanceAmount.Equal(d("800")))
	require.True(t, f.store.AccountNet("2100").Equal(d("-900")))
	require.True(t, f.order(t, pending).BalanceDue.IsZero())

	_, err = f.orders.Transition(approver, orders.TransitionInput{OrderID: pending, Action: orders.ActionApprove})
	require.NoError(t, err)

	require.True(t, f.store.AccountNet("1100").IsZero())
	require.True(t, f.store.AccountNet("2100").Equal(d("-100")))
	require.True(t, f.store.AccountNet("4000").Equal(d("-800")))
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("-100")))
}

func TestIdempotencyKeyIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.creditOrder(t, customer, "1000", true)
	in := payments.AllocateInput{
		PartyKind:      credit.PartyCustomer,
		PartyID:        customer,
		Amount:         d("250"),
		Method:         orders.MethodCard,
		IdempotencyKey: "till-7-0001",
	}

	_, err := f.engine.Allocate(staff, in)
	require.NoError(t, err)
	_, err = f.engine.Allocate(staff, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	require.Len(t, f.store.Payments(), 1)
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("750")))
}

func TestRejectedPaymentReleasesItsKey(t *testing.T) {
	f := newFixture(t)
	mine := f.creditOrder(t, customer, "1000", true)
	theirs := f.creditOrder(t, other, "1000", true)
	in := payments.AllocateInput{
		PartyKind:      credit.PartyCustomer,
		PartyID:        customer,
		Amount:         d("100"),
		Method:         orders.MethodCash,
		IdempotencyKey: "retry-me",
		Targets:        []payments.Target{{OrderID: theirs}},
	}

	_, err := f.engine.Allocate(staff, in)
	var invalid *shared.ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Empty(t, f.store.Payments())

	in.Targets = []payments.Target{{OrderID: mine}}
	res, err := f.engine.Allocate(staff, in)
	require.NoError(t, err)
	require.True(t, res.Allocated.Equal(d("100")))
}

func TestSupplierPaymentSettlesPayable(t *testing.T) {
	f := newFixture(t)
	created, err := f.orders.Create(staff, orders.CreateInput{
		Kind:     orders.KindPurchase,
		PartyID:  supplier,
		BranchID: branch,
		Lines:    []orders.LineInput{{VariantID: 200, Quantity: d("10"), UnitPrice: d("30")}},
	})
	require.NoError(t, err)
	po := f.order(t, created.OrderID)
	_, err = f.orders.ReceiveGoods(staff, orders.ReceiveInput{
		OrderID: po.ID,
		Lines:   []orders.ReceiveLine{{LineID: po.Lines[0].ID, Quantity: d("10")}},
	})
	require.NoError(t, err)
	require.True(t, f.store.Party(credit.PartySupplier, supplier).CurrentBalance.Equal(d("300")))

	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartySupplier,
		PartyID:   supplier,
		Amount:    d("300"),
		Method:    orders.MethodBank,
	})
	require.NoError(t, err)
	requireConserved(t, res)
	require.False(t, res.Advance)

	require.True(t, f.order(t, po.ID).BalanceDue.IsZero())
	require.True(t, f.store.Party(credit.PartySupplier, supplier).CurrentBalance.IsZero())
	require.True(t, f.store.AccountNet("2000").IsZero())
	require.True(t, f.store.AccountNet("1010").Equal(d("-300")))
}

func TestEveryPaymentJournalBalances(t *testing.T) {
	f := newFixture(t)
	f.creditOrder(t, customer, "333.33", true)
	f.creditOrder(t, customer, "66.67", true)
	for _, amount := range []string{"100.01", "250", "99.99", "1000"} {
		res, err := f.engine.Allocate(staff, payments.AllocateInput{
			PartyKind: credit.PartyCustomer,
			PartyID:   customer,
			Amount:    d(amount),
			Method:    orders.MethodMobile,
		})
		require.NoError(t, err)
		requireConserved(t, res)
	}
	for _, j := range f.store.Journals() {
		totals := j.Totals()
		require.True(t, totals.Debit.Equal(totals.Credit), "journal %d", j.ID)
	}
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("-1050")))
}

func TestAllocateValidatesInput(t *testing.T) {
	f := newFixture(t)
	cases := map[string]payments.AllocateInput{
		"party_kind": {PartyKind: "bank", PartyID: customer, Amount: d("1"), Method: orders.MethodCash},
		"amount":     {PartyKind: credit.PartyCustomer, PartyID: customer, Amount: d("0.001"), Method: orders.MethodCash},
		"method":     {PartyKind: credit.PartyCustomer, PartyID: customer, Amount: d("1"), Method: orders.MethodOnAccount},
		"branch_id":  {PartyKind: credit.PartyCustomer, PartyID: customer, BranchID: -1, Amount: d("1"), Method: orders.MethodCash},
		"targets[1].order_id": {PartyKind: credit.PartyCustomer, PartyID: customer, Amount: d("1"), Method: orders.MethodCash,
			Targets: []payments.Target{{OrderID: 5}, {OrderID: 5}}},
	}
	for field, in := range cases {
		_, err := f.engine.Allocate(staff, in)
		var invalid *shared.ValidationError
		require.ErrorAs(t, err, &invalid, field)
		require.Equal(t, field, invalid.Field)
	}
}

func TestUnallocatedAdvanceSettlesOrdersApprovedLater(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		Amount:    d("500"),
		Method:    orders.MethodCash,
	})
	require.NoError(t, err)
	require.Empty(t, res.Allocations)
	require.True(t, res.Unallocated.Equal(d("500")))

	first := f.creditOrder(t, customer, "300", true)
	o := f.order(t, first)
	require.True(t, o.Paid.Equal(d("300")))
	require.True(t, o.BalanceDue.IsZero())
	require.Equal(t, "paid", o.PaymentStatus())
	require.True(t, f.store.AccountNet("1100").IsZero())
	require.True(t, f.store.AccountNet("2100").Equal(d("-200")))
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("-200")))

	stored, err := f.engine.Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	require.True(t, stored.Allocated.Equal(d("300")))
	require.True(t, stored.Unallocated.Equal(d("200")))
	require.Len(t, stored.Allocations, 1)
	require.Equal(t, first, stored.Allocations[0].OrderID)

	second := f.creditOrder(t, customer, "350", true)
	o = f.order(t, second)
	require.True(t, o.Paid.Equal(d("200")))
	require.True(t, o.BalanceDue.Equal(d("150")))
	require.True(t, f.store.AccountNet("1100").Equal(d("150")))
	require.True(t, f.store.AccountNet("2100").IsZero())
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("150")))

	stored, err = f.engine.Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	require.True(t, stored.Unallocated.IsZero())
	require.Len(t, stored.Allocations, 2)
	for _, j := range f.store.Journals() {
		totals := j.Totals()
		require.True(t, totals.Debit.Equal(totals.Credit), "journal %d", j.ID)
	}
}

func TestApprovalRetriedAfterDeadlockDrawsAdvanceOnce(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		Amount:    d("500"),
		Method:    orders.MethodCash,
	})
	require.NoError(t, err)
	pending := f.creditOrder(t, customer, "300", false)

	f.store.FailCommits(1)
	_, err = f.orders.Transition(approver, orders.TransitionInput{OrderID: pending, Action: orders.ActionApprove})
	require.NoError(t, err)

	o := f.order(t, pending)
	require.True(t, o.Paid.Equal(d("300")))
	require.True(t, o.BalanceDue.IsZero())
	stored, err := f.engine.Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	require.True(t, stored.Unallocated.Equal(d("200")))
	require.Len(t, stored.Allocations, 1)
	require.True(t, f.store.AccountNet("2100").Equal(d("-200")))
}

func TestSupplierAdvanceSettlesPayableAtReceipt(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartySupplier,
		PartyID:   supplier,
		Amount:    d("200"),
		Method:    orders.MethodBank,
	})
	require.NoError(t, err)
	require.True(t, res.Advance)
	require.True(t, f.store.AccountNet("1300").Equal(d("200")))

	created, err := f.orders.Create(staff, orders.CreateInput{
		Kind:     orders.KindPurchase,
		PartyID:  supplier,
		BranchID: branch,
		Lines:    []orders.LineInput{{VariantID: 200, Quantity: d("10"), UnitPrice: d("30")}},
	})
	require.NoError(t, err)
	po := f.order(t, created.OrderID)

	_, err = f.orders.ReceiveGoods(staff, orders.ReceiveInput{
		OrderID: po.ID,
		Lines:   []orders.ReceiveLine{{LineID: po.Lines[0].ID, Quantity: d("4")}},
	})
	require.NoError(t, err)
	po = f.order(t, po.ID)
	require.True(t, po.Paid.Equal(d("120")))
	require.True(t, po.DueNow().IsZero())
	require.True(t, f.store.AccountNet("2000").IsZero())
	require.True(t, f.store.AccountNet("1300").Equal(d("80")))

	_, err = f.orders.ReceiveGoods(staff, orders.ReceiveInput{
		OrderID: po.ID,
		Lines:   []orders.ReceiveLine{{LineID: po.Lines[0].ID, Quantity: d("6")}},
	})
	require.NoError(t, err)
	po = f.order(t, po.ID)
	require.True(t, po.Paid.Equal(d("200")))
	require.True(t, po.BalanceDue.Equal(d("100")))
	require.True(t, f.store.AccountNet("2000").Equal(d("-100")))
	require.True(t, f.store.AccountNet("1300").IsZero())
	require.True(t, f.store.Party(credit.PartySupplier, supplier).CurrentBalance.Equal(d("100")))

	stored, err := f.engine.Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	require.True(t, stored.Unallocated.IsZero())
	require.Len(t, stored.Allocations, 2)
}

func TestCancelledOrderReturnsItsPaymentToTheAdvancePool(t *testing.T) {
	f := newFixture(t)
	first := f.creditOrder(t, customer, "400", true)
	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		Amount:    d("400"),
		Method:    orders.MethodCash,
	})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)

	_, err = f.orders.Transition(approver, orders.TransitionInput{OrderID: first, Action: orders.ActionCancel})
	require.NoError(t, err)
	o := f.order(t, first)
	require.True(t, o.Paid.IsZero())
	stored, err := f.engine.Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	require.True(t, stored.Unallocated.Equal(d("400")))
	require.Empty(t, stored.Allocations)
	require.True(t, f.store.AccountNet("1100").IsZero())
	require.True(t, f.store.AccountNet("2100").Equal(d("-400")))

	second := f.creditOrder(t, customer, "250", true)
	require.True(t, f.order(t, second).BalanceDue.IsZero())
	require.True(t, f.store.AccountNet("1100").IsZero())
	require.True(t, f.store.AccountNet("2100").Equal(d("-150")))
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("-150")))
}

func TestBranchPaymentLandsInBranchCash(t *testing.T) {
	f := newFixture(t)
	till := f.store.AddAccount(ledger.Account{Code: "1001", Name: "Cash on Hand - Branch 1", Type: ledger.AccountAsset, Subtype: "cash", BranchID: branch, Active: true})
	f.store.MapEvent(ledger.EventPaymentCash, branch, till)
	f.creditOrder(t, customer, "400", true)

	res, err := f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		BranchID:  branch,
		Amount:    d("250"),
		Method:    orders.MethodCash,
	})
	require.NoError(t, err)
	require.True(t, f.store.AccountNet("1001").Equal(d("250")))
	require.True(t, f.store.AccountNet("1000").IsZero())
	stored, err := f.engine.Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	require.Equal(t, branch, stored.BranchID)

	_, err = f.engine.Allocate(staff, payments.AllocateInput{
		PartyKind: credit.PartyCustomer,
		PartyID:   customer,
		Amount:    d("150"),
		Method:    orders.MethodCash,
	})
	require.NoError(t, err)
	require.True(t, f.store.AccountNet("1000").Equal(d("150")))
	require.True(t, f.store.AccountNet("1001").Equal(d("250")))
}
