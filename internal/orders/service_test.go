package orders_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/notify"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/sequence"
	"github.com/flourmill-erp/flourmill/internal/shared"
	"github.com/flourmill-erp/flourmill/internal/testing/memstore"
)

const (
	branch   = int64(1)
	customer = int64(10)
	supplier = int64(20)
	flour    = int64(100)
	bran     = int64(101)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func as(role shared.Role) context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: 7, Role: role})
}

type fixture struct {
	store  *memstore.Store
	svc    *orders.Service
	events *notify.Recorder
}

func newFixture(t *testing.T, store *memstore.Store) *fixture {
	t.Helper()
	events := &notify.Recorder{}
	svc := orders.NewService(orders.Dependencies{
		Repo:     store.OrderRepo(),
		Ledger:   ledger.NewEngine(ledger.Config{}, nil, nil),
		Numbers:  sequence.NewGenerator(nil),
		Notifier: events,
	})
	return &fixture{store: store, svc: svc, events: events}
}

func seeded() *memstore.Store {
	return memstore.New().SeedChart().AddBranch(branch)
}

func creditOrder(amount string) orders.CreateInput {
	return orders.CreateInput{
		Kind:     orders.KindCredit,
		PartyID:  customer,
		BranchID: branch,
		Lines:    []orders.LineInput{{VariantID: flour, Quantity: d("1"), UnitPrice: d(amount)}},
	}
}

func posSale(qty, price, discount string) orders.CreateInput {
	return orders.CreateInput{
		Kind:          orders.KindPOS,
		BranchID:      branch,
		PaymentMethod: orders.MethodCash,
		Discount:      d(discount),
		Lines:         []orders.LineInput{{VariantID: flour, Quantity: d(qty), UnitPrice: d(price)}},
	}
}

func TestCreditOrderOverLimitIsRejected(t *testing.T) {
	f := newFixture(t, seeded().AddCustomer(customer, d("10000"), d("9000")))

	_, err := f.svc.Create(as(shared.RoleStaff), creditOrder("1500"))

	var creditErr *shared.InsufficientCreditError
	require.ErrorAs(t, err, &creditErr)
	require.True(t, creditErr.Available.Equal(d("1000")))
	require.Empty(t, f.store.Orders())
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("9000")))
	require.Empty(t, f.events.Events())
}

func TestCreditOrderEscalatesAboveRatio(t *testing.T) {
	f := newFixture(t, seeded().AddCustomer(customer, d("1000"), decimal.Zero))
	ctx := as(shared.RoleStaff)

	large, err := f.svc.Create(ctx, creditOrder("850"))
	require.NoError(t, err)
	require.Equal(t, orders.StatusEscalated, large.Status)
	require.NotNil(t, large.Decision)
	require.Equal(t, "Pending Superadmin Approval", large.Decision.StatusLabel)

	small, err := f.svc.Create(ctx, creditOrder("500"))
	require.NoError(t, err)
	require.Equal(t, orders.StatusPendingApproval, small.Status)

	// An approver cannot clear the escalated tier.
	_, err = f.svc.Transition(as(shared.RoleApprover), orders.TransitionInput{OrderID: large.OrderID, Action: orders.ActionApprove})
	var forbidden *shared.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	_, err = f.svc.Transition(as(shared.RoleSuperadmin), orders.TransitionInput{OrderID: large.OrderID, Action: orders.ActionApprove})
	require.NoError(t, err)
}

func TestCreditBalanceRisesOnlyOnApproval(t *testing.T) {
	f := newFixture(t, seeded().AddCustomer(customer, d("50000"), d("10000")))

	created, err := f.svc.Create(as(shared.RoleStaff), creditOrder("5000"))
	require.NoError(t, err)
	require.Equal(t, orders.StatusPendingApproval, created.Status)
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("10000")))
	require.Empty(t, f.store.Journals())

	_, err = f.svc.Transition(as(shared.RoleStaff), orders.TransitionInput{OrderID: created.OrderID, Action: orders.ActionApprove})
	var forbidden *shared.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	state, err := f.svc.Transition(as(shared.RoleApprover), orders.TransitionInput{OrderID: created.OrderID, Action: orders.ActionApprove})
	require.NoError(t, err)
	require.Equal(t, orders.StatusApproved, state.Status)
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("15000")))

	journals := f.store.Journals()
	require.Len(t, journals, 1)
	require.Equal(t, ledger.OriginCreditOrder, journals[0].OriginType)
	require.Equal(t, created.OrderID, journals[0].OriginID)
	require.True(t, f.store.AccountNet("1100").Equal(d("5000")))
	require.True(t, f.store.AccountNet("4000").Equal(d("-5000")))

	order, err := f.svc.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	require.True(t, order.Recognized.Equal(d("5000")))
	require.Equal(t, journals[0].ID, order.JournalID)
}

func TestPOSSaleBooksBalancedJournal(t *testing.T) {
	f := newFixture(t, seeded().SetStock(flour, branch, d("10")))

	created, err := f.svc.Create(as(shared.RoleStaff), posSale("2", "100", "20"))
	require.NoError(t, err)
	require.Equal(t, orders.StatusCompleted, created.Status)
	require.True(t, strings.HasPrefix(created.OrderNumber, "ORD-1-"))
	require.True(t, strings.HasSuffix(created.OrderNumber, "-0001"))

	order, err := f.svc.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	require.True(t, order.Subtotal.Equal(d("200")))
	require.True(t, order.Total.Equal(d("180")))
	require.True(t, order.Paid.Equal(d("180")))
	require.True(t, order.BalanceDue.IsZero())
	require.True(t, order.StockDeducted)
	require.Equal(t, "paid", order.PaymentStatus())

	journals := f.store.Journals()
	require.Len(t, journals, 1)
	totals := journals[0].Totals()
	require.True(t, totals.Debit.Equal(d("200")))
	require.True(t, totals.Debit.Equal(totals.Credit))
	require.True(t, f.store.AccountNet("1000").Equal(d("180")))
	require.True(t, f.store.AccountNet("4100").Equal(d("20")))
	require.True(t, f.store.AccountNet("4000").Equal(d("-200")))

	require.True(t, f.store.StockOf(flour, branch).Equal(d("8")))
	movements := f.store.Movements(flour, branch)
	require.Len(t, movements, 1)
	require.True(t, movements[0].Balance.Equal(d("8")))
	require.Equal(t, []string{notify.EventOrderCreated}, f.events.Types())
}

func TestCreateRetriedAfterDeadlockBooksSaleOnce(t *testing.T) {
	store := seeded().SetStock(flour, branch, d("10"))
	f := newFixture(t, store)
	before := store.Attempts()
	store.FailCommits(1)

	created, err := f.svc.Create(as(shared.RoleStaff), posSale("2", "100", "20"))
	require.NoError(t, err)
	require.Equal(t, 2, store.Attempts()-before)

	order, err := f.svc.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	require.True(t, order.Paid.Equal(d("180")), "paid %s", order.Paid)
	require.True(t, order.BalanceDue.IsZero(), "balance due %s", order.BalanceDue)
	require.True(t, order.Recognized.Equal(d("180")))

	journals := f.store.Journals()
	require.Len(t, journals, 1)
	require.Equal(t, journals[0].ID, order.JournalID)
	require.Equal(t, order.ID, journals[0].OriginID)
	require.Len(t, f.store.Orders(), 1)
	require.True(t, f.store.StockOf(flour, branch).Equal(d("8")))
	require.Len(t, f.store.Movements(flour, branch), 1)
	require.True(t, f.store.AccountNet("1000").Equal(d("180")))
}

func TestGoodsReceiptRetriedAfterDeadlockReceivesOnce(t *testing.T) {
	store := seeded().AddSupplier(supplier, decimal.Zero)
	f := newFixture(t, store)
	staff := as(shared.RoleStaff)

	created, err := f.svc.Create(staff, orders.CreateInput{
		Kind:     orders.KindPurchase,
		PartyID:  supplier,
		BranchID: branch,
		Lines: []orders.LineInput{
			{VariantID: bran, Quantity: d("3"), UnitPrice: d("10")},
			{VariantID: flour, Quantity: d("10"), UnitPrice: d("30")},
		},
	})
	require.NoError(t, err)
	order, err := f.svc.Get(context.Background(), created.OrderID)
	require.NoError(t, err)

	store.FailCommits(1)
	receipt, err := f.svc.ReceiveGoods(staff, orders.ReceiveInput{
		OrderID: created.OrderID,
		Lines: []orders.ReceiveLine{
			{LineID: order.Lines[0].ID, Quantity: d("3")},
			{LineID: order.Lines[1].ID, Quantity: d("10")},
		},
	})
	require.NoError(t, err)
	require.True(t, receipt.Value.Equal(d("330")))

	require.True(t, f.store.StockOf(flour, branch).Equal(d("10")))
	require.True(t, f.store.StockOf(bran, branch).Equal(d("3")))
	require.Len(t, f.store.Receipts(), 1)
	require.Len(t, f.store.Journals(), 1)
	require.True(t, f.store.Party(credit.PartySupplier, supplier).CurrentBalance.Equal(d("330")))

	order, err = f.svc.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusCompleted, order.Status)
	require.True(t, order.Recognized.Equal(d("330")))
}

func TestPOSOnAccountRaisesCustomerBalance(t *testing.T) {
	f := newFixture(t, seeded().SetStock(flour, branch, d("10")).AddCustomer(customer, d("1000"), decimal.Zero))
	in := posSale("1", "300", "0")
	in.PaymentMethod = orders.MethodOnAccount
	in.PartyID = customer

	created, err := f.svc.Create(as(shared.RoleStaff), in)
	require.NoError(t, err)
	require.NotNil(t, created.Decision)

	order, err := f.svc.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	require.True(t, order.Paid.IsZero())
	require.True(t, order.BalanceDue.Equal(d("300")))
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("300")))
	require.True(t, f.store.AccountNet("1100").Equal(d("300")))

	in.Lines[0].UnitPrice = d("800")
	_, err = f.svc.Create(as(shared.RoleStaff), in)
	var creditErr *shared.InsufficientCreditError
	require.ErrorAs(t, err, &creditErr)
}

func TestMissingAccountRollsBackEverything(t *testing.T) {
	f := newFixture(t, memstore.New().SeedChart(ledger.EventSalesDiscount).AddBranch(branch).SetStock(flour, branch, d("10")))
	ctx := as(shared.RoleStaff)

	_, err := f.svc.Create(ctx, posSale("2", "100", "20"))
	var missing *shared.AccountNotFoundError
	require.ErrorAs(t, err, &missing)
	require.True(t, shared.IsFatal(err))

	require.Empty(t, f.store.Orders())
	require.Empty(t, f.store.Journals())
	require.Empty(t, f.store.Movements(flour, branch))
	require.True(t, f.store.StockOf(flour, branch).Equal(d("10")))

	// The number taken by the failed sale went back with the rollback.
	created, err := f.svc.Create(ctx, posSale("2", "100", "0"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(created.OrderNumber, "-0001"))
}

func TestConcurrentSalesGetDistinctNumbers(t *testing.T) {
	f := newFixture(t, seeded().SetStock(flour, branch, d("1000")))
	const n = 25

	numbers := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			created, err := f.svc.Create(as(shared.RoleStaff), posSale("1", "10", "0"))
			if err != nil {
				return err
			}
			numbers[i] = created.OrderNumber
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := map[string]bool{}
	for _, num := range numbers {
		require.False(t, seen[num], "duplicate number %s", num)
		seen[num] = true
	}
	require.Len(t, seen, n)
	require.True(t, f.store.StockOf(flour, branch).Equal(d("975")))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t, seeded().SetStock(flour, branch, d("5")))
	const n = 12

	var sold, refused atomic.Int32
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := f.svc.Create(as(shared.RoleStaff), posSale("1", "10", "0"))
			var stockErr *shared.InsufficientStockError
			switch {
			case err == nil:
				sold.Add(1)
			case errors.As(err, &stockErr):
				refused.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.EqualValues(t, 5, sold.Load())
	require.EqualValues(t, n-5, refused.Load())
	require.True(t, f.store.StockOf(flour, branch).IsZero())
	require.Len(t, f.store.Orders(), 5)
}

func TestCreditOrderLifecycleDeductsStockAtShipment(t *testing.T) {
	f := newFixture(t, seeded().AddCustomer(customer, d("10000"), decimal.Zero).SetStock(flour, branch, d("3")))
	staff, approver := as(shared.RoleStaff), as(shared.RoleApprover)

	in := creditOrder("400")
	in.Draft = true
	created, err := f.svc.Create(staff, in)
	require.NoError(t, err)
	require.Equal(t, orders.StatusDraft, created.Status)

	steps := []struct {
		ctx    context.Context
		action orders.Action
		want   orders.Status
	}{
		{staff, orders.ActionSubmit, orders.StatusPendingApproval},
		{approver, orders.ActionApprove, orders.StatusApproved},
		{staff, orders.ActionStartProduction, orders.StatusInProduction},
		{staff, orders.ActionFinishProduction, orders.StatusProduced},
		{staff, orders.ActionMarkReady, orders.StatusReadyToShip},
		{staff, orders.ActionShip, orders.StatusShipped},
		{staff, orders.ActionDeliver, orders.StatusDelivered},
	}
	for _, step := range steps {
		state, err := f.svc.Transition(step.ctx, orders.TransitionInput{OrderID: created.OrderID, Action: step.action})
		require.NoError(t, err, step.action)
		require.Equal(t, step.want, state.Status, step.action)
		if step.action != orders.ActionShip && step.action != orders.ActionDeliver {
			require.True(t, f.store.StockOf(flour, branch).Equal(d("3")), step.action)
		}
	}
	require.True(t, f.store.StockOf(flour, branch).Equal(d("2")))

	history, err := f.svc.History(context.Background(), created.OrderID)
	require.NoError(t, err)
	require.Len(t, history, len(steps)+1)
	require.Equal(t, orders.ActionCreate, history[0].Action)
	require.Equal(t, orders.StatusShipped, history[len(history)-1].From)

	_, err = f.svc.Transition(approver, orders.TransitionInput{OrderID: created.OrderID, Action: orders.ActionCancel})
	var invalid *shared.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestCancelAfterApprovalUnwindsLedgerAndBalance(t *testing.T) {
	f := newFixture(t, seeded().AddCustomer(customer, d("10000"), d("1000")))
	approver := as(shared.RoleApprover)

	created, err := f.svc.Create(as(shared.RoleStaff), creditOrder("2000"))
	require.NoError(t, err)
	_, err = f.svc.Transition(approver, orders.TransitionInput{OrderID: created.OrderID, Action: orders.ActionApprove})
	require.NoError(t, err)
	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("3000")))

	_, err = f.svc.Transition(as(shared.RoleStaff), orders.TransitionInput{OrderID: created.OrderID, Action: orders.ActionCancel})
	var forbidden *shared.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	state, err := f.svc.Transition(approver, orders.TransitionInput{OrderID: created.OrderID, Action: orders.ActionCancel, Comments: "customer withdrew"})
	require.NoError(t, err)
	require.Equal(t, orders.StatusCancelled, state.Status)

	require.True(t, f.store.Party(credit.PartyCustomer, customer).CurrentBalance.Equal(d("1000")))
	require.True(t, f.store.AccountNet("1100").IsZero())
	require.True(t, f.store.AccountNet("4000").IsZero())
	journals := f.store.Journals()
	require.Len(t, journals, 2)
	require.Equal(t, ledger.OriginReversal, journals[1].OriginType)
}

func TestGoodsReceiptsRecognisePayable(t *testing.T) {
	f := newFixture(t, seeded().AddSupplier(supplier, decimal.Zero))
	staff := as(shared.RoleStaff)

	created, err := f.svc.Create(staff, orders.CreateInput{
		Kind:     orders.KindPurchase,
		PartyID:  supplier,
		BranchID: branch,
		Lines: []orders.LineInput{
			{VariantID: flour, Quantity: d("10"), UnitPrice: d("30")},
			{VariantID: bran, Quantity: d("3"), UnitPrice: d("10")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, orders.StatusActive, created.Status)
	require.True(t, strings.HasPrefix(created.OrderNumber, "PO-"))
	require.Empty(t, f.store.Journals())

	order, err := f.svc.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	flourLine, branLine := order.Lines[0].ID, order.Lines[1].ID

	first, err := f.svc.ReceiveGoods(staff, orders.ReceiveInput{
		OrderID: created.OrderID,
		Lines:   []orders.ReceiveLine{{LineID: flourLine, Quantity: d("4")}},
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first.Number, "GRN-"))
	require.True(t, first.Value.Equal(d("120")))
	require.True(t, f.store.StockOf(flour, branch).Equal(d("4")))
	require.True(t, f.store.Party(credit.PartySupplier, supplier).CurrentBalance.Equal(d("120")))

	order, err = f.svc.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusPartiallyReceived, order.Status)
	require.Equal(t, "partial", order.DeliveryStatus())

	_, err = f.svc.ReceiveGoods(staff, orders.ReceiveInput{
		OrderID: created.OrderID,
		Lines:   []orders.ReceiveLine{{LineID: flourLine, Quantity: d("7")}},
	})
	var invalid *shared.ValidationError
	require.ErrorAs(t, err, &invalid)

	second, err := f.svc.ReceiveGoods(staff, orders.ReceiveInput{
		OrderID: created.OrderID,
		Lines: []orders.ReceiveLine{
			{LineID: flourLine, Quantity: d("6")},
			{LineID: branLine, Quantity: d("3")},
		},
	})
	require.NoError(t, err)
	require.True(t, second.Value.Equal(d("210")))

	order, err = f.svc.Get(context.Background(), created.OrderID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusCompleted, order.Status)
	require.True(t, order.Recognized.Equal(order.Total))
	require.True(t, f.store.AccountNet("1200").Equal(d("330")))
	require.True(t, f.store.AccountNet("2000").Equal(d("-330")))
	require.Len(t, f.store.Receipts(), 2)

	_, err = f.svc.ReceiveGoods(staff, orders.ReceiveInput{
		OrderID: created.OrderID,
		Lines:   []orders.ReceiveLine{{LineID: branLine, Quantity: d("1")}},
	})
	var transition *shared.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
}

func TestCreateRequiresActor(t *testing.T) {
	f := newFixture(t, seeded())
	_, err := f.svc.Create(context.Background(), posSale("1", "10", "0"))
	var invalid *shared.ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "actor", invalid.Field)
}
