package orders

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

func TestCreditHappyPathTable(t *testing.T) {
	path := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusPendingApproval, ActionApprove, StatusApproved},
		{StatusApproved, ActionStartProduction, StatusInProduction},
		{StatusInProduction, ActionFinishProduction, StatusProduced},
		{StatusProduced, ActionMarkReady, StatusReadyToShip},
		{StatusReadyToShip, ActionShip, StatusShipped},
		{StatusShipped, ActionDeliver, StatusDelivered},
	}
	for _, step := range path {
		tr, err := lookup(Order{Kind: KindCredit, Status: step.from}, step.action)
		require.NoError(t, err, step.action)
		require.Equal(t, step.to, tr.to)
	}
	require.Empty(t, AllowedActions(KindCredit, StatusDelivered))
}

func TestCancelAndRejectOnlyBeforeDispatch(t *testing.T) {
	for _, from := range preDispatch {
		_, err := lookup(Order{Kind: KindCredit, Status: from}, ActionCancel)
		require.NoError(t, err, from)
		_, err = lookup(Order{Kind: KindCredit, Status: from}, ActionReject)
		require.NoError(t, err, from)
	}
	for _, from := range []Status{StatusShipped, StatusDelivered, StatusCancelled, StatusRejected} {
		_, err := lookup(Order{Kind: KindCredit, Status: from}, ActionCancel)
		var terr *shared.InvalidTransitionError
		require.ErrorAs(t, err, &terr, from)
	}
}

func TestEscalatedApprovalNeedsSuperadmin(t *testing.T) {
	tr, err := lookup(Order{Kind: KindCredit, Status: StatusEscalated}, ActionApprove)
	require.NoError(t, err)

	var forbidden *shared.ForbiddenError
	require.ErrorAs(t, tr.guard(shared.Actor{ID: 1, Role: shared.RoleApprover}, Order{}), &forbidden)
	require.NoError(t, tr.guard(shared.Actor{ID: 1, Role: shared.RoleSuperadmin}, Order{}))

	tr, err = lookup(Order{Kind: KindCredit, Status: StatusPendingApproval}, ActionApprove)
	require.NoError(t, err)
	require.ErrorAs(t, tr.guard(shared.Actor{ID: 1, Role: shared.RoleStaff}, Order{}), &forbidden)
	require.NoError(t, tr.guard(shared.Actor{ID: 1, Role: shared.RoleApprover}, Order{}))
}

func TestPOSHasNoTransitions(t *testing.T) {
	require.Equal(t, StatusCompleted, InitialStatus(KindPOS))
	_, err := lookup(Order{Kind: KindPOS, Status: StatusCompleted}, ActionCancel)
	var terr *shared.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "pos", terr.Kind)
}

func TestPurchaseTable(t *testing.T) {
	require.Equal(t, StatusActive, InitialStatus(KindPurchase))
	require.Equal(t, []Action{ActionCancel, ActionClose, ActionReceive}, AllowedActions(KindPurchase, StatusActive))
	require.Equal(t, []Action{ActionClose}, AllowedActions(KindPurchase, StatusCompleted))
	require.Empty(t, AllowedActions(KindPurchase, StatusClosed))
}
