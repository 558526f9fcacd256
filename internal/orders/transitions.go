package orders

import (
	"sort"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

// guard vets the actor and order before a transition runs.
type guard func(actor shared.Actor, o Order) error

type transition struct {
	// to is empty when the side effect decides the target (credit submit).
	to    Status
	guard guard
}

func anyone(shared.Actor, Order) error { return nil }

func approver(action Action) guard {
	return func(actor shared.Actor, _ Order) error {
		if !actor.CanApprove() {
			return &shared.ForbiddenError{Action: string(action), Role: actor.Role}
		}
		return nil
	}
}

func superadmin(action Action) guard {
	return func(actor shared.Actor, _ Order) error {
		if !actor.IsSuperadmin() {
			return &shared.ForbiddenError{Action: string(action), Role: actor.Role}
		}
		return nil
	}
}

func nothingReceived(_ shared.Actor, o Order) error {
	for _, l := range o.Lines {
		if l.Received.IsPositive() {
			return shared.Invalid("status", "goods already received; close the order instead")
		}
	}
	return nil
}

// preDispatch lists credit states from which reject and cancel are legal.
var preDispatch = []Status{
	StatusDraft, StatusPendingApproval, StatusEscalated, StatusApproved,
	StatusInProduction, StatusProduced, StatusReadyToShip,
}

var transitions = buildTransitions()

func buildTransitions() map[Kind]map[Status]map[Action]transition {
	t := map[Kind]map[Status]map[Action]transition{
		KindCredit:   {},
		KindPurchase: {},
		KindPOS:      {},
	}
	add := func(kind Kind, from Status, action Action, to Status, g guard) {
		if t[kind][from] == nil {
			t[kind][from] = map[Action]transition{}
		}
		t[kind][from][action] = transition{to: to, guard: g}
	}

	add(KindCredit, StatusDraft, ActionSubmit, "", anyone)
	add(KindCredit, StatusPendingApproval, ActionApprove, StatusApproved, approver(ActionApprove))
	add(KindCredit, StatusEscalated, ActionApprove, StatusApproved, superadmin(ActionApprove))
	add(KindCredit, StatusApproved, ActionStartProduction, StatusInProduction, anyone)
	add(KindCredit, StatusInProduction, ActionFinishProduction, StatusProduced, anyone)
	add(KindCredit, StatusProduced, ActionMarkReady, StatusReadyToShip, anyone)
	add(KindCredit, StatusReadyToShip, ActionShip, StatusShipped, anyone)
	add(KindCredit, StatusShipped, ActionDeliver, StatusDelivered, anyone)
	for _, from := range preDispatch {
		switch from {
		case StatusEscalated:
			add(KindCredit, from, ActionReject, StatusRejected, superadmin(ActionReject))
		default:
			add(KindCredit, from, ActionReject, StatusRejected, approver(ActionReject))
		}
		switch from {
		case StatusDraft, StatusPendingApproval, StatusEscalated:
			add(KindCredit, from, ActionCancel, StatusCancelled, anyone)
		default:
			// Money has moved once approved; undoing it needs authority.
			add(KindCredit, from, ActionCancel, StatusCancelled, approver(ActionCancel))
		}
	}

	add(KindPurchase, StatusActive, ActionReceive, "", anyone)
	add(KindPurchase, StatusPartiallyReceived, ActionReceive, "", anyone)
	add(KindPurchase, StatusActive, ActionCancel, StatusCancelled, nothingReceived)
	add(KindPurchase, StatusActive, ActionClose, StatusClosed, approver(ActionClose))
	add(KindPurchase, StatusPartiallyReceived, ActionClose, StatusClosed, approver(ActionClose))
	add(KindPurchase, StatusCompleted, ActionClose, StatusClosed, anyone)

	return t
}

// lookup returns the transition for action from the order's current state.
func lookup(o Order, action Action) (transition, error) {
	tr, ok := transitions[o.Kind][o.Status][action]
	if !ok {
		return transition{}, &shared.InvalidTransitionError{Kind: string(o.Kind), From: string(o.Status), Action: string(action)}
	}
	return tr, nil
}

// AllowedActions lists the actions legal from status, ignoring actor guards.
func AllowedActions(kind Kind, status Status) []Action {
	var out []Action
	for action := range transitions[kind][status] {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InitialStatus is the state a freshly created order of kind enters before
// any credit decision.
func InitialStatus(kind Kind) Status {
	switch kind {
	case KindPurchase:
		return StatusActive
	case KindPOS:
		return StatusCompleted
	}
	return StatusDraft
}
