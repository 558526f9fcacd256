package credit

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

type stubParties struct {
	parties map[int64]Party
}

func (s *stubParties) LockParty(_ context.Context, kind PartyKind, id int64) (Party, error) {
	p, ok := s.parties[id]
	if !ok || p.Kind != kind {
		return Party{}, shared.ErrNotFound
	}
	return p, nil
}

func (s *stubParties) AdjustPartyBalance(_ context.Context, _ PartyKind, id int64, delta decimal.Decimal) error {
	p := s.parties[id]
	p.CurrentBalance = p.CurrentBalance.Add(delta)
	s.parties[id] = p
	return nil
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func customer(id, limit, balance int64) *stubParties {
	return &stubParties{parties: map[int64]Party{id: {ID: id, Kind: PartyCustomer, CreditLimit: d(limit), CurrentBalance: d(balance)}}}
}

func TestUnpaidOverAvailableIsRejected(t *testing.T) {
	store := customer(1, 10000, 9000)
	decision, err := NewEvaluator(DefaultPolicy()).Evaluate(context.Background(), store, 1, d(1500), PaymentUnpaid)

	var creditErr *shared.InsufficientCreditError
	require.ErrorAs(t, err, &creditErr)
	require.True(t, creditErr.Available.Equal(d(1000)))
	require.False(t, decision.Allowed)
}

func TestEscalationTiers(t *testing.T) {
	eval := NewEvaluator(DefaultPolicy())
	cases := []struct {
		name   string
		amount int64
		tier   Tier
		label  string
	}{
		{"above ratio", 850, TierEscalated, "Pending Superadmin Approval"},
		{"below ratio", 500, TierNormal, "Pending Approval"},
		{"exactly ratio", 800, TierNormal, "Pending Approval"},
		{"whole headroom", 1000, TierEscalated, "Pending Superadmin Approval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := eval.Evaluate(context.Background(), customer(1, 10000, 9000), 1, d(tc.amount), PaymentUnpaid)
			require.NoError(t, err)
			require.True(t, decision.Allowed)
			require.Equal(t, tc.tier, decision.Tier)
			require.Equal(t, tc.label, decision.StatusLabel)
		})
	}
}

func TestExhaustedCreditEscalatesPrepaid(t *testing.T) {
	eval := NewEvaluator(DefaultPolicy())
	decision, err := eval.Evaluate(context.Background(), customer(1, 5000, 5000), 1, d(100), PaymentPrepaid)
	require.NoError(t, err)
	require.Equal(t, TierEscalated, decision.Tier)

	lenient := NewEvaluator(Policy{EscalationRatio: DefaultEscalationRatio, EscalateWhenExhausted: false})
	decision, err = lenient.Evaluate(context.Background(), customer(1, 5000, 5000), 1, d(100), PaymentPrepaid)
	require.NoError(t, err)
	require.Equal(t, TierNormal, decision.Tier)
}

func TestConfigurableRatio(t *testing.T) {
	eval := NewEvaluator(Policy{EscalationRatio: decimal.RequireFromString("0.5"), EscalateWhenExhausted: true})
	decision, err := eval.Evaluate(context.Background(), customer(1, 10000, 9000), 1, d(600), PaymentUnpaid)
	require.NoError(t, err)
	require.Equal(t, TierEscalated, decision.Tier)
}

func TestScenarioHeadroom(t *testing.T) {
	decision, err := NewEvaluator(DefaultPolicy()).Evaluate(context.Background(), customer(4, 50000, 10000), 4, d(5000), PaymentUnpaid)
	require.NoError(t, err)
	require.Equal(t, TierNormal, decision.Tier)
	require.True(t, decision.AvailableCredit.Equal(d(40000)))
}

func TestEvaluateValidation(t *testing.T) {
	eval := NewEvaluator(DefaultPolicy())
	_, err := eval.Evaluate(context.Background(), customer(1, 1, 0), 0, d(1), PaymentUnpaid)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = eval.Evaluate(context.Background(), customer(1, 1, 0), 1, d(1), PaymentType("barter"))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "payment_type", verr.Field)

	_, err = eval.Evaluate(context.Background(), customer(1, 1, 0), 2, d(1), PaymentUnpaid)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

type stubRepo struct{ store Store }

func (r stubRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return fn(ctx, r.store)
}

func TestServiceReportsRejectionInDecision(t *testing.T) {
	svc := NewService(stubRepo{store: customer(1, 10000, 9000)}, NewEvaluator(DefaultPolicy()))
	decision, err := svc.Evaluate(context.Background(), 1, d(1500), PaymentUnpaid)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.True(t, decision.AvailableCredit.Equal(d(1000)))
}
