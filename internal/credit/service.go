package credit

import (
	"context"

	"github.com/shopspring/decimal"
)

// RepositoryPort is the transaction boundary for standalone evaluations.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// Service answers evaluateCredit queries for screens that preview an order.
type Service struct {
	repo      RepositoryPort
	evaluator *Evaluator
}

// NewService constructs Service.
func NewService(repo RepositoryPort, evaluator *Evaluator) *Service {
	return &Service{repo: repo, evaluator: evaluator}
}

// Evaluate returns the decision without mutating anything. A rejection is
// reported in the decision rather than as an error.
func (s *Service) Evaluate(ctx context.Context, customerID int64, amount decimal.Decimal, paymentType PaymentType) (Decision, error) {
	var decision Decision
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		d, err := s.evaluator.Evaluate(ctx, store, customerID, amount, paymentType)
		decision = d
		if d.CustomerID != 0 && !d.Allowed {
			return nil
		}
		return err
	})
	return decision, err
}
