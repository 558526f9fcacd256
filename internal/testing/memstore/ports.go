package memstore

import (
	"context"
	"sort"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/eod"
	"github.com/flourmill-erp/flourmill/internal/inventory"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/payments"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// OrderRepo adapts the store to orders.RepositoryPort.
func (s *Store) OrderRepo() orders.RepositoryPort { return orderRepo{s} }

// PaymentRepo adapts the store to payments.RepositoryPort.
func (s *Store) PaymentRepo() payments.RepositoryPort { return paymentRepo{s} }

// EODRepo adapts the store to eod.RepositoryPort.
func (s *Store) EODRepo() eod.RepositoryPort { return eodRepo{s} }

// LedgerRepo adapts the store to ledger.RepositoryPort.
func (s *Store) LedgerRepo() ledger.RepositoryPort { return ledgerRepo{s} }

// CreditRepo adapts the store to credit.RepositoryPort.
func (s *Store) CreditRepo() credit.RepositoryPort { return creditRepo{s} }

type orderRepo struct{ s *Store }

func (r orderRepo) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	return r.s.run(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r orderRepo) GetOrder(_ context.Context, id int64) (orders.Order, error) {
	var (
		o   orders.Order
		err error
	)
	r.s.read(func(tx *Tx) { o, err = tx.LockOrder(context.Background(), id) })
	return o, err
}

func (r orderRepo) ListHistory(_ context.Context, orderID int64) ([]orders.HistoryEntry, error) {
	var out []orders.HistoryEntry
	r.s.read(func(tx *Tx) {
		for _, h := range tx.d.history {
			if h.OrderID == orderID {
				out = append(out, h)
			}
		}
	})
	return out, nil
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) WithTx(ctx context.Context, fn func(context.Context, payments.TxRepository) error) error {
	return r.s.run(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r paymentRepo) GetPayment(_ context.Context, id int64) (payments.Payment, error) {
	var (
		p   payments.Payment
		err error
	)
	r.s.read(func(tx *Tx) { p, err = tx.payment(id) })
	return p, err
}

type eodRepo struct{ s *Store }

func (r eodRepo) WithTx(ctx context.Context, fn func(context.Context, eod.TxRepository) error) error {
	return r.s.run(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r eodRepo) GetSummary(_ context.Context, id int64) (eod.Summary, error) {
	var (
		sum eod.Summary
		err error
	)
	r.s.read(func(tx *Tx) { sum, err = tx.LockSummary(context.Background(), id) })
	return sum, err
}

func (r eodRepo) ListSummaries(_ context.Context, f eod.ListFilter) ([]eod.Summary, error) {
	var out []eod.Summary
	r.s.read(func(tx *Tx) {
		for _, sum := range tx.d.summaries {
			if f.BranchID != 0 && sum.BranchID != f.BranchID {
				continue
			}
			if !f.From.IsZero() && sum.BusinessDate.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && sum.BusinessDate.After(f.To) {
				continue
			}
			out = append(out, sum)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BusinessDate.Equal(out[j].BusinessDate) {
			return out[i].BusinessDate.After(out[j].BusinessDate)
		}
		return out[i].BranchID < out[j].BranchID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.Store) error) error {
	return r.s.run(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r ledgerRepo) Journal(_ context.Context, id int64) (ledger.JournalEntry, error) {
	var (
		e   ledger.JournalEntry
		err error
	)
	r.s.read(func(tx *Tx) { e, err = tx.JournalByID(context.Background(), id) })
	return e, err
}

type creditRepo struct{ s *Store }

func (r creditRepo) WithTx(ctx context.Context, fn func(context.Context, credit.Store) error) error {
	return r.s.run(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

// StockCard implements inventory.StockCardReader, newest movement first.
func (s *Store) StockCard(_ context.Context, key inventory.Key, limit int) (inventory.StockCard, error) {
	var card inventory.StockCard
	found := false
	s.read(func(tx *Tx) {
		card.Stock, found = tx.d.stock[key]
		for i := len(tx.d.movements) - 1; i >= 0; i-- {
			m := tx.d.movements[i]
			if m.VariantID == key.VariantID && m.BranchID == key.BranchID {
				card.Movements = append(card.Movements, m)
			}
		}
	})
	if !found {
		return inventory.StockCard{}, shared.ErrNotFound
	}
	if limit > 0 && len(card.Movements) > limit {
		card.Movements = card.Movements[:limit]
	}
	return card, nil
}
