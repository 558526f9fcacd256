// Package inventory guards per-branch stock with locked read-check-write.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

// Store is the transactional persistence for stock rows and movements.
type Store interface {
	// LockStock returns the row for key under an exclusive row lock held until
	// the transaction ends. A missing row is returned with zero quantity and is
	// locked by being created.
	LockStock(ctx context.Context, variantID, branchID int64) (Stock, error)
	SaveStock(ctx context.Context, stock Stock) error
	InsertMovement(ctx context.Context, m Movement) error
}

// Manager reserves and receives stock inside the caller's transaction.
type Manager struct {
	now func() time.Time
}

// NewManager constructs Manager.
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// CheckAndReserve deducts req.Quantity if the locked quantity covers it.
// A shortfall leaves the row untouched and returns InsufficientStockError.
func (m *Manager) CheckAndReserve(ctx context.Context, store Store, req Request) error {
	if err := validate(req); err != nil {
		return err
	}
	stock, err := store.LockStock(ctx, req.VariantID, req.BranchID)
	if err != nil {
		return fmt.Errorf("inventory: lock stock: %w", err)
	}
	if stock.Quantity.LessThan(req.Quantity) {
		return &shared.InsufficientStockError{
			VariantID: req.VariantID,
			BranchID:  req.BranchID,
			Requested: req.Quantity,
			Available: stock.Quantity,
		}
	}
	stock.Quantity = stock.Quantity.Sub(req.Quantity)
	return m.apply(ctx, store, stock, req, DirectionOut)
}

// ReserveAll reserves every request, taking row locks in key order so two
// multi-line orders never wait on each other in opposite order.
func (m *Manager) ReserveAll(ctx context.Context, store Store, reqs []Request) error {
	for _, req := range Consolidate(reqs) {
		if err := m.CheckAndReserve(ctx, store, req); err != nil {
			return err
		}
	}
	return nil
}

// Receive adds req.Quantity, creating the row when needed.
func (m *Manager) Receive(ctx context.Context, store Store, req Request) error {
	if err := validate(req); err != nil {
		return err
	}
	stock, err := store.LockStock(ctx, req.VariantID, req.BranchID)
	if err != nil {
		return fmt.Errorf("inventory: lock stock: %w", err)
	}
	stock.Quantity = stock.Quantity.Add(req.Quantity)
	return m.apply(ctx, store, stock, req, DirectionIn)
}

// ReceiveAll receives every request in the same key order as ReserveAll.
func (m *Manager) ReceiveAll(ctx context.Context, store Store, reqs []Request) error {
	for _, req := range Consolidate(reqs) {
		if err := m.Receive(ctx, store, req); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) apply(ctx context.Context, store Store, stock Stock, req Request, dir Direction) error {
	now := m.now()
	stock.UpdatedAt = now
	if err := store.SaveStock(ctx, stock); err != nil {
		return fmt.Errorf("inventory: save stock: %w", err)
	}
	err := store.InsertMovement(ctx, Movement{
		VariantID: req.VariantID,
		BranchID:  req.BranchID,
		Direction: dir,
		Quantity:  req.Quantity,
		Balance:   stock.Quantity,
		RefType:   req.RefType,
		RefID:     req.RefID,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("inventory: insert movement: %w", err)
	}
	return nil
}

// Consolidate merges requests for the same key and sorts them by key.
func Consolidate(reqs []Request) []Request {
	merged := make(map[Key]Request, len(reqs))
	for _, r := range reqs {
		if cur, ok := merged[r.Key()]; ok {
			cur.Quantity = cur.Quantity.Add(r.Quantity)
			merged[r.Key()] = cur
			continue
		}
		merged[r.Key()] = r
	}
	out := make([]Request, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VariantID != out[j].VariantID {
			return out[i].VariantID < out[j].VariantID
		}
		return out[i].BranchID < out[j].BranchID
	})
	return out
}

func validate(req Request) error {
	if req.VariantID == 0 {
		return shared.Invalid("variant_id", "is required")
	}
	if req.BranchID == 0 {
		return shared.Invalid("branch_id", "is required")
	}
	if !req.Quantity.IsPositive() {
		return shared.Invalid("quantity", "must be positive")
	}
	return nil
}
