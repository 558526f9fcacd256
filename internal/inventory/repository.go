package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flourmill-erp/flourmill/internal/platform/db"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// PgStock implements Store on inventory_stock and inventory_movements.
type PgStock struct {
	q db.DBTX
}

// NewPgStock binds the store to q.
func NewPgStock(q db.DBTX) *PgStock {
	return &PgStock{q: q}
}

// LockStock implements Store. The insert covers keys never stocked before so the
// FOR UPDATE always has a row to lock.
func (s *PgStock) LockStock(ctx context.Context, variantID, branchID int64) (Stock, error) {
	if _, err := s.q.Exec(ctx, `INSERT INTO inventory_stock (variant_id, branch_id, quantity)
VALUES ($1, $2, 0) ON CONFLICT (variant_id, branch_id) DO NOTHING`, variantID, branchID); err != nil {
		return Stock{}, err
	}
	var st Stock
	err := s.q.QueryRow(ctx, `SELECT variant_id, branch_id, quantity, updated_at
FROM inventory_stock WHERE variant_id = $1 AND branch_id = $2 FOR UPDATE`, variantID, branchID).
		Scan(&st.VariantID, &st.BranchID, &st.Quantity, &st.UpdatedAt)
	return st, err
}

// SaveStock implements Store.
func (s *PgStock) SaveStock(ctx context.Context, st Stock) error {
	tag, err := s.q.Exec(ctx, `UPDATE inventory_stock SET quantity = $3, updated_at = $4
WHERE variant_id = $1 AND branch_id = $2`, st.VariantID, st.BranchID, st.Quantity, st.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock row %d/%d: %w", st.VariantID, st.BranchID, shared.ErrNotFound)
	}
	return nil
}

// InsertMovement implements Store.
func (s *PgStock) InsertMovement(ctx context.Context, m Movement) error {
	_, err := s.q.Exec(ctx, `INSERT INTO inventory_movements (variant_id, branch_id, direction, quantity, balance, ref_type, ref_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.VariantID, m.BranchID, m.Direction, m.Quantity, m.Balance, m.RefType, m.RefID, m.CreatedAt)
	return err
}

// Repository serves stock card reads outside a transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// StockCard returns the balance and the latest movements for key.
func (r *Repository) StockCard(ctx context.Context, key Key, limit int) (StockCard, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var card StockCard
	err := r.pool.QueryRow(ctx, `SELECT variant_id, branch_id, quantity, updated_at
FROM inventory_stock WHERE variant_id = $1 AND branch_id = $2`, key.VariantID, key.BranchID).
		Scan(&card.Stock.VariantID, &card.Stock.BranchID, &card.Stock.Quantity, &card.Stock.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockCard{}, shared.ErrNotFound
	}
	if err != nil {
		return StockCard{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, variant_id, branch_id, direction, quantity, balance, ref_type, ref_id, created_at
FROM inventory_movements WHERE variant_id = $1 AND branch_id = $2
ORDER BY created_at DESC, id DESC LIMIT $3`, key.VariantID, key.BranchID, limit)
	if err != nil {
		return StockCard{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.VariantID, &m.BranchID, &m.Direction, &m.Quantity, &m.Balance, &m.RefType, &m.RefID, &m.CreatedAt); err != nil {
			return StockCard{}, err
		}
		card.Movements = append(card.Movements, m)
	}
	return card, rows.Err()
}
