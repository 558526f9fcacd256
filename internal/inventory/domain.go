package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a stock movement.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Key identifies one stock row.
type Key struct {
	VariantID int64
	BranchID  int64
}

// Stock is the quantity on hand for a variant at a branch.
type Stock struct {
	VariantID int64
	BranchID  int64
	Quantity  decimal.Decimal
	UpdatedAt time.Time
}

// Key returns the row key.
func (s Stock) Key() Key {
	return Key{VariantID: s.VariantID, BranchID: s.BranchID}
}

// Movement is one entry on the stock card.
type Movement struct {
	ID        int64
	VariantID int64
	BranchID  int64
	Direction Direction
	Quantity  decimal.Decimal
	Balance   decimal.Decimal
	RefType   string
	RefID     int64
	CreatedAt time.Time
}

// Request asks for a quantity of one variant at one branch on behalf of a document.
type Request struct {
	VariantID int64
	BranchID  int64
	Quantity  decimal.Decimal
	RefType   string
	RefID     int64
}

// Key returns the row key the request touches.
func (r Request) Key() Key {
	return Key{VariantID: r.VariantID, BranchID: r.BranchID}
}

// StockCard is the balance plus recent movements of a key.
type StockCard struct {
	Stock     Stock
	Movements []Movement
}
