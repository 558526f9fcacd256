// Package sequence issues human document numbers from per-scope atomic counters.
package sequence

import (
	"context"
	"fmt"
	"time"
)

// Prefixes for the document families issued by the mill.
const (
	PrefixOrder         = "ORD"
	PrefixPurchaseOrder = "PO"
	PrefixGoodsReceipt  = "GRN"
	PrefixVoucher       = "PV"
)

// Store increments a named counter and returns the new value. Implementations
// must make the increment part of the caller's transaction.
type Store interface {
	NextSequence(ctx context.Context, scope string) (int64, error)
}

// Generator formats document numbers in the business timezone.
type Generator struct {
	loc *time.Location
}

// NewGenerator builds a Generator; a nil location means UTC.
func NewGenerator(loc *time.Location) Generator {
	if loc == nil {
		loc = time.UTC
	}
	return Generator{loc: loc}
}

// OrderNumber issues ORD-{branch}-{yyyymmdd}-{seq4}.
func (g Generator) OrderNumber(ctx context.Context, store Store, branchID int64, at time.Time) (string, error) {
	day := g.day(at)
	seq, err := store.NextSequence(ctx, fmt.Sprintf("%s:%d:%s", PrefixOrder, branchID, day))
	if err != nil {
		return "", fmt.Errorf("sequence: order number: %w", err)
	}
	return fmt.Sprintf("%s-%d-%s-%04d", PrefixOrder, branchID, day, seq), nil
}

// PurchaseOrderNumber issues PO-{yyyymmdd}-{seq4}.
func (g Generator) PurchaseOrderNumber(ctx context.Context, store Store, at time.Time) (string, error) {
	return g.daily(ctx, store, PrefixPurchaseOrder, at)
}

// GoodsReceiptNumber issues GRN-{yyyymmdd}-{seq4}.
func (g Generator) GoodsReceiptNumber(ctx context.Context, store Store, at time.Time) (string, error) {
	return g.daily(ctx, store, PrefixGoodsReceipt, at)
}

// VoucherNumber issues PV-{yyyymmdd}-{seq4}.
func (g Generator) VoucherNumber(ctx context.Context, store Store, at time.Time) (string, error) {
	return g.daily(ctx, store, PrefixVoucher, at)
}

func (g Generator) daily(ctx context.Context, store Store, prefix string, at time.Time) (string, error) {
	day := g.day(at)
	seq, err := store.NextSequence(ctx, prefix+":"+day)
	if err != nil {
		return "", fmt.Errorf("sequence: %s number: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, day, seq), nil
}

func (g Generator) day(at time.Time) string {
	loc := g.loc
	if loc == nil {
		loc = time.UTC
	}
	return at.In(loc).Format("20060102")
}
