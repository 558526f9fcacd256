package ledger

import (
	"context"
	"time"
)

// Store is the transactional persistence the ledger needs. Every method runs
// on the caller's transaction handle.
type Store interface {
	AccountByCode(ctx context.Context, code string) (Account, error)
	// AccountByEvent returns the newest mapping for ev, preferring a row scoped
	// to branchID over the generic one.
	AccountByEvent(ctx context.Context, ev Event, branchID int64) (Account, error)
	FindAccounts(ctx context.Context, q AccountQuery) ([]Account, error)
	InsertJournal(ctx context.Context, entry *JournalEntry) error
	JournalByID(ctx context.Context, id int64) (JournalEntry, error)
	// ReversalOf returns the id of the entry reversing journalID, or zero.
	ReversalOf(ctx context.Context, journalID int64) (int64, error)
	// AccountTotals sums lines for accountID with entry dates in [from, to).
	// A nil bound is open.
	AccountTotals(ctx context.Context, accountID int64, from, to *time.Time) (Totals, error)
}
