package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

// AccountResolver turns an AccountRef into a concrete active account.
type AccountResolver struct {
	allowPattern bool
	logger       *slog.Logger
}

// NewAccountResolver builds a resolver. allowPattern enables the legacy
// name/subtype fallback after code and event lookups fail.
func NewAccountResolver(allowPattern bool, logger *slog.Logger) *AccountResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountResolver{allowPattern: allowPattern, logger: logger}
}

// Resolve tries the exact code, then the event mapping, then the pattern.
func (r *AccountResolver) Resolve(ctx context.Context, store Store, ref AccountRef, branchID int64) (Account, error) {
	if ref.Code != "" {
		acc, err := store.AccountByCode(ctx, ref.Code)
		if err == nil && acc.Active {
			return acc, nil
		}
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return Account{}, fmt.Errorf("ledger: account by code %s: %w", ref.Code, err)
		}
	}

	if ref.Event != "" {
		acc, err := store.AccountByEvent(ctx, ref.Event, branchID)
		if err == nil && acc.Active {
			return acc, nil
		}
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return Account{}, fmt.Errorf("ledger: account by event %s: %w", ref.Event, err)
		}
	}

	if r.allowPattern && (ref.NameLike != "" || len(ref.Subtypes) > 0) {
		candidates, err := store.FindAccounts(ctx, AccountQuery{NameLike: ref.NameLike, Subtypes: ref.Subtypes, BranchID: branchID})
		if err != nil {
			return Account{}, fmt.Errorf("ledger: find accounts: %w", err)
		}
		if acc, ok := pickCandidate(candidates, branchID); ok {
			r.logger.WarnContext(ctx, "ledger account resolved by pattern",
				slog.String("ref", ref.String()),
				slog.Int64("branch_id", branchID),
				slog.String("account_code", acc.Code))
			return acc, nil
		}
	}

	return Account{}, &shared.AccountNotFoundError{Ref: ref.String()}
}

// pickCandidate prefers an active branch-scoped account over a generic one.
func pickCandidate(candidates []Account, branchID int64) (Account, bool) {
	var generic *Account
	for i := range candidates {
		c := candidates[i]
		if !c.Active {
			continue
		}
		if branchID != 0 && c.BranchID == branchID {
			return c, true
		}
		if c.BranchID == 0 && generic == nil {
			generic = &candidates[i]
		}
	}
	if generic != nil {
		return *generic, true
	}
	return Account{}, false
}
