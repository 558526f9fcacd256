package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

// RepositoryPort is the transaction boundary the ledger service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	Journal(ctx context.Context, id int64) (JournalEntry, error)
}

// Service exposes manual postings and reversals outside an order workflow.
type Service struct {
	repo   RepositoryPort
	engine *Engine
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, engine *Engine, loc *time.Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, engine: engine, loc: loc, logger: logger, now: time.Now}
}

// WithNow overrides the clock that dates postings.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Post writes a manual journal on behalf of the context actor.
func (s *Service) Post(ctx context.Context, in PostInput) (int64, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return 0, err
	}
	in.CreatedBy = actor.ID
	if in.OriginType == "" {
		in.OriginType = OriginManual
	}
	if in.Date.IsZero() {
		in.Date = shared.BusinessDay(s.now(), s.loc)
	} else {
		in.Date = shared.DateOf(in.Date)
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		id, err = s.engine.Post(ctx, store, in)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "manual journal rolled back",
			slog.String("description", in.Description),
			slog.Int64("branch_id", in.BranchID),
			slog.Int("lines", len(in.Lines)),
			slog.Any("error", err))
		return 0, err
	}
	return id, nil
}

// Reverse posts the mirror image of a committed manual entry, dated on the
// current business day.
func (s *Service) Reverse(ctx context.Context, journalID int64, description string) (int64, error) {
	actor, err := shared.RequireActor(ctx)
	if err != nil {
		return 0, err
	}
	in := ReverseInput{
		JournalID:   journalID,
		Description: description,
		Date:        shared.BusinessDay(s.now(), s.loc),
		CreatedBy:   actor.ID,
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		id, err = s.engine.Reverse(ctx, store, in)
		return err
	})
	if err != nil {
		s.logger.WarnContext(ctx, "journal reversal refused",
			slog.Int64("journal_id", journalID),
			slog.Int64("actor_id", actor.ID),
			slog.Any("error", err))
		return 0, err
	}
	return id, nil
}

// Journal returns a committed entry with its lines.
func (s *Service) Journal(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.Journal(ctx, id)
}
