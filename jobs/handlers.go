package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/flourmill-erp/flourmill/internal/jobs"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/notify"
)

// NotificationJob consumes business events enqueued after commit.
type NotificationJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotificationJob initialises the notification handler.
func NewNotificationJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *NotificationJob {
	return &NotificationJob{Logger: logger, Metrics: metrics}
}

// Handle decodes the event and hands it to the chat bot log stream. A payload
// that cannot be decoded is never retried.
func (j *NotificationJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskNotify)
	defer func() { err = tracker.End(err) }()

	evt, err := notify.ParseTask(t)
	if err != nil {
		j.logger().WarnContext(ctx, "dropping malformed notification", slog.Any("error", err))
		j.Metrics.AddItems(TaskNotify, "malformed", 1)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	attrs := []any{
		slog.String("event_id", evt.ID),
		slog.String("event", evt.Type),
		slog.String("entity_type", evt.EntityType),
		slog.Int64("entity_id", evt.EntityID),
		slog.Time("occurred_at", evt.OccurredAt),
	}
	if evt.Number != "" {
		attrs = append(attrs, slog.String("number", evt.Number))
	}
	if evt.BranchID != 0 {
		attrs = append(attrs, slog.Int64("branch_id", evt.BranchID))
	}
	if evt.Amount != "" {
		attrs = append(attrs, slog.String("amount", evt.Amount))
	}
	if evt.Status != "" {
		attrs = append(attrs, slog.String("status", evt.Status))
	}
	j.logger().InfoContext(ctx, "notification", attrs...)
	j.Metrics.AddItems(TaskNotify, evt.Type, 1)
	return nil
}

func (j *NotificationJob) logger() *slog.Logger {
	if j == nil || j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// KeyPurger removes idempotency keys older than a retention window.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges expired payment idempotency keys.
type IdempotencyCleanupJob struct {
	Store     KeyPurger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(store KeyPurger, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	return &IdempotencyCleanupJob{Store: store, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes the purge.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention, err := payload.retention(j.Retention)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		j.logger().ErrorContext(ctx, "idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskIdempotencyCleanup, "removed", removed)
	j.logger().InfoContext(ctx, "idempotency keys purged",
		slog.Int64("removed", removed),
		slog.Duration("retention", retention))
	return nil
}

func (j *IdempotencyCleanupJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// BalanceScanner reports journals whose lines do not balance.
type BalanceScanner interface {
	UnbalancedJournals(ctx context.Context, tolerance decimal.Decimal) ([]int64, error)
}

// LedgerIntegrityJob re-checks committed journals. An unbalanced entry can only
// come from a write outside the posting engine, so each one is logged as fatal.
type LedgerIntegrityJob struct {
	Scanner   BalanceScanner
	Tolerance decimal.Decimal
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLedgerIntegrityJob initialises the integrity handler.
func NewLedgerIntegrityJob(scanner BalanceScanner, tolerance decimal.Decimal, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	if !tolerance.IsPositive() {
		tolerance = ledger.DefaultTolerance
	}
	return &LedgerIntegrityJob{Scanner: scanner, Tolerance: tolerance, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Scanner == nil {
		return errors.New("ledger integrity: scanner not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tolerance, err := payload.tolerance(j.Tolerance)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	ids, err := j.Scanner.UnbalancedJournals(ctx, tolerance)
	if err != nil {
		return err
	}
	for _, id := range ids {
		j.logger().ErrorContext(ctx, "unbalanced journal found",
			slog.Int64("journal_id", id),
			slog.Bool("fatal", true))
	}
	j.Metrics.AddItems(TaskLedgerIntegrity, "unbalanced", int64(len(ids)))
	j.logger().InfoContext(ctx, "ledger integrity check executed", slog.Int("unbalanced", len(ids)))
	return nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
