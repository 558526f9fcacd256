package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries post-commit business events.
	QueueNotifications = notify.QueueNotifications

	// TaskNotify delivers a business event to the chat bot sink.
	TaskNotify = notify.TaskNotify
	// TaskIdempotencyCleanup purges expired payment idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskLedgerIntegrity scans committed journals for imbalance.
	TaskLedgerIntegrity = "ledger:integrity"
)

// DefaultIdempotencyRetention keeps keys for a week.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyCleanupPayload overrides the retention of a single run.
type IdempotencyCleanupPayload struct {
	Retention string `json:"retention,omitempty"`
}

// NewIdempotencyCleanupTask constructs an Asynq task. A zero retention lets the
// handler apply its configured default.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	payload := IdempotencyCleanupPayload{}
	if retention > 0 {
		payload.Retention = retention.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

func (p IdempotencyCleanupPayload) retention(fallback time.Duration) (time.Duration, error) {
	if p.Retention == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(p.Retention)
	if err != nil {
		return 0, fmt.Errorf("retention %q: %w", p.Retention, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("retention %q must be positive", p.Retention)
	}
	return d, nil
}

// LedgerIntegrityPayload overrides the balance tolerance of a single run.
type LedgerIntegrityPayload struct {
	Tolerance string `json:"tolerance,omitempty"`
}

// NewLedgerIntegrityTask constructs an Asynq task for the journal balance scan.
func NewLedgerIntegrityTask() (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

func (p LedgerIntegrityPayload) tolerance(fallback decimal.Decimal) (decimal.Decimal, error) {
	if p.Tolerance == "" {
		return fallback, nil
	}
	return decimal.NewFromString(p.Tolerance)
}
