package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/flourmill-erp/flourmill/jobs"
)

// Job names accepted by Trigger.
const (
	JobCleanupIdempotency = "cleanup-idempotency"
	JobLedgerIntegrity    = "ledger-integrity"
)

// Enqueuer is the subset of *jobs.Client used by JobsCLI.
type Enqueuer interface {
	EnqueueIdempotencyCleanup(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error)
	EnqueueLedgerIntegrity(ctx context.Context) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector jobs.QueueInspector
}

// NewJobsCLI initialises the CLI helpers.
func NewJobsCLI(client Enqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Trigger enqueues a supported job by name. Retention only applies to the
// idempotency cleanup; zero keeps the worker's configured window.
func (c *JobsCLI) Trigger(ctx context.Context, name string, retention time.Duration) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case JobCleanupIdempotency:
		return c.client.EnqueueIdempotencyCleanup(ctx, retention)
	case JobLedgerIntegrity:
		return c.client.EnqueueLedgerIntegrity(ctx)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the metrics of queue.
func (c *JobsCLI) InspectQueue(queue string) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	stats := QueueStats{Queue: queue}
	info, err := jobs.QueueInfo(c.inspector, queue)
	if err != nil {
		return QueueStats{}, err
	}
	if info == nil {
		return stats, nil
	}
	stats.Pending = info.Pending
	stats.Active = info.Active
	stats.Scheduled = info.Scheduled
	stats.Retry = info.Retry
	return stats, nil
}

func (s QueueStats) String() string {
	return fmt.Sprintf("queue=%s pending=%d active=%d scheduled=%d retry=%d", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
}
