// Package notify delivers post-commit business events to out-of-band
// consumers such as the chat-bot alert worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/flourmill-erp/flourmill/internal/observability"
)

// Event types emitted by the core.
const (
	EventOrderCreated       = "order.created"
	EventOrderTransitioned  = "order.transitioned"
	EventOrderGoodsReceived = "order.goods_received"
	EventPaymentSettled     = "payment.settled"
	EventPaymentAdvance     = "payment.advance"
	EventEODCompleted       = "eod.completed"
	EventEODReopened        = "eod.reopened"
)

// TaskNotify is the asynq task carrying an Event.
const TaskNotify = "notify:event"

// QueueNotifications is the asynq queue notifications are enqueued on.
const QueueNotifications = "notifications"

// Event is a committed business fact worth telling someone about.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	EntityType string            `json:"entity_type"`
	EntityID   int64             `json:"entity_id"`
	Number     string            `json:"number,omitempty"`
	BranchID   int64             `json:"branch_id,omitempty"`
	PartyID    int64             `json:"party_id,omitempty"`
	Amount     string            `json:"amount,omitempty"`
	Status     string            `json:"status,omitempty"`
	ActorID    int64             `json:"actor_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Notifier accepts events after the business transaction has committed.
// Implementations must not report failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Discard drops every event.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(context.Context, Event) {}

// Enqueuer is the subset of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier enqueues events as asynq tasks.
type AsynqNotifier struct {
	client  Enqueuer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAsynqNotifier constructs AsynqNotifier.
func NewAsynqNotifier(client Enqueuer, logger *slog.Logger, metrics *observability.Metrics) *AsynqNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqNotifier{client: client, logger: logger, metrics: metrics}
}

// Notify implements Notifier. Errors are logged and counted, never returned.
func (n *AsynqNotifier) Notify(ctx context.Context, evt Event) {
	if n == nil || n.client == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	task, err := NewTask(evt)
	if err == nil {
		_, err = n.client.EnqueueContext(ctx, task, asynq.Queue(QueueNotifications), asynq.MaxRetry(5))
	}
	if err != nil {
		n.metrics.NotificationFailed()
		n.logger.WarnContext(ctx, "notification dropped",
			slog.String("event", evt.Type),
			slog.String("entity_type", evt.EntityType),
			slog.Int64("entity_id", evt.EntityID),
			slog.Any("error", err))
	}
}

// NewTask encodes evt as an asynq task.
func NewTask(evt Event) (*asynq.Task, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal event: %w", err)
	}
	return asynq.NewTask(TaskNotify, payload), nil
}

// ParseTask decodes an event from a task payload.
func ParseTask(task *asynq.Task) (Event, error) {
	var evt Event
	if err := json.Unmarshal(task.Payload(), &evt); err != nil {
		return Event{}, fmt.Errorf("notify: decode event: %w", err)
	}
	if evt.Type == "" {
		return Event{}, fmt.Errorf("notify: event type missing")
	}
	return evt, nil
}
