package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type failingEnqueuer struct{}

func (failingEnqueuer) EnqueueContext(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
	return nil, errors.New("redis down")
}

func TestNotifyEnqueuesOnNotificationsQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	n := NewAsynqNotifier(client, nil, nil)
	n.Notify(context.Background(), Event{Type: EventOrderCreated, EntityType: "order", EntityID: 42, Number: "ORD-1-20261015-0001"})

	pending, err := mr.List("asynq:{" + QueueNotifications + "}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestTaskRoundTripAssignsType(t *testing.T) {
	task, err := NewTask(Event{ID: "e1", Type: EventOrderCreated, EntityID: 42})
	require.NoError(t, err)
	require.Equal(t, TaskNotify, task.Type())

	evt, err := ParseTask(task)
	require.NoError(t, err)
	require.Equal(t, int64(42), evt.EntityID)
	require.Equal(t, "e1", evt.ID)
}

func TestNotifySwallowsEnqueueFailure(t *testing.T) {
	n := NewAsynqNotifier(failingEnqueuer{}, nil, nil)
	require.NotPanics(t, func() {
		n.Notify(context.Background(), Event{Type: EventPaymentAdvance})
	})
}

func TestParseTaskRejectsMissingType(t *testing.T) {
	_, err := ParseTask(asynq.NewTask(TaskNotify, []byte(`{"entity_id":1}`)))
	require.Error(t, err)
	_, err = ParseTask(asynq.NewTask(TaskNotify, []byte(`not json`)))
	require.Error(t, err)
}

func TestRecorderKeepsOrder(t *testing.T) {
	var r Recorder
	r.Notify(context.Background(), Event{Type: EventOrderCreated})
	r.Notify(context.Background(), Event{Type: EventOrderTransitioned})
	require.Equal(t, []string{EventOrderCreated, EventOrderTransitioned}, r.Types())
}
