package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tireshop/internal/core/id"
	"tireshop/internal/domain/inventorycount"
	"tireshop/internal/infrastructure/storage/postgres"
)

type recordingSink struct {
	got []inventorycount.Notification
}

func (s *recordingSink) Deliver(_ context.Context, n inventorycount.Notification) error {
	s.got = append(s.got, n)
	return nil
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (e *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func sampleNotification() inventorycount.Notification {
	return inventorycount.Notification{
		Kind:    inventorycount.NotifyDiscrepancy,
		UserIDs: []int64{11, 12},
		Title:   "Discrepancies found",
		Message: `"Winter tires" has 2 new discrepancies`,
		CountID: id.New(),
	}
}

func TestDispatchTask_RoundTrip(t *testing.T) {
	want := sampleNotification()

	task, err := NewDispatchTask(want)
	require.NoError(t, err)
	assert.Equal(t, TaskDispatchNotification, task.Type())

	sink := &recordingSink{}
	require.NoError(t, DispatchHandler(sink)(context.Background(), task))

	require.Len(t, sink.got, 1)
	assert.Equal(t, want, sink.got[0])
}

func TestDispatchHandler_BadPayloadSkipsRetry(t *testing.T) {
	task := asynq.NewTask(TaskDispatchNotification, []byte("{"))

	err := DispatchHandler(&recordingSink{})(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestAsynqNotifier_Enqueues(t *testing.T) {
	enq := &recordingEnqueuer{}
	n := NewAsynqNotifier(enq)

	require.NoError(t, n.Notify(context.Background(), sampleNotification()))

	require.Len(t, enq.tasks, 1)
	var decoded inventorycount.Notification
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	assert.Equal(t, []int64{11, 12}, decoded.UserIDs)
}

func TestAsynqNotifier_DropsEmptyRecipients(t *testing.T) {
	enq := &recordingEnqueuer{}
	n := NewAsynqNotifier(enq)

	note := sampleNotification()
	note.UserIDs = nil
	require.NoError(t, n.Notify(context.Background(), note))
	assert.Empty(t, enq.tasks)
}

func TestAsynqNotifier_EnqueueError(t *testing.T) {
	n := NewAsynqNotifier(&recordingEnqueuer{err: errors.New("redis down")})

	err := n.Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestAsynqNotifier_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, NewAsynqNotifier(client).Notify(context.Background(), sampleNotification()))

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

type fakeReconciler struct {
	calls   int
	results []inventorycount.BatchResult
	err     error
}

func (f *fakeReconciler) ReconcileOpenCounts(context.Context) ([]inventorycount.BatchResult, error) {
	f.calls++
	return f.results, f.err
}

func TestReconcileHandler(t *testing.T) {
	task, err := NewReconcileOpenCountsTask(time.Now())
	require.NoError(t, err)
	assert.Equal(t, TaskReconcileOpenCounts, task.Type())

	svc := &fakeReconciler{results: []inventorycount.BatchResult{{CountID: id.New(), Reconciled: 3}}}
	require.NoError(t, ReconcileHandler(svc)(context.Background(), task))
	assert.Equal(t, 1, svc.calls)

	svc.err = errors.New("db down")
	assert.Error(t, ReconcileHandler(svc)(context.Background(), task))
}

type fakeDrainer struct {
	published int
	moved     int64
	err       error
}

func (f *fakeDrainer) ProcessBatch(context.Context) (int, error) { return f.published, f.err }

func (f *fakeDrainer) MoveToDLQ(context.Context) (int64, error) { return f.moved, nil }

func TestRelayHandler(t *testing.T) {
	require.NoError(t, RelayHandler(&fakeDrainer{published: 2})(context.Background(), NewRelayOutboxTask()))
	assert.Error(t, RelayHandler(&fakeDrainer{err: errors.New("boom")})(context.Background(), NewRelayOutboxTask()))
}

type fakeCleaner struct{ n int64 }

func (f fakeCleaner) CleanupExpired(context.Context) (int64, error) { return f.n, nil }

func TestCleanupHandler(t *testing.T) {
	require.NoError(t, CleanupHandler(fakeCleaner{n: 3})(context.Background(), NewCleanupIdempotencyTask()))
}

func TestRedisForwarder_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	sub := client.Subscribe(ctx, EventsChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	msg := &postgres.OutboxMessage{
		ID:            id.New(),
		AggregateType: "inventory_count",
		AggregateID:   id.New(),
		EventType:     "inventory_count.completed",
		Payload:       []byte(`{"lines":12}`),
		CreatedAt:     time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewRedisForwarder(client, "").Handle(ctx, msg))

	select {
	case got := <-sub.Channel():
		var ev ForwardedEvent
		require.NoError(t, json.Unmarshal([]byte(got.Payload), &ev))
		assert.Equal(t, msg.AggregateID, ev.AggregateID)
		assert.Equal(t, "inventory_count.completed", ev.EventType)
		assert.JSONEq(t, `{"lines":12}`, string(ev.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("event not published")
	}
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 5s", Every(5*time.Second))
}
