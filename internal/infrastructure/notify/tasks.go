// Package notify dispatches count notifications and background count jobs through asynq.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"tireshop/internal/domain/inventorycount"
)

const (
	// QueueDefault is the queue every task of this package is enqueued on.
	QueueDefault = "default"

	// TaskDispatchNotification delivers one inventory count notification.
	TaskDispatchNotification = "notification:dispatch"
	// TaskReconcileOpenCounts refreshes reconciliation of every in-progress count.
	TaskReconcileOpenCounts = "inventory_count:reconcile_open"
	// TaskRelayOutbox drains the transactional outbox.
	TaskRelayOutbox = "outbox:relay"
	// TaskCleanupIdempotency removes expired idempotency keys.
	TaskCleanupIdempotency = "idempotency:cleanup"
)

// NewDispatchTask wraps a notification in an asynq task.
func NewDispatchTask(n inventorycount.Notification) (*asynq.Task, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return asynq.NewTask(TaskDispatchNotification, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// ReconcilePayload records when the periodic entry was registered.
type ReconcilePayload struct {
	RegisteredAt time.Time `json:"registered_at"`
}

// NewReconcileOpenCountsTask constructs the periodic reconcile task.
func NewReconcileOpenCountsTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{RegisteredAt: at})
	if err != nil {
		return nil, err
	}
	// A run that overlaps the next tick would only repeat the same work.
	return asynq.NewTask(TaskReconcileOpenCounts, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Unique(time.Minute),
	), nil
}

// NewRelayOutboxTask constructs the periodic outbox relay task.
func NewRelayOutboxTask() *asynq.Task {
	return asynq.NewTask(TaskRelayOutbox, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}

// NewCleanupIdempotencyTask constructs the periodic idempotency cleanup task.
func NewCleanupIdempotencyTask() *asynq.Task {
	return asynq.NewTask(TaskCleanupIdempotency, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}
