package notify

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"tireshop/internal/domain/inventorycount"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier implements inventorycount.Notifier by enqueueing a dispatch
// task. Delivery happens in the worker.
type AsynqNotifier struct {
	client Enqueuer
}

var _ inventorycount.Notifier = (*AsynqNotifier)(nil)

// NewAsynqNotifier creates a notifier over an asynq client.
func NewAsynqNotifier(client Enqueuer) *AsynqNotifier {
	return &AsynqNotifier{client: client}
}

// Notify enqueues n. Notifications without recipients are dropped.
func (n *AsynqNotifier) Notify(ctx context.Context, notification inventorycount.Notification) error {
	if len(notification.UserIDs) == 0 {
		return nil
	}
	task, err := NewDispatchTask(notification)
	if err != nil {
		return err
	}
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}
