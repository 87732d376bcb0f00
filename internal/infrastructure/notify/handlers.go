package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"tireshop/internal/domain/inventorycount"
	"tireshop/pkg/logger"
)

// Sink delivers a notification to its recipients.
type Sink interface {
	Deliver(ctx context.Context, n inventorycount.Notification) error
}

// LogSink writes notifications to the log. It stands in for a mail or push
// channel.
type LogSink struct{}

// Deliver implements Sink.
func (LogSink) Deliver(ctx context.Context, n inventorycount.Notification) error {
	logger.Info(ctx, "notification delivered",
		"kind", n.Kind,
		"count_id", n.CountID,
		"recipients", n.UserIDs,
		"title", n.Title,
		"message", n.Message,
	)
	return nil
}

// DispatchHandler processes TaskDispatchNotification tasks.
func DispatchHandler(sink Sink) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var n inventorycount.Notification
		if err := json.Unmarshal(t.Payload(), &n); err != nil {
			return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
		}
		return sink.Deliver(ctx, n)
	}
}

// OpenCountReconciler is implemented by *inventorycount.Service.
type OpenCountReconciler interface {
	ReconcileOpenCounts(ctx context.Context) ([]inventorycount.BatchResult, error)
}

// ReconcileHandler processes TaskReconcileOpenCounts tasks.
func ReconcileHandler(svc OpenCountReconciler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcilePayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
			}
		}

		results, err := svc.ReconcileOpenCounts(ctx)
		for _, r := range results {
			logger.Info(ctx, "open count reconciled",
				"count_id", r.CountID,
				"reconciled", r.Reconciled,
				"previewed", r.Previewed,
				"failed", r.Failed,
				"cancelled", r.Cancelled,
			)
		}
		if err != nil {
			return fmt.Errorf("reconcile open counts: %w", err)
		}
		return nil
	}
}

// OutboxDrainer is implemented by *postgres.OutboxRelay.
type OutboxDrainer interface {
	ProcessBatch(ctx context.Context) (int, error)
	MoveToDLQ(ctx context.Context) (int64, error)
}

// RelayHandler processes TaskRelayOutbox tasks.
func RelayHandler(relay OutboxDrainer) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		published, err := relay.ProcessBatch(ctx)
		if err != nil {
			return fmt.Errorf("relay outbox: %w", err)
		}
		moved, err := relay.MoveToDLQ(ctx)
		if err != nil {
			return fmt.Errorf("move outbox to dlq: %w", err)
		}
		if published > 0 || moved > 0 {
			logger.Debug(ctx, "outbox relayed", "published", published, "dead_lettered", moved)
		}
		return nil
	}
}

// KeyCleaner is implemented by *postgres.IdempotencyStore.
type KeyCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CleanupHandler processes TaskCleanupIdempotency tasks.
func CleanupHandler(store KeyCleaner) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := store.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info(ctx, "expired idempotency keys removed", "count", n)
		}
		return nil
	}
}
