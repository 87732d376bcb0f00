package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tireshop/internal/core/id"
	"tireshop/internal/infrastructure/storage/postgres"
)

// EventsChannel is the Redis channel outbox events are forwarded to.
const EventsChannel = "tireshop.events"

// ForwardedEvent is the message published for each outbox row.
type ForwardedEvent struct {
	ID            id.ID           `json:"id"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   id.ID           `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// RedisForwarder publishes outbox messages on a Redis channel.
type RedisForwarder struct {
	client  *redis.Client
	channel string
}

var _ postgres.OutboxHandler = (*RedisForwarder)(nil)

// NewRedisForwarder creates a forwarder. An empty channel uses EventsChannel.
func NewRedisForwarder(client *redis.Client, channel string) *RedisForwarder {
	if channel == "" {
		channel = EventsChannel
	}
	return &RedisForwarder{client: client, channel: channel}
}

// Handle implements postgres.OutboxHandler.
func (f *RedisForwarder) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	body, err := json.Marshal(ForwardedEvent{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		OccurredAt:    msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, body).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
