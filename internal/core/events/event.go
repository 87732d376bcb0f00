// Package events defines domain events handed to the transactional outbox.
package events

import (
	"context"

	"tireshop/internal/core/id"
)

// Event is a domain event. Payload is marshalled to JSON by the publisher.
type Event struct {
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

// Publisher stores events. Implementations must join the caller's transaction.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
