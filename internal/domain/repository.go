// Package domain provides types shared by business modules.
package domain

import (
	"context"
	"sync"
)

// --- Pagination ---

// Page limits list queries.
type Page struct {
	Limit  int
	Offset int
}

// DefaultPage returns sensible defaults.
func DefaultPage() Page {
	return Page{Limit: 50}
}

// Normalize clamps the page to safe bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ListResult contains paginated results.
type ListResult[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// --- Hooks ---

// HookEvent represents lifecycle event type.
type HookEvent string

const (
	// AfterChange fires inside the writer's transaction once the change is durable in it.
	AfterChange HookEvent = "after_change"
)

// Hook is a function that runs at specific lifecycle points.
type Hook[T any] func(ctx context.Context, payload T) error

// HookRegistry stores lifecycle hooks for a payload type.
// Hooks run in registration order; the first error stops the chain.
type HookRegistry[T any] struct {
	mu    sync.RWMutex
	hooks map[HookEvent][]Hook[T]
}

// NewHookRegistry creates an empty hook registry.
func NewHookRegistry[T any]() *HookRegistry[T] {
	return &HookRegistry[T]{
		hooks: make(map[HookEvent][]Hook[T]),
	}
}

// On registers a hook for the specified event.
func (r *HookRegistry[T]) On(event HookEvent, hook Hook[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[event] = append(r.hooks[event], hook)
}

// Run executes all hooks for the specified event.
func (r *HookRegistry[T]) Run(ctx context.Context, event HookEvent, payload T) error {
	r.mu.RLock()
	hooks := r.hooks[event]
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of hooks registered for event.
func (r *HookRegistry[T]) Len(event HookEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[event])
}
