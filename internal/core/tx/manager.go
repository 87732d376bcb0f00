// Package tx provides transaction management abstractions.
// Domain services depend on this interface, not on a concrete database.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
// The implementation lives in infrastructure/storage/postgres.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context, so a stock
	// ledger write issued inside a count transaction commits or rolls back with it.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Passthrough runs fn directly without a transaction. Used by in-memory
// repositories in tests.
type Passthrough struct{}

// RunInTransaction implements Manager.
func (Passthrough) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
