// Package stock provides the live stock ledger.
package stock

import (
	"context"
	"time"
)

// Repository defines persistence for the stock ledger.
type Repository interface {
	// GetBalance returns the balance row for a product.
	GetBalance(ctx context.Context, productID int64) (Balance, error)

	// GetBalanceForUpdate returns the balance with a row lock (must run in a transaction).
	GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error)

	// SetQuantity overwrites the quantity of a locked balance row.
	SetQuantity(ctx context.Context, productID int64, quantity int64, at time.Time) error

	// CreateMovement appends a journal row.
	CreateMovement(ctx context.Context, m Movement) error

	// ListBalances returns balances matching the filter ordered by product.
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)

	// ListMovements returns journal rows for a product, newest first.
	ListMovements(ctx context.Context, productID int64, filter MovementFilter) ([]Movement, error)
}

// BalanceFilter for filtering balance queries.
type BalanceFilter struct {
	ProductIDs      []int64
	LocationID      *int64
	ExcludeLowStock bool

	// LockShared takes FOR SHARE row locks so concurrent writers wait for the
	// reading transaction to commit.
	LockShared bool
}

// MovementFilter for filtering movement history.
type MovementFilter struct {
	Kind     *MovementKind
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
}
