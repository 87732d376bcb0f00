// Package stocktest provides an in-memory stock repository for tests.
package stocktest

import (
	"context"
	"sort"
	"sync"
	"time"

	"tireshop/internal/core/apperror"
	"tireshop/internal/domain/registers/stock"
)

// MemoryRepo implements stock.Repository over maps.
type MemoryRepo struct {
	mu        sync.Mutex
	balances  map[int64]stock.Balance
	movements []stock.Movement
	failures  map[int64]error
}

// NewMemoryRepo creates an empty repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		balances: make(map[int64]stock.Balance),
		failures: make(map[int64]error),
	}
}

// Seed inserts or replaces a balance row.
func (r *MemoryRepo) Seed(b stock.Balance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[b.ProductID] = b
}

// FailWrites makes every SetQuantity for productID return err. Pass nil to clear.
func (r *MemoryRepo) FailWrites(productID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, productID)
		return
	}
	r.failures[productID] = err
}

// Movements returns a copy of the journal.
func (r *MemoryRepo) Movements() []stock.Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stock.Movement(nil), r.movements...)
}

func (r *MemoryRepo) GetBalance(_ context.Context, productID int64) (stock.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[productID]
	if !ok {
		return stock.Balance{}, apperror.NewNotFound("stock_balance", productID)
	}
	return b, nil
}

func (r *MemoryRepo) GetBalanceForUpdate(ctx context.Context, productID int64) (stock.Balance, error) {
	return r.GetBalance(ctx, productID)
}

func (r *MemoryRepo) SetQuantity(_ context.Context, productID int64, quantity int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[productID]; err != nil {
		return err
	}
	b := r.balances[productID]
	b.Quantity = quantity
	b.UpdatedAt = at
	r.balances[productID] = b
	return nil
}

func (r *MemoryRepo) CreateMovement(_ context.Context, m stock.Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.movements = append(r.movements, m)
	return nil
}

func (r *MemoryRepo) ListBalances(_ context.Context, filter stock.BalanceFilter) ([]stock.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[int64]bool, len(filter.ProductIDs))
	for _, p := range filter.ProductIDs {
		wanted[p] = true
	}

	var out []stock.Balance
	for _, b := range r.balances {
		if len(wanted) > 0 && !wanted[b.ProductID] {
			continue
		}
		if filter.LocationID != nil && (b.LocationID == nil || *b.LocationID != *filter.LocationID) {
			continue
		}
		if filter.ExcludeLowStock && b.IsLowStock() {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (r *MemoryRepo) ListMovements(_ context.Context, productID int64, filter stock.MovementFilter) ([]stock.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []stock.Movement
	for i := len(r.movements) - 1; i >= 0; i-- {
		m := r.movements[i]
		if m.ProductID != productID {
			continue
		}
		if filter.Kind != nil && m.Kind != *filter.Kind {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

var _ stock.Repository = (*MemoryRepo)(nil)
