package stock

import (
	"context"
	"fmt"
	"time"

	"tireshop/internal/core/apperror"
	"tireshop/internal/core/id"
	"tireshop/internal/core/tx"
	"tireshop/internal/domain"
	"tireshop/pkg/logger"
)

// Service provides business operations for the stock ledger.
// Every quantity mutation goes through ApplyDelta so registered hooks observe it.
type Service struct {
	repo      Repository
	txManager tx.Manager
	hooks     *domain.HookRegistry[QuantityChange]
	now       func() time.Time
}

// NewService creates a new stock ledger service.
func NewService(repo Repository, txManager tx.Manager) *Service {
	return &Service{
		repo:      repo,
		txManager: txManager,
		hooks:     domain.NewHookRegistry[QuantityChange](),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used to stamp movements.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OnQuantityChanged registers a hook that runs inside the writer's transaction
// after every successful quantity change. A hook error rolls the change back.
func (s *Service) OnQuantityChanged(hook domain.Hook[QuantityChange]) {
	s.hooks.On(domain.AfterChange, hook)
}

// GetQuantity returns the current quantity on hand.
func (s *Service) GetQuantity(ctx context.Context, productID int64) (int64, error) {
	b, err := s.repo.GetBalance(ctx, productID)
	if err != nil {
		return 0, err
	}
	return b.Quantity, nil
}

// ApplyDelta changes the quantity of a product by delta and journals the movement.
// Returns the new quantity. The ledger refuses to go below zero.
func (s *Service) ApplyDelta(ctx context.Context, productID int64, delta int64, prov Provenance) (int64, error) {
	if delta == 0 {
		return 0, apperror.NewValidation("delta must not be zero").WithDetail("product_id", productID)
	}
	if !prov.Kind.Valid() {
		return 0, apperror.NewValidation("unknown movement kind").WithDetail("kind", prov.Kind)
	}

	var newQty int64
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		bal, err := s.repo.GetBalanceForUpdate(ctx, productID)
		if err != nil {
			return err
		}

		newQty = bal.Quantity + delta
		if newQty < 0 {
			return apperror.NewInsufficientStock(productID, -delta, bal.Quantity)
		}

		now := s.now()
		if err := s.repo.SetQuantity(ctx, productID, newQty, now); err != nil {
			return fmt.Errorf("set quantity: %w", err)
		}

		m := Movement{
			ID:            id.New(),
			ProductID:     productID,
			Kind:          prov.Kind,
			Delta:         delta,
			QuantityAfter: newQty,
			SourceType:    optional(prov.SourceType),
			SourceID:      optional(prov.SourceID),
			UserID:        prov.UserID,
			OccurredAt:    now,
		}
		if err := s.repo.CreateMovement(ctx, m); err != nil {
			return fmt.Errorf("create movement: %w", err)
		}

		return s.hooks.Run(ctx, domain.AfterChange, QuantityChange{
			MovementID:  m.ID,
			ProductID:   productID,
			LocationID:  bal.LocationID,
			Delta:       delta,
			NewQuantity: newQty,
			Provenance:  prov,
			OccurredAt:  now,
		})
	})
	if err != nil {
		return 0, err
	}

	logger.Info(ctx, "stock quantity changed",
		"product_id", productID,
		"delta", delta,
		"quantity", newQty,
		"kind", prov.Kind,
	)

	return newQty, nil
}

// EligibilityFilter selects the balances snapshotted when a count starts.
type EligibilityFilter struct {
	LocationID      *int64
	IncludeLowStock bool
}

// EligibleForCount returns the balances in scope for a count. Inside a
// transaction the rows are share-locked until commit.
func (s *Service) EligibleForCount(ctx context.Context, filter EligibilityFilter) ([]Balance, error) {
	balances, err := s.repo.ListBalances(ctx, BalanceFilter{
		LocationID:      filter.LocationID,
		ExcludeLowStock: !filter.IncludeLowStock,
		LockShared:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return balances, nil
}

// Balances lists balances for display.
func (s *Service) Balances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	filter.LockShared = false
	return s.repo.ListBalances(ctx, filter)
}

// History returns the movement journal of a product.
func (s *Service) History(ctx context.Context, productID int64, filter MovementFilter) ([]Movement, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListMovements(ctx, productID, filter)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
