package inventorycount

import (
	"context"
	"fmt"

	"tireshop/internal/core/id"
	"tireshop/internal/domain"
	"tireshop/internal/domain/registers/stock"
	"tireshop/pkg/logger"
)

// Capture records ledger changes against every open count that holds the
// product. It runs as a stock ledger hook inside the writer's transaction, so
// a capture failure rolls the ledger change back.
type Capture struct {
	repo MovementRepository
}

// NewCapture creates a movement capture over repo.
func NewCapture(repo MovementRepository) *Capture {
	return &Capture{repo: repo}
}

// Register attaches the capture to a stock ledger.
func (c *Capture) Register(ledger interface {
	OnQuantityChanged(hook domain.Hook[stock.QuantityChange])
}) {
	ledger.OnQuantityChanged(c.OnQuantityChanged)
}

// OnQuantityChanged appends one post-cutoff movement per open count of the
// product. A count's own corrections are not recorded against it.
func (c *Capture) OnQuantityChanged(ctx context.Context, change stock.QuantityChange) error {
	countIDs, err := c.repo.OpenCountsForProduct(ctx, change.ProductID)
	if err != nil {
		return fmt.Errorf("lookup open counts: %w", err)
	}
	if len(countIDs) == 0 {
		return nil
	}

	movements := make([]PostCutoffMovement, 0, len(countIDs))
	for _, countID := range countIDs {
		if change.Provenance.IsCorrectionFor(countID) {
			continue
		}
		movements = append(movements, PostCutoffMovement{
			ID:               id.New(),
			CountID:          countID,
			ProductID:        change.ProductID,
			Kind:             change.Provenance.Kind,
			Delta:            change.Delta,
			SourceType:       optional(change.Provenance.SourceType),
			SourceID:         optional(change.Provenance.SourceID),
			LedgerMovementID: change.MovementID,
			OccurredAt:       change.OccurredAt,
		})
	}
	if len(movements) == 0 {
		return nil
	}

	if err := c.repo.AppendMovements(ctx, movements); err != nil {
		return fmt.Errorf("append post-cutoff movements: %w", err)
	}

	logger.Debug(ctx, "post-cutoff movement captured",
		"product_id", change.ProductID,
		"delta", change.Delta,
		"counts", len(movements),
	)
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
