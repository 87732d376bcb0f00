package count_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"tireshop/internal/core/id"
	"tireshop/internal/domain/inventorycount"
	"tireshop/internal/infrastructure/storage/postgres"
)

// OpenCountsForProduct returns in-progress counts with an unsettled line for
// productID. The headers are share-locked so a concurrent close-out waits for
// the capturing transaction.
func (r *Repo) OpenCountsForProduct(ctx context.Context, productID int64) ([]id.ID, error) {
	var ids []id.ID
	if err := r.selectAll(ctx, &ids, r.openCountsQuery(productID)); err != nil {
		return nil, fmt.Errorf("open counts for product: %w", err)
	}
	return ids, nil
}

func (r *Repo) openCountsQuery(productID int64) squirrel.SelectBuilder {
	return r.builder.Select("l.count_id").
		From(linesTable + " l").
		Join(countsTable + " c ON c.id = l.count_id").
		Where(squirrel.Eq{
			"l.product_id": productID,
			"l.settled_at": nil,
			"c.status":     inventorycount.StatusInProgress,
		}).
		OrderBy("l.count_id").
		Suffix("FOR SHARE OF c")
}

// AppendMovements copies captured movements. Must run in the ledger transaction.
func (r *Repo) AppendMovements(ctx context.Context, movements []inventorycount.PostCutoffMovement) error {
	rows := make([][]any, len(movements))
	for i := range movements {
		rows[i] = postgres.RowValues(&movements[i], movementColumns)
	}
	_, err := r.batch.CopyFromSlice(ctx, movementsTable, movementColumns, rows)
	return err
}

// UnconsumedMovements returns movements not yet folded into the line, up to cutoff.
func (r *Repo) UnconsumedMovements(ctx context.Context, countID id.ID, productID int64, cutoff time.Time) ([]inventorycount.PostCutoffMovement, error) {
	var movements []inventorycount.PostCutoffMovement
	if err := r.selectAll(ctx, &movements, r.unconsumedQuery(countID, productID, cutoff)); err != nil {
		return nil, fmt.Errorf("unconsumed movements: %w", err)
	}
	return movements, nil
}

func (r *Repo) unconsumedQuery(countID id.ID, productID int64, cutoff time.Time) squirrel.SelectBuilder {
	return r.builder.Select(movementColumns...).
		From(movementsTable).
		Where(squirrel.Eq{"count_id": countID, "product_id": productID, "consumed": false}).
		Where(squirrel.LtOrEq{"occurred_at": cutoff}).
		OrderBy("occurred_at", "id")
}

// ListMovements returns every captured movement of a line in occurrence order.
func (r *Repo) ListMovements(ctx context.Context, countID id.ID, productID int64) ([]inventorycount.PostCutoffMovement, error) {
	q := r.builder.Select(movementColumns...).
		From(movementsTable).
		Where(squirrel.Eq{"count_id": countID, "product_id": productID}).
		OrderBy("occurred_at", "id")

	movements := []inventorycount.PostCutoffMovement{}
	if err := r.selectAll(ctx, &movements, q); err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}

// MarkMovementsConsumed flags movements as folded into their line.
func (r *Repo) MarkMovementsConsumed(ctx context.Context, ids []id.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q := r.builder.Update(movementsTable).
		Set("consumed", true).
		Set("consumed_at", at).
		Where(squirrel.Eq{"id": ids, "consumed": false})

	_, err := r.exec(ctx, q, "consume movements")
	return err
}

// ConsumeRemainingMovements closes the movement trail of a count.
func (r *Repo) ConsumeRemainingMovements(ctx context.Context, countID id.ID, at time.Time) (int64, error) {
	tag, err := r.exec(ctx, r.consumeRemainingQuery(countID, at), "consume remaining movements")
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repo) consumeRemainingQuery(countID id.ID, at time.Time) squirrel.UpdateBuilder {
	return r.builder.Update(movementsTable).
		Set("consumed", true).
		Set("consumed_at", at).
		Where(squirrel.Eq{"count_id": countID, "consumed": false})
}
