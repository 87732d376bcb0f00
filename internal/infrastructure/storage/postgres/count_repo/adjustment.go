package count_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"tireshop/internal/core/apperror"
	"tireshop/internal/core/id"
	"tireshop/internal/domain/inventorycount"
	"tireshop/internal/infrastructure/storage/postgres"
)

// GetPendingAdjustment returns the pending correction of a line, or nil.
func (r *Repo) GetPendingAdjustment(ctx context.Context, countID id.ID, productID int64) (*inventorycount.PendingAdjustment, error) {
	q := r.builder.Select(adjustmentColumns...).
		From(adjustmentsTable).
		Where(squirrel.Eq{
			"count_id":   countID,
			"product_id": productID,
			"status":     inventorycount.AdjustmentPending,
		})

	var adj inventorycount.PendingAdjustment
	found, err := r.get(ctx, &adj, q)
	if err != nil {
		return nil, fmt.Errorf("get pending adjustment: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &adj, nil
}

// CreateAdjustment inserts a staged correction. The partial unique index on
// pending rows rejects a second pending adjustment for the same line.
func (r *Repo) CreateAdjustment(ctx context.Context, adj *inventorycount.PendingAdjustment) error {
	q := r.builder.Insert(adjustmentsTable).SetMap(postgres.StructToMap(adj))
	if _, err := r.exec(ctx, q, "insert adjustment"); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("pending_adjustment", "product_id", fmt.Sprint(adj.ProductID)).WithCause(err)
		}
		return err
	}
	return nil
}

// GetAdjustmentForUpdate returns an adjustment locked for writing.
func (r *Repo) GetAdjustmentForUpdate(ctx context.Context, adjustmentID id.ID) (*inventorycount.PendingAdjustment, error) {
	q := r.builder.Select(adjustmentColumns...).
		From(adjustmentsTable).
		Where(squirrel.Eq{"id": adjustmentID}).
		Suffix("FOR UPDATE")

	var adj inventorycount.PendingAdjustment
	found, err := r.get(ctx, &adj, q)
	if err != nil {
		return nil, fmt.Errorf("get adjustment: %w", err)
	}
	if !found {
		return nil, apperror.NewNotFound("pending_adjustment", adjustmentID)
	}
	return &adj, nil
}

// DiscardAdjustment moves a pending adjustment to discarded.
func (r *Repo) DiscardAdjustment(ctx context.Context, adjustmentID id.ID, at time.Time) error {
	return r.resolveAdjustment(ctx, adjustmentID, inventorycount.AdjustmentDiscarded, "discarded_at", at)
}

// MarkAdjustmentApplied moves a pending adjustment to applied.
func (r *Repo) MarkAdjustmentApplied(ctx context.Context, adjustmentID id.ID, at time.Time) error {
	return r.resolveAdjustment(ctx, adjustmentID, inventorycount.AdjustmentApplied, "applied_at", at)
}

func (r *Repo) resolveAdjustment(ctx context.Context, adjustmentID id.ID, status inventorycount.AdjustmentStatus, column string, at time.Time) error {
	tag, err := r.exec(ctx, r.resolveQuery(adjustmentID, status, column, at), "resolve adjustment")
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewInvalidState("pending_adjustment", "resolved", inventorycount.AdjustmentPending).
			WithDetail("id", adjustmentID)
	}
	return nil
}

func (r *Repo) resolveQuery(adjustmentID id.ID, status inventorycount.AdjustmentStatus, column string, at time.Time) squirrel.UpdateBuilder {
	return r.builder.Update(adjustmentsTable).
		Set("status", status).
		Set(column, at).
		Where(squirrel.Eq{"id": adjustmentID, "status": inventorycount.AdjustmentPending})
}

// ListAdjustments returns the adjustments of a count in creation order.
func (r *Repo) ListAdjustments(ctx context.Context, countID id.ID, filter inventorycount.AdjustmentFilter) ([]inventorycount.PendingAdjustment, error) {
	q := r.builder.Select(adjustmentColumns...).
		From(adjustmentsTable).
		Where(squirrel.Eq{"count_id": countID})
	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": *filter.Status})
	}
	if filter.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	q = q.OrderBy("created_at", "id")

	adjustments := []inventorycount.PendingAdjustment{}
	if err := r.selectAll(ctx, &adjustments, q); err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	return adjustments, nil
}

// CountPendingAdjustments counts corrections still waiting for the ledger.
func (r *Repo) CountPendingAdjustments(ctx context.Context, countID id.ID) (int, error) {
	sql, args, err := r.builder.Select("COUNT(*)").
		From(adjustmentsTable).
		Where(squirrel.Eq{"count_id": countID, "status": inventorycount.AdjustmentPending}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var n int
	if err := r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending adjustments: %w", err)
	}
	return n, nil
}
