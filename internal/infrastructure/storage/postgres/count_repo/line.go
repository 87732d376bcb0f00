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

// CreateLines bulk-inserts the snapshot lines of a starting count.
func (r *Repo) CreateLines(ctx context.Context, lines []inventorycount.CountLine) error {
	rows := make([][]any, len(lines))
	for i := range lines {
		rows[i] = postgres.RowValues(&lines[i], lineColumns)
	}
	if _, err := r.batch.CopyFromSlice(ctx, linesTable, lineColumns, rows); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("count_line", "product_id", "").WithCause(err)
		}
		return err
	}
	return nil
}

func (r *Repo) lineQuery(countID id.ID, productID int64) squirrel.SelectBuilder {
	return r.builder.Select(lineColumns...).
		From(linesTable).
		Where(squirrel.Eq{"count_id": countID, "product_id": productID})
}

// GetLine returns one count line.
func (r *Repo) GetLine(ctx context.Context, countID id.ID, productID int64) (*inventorycount.CountLine, error) {
	return r.getLine(ctx, r.lineQuery(countID, productID), productID)
}

// GetLineForUpdate returns one count line locked for writing.
func (r *Repo) GetLineForUpdate(ctx context.Context, countID id.ID, productID int64) (*inventorycount.CountLine, error) {
	return r.getLine(ctx, r.lineQuery(countID, productID).Suffix("FOR UPDATE"), productID)
}

func (r *Repo) getLine(ctx context.Context, q squirrel.SelectBuilder, productID int64) (*inventorycount.CountLine, error) {
	var l inventorycount.CountLine
	found, err := r.get(ctx, &l, q)
	if err != nil {
		return nil, fmt.Errorf("get line: %w", err)
	}
	if !found {
		return nil, apperror.NewNotFound("count_line", productID)
	}
	return &l, nil
}

// ListLines returns the lines of a count in product order.
func (r *Repo) ListLines(ctx context.Context, countID id.ID, filter inventorycount.LineFilter) ([]inventorycount.CountLine, error) {
	lines := []inventorycount.CountLine{}
	if err := r.selectAll(ctx, &lines, r.listLinesQuery(countID, filter)); err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	return lines, nil
}

func (r *Repo) listLinesQuery(countID id.ID, filter inventorycount.LineFilter) squirrel.SelectBuilder {
	page := filter.Page.Normalize()
	q := r.builder.Select(lineColumns...).
		From(linesTable).
		Where(squirrel.Eq{"count_id": countID})

	if filter.Counted != nil {
		if *filter.Counted {
			q = q.Where(squirrel.NotEq{"physical_quantity": nil})
		} else {
			q = q.Where(squirrel.Eq{"physical_quantity": nil})
		}
	}
	if filter.WithDifference {
		q = q.Where(squirrel.NotEq{"difference": 0})
	}

	return q.OrderBy("product_id").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset))
}

// RecordPhysical stores the count fields of line when its version equals
// expectedVersion. A recount clears the previous reconciliation result.
func (r *Repo) RecordPhysical(ctx context.Context, line *inventorycount.CountLine, expectedVersion int) error {
	var stored inventorycount.CountLine
	found, err := r.get(ctx, &stored, r.recordPhysicalQuery(line, expectedVersion))
	if err != nil {
		return fmt.Errorf("record physical: %w", err)
	}
	if !found {
		return apperror.NewConcurrentModification(linesTable, line.ID)
	}
	*line = stored
	return nil
}

func (r *Repo) recordPhysicalQuery(line *inventorycount.CountLine, expectedVersion int) squirrel.UpdateBuilder {
	return r.builder.Update(linesTable).
		Set("physical_quantity", line.PhysicalQuantity).
		Set("notes", line.Notes).
		Set("counted_by_user_id", line.CountedByUserID).
		Set("counted_at", line.CountedAt).
		Set("difference", nil).
		Set("reconciled_at", nil).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"count_id": line.CountID, "product_id": line.ProductID}).
		Where(squirrel.Eq{"version": expectedVersion}).
		Suffix("RETURNING " + joinColumns(lineColumns))
}

// SaveReconciliation stores the result of a reconciliation pass. The snapshot is never touched.
func (r *Repo) SaveReconciliation(ctx context.Context, line *inventorycount.CountLine) error {
	q := r.builder.Update(linesTable).
		Set("reconciled_system_quantity", line.ReconciledSystemQuantity).
		Set("consumed_delta", line.ConsumedDelta).
		Set("difference", line.Difference).
		Set("reconciled_at", line.ReconciledAt).
		Where(squirrel.Eq{"count_id": line.CountID, "product_id": line.ProductID})

	tag, err := r.exec(ctx, q, "save reconciliation")
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("count_line", line.ProductID)
	}
	return nil
}

// MarkLineSettled records that the line's correction reached the ledger.
func (r *Repo) MarkLineSettled(ctx context.Context, countID id.ID, productID int64, at time.Time) error {
	q := r.builder.Update(linesTable).
		Set("settled_at", at).
		Where(squirrel.Eq{"count_id": countID, "product_id": productID})

	tag, err := r.exec(ctx, q, "settle line")
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("count_line", productID)
	}
	return nil
}

// UnsettledProductIDs lists the products of lines still open for reconciliation.
func (r *Repo) UnsettledProductIDs(ctx context.Context, countID id.ID) ([]int64, error) {
	q := r.builder.Select("product_id").
		From(linesTable).
		Where(squirrel.Eq{"count_id": countID, "settled_at": nil}).
		OrderBy("product_id")

	var ids []int64
	if err := r.selectAll(ctx, &ids, q); err != nil {
		return nil, fmt.Errorf("list unsettled lines: %w", err)
	}
	return ids, nil
}

type progressRow struct {
	Total         int `db:"total"`
	Counted       int `db:"counted"`
	Discrepancies int `db:"discrepancies"`
}

// Progress aggregates the counting state of a count.
func (r *Repo) Progress(ctx context.Context, countID id.ID) (inventorycount.Progress, error) {
	var row progressRow
	if _, err := r.get(ctx, &row, r.progressQuery(countID)); err != nil {
		return inventorycount.Progress{}, fmt.Errorf("progress: %w", err)
	}
	return inventorycount.Progress{
		Total:         row.Total,
		Counted:       row.Counted,
		Pending:       row.Total - row.Counted,
		Discrepancies: row.Discrepancies,
	}, nil
}

func (r *Repo) progressQuery(countID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(
		"COUNT(*) AS total",
		"COUNT(physical_quantity) AS counted",
		"COUNT(*) FILTER (WHERE difference <> 0) AS discrepancies",
	).
		From(linesTable).
		Where(squirrel.Eq{"count_id": countID})
}
