package count_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"tireshop/internal/core/apperror"
	"tireshop/internal/core/id"
	"tireshop/internal/core/security"
	"tireshop/internal/domain"
	"tireshop/internal/domain/inventorycount"
	"tireshop/internal/infrastructure/storage/postgres"
)

// Create inserts a count header. Assignments are stored separately.
func (r *Repo) Create(ctx context.Context, c *inventorycount.InventoryCount) error {
	q := r.builder.Insert(countsTable).SetMap(postgres.StructToMap(c))
	if _, err := r.exec(ctx, q, "insert count"); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("inventory_count", "id", c.ID.String()).WithCause(err)
		}
		return err
	}
	return nil
}

// Update writes the header if its version is unchanged and bumps c.Version.
func (r *Repo) Update(ctx context.Context, c *inventorycount.InventoryCount) error {
	tag, err := r.exec(ctx, r.updateQuery(c), "update count")
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(countsTable, c.ID)
	}
	c.Version++
	return nil
}

func (r *Repo) updateQuery(c *inventorycount.InventoryCount) squirrel.UpdateBuilder {
	data := withoutColumns(postgres.StructToMap(c), "id", "version", "created_at")
	return r.builder.Update(countsTable).
		SetMap(data).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": c.ID}).
		Where(squirrel.Eq{"version": c.Version})
}

func (r *Repo) countQuery(countID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(countColumns...).
		From(countsTable).
		Where(squirrel.Eq{"id": countID})
}

// GetByID returns a count header.
func (r *Repo) GetByID(ctx context.Context, countID id.ID) (*inventorycount.InventoryCount, error) {
	return r.getCount(ctx, r.countQuery(countID), countID)
}

// GetForUpdate returns a count header locked for writing.
func (r *Repo) GetForUpdate(ctx context.Context, countID id.ID) (*inventorycount.InventoryCount, error) {
	return r.getCount(ctx, r.countQuery(countID).Suffix("FOR UPDATE"), countID)
}

// GetForShare returns a count header locked against status changes.
func (r *Repo) GetForShare(ctx context.Context, countID id.ID) (*inventorycount.InventoryCount, error) {
	return r.getCount(ctx, r.countQuery(countID).Suffix("FOR SHARE"), countID)
}

func (r *Repo) getCount(ctx context.Context, q squirrel.SelectBuilder, countID id.ID) (*inventorycount.InventoryCount, error) {
	var c inventorycount.InventoryCount
	found, err := r.get(ctx, &c, q)
	if err != nil {
		return nil, fmt.Errorf("get count: %w", err)
	}
	if !found {
		return nil, apperror.NewNotFound("inventory_count", countID)
	}
	return &c, nil
}

// List returns count headers, most recent window first.
func (r *Repo) List(ctx context.Context, filter inventorycount.ListFilter) (domain.ListResult[*inventorycount.InventoryCount], error) {
	page := filter.Page.Normalize()
	result := domain.ListResult[*inventorycount.InventoryCount]{
		Limit:  page.Limit,
		Offset: page.Offset,
	}

	q := r.listQuery(filter)

	countSQL, countArgs, err := r.builder.Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return result, fmt.Errorf("build count query: %w", err)
	}
	if err := r.querier(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count: %w", err)
	}

	q = q.OrderBy("start_at DESC", "id DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset))

	if err := r.selectAll(ctx, &result.Items, q); err != nil {
		return result, fmt.Errorf("list counts: %w", err)
	}
	return result, nil
}

func (r *Repo) listQuery(filter inventorycount.ListFilter) squirrel.SelectBuilder {
	q := r.builder.Select(countColumns...).From(countsTable)
	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": *filter.Status})
	}
	if filter.Kind != nil {
		q = q.Where(squirrel.Eq{"kind": *filter.Kind})
	}
	if filter.LocationID != nil {
		q = q.Where(squirrel.Eq{"location_id": *filter.LocationID})
	}
	return q
}

// ListIDsByStatus returns the ids of all counts in status.
func (r *Repo) ListIDsByStatus(ctx context.Context, status inventorycount.Status) ([]id.ID, error) {
	q := r.builder.Select("id").
		From(countsTable).
		Where(squirrel.Eq{"status": status}).
		OrderBy("id")

	var ids []id.ID
	if err := r.selectAll(ctx, &ids, q); err != nil {
		return nil, fmt.Errorf("list count ids: %w", err)
	}
	return ids, nil
}

// ReplaceAssignments swaps the assignment set of a count. Must run in a transaction.
func (r *Repo) ReplaceAssignments(ctx context.Context, countID id.ID, assignments []inventorycount.UserAssignment) error {
	del := r.builder.Delete(assignmentsTable).Where(squirrel.Eq{"count_id": countID})
	if _, err := r.exec(ctx, del, "delete assignments"); err != nil {
		return err
	}

	rows := make([][]any, len(assignments))
	for i, a := range assignments {
		a.CountID = countID
		rows[i] = postgres.RowValues(a, assignmentColumns)
	}
	_, err := r.batch.CopyFromSlice(ctx, assignmentsTable, assignmentColumns, rows)
	return err
}

// GetAssignments lists the assignments of a count by user.
func (r *Repo) GetAssignments(ctx context.Context, countID id.ID) ([]inventorycount.UserAssignment, error) {
	q := r.builder.Select(assignmentColumns...).
		From(assignmentsTable).
		Where(squirrel.Eq{"count_id": countID}).
		OrderBy("user_id")

	assignments := []inventorycount.UserAssignment{}
	if err := r.selectAll(ctx, &assignments, q); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// GrantFor implements security.GrantLookup.
func (r *Repo) GrantFor(ctx context.Context, countID id.ID, userID int64) (security.Grant, bool, error) {
	q := r.builder.Select(assignmentColumns...).
		From(assignmentsTable).
		Where(squirrel.Eq{"count_id": countID, "user_id": userID})

	var a inventorycount.UserAssignment
	found, err := r.get(ctx, &a, q)
	if err != nil {
		return security.Grant{}, false, fmt.Errorf("get assignment: %w", err)
	}
	if !found {
		return security.Grant{}, false, nil
	}
	return a.Grant(), true, nil
}
