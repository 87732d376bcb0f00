// Package count_repo provides the PostgreSQL implementation of the inventory count repository.
package count_repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"tireshop/internal/core/security"
	"tireshop/internal/domain/inventorycount"
	"tireshop/internal/infrastructure/storage/postgres"
)

const (
	countsTable      = "inventory_counts"
	assignmentsTable = "count_assignments"
	linesTable       = "count_lines"
	movementsTable   = "count_post_cutoff_movements"
	adjustmentsTable = "count_adjustments"
)

const sqlStateUniqueViolation = "23505"

var (
	countColumns      = postgres.ExtractDBColumns[inventorycount.InventoryCount]()
	assignmentColumns = postgres.ExtractDBColumns[inventorycount.UserAssignment]()
	lineColumns       = postgres.ExtractDBColumns[inventorycount.CountLine]()
	movementColumns   = postgres.ExtractDBColumns[inventorycount.PostCutoffMovement]()
	adjustmentColumns = postgres.ExtractDBColumns[inventorycount.PendingAdjustment]()
)

// Repo implements inventorycount.Repository and security.GrantLookup.
type Repo struct {
	txManager *postgres.TxManager
	batch     *postgres.BatchInserter
	builder   squirrel.StatementBuilderType
}

var (
	_ inventorycount.Repository = (*Repo)(nil)
	_ security.GrantLookup      = (*Repo)(nil)
)

// New creates a count repository.
func New(txManager *postgres.TxManager) *Repo {
	return &Repo{
		txManager: txManager,
		batch:     postgres.NewBatchInserter(txManager),
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *Repo) querier(ctx context.Context) postgres.Querier {
	return r.txManager.GetQuerier(ctx)
}

func (r *Repo) exec(ctx context.Context, q squirrel.Sqlizer, what string) (pgconn.CommandTag, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build %s: %w", what, err)
	}
	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return tag, fmt.Errorf("%s: %w", what, err)
	}
	return tag, nil
}

// get scans a single row into dst. found is false on no rows.
func (r *Repo) get(ctx context.Context, dst any, q squirrel.Sqlizer) (found bool, err error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.querier(ctx), dst, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Repo) selectAll(ctx context.Context, dst any, q squirrel.Sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return pgxscan.Select(ctx, r.querier(ctx), dst, sql, args...)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

// withoutColumns returns data minus the named keys.
func withoutColumns(data map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		delete(data, k)
	}
	return data
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
