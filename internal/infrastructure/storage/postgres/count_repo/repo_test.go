package count_repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tireshop/internal/core/entity"
	"tireshop/internal/core/id"
	"tireshop/internal/domain"
	"tireshop/internal/domain/inventorycount"
)

func TestColumns_SkipAssignments(t *testing.T) {
	assert.Equal(t, []string{"id", "version", "created_at", "updated_at", "title"}, countColumns[:5])
	assert.NotContains(t, countColumns, "assignments")
	assert.Contains(t, lineColumns, "consumed_delta")
}

func TestUpdateQuery_OptimisticLock(t *testing.T) {
	r := New(nil)
	c := &inventorycount.InventoryCount{
		BaseEntity: entity.NewBaseEntity(time.Now()),
		Title:      "Quarterly",
		Kind:       inventorycount.KindFull,
		Status:     inventorycount.StatusScheduled,
	}
	c.Version = 3

	sql, args, err := r.updateQuery(c).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "UPDATE inventory_counts SET ")
	assert.Contains(t, sql, "version = version + 1")
	assert.NotContains(t, sql, "created_at =")
	assert.Contains(t, sql, "WHERE id = $")
	assert.Contains(t, sql, "AND version = $")
	assert.Equal(t, c.ID, args[len(args)-2])
	assert.Equal(t, 3, args[len(args)-1])
}

func TestListQuery_Filters(t *testing.T) {
	r := New(nil)
	status := inventorycount.StatusInProgress
	loc := int64(2)

	sql, args, err := r.listQuery(inventorycount.ListFilter{Status: &status, LocationID: &loc}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM inventory_counts WHERE status = $1 AND location_id = $2")
	assert.Equal(t, []any{status, int64(2)}, args)
}

func TestListLinesQuery(t *testing.T) {
	r := New(nil)
	countID := id.New()
	counted := false

	tests := []struct {
		name   string
		filter inventorycount.LineFilter
		want   string
	}{
		{
			name:   "all lines",
			filter: inventorycount.LineFilter{},
			want:   "WHERE count_id = $1 ORDER BY product_id LIMIT 50 OFFSET 0",
		},
		{
			name:   "uncounted",
			filter: inventorycount.LineFilter{Counted: &counted},
			want:   "WHERE count_id = $1 AND physical_quantity IS NULL ORDER BY product_id",
		},
		{
			name:   "discrepancies",
			filter: inventorycount.LineFilter{WithDifference: true, Page: domain.Page{Limit: 10, Offset: 20}},
			want:   "WHERE count_id = $1 AND difference <> $2 ORDER BY product_id LIMIT 10 OFFSET 20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := r.listLinesQuery(countID, tt.filter).ToSql()
			require.NoError(t, err)
			assert.Contains(t, sql, tt.want)
			assert.Equal(t, countID, args[0])
		})
	}
}

func TestRecordPhysicalQuery(t *testing.T) {
	r := New(nil)
	qty := int64(12)
	line := &inventorycount.CountLine{CountID: id.New(), ProductID: 5, PhysicalQuantity: &qty}

	sql, args, err := r.recordPhysicalQuery(line, 4).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "difference = $5, reconciled_at = $6, version = version + 1")
	assert.Contains(t, sql, "WHERE count_id = $7 AND product_id = $8 AND version = $9 RETURNING id, count_id, product_id")
	assert.Equal(t, 4, args[len(args)-1])
}

func TestOpenCountsQuery_LocksHeaders(t *testing.T) {
	r := New(nil)

	sql, args, err := r.openCountsQuery(9).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT l.count_id FROM count_lines l JOIN inventory_counts c ON c.id = l.count_id "+
			"WHERE c.status = $1 AND l.product_id = $2 AND l.settled_at IS NULL "+
			"ORDER BY l.count_id FOR SHARE OF c",
		sql)
	assert.Equal(t, []any{inventorycount.StatusInProgress, int64(9)}, args)
}

func TestUnconsumedQuery_CapsAtCutoff(t *testing.T) {
	r := New(nil)
	countID := id.New()
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sql, args, err := r.unconsumedQuery(countID, 3, cutoff).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE consumed = $1 AND count_id = $2 AND product_id = $3 AND occurred_at <= $4 ORDER BY occurred_at, id")
	assert.Equal(t, []any{false, countID, int64(3), cutoff}, args)
}

func TestConsumeRemainingQuery(t *testing.T) {
	r := New(nil)
	countID := id.New()
	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	sql, args, err := r.consumeRemainingQuery(countID, at).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "UPDATE count_post_cutoff_movements SET consumed = $1, consumed_at = $2 WHERE consumed = $3 AND count_id = $4", sql)
	assert.Equal(t, []any{true, at, false, countID}, args)
}

func TestResolveQuery_OnlyPending(t *testing.T) {
	r := New(nil)
	adjID := id.New()
	at := time.Now()

	sql, args, err := r.resolveQuery(adjID, inventorycount.AdjustmentApplied, "applied_at", at).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "UPDATE count_adjustments SET status = $1, applied_at = $2 WHERE id = $3 AND status = $4", sql)
	assert.Equal(t, []any{inventorycount.AdjustmentApplied, at, adjID, inventorycount.AdjustmentPending}, args)
}

func TestProgressQuery(t *testing.T) {
	r := New(nil)

	sql, _, err := r.progressQuery(id.New()).ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT COUNT(*) AS total, COUNT(physical_quantity) AS counted, "+
			"COUNT(*) FILTER (WHERE difference <> 0) AS discrepancies FROM count_lines WHERE count_id = $1",
		sql)
}
