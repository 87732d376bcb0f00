// Package counttest provides an in-memory inventory count repository for tests.
package counttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"tireshop/internal/core/apperror"
	"tireshop/internal/core/id"
	"tireshop/internal/core/security"
	"tireshop/internal/domain"
	"tireshop/internal/domain/inventorycount"
)

type lineKey struct {
	countID   id.ID
	productID int64
}

// MemoryRepo implements inventorycount.Repository and security.GrantLookup.
type MemoryRepo struct {
	mu          sync.Mutex
	counts      map[id.ID]inventorycount.InventoryCount
	assignments map[id.ID][]inventorycount.UserAssignment
	lines       map[lineKey]inventorycount.CountLine
	movements   []inventorycount.PostCutoffMovement
	adjustments map[id.ID]inventorycount.PendingAdjustment
	order       []id.ID
	appendErr   error
}

// NewMemoryRepo creates an empty repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		counts:      make(map[id.ID]inventorycount.InventoryCount),
		assignments: make(map[id.ID][]inventorycount.UserAssignment),
		lines:       make(map[lineKey]inventorycount.CountLine),
		adjustments: make(map[id.ID]inventorycount.PendingAdjustment),
	}
}

// FailAppends makes AppendMovements return err. Pass nil to clear.
func (r *MemoryRepo) FailAppends(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendErr = err
}

// --- Headers ---

func (r *MemoryRepo) Create(_ context.Context, c *inventorycount.InventoryCount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counts[c.ID]; ok {
		return apperror.NewDuplicate("inventory_count", "id", c.ID.String())
	}
	stored := *c
	stored.Assignments = nil
	r.counts[c.ID] = stored
	return nil
}

func (r *MemoryRepo) Update(_ context.Context, c *inventorycount.InventoryCount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.counts[c.ID]
	if !ok || stored.Version != c.Version {
		return apperror.NewConcurrentModification("inventory_counts", c.ID)
	}
	c.Version++
	next := *c
	next.Assignments = nil
	r.counts[c.ID] = next
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, countID id.ID) (*inventorycount.InventoryCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[countID]
	if !ok {
		return nil, apperror.NewNotFound("inventory_count", countID)
	}
	return &c, nil
}

func (r *MemoryRepo) GetForUpdate(ctx context.Context, countID id.ID) (*inventorycount.InventoryCount, error) {
	return r.GetByID(ctx, countID)
}

func (r *MemoryRepo) GetForShare(ctx context.Context, countID id.ID) (*inventorycount.InventoryCount, error) {
	return r.GetByID(ctx, countID)
}

func (r *MemoryRepo) List(_ context.Context, filter inventorycount.ListFilter) (domain.ListResult[*inventorycount.InventoryCount], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*inventorycount.InventoryCount
	for _, c := range r.counts {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && c.Kind != *filter.Kind {
			continue
		}
		if filter.LocationID != nil && (c.LocationID == nil || *c.LocationID != *filter.LocationID) {
			continue
		}
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartAt.After(all[j].StartAt) })

	page := filter.Page.Normalize()
	items := all
	if page.Offset >= len(items) {
		items = nil
	} else {
		items = items[page.Offset:]
		if len(items) > page.Limit {
			items = items[:page.Limit]
		}
	}
	return domain.ListResult[*inventorycount.InventoryCount]{
		Items:      items,
		TotalCount: int64(len(all)),
		Limit:      page.Limit,
		Offset:     page.Offset,
	}, nil
}

func (r *MemoryRepo) ListIDsByStatus(_ context.Context, status inventorycount.Status) ([]id.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []id.ID
	for cid, c := range r.counts {
		if c.Status == status {
			out = append(out, cid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (r *MemoryRepo) ReplaceAssignments(_ context.Context, countID id.ID, assignments []inventorycount.UserAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[countID] = append([]inventorycount.UserAssignment(nil), assignments...)
	return nil
}

func (r *MemoryRepo) GetAssignments(_ context.Context, countID id.ID) ([]inventorycount.UserAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]inventorycount.UserAssignment{}, r.assignments[countID]...), nil
}

// GrantFor implements security.GrantLookup.
func (r *MemoryRepo) GrantFor(_ context.Context, countID id.ID, userID int64) (security.Grant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assignments[countID] {
		if a.UserID == userID {
			return a.Grant(), true, nil
		}
	}
	return security.Grant{}, false, nil
}

// --- Lines ---

func (r *MemoryRepo) CreateLines(_ context.Context, lines []inventorycount.CountLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range lines {
		k := lineKey{l.CountID, l.ProductID}
		if _, ok := r.lines[k]; ok {
			return apperror.NewDuplicate("count_line", "product_id", "")
		}
		r.lines[k] = l
	}
	return nil
}

func (r *MemoryRepo) GetLine(_ context.Context, countID id.ID, productID int64) (*inventorycount.CountLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[lineKey{countID, productID}]
	if !ok {
		return nil, apperror.NewNotFound("count_line", productID)
	}
	return &l, nil
}

func (r *MemoryRepo) GetLineForUpdate(ctx context.Context, countID id.ID, productID int64) (*inventorycount.CountLine, error) {
	return r.GetLine(ctx, countID, productID)
}

func (r *MemoryRepo) ListLines(_ context.Context, countID id.ID, filter inventorycount.LineFilter) ([]inventorycount.CountLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventorycount.CountLine
	for k, l := range r.lines {
		if k.countID != countID {
			continue
		}
		if filter.Counted != nil && l.IsCounted() != *filter.Counted {
			continue
		}
		if filter.WithDifference && (l.Difference == nil || *l.Difference == 0) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })

	page := filter.Page.Normalize()
	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) RecordPhysical(_ context.Context, line *inventorycount.CountLine, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := lineKey{line.CountID, line.ProductID}
	stored, ok := r.lines[k]
	if !ok || stored.Version != expectedVersion {
		return apperror.NewConcurrentModification("count_lines", line.ID)
	}
	stored.PhysicalQuantity = line.PhysicalQuantity
	stored.Notes = line.Notes
	stored.CountedByUserID = line.CountedByUserID
	stored.CountedAt = line.CountedAt
	stored.Difference = nil
	stored.ReconciledAt = nil
	stored.Version = expectedVersion + 1
	r.lines[k] = stored
	*line = stored
	return nil
}

func (r *MemoryRepo) SaveReconciliation(_ context.Context, line *inventorycount.CountLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := lineKey{line.CountID, line.ProductID}
	stored, ok := r.lines[k]
	if !ok {
		return apperror.NewNotFound("count_line", line.ProductID)
	}
	stored.ReconciledSystemQuantity = line.ReconciledSystemQuantity
	stored.ConsumedDelta = line.ConsumedDelta
	stored.Difference = line.Difference
	stored.ReconciledAt = line.ReconciledAt
	r.lines[k] = stored
	return nil
}

func (r *MemoryRepo) MarkLineSettled(_ context.Context, countID id.ID, productID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := lineKey{countID, productID}
	stored, ok := r.lines[k]
	if !ok {
		return apperror.NewNotFound("count_line", productID)
	}
	stored.SettledAt = &at
	r.lines[k] = stored
	return nil
}

func (r *MemoryRepo) UnsettledProductIDs(_ context.Context, countID id.ID) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for k, l := range r.lines {
		if k.countID == countID && !l.IsSettled() {
			out = append(out, k.productID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *MemoryRepo) Progress(_ context.Context, countID id.ID) (inventorycount.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var p inventorycount.Progress
	for k, l := range r.lines {
		if k.countID != countID {
			continue
		}
		p.Total++
		if l.IsCounted() {
			p.Counted++
		}
		if l.Difference != nil && *l.Difference != 0 {
			p.Discrepancies++
		}
	}
	p.Pending = p.Total - p.Counted
	return p, nil
}

// --- Movements ---

func (r *MemoryRepo) OpenCountsForProduct(_ context.Context, productID int64) ([]id.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []id.ID
	for k, l := range r.lines {
		if k.productID != productID || l.IsSettled() {
			continue
		}
		if c, ok := r.counts[k.countID]; ok && c.Status == inventorycount.StatusInProgress {
			out = append(out, k.countID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (r *MemoryRepo) AppendMovements(_ context.Context, movements []inventorycount.PostCutoffMovement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.movements = append(r.movements, movements...)
	return nil
}

func (r *MemoryRepo) UnconsumedMovements(_ context.Context, countID id.ID, productID int64, cutoff time.Time) ([]inventorycount.PostCutoffMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventorycount.PostCutoffMovement
	for _, m := range r.movements {
		if m.CountID == countID && m.ProductID == productID && !m.Consumed && !m.OccurredAt.After(cutoff) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListMovements(_ context.Context, countID id.ID, productID int64) ([]inventorycount.PostCutoffMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []inventorycount.PostCutoffMovement{}
	for _, m := range r.movements {
		if m.CountID == countID && m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryRepo) MarkMovementsConsumed(_ context.Context, ids []id.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[id.ID]bool, len(ids))
	for _, mid := range ids {
		set[mid] = true
	}
	for i := range r.movements {
		if set[r.movements[i].ID] {
			r.movements[i].Consumed = true
			r.movements[i].ConsumedAt = &at
		}
	}
	return nil
}

func (r *MemoryRepo) ConsumeRemainingMovements(_ context.Context, countID id.ID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.movements {
		if r.movements[i].CountID == countID && !r.movements[i].Consumed {
			r.movements[i].Consumed = true
			r.movements[i].ConsumedAt = &at
			n++
		}
	}
	return n, nil
}

// --- Adjustments ---

func (r *MemoryRepo) GetPendingAdjustment(_ context.Context, countID id.ID, productID int64) (*inventorycount.PendingAdjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.adjustments {
		if a.CountID == countID && a.ProductID == productID && a.Status == inventorycount.AdjustmentPending {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepo) CreateAdjustment(_ context.Context, adj *inventorycount.PendingAdjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.adjustments {
		if a.CountID == adj.CountID && a.ProductID == adj.ProductID && a.Status == inventorycount.AdjustmentPending {
			return apperror.NewDuplicate("pending_adjustment", "product_id", "")
		}
	}
	r.adjustments[adj.ID] = *adj
	r.order = append(r.order, adj.ID)
	return nil
}

func (r *MemoryRepo) GetAdjustmentForUpdate(_ context.Context, adjustmentID id.ID) (*inventorycount.PendingAdjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adjustments[adjustmentID]
	if !ok {
		return nil, apperror.NewNotFound("pending_adjustment", adjustmentID)
	}
	return &a, nil
}

func (r *MemoryRepo) DiscardAdjustment(_ context.Context, adjustmentID id.ID, at time.Time) error {
	return r.setAdjustmentStatus(adjustmentID, inventorycount.AdjustmentDiscarded, at)
}

func (r *MemoryRepo) MarkAdjustmentApplied(_ context.Context, adjustmentID id.ID, at time.Time) error {
	return r.setAdjustmentStatus(adjustmentID, inventorycount.AdjustmentApplied, at)
}

func (r *MemoryRepo) setAdjustmentStatus(adjustmentID id.ID, status inventorycount.AdjustmentStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adjustments[adjustmentID]
	if !ok || a.Status != inventorycount.AdjustmentPending {
		return apperror.NewInvalidState("pending_adjustment", a.Status, inventorycount.AdjustmentPending)
	}
	a.Status = status
	if status == inventorycount.AdjustmentApplied {
		a.AppliedAt = &at
	} else {
		a.DiscardedAt = &at
	}
	r.adjustments[adjustmentID] = a
	return nil
}

func (r *MemoryRepo) ListAdjustments(_ context.Context, countID id.ID, filter inventorycount.AdjustmentFilter) ([]inventorycount.PendingAdjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []inventorycount.PendingAdjustment{}
	for _, aid := range r.order {
		a := r.adjustments[aid]
		if a.CountID != countID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.ProductID != nil && a.ProductID != *filter.ProductID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *MemoryRepo) CountPendingAdjustments(_ context.Context, countID id.ID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.adjustments {
		if a.CountID == countID && a.Status == inventorycount.AdjustmentPending {
			n++
		}
	}
	return n, nil
}

var (
	_ inventorycount.Repository = (*MemoryRepo)(nil)
	_ security.GrantLookup      = (*MemoryRepo)(nil)
)
