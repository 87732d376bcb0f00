// Package inventorycount implements scheduled physical inventory counts and
// the reconciliation of post-cutoff stock movements into each count line.
package inventorycount

import (
	"context"
	"strings"
	"time"

	"tireshop/internal/core/apperror"
	"tireshop/internal/core/entity"
	"tireshop/internal/core/id"
	"tireshop/internal/core/security"
	"tireshop/internal/domain/registers/stock"
)

// EntityType is the entity name counts are recorded under in the audit trail.
const EntityType = "inventory_count"

// Status of a count header. Transitions only move forward.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Kind tags the scope of a count.
type Kind string

const (
	KindFull    Kind = "full"
	KindPartial Kind = "partial"
	KindCyclic  Kind = "cyclic"
)

func (k Kind) valid() bool {
	switch k {
	case KindFull, KindPartial, KindCyclic:
		return true
	}
	return false
}

// InventoryCount is the count header.
type InventoryCount struct {
	entity.BaseEntity

	Title           string     `db:"title" json:"title"`
	Description     string     `db:"description" json:"description"`
	StartAt         time.Time  `db:"start_at" json:"startAt"`
	EndAt           time.Time  `db:"end_at" json:"endAt"`
	Kind            Kind       `db:"kind" json:"kind"`
	Status          Status     `db:"status" json:"status"`
	CreatorUserID   int64      `db:"creator_user_id" json:"creatorUserId"`
	LocationID      *int64     `db:"location_id" json:"locationId,omitempty"`
	IncludeLowStock bool       `db:"include_low_stock" json:"includeLowStock"`
	StartedAt       *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completedAt,omitempty"`

	Assignments []UserAssignment `db:"-" json:"assignments,omitempty"`
}

// Validate implements entity.Validatable.
func (c *InventoryCount) Validate(_ context.Context) error {
	if strings.TrimSpace(c.Title) == "" {
		return apperror.NewValidation("title is required").WithDetail("field", "title")
	}
	if c.StartAt.IsZero() || c.EndAt.IsZero() {
		return apperror.NewValidation("scheduled window is required").WithDetail("field", "startAt")
	}
	if !c.StartAt.Before(c.EndAt) {
		return apperror.NewValidation("window start must be before its end").
			WithDetail("startAt", c.StartAt).
			WithDetail("endAt", c.EndAt)
	}
	if !c.Kind.valid() {
		return apperror.NewValidation("unknown count kind").WithDetail("kind", c.Kind)
	}
	return nil
}

// RequireStatus returns InvalidState unless the count is in s.
func (c *InventoryCount) RequireStatus(s Status) error {
	if c.Status != s {
		return apperror.NewInvalidState(EntityType, c.Status, s).WithDetail("id", c.ID)
	}
	return nil
}

func (c *InventoryCount) start(now time.Time) error {
	if err := c.RequireStatus(StatusScheduled); err != nil {
		return err
	}
	c.Status = StatusInProgress
	c.StartedAt = &now
	return nil
}

func (c *InventoryCount) complete(now time.Time) error {
	if err := c.RequireStatus(StatusInProgress); err != nil {
		return err
	}
	c.Status = StatusCompleted
	c.CompletedAt = &now
	return nil
}

// UserAssignment grants one user capabilities on one count.
type UserAssignment struct {
	CountID     id.ID     `db:"count_id" json:"countId"`
	UserID      int64     `db:"user_id" json:"userId"`
	CanCount    bool      `db:"can_count" json:"canCount"`
	CanAdjust   bool      `db:"can_adjust" json:"canAdjust"`
	CanValidate bool      `db:"can_validate" json:"canValidate"`
	AssignedAt  time.Time `db:"assigned_at" json:"assignedAt"`
}

// Grant converts the assignment for capability checks.
func (a UserAssignment) Grant() security.Grant {
	return security.Grant{Count: a.CanCount, Adjust: a.CanAdjust, Validate: a.CanValidate}
}

// CountLine is one product of a started count.
// SystemQuantity is the snapshot taken at start and is never written again.
type CountLine struct {
	ID         id.ID  `db:"id" json:"id"`
	CountID    id.ID  `db:"count_id" json:"countId"`
	ProductID  int64  `db:"product_id" json:"productId"`
	LocationID *int64 `db:"location_id" json:"locationId,omitempty"`

	SystemQuantity   int64  `db:"system_quantity" json:"systemQuantity"`
	PhysicalQuantity *int64 `db:"physical_quantity" json:"physicalQuantity,omitempty"`

	// ReconciledSystemQuantity caches the expected quantity of the last pass.
	ReconciledSystemQuantity *int64 `db:"reconciled_system_quantity" json:"reconciledSystemQuantity,omitempty"`
	// ConsumedDelta is the sum of movement deltas already folded into this line.
	ConsumedDelta int64  `db:"consumed_delta" json:"consumedDelta"`
	Difference    *int64 `db:"difference" json:"difference,omitempty"`

	Notes           string     `db:"notes" json:"notes"`
	CountedByUserID *int64     `db:"counted_by_user_id" json:"countedByUserId,omitempty"`
	CountedAt       *time.Time `db:"counted_at" json:"countedAt,omitempty"`
	ReconciledAt    *time.Time `db:"reconciled_at" json:"reconciledAt,omitempty"`
	SettledAt       *time.Time `db:"settled_at" json:"settledAt,omitempty"`

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// IsCounted reports whether a physical quantity was recorded.
func (l *CountLine) IsCounted() bool { return l.PhysicalQuantity != nil }

// IsSettled reports whether the line's correction reached the ledger.
func (l *CountLine) IsSettled() bool { return l.SettledAt != nil }

// PostCutoffMovement is a stock change observed on a product while its count was open.
type PostCutoffMovement struct {
	ID               id.ID              `db:"id" json:"id"`
	CountID          id.ID              `db:"count_id" json:"countId"`
	ProductID        int64              `db:"product_id" json:"productId"`
	Kind             stock.MovementKind `db:"kind" json:"kind"`
	Delta            int64              `db:"delta" json:"delta"`
	SourceType       *string            `db:"source_type" json:"sourceType,omitempty"`
	SourceID         *string            `db:"source_id" json:"sourceId,omitempty"`
	LedgerMovementID id.ID              `db:"ledger_movement_id" json:"ledgerMovementId"`
	OccurredAt       time.Time          `db:"occurred_at" json:"occurredAt"`
	Consumed         bool               `db:"consumed" json:"consumed"`
	ConsumedAt       *time.Time         `db:"consumed_at" json:"consumedAt,omitempty"`
}

// AdjustmentStatus of a staged ledger correction.
type AdjustmentStatus string

const (
	AdjustmentPending   AdjustmentStatus = "pending"
	AdjustmentApplied   AdjustmentStatus = "applied"
	AdjustmentDiscarded AdjustmentStatus = "discarded"
)

// AdjustmentReason records who produced a staged correction.
type AdjustmentReason string

const (
	ReasonReconciliation AdjustmentReason = "reconciliation"
	ReasonOverride       AdjustmentReason = "override"
)

// PendingAdjustment is a correction staged for the ledger. Delta is immutable.
type PendingAdjustment struct {
	ID              id.ID            `db:"id" json:"id"`
	CountID         id.ID            `db:"count_id" json:"countId"`
	ProductID       int64            `db:"product_id" json:"productId"`
	Delta           int64            `db:"delta" json:"delta"`
	Status          AdjustmentStatus `db:"status" json:"status"`
	Reason          AdjustmentReason `db:"reason" json:"reason"`
	CreatedByUserID *int64           `db:"created_by_user_id" json:"createdByUserId,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"createdAt"`
	AppliedAt       *time.Time       `db:"applied_at" json:"appliedAt,omitempty"`
	DiscardedAt     *time.Time       `db:"discarded_at" json:"discardedAt,omitempty"`
}

// Progress summarises counting work on a count.
type Progress struct {
	Total         int `json:"total"`
	Counted       int `json:"counted"`
	Pending       int `json:"pending"`
	Discrepancies int `json:"discrepancies"`
}
