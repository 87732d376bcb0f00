package inventorycount

import (
	"context"
	"time"

	"tireshop/internal/core/id"
	"tireshop/internal/domain"
)

// ListFilter narrows count header listings.
type ListFilter struct {
	Status     *Status
	Kind       *Kind
	LocationID *int64
	Page       domain.Page
}

// LineFilter narrows count line listings.
type LineFilter struct {
	Counted        *bool
	WithDifference bool
	Page           domain.Page
}

// AdjustmentFilter narrows adjustment listings.
type AdjustmentFilter struct {
	Status    *AdjustmentStatus
	ProductID *int64
}

// CountRepository persists count headers and their assignments.
type CountRepository interface {
	Create(ctx context.Context, c *InventoryCount) error
	// Update writes the header with optimistic locking on Version.
	Update(ctx context.Context, c *InventoryCount) error
	GetByID(ctx context.Context, countID id.ID) (*InventoryCount, error)
	GetForUpdate(ctx context.Context, countID id.ID) (*InventoryCount, error)
	GetForShare(ctx context.Context, countID id.ID) (*InventoryCount, error)
	List(ctx context.Context, filter ListFilter) (domain.ListResult[*InventoryCount], error)
	ListIDsByStatus(ctx context.Context, status Status) ([]id.ID, error)

	ReplaceAssignments(ctx context.Context, countID id.ID, assignments []UserAssignment) error
	GetAssignments(ctx context.Context, countID id.ID) ([]UserAssignment, error)
}

// LineRepository persists count lines.
type LineRepository interface {
	CreateLines(ctx context.Context, lines []CountLine) error
	GetLine(ctx context.Context, countID id.ID, productID int64) (*CountLine, error)
	GetLineForUpdate(ctx context.Context, countID id.ID, productID int64) (*CountLine, error)
	ListLines(ctx context.Context, countID id.ID, filter LineFilter) ([]CountLine, error)
	// RecordPhysical stores the count fields of line if its version still equals
	// expectedVersion, then bumps line.Version.
	RecordPhysical(ctx context.Context, line *CountLine, expectedVersion int) error
	SaveReconciliation(ctx context.Context, line *CountLine) error
	MarkLineSettled(ctx context.Context, countID id.ID, productID int64, at time.Time) error
	// UnsettledProductIDs lists products of lines not yet settled, in product order.
	UnsettledProductIDs(ctx context.Context, countID id.ID) ([]int64, error)
	Progress(ctx context.Context, countID id.ID) (Progress, error)
}

// MovementRepository persists post-cutoff movements.
type MovementRepository interface {
	// OpenCountsForProduct returns in-progress counts holding an unsettled line for productID.
	OpenCountsForProduct(ctx context.Context, productID int64) ([]id.ID, error)
	AppendMovements(ctx context.Context, movements []PostCutoffMovement) error
	// UnconsumedMovements returns unconsumed movements with OccurredAt <= cutoff.
	UnconsumedMovements(ctx context.Context, countID id.ID, productID int64, cutoff time.Time) ([]PostCutoffMovement, error)
	ListMovements(ctx context.Context, countID id.ID, productID int64) ([]PostCutoffMovement, error)
	MarkMovementsConsumed(ctx context.Context, ids []id.ID, at time.Time) error
	// ConsumeRemainingMovements marks every unconsumed movement of a count consumed
	// and returns how many were marked. Used on close-out.
	ConsumeRemainingMovements(ctx context.Context, countID id.ID, at time.Time) (int64, error)
}

// AdjustmentRepository persists staged ledger corrections.
// At most one pending adjustment exists per (count, product).
type AdjustmentRepository interface {
	// GetPendingAdjustment returns nil, nil when no pending adjustment exists.
	GetPendingAdjustment(ctx context.Context, countID id.ID, productID int64) (*PendingAdjustment, error)
	CreateAdjustment(ctx context.Context, adj *PendingAdjustment) error
	GetAdjustmentForUpdate(ctx context.Context, adjustmentID id.ID) (*PendingAdjustment, error)
	DiscardAdjustment(ctx context.Context, adjustmentID id.ID, at time.Time) error
	MarkAdjustmentApplied(ctx context.Context, adjustmentID id.ID, at time.Time) error
	ListAdjustments(ctx context.Context, countID id.ID, filter AdjustmentFilter) ([]PendingAdjustment, error)
	CountPendingAdjustments(ctx context.Context, countID id.ID) (int, error)
}

// Repository is the full persistence surface of the module.
type Repository interface {
	CountRepository
	LineRepository
	MovementRepository
	AdjustmentRepository
}
