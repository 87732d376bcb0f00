package inventorycount

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tireshop/internal/core/apperror"
	appctx "tireshop/internal/core/context"
	"tireshop/internal/core/entity"
	"tireshop/internal/core/events"
	"tireshop/internal/core/id"
	"tireshop/internal/core/security"
	"tireshop/internal/domain/registers/stock"
	"tireshop/pkg/logger"
)

// Outbox event types.
const (
	EventStarted           = "inventory_count.started"
	EventCompleted         = "inventory_count.completed"
	EventCorrectionApplied = "inventory_count.correction_applied"
)

// AssignmentInput grants capabilities to one user.
type AssignmentInput struct {
	UserID   int64 `json:"userId"`
	Count    bool  `json:"count"`
	Adjust   bool  `json:"adjust"`
	Validate bool  `json:"validate"`
}

// ScheduleInput describes a count to schedule or reschedule.
type ScheduleInput struct {
	Title           string
	Description     string
	StartAt         time.Time
	EndAt           time.Time
	Kind            Kind
	LocationID      *int64
	IncludeLowStock bool
	Assignments     []AssignmentInput
}

// RecordCountInput carries one physical count.
// ExpectedVersion is the line version the counter last saw and is required.
type RecordCountInput struct {
	CountID         id.ID
	ProductID       int64
	Quantity        int64
	Notes           string
	ExpectedVersion *int
}

// Schedule creates a count in the scheduled state. Requires override.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput, actor appctx.AuthenticatedUser) (*InventoryCount, error) {
	if err := s.requireOverride(actor); err != nil {
		return nil, err
	}

	now := s.now()
	count := &InventoryCount{
		BaseEntity:    entity.NewBaseEntity(now),
		Status:        StatusScheduled,
		CreatorUserID: actor.ID,
	}
	applySchedule(count, in)
	if err := count.Validate(ctx); err != nil {
		return nil, err
	}

	assignments, err := buildAssignments(count.ID, in.Assignments, now)
	if err != nil {
		return nil, err
	}
	count.Assignments = assignments

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, count); err != nil {
			return fmt.Errorf("create count: %w", err)
		}
		return s.repo.ReplaceAssignments(ctx, count.ID, assignments)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "inventory count scheduled",
		"count_id", count.ID,
		"kind", count.Kind,
		"assignees", len(assignments),
	)
	s.notifyAssignees(ctx, count, NotifyScheduled,
		"Inventory count scheduled",
		fmt.Sprintf("%q is scheduled from %s to %s", count.Title,
			count.StartAt.Format(time.RFC3339), count.EndAt.Format(time.RFC3339)))

	return count, nil
}

// UpdateSchedule rewrites a scheduled count and its assignments. Requires override.
func (s *Service) UpdateSchedule(ctx context.Context, countID id.ID, in ScheduleInput, actor appctx.AuthenticatedUser) (*InventoryCount, error) {
	if err := s.requireOverride(actor); err != nil {
		return nil, err
	}

	var count *InventoryCount
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.repo.GetForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if err := count.RequireStatus(StatusScheduled); err != nil {
			return err
		}

		now := s.now()
		applySchedule(count, in)
		if err := count.Validate(ctx); err != nil {
			return err
		}
		assignments, err := buildAssignments(count.ID, in.Assignments, now)
		if err != nil {
			return err
		}
		count.Assignments = assignments
		count.UpdatedAt = now

		if err := s.repo.Update(ctx, count); err != nil {
			return err
		}
		return s.repo.ReplaceAssignments(ctx, count.ID, assignments)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "inventory count rescheduled", "count_id", count.ID)
	return count, nil
}

// Start snapshots the eligible ledger balances into count lines and opens the
// count. The snapshot and the status change commit together. Requires override.
func (s *Service) Start(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*InventoryCount, error) {
	if err := s.requireOverride(actor); err != nil {
		return nil, err
	}

	var (
		count *InventoryCount
		lines []CountLine
	)
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.repo.GetForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if err := count.RequireStatus(StatusScheduled); err != nil {
			return err
		}

		balances, err := s.ledger.EligibleForCount(ctx, stock.EligibilityFilter{
			LocationID:      count.LocationID,
			IncludeLowStock: count.IncludeLowStock,
		})
		if err != nil {
			return fmt.Errorf("snapshot ledger: %w", err)
		}

		now := s.now()
		lines = snapshotLines(count.ID, balances, now)
		if len(lines) > 0 {
			if err := s.repo.CreateLines(ctx, lines); err != nil {
				return fmt.Errorf("create lines: %w", err)
			}
		}

		if err := count.start(now); err != nil {
			return err
		}
		count.UpdatedAt = now
		if err := s.repo.Update(ctx, count); err != nil {
			return err
		}

		return s.events.Publish(ctx, events.Event{
			AggregateType: EntityType,
			AggregateID:   count.ID,
			EventType:     EventStarted,
			Payload: map[string]any{
				"count_id": count.ID,
				"lines":    len(lines),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "inventory count started", "count_id", count.ID, "lines", len(lines))
	s.invalidate(ctx, count.ID)
	s.notifyAssignees(ctx, count, NotifyStarted,
		"Inventory count started",
		fmt.Sprintf("%q is open with %d products to count", count.Title, len(lines)))

	return count, nil
}

// RecordCount stores a physical quantity on a line. Requires the count capability.
// Recording again overwrites the previous value and clears the last reconciliation.
func (s *Service) RecordCount(ctx context.Context, in RecordCountInput, actor appctx.AuthenticatedUser) (*CountLine, error) {
	if in.Quantity < 0 {
		return nil, apperror.NewValidation("physical quantity must not be negative").
			WithDetail("quantity", in.Quantity)
	}
	if in.ExpectedVersion == nil || *in.ExpectedVersion < 1 {
		return nil, apperror.NewValidation("expected line version is required")
	}
	if err := s.requireCapability(ctx, actor, in.CountID, security.CapabilityCount); err != nil {
		return nil, err
	}

	var line *CountLine
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		count, err := s.repo.GetForShare(ctx, in.CountID)
		if err != nil {
			return err
		}
		if err := count.RequireStatus(StatusInProgress); err != nil {
			return err
		}

		line, err = s.repo.GetLine(ctx, in.CountID, in.ProductID)
		if err != nil {
			return err
		}
		if line.IsSettled() {
			return apperror.NewInvalidState("count_line", "settled", "open").
				WithDetail("product_id", in.ProductID)
		}

		now := s.now()
		qty := in.Quantity
		counter := actor.ID
		line.PhysicalQuantity = &qty
		line.Notes = strings.TrimSpace(in.Notes)
		line.CountedByUserID = &counter
		line.CountedAt = &now
		line.Difference = nil
		line.ReconciledAt = nil

		return s.repo.RecordPhysical(ctx, line, *in.ExpectedVersion)
	})
	if err != nil {
		return nil, err
	}

	logger.Debug(ctx, "physical count recorded",
		"count_id", in.CountID,
		"product_id", in.ProductID,
		"quantity", in.Quantity,
	)
	s.invalidate(ctx, in.CountID)
	return line, nil
}

// CloseOutReport describes everything Complete did.
type CloseOutReport struct {
	CountID        id.ID              `json:"countId"`
	Reconciliation *BatchResult       `json:"reconciliation,omitempty"`
	Adjustments    []AdjustmentResult `json:"adjustments"`
	Applied        int                `json:"applied"`
	Failed         int                `json:"failed"`
	Completed      bool               `json:"completed"`
}

// Complete reconciles every line, applies every pending adjustment to the
// ledger and closes the count. Movements still unconsumed at that point, the
// ones recorded after a line was counted, are consumed with the close.
// Requires override.
//
// When any adjustment fails the count stays in progress and the report lists
// what was applied and what was not. Calling Complete again retries only the
// adjustments still pending.
func (s *Service) Complete(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*CloseOutReport, error) {
	if err := s.requireOverride(actor); err != nil {
		return nil, err
	}

	count, err := s.repo.GetByID(ctx, countID)
	if err != nil {
		return nil, err
	}
	if err := count.RequireStatus(StatusInProgress); err != nil {
		return nil, err
	}

	report := &CloseOutReport{CountID: countID}

	batch, err := s.reconcileAll(ctx, count)
	report.Reconciliation = batch
	if err != nil {
		return report, err
	}
	if batch.Failed > 0 || batch.Cancelled > 0 {
		return report, apperror.NewBusinessRule(apperror.CodeReconcileFailed, "reconciliation did not finish for every line").
			WithDetail("failed", batch.Failed).
			WithDetail("cancelled", batch.Cancelled)
	}

	report.Adjustments = s.applyPending(ctx, count, actor.ID)
	for _, r := range report.Adjustments {
		switch r.Status {
		case ApplyApplied:
			report.Applied++
		case ApplyFailed:
			report.Failed++
		}
	}
	if report.Failed > 0 {
		logger.Warn(ctx, "inventory count close-out incomplete",
			"count_id", countID,
			"applied", report.Applied,
			"failed", report.Failed,
		)
		s.invalidate(ctx, countID)
		return report, apperror.NewBusinessRule(apperror.CodeLedgerWrite, "some corrections were rejected by the stock ledger").
			WithDetail("applied", report.Applied).
			WithDetail("failed", report.Failed)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.GetForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		pending, err := s.repo.CountPendingAdjustments(ctx, countID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return apperror.NewInvalidState(EntityType, "has pending adjustments", "no pending adjustments").
				WithDetail("pending", pending)
		}

		now := s.now()
		consumed, err := s.repo.ConsumeRemainingMovements(ctx, countID, now)
		if err != nil {
			return fmt.Errorf("consume remaining movements: %w", err)
		}
		if consumed > 0 {
			logger.Debug(ctx, "movements after the physical count closed out",
				"count_id", countID,
				"movements", consumed,
			)
		}
		if err := locked.complete(now); err != nil {
			return err
		}
		locked.UpdatedAt = now
		if err := s.repo.Update(ctx, locked); err != nil {
			return err
		}
		count = locked

		return s.events.Publish(ctx, events.Event{
			AggregateType: EntityType,
			AggregateID:   countID,
			EventType:     EventCompleted,
			Payload: map[string]any{
				"count_id": countID,
				"applied":  report.Applied,
			},
		})
	})
	if err != nil {
		return report, err
	}
	report.Completed = true

	logger.Info(ctx, "inventory count completed", "count_id", countID, "applied", report.Applied)
	s.invalidate(ctx, countID)
	s.notifyAssignees(ctx, count, NotifyCompleted,
		"Inventory count completed",
		fmt.Sprintf("%q is closed, %d corrections were applied", count.Title, report.Applied))

	return report, nil
}

func applySchedule(c *InventoryCount, in ScheduleInput) {
	c.Title = strings.TrimSpace(in.Title)
	c.Description = strings.TrimSpace(in.Description)
	c.StartAt = in.StartAt.UTC()
	c.EndAt = in.EndAt.UTC()
	c.Kind = in.Kind
	if c.Kind == "" {
		c.Kind = KindFull
	}
	c.LocationID = in.LocationID
	c.IncludeLowStock = in.IncludeLowStock
}

func buildAssignments(countID id.ID, in []AssignmentInput, now time.Time) ([]UserAssignment, error) {
	seen := make(map[int64]struct{}, len(in))
	out := make([]UserAssignment, 0, len(in))
	counters := 0

	for _, a := range in {
		if a.UserID <= 0 {
			return nil, apperror.NewValidation("assignment requires a user").WithDetail("userId", a.UserID)
		}
		if _, dup := seen[a.UserID]; dup {
			return nil, apperror.NewValidation("user is assigned twice").WithDetail("userId", a.UserID)
		}
		seen[a.UserID] = struct{}{}
		if a.Count {
			counters++
		}
		out = append(out, UserAssignment{
			CountID:     countID,
			UserID:      a.UserID,
			CanCount:    a.Count,
			CanAdjust:   a.Adjust,
			CanValidate: a.Validate,
			AssignedAt:  now,
		})
	}

	if counters == 0 {
		return nil, apperror.NewAssignment("at least one assigned user must be able to count")
	}
	return out, nil
}

func snapshotLines(countID id.ID, balances []stock.Balance, now time.Time) []CountLine {
	lines := make([]CountLine, 0, len(balances))
	for _, b := range balances {
		lines = append(lines, CountLine{
			ID:             id.New(),
			CountID:        countID,
			ProductID:      b.ProductID,
			LocationID:     b.LocationID,
			SystemQuantity: b.Quantity,
			Version:        1,
			CreatedAt:      now,
		})
	}
	return lines
}
