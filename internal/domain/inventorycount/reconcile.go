package inventorycount

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"tireshop/internal/core/apperror"
	appctx "tireshop/internal/core/context"
	"tireshop/internal/core/events"
	"tireshop/internal/core/id"
	"tireshop/internal/core/security"
	"tireshop/internal/domain/registers/stock"
	"tireshop/pkg/logger"
)

var tracer = otel.Tracer("tireshop/inventorycount")

// LineOutcome is the result of reconciling one line.
type LineOutcome string

const (
	// OutcomeReconciled means a difference was computed and movements were folded.
	OutcomeReconciled LineOutcome = "reconciled"
	// OutcomePreview means the line is uncounted; only the expected quantity was refreshed.
	OutcomePreview   LineOutcome = "preview"
	OutcomeSettled   LineOutcome = "settled"
	OutcomeFailed    LineOutcome = "failed"
	OutcomeCancelled LineOutcome = "cancelled"
)

// LineResult reports the reconciliation of one line.
type LineResult struct {
	ProductID                int64              `json:"productId"`
	Outcome                  LineOutcome        `json:"outcome"`
	SystemQuantity           int64              `json:"systemQuantity"`
	ReconciledSystemQuantity *int64             `json:"reconciledSystemQuantity,omitempty"`
	PhysicalQuantity         *int64             `json:"physicalQuantity,omitempty"`
	Difference               *int64             `json:"difference,omitempty"`
	FoldedMovements          int                `json:"foldedMovements"`
	Adjustment               *PendingAdjustment `json:"adjustment,omitempty"`
	// NewAdjustment is set when this pass staged a fresh adjustment.
	NewAdjustment bool   `json:"newAdjustment"`
	Error         string `json:"error,omitempty"`
}

// BatchResult reports a bulk reconciliation pass.
type BatchResult struct {
	CountID    id.ID        `json:"countId"`
	Lines      []LineResult `json:"lines"`
	Reconciled int          `json:"reconciled"`
	Previewed  int          `json:"previewed"`
	Failed     int          `json:"failed"`
	Cancelled  int          `json:"cancelled"`
}

// ApplyStatus is the result of applying one adjustment.
type ApplyStatus string

const (
	ApplyApplied ApplyStatus = "applied"
	ApplySkipped ApplyStatus = "skipped"
	ApplyFailed  ApplyStatus = "failed"
)

// AdjustmentResult reports the application of one pending adjustment.
type AdjustmentResult struct {
	AdjustmentID id.ID       `json:"adjustmentId"`
	ProductID    int64       `json:"productId"`
	Delta        int64       `json:"delta"`
	Status       ApplyStatus `json:"status"`
	NewQuantity  *int64      `json:"newQuantity,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// ReconcileLine folds the movements recorded up to cutoff into one line and
// stages the resulting correction. A nil cutoff means now. Requires validate.
func (s *Service) ReconcileLine(ctx context.Context, countID id.ID, productID int64, cutoff *time.Time, actor appctx.AuthenticatedUser) (*LineResult, error) {
	if err := s.requireCapability(ctx, actor, countID, security.CapabilityValidate); err != nil {
		return nil, err
	}
	count, err := s.repo.GetByID(ctx, countID)
	if err != nil {
		return nil, err
	}
	if err := count.RequireStatus(StatusInProgress); err != nil {
		return nil, err
	}

	res, err := s.reconcileLine(ctx, countID, productID, cutoff)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, countID)
	if res.NewAdjustment {
		s.notifyDiscrepancies(ctx, count, []LineResult{res})
	}
	return &res, nil
}

// ReconcileAll reconciles every unsettled line of a count. Line failures are
// reported per line and do not stop the pass. Requires validate.
func (s *Service) ReconcileAll(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*BatchResult, error) {
	if err := s.requireCapability(ctx, actor, countID, security.CapabilityValidate); err != nil {
		return nil, err
	}
	count, err := s.repo.GetByID(ctx, countID)
	if err != nil {
		return nil, err
	}
	if err := count.RequireStatus(StatusInProgress); err != nil {
		return nil, err
	}
	return s.reconcileAll(ctx, count)
}

// ReconcileOpenCounts runs a bulk pass over every in-progress count.
// Used by the scheduled worker; no user is involved.
func (s *Service) ReconcileOpenCounts(ctx context.Context) ([]BatchResult, error) {
	ids, err := s.repo.ListIDsByStatus(ctx, StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("list open counts: %w", err)
	}

	results := make([]BatchResult, 0, len(ids))
	for _, countID := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		count, err := s.repo.GetByID(ctx, countID)
		if err != nil {
			return results, err
		}
		if count.Status != StatusInProgress {
			continue
		}
		batch, err := s.reconcileAll(ctx, count)
		if err != nil {
			return results, err
		}
		results = append(results, *batch)
	}
	return results, nil
}

func (s *Service) reconcileAll(ctx context.Context, count *InventoryCount) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "inventorycount.reconcile_all",
		trace.WithAttributes(attribute.String("count.id", count.ID.String())),
	)
	defer span.End()

	productIDs, err := s.repo.UnsettledProductIDs(ctx, count.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list lines failed")
		return nil, fmt.Errorf("list lines: %w", err)
	}

	lines := make([]LineResult, len(productIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for i, productID := range productIDs {
		if ctx.Err() != nil {
			for j := i; j < len(productIDs); j++ {
				lines[j] = LineResult{ProductID: productIDs[j], Outcome: OutcomeCancelled}
			}
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				lines[i] = LineResult{ProductID: productID, Outcome: OutcomeCancelled}
				return nil
			}
			res, err := s.reconcileLine(gctx, count.ID, productID, nil)
			if err != nil && gctx.Err() != nil {
				lines[i] = LineResult{ProductID: productID, Outcome: OutcomeCancelled, Error: err.Error()}
				return nil
			}
			if err != nil {
				logger.Warn(gctx, "line reconciliation failed",
					"count_id", count.ID,
					"product_id", productID,
					"error", err,
				)
				res = LineResult{ProductID: productID, Outcome: OutcomeFailed, Error: err.Error()}
			}
			lines[i] = res
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchResult{CountID: count.ID, Lines: lines}
	var staged []LineResult
	for _, l := range lines {
		switch l.Outcome {
		case OutcomeReconciled:
			batch.Reconciled++
		case OutcomePreview:
			batch.Previewed++
		case OutcomeFailed:
			batch.Failed++
		case OutcomeCancelled:
			batch.Cancelled++
		}
		if l.NewAdjustment {
			staged = append(staged, l)
		}
	}

	span.SetAttributes(
		attribute.Int("count.lines", len(lines)),
		attribute.Int("count.reconciled", batch.Reconciled),
		attribute.Int("count.failed", batch.Failed),
		attribute.Int("count.cancelled", batch.Cancelled),
	)
	if batch.Failed > 0 {
		span.SetStatus(codes.Error, "some lines failed")
	}

	logger.Info(ctx, "inventory count reconciled",
		"count_id", count.ID,
		"lines", len(lines),
		"reconciled", batch.Reconciled,
		"failed", batch.Failed,
		"cancelled", batch.Cancelled,
	)
	s.invalidate(ctx, count.ID)
	s.notifyDiscrepancies(ctx, count, staged)

	return batch, nil
}

// reconcileLine runs one reconciliation pass in its own transaction.
//
// The expected quantity is SystemQuantity + ConsumedDelta plus the unconsumed
// movements up to the effective cutoff. The cutoff never passes the moment the
// line was counted, so sales made after counting stay out of the difference.
func (s *Service) reconcileLine(ctx context.Context, countID id.ID, productID int64, cutoff *time.Time) (LineResult, error) {
	res := LineResult{ProductID: productID}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetForShare(ctx, countID); err != nil {
			return err
		}
		line, err := s.repo.GetLineForUpdate(ctx, countID, productID)
		if err != nil {
			return err
		}
		res.SystemQuantity = line.SystemQuantity
		res.PhysicalQuantity = line.PhysicalQuantity

		if line.IsSettled() {
			res.Outcome = OutcomeSettled
			res.ReconciledSystemQuantity = line.ReconciledSystemQuantity
			res.Difference = line.Difference
			return nil
		}

		now := s.now()
		effective := now
		if cutoff != nil && cutoff.Before(effective) {
			effective = *cutoff
		}
		if line.CountedAt != nil && line.CountedAt.Before(effective) {
			effective = *line.CountedAt
		}

		movements, err := s.repo.UnconsumedMovements(ctx, countID, productID, effective)
		if err != nil {
			return fmt.Errorf("load movements: %w", err)
		}
		var folded int64
		ids := make([]id.ID, 0, len(movements))
		for _, m := range movements {
			folded += m.Delta
			ids = append(ids, m.ID)
		}

		firstPass := line.ReconciledAt == nil
		expected := line.SystemQuantity + line.ConsumedDelta + folded
		line.ReconciledSystemQuantity = &expected
		line.ReconciledAt = &now
		res.ReconciledSystemQuantity = &expected

		if !line.IsCounted() {
			line.Difference = nil
			res.Outcome = OutcomePreview
			return s.repo.SaveReconciliation(ctx, line)
		}

		diff := *line.PhysicalQuantity - expected
		line.Difference = &diff
		line.ConsumedDelta += folded
		if err := s.repo.SaveReconciliation(ctx, line); err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := s.repo.MarkMovementsConsumed(ctx, ids, now); err != nil {
				return fmt.Errorf("consume movements: %w", err)
			}
		}

		adj, created, err := s.stageAdjustment(ctx, line, diff, firstPass || len(ids) > 0, now)
		if err != nil {
			return err
		}
		res.Outcome = OutcomeReconciled
		res.Difference = &diff
		res.FoldedMovements = len(ids)
		res.Adjustment = adj
		res.NewAdjustment = created
		return nil
	})
	if err != nil {
		return LineResult{}, err
	}
	return res, nil
}

// stageAdjustment keeps at most one pending adjustment per line whose delta
// equals the current difference. A pass without new movements or a new
// physical count leaves the staged state as the previous pass or an operator
// left it, so overrides and discards stick.
func (s *Service) stageAdjustment(ctx context.Context, line *CountLine, diff int64, changed bool, now time.Time) (*PendingAdjustment, bool, error) {
	pending, err := s.repo.GetPendingAdjustment(ctx, line.CountID, line.ProductID)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return pending, false, nil
	}

	if pending != nil {
		if pending.Delta == diff {
			return pending, false, nil
		}
		if err := s.repo.DiscardAdjustment(ctx, pending.ID, now); err != nil {
			return nil, false, fmt.Errorf("discard stale adjustment: %w", err)
		}
	}
	if diff == 0 {
		return nil, false, nil
	}

	adj := &PendingAdjustment{
		ID:        id.New(),
		CountID:   line.CountID,
		ProductID: line.ProductID,
		Delta:     diff,
		Status:    AdjustmentPending,
		Reason:    ReasonReconciliation,
		CreatedAt: now,
	}
	if err := s.repo.CreateAdjustment(ctx, adj); err != nil {
		return nil, false, fmt.Errorf("create adjustment: %w", err)
	}
	return adj, true, nil
}

// ApplyPending pushes every pending adjustment of a count to the ledger
// without closing it. Requires override.
func (s *Service) ApplyPending(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) ([]AdjustmentResult, error) {
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
	results := s.applyPending(ctx, count, actor.ID)
	s.invalidate(ctx, countID)
	return results, nil
}

func (s *Service) applyPending(ctx context.Context, count *InventoryCount, actorID int64) []AdjustmentResult {
	status := AdjustmentPending
	pending, err := s.repo.ListAdjustments(ctx, count.ID, AdjustmentFilter{Status: &status})
	if err != nil {
		logger.Error(ctx, "list pending adjustments failed", "count_id", count.ID, "error", err)
		return []AdjustmentResult{{Status: ApplyFailed, Error: err.Error()}}
	}

	results := make([]AdjustmentResult, 0, len(pending))
	for _, adj := range pending {
		if err := ctx.Err(); err != nil {
			results = append(results, AdjustmentResult{
				AdjustmentID: adj.ID,
				ProductID:    adj.ProductID,
				Delta:        adj.Delta,
				Status:       ApplyFailed,
				Error:        err.Error(),
			})
			continue
		}
		results = append(results, s.applyOne(ctx, count.ID, adj, actorID))
	}
	return results
}

// applyOne applies a single adjustment in its own transaction. The ledger
// write, the adjustment status, the line settlement, the audit entry and the
// outbox event commit together or not at all.
func (s *Service) applyOne(ctx context.Context, countID id.ID, adj PendingAdjustment, actorID int64) AdjustmentResult {
	res := AdjustmentResult{AdjustmentID: adj.ID, ProductID: adj.ProductID, Delta: adj.Delta}

	ctx, span := tracer.Start(ctx, "inventorycount.apply_adjustment",
		trace.WithAttributes(
			attribute.String("count.id", countID.String()),
			attribute.Int64("product.id", adj.ProductID),
			attribute.Int64("adjustment.delta", adj.Delta),
		),
	)
	defer span.End()

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetLineForUpdate(ctx, countID, adj.ProductID); err != nil {
			return err
		}
		current, err := s.repo.GetAdjustmentForUpdate(ctx, adj.ID)
		if err != nil {
			return err
		}
		if current.Status != AdjustmentPending {
			res.Status = ApplySkipped
			return nil
		}

		var userID *int64
		if actorID > 0 {
			userID = &actorID
		}
		qty, err := s.ledger.ApplyDelta(ctx, current.ProductID, current.Delta, stock.Provenance{
			Kind:       stock.KindCountCorrection,
			SourceType: stock.SourceInventoryCount,
			SourceID:   countID.String(),
			UserID:     userID,
		})
		if err != nil {
			return apperror.NewLedgerWrite(current.ProductID, err)
		}

		now := s.now()
		if err := s.repo.MarkAdjustmentApplied(ctx, current.ID, now); err != nil {
			return err
		}
		if err := s.repo.MarkLineSettled(ctx, countID, current.ProductID, now); err != nil {
			return err
		}

		changes := map[string]any{
			"adjustment_id": current.ID,
			"product_id":    current.ProductID,
			"delta":         current.Delta,
			"reason":        current.Reason,
			"quantity":      qty,
		}
		if err := s.audit.LogChange(ctx, EntityType, countID, "correction_applied", changes); err != nil {
			return fmt.Errorf("audit correction: %w", err)
		}
		if err := s.events.Publish(ctx, events.Event{
			AggregateType: EntityType,
			AggregateID:   countID,
			EventType:     EventCorrectionApplied,
			Payload:       changes,
		}); err != nil {
			return err
		}

		res.Status = ApplyApplied
		res.NewQuantity = &qty
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply adjustment failed")
		logger.Error(ctx, "apply adjustment failed",
			"count_id", countID,
			"adjustment_id", adj.ID,
			"product_id", adj.ProductID,
			"error", err,
		)
		res.Status = ApplyFailed
		res.NewQuantity = nil
		res.Error = err.Error()
	}
	return res
}

// DiscardAdjustment drops a pending adjustment. Requires adjust.
func (s *Service) DiscardAdjustment(ctx context.Context, countID, adjustmentID id.ID, actor appctx.AuthenticatedUser) error {
	if err := s.requireCapability(ctx, actor, countID, security.CapabilityAdjust); err != nil {
		return err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		count, err := s.repo.GetForShare(ctx, countID)
		if err != nil {
			return err
		}
		if err := count.RequireStatus(StatusInProgress); err != nil {
			return err
		}
		adj, err := s.repo.GetAdjustmentForUpdate(ctx, adjustmentID)
		if err != nil {
			return err
		}
		if adj.CountID != countID {
			return apperror.NewNotFound("pending_adjustment", adjustmentID)
		}
		if adj.Status != AdjustmentPending {
			return apperror.NewInvalidState("pending_adjustment", adj.Status, AdjustmentPending)
		}
		return s.repo.DiscardAdjustment(ctx, adj.ID, s.now())
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "adjustment discarded", "count_id", countID, "adjustment_id", adjustmentID)
	return nil
}

// OverrideAdjustment replaces the staged correction of a reconciled line with
// delta. Requires adjust.
func (s *Service) OverrideAdjustment(ctx context.Context, countID id.ID, productID int64, delta int64, actor appctx.AuthenticatedUser) (*PendingAdjustment, error) {
	if delta == 0 {
		return nil, apperror.NewValidation("override delta must not be zero")
	}
	if err := s.requireCapability(ctx, actor, countID, security.CapabilityAdjust); err != nil {
		return nil, err
	}

	var adj *PendingAdjustment
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		count, err := s.repo.GetForShare(ctx, countID)
		if err != nil {
			return err
		}
		if err := count.RequireStatus(StatusInProgress); err != nil {
			return err
		}
		line, err := s.repo.GetLineForUpdate(ctx, countID, productID)
		if err != nil {
			return err
		}
		if line.IsSettled() {
			return apperror.NewInvalidState("count_line", "settled", "open").WithDetail("product_id", productID)
		}
		if line.Difference == nil {
			return apperror.NewInvalidState("count_line", "unreconciled", "reconciled").WithDetail("product_id", productID)
		}

		now := s.now()
		pending, err := s.repo.GetPendingAdjustment(ctx, countID, productID)
		if err != nil {
			return err
		}
		if pending != nil {
			if err := s.repo.DiscardAdjustment(ctx, pending.ID, now); err != nil {
				return err
			}
		}

		author := actor.ID
		adj = &PendingAdjustment{
			ID:              id.New(),
			CountID:         countID,
			ProductID:       productID,
			Delta:           delta,
			Status:          AdjustmentPending,
			Reason:          ReasonOverride,
			CreatedByUserID: &author,
			CreatedAt:       now,
		}
		return s.repo.CreateAdjustment(ctx, adj)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "adjustment overridden",
		"count_id", countID,
		"product_id", productID,
		"delta", delta,
	)
	s.invalidate(ctx, countID)
	return adj, nil
}
