package inventorycount

import (
	"context"

	appctx "tireshop/internal/core/context"
	"tireshop/internal/core/id"
	"tireshop/internal/core/security"
	"tireshop/internal/domain"
	"tireshop/pkg/logger"
)

// LineDetail is a line with its post-cutoff movements and adjustment history.
type LineDetail struct {
	Line        CountLine            `json:"line"`
	Movements   []PostCutoffMovement `json:"movements"`
	Adjustments []PendingAdjustment  `json:"adjustments"`
}

// Get returns a count header with assignments. Visible to assignees and override holders.
func (s *Service) Get(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*InventoryCount, error) {
	if err := s.requireVisible(ctx, actor, countID); err != nil {
		return nil, err
	}
	count, err := s.repo.GetByID(ctx, countID)
	if err != nil {
		return nil, err
	}
	count.Assignments, err = s.repo.GetAssignments(ctx, countID)
	if err != nil {
		return nil, err
	}
	return count, nil
}

// List returns count headers. Requires override.
func (s *Service) List(ctx context.Context, filter ListFilter, actor appctx.AuthenticatedUser) (domain.ListResult[*InventoryCount], error) {
	if err := s.requireOverride(actor); err != nil {
		return domain.ListResult[*InventoryCount]{}, err
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.List(ctx, filter)
}

// Lines lists the lines of a count.
func (s *Service) Lines(ctx context.Context, countID id.ID, filter LineFilter, actor appctx.AuthenticatedUser) ([]CountLine, error) {
	if err := s.requireVisible(ctx, actor, countID); err != nil {
		return nil, err
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListLines(ctx, countID, filter)
}

// Detail returns one line with its movements and adjustments. Requires validate.
func (s *Service) Detail(ctx context.Context, countID id.ID, productID int64, actor appctx.AuthenticatedUser) (*LineDetail, error) {
	if err := s.requireCapability(ctx, actor, countID, security.CapabilityValidate); err != nil {
		return nil, err
	}
	line, err := s.repo.GetLine(ctx, countID, productID)
	if err != nil {
		return nil, err
	}
	movements, err := s.repo.ListMovements(ctx, countID, productID)
	if err != nil {
		return nil, err
	}
	adjustments, err := s.repo.ListAdjustments(ctx, countID, AdjustmentFilter{ProductID: &productID})
	if err != nil {
		return nil, err
	}
	return &LineDetail{Line: *line, Movements: movements, Adjustments: adjustments}, nil
}

// Progress returns counting progress, served from cache when possible.
func (s *Service) Progress(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*Progress, error) {
	if err := s.requireVisible(ctx, actor, countID); err != nil {
		return nil, err
	}

	cached, err := s.cache.Get(ctx, countID)
	if err != nil {
		logger.Warn(ctx, "progress cache read failed", "count_id", countID, "error", err)
	}
	if cached != nil {
		return cached, nil
	}

	if _, err := s.repo.GetByID(ctx, countID); err != nil {
		return nil, err
	}
	p, err := s.repo.Progress(ctx, countID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, countID, p); err != nil {
		logger.Warn(ctx, "progress cache write failed", "count_id", countID, "error", err)
	}
	return &p, nil
}
