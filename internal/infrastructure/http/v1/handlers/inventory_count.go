package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"tireshop/internal/core/apperror"
	appctx "tireshop/internal/core/context"
	"tireshop/internal/core/id"
	"tireshop/internal/domain"
	"tireshop/internal/domain/inventorycount"
	"tireshop/internal/infrastructure/http/v1/dto"
	"tireshop/internal/infrastructure/storage/postgres"
)

// CountService is the inventory count surface exposed over HTTP.
// Implemented by *inventorycount.Service.
type CountService interface {
	Schedule(ctx context.Context, in inventorycount.ScheduleInput, actor appctx.AuthenticatedUser) (*inventorycount.InventoryCount, error)
	UpdateSchedule(ctx context.Context, countID id.ID, in inventorycount.ScheduleInput, actor appctx.AuthenticatedUser) (*inventorycount.InventoryCount, error)
	Start(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*inventorycount.InventoryCount, error)
	Complete(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*inventorycount.CloseOutReport, error)

	Get(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*inventorycount.InventoryCount, error)
	List(ctx context.Context, filter inventorycount.ListFilter, actor appctx.AuthenticatedUser) (domain.ListResult[*inventorycount.InventoryCount], error)
	Lines(ctx context.Context, countID id.ID, filter inventorycount.LineFilter, actor appctx.AuthenticatedUser) ([]inventorycount.CountLine, error)
	Detail(ctx context.Context, countID id.ID, productID int64, actor appctx.AuthenticatedUser) (*inventorycount.LineDetail, error)
	Progress(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*inventorycount.Progress, error)

	RecordCount(ctx context.Context, in inventorycount.RecordCountInput, actor appctx.AuthenticatedUser) (*inventorycount.CountLine, error)
	ReconcileLine(ctx context.Context, countID id.ID, productID int64, cutoff *time.Time, actor appctx.AuthenticatedUser) (*inventorycount.LineResult, error)
	ReconcileAll(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) (*inventorycount.BatchResult, error)
	ApplyPending(ctx context.Context, countID id.ID, actor appctx.AuthenticatedUser) ([]inventorycount.AdjustmentResult, error)
	DiscardAdjustment(ctx context.Context, countID, adjustmentID id.ID, actor appctx.AuthenticatedUser) error
	OverrideAdjustment(ctx context.Context, countID id.ID, productID int64, delta int64, actor appctx.AuthenticatedUser) (*inventorycount.PendingAdjustment, error)
}

// AuditHistory reads the audit trail. Implemented by *postgres.AuditService.
type AuditHistory interface {
	GetEntityHistory(ctx context.Context, entityType string, entityID id.ID, limit int) ([]postgres.AuditEntry, error)
}

// InventoryCountHandler handles HTTP requests for inventory counts.
type InventoryCountHandler struct {
	*BaseHandler
	service CountService
	audit   AuditHistory
}

// NewInventoryCountHandler creates a new inventory count handler.
func NewInventoryCountHandler(base *BaseHandler, service CountService, audit AuditHistory) *InventoryCountHandler {
	return &InventoryCountHandler{
		BaseHandler: base,
		service:     service,
		audit:       audit,
	}
}

// Schedule handles POST /inventory-counts.
func (h *InventoryCountHandler) Schedule(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	var req dto.ScheduleCountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	count, err := h.service.Schedule(c.Request.Context(), req.ToInput(), user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromCount(count))
}

// UpdateSchedule handles PUT /inventory-counts/:id.
func (h *InventoryCountHandler) UpdateSchedule(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.ScheduleCountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	count, err := h.service.UpdateSchedule(c.Request.Context(), countID, req.ToInput(), user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromCount(count))
}

// Start handles POST /inventory-counts/:id/start.
func (h *InventoryCountHandler) Start(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	count, err := h.service.Start(c.Request.Context(), countID, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromCount(count))
}

// Complete handles POST /inventory-counts/:id/complete.
// A partial close-out fails with the report attached to the error details.
func (h *InventoryCountHandler) Complete(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	report, err := h.service.Complete(c.Request.Context(), countID, user)
	if err != nil {
		if report != nil {
			appErr, isApp := apperror.AsAppError(err)
			if !isApp {
				appErr = apperror.NewInternal(err)
			}
			err = appErr.WithDetail("report", report)
		}
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}

// Get handles GET /inventory-counts/:id.
func (h *InventoryCountHandler) Get(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	count, err := h.service.Get(c.Request.Context(), countID, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromCount(count))
}

// List handles GET /inventory-counts.
func (h *InventoryCountHandler) List(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	var q dto.ListCountsQuery
	if !h.BindQuery(c, &q) {
		return
	}

	filter := q.ToFilter()
	result, err := h.service.List(c.Request.Context(), filter, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromCounts(result.Items), result.TotalCount, filter.Page))
}

// Lines handles GET /inventory-counts/:id/lines.
func (h *InventoryCountHandler) Lines(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var q dto.ListLinesQuery
	if !h.BindQuery(c, &q) {
		return
	}

	filter := q.ToFilter()
	lines, err := h.service.Lines(c.Request.Context(), countID, filter, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(lines, int64(len(lines)), filter.Page))
}

// Detail handles GET /inventory-counts/:id/lines/:productId.
func (h *InventoryCountHandler) Detail(c *gin.Context) {
	user, countID, productID, ok := h.lineParams(c)
	if !ok {
		return
	}

	detail, err := h.service.Detail(c.Request.Context(), countID, productID, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, detail)
}

// Progress handles GET /inventory-counts/:id/progress.
func (h *InventoryCountHandler) Progress(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	p, err := h.service.Progress(c.Request.Context(), countID, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, p)
}

// RecordCount handles PUT /inventory-counts/:id/lines/:productId/count.
func (h *InventoryCountHandler) RecordCount(c *gin.Context) {
	user, countID, productID, ok := h.lineParams(c)
	if !ok {
		return
	}
	var req dto.RecordCountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	line, err := h.service.RecordCount(c.Request.Context(), req.ToInput(countID, productID), user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, line)
}

// ReconcileLine handles POST /inventory-counts/:id/lines/:productId/reconcile.
// An empty body reconciles against the line's own count time.
func (h *InventoryCountHandler) ReconcileLine(c *gin.Context) {
	user, countID, productID, ok := h.lineParams(c)
	if !ok {
		return
	}
	var req dto.ReconcileLineRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}

	result, err := h.service.ReconcileLine(c.Request.Context(), countID, productID, req.Cutoff, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// ReconcileAll handles POST /inventory-counts/:id/reconcile.
func (h *InventoryCountHandler) ReconcileAll(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	batch, err := h.service.ReconcileAll(c.Request.Context(), countID, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, batch)
}

// ApplyPending handles POST /inventory-counts/:id/apply-adjustments.
func (h *InventoryCountHandler) ApplyPending(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	results, err := h.service.ApplyPending(c.Request.Context(), countID, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewAdjustmentResultsResponse(results))
}

// OverrideAdjustment handles PUT /inventory-counts/:id/lines/:productId/adjustment.
func (h *InventoryCountHandler) OverrideAdjustment(c *gin.Context) {
	user, countID, productID, ok := h.lineParams(c)
	if !ok {
		return
	}
	var req dto.OverrideAdjustmentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	adj, err := h.service.OverrideAdjustment(c.Request.Context(), countID, productID, req.Delta, user)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, adj)
}

// DiscardAdjustment handles POST /inventory-counts/:id/adjustments/:adjustmentId/discard.
func (h *InventoryCountHandler) DiscardAdjustment(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	adjustmentID, ok := h.ParseID(c, "adjustmentId")
	if !ok {
		return
	}

	if err := h.service.DiscardAdjustment(c.Request.Context(), countID, adjustmentID, user); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "adjustment discarded")
}

// History handles GET /inventory-counts/:id/history. Override holders only.
func (h *InventoryCountHandler) History(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	if !user.Override {
		h.Error(c, apperror.NewForbidden("audit history requires override"))
		return
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	limit := h.ParseIntQuery(c, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := h.audit.GetEntityHistory(c.Request.Context(), inventorycount.EntityType, countID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	if entries == nil {
		entries = []postgres.AuditEntry{}
	}
	h.OK(c, gin.H{"items": entries})
}

func (h *InventoryCountHandler) lineParams(c *gin.Context) (appctx.AuthenticatedUser, id.ID, int64, bool) {
	user, ok := h.User(c)
	if !ok {
		return user, id.ID{}, 0, false
	}
	countID, ok := h.ParseID(c, "id")
	if !ok {
		return user, id.ID{}, 0, false
	}
	productID, ok := h.ParseInt64(c, "productId")
	if !ok {
		return user, id.ID{}, 0, false
	}
	return user, countID, productID, true
}
