package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	appctx "tireshop/internal/core/context"
	"tireshop/internal/domain/registers/stock"
	"tireshop/internal/infrastructure/http/v1/dto"
)

// StockService is the stock register surface exposed over HTTP.
// Implemented by *stock.Service.
type StockService interface {
	GetQuantity(ctx context.Context, productID int64) (int64, error)
	ApplyDelta(ctx context.Context, productID int64, delta int64, prov stock.Provenance) (int64, error)
	Balances(ctx context.Context, filter stock.BalanceFilter) ([]stock.Balance, error)
	History(ctx context.Context, productID int64, filter stock.MovementFilter) ([]stock.Movement, error)
}

// StockHandler handles HTTP requests for the stock register.
type StockHandler struct {
	*BaseHandler
	service StockService
}

// NewStockHandler creates a new stock register handler.
func NewStockHandler(base *BaseHandler, service StockService) *StockHandler {
	return &StockHandler{
		BaseHandler: base,
		service:     service,
	}
}

// GetBalances handles GET /stock/balances.
func (h *StockHandler) GetBalances(c *gin.Context) {
	var q dto.BalancesQuery
	if !h.BindQuery(c, &q) {
		return
	}

	balances, err := h.service.Balances(c.Request.Context(), q.ToFilter())
	if err != nil {
		h.Error(c, err)
		return
	}
	if balances == nil {
		balances = []stock.Balance{}
	}
	h.OK(c, gin.H{"items": balances})
}

// GetQuantity handles GET /stock/products/:productId.
func (h *StockHandler) GetQuantity(c *gin.Context) {
	productID, ok := h.ParseInt64(c, "productId")
	if !ok {
		return
	}

	qty, err := h.service.GetQuantity(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.QuantityResponse{ProductID: productID, Quantity: qty})
}

// GetMovements handles GET /stock/products/:productId/movements.
func (h *StockHandler) GetMovements(c *gin.Context) {
	productID, ok := h.ParseInt64(c, "productId")
	if !ok {
		return
	}
	var q dto.MovementsQuery
	if !h.BindQuery(c, &q) {
		return
	}

	movements, err := h.service.History(c.Request.Context(), productID, q.ToFilter())
	if err != nil {
		h.Error(c, err)
		return
	}
	if movements == nil {
		movements = []stock.Movement{}
	}
	h.OK(c, gin.H{"items": movements})
}

// RecordMovement handles POST /stock/products/:productId/movements.
// Sales and deliveries posted here are captured by any open count of the product.
func (h *StockHandler) RecordMovement(c *gin.Context) {
	productID, ok := h.ParseInt64(c, "productId")
	if !ok {
		return
	}
	var req dto.RecordMovementRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	qty, err := h.service.ApplyDelta(ctx, productID, req.Delta, req.ToProvenance(appctx.GetUserID(ctx)))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.QuantityResponse{ProductID: productID, Quantity: qty})
}
