package v1

import (
	"github.com/gin-gonic/gin"

	"tireshop/internal/infrastructure/http/v1/handlers"
	"tireshop/internal/infrastructure/http/v1/middleware"
)

// RoleStockWrite lets point-of-sale and receiving clients post stock movements.
const RoleStockWrite = "stock:write"

// RegisterCountRoutes registers the inventory count endpoints.
// Capability checks happen in the count service against the count's assignments.
func RegisterCountRoutes(group *gin.RouterGroup, h *handlers.InventoryCountHandler) {
	group.GET("", h.List)
	group.POST("", h.Schedule)
	group.GET("/:id", h.Get)
	group.PUT("/:id", h.UpdateSchedule)
	group.POST("/:id/start", h.Start)
	group.POST("/:id/complete", h.Complete)
	group.GET("/:id/progress", h.Progress)
	group.GET("/:id/history", h.History)

	group.POST("/:id/reconcile", h.ReconcileAll)
	group.POST("/:id/apply-adjustments", h.ApplyPending)
	group.POST("/:id/adjustments/:adjustmentId/discard", h.DiscardAdjustment)

	group.GET("/:id/lines", h.Lines)
	group.GET("/:id/lines/:productId", h.Detail)
	group.PUT("/:id/lines/:productId/count", h.RecordCount)
	group.POST("/:id/lines/:productId/reconcile", h.ReconcileLine)
	group.PUT("/:id/lines/:productId/adjustment", h.OverrideAdjustment)
}

// RegisterStockRoutes registers the stock register endpoints.
func RegisterStockRoutes(group *gin.RouterGroup, h *handlers.StockHandler) {
	group.GET("/balances", h.GetBalances)
	group.GET("/products/:productId", h.GetQuantity)
	group.GET("/products/:productId/movements", h.GetMovements)
	group.POST("/products/:productId/movements", middleware.RequireRole(RoleStockWrite), h.RecordMovement)
}
