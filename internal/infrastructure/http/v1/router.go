// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"tireshop/internal/infrastructure/http/v1/handlers"
	"tireshop/internal/infrastructure/http/v1/middleware"
	"tireshop/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	Counts CountsDeps
	Stock  handlers.StockService

	// Database backs the health probes
	Database handlers.Database

	// Idempotency enables X-Idempotency-Key handling when set
	Idempotency middleware.IdempotencyKeys

	Version     string
	Development bool
}

// CountsDeps groups what the count endpoints need.
type CountsDeps struct {
	Service handlers.CountService
	Audit   handlers.AuditHistory
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Database, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	v1 := router.Group("/api/v1")
	{
		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTValidator))
		if cfg.Idempotency != nil {
			protected.Use(middleware.Idempotency(cfg.Idempotency))
		}

		baseHandler := handlers.NewBaseHandler()

		if cfg.Counts.Service != nil {
			countHandler := handlers.NewInventoryCountHandler(baseHandler, cfg.Counts.Service, cfg.Counts.Audit)
			RegisterCountRoutes(protected.Group("/inventory-counts"), countHandler)
		}

		if cfg.Stock != nil {
			stockHandler := handlers.NewStockHandler(baseHandler, cfg.Stock)
			RegisterStockRoutes(protected.Group("/stock"), stockHandler)
		}
	}

	return router
}
