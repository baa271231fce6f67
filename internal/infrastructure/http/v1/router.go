// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/domain/alerts"
	"lotledger/internal/domain/allocation"
	"lotledger/internal/domain/catalogs/product"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/valuation"
	"lotledger/internal/infrastructure/http/v1/handlers"
	"lotledger/internal/infrastructure/http/v1/middleware"
	"lotledger/internal/infrastructure/storage/postgres"
	"lotledger/pkg/logger"
)

// RouterConfig holds the wired services. All dependencies are constructed
// once at startup and injected; nothing is resolved from request context.
type RouterConfig struct {
	Pool   *postgres.Pool
	Logger *logger.Logger

	Products  *product.Service
	Ledger    *ledger.Service
	Allocator *allocation.Engine
	Valuation *valuation.Service
	Alerts    *alerts.Service
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// API v1
	base := handlers.NewBaseHandler()
	api := router.Group("/api/v1")
	api.Use(middleware.UserContext())
	{
		productHandler := handlers.NewProductHandler(base, cfg.Products)
		batchHandler := handlers.NewBatchHandler(base, cfg.Ledger)
		allocationHandler := handlers.NewAllocationHandler(base, cfg.Allocator)
		valuationHandler := handlers.NewValuationHandler(base, cfg.Valuation)
		alertHandler := handlers.NewAlertHandler(base, cfg.Alerts)

		products := api.Group("/products")
		{
			products.GET("", productHandler.List)
			products.POST("", productHandler.Create)
			products.GET("/:id", productHandler.Get)
			products.PUT("/:id", productHandler.Update)
			products.DELETE("/:id", productHandler.Delete)
			products.GET("/:id/batches", batchHandler.ListByProduct)
			products.GET("/:id/transactions", batchHandler.Transactions)
		}

		batches := api.Group("/batches")
		{
			batches.POST("", batchHandler.Add)
			batches.GET("/:id", batchHandler.Get)
			batches.POST("/:id/consume", batchHandler.Consume)
			batches.DELETE("/:id", batchHandler.Delete)
		}

		api.POST("/allocations/preview", allocationHandler.Preview)
		api.POST("/issues", allocationHandler.Issue)

		api.GET("/valuation", valuationHandler.Report)

		alertRoutes := api.Group("/alerts")
		{
			alertRoutes.GET("", alertHandler.List)
			alertRoutes.POST("/sweep", alertHandler.Sweep)
			alertRoutes.GET("/:id", alertHandler.Get)
			alertRoutes.POST("/:id/acknowledge", alertHandler.Acknowledge)
			alertRoutes.POST("/:id/resolve", alertHandler.Resolve)
		}
	}

	return router
}
