package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mlorenzo/facturable-api/internal/config"
	domainRepo "github.com/mlorenzo/facturable-api/internal/domain/repository"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/handler"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/middleware"
	"github.com/mlorenzo/facturable-api/pkg/utils"
)

// Handlers holds all the HTTP handlers used for route registration.
type Handlers struct {
	Auth           *handler.AuthHandler
	Receipt        *handler.ReceiptHandler
	Reconciliation *handler.ReconciliationHandler
	Invoice        *handler.InvoiceHandler
}

// Deps holds shared dependencies needed by the routes.
type Deps struct {
	JWTManager      *utils.JWTManager
	Cfg             *config.Config
	IdempotencyRepo domainRepo.IdempotencyRepository
}

// Setup creates the Gin router and registers all routes.
func Setup(h *Handlers, deps *Deps) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(&deps.Cfg.CORS))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": deps.Cfg.App.Name,
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.POST("/auth/token", h.Auth.Token)

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(deps.JWTManager))

		// Per-client rate limiter; the upstream POS and fiscal services both
		// throttle, so runaway callers are stopped here.
		rateLimiter := middleware.NewClientRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: float64(deps.Cfg.RateLimit.Requests) / float64(deps.Cfg.RateLimit.Duration),
			BurstSize:         deps.Cfg.RateLimit.Requests,
			CleanupInterval:   5 * time.Minute,
			EntryTTL:          10 * time.Minute,
		})
		protected.Use(rateLimiter.Middleware())

		registerProtectedRoutes(protected, h, deps)
	}

	return router
}

func registerProtectedRoutes(protected *gin.RouterGroup, h *Handlers, deps *Deps) {
	idempotency := middleware.Idempotency(middleware.IdempotencyConfig{
		Repo: deps.IdempotencyRepo,
	})

	// Receipts
	protected.GET("/receipts", h.Receipt.List)

	// Reconciliation
	protected.GET("/reconciliation", h.Reconciliation.Reconcile)

	// Issuance. Both mutating endpoints accept an Idempotency-Key header so
	// clients can retry safely without re-running reconciliation.
	protected.POST("/invoices", idempotency, h.Invoice.IssueInvoice)
	protected.POST("/credit-notes", idempotency, h.Invoice.IssueCreditNote)

	// Ledger
	protected.GET("/invoices", h.Invoice.List)
	protected.GET("/invoices/:receiptId/:type", h.Invoice.Get)
}
