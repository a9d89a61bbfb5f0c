package main

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mlorenzo/facturable-api/internal/application/service"
	"github.com/mlorenzo/facturable-api/internal/config"
	"github.com/mlorenzo/facturable-api/internal/domain/repository"
	"github.com/mlorenzo/facturable-api/internal/infrastructure/database"
	infraRepo "github.com/mlorenzo/facturable-api/internal/infrastructure/repository"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/handler"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/routes"
	"github.com/mlorenzo/facturable-api/pkg/afip"
	"github.com/mlorenzo/facturable-api/pkg/drive"
	"github.com/mlorenzo/facturable-api/pkg/loyverse"
	"github.com/mlorenzo/facturable-api/pkg/utils"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ledger, idempotencyRepo := setupStorage(cfg)

	// Initialize JWT manager
	jwtManager := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.ExpiryHours)

	// POS receipt feed
	posFeed := loyverse.NewClient(loyverse.Config{
		BaseURL: cfg.Loyverse.BaseURL,
		Token:   cfg.Loyverse.Token,
		Timeout: cfg.Loyverse.Timeout,
	})

	// Fiscal authority client; the WSAA ticket is obtained out of band and
	// injected through the environment.
	authority := afip.NewClient(afip.Config{
		CUIT:    cfg.AFIP.CUIT,
		WSFEURL: cfg.AFIP.WSFEURL,
		Timeout: cfg.AFIP.Timeout,
	}, afip.NewStaticTokenProvider(wsaaTicket(&cfg.AFIP)))

	// Archive store; disabled when Drive credentials are absent
	archive := drive.NewService(drive.Config{
		ClientID:     cfg.Drive.ClientID,
		ClientSecret: cfg.Drive.ClientSecret,
		RefreshToken: cfg.Drive.RefreshToken,
		FolderID:     cfg.Drive.FolderID,
	})
	if !archive.Configured() {
		log.Printf("Warning: Drive archive not configured, issued documents will not be uploaded")
	}

	// Initialize services
	receiptService := service.NewReceiptService(posFeed, ledger)
	reconciliationService := service.NewReconciliationService()
	issuanceService := service.NewIssuanceService(ledger, authority, archive, cfg.AFIP.PointOfSale, cfg.AFIP.MaxTotal)

	// Initialize handlers
	handlers := &routes.Handlers{
		Auth:           handler.NewAuthHandler(jwtManager, &cfg.JWT),
		Receipt:        handler.NewReceiptHandler(receiptService),
		Reconciliation: handler.NewReconciliationHandler(receiptService, reconciliationService),
		Invoice:        handler.NewInvoiceHandler(receiptService, reconciliationService, issuanceService, ledger),
	}

	// Setup routes
	router := routes.Setup(handlers, &routes.Deps{
		JWTManager:      jwtManager,
		Cfg:             cfg,
		IdempotencyRepo: idempotencyRepo,
	})

	port := cfg.App.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting %s server on port %s...", cfg.App.Name, port)
	log.Printf("Environment: %s, storage driver: %s, point of sale: %d", cfg.App.Env, cfg.Storage.Driver, cfg.AFIP.PointOfSale)

	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// setupStorage builds the invoice ledger and idempotency store for the
// configured driver. The file driver is meant for a single-shop deployment
// without a database; it has no idempotency cache, so repeated POSTs fall
// through to the ledger's own conditional put.
func setupStorage(cfg *config.Config) (repository.InvoiceLedger, repository.IdempotencyRepository) {
	switch cfg.Storage.Driver {
	case "file":
		ledger, err := infraRepo.NewFileInvoiceRepository(cfg.Storage.FilePath)
		if err != nil {
			log.Fatalf("Failed to open file ledger at %s: %v", cfg.Storage.FilePath, err)
		}
		return ledger, infraRepo.NewNoopIdempotencyRepository()
	case "postgres":
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := database.AutoMigrate(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		return infraRepo.NewInvoiceRepository(db), infraRepo.NewIdempotencyRepository(db)
	default:
		log.Fatalf("Unknown storage driver %q (expected \"postgres\" or \"file\")", cfg.Storage.Driver)
		return nil, nil
	}
}

// wsaaTicket builds the startup WSAA session from configuration. A missing
// expiry assumes the standard 12 hour ticket lifetime from now.
func wsaaTicket(cfg *config.AFIPConfig) afip.AuthSession {
	expiry := time.Now().Add(12 * time.Hour)
	if cfg.TAExpiry != "" {
		parsed, err := time.Parse(time.RFC3339, cfg.TAExpiry)
		if err != nil {
			log.Fatalf("Invalid AFIP_TA_EXPIRY %q, expected RFC3339: %v", cfg.TAExpiry, err)
		}
		expiry = parsed
	}
	if cfg.Token == "" || cfg.Sign == "" {
		log.Printf("Warning: AFIP_TOKEN/AFIP_SIGN not set, issuance calls will fail until provided")
	}
	return afip.AuthSession{Token: cfg.Token, Sign: cfg.Sign, Expiry: expiry}
}
