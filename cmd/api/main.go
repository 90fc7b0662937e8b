package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/config"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/grant"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/handler"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/notify"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/repository"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/service"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/validator"
	"github.com/CyberERROR/remnawave-shopbot-sub000/pkg/database"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	// Create context for startup
	ctx := context.Background()

	// Apply schema migrations before opening the pool
	if err := database.Migrate(cfg.DB.MigrateDSN()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Notification dispatch: NATS when configured, log-only otherwise
	var notifier notify.Notifier = notify.LogNotifier{}
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = notify.Connect(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to nats")
		}
		notifier = notify.NewNATSNotifier(natsConn)
		log.Info().Str("url", cfg.NATS.URL).Msg("nats notification dispatch enabled")
	}

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Shopbot Payment Core",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    1 * 1024 * 1024,   // 1MB body limit (explicit, prevents large payloads)
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	// Initialize validator
	validate := validator.New()

	// Initialize payment core components (layered architecture)
	txRepo := repository.NewTransactionRepository(pool)
	promoRepo := repository.NewPromoRepository(pool)

	granter := grant.NewExecutor(
		grant.NewPanelClient(cfg.Panel.BaseURL, cfg.Panel.Token, cfg.Panel.Timeout),
		grant.NewPgBalance(pool),
	)

	promoService := service.NewPromoService(pool, promoRepo)
	paymentService := service.NewPaymentService(txRepo, granter, promoService, notifier)

	webhookHandler := handler.NewWebhookHandler(paymentService, cfg.Providers)
	invoiceHandler := handler.NewInvoiceHandler(paymentService, validate)
	promoHandler := handler.NewPromoHandler(promoService, validate)
	healthHandler := handler.NewHealthHandler(pool)

	app.Get("/health", healthHandler.Check)

	// Provider webhook routes
	app.Post("/webhooks/cardlink", webhookHandler.Cardlink)
	app.Post("/webhooks/cryptopay", webhookHandler.Cryptopay)
	app.Post("/webhooks/coinbox", webhookHandler.Coinbox)
	app.Post("/webhooks/walletgate", webhookHandler.Walletgate)
	app.Post("/webhooks/points", webhookHandler.Points)
	app.Post("/webhooks/bankwire", webhookHandler.Bankwire)

	// Admin API routes
	admin := app.Group("/api", handler.RequireAdminToken(cfg.Admin.Token))
	admin.Post("/invoices", invoiceHandler.CreateInvoice)
	admin.Get("/transactions/:intent_id", invoiceHandler.GetTransaction)
	admin.Post("/promos", promoHandler.CreatePromo)
	admin.Get("/promos/:code", promoHandler.GetPromo)
	admin.Get("/promos/:code/availability", promoHandler.CheckAvailability)
	admin.Post("/promos/:code/deactivate", promoHandler.DeactivatePromo)

	// Background loops: grant reconciliation and stale-intent reaping
	bgCtx, bgCancel := context.WithCancel(context.Background())
	reconciler := service.NewReconciler(txRepo, granter,
		cfg.Reconciler.Interval, cfg.Reconciler.Grace, cfg.Reconciler.BatchSize)
	go reconciler.Run(bgCtx)
	go runReaper(bgCtx, paymentService)

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	bgCancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Close external connections AFTER server shutdown (even if shutdown timed out)
	if natsConn != nil {
		natsConn.Close()
	}
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("database connections closed")
	log.Info().Msg("server stopped")
}

// runReaper expires pending transactions that never saw a payment. The
// 48h cutoff is far past any provider's invoice lifetime, so it can never
// race a legitimate completion.
func runReaper(ctx context.Context, svc *service.PaymentService) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.ExpireStale(ctx, 48*time.Hour); err != nil {
				log.Error().Err(err).Msg("stale transaction reaping failed")
			}
		}
	}
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
