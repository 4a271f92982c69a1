package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	billingapp "github.com/chatcpg/backend/internal/application/billing"
	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/chatcpg/backend/internal/infrastructure/auth"
	billinginfra "github.com/chatcpg/backend/internal/infrastructure/billing"
	"github.com/chatcpg/backend/internal/infrastructure/cache"
	"github.com/chatcpg/backend/internal/infrastructure/config"
	"github.com/chatcpg/backend/internal/infrastructure/logger"
	"github.com/chatcpg/backend/internal/infrastructure/persistence"
	"github.com/chatcpg/backend/internal/interfaces/http/handler"
	"github.com/chatcpg/backend/internal/interfaces/http/middleware"
	"github.com/chatcpg/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting billing backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Initialize repositories
	planRepo := persistence.NewSubscriptionPlanRepository(db.DB)
	subscriptionRepo := persistence.NewSubscriptionRepository(db.DB)
	eventRepo := persistence.NewSubscriptionEventRepository(db.DB)
	paymentRepo := persistence.NewPaymentRecordRepository(db.DB)
	usagePeriodRepo := persistence.NewUsagePeriodRepository(db.DB)
	usageEntryRepo := persistence.NewUsageEntryRepository(db.DB)

	// Seed the plan catalog. Seeding is additive; existing rows keep any
	// operator overrides.
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := planRepo.Seed(seedCtx, billing.DefaultPlans()); err != nil {
		seedCancel()
		log.Fatal("Failed to seed plan catalog", zap.Error(err))
	}

	// The quota table is immutable after startup; quota checks never hit the
	// plans table. Build it from the stored catalog, not the seed defaults,
	// so operator overrides take effect.
	plans, err := planRepo.FindAll(seedCtx)
	seedCancel()
	if err != nil {
		log.Fatal("Failed to load plan catalog", zap.Error(err))
	}
	log.Info("Plan catalog ready", zap.Int("plans", len(plans)))
	quotaTable := billing.NewQuotaTable(plans)

	// Webhook idempotency cache (Redis when enabled, in-memory otherwise).
	// The unique constraint on external_event_id stays authoritative.
	var idempotencyStore shared.IdempotencyStore
	if cfg.Redis.Enabled {
		factory := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log))
		idempotencyStore, err = factory.CreateStore()
		if err != nil {
			log.Fatal("Failed to create idempotency store", zap.Error(err))
		}
	} else {
		idempotencyStore = cache.NewInMemoryIdempotencyStore()
		log.Info("Redis disabled, using in-memory idempotency store")
	}

	// Payment processor adapter
	stripeAdapter, err := billinginfra.NewStripeAdapter(&billinginfra.StripeConfig{
		SecretKey:       cfg.Stripe.SecretKey,
		WebhookSecret:   cfg.Stripe.WebhookSecret,
		IsTestMode:      cfg.Stripe.IsTestMode,
		DefaultCurrency: cfg.Stripe.DefaultCurrency,
		PriceIDs:        cfg.Stripe.PriceIDs,
		SuccessURL:      cfg.Stripe.SuccessURL,
		CancelURL:       cfg.Stripe.CancelURL,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize payment processor adapter", zap.Error(err))
	}

	// Initialize application services
	usageService := billingapp.NewUsageService(usagePeriodRepo, usageEntryRepo, subscriptionRepo, quotaTable, log)
	checkoutService := billingapp.NewCheckoutService(stripeAdapter, planRepo, subscriptionRepo, log)
	reconcilerService := billingapp.NewReconcilerService(eventRepo, subscriptionRepo, paymentRepo, idempotencyStore, log)

	// JWT validation for account extraction; tokens are minted by the
	// identity service sharing the same signing secret
	jwtService := auth.NewJWTService(cfg.JWT)

	// Initialize HTTP handlers
	billingHandler := handler.NewBillingHandler(usageService, checkoutService, reconcilerService)
	webhookHandler := handler.NewWebhookHandler(stripeAdapter, reconcilerService, log)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Security - Add security headers
	// 5. CORS - Handle cross-origin requests
	// 6. BodyLimit - Limit request body size
	// 7. RateLimit - Apply rate limiting (if enabled)
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Rate limiting (if enabled)
	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, log))

	// Processor webhook endpoint. The Stripe-Signature header is the
	// authentication; keep it out of the JWT chain.
	engine.POST("/api/v1/billing/webhook", webhookHandler.HandleProcessorEvent)

	// Setup API routes using router
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// Apply JWT authentication middleware to API routes. The default skip
	// list covers the public plan catalog and the webhook.
	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.Logger = log
	r.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig))

	// Billing domain routes
	billingRoutes := router.NewDomainGroup("billing", "/billing")
	billingRoutes.GET("/plans", billingHandler.ListPlans)
	billingRoutes.GET("/usage", billingHandler.GetUsageSummary)
	billingRoutes.GET("/usage/history", billingHandler.ListUsageHistory)
	billingRoutes.GET("/check/:resource", billingHandler.CheckQuota)
	billingRoutes.POST("/usage", billingHandler.ReportUsage)
	billingRoutes.GET("/payments", billingHandler.ListPayments)
	billingRoutes.POST("/checkout", billingHandler.BeginCheckout)
	billingRoutes.GET("/portal", billingHandler.BeginPortalSession)
	billingRoutes.POST("/cancel", billingHandler.CancelSubscription)

	r.Register(billingRoutes)

	// Setup routes
	r.Setup()

	// Simple ping at root API level for basic health checks
	engine.GET("/api/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
