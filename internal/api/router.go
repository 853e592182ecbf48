// Package api assembles the HTTP surface of the marketplace: route
// registration, cross-cutting middleware, health endpoints, and the wiring
// of repositories, the connection lifecycle manager, the payment initiator,
// and background jobs.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/shopconnect/shopconnect/internal/api/accounts"
	"github.com/shopconnect/shopconnect/internal/api/connections"
	"github.com/shopconnect/shopconnect/internal/api/providers"
	"github.com/shopconnect/shopconnect/internal/api/shops"
	"github.com/shopconnect/shopconnect/internal/api/webhooks"
	"github.com/shopconnect/shopconnect/internal/audit"
	"github.com/shopconnect/shopconnect/internal/auth"
	"github.com/shopconnect/shopconnect/internal/config"
	"github.com/shopconnect/shopconnect/internal/crypto"
	"github.com/shopconnect/shopconnect/internal/db/repositories"
	"github.com/shopconnect/shopconnect/internal/greenfield"
	"github.com/shopconnect/shopconnect/internal/jobs"
	"github.com/shopconnect/shopconnect/internal/lifecycle"
	"github.com/shopconnect/shopconnect/internal/middleware"
	"github.com/shopconnect/shopconnect/internal/payments"
)

// tokenTTL is the lifetime of issued bearer tokens
const tokenTTL = 24 * time.Hour

// healthCheckInterval is how often the provider health monitor sweeps
const healthCheckInterval = 5 * time.Minute

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	healthMonitor  *jobs.ProviderHealthMonitor
	memoryLimiters []*middleware.MemoryLimiter
	redisClient    *redis.Client
	shipper        audit.Shipper
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.healthMonitor != nil {
		bg.healthMonitor.Stop()
	}
	for _, l := range bg.memoryLimiters {
		l.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("closing audit shipper", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Master key for at-rest encryption of provider API keys, webhook
	// secrets, and wallet connection strings
	encryptionKey := config.EncryptionKey()
	if encryptionKey == "" {
		log.Fatal("ENCRYPTION_KEY environment variable must be set")
	}
	box, err := crypto.NewSecretBox([]byte(encryptionKey))
	if err != nil {
		log.Fatalf("Failed to initialize secret box: %v", err)
	}

	tokens, err := auth.NewTokenService(cfg.Security.JWTSecret, tokenTTL)
	if err != nil {
		log.Fatalf("Failed to initialize token service: %v", err)
	}

	// Initialize repositories
	shopRepo := repositories.NewShopRepository(db)
	providerRepo := repositories.NewProviderRepository(db)

	// Wrap *sql.DB with sqlx for the connection and payment-history repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	connRepo := repositories.NewConnectionRepository(sqlxDB)
	historyRepo := repositories.NewPaymentHistoryRepository(sqlxDB)

	shipper, err := audit.NewShipper(auditConfigs(cfg), slog.Default())
	if err != nil {
		log.Fatalf("Failed to initialize audit shipper: %v", err)
	}

	// Provider client factory; dry-run short-circuits all outbound calls
	clients := greenfield.NewFactory(cfg.Provider.DryRun, cfg.Provider.RequestTimeout, slog.Default())
	if cfg.Provider.DryRun {
		log.Println("Provider clients running in dry-run mode; no outbound provider calls will be made")
	}

	initiator := payments.NewInitiator(
		connRepo, shopRepo, providerRepo, historyRepo, box,
		payments.NewLNURLResolver(cfg.Payments.ResolveTimeout),
		payments.NewNostrWallet(cfg.Payments.NWCTimeout),
		slog.Default(),
	)

	manager := lifecycle.NewManager(
		connRepo, shopRepo, providerRepo, historyRepo,
		initiator, clients, box,
		lifecycle.Settings{
			ProvisionAttempts:   cfg.Lifecycle.ProvisionAttempts,
			ProvisionRetryDelay: cfg.Lifecycle.ProvisionRetryDelay,
			MaxManualRetries:    cfg.Lifecycle.MaxManualRetries,
			WebhookBaseURL:      cfg.Server.GetPublicURL(),
			WebhookEvents:       cfg.Provider.WebhookEvents,
		},
		slog.Default(),
	)

	// Start the provider health monitor
	healthMonitor := jobs.NewProviderHealthMonitor(providerRepo, clients, box, shipper, slog.Default())
	healthMonitor.Start(context.Background(), healthCheckInterval)

	// Rate limiting backend: Redis when configured, in-process otherwise
	bg := &BackgroundServices{
		healthMonitor: healthMonitor,
		shipper:       shipper,
	}
	var generalLimiter, webhookLimiter middleware.Limiter
	generalCfg := middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
	}
	if generalCfg.RequestsPerMinute <= 0 {
		generalCfg = middleware.DefaultRateLimitConfig()
	}
	webhookCfg := middleware.WebhookRateLimitConfig()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bg.redisClient = client
		generalLimiter = middleware.NewRedisLimiter(client, generalCfg)
		webhookLimiter = middleware.NewRedisLimiter(client, webhookCfg)
		log.Printf("Rate limiting backed by redis at %s", cfg.Redis.Addr)
	} else {
		generalMem := middleware.NewMemoryLimiter(generalCfg)
		webhookMem := middleware.NewMemoryLimiter(webhookCfg)
		bg.memoryLimiters = []*middleware.MemoryLimiter{generalMem, webhookMem}
		generalLimiter = generalMem
		webhookLimiter = webhookMem
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultSecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db))

	// API version
	router.GET("/version", versionHandler())

	webhookHandler := webhooks.NewProviderWebhookHandler(providerRepo, manager, box, shipper, slog.Default())
	connHandler := connections.NewHandler(manager, connRepo, historyRepo, shopRepo, slog.Default())

	// Public endpoints; webhook deliveries authenticate via HMAC signature,
	// not bearer tokens
	public := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		public.Use(middleware.RateLimitMiddleware(generalLimiter, generalCfg))
	}
	{
		public.POST("/auth/register", accounts.RegisterHandler(db))
		public.POST("/auth/login", accounts.LoginHandler(db, tokens))

		public.GET("/public/shops", shops.ListPublicHandler(db))
		public.GET("/providers", providers.ListHandler(db))
		public.GET("/providers/:id", providers.GetHandler(db))
		public.GET("/providers/:id/onboarding", providers.OnboardingHandler(db))
	}

	webhookGroup := router.Group("/api/v1/webhooks")
	if cfg.RateLimit.Enabled {
		webhookGroup.Use(middleware.RateLimitMiddleware(webhookLimiter, webhookCfg))
	}
	webhookGroup.POST("/provider/:provider_id", webhookHandler.HandleWebhook)

	// Authenticated endpoints
	authed := router.Group("/api/v1")
	authed.Use(middleware.AuthMiddleware(tokens))
	if cfg.RateLimit.Enabled {
		authed.Use(middleware.RateLimitMiddleware(generalLimiter, generalCfg))
	}
	{
		authed.POST("/shops", shops.CreateHandler(db))
		authed.GET("/shops", shops.ListOwnHandler(db))
		authed.GET("/shops/:id", shops.GetHandler(db))
		authed.PUT("/shops/:id", shops.UpdateHandler(db))

		authed.POST("/providers", providers.CreateHandler(db, box))
		authed.PUT("/providers/:id/onboarding", providers.UpdateOnboardingHandler(db))
		authed.PUT("/providers/:id/visibility", providers.SetVisibilityHandler(db))

		connHandler.RegisterRoutes(authed)
	}

	return router, bg
}

// auditConfigs translates the flat audit section of the config file into
// shipper configs. Both destinations can be active at once.
func auditConfigs(cfg *config.Config) []audit.Config {
	if !cfg.Audit.Enabled {
		return nil
	}
	var configs []audit.Config
	if cfg.Audit.FilePath != "" {
		configs = append(configs, audit.Config{
			Enabled: true,
			Type:    "file",
			File:    &audit.FileConfig{Path: cfg.Audit.FilePath},
		})
	}
	if cfg.Audit.WebhookURL != "" {
		configs = append(configs, audit.Config{
			Enabled: true,
			Type:    "webhook",
			Webhook: &audit.WebhookConfig{
				URL:     cfg.Audit.WebhookURL,
				Headers: cfg.Audit.WebhookHeaders,
			},
		})
	}
	return configs
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
