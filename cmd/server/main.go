package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/dentaistudy/internal"
	"github.com/DukeRupert/dentaistudy/internal/ai"
	"github.com/DukeRupert/dentaistudy/internal/ai/anthropic"
	"github.com/DukeRupert/dentaistudy/internal/ai/mock"
	"github.com/DukeRupert/dentaistudy/internal/ai/openai"
	"github.com/DukeRupert/dentaistudy/internal/billing"
	"github.com/DukeRupert/dentaistudy/internal/counter"
	"github.com/DukeRupert/dentaistudy/internal/email"
	"github.com/DukeRupert/dentaistudy/internal/handler"
	"github.com/DukeRupert/dentaistudy/internal/identity"
	"github.com/DukeRupert/dentaistudy/internal/metrics"
	"github.com/DukeRupert/dentaistudy/internal/middleware"
	"github.com/DukeRupert/dentaistudy/internal/service"
	"github.com/DukeRupert/dentaistudy/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// ==========================================================================
	// Infrastructure
	// ==========================================================================

	users := identity.NewPostgresStore(db)
	verifier := identity.NewJWTVerifier(cfg.AuthJWTSecret, cfg.AuthJWTAudience)

	devices, closeDevices := newDeviceCounter(ctx, cfg, logger)
	defer closeDevices()

	catalog, err := billing.NewProductCatalog(billing.ProductConfig{
		ProMonthlyProductIDs: cfg.ProMonthlyProductIDs,
		ProYearlyProductIDs:  cfg.ProYearlyProductIDs,
	})
	if err != nil {
		return fmt.Errorf("product catalog: %w", err)
	}
	if catalog.Len() == 0 {
		logger.Warn("No pro product ids configured; every upgrade event will be ignored")
	}

	portal := billing.NewDodoPortal(billing.PortalConfig{
		APIKey:      cfg.DodoAPIKey,
		Environment: cfg.DodoEnvironment,
	}, logger)

	provider, err := newAIProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}
	logger.Info("AI provider ready", "provider", provider.Name())

	store, err := storage.New(cfg.StorageProvider,
		storage.LocalConfig{BasePath: cfg.LocalStoragePath, BaseURL: cfg.LocalStorageURL},
		storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// A nil interface disables the contact form.
	var mailer email.EmailService
	if cfg.ContactToEmail != "" {
		smtp, err := email.NewSMTPEmailService(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}, cfg.ContactToEmail, logger)
		if err != nil {
			return fmt.Errorf("email initialization failed: %w", err)
		}
		mailer = smtp
	} else {
		logger.Warn("CONTACT_TO_EMAIL not set; contact form disabled")
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	entitlements := service.NewEntitlementStore(users)
	reconciler := service.NewReconcileService(
		billing.NewVerifier(cfg.PaymentWebhookSecret, cfg.PaymentWebhookTolerance),
		catalog,
		entitlements,
		service.ReconcileConfig{
			Source:  cfg.PaymentProviderName,
			Timeout: cfg.WebhookTimeout,
		},
		logger,
	)
	quota := service.NewQuotaService(users, devices, cfg.QuotaPolicy(), time.Now, logger)
	generateTimeout := time.Duration(cfg.AIMaxRetries+1) * cfg.AIRequestTimeout
	generator := service.NewGenerateService(quota, provider, generateTimeout, logger)
	accounts := service.NewAccountService(users, entitlements, quota, portal, store, logger)
	avatars := service.NewAvatarService(users, store, service.NewImagingProcessor(), logger)
	contact := service.NewContactService(mailer, logger)

	// ==========================================================================
	// Middleware
	// ==========================================================================

	authMw := middleware.NewAuthMiddleware(verifier, logger)
	apiLimiter := middleware.NewAPIRateLimiter(logger)
	defer apiLimiter.Close()
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if !metricsAuth.Enabled() {
		logger.Warn("METRICS_USERNAME/METRICS_PASSWORD not set; /metrics is unprotected")
	}

	requireSubject := middleware.Stack(authMw.WithSubject, authMw.RequireSubject)
	caller := middleware.Stack(apiLimiter.LimitGenerate, authMw.WithSubject, middleware.DeviceKey)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("DB UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Uploaded files are served by the bucket's public domain in production.
	if cfg.StorageProvider == storage.ProviderLocal {
		files := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", http.StripPrefix("/files/", files))
	}

	handler.NewWebhookHandler(reconciler, logger).RegisterRoutes(mux)
	handler.NewGenerateHandler(generator, logger).RegisterRoutes(mux, caller)
	handler.NewAccountHandler(accounts, avatars, logger).RegisterRoutes(mux, requireSubject)
	handler.NewContactHandler(contact, logger).RegisterRoutes(mux, apiLimiter.LimitContact)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	root := middleware.Stack(
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		metrics.Middleware,
		middleware.NewSecurityHeadersMiddleware(cfg.IsSecure(), cfg.AllowedOrigins).Handler,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
	}
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// newDeviceCounter connects to Redis when configured. Without Redis, or when
// it cannot be reached at boot, anonymous counters live in process.
func newDeviceCounter(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (counter.Store, func()) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set; anonymous counters kept in process")
		return counter.NewMemoryStore(), func() {}
	}

	client, err := counter.NewRedisClient(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Warn("redis unavailable; anonymous counters kept in process", "error", err)
		return counter.NewMemoryStore(), func() {}
	}
	return counter.NewRedisStore(client, counter.DefaultTTL), func() { _ = client.Close() }
}

func newAIProvider(cfg *internal.Config, logger *slog.Logger) (ai.Provider, error) {
	common := ai.ProviderConfig{
		MaxRetries:     cfg.AIMaxRetries,
		RetryBaseDelay: cfg.AIRetryBaseDelay,
		RequestTimeout: cfg.AIRequestTimeout,
	}

	switch cfg.AIProvider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			ProviderConfig: common,
		}, logger)
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			Model:          cfg.AnthropicModel,
			ProviderConfig: common,
		}, logger)
	default:
		return mock.New(logger), nil
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
