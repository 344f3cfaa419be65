package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/loomline/api/internal/di"
	"github.com/loomline/api/internal/handlers"
	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/config"
	"github.com/loomline/api/internal/platform/idempotency"
	"github.com/loomline/api/internal/platform/observability"
	"github.com/loomline/api/internal/platform/secrets"
	"github.com/loomline/api/internal/services"
)

const (
	paymentReplayTTL    = 24 * time.Hour
	couponAttemptLimit  = 10
	couponAttemptWindow = time.Minute
	firebaseTimeout     = 5 * time.Second
	jwksFetchTimeout    = 5 * time.Second
	closeTimeout        = 5 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	bootLogger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	secretOpts := []secrets.Option{secrets.WithLogger(bootLogger.Named("secrets"))}
	if path := strings.TrimSpace(os.Getenv("API_SECRET_FALLBACK_FILE")); path != "" {
		secretOpts = append(secretOpts, secrets.WithFallbackFile(path))
	}
	fetcher, err := secrets.NewFetcher(ctx, secretProjectID(), secretOpts...)
	if err != nil {
		bootLogger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			bootLogger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			bootLogger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		bootLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	baseLogger, err := observability.NewLogger(cfg.Logging.Level)
	if err != nil {
		bootLogger.Fatal("failed to initialise logger", zap.Error(err))
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	infra, err := buildInfrastructure(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise infrastructure", zap.Error(err))
	}

	reg, err := buildRegistry(ctx, cfg, infra)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, reg, di.Infrastructure{
		Locker:      infra.locker,
		Gateway:     infra.gateway,
		Documents:   infra.documents,
		Storage:     infra.storage,
		Mailer:      infra.mailer,
		Pusher:      infra.pusher,
		Events:      infra.events,
		InvoicePath: infra.invoicePath,
		Logger:      observability.ServiceLogger(logger.Named("services")),
		Clock:       time.Now,
		Build:       buildInfo(cfg, startedAt),
		Closers:     infra.closers,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	router, err := buildRouter(cfg, logger, infra, container.Services)
	if err != nil {
		logger.Fatal("failed to initialise router", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("loomline api listening",
			zap.String("store", cfg.Store.Backend),
			zap.String("inventory", cfg.Store.InventoryBackend),
			zap.String("environment", cfg.Security.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildRouter(cfg config.Config, logger *zap.Logger, infra *infrastructure, svc di.Services) (http.Handler, error) {
	authenticator := auth.NewAuthenticator(infra.tokenVerifier)

	metrics, err := observability.MetricsMiddleware(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("metrics middleware: %w", err)
	}
	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		metrics,
	}

	jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, &http.Client{Timeout: jwksFetchTimeout}, time.Now)
	oidc := auth.NewOIDCValidator(jwks, logger.Named("auth"))
	if strings.TrimSpace(cfg.Security.OIDC.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}

	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart, svc.Coupons,
		handlers.WithCouponAttemptLimit(couponAttemptLimit, couponAttemptWindow, time.Now),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Orders, svc.Inventory)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, svc.Payments,
		handlers.WithReplayMiddleware(idempotency.Middleware(infra.replays, paymentReplayTTL)),
	)
	internalHandlers := handlers.NewInternalHandlers(svc.Payments, cfg.Payments.PendingTTL)
	healthHandlers := handlers.NewHealthHandlers(handlers.WithHealthSystemService(svc.System))

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(oidc.RequireOIDC(cfg.Security.OIDC.Audience, cfg.Security.OIDC.Issuers)),
	}

	if strings.TrimSpace(cfg.Webhooks.SigningSecret) == "" {
		logger.Warn("webhooks: signing secret not configured; payment webhooks are disabled")
	} else {
		verifier, err := auth.NewWebhookVerifier(cfg.Webhooks.SigningSecret, infra.nonces,
			auth.WithSignatureHeader(cfg.Webhooks.SignatureHeader),
		)
		if err != nil {
			return nil, fmt.Errorf("webhook verifier: %w", err)
		}
		opts = append(opts,
			handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(svc.Payments).Routes),
			handlers.WithWebhookMiddlewares(verifier.Require()),
		)
	}

	return handlers.NewRouter(opts...), nil
}

func buildInfo(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func secretProjectID() string {
	for _, key := range []string{"API_SECRET_PROJECT_ID", "API_FIREBASE_PROJECT_ID", "API_FIRESTORE_PROJECT_ID"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
