package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/storefront/internal/di"
	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/events"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/platform/money"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/platform/secrets"
	"github.com/hanko-field/storefront/internal/repositories"
	firestoreRepo "github.com/hanko-field/storefront/internal/repositories/firestore"
	"github.com/hanko-field/storefront/internal/repositories/postgres"
	"github.com/hanko-field/storefront/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	currency, err := money.ParseCurrency(cfg.PSP.Currency)
	if err != nil {
		logger.Fatal("unsupported currency", zap.String("currency", cfg.PSP.Currency), zap.Error(err))
	}

	// The provider dials lazily, so building it costs nothing when neither the
	// registry nor the idempotency store uses Firestore.
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)

	registry, err := openRegistry(ctx, cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to open order storage", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}

	deps := []repositories.Dependency{{Name: cfg.Database.Driver, Timeout: 1500 * time.Millisecond, Check: registry.Ping}}

	var redisClient *redis.Client
	var store idempotency.Store
	switch cfg.Idempotency.Store {
	case config.IdempotencyStoreRedis:
		redisClient, err = idempotency.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		store = idempotency.NewRedisStore(redisClient)
		deps = append(deps, repositories.Dependency{
			Name:    "redis",
			Timeout: time.Second,
			Check:   func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	case config.IdempotencyStoreMemory:
		store = idempotency.NewMemoryStore()
	default:
		store = idempotency.NewFirestoreStore(firestoreProvider, "")
		if cfg.Database.Driver != config.DriverFirestore {
			deps = append(deps, repositories.Dependency{Name: "firestore", Timeout: 1500 * time.Millisecond, Check: firestoreProvider.Ping})
		}
	}

	readiness, err := repositories.NewReadinessChecker(deps)
	if err != nil {
		logger.Fatal("failed to initialise readiness checks", zap.Error(err))
	}

	componentLogger := func(component string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(logger.Named(component))
	}

	var gateway payments.Gateway
	if key := strings.TrimSpace(cfg.PSP.ActiveStripeKey()); key != "" {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:        key,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Timeout:       cfg.PSP.Timeout,
			Logger:        componentLogger("stripe"),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
		}
		gateway = stripeGateway
	} else {
		logger.Warn("no stripe key configured; orders are created without payment sessions")
	}

	publisher, stopEvents, err := newOrderPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	container, err := di.NewContainer(cfg, registry, di.Runtime{
		Gateway:   gateway,
		Events:    publisher,
		Readiness: readiness,
		Build:     buildInfo,
		Clock:     time.Now,
		Logger:    componentLogger,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyMiddleware := idempotency.Middleware(
		store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(componentLogger("idempotency")),
	)

	checkoutOpts := []handlers.CheckoutOption{
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
		handlers.WithCheckoutRateLimit(cfg.Checkout.RateLimit, cfg.Checkout.RateWindow, nil),
	}
	if origin := cfg.Server.PublicOrigin; origin != "" {
		checkoutOpts = append(checkoutOpts, handlers.WithDefaultReturnURLs(handlers.ReturnURLs{
			Success: origin + cfg.Checkout.RetrySuccessPath,
			Cancel:  origin + cfg.Checkout.RetryCancelPath,
		}))
	}
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout, svc.Reconciliation, currency, checkoutOpts...)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.OrderStatus, handlers.WithPublicOrigin(cfg.Server.PublicOrigin))
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders, svc.OrderStatus, currency)
	shippingHandlers := handlers.NewShippingHandlers(svc.Shipping, currency)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Reconciliation)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(store, cfg.Idempotency.CleanupBatchSize,
		handlers.WithMaintenanceLogger(componentLogger("maintenance")),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithShippingRoutes(shippingHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(maintenanceHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening",
			zap.String("driver", cfg.Database.Driver),
			zap.String("paymentMode", cfg.PSP.PaymentMode),
			zap.Bool("payments", svc.PaymentsActive),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	stopEvents()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("order storage close error", zap.Error(err))
	}
	if cfg.Database.Driver != config.DriverFirestore {
		if err := firestoreProvider.Close(shutdownCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}
}

func openRegistry(ctx context.Context, cfg config.Config, provider *pfirestore.Provider) (repositories.Registry, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		reg, err := postgres.NewRegistry(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return reg, nil
	default:
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
}

// newOrderPublisher returns a no-op publisher when no topic is configured.
func newOrderPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, func(), error) {
	topicID := strings.TrimSpace(cfg.Events.OrderTopic)
	if topicID == "" {
		return events.NopPublisher{}, func() {}, nil
	}
	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := events.NewPubSubPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		publisher.Stop()
		_ = client.Close()
	}, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/hanko-field/storefront/cmd/api")),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected deployment cannot start without.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" || strings.TrimSpace(env["API_PSP_STRIPE_TEST_API_KEY"]) != "" {
		required = append(required, "PSP.StripeWebhookSecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_DATABASE_DRIVER"]), config.DriverPostgres) {
		required = append(required, "Database.PostgresDSN")
	}
	sort.Strings(required)
	return required
}
