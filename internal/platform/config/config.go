package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultDatabaseDriver       = DriverFirestore
	defaultPaymentMode          = PaymentModeLive
	defaultCurrency             = "BRL"
	defaultPSPTimeout           = 10 * time.Second
	defaultPriceTolerance       = 10
	defaultRetrySuccessPath     = "/checkout/success"
	defaultRetryCancelPath      = "/orders"
	defaultFreeThreshold        = 20000
	defaultCheckoutRateLimit    = 20
	defaultCheckoutRateWindow   = time.Minute
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultIdempotencyStore     = IdempotencyStoreFirestore
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyBatchSize = 200
)

// Storage backends for order data.
const (
	DriverFirestore = "firestore"
	DriverPostgres  = "postgres"
)

// Payment modes. Test mode marks new orders as test orders.
const (
	PaymentModeLive = "live"
	PaymentModeTest = "test"
)

// Idempotency stores.
const (
	IdempotencyStoreFirestore = "firestore"
	IdempotencyStoreRedis     = "redis"
	IdempotencyStoreMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Database    DatabaseConfig
	PSP         PSPConfig
	Checkout    CheckoutConfig
	Shipping    ShippingConfig
	Events      EventsConfig
	Redis       RedisConfig
	Features    FeatureFlags
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// PublicOrigin is the storefront origin used when the API builds customer-facing URLs.
	PublicOrigin string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// DatabaseConfig selects the order storage backend.
type DatabaseConfig struct {
	Driver      string
	PostgresDSN string
	Migrate     bool
}

// PSPConfig collects payment processor settings.
type PSPConfig struct {
	StripeAPIKey        string
	StripeTestAPIKey    string
	StripeWebhookSecret string
	PaymentMode         string
	Currency            string
	Timeout             time.Duration
}

// TestMode reports whether new orders are created as test orders.
func (c PSPConfig) TestMode() bool {
	return c.PaymentMode == PaymentModeTest
}

// ActiveStripeKey returns the key matching the payment mode.
func (c PSPConfig) ActiveStripeKey() string {
	if c.TestMode() && strings.TrimSpace(c.StripeTestAPIKey) != "" {
		return c.StripeTestAPIKey
	}
	return c.StripeAPIKey
}

// CheckoutConfig tunes checkout and payment retry behaviour.
type CheckoutConfig struct {
	// PriceTolerance is the largest client price drift, in minor units, accepted without a warning.
	PriceTolerance   int64
	RetrySuccessPath string
	RetryCancelPath  string
	// RateLimit caps order placements per caller within RateWindow. Zero disables the limit.
	RateLimit  int
	RateWindow time.Duration
}

// ShippingConfig tunes the shipping rate lookup.
type ShippingConfig struct {
	FreeThreshold int64
}

// EventsConfig points order events at a Pub/Sub topic. An empty topic disables publishing.
type EventsConfig struct {
	ProjectID  string
	OrderTopic string
}

// RedisConfig locates the Redis instance backing the redis idempotency store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	// AdminEnforceTransitions makes admin bulk status updates honour the lifecycle table.
	AdminEnforceTransitions bool
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Store            string
	Header           string
	TTL              time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface. Names are redacted.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the missing secret identifiers.
func (e *MissingSecretsError) Names() []string {
	return append([]string(nil), e.names...)
}

// RedactedNames returns short hashes of the missing identifiers, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "PSP.StripeWebhookSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map)
// so callers can configure dependencies, such as the secret fetcher, before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load assembles the application configuration from defaults, .env overrides,
// environment variables, and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	if options.secret == nil {
		options.secret = SecretResolverFunc(func(context.Context, string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			PublicOrigin: strings.TrimRight(stringWithDefault(lookup, "API_SERVER_PUBLIC_ORIGIN", ""), "/"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Database: DatabaseConfig{
			Driver:      strings.ToLower(stringWithDefault(lookup, "API_DATABASE_DRIVER", defaultDatabaseDriver)),
			PostgresDSN: stringWithDefault(lookup, "API_DATABASE_POSTGRES_DSN", ""),
			Migrate:     boolWithDefault(lookup, "API_DATABASE_MIGRATE", false),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeTestAPIKey:    stringWithDefault(lookup, "API_PSP_STRIPE_TEST_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			PaymentMode:         strings.ToLower(stringWithDefault(lookup, "API_PSP_PAYMENT_MODE", defaultPaymentMode)),
			Currency:            strings.ToUpper(stringWithDefault(lookup, "API_PSP_CURRENCY", defaultCurrency)),
			Timeout:             durationWithDefault(lookup, "API_PSP_TIMEOUT", defaultPSPTimeout),
		},
		Checkout: CheckoutConfig{
			PriceTolerance:   int64(intWithDefault(lookup, "API_CHECKOUT_PRICE_TOLERANCE", defaultPriceTolerance)),
			RetrySuccessPath: stringWithDefault(lookup, "API_CHECKOUT_RETRY_SUCCESS_PATH", defaultRetrySuccessPath),
			RetryCancelPath:  stringWithDefault(lookup, "API_CHECKOUT_RETRY_CANCEL_PATH", defaultRetryCancelPath),
			RateLimit:        intWithDefault(lookup, "API_CHECKOUT_RATE_LIMIT", defaultCheckoutRateLimit),
			RateWindow:       durationWithDefault(lookup, "API_CHECKOUT_RATE_WINDOW", defaultCheckoutRateWindow),
		},
		Shipping: ShippingConfig{
			FreeThreshold: int64(intWithDefault(lookup, "API_SHIPPING_FREE_THRESHOLD", defaultFreeThreshold)),
		},
		Events: EventsConfig{
			ProjectID:  stringWithDefault(lookup, "API_EVENTS_PROJECT_ID", ""),
			OrderTopic: stringWithDefault(lookup, "API_EVENTS_ORDER_TOPIC", ""),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Features: FeatureFlags{
			AdminEnforceTransitions: boolWithDefault(lookup, "API_FEATURE_ADMIN_ENFORCE_TRANSITIONS", false),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Store:            strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_STORE", defaultIdempotencyStore)),
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeTestAPIKey", &cfg.PSP.StripeTestAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Database.PostgresDSN", &cfg.Database.PostgresDSN},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	switch cfg.Database.Driver {
	case DriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case DriverPostgres:
		if cfg.Database.PostgresDSN == "" {
			missing = append(missing, "Database.PostgresDSN")
		}
	default:
		missing = append(missing, "Database.Driver")
	}
	if cfg.PSP.PaymentMode != PaymentModeLive && cfg.PSP.PaymentMode != PaymentModeTest {
		missing = append(missing, "PSP.PaymentMode")
	}
	if len(cfg.PSP.Currency) != 3 {
		missing = append(missing, "PSP.Currency")
	}
	if cfg.Checkout.PriceTolerance < 0 {
		missing = append(missing, "Checkout.PriceTolerance")
	}
	switch cfg.Idempotency.Store {
	case IdempotencyStoreFirestore, IdempotencyStoreMemory:
	case IdempotencyStoreRedis:
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Idempotency.Store")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
