package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultEnvironment       = "local"
	defaultStoreBackend      = StoreBackendFirestore
	defaultCurrency          = "USD"
	defaultMaxLineQuantity   = 99
	defaultLockTTL           = 10 * time.Second
	defaultLockWait          = 5 * time.Second
	defaultShippingFlat      = 500
	defaultPendingPaymentTTL = 30 * time.Minute
	defaultSignatureHeader   = "X-Signature"
	defaultOrderEventsTopic  = "order-events"
	defaultMailOutboxTopic   = "mail-outbox"
	defaultOIDCJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer        = "https://accounts.google.com"
	defaultShutdownTimeout   = 10 * time.Second
	defaultLogLevel          = "info"
	defaultSignedURLExpiry   = 24 * time.Hour
	defaultStoreName         = "Loomline"
	defaultLocale            = "en-US"
)

// Store backends understood by the repository registry.
const (
	StoreBackendFirestore = "firestore"
	StoreBackendMemory    = "memory"
	StoreBackendSQLite    = "sqlite"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Store     StoreConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Storage   StorageConfig
	Documents DocumentsConfig
	PubSub    PubSubConfig
	Redis     RedisConfig
	Cart      CartConfig
	Pricing   PricingConfig
	Payments  PaymentsConfig
	Webhooks  WebhookConfig
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// ShutdownTimeout bounds graceful drain on SIGTERM.
	ShutdownTimeout time.Duration
}

// LoggingConfig sets the minimum zap level.
type LoggingConfig struct {
	Level string
}

// StoreConfig selects the persistence backends.
type StoreConfig struct {
	// Backend holds carts, orders, coupons, payments and profiles.
	Backend string
	// InventoryBackend holds the stock ledger; defaults to Backend.
	InventoryBackend string
	SQLiteDSN        string
	SeedFile         string
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

// StorageConfig names the bucket that receives invoice artifacts.
type StorageConfig struct {
	InvoicesBucket string
	// PublicBaseURL, when set, prefixes object keys instead of signing download URLs.
	PublicBaseURL         string
	SignerCredentialsFile string
	URLExpiry             time.Duration
}

// DocumentsConfig brands rendered invoices and emails.
type DocumentsConfig struct {
	StoreName string
	Locale    string
}

// PubSubConfig names the topics used for order events and outbound mail.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	MailOutboxTopic  string
}

// RedisConfig enables the distributed cart lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
	LockWait time.Duration
}

// CartConfig bounds cart mutations.
type CartConfig struct {
	Currency        string
	MaxLineQuantity int
}

// PricingConfig drives tax and shipping on every cart recompute.
type PricingConfig struct {
	TaxRateBps            int
	ShippingFlat          int64
	FreeShippingThreshold int64
}

// PaymentsConfig collects payment provider settings.
type PaymentsConfig struct {
	DefaultProvider string
	StripeAPIKey    string
	PendingTTL      time.Duration
}

// WebhookConfig contains payment webhook security parameters.
type WebhookConfig struct {
	SigningSecret   string
	SignatureHeader string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for scheduler calls.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// SecretResolver resolves secret:// references into plain values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists the configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError reports a failed secret lookup.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the dotenv file path. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver installs the resolver used for secret:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load builds a Config from the env map, the process environment and the dotenv file, in that precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Logging: LoggingConfig{
			Level: strings.ToLower(stringWithDefault(lookup, "API_LOG_LEVEL", defaultLogLevel)),
		},
		Store: StoreConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_STORE_BACKEND", defaultStoreBackend)),
			InventoryBackend: strings.ToLower(stringWithDefault(lookup, "API_INVENTORY_BACKEND", "")),
			SQLiteDSN:        stringWithDefault(lookup, "API_INVENTORY_SQLITE_DSN", ""),
			SeedFile:         stringWithDefault(lookup, "API_STORE_SEED_FILE", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			InvoicesBucket:        stringWithDefault(lookup, "API_STORAGE_INVOICES_BUCKET", ""),
			PublicBaseURL:         stringWithDefault(lookup, "API_STORAGE_PUBLIC_BASE_URL", ""),
			SignerCredentialsFile: stringWithDefault(lookup, "API_STORAGE_SIGNER_CREDENTIALS_FILE", ""),
			URLExpiry:             durationWithDefault(lookup, "API_STORAGE_URL_EXPIRY", defaultSignedURLExpiry),
		},
		Documents: DocumentsConfig{
			StoreName: stringWithDefault(lookup, "API_DOCUMENTS_STORE_NAME", defaultStoreName),
			Locale:    stringWithDefault(lookup, "API_DOCUMENTS_LOCALE", defaultLocale),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			MailOutboxTopic:  stringWithDefault(lookup, "API_PUBSUB_MAIL_OUTBOX_TOPIC", defaultMailOutboxTopic),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			LockTTL:  durationWithDefault(lookup, "API_REDIS_LOCK_TTL", defaultLockTTL),
			LockWait: durationWithDefault(lookup, "API_REDIS_LOCK_WAIT", defaultLockWait),
		},
		Cart: CartConfig{
			Currency:        strings.ToUpper(stringWithDefault(lookup, "API_CART_CURRENCY", defaultCurrency)),
			MaxLineQuantity: intWithDefault(lookup, "API_CART_MAX_LINE_QUANTITY", defaultMaxLineQuantity),
		},
		Pricing: PricingConfig{
			TaxRateBps:            intWithDefault(lookup, "API_PRICING_TAX_RATE_BPS", 0),
			ShippingFlat:          int64WithDefault(lookup, "API_PRICING_SHIPPING_FLAT", defaultShippingFlat),
			FreeShippingThreshold: int64WithDefault(lookup, "API_PRICING_FREE_SHIPPING_THRESHOLD", 0),
		},
		Payments: PaymentsConfig{
			DefaultProvider: strings.ToLower(stringWithDefault(lookup, "API_PAYMENTS_DEFAULT_PROVIDER", "stripe")),
			StripeAPIKey:    stringWithDefault(lookup, "API_PAYMENTS_STRIPE_API_KEY", ""),
			PendingTTL:      durationWithDefault(lookup, "API_PAYMENTS_PENDING_TTL", defaultPendingPaymentTTL),
		},
		Webhooks: WebhookConfig{
			SigningSecret:   stringWithDefault(lookup, "API_WEBHOOK_SIGNING_SECRET", ""),
			SignatureHeader: stringWithDefault(lookup, "API_WEBHOOK_SIGNATURE_HEADER", defaultSignatureHeader),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
	}

	if cfg.Store.InventoryBackend == "" {
		cfg.Store.InventoryBackend = cfg.Store.Backend
	}
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	secretFields := []*string{
		&cfg.Payments.StripeAPIKey,
		&cfg.Webhooks.SigningSecret,
		&cfg.Redis.Password,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Backend {
	case StoreBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreBackendMemory:
	default:
		missing = append(missing, "Store.Backend")
	}
	switch cfg.Store.InventoryBackend {
	case StoreBackendFirestore:
		if cfg.Firestore.ProjectID == "" && cfg.Store.Backend != StoreBackendFirestore {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreBackendSQLite:
		if strings.TrimSpace(cfg.Store.SQLiteDSN) == "" {
			missing = append(missing, "Store.SQLiteDSN")
		}
	case StoreBackendMemory:
	default:
		missing = append(missing, "Store.InventoryBackend")
	}
	if len(cfg.Cart.Currency) != 3 {
		missing = append(missing, "Cart.Currency")
	}
	if cfg.Cart.MaxLineQuantity <= 0 {
		missing = append(missing, "Cart.MaxLineQuantity")
	}
	if cfg.Pricing.TaxRateBps < 0 || cfg.Pricing.TaxRateBps > 10000 {
		missing = append(missing, "Pricing.TaxRateBps")
	}
	if cfg.Pricing.ShippingFlat < 0 {
		missing = append(missing, "Pricing.ShippingFlat")
	}
	if cfg.Storage.URLExpiry <= 0 || cfg.Storage.URLExpiry > 7*24*time.Hour {
		missing = append(missing, "Storage.URLExpiry")
	}
	if cfg.Payments.PendingTTL <= 0 {
		missing = append(missing, "Payments.PendingTTL")
	}
	if cfg.Security.Environment != defaultEnvironment && strings.TrimSpace(cfg.Webhooks.SigningSecret) == "" {
		missing = append(missing, "Webhooks.SigningSecret")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
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

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
