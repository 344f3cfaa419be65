package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "loomline-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "loomline-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "loomline-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Store.Backend != StoreBackendFirestore || cfg.Store.InventoryBackend != StoreBackendFirestore {
		t.Errorf("unexpected store backends %+v", cfg.Store)
	}
	if cfg.Cart.Currency != "USD" || cfg.Cart.MaxLineQuantity != 99 {
		t.Errorf("unexpected cart config %+v", cfg.Cart)
	}
	if cfg.Pricing.ShippingFlat != 500 {
		t.Errorf("unexpected shipping flat %d", cfg.Pricing.ShippingFlat)
	}
	if cfg.Webhooks.SignatureHeader != defaultSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Webhooks.SignatureHeader)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Payments.PendingTTL != 30*time.Minute {
		t.Errorf("unexpected pending ttl %s", cfg.Payments.PendingTTL)
	}
	if cfg.Logging.Level != "info" || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("unexpected logging/shutdown defaults %+v %s", cfg.Logging, cfg.Server.ShutdownTimeout)
	}
	if cfg.Documents.StoreName != "Loomline" || cfg.Documents.Locale != "en-US" {
		t.Errorf("unexpected document defaults %+v", cfg.Documents)
	}
	if cfg.Storage.URLExpiry != 24*time.Hour || cfg.Storage.PublicBaseURL != "" {
		t.Errorf("unexpected storage defaults %+v", cfg.Storage)
	}
}

func TestLoadRejectsSignedURLExpiryBeyondSevenDays(t *testing.T) {
	env := map[string]string{
		"API_STORE_BACKEND":      "memory",
		"API_STORAGE_URL_EXPIRY": "200h",
		"API_LOG_LEVEL":          "DEBUG",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fields := verr.Fields(); len(fields) != 1 || fields[0] != "Storage.URLExpiry" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                     "9090",
		"API_STORE_BACKEND":                   "memory",
		"API_INVENTORY_BACKEND":               "sqlite",
		"API_INVENTORY_SQLITE_DSN":            "file:ledger.db",
		"API_REDIS_ADDR":                      "localhost:6379",
		"API_REDIS_PASSWORD":                  "sm://redis/password",
		"API_PRICING_TAX_RATE_BPS":            "825",
		"API_PRICING_FREE_SHIPPING_THRESHOLD": "10000",
		"API_PAYMENTS_STRIPE_API_KEY":         "secret://stripe/api",
		"API_WEBHOOK_SIGNING_SECRET":          "secret://webhooks/payments",
		"API_SECURITY_ENVIRONMENT":            "prod",
		"API_SECURITY_OIDC_ISSUERS":           "https://accounts.google.com, https://cloud.google.com/iap",
	}

	resolved := map[string]string{}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		resolved[ref] = "value-of-" + ref
		return resolved[ref], nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Server.Port)
	}
	if cfg.Store.Backend != StoreBackendMemory || cfg.Store.InventoryBackend != StoreBackendSQLite {
		t.Errorf("unexpected backends %+v", cfg.Store)
	}
	if cfg.Pricing.TaxRateBps != 825 || cfg.Pricing.FreeShippingThreshold != 10000 {
		t.Errorf("unexpected pricing %+v", cfg.Pricing)
	}
	if cfg.Payments.StripeAPIKey != "value-of-secret://stripe/api" {
		t.Errorf("stripe key not resolved: %s", cfg.Payments.StripeAPIKey)
	}
	if cfg.Redis.Password != "value-of-secret://redis/password" {
		t.Errorf("sm:// reference not normalised: %s", cfg.Redis.Password)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected two issuers, got %v", cfg.Security.OIDC.Issuers)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"API_STORE_BACKEND":        "cassandra",
		"API_INVENTORY_BACKEND":    "sqlite",
		"API_PRICING_TAX_RATE_BPS": "-1",
		"API_SECURITY_ENVIRONMENT": "prod",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	want := map[string]bool{
		"Store.Backend":          false,
		"Store.SQLiteDSN":        false,
		"Pricing.TaxRateBps":     false,
		"Webhooks.SigningSecret": false,
	}
	for _, field := range validationErr.Fields() {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in validation fields %v", field, validationErr.Fields())
		}
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"API_STORE_BACKEND":           "memory",
		"API_PAYMENTS_STRIPE_API_KEY": "secret://stripe/api",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Fatalf("unexpected ref %s", secretErr.Ref)
	}
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_STORE_BACKEND=memory\nAPI_SERVER_PORT=\"7070\"\nAPI_CART_CURRENCY=eur\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map to win, got %s", cfg.Server.Port)
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Errorf("expected backend from dotenv, got %s", cfg.Store.Backend)
	}
	if cfg.Cart.Currency != "EUR" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Cart.Currency)
	}
}
