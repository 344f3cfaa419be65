// Package secrets resolves secret:// configuration references against Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/loomline/api/internal/platform/config"
)

const meterName = "github.com/loomline/api/internal/platform/secrets"

var ErrSecretNotFound = errors.New("secrets: secret not found")

type secretClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references of the form secret://<name>?version=<v>&project=<id>.
// Values are cached for the life of the process. When Secret Manager is unreachable the
// fetcher consults a local KEY=VALUE file keyed by secret name, which keeps development
// environments working without credentials.
type Fetcher struct {
	client       secretClient
	ownsClient   bool
	project      string
	fallbackPath string
	logger       *zap.Logger

	mu    sync.Mutex
	cache map[string]string

	fallbackOnce sync.Once
	fallback     map[string]string

	latency metric.Float64Histogram
}

var _ config.SecretResolver = (*Fetcher)(nil)

// Option customises a Fetcher.
type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFallbackFile sets the local file consulted when Secret Manager is unavailable.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallbackPath = strings.TrimSpace(path) }
}

func withClient(client secretClient) Option {
	return func(f *Fetcher) { f.client = client }
}

// NewFetcher connects to Secret Manager. A missing client is not fatal: references then
// resolve from the fallback file only.
func NewFetcher(ctx context.Context, projectID string, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		project:      strings.TrimSpace(projectID),
		fallbackPath: ".secrets.local",
		logger:       zap.NewNop(),
		cache:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}

	latency, err := otel.GetMeterProvider().Meter(meterName).Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret Manager access latency."),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}
	f.latency = latency

	if f.client == nil {
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			f.logger.Warn("secrets: secret manager unavailable, using fallback file", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret returns the plaintext for ref.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name, project, version, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	if project == "" {
		project = f.project
	}
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)

	f.mu.Lock()
	cached, ok := f.cache[resource]
	f.mu.Unlock()
	if ok {
		return cached, nil
	}

	value, err := f.access(ctx, resource)
	switch {
	case err == nil:
	case status.Code(err) == codes.NotFound:
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	default:
		fallback, found := f.lookupFallback(name)
		if !found {
			return "", fmt.Errorf("secrets: access %s: %w", name, err)
		}
		f.logger.Warn("secrets: using fallback value", zap.String("secret", name), zap.Error(err))
		value = fallback
	}

	f.mu.Lock()
	f.cache[resource] = value
	f.mu.Unlock()
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	if f.client == nil {
		return "", errors.New("secret manager client not configured")
	}
	if strings.HasPrefix(resource, "projects//") {
		return "", errors.New("project id not configured")
	}
	start := time.Now()
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	f.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(attribute.Bool("success", err == nil)))
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) lookupFallback(name string) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		file, err := os.Open(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secrets: open fallback file", zap.Error(err))
			}
			return
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			f.fallback[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
		}
	})
	value, ok := f.fallback[name]
	return value, ok
}

func parseReference(ref string) (name, project, version string, err error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", "", "", fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return "", "", "", fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name = strings.Trim(u.Host+u.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		return "", "", "", fmt.Errorf("secrets: invalid secret name in %q", ref)
	}
	q := u.Query()
	version = strings.TrimSpace(q.Get("version"))
	if version == "" {
		version = "latest"
	}
	return name, strings.TrimSpace(q.Get("project")), version, nil
}
