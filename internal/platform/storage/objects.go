package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/loomline/api/internal/services"
)

// maxSignedURLExpiry is the V4 signing ceiling.
const maxSignedURLExpiry = 7 * 24 * time.Hour

var (
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is required")
	errBackendMissing = errors.New("storage: backend is required")
	errExpiryTooLong  = errors.New("storage: expiry exceeds permitted maximum")
)

// objectBackend performs the raw bucket operations.
type objectBackend interface {
	Write(ctx context.Context, bucket, object, contentType string, data []byte) error
	Delete(ctx context.Context, bucket, object string) error
}

type gcsBackend struct {
	client *gcs.Client
}

func (b gcsBackend) Write(ctx context.Context, bucket, object, contentType string, data []byte) error {
	w := b.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b gcsBackend) Delete(ctx context.Context, bucket, object string) error {
	err := b.client.Bucket(bucket).Object(object).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

// ObjectStoreConfig configures invoice uploads.
type ObjectStoreConfig struct {
	Bucket string
	// PublicBaseURL, when set, is joined with the object key to form the returned URL.
	PublicBaseURL string
	// Signer produces V4 signed GET URLs when no public base URL is configured.
	Signer    Signer
	URLExpiry time.Duration
	Clock     func() time.Time
}

// ObjectStore writes generated documents to Cloud Storage and returns a URL for them.
type ObjectStore struct {
	backend objectBackend
	bucket  string
	baseURL string
	signer  Signer
	expiry  time.Duration
	now     func() time.Time
}

var _ services.ObjectStorage = (*ObjectStore)(nil)

// NewObjectStore constructs an ObjectStore backed by the given Cloud Storage client.
func NewObjectStore(client *gcs.Client, cfg ObjectStoreConfig) (*ObjectStore, error) {
	if client == nil {
		return nil, errBackendMissing
	}
	return newObjectStore(gcsBackend{client: client}, cfg)
}

func newObjectStore(backend objectBackend, cfg ObjectStoreConfig) (*ObjectStore, error) {
	if backend == nil {
		return nil, errBackendMissing
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = maxSignedURLExpiry
	}
	if expiry > maxSignedURLExpiry {
		return nil, errExpiryTooLong
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &ObjectStore{
		backend: backend,
		bucket:  bucket,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		signer:  cfg.Signer,
		expiry:  expiry,
		now:     now,
	}, nil
}

// Put uploads data to path and returns the URL under which it can be read.
func (s *ObjectStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	object := strings.TrimLeft(strings.TrimSpace(path), "/")
	if object == "" {
		return "", errInvalidObject
	}
	if err := s.backend.Write(ctx, s.bucket, object, contentType, data); err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", object, err)
	}
	url, err := s.objectURL(ctx, object)
	if err != nil {
		if delErr := s.backend.Delete(context.WithoutCancel(ctx), s.bucket, object); delErr != nil {
			return "", fmt.Errorf("storage: %w (cleanup: %v)", err, delErr)
		}
		return "", err
	}
	return url, nil
}

// Delete removes the object at path. Missing objects are not an error.
func (s *ObjectStore) Delete(ctx context.Context, path string) error {
	object := strings.TrimLeft(strings.TrimSpace(path), "/")
	if object == "" {
		return errInvalidObject
	}
	if err := s.backend.Delete(ctx, s.bucket, object); err != nil {
		return fmt.Errorf("storage: delete %s: %w", object, err)
	}
	return nil
}

func (s *ObjectStore) objectURL(ctx context.Context, object string) (string, error) {
	if s.baseURL != "" {
		return s.baseURL + "/" + object, nil
	}
	if s.signer == nil || strings.TrimSpace(s.signer.Email()) == "" {
		return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
	}
	signed, err := gcs.SignedURL(s.bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         "GET",
		Expires:        s.now().Add(s.expiry),
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return signed, nil
}
