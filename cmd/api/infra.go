package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/config"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/platform/idempotency"
	"github.com/loomline/api/internal/platform/jobs"
	"github.com/loomline/api/internal/platform/lock"
	"github.com/loomline/api/internal/platform/notify"
	platformstorage "github.com/loomline/api/internal/platform/storage"
	"github.com/loomline/api/internal/repositories"
	firestoreRepo "github.com/loomline/api/internal/repositories/firestore"
	"github.com/loomline/api/internal/repositories/memory"
	"github.com/loomline/api/internal/repositories/sqlstore"
	"github.com/loomline/api/internal/services"
)

// infrastructure holds the clients built from configuration. Optional collaborators stay nil
// when their section is not configured.
type infrastructure struct {
	logger *zap.Logger

	tokenVerifier auth.TokenVerifier
	locker        lock.Locker
	nonces        auth.NonceStore
	replays       idempotency.Store

	gateway     services.PaymentGateway
	documents   services.DocumentRenderer
	storage     services.ObjectStorage
	mailer      services.Mailer
	pusher      services.Pusher
	events      services.OrderEventPublisher
	invoicePath func(services.Order) string

	healthChecks []repositories.DependencyCheck
	closers      []func(context.Context) error
}

func (i *infrastructure) onClose(fn func(context.Context) error) {
	i.closers = append(i.closers, fn)
}

func buildInfrastructure(ctx context.Context, cfg config.Config, logger *zap.Logger) (*infrastructure, error) {
	infra := &infrastructure{logger: logger}

	if err := infra.connectRedis(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if err := infra.connectFirebase(ctx, cfg.Firebase); err != nil {
		return nil, err
	}
	if err := infra.connectPayments(cfg.Payments); err != nil {
		return nil, err
	}
	if err := infra.connectStorage(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	if err := infra.connectPubSub(ctx, cfg.PubSub); err != nil {
		return nil, err
	}

	renderer, err := notify.NewRenderer(notify.RendererConfig{
		StoreName: cfg.Documents.StoreName,
		Locale:    cfg.Documents.Locale,
	})
	if err != nil {
		return nil, fmt.Errorf("document renderer: %w", err)
	}
	infra.documents = renderer
	return infra, nil
}

func (i *infrastructure) connectRedis(ctx context.Context, cfg config.RedisConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		i.logger.Info("redis not configured; using in-process locks and replay stores")
		i.locker = lock.NewKeyedMutex()
		i.nonces = auth.NewMemoryNonceStore(time.Now)
		i.replays = idempotency.NewMemoryStore(time.Now)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	i.onClose(func(context.Context) error { return client.Close() })

	locker, err := lock.NewRedisLocker(client,
		lock.WithTTL(cfg.LockTTL),
		lock.WithWait(cfg.LockWait),
		lock.WithReleaseErrorLogger(i.logger.Named("lock").Sugar().Warnf),
	)
	if err != nil {
		return fmt.Errorf("redis locker: %w", err)
	}
	i.locker = locker
	i.nonces = auth.NewRedisNonceStore(client)
	i.replays = idempotency.NewRedisStore(client)
	i.healthChecks = append(i.healthChecks, repositories.DependencyCheck{
		Name:    "redis",
		Timeout: time.Second,
		Check:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
	})
	return nil
}

// connectFirebase builds the Admin SDK app shared by ID token verification and FCM.
func (i *infrastructure) connectFirebase(ctx context.Context, cfg config.FirebaseConfig) error {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		i.logger.Warn("firebase not configured; authenticated routes will answer 503")
		return nil
	}
	app, err := auth.NewFirebaseApp(ctx, cfg)
	if err != nil {
		return err
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, app, firebaseTimeout)
	if err != nil {
		return err
	}
	i.tokenVerifier = verifier

	messaging, err := app.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("firebase messaging: %w", err)
	}
	pusher, err := notify.NewFCMPusher(messaging)
	if err != nil {
		return err
	}
	i.pusher = pusher
	return nil
}

func (i *infrastructure) connectPayments(cfg config.PaymentsConfig) error {
	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		i.logger.Info("no payment provider configured; payments settle out of band")
		return nil
	}
	stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{APIKey: cfg.StripeAPIKey})
	if err != nil {
		return fmt.Errorf("stripe provider: %w", err)
	}
	manager, err := payments.NewManager(
		map[string]payments.Provider{"stripe": stripe},
		payments.WithDefaultProvider(cfg.DefaultProvider),
	)
	if err != nil {
		return fmt.Errorf("payment manager: %w", err)
	}
	i.gateway = manager
	return nil
}

func (i *infrastructure) connectStorage(ctx context.Context, cfg config.StorageConfig) error {
	if strings.TrimSpace(cfg.InvoicesBucket) == "" {
		i.logger.Info("invoice bucket not configured; invoices are not stored")
		return nil
	}

	var signer platformstorage.Signer
	if path := strings.TrimSpace(cfg.SignerCredentialsFile); path != "" {
		sa, err := platformstorage.NewServiceAccountSignerFromFile(path)
		if err != nil {
			return fmt.Errorf("storage signer: %w", err)
		}
		signer = sa
	} else if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return fmt.Errorf("storage: bucket %s needs a public base url or signer credentials", cfg.InvoicesBucket)
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("storage client: %w", err)
	}
	i.onClose(func(context.Context) error { return client.Close() })

	store, err := platformstorage.NewObjectStore(client, platformstorage.ObjectStoreConfig{
		Bucket:        cfg.InvoicesBucket,
		PublicBaseURL: cfg.PublicBaseURL,
		Signer:        signer,
		URLExpiry:     cfg.URLExpiry,
	})
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	i.storage = store
	i.invoicePath = platformstorage.InvoicePathFunc()
	return nil
}

func (i *infrastructure) connectPubSub(ctx context.Context, cfg config.PubSubConfig) error {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		i.logger.Info("pubsub not configured; order events and emails are not published")
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	i.onClose(func(context.Context) error { return client.Close() })

	eventsTopic := client.Topic(cfg.OrderEventsTopic)
	mailTopic := client.Topic(cfg.MailOutboxTopic)
	i.onClose(func(context.Context) error {
		eventsTopic.Stop()
		mailTopic.Stop()
		return nil
	})

	publisher, err := jobs.NewPubSubOrderPublisher(eventsTopic)
	if err != nil {
		return err
	}
	mailer, err := jobs.NewPubSubMailer(mailTopic, time.Now)
	if err != nil {
		return err
	}
	i.events = publisher
	i.mailer = mailer
	return nil
}

// buildRegistry selects the persistence backend and, independently, the stock ledger.
func buildRegistry(ctx context.Context, cfg config.Config, infra *infrastructure) (repositories.Registry, error) {
	ledger, err := buildLedger(ctx, cfg, infra)
	if err != nil {
		return nil, err
	}

	var seed *memory.Seed
	if path := strings.TrimSpace(cfg.Store.SeedFile); path != "" {
		loaded, err := memory.LoadSeedFile(path)
		if err != nil {
			return nil, err
		}
		seed = &loaded
	}

	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		opts := []memory.Option{
			memory.WithInventory(ledger),
			memory.WithHealthChecks(infra.healthChecks...),
		}
		if seed != nil {
			opts = append(opts, memory.WithSeed(*seed))
		}
		store := memory.New(opts...)
		if seed != nil && ledger != nil {
			if err := seed.ApplyInventory(ctx, store.Inventory()); err != nil {
				return nil, err
			}
		}
		return store, nil

	case config.StoreBackendFirestore:
		if seed != nil {
			infra.logger.Warn("seed file ignored for the firestore backend", zap.String("path", cfg.Store.SeedFile))
		}
		provider := pfirestore.NewProvider(cfg.Firestore, firestoreOptions(cfg)...)
		reg, err := firestoreRepo.NewRegistry(provider,
			firestoreRepo.WithInventory(ledger),
			firestoreRepo.WithHealthChecks(infra.healthChecks...),
		)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
	return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
}

// buildLedger returns nil when the stock ledger lives in the main backend.
func buildLedger(ctx context.Context, cfg config.Config, infra *infrastructure) (repositories.InventoryRepository, error) {
	if cfg.Store.InventoryBackend == cfg.Store.Backend {
		return nil, nil
	}
	switch cfg.Store.InventoryBackend {
	case config.StoreBackendSQLite:
		ledger, err := sqlstore.Open(ctx, cfg.Store.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		infra.onClose(ledger.Close)
		infra.healthChecks = append(infra.healthChecks, repositories.DependencyCheck{Name: "sqlite", Check: ledger.Ping})
		return ledger, nil

	case config.StoreBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore, firestoreOptions(cfg)...)
		infra.onClose(provider.Close)
		infra.healthChecks = append(infra.healthChecks, repositories.DependencyCheck{Name: "firestore", Check: provider.Ping})
		repo, err := firestoreRepo.NewInventoryRepository(provider)
		if err != nil {
			return nil, err
		}
		return repo, nil

	case config.StoreBackendMemory:
		return memory.New().Inventory(), nil
	}
	return nil, fmt.Errorf("unsupported inventory backend %q", cfg.Store.InventoryBackend)
}

func firestoreOptions(cfg config.Config) []pfirestore.ProviderOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []pfirestore.ProviderOption{pfirestore.WithClientOptions(option.WithCredentialsFile(path))}
	}
	return nil
}
