// Package app wires the clinicctl backends from the environment. It mirrors the API
// server wiring without the HTTP surface.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	tenantsprov "github.com/clinichub/clinic-api/domains/tenants/be/provisioning"
	tenantsrepo "github.com/clinichub/clinic-api/domains/tenants/be/repo"
	tenantsservice "github.com/clinichub/clinic-api/domains/tenants/be/service"
	platformlogging "github.com/clinichub/clinic-api/platform/go/logging"
	"github.com/clinichub/clinic-api/platform/go/persistence"
	"github.com/clinichub/clinic-api/platform/go/setups"
	platformstorage "github.com/clinichub/clinic-api/platform/go/storage"
	"github.com/clinichub/clinic-api/platform/go/tenancy"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// Config is the clinicctl environment. Names match the API server.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	// CLI runs fail fast; one attempt unless overridden.
	DatabaseRetries int           `env:"DATABASE_CONNECT_RETRIES" envDefault:"1"`
	DatabaseBackoff time.Duration `env:"DATABASE_RETRY_INTERVAL" envDefault:"2s"`

	TenantDBPrefix         string        `env:"TENANT_DB_PREFIX" envDefault:"clinic_"`
	TenantDBPassword       string        `env:"TENANT_DB_PASSWORD"`
	TenantDBCreate         bool          `env:"TENANT_DB_CREATE" envDefault:"true"`
	TenantProvisionCleanup bool          `env:"TENANT_PROVISION_CLEANUP" envDefault:"true"`
	TenantConnectTimeout   time.Duration `env:"TENANT_CONNECT_TIMEOUT" envDefault:"5s"`
	TenantPoolMaxConns     int32         `env:"TENANT_POOL_MAX_CONNS" envDefault:"2"`
	CentralDomains         []string      `env:"CENTRAL_DOMAINS" envDefault:"localhost,127.0.0.1" envSeparator:","`
	RedisURL               string        `env:"REDIS_URL"`

	EnvKey          string `env:"ENV_KEY" envDefault:"dev"`
	StorageBackend  string `env:"STORAGE_BACKEND"` // empty disables tenant assets
	StorageBucket   string `env:"STORAGE_BUCKET"`
	StorageLocalDir string `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"`
}

// LoadConfig reads the optional dotenv file, then the environment.
func LoadConfig() (Config, error) {
	if _, err := setups.LoadDotEnv(); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// NewLogger logs to stderr so command output on stdout stays machine readable.
func NewLogger(cfg Config) (*zap.Logger, error) {
	return platformlogging.NewLogger(platformlogging.Config{
		Component: "clinicctl",
		Level:     cfg.LogLevel,
		Output:    os.Stderr,
	})
}

// OpenPool connects to the central database.
func OpenPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	return persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:     cfg.DatabaseURL,
		ConnectTimeout: cfg.TenantConnectTimeout,
		RetryAttempts:  cfg.DatabaseRetries,
		RetryInterval:  cfg.DatabaseBackoff,
	})
}

// App is the tenants backend used by clinicctl.
type App struct {
	*tenantsservice.Service
	Manager *tenancy.Manager
	Logger  *zap.Logger

	closers []func()
}

// Ping checks that the tenant database of rec accepts connections.
func (a *App) Ping(ctx context.Context, rec tenant.Record) error {
	return a.Manager.Ping(ctx, rec)
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Open builds the tenants service against the central database.
func Open(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	pool, err := OpenPool(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init pool: %w", err)
	}
	a.closers = append(a.closers, func() { persistence.ClosePool(pool) })

	central := pool.Config().ConnConfig
	resolver := tenant.NewCredentialResolver(tenant.CredentialConfig{
		Prefix:   cfg.TenantDBPrefix,
		Password: cfg.TenantDBPassword,
		Host:     central.Host,
		Port:     central.Port,
	})
	registry := persistence.NewRegistry(persistence.RegistryConfig{
		Base:           pool.Config(),
		MaxConns:       cfg.TenantPoolMaxConns,
		ConnectTimeout: cfg.TenantConnectTimeout,
		// Batches touch every tenant once; keep a single live handle.
		MaxHandles: 1,
	}, logger)
	a.closers = append(a.closers, registry.Close)
	a.Manager = tenancy.NewManager(resolver, tenancy.RegistryBinder(registry), logger)

	store, err := persistence.NewTenantStore(ctx, pool)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init tenant store: %w", err)
	}

	// Create and delete must evict the API replicas' lookup caches.
	var invalidator tenant.Invalidator
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = client.Close() })
		invalidator = tenant.NewRedisInvalidator(client, tenant.DefaultInvalidationChannel, logger)
	}
	lookup := tenant.NewCachedLookup(store, tenant.NewMemoryCache(time.Minute), invalidator)

	tenantDB := persistence.NewTenantDB(persistence.TenantDBConfig{})
	deps := tenantsservice.ProvisioningDeps{
		Resolver:  resolver,
		Scoper:    a.Manager,
		Databases: tenantsprov.NewDBProvisioner(pool, logger),
		Migrator:  persistence.NewTenantMigrator(logger),
		Seeder:    persistence.NewTenantSeeder(tenantDB),
		Registry:  registry,
		Cache:     lookup,
		Flags:     persistence.NewTenantFlagsValidator(),
	}

	switch cfg.StorageBackend {
	case "":
	case "local":
		deps.Assets = tenantsprov.NewTenantAssets(platformstorage.NewLocalStore(cfg.StorageLocalDir), cfg.EnvKey)
	case "gcs":
		if cfg.StorageBucket == "" {
			a.Close()
			return nil, fmt.Errorf("STORAGE_BUCKET is required when STORAGE_BACKEND=gcs")
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		deps.Assets = tenantsprov.NewTenantAssets(platformstorage.NewGCSStore(client, cfg.StorageBucket), cfg.EnvKey)
	default:
		a.Close()
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q (use gcs or local)", cfg.StorageBackend)
	}

	a.Service = tenantsservice.New(tenantsrepo.NewPostgresRepository(store), deps, tenantsservice.Config{
		CreateDatabases: cfg.TenantDBCreate,
		Cleanup:         cfg.TenantProvisionCleanup,
		CentralDomains:  cfg.CentralDomains,
		Logger:          logger,
	})
	return a, nil
}
