package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinichub/clinic-api/contracts"
	patientshandler "github.com/clinichub/clinic-api/domains/patients/be/handler"
	patientsrepo "github.com/clinichub/clinic-api/domains/patients/be/repo"
	patientsservice "github.com/clinichub/clinic-api/domains/patients/be/service"
	tenantshandler "github.com/clinichub/clinic-api/domains/tenants/be/handler"
	tenantsprov "github.com/clinichub/clinic-api/domains/tenants/be/provisioning"
	tenantsrepo "github.com/clinichub/clinic-api/domains/tenants/be/repo"
	tenantsservice "github.com/clinichub/clinic-api/domains/tenants/be/service"
	platformlogging "github.com/clinichub/clinic-api/platform/go/logging"
	"github.com/clinichub/clinic-api/platform/go/persistence"
	platformstorage "github.com/clinichub/clinic-api/platform/go/storage"
	"github.com/clinichub/clinic-api/platform/go/tenancy"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, dotenv, err := loadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	if dotenv != "" {
		logger.Info("loaded dotenv file", zap.String("path", dotenv))
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:     cfg.DatabaseURL,
		ConnectTimeout: cfg.TenantConnectTimeout,
		RetryAttempts:  cfg.DatabaseRetries,
		RetryInterval:  cfg.DatabaseBackoff,
	})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

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
		MaxHandles:     cfg.TenantMaxPools,
	}, logger)
	defer registry.Close()
	manager := tenancy.NewManager(resolver, tenancy.RegistryBinder(registry), logger)

	tenantStore, err := persistence.NewTenantStore(ctx, pool)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}

	cache := tenant.NewMemoryCache(cfg.TenantCacheTTL)
	var invalidator tenant.Invalidator
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("parse REDIS_URL", zap.Error(err))
		}
		client := redis.NewClient(opts)
		defer client.Close()

		redisInvalidator := tenant.NewRedisInvalidator(client, tenant.DefaultInvalidationChannel, logger)
		go func() {
			if err := redisInvalidator.Listen(ctx, cache, nil); err != nil {
				logger.Error("tenant cache invalidation listener stopped", zap.Error(err))
			}
		}()
		invalidator = redisInvalidator
	}
	lookup := tenant.NewCachedLookup(tenantStore, cache, invalidator)

	store, closeStore := mustStorage(ctx, cfg, logger)
	defer closeStore()

	tenantDB := persistence.NewTenantDB(persistence.TenantDBConfig{StatementTimeout: cfg.TenantStatementTimeout})

	tenantService := tenantsservice.New(
		tenantsrepo.NewPostgresRepository(tenantStore),
		tenantsservice.ProvisioningDeps{
			Resolver:  resolver,
			Scoper:    manager,
			Databases: tenantsprov.NewDBProvisioner(pool, logger),
			Migrator:  persistence.NewTenantMigrator(logger),
			Seeder:    persistence.NewTenantSeeder(tenantDB),
			Registry:  registry,
			Cache:     lookup,
			Flags:     persistence.NewTenantFlagsValidator(),
			Assets:    tenantsprov.NewTenantAssets(store, cfg.EnvKey),
		},
		tenantsservice.Config{
			CreateDatabases: cfg.TenantDBCreate,
			Cleanup:         cfg.TenantProvisionCleanup,
			CentralDomains:  cfg.CentralDomains,
			Logger:          logger,
		},
	)
	tenantHTTPHandler := tenantshandler.New(tenantService, logger)

	patientService := patientsservice.New(patientsrepo.NewPostgresRepository(persistence.NewPatientStore(tenantDB)))
	patientHTTPHandler := patientshandler.New(patientService, logger)

	authMiddleware, err := buildAuthMiddleware(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init auth", zap.Error(err))
	}

	spec, err := contracts.Load()
	if err != nil {
		logger.Fatal("load openapi contract", zap.Error(err))
	}

	tenantAPI := tenantHTTPHandler.TenantRoutes()
	tenantAPI.Mount("/patients", patientHTTPHandler.Routes())

	handler := newRouter(routerDeps{
		Logger:         logger,
		Spec:           spec,
		Auth:           authMiddleware,
		Lookup:         lookup,
		Manager:        manager,
		CentralDomains: cfg.CentralDomains,
		TenantHeaders:  cfg.TenantHeaders,
		VerifyTenant:   cfg.TenantVerifyConnection,
		RequestTimeout: cfg.RequestTimeout,
		Ready:          pool.Ping,
		Admin:          tenantHTTPHandler.AdminRoutes(),
		TenantAPI:      tenantAPI,
		Welcome:        http.HandlerFunc(tenantHTTPHandler.Context),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server",
			zap.String("port", cfg.Port),
			zap.Strings("central_domains", cfg.CentralDomains),
			zap.String("auth_provider", cfg.AuthProvider),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// mustStorage opens the tenant asset backend selected by STORAGE_BACKEND.
func mustStorage(ctx context.Context, cfg config, logger *zap.Logger) (platformstorage.Store, func()) {
	switch cfg.StorageBackend {
	case "gcs":
		if cfg.StorageBucket == "" {
			logger.Fatal("storage bucket required when STORAGE_BACKEND=gcs")
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			logger.Fatal("init gcs client", zap.Error(err))
		}
		return platformstorage.NewGCSStore(client, cfg.StorageBucket), func() { _ = client.Close() }
	case "local":
		if strings.TrimSpace(cfg.StorageLocalDir) == "" {
			logger.Fatal("storage local dir required when STORAGE_BACKEND=local")
		}
		return platformstorage.NewLocalStore(cfg.StorageLocalDir), func() {}
	default:
		logger.Fatal("invalid STORAGE_BACKEND (use gcs or local)", zap.String("backend", cfg.StorageBackend))
	}
	return nil, func() {}
}
