package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/clinichub/clinic-api/platform/go/setups"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	DatabaseRetries int           `env:"DATABASE_CONNECT_RETRIES" envDefault:"5"`
	DatabaseBackoff time.Duration `env:"DATABASE_RETRY_INTERVAL" envDefault:"2s"`

	TenantDBPrefix         string        `env:"TENANT_DB_PREFIX" envDefault:"clinic_"`
	TenantDBPassword       string        `env:"TENANT_DB_PASSWORD,required"`
	TenantDBCreate         bool          `env:"TENANT_DB_CREATE" envDefault:"true"`
	TenantProvisionCleanup bool          `env:"TENANT_PROVISION_CLEANUP" envDefault:"true"`
	TenantConnectTimeout   time.Duration `env:"TENANT_CONNECT_TIMEOUT" envDefault:"5s"`
	TenantStatementTimeout time.Duration `env:"TENANT_STATEMENT_TIMEOUT" envDefault:"0s"`
	TenantPoolMaxConns     int32         `env:"TENANT_POOL_MAX_CONNS" envDefault:"4"`
	TenantMaxPools         int           `env:"TENANT_MAX_POOLS" envDefault:"100"`
	TenantVerifyConnection bool          `env:"TENANT_VERIFY_CONNECTION" envDefault:"false"`
	TenantCacheTTL         time.Duration `env:"TENANT_CACHE_TTL" envDefault:"1m"`
	CentralDomains         []string      `env:"CENTRAL_DOMAINS" envDefault:"localhost,127.0.0.1" envSeparator:","`
	TenantHeaders          []string      `env:"TENANT_HEADERS" envDefault:"X-Tenant-ID,X-Clinic-ID" envSeparator:","`
	RedisURL               string        `env:"REDIS_URL"`

	AuthProvider string `env:"AUTH_PROVIDER" envDefault:"jwt"` // jwt | firebase | dev
	JWTSecret    string `env:"JWT_SECRET"`                     // required when AUTH_PROVIDER=jwt

	EnvKey          string `env:"ENV_KEY" envDefault:"dev"`
	StorageBackend  string `env:"STORAGE_BACKEND" envDefault:"local"`             // gcs | local
	StorageBucket   string `env:"STORAGE_BUCKET"`                                 // required when STORAGE_BACKEND=gcs
	StorageLocalDir string `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"` // used when STORAGE_BACKEND=local
}

// loadConfig reads the optional dotenv file first; real environment variables win.
func loadConfig() (config, string, error) {
	dotenv, err := setups.LoadDotEnv()
	if err != nil {
		return config{}, "", err
	}
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, dotenv, fmt.Errorf("parse env: %w", err)
	}
	return cfg, dotenv, nil
}
