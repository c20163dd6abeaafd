package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	sqlassets "github.com/clinichub/clinic-api/database"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// AppliedMigration describes one migration applied or rolled back on a tenant database.
type AppliedMigration struct {
	Version   int64
	Source    string
	Direction string
}

// TenantMigrator runs the embedded goose migrations against the tenant bound to the
// context's scope. It has no way of targeting the central database.
type TenantMigrator struct {
	fsys   fs.FS
	logger *zap.Logger
}

// NewTenantMigrator uses the migrations embedded in the database package.
func NewTenantMigrator(logger *zap.Logger) *TenantMigrator {
	fsys, err := fs.Sub(sqlassets.TenantMigrations, sqlassets.TenantMigrationsDir)
	if err != nil {
		panic(fmt.Sprintf("tenant migrations: %v", err))
	}
	return NewTenantMigratorFS(fsys, logger)
}

// NewTenantMigratorFS uses migrations found at the root of fsys.
func NewTenantMigratorFS(fsys fs.FS, logger *zap.Logger) *TenantMigrator {
	if fsys == nil {
		panic("tenant migrator requires migrations fs")
	}
	if logger == nil {
		panic("tenant migrator requires logger")
	}
	return &TenantMigrator{fsys: fsys, logger: logger}
}

type scopedPool interface {
	Ping(ctx context.Context) error
	Pool() (*pgxpool.Pool, error)
}

// Migrate applies pending migrations. With fresh, every applied migration is rolled back first.
func (m *TenantMigrator) Migrate(ctx context.Context, fresh bool) ([]AppliedMigration, error) {
	provider, space, closeFn, err := m.provider(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	logger := m.logger.With(zap.String("tenant_id", space.TenantID))
	var applied []AppliedMigration

	if fresh {
		results, err := provider.DownTo(ctx, 0)
		applied = append(applied, m.collect(logger, results)...)
		if err != nil {
			return applied, fmt.Errorf("reset tenant schema: %w", err)
		}
	}

	results, err := provider.Up(ctx)
	applied = append(applied, m.collect(logger, results)...)
	if err != nil {
		return applied, fmt.Errorf("apply tenant migrations: %w", err)
	}

	version, err := provider.GetDBVersion(ctx)
	if err == nil {
		logger.Info("tenant schema up to date", zap.Int64("version", version), zap.Int("applied", len(applied)))
	}
	return applied, nil
}

// Version returns the current schema version of the scoped tenant database.
func (m *TenantMigrator) Version(ctx context.Context) (int64, error) {
	provider, _, closeFn, err := m.provider(ctx)
	if err != nil {
		return 0, err
	}
	defer closeFn()
	return provider.GetDBVersion(ctx)
}

func (m *TenantMigrator) provider(ctx context.Context) (*goose.Provider, tenant.Space, func(), error) {
	scope, ok := tenant.ScopeFromContext(ctx)
	if !ok {
		return nil, tenant.Space{}, nil, tenant.ErrNoTenantScope
	}
	db, err := scope.DB()
	if err != nil {
		return nil, tenant.Space{}, nil, err
	}
	handle, ok := db.(scopedPool)
	if !ok {
		return nil, tenant.Space{}, nil, errors.New("tenant handle does not expose a pgx pool")
	}

	// surfaces auth/unknown database failures as tenant.ConnectionError before goose runs
	if err := handle.Ping(ctx); err != nil {
		return nil, tenant.Space{}, nil, err
	}
	pool, err := handle.Pool()
	if err != nil {
		return nil, tenant.Space{}, nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, m.fsys)
	if err != nil {
		_ = sqlDB.Close()
		return nil, tenant.Space{}, nil, fmt.Errorf("goose provider: %w", err)
	}

	closeFn := func() {
		if err := provider.Close(); err != nil {
			m.logger.Warn("close goose provider", zap.Error(err))
		}
	}
	return provider, scope.Space(), closeFn, nil
}

func (m *TenantMigrator) collect(logger *zap.Logger, results []*goose.MigrationResult) []AppliedMigration {
	out := make([]AppliedMigration, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		entry := AppliedMigration{
			Version:   r.Source.Version,
			Source:    path.Base(r.Source.Path),
			Direction: r.Direction,
		}
		fields := []zap.Field{
			zap.Int64("version", entry.Version),
			zap.String("source", entry.Source),
			zap.String("direction", entry.Direction),
			zap.Duration("duration", r.Duration),
		}
		if r.Error != nil {
			logger.Error("tenant migration failed", append(fields, zap.Error(r.Error))...)
			continue
		}
		logger.Info("tenant migration applied", fields...)
		out = append(out, entry)
	}
	return out
}
