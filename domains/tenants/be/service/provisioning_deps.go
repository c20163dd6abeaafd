package service

import (
	"context"
	"io"

	"github.com/clinichub/clinic-api/platform/go/persistence"
	"github.com/clinichub/clinic-api/platform/go/tenancy"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// DatabaseProvisioner manages the physical tenant database and its login role on the
// shared server. Ensure is mutating/idempotent, Exists is read-only.
type DatabaseProvisioner interface {
	Exists(ctx context.Context, database string) (bool, error)
	Ensure(ctx context.Context, req DatabaseRequest) (DatabaseResult, error)
	Drop(ctx context.Context, req DatabaseRequest) error
}

type DatabaseRequest struct {
	TenantID string
	Database string
	Username string
	Password string
	// Drop only: which objects to remove.
	DropDatabase bool
	DropRole     bool
}

// DatabaseResult reports what Ensure created in this call.
type DatabaseResult struct {
	CreatedDatabase bool
	CreatedRole     bool
}

// Migrator applies the tenant schema to the database bound to ctx.
type Migrator interface {
	Migrate(ctx context.Context, fresh bool) ([]persistence.AppliedMigration, error)
}

// Seeder inserts baseline rows into the database bound to ctx. Must be idempotent.
// EnsureOwner reports false when the owner already exists.
type Seeder interface {
	Seed(ctx context.Context) (persistence.SeedResult, error)
	EnsureOwner(ctx context.Context, owner persistence.ClinicOwner) (bool, error)
}

// Scoper runs work inside tenant scopes. Implemented by tenancy.Manager.
type Scoper interface {
	Run(ctx context.Context, rec tenant.Record, fn func(ctx context.Context) error) error
	ForEach(ctx context.Context, operation string, recs []tenant.Record, fn func(ctx context.Context, rec tenant.Record) error) tenancy.Report
}

// Resolver derives tenant credentials.
type Resolver interface {
	Resolve(rec tenant.Record) (tenant.Descriptor, error)
	DatabaseName(id string) string
}

// Purger drops cached tenant connections.
type Purger interface {
	Purge(tenantID string)
}

// CacheInvalidator drops cached tenant lookups.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string, domains ...string) error
}

// FlagsValidator checks the tenant "data" document.
type FlagsValidator interface {
	Validate(doc any) error
}

// AssetStore keeps tenant files such as the clinic logo.
// Ensure is mutating/idempotent.
type AssetStore interface {
	Ensure(ctx context.Context, tenantID string) error
	Put(ctx context.Context, tenantID, name, contentType string, body io.Reader) (string, error)
	RemoveAll(ctx context.Context, tenantID string) error
}

// ProvisioningDeps groups the collaborators of the provisioning workflow.
// Cache, Flags and Assets are optional.
type ProvisioningDeps struct {
	Resolver  Resolver
	Scoper    Scoper
	Databases DatabaseProvisioner
	Migrator  Migrator
	Seeder    Seeder
	Registry  Purger
	Cache     CacheInvalidator
	Flags     FlagsValidator
	Assets    AssetStore
}
