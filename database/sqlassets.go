package sqlassets

import "embed"

//go:embed central/tenants.sql
var TenantsSQL string

//go:embed central/domains.sql
var DomainsSQL string

// TenantMigrations holds the goose migrations applied to every tenant database.
//
//go:embed migrations/tenant/*.sql
var TenantMigrations embed.FS

// TenantMigrationsDir is the root of TenantMigrations.
const TenantMigrationsDir = "migrations/tenant"

//go:embed schemas/tenant_flags.json
var TenantFlagsSchema []byte
