package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/clinichub/clinic-api/domains/tenants/be/service"
	"github.com/clinichub/clinic-api/platform/go/persistence"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Reason
	}{
		{"privilege", &pgconn.PgError{Code: "42501", Message: "permission denied to create database"}, ReasonInsufficientPrivilege},
		{"duplicate database", &pgconn.PgError{Code: "42P04"}, ReasonAlreadyExists},
		{"duplicate role", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "42710"}), ReasonAlreadyExists},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, ReasonUnreachable},
		{"other", &pgconn.PgError{Code: "42601"}, ReasonOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := classify("create database", "clinic_x", tc.err)
			var dbErr *DatabaseError
			require.ErrorAs(t, err, &dbErr)
			require.Equal(t, tc.want, dbErr.Reason)
			require.ErrorIs(t, err, tc.err)
		})
	}
	require.NoError(t, classify("noop", "", nil))
}

func TestQuoteLiteral(t *testing.T) {
	t.Parallel()

	require.Equal(t, `'plain'`, quoteLiteral("plain"))
	require.Equal(t, `'it''s'`, quoteLiteral("it's"))
	require.Equal(t, `E'a\\\\b'`, quoteLiteral(`a\\b`))
	require.Equal(t, `E'\\'' OR 1=1 --'`, quoteLiteral(`\' OR 1=1 --`))
}

func TestDBProvisionerLifecycle(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping db provisioner integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("central"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() { persistence.ClosePool(pool) })

	prov := NewDBProvisioner(pool, zaptest.NewLogger(t))
	req := service.DatabaseRequest{
		TenantID: "alpha",
		Database: "clinic_alpha",
		Username: "clinic_alpha",
		Password: `s3cr'et\`,
	}

	exists, err := prov.Exists(ctx, req.Database)
	require.NoError(t, err)
	require.False(t, exists)

	res, err := prov.Ensure(ctx, req)
	require.NoError(t, err)
	require.Equal(t, service.DatabaseResult{CreatedDatabase: true, CreatedRole: true}, res)

	// the tenant role logs into its own database with the derived password
	tenantConn, err := pgx.ConnectConfig(ctx, tenantConfig(t, ctx, pgContainer, req))
	require.NoError(t, err)
	var owner string
	require.NoError(t, tenantConn.QueryRow(ctx,
		"SELECT pg_get_userbyid(datdba) FROM pg_database WHERE datname = current_database()").Scan(&owner))
	require.Equal(t, "clinic_alpha", owner)
	require.NoError(t, tenantConn.Close(ctx))

	res, err = prov.Ensure(ctx, req)
	require.NoError(t, err)
	require.Equal(t, service.DatabaseResult{}, res)

	drop := req
	drop.DropDatabase, drop.DropRole = true, true
	require.NoError(t, prov.Drop(ctx, drop))
	require.NoError(t, prov.Drop(ctx, drop))

	exists, err = prov.Exists(ctx, req.Database)
	require.NoError(t, err)
	require.False(t, exists)
	var roles int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM pg_roles WHERE rolname = $1", req.Username).Scan(&roles))
	require.Zero(t, roles)

	// the central role is never dropped
	require.NoError(t, prov.Drop(ctx, service.DatabaseRequest{Username: "postgres", DropRole: true}))
	require.NoError(t, pool.Ping(ctx))
}

func tenantConfig(t *testing.T, ctx context.Context, c *postgres.PostgresContainer, req service.DatabaseRequest) *pgx.ConnConfig {
	t.Helper()
	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	cfg, err := pgx.ParseConfig(fmt.Sprintf("postgres://%s:%s/%s?sslmode=disable", host, port.Port(), req.Database))
	require.NoError(t, err)
	cfg.User = req.Username
	cfg.Password = req.Password
	return cfg
}
