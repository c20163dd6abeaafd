package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestCentralCommand(t *testing.T) {
	t.Parallel()

	var gotURL string
	applied := false
	cmd := centralCommand(
		func(_ context.Context, databaseURL string) (*pgxpool.Pool, error) {
			gotURL = databaseURL
			return nil, nil
		},
		func(context.Context, *pgxpool.Pool) error {
			applied = true
			return nil
		},
	)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--database-url", "postgres://localhost/central"})

	require.NoError(t, cmd.Execute())
	require.True(t, applied)
	require.Equal(t, "postgres://localhost/central", gotURL)
	require.Contains(t, out.String(), "Central registry ready.")
}

func TestCentralCommandErrors(t *testing.T) {
	t.Parallel()

	cmd := centralCommand(
		func(context.Context, string) (*pgxpool.Pool, error) { return nil, errors.New("connection refused") },
		func(context.Context, *pgxpool.Pool) error { t.Fatal("apply must not run"); return nil },
	)
	cmd.SilenceUsage, cmd.SilenceErrors = true, true
	cmd.SetArgs(nil)
	require.ErrorContains(t, cmd.Execute(), "init pool: connection refused")

	cmd = centralCommand(
		func(context.Context, string) (*pgxpool.Pool, error) { return nil, nil },
		func(context.Context, *pgxpool.Pool) error { return errors.New("permission denied for schema public") },
	)
	cmd.SilenceUsage, cmd.SilenceErrors = true, true
	cmd.SetArgs(nil)
	require.ErrorContains(t, cmd.Execute(), "bootstrap central: permission denied")
}
