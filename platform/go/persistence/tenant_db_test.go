package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// recordingTx implements the parts of pgx.Tx that TenantDB touches. Anything else panics
// through the nil embedded interface.
type recordingTx struct {
	pgx.Tx
	stmts      []string
	committed  bool
	rolledBack bool
}

func (r *recordingTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	return pgconn.CommandTag{}, nil
}

func (r *recordingTx) Commit(context.Context) error {
	r.committed = true
	return nil
}

func (r *recordingTx) Rollback(context.Context) error {
	if !r.committed {
		r.rolledBack = true
	}
	return nil
}

type recordingHandle struct {
	tx   *recordingTx
	opts []pgx.TxOptions
}

func (h *recordingHandle) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	h.opts = append(h.opts, opts)
	return h.tx, nil
}

func scoped(h *recordingHandle) context.Context {
	return tenant.WithScope(context.Background(), tenant.NewScope(tenant.Space{TenantID: "alpha"}, h))
}

func TestTenantDBRequiresScope(t *testing.T) {
	t.Parallel()

	called := false
	err := NewTenantDB(TenantDBConfig{}).WithTenant(context.Background(), func(pgx.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, tenant.ErrNoTenantScope)
	require.False(t, called)
}

func TestTenantDBRejectsReleasedScope(t *testing.T) {
	t.Parallel()

	scope := tenant.NewScope(tenant.Space{TenantID: "alpha"}, &recordingHandle{tx: &recordingTx{}})
	ctx := tenant.WithScope(context.Background(), scope)
	scope.Release()

	err := NewTenantDB(TenantDBConfig{}).ReadTenant(ctx, func(pgx.Tx) error { return nil })
	require.ErrorIs(t, err, tenant.ErrNoTenantScope)
}

func TestTenantDBSetsStatementTimeoutAndCommits(t *testing.T) {
	t.Parallel()

	h := &recordingHandle{tx: &recordingTx{}}
	ctx := scoped(h)

	err := NewTenantDB(TenantDBConfig{StatementTimeout: 5 * time.Second}).WithTenant(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "SELECT 1")
		return err
	})
	require.NoError(t, err)
	require.True(t, h.tx.committed)
	require.Equal(t, []string{`SELECT set_config('statement_timeout', $1, true)`, "SELECT 1"}, h.tx.stmts)
	require.Equal(t, []pgx.TxOptions{{}}, h.opts)
}

func TestTenantDBReadTenantIsReadOnly(t *testing.T) {
	t.Parallel()

	h := &recordingHandle{tx: &recordingTx{}}
	require.NoError(t, NewTenantDB(TenantDBConfig{}).ReadTenant(scoped(h), func(pgx.Tx) error { return nil }))
	require.Equal(t, pgx.ReadOnly, h.opts[0].AccessMode)
	require.Empty(t, h.tx.stmts)
}

func TestTenantDBRollsBackOnError(t *testing.T) {
	t.Parallel()

	h := &recordingHandle{tx: &recordingTx{}}
	boom := errors.New("boom")

	err := NewTenantDB(TenantDBConfig{}).WithTenant(scoped(h), func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, h.tx.committed)
	require.True(t, h.tx.rolledBack)
}
