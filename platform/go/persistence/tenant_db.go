package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// TenantDB runs transactions on the tenant database bound to the context's scope.
// Without an active scope it fails with tenant.ErrNoTenantScope; there is no fallback
// to the central database.
type TenantDB struct {
	statementTimeout time.Duration
}

type TenantDBConfig struct {
	// StatementTimeout is set transaction-locally on every tenant transaction; zero disables it.
	StatementTimeout time.Duration
}

func NewTenantDB(cfg TenantDBConfig) *TenantDB {
	return &TenantDB{statementTimeout: cfg.StatementTimeout}
}

// WithTenant runs fn in a read-write transaction and commits when fn returns nil.
func (db *TenantDB) WithTenant(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{}, fn)
}

// ReadTenant runs fn in a read-only transaction.
func (db *TenantDB) ReadTenant(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (db *TenantDB) run(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	handle, err := tenant.DBFromContext(ctx)
	if err != nil {
		return err
	}
	tx, err := handle.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if db.statementTimeout > 0 {
		ms := strconv.FormatInt(db.statementTimeout.Milliseconds(), 10)
		if _, err := tx.Exec(ctx, `SELECT set_config('statement_timeout', $1, true)`, ms); err != nil {
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
