package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinichub/clinic-api/domains/tenants/be/service"
	"github.com/clinichub/clinic-api/platform/go/persistence"
)

// Reason classifies a database provisioning failure.
type Reason string

const (
	ReasonInsufficientPrivilege Reason = "insufficient_privilege"
	ReasonAlreadyExists         Reason = "already_exists"
	ReasonUnreachable           Reason = "unreachable"
	ReasonOther                 Reason = "other"
)

// DatabaseError reports a failed statement against the shared server.
type DatabaseError struct {
	Op     string
	Object string
	Reason Reason
	Err    error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Object, e.Reason, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

func classify(op, object string, err error) error {
	if err == nil {
		return nil
	}
	reason := ReasonOther
	switch code := persistence.PgErrorCode(err); {
	case code == persistence.CodeInsufficientPrivilege:
		reason = ReasonInsufficientPrivilege
	case code == persistence.CodeDuplicateDatabase, code == persistence.CodeDuplicateObject:
		reason = ReasonAlreadyExists
	case persistence.IsUnreachable(err):
		reason = ReasonUnreachable
	}
	return &DatabaseError{Op: op, Object: object, Reason: reason, Err: err}
}

// DBProvisioner creates tenant databases and their login roles through the central pool.
// The central user needs CREATEDB and CREATEROLE.
type DBProvisioner struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewDBProvisioner(pool *pgxpool.Pool, logger *zap.Logger) *DBProvisioner {
	if pool == nil {
		panic("db provisioner requires pool")
	}
	if logger == nil {
		panic("db provisioner requires logger")
	}
	return &DBProvisioner{pool: pool, logger: logger}
}

// Exists reports whether database is present on the server.
func (p *DBProvisioner) Exists(ctx context.Context, database string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", database).Scan(&exists)
	if err != nil {
		return false, classify("check database", database, err)
	}
	return exists, nil
}

// Ensure creates the login role and the database owned by it when missing.
func (p *DBProvisioner) Ensure(ctx context.Context, req service.DatabaseRequest) (service.DatabaseResult, error) {
	if req.Database == "" || req.Username == "" {
		return service.DatabaseResult{}, errors.New("database and username are required")
	}
	if req.Password == "" {
		return service.DatabaseResult{}, fmt.Errorf("role %s: password is required", req.Username)
	}

	var res service.DatabaseResult
	logger := p.logger.With(zap.String("tenant_id", req.TenantID), zap.String("database", req.Database))

	currentUser, err := p.currentUser(ctx)
	if err != nil {
		return res, err
	}

	// Create the role only if missing so a re-run never resets a password set by hand.
	roleExists, err := p.roleExists(ctx, req.Username)
	if err != nil {
		return res, err
	}
	role := pgx.Identifier{req.Username}.Sanitize()
	if !roleExists {
		stmt := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD %s", role, quoteLiteral(req.Password))
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return res, classify("create role", req.Username, err)
		}
		res.CreatedRole = true
		logger.Info("tenant role created", zap.String("role", req.Username))
	}
	if req.Username != currentUser {
		// required for CREATE DATABASE ... OWNER when the central user is not a superuser
		if _, err := p.pool.Exec(ctx, fmt.Sprintf("GRANT %s TO CURRENT_USER", role)); err != nil {
			return res, classify("grant role", req.Username, err)
		}
	}

	dbExists, err := p.Exists(ctx, req.Database)
	if err != nil {
		return res, err
	}
	if !dbExists {
		db := pgx.Identifier{req.Database}.Sanitize()
		// CREATE DATABASE cannot run inside a transaction block
		if _, err := p.pool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s OWNER %s", db, role)); err != nil {
			return res, classify("create database", req.Database, err)
		}
		res.CreatedDatabase = true
		if _, err := p.pool.Exec(ctx, fmt.Sprintf("REVOKE CONNECT ON DATABASE %s FROM PUBLIC", db)); err != nil {
			return res, classify("revoke connect", req.Database, err)
		}
		logger.Info("tenant database created")
	}
	return res, nil
}

// Drop removes the database (terminating open sessions) and the role as requested.
// Missing objects are not an error. The central role is never dropped.
func (p *DBProvisioner) Drop(ctx context.Context, req service.DatabaseRequest) error {
	if req.DropDatabase && req.Database != "" {
		stmt := fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", pgx.Identifier{req.Database}.Sanitize())
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return classify("drop database", req.Database, err)
		}
		p.logger.Info("tenant database dropped", zap.String("tenant_id", req.TenantID), zap.String("database", req.Database))
	}

	if !req.DropRole || req.Username == "" {
		return nil
	}
	currentUser, err := p.currentUser(ctx)
	if err != nil {
		return err
	}
	if req.Username == currentUser {
		return nil
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DROP ROLE IF EXISTS %s", pgx.Identifier{req.Username}.Sanitize())); err != nil {
		return classify("drop role", req.Username, err)
	}
	return nil
}

func (p *DBProvisioner) roleExists(ctx context.Context, role string) (bool, error) {
	var exists bool
	if err := p.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", role).Scan(&exists); err != nil {
		return false, classify("check role", role, err)
	}
	return exists, nil
}

func (p *DBProvisioner) currentUser(ctx context.Context) (string, error) {
	var user string
	if err := p.pool.QueryRow(ctx, "SELECT current_user").Scan(&user); err != nil {
		return "", classify("current user", "", err)
	}
	return user, nil
}

// quoteLiteral renders s as a SQL string literal. DDL statements do not take bind parameters.
// Backslashes switch to the E'' form so the literal reads the same whatever
// standard_conforming_strings is set to.
func quoteLiteral(s string) string {
	quoted := "'" + strings.ReplaceAll(s, "'", "''") + "'"
	if !strings.Contains(s, `\`) {
		return quoted
	}
	return "E" + strings.ReplaceAll(quoted, `\`, `\\`)
}

var _ service.DatabaseProvisioner = (*DBProvisioner)(nil)
