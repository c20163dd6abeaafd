package persistence

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// ErrNotFound is returned when a central record is missing.
var ErrNotFound = errors.New("record not found")

// PostgreSQL error codes inspected by the persistence layer.
const (
	codeUniqueViolation       = "23505"
	codeForeignKeyViolation   = "23503"
	codeInvalidPassword       = "28P01"
	codeInvalidAuthorization  = "28000"
	codeInvalidCatalogName    = "3D000"
	CodeInsufficientPrivilege = "42501"
	CodeDuplicateDatabase     = "42P04"
	CodeDuplicateObject       = "42710"
)

// IsUniqueViolation reports whether err is a unique constraint violation, optionally on constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// PgErrorCode returns the SQLSTATE carried by err, if any.
func PgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUnreachable reports dial, TLS and connect-timeout failures.
func IsUnreachable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr) && PgErrorCode(err) == ""
}

// classifyConnectError reports whether err is a failure to establish a session and why.
func classifyConnectError(err error) (tenant.ConnectionReason, bool) {
	if err == nil || errors.Is(err, context.Canceled) {
		return "", false
	}

	switch PgErrorCode(err) {
	case codeInvalidPassword, codeInvalidAuthorization:
		return tenant.ReasonAuthFailed, true
	case codeInvalidCatalogName:
		return tenant.ReasonUnknownDatabase, true
	}

	if IsUnreachable(err) {
		return tenant.ReasonUnreachable, true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return tenant.ReasonOther, true
	}
	return "", false
}
