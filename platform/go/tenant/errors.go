package tenant

import (
	"errors"
	"fmt"
)

// Errors shared by identification, resolution and connection code.
var (
	ErrTenantNotFound         = errors.New("tenant not found")
	ErrMissingIdentification  = errors.New("tenant identification missing")
	ErrTenantConnectionFailed = errors.New("tenant connection failed")
	ErrNoTenantScope          = errors.New("no active tenant scope")
	ErrCentralDomain          = errors.New("central domain is not a tenant domain")
)

// ConnectionReason classifies why a tenant connection could not be established.
type ConnectionReason string

const (
	ReasonAuthFailed      ConnectionReason = "auth_failed"
	ReasonUnknownDatabase ConnectionReason = "unknown_database"
	ReasonUnreachable     ConnectionReason = "unreachable"
	ReasonOther           ConnectionReason = "other"
)

// ConnectionError reports a failed connection to a tenant database. It matches
// ErrTenantConnectionFailed with errors.Is.
type ConnectionError struct {
	TenantID string
	Reason   ConnectionReason
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tenant %q connection failed (%s): %v", e.TenantID, e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrTenantConnectionFailed, e.Err}
}
