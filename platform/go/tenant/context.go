package tenant

import (
	"context"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
)

// Space captures the resolved tenant routing metadata for a unit of work.
type Space struct {
	TenantID string
	Name     string
	Database string
}

// DB is the minimal surface a tenant-bound connection handle exposes to data access code.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Scope binds a Space to the connection handle serving it. A Scope is created by the
// tenancy manager for exactly one unit of work and released when that unit ends.
type Scope struct {
	space     Space
	db        DB
	onRelease func()
	released  atomic.Bool
}

// NewScope returns an active scope.
func NewScope(space Space, db DB) *Scope {
	return NewScopeWithRelease(space, db, nil)
}

// NewScopeWithRelease returns an active scope that runs onRelease exactly once, on the
// first Release.
func NewScopeWithRelease(space Space, db DB, onRelease func()) *Scope {
	if db == nil {
		panic("tenant scope requires db")
	}
	return &Scope{space: space, db: db, onRelease: onRelease}
}

// Space returns the routing metadata of the scope.
func (s *Scope) Space() Space {
	return s.space
}

// DB returns the bound handle, or ErrNoTenantScope once the scope has been released.
func (s *Scope) DB() (DB, error) {
	if s == nil || s.released.Load() {
		return nil, ErrNoTenantScope
	}
	return s.db, nil
}

// Active reports whether the scope still serves queries.
func (s *Scope) Active() bool {
	return s != nil && !s.released.Load()
}

// Release detaches the scope from its handle. It reports true only for the first call.
func (s *Scope) Release() bool {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return false
	}
	if s.onRelease != nil {
		s.onRelease()
	}
	return true
}

type ctxKey string

const scopeKey ctxKey = "CLINIC_TENANT_SCOPE"

// WithScope returns a derived context carrying the tenant scope.
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// ScopeFromContext extracts the scope stored on the context, active or not.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(scopeKey).(*Scope)
	return scope, ok && scope != nil
}

// FromContext extracts the tenant Space when an active scope is present.
func FromContext(ctx context.Context) (Space, bool) {
	scope, ok := ScopeFromContext(ctx)
	if !ok || !scope.Active() {
		return Space{}, false
	}
	return scope.Space(), true
}

// DBFromContext returns the tenant handle of the active scope. It never falls back to the
// central database.
func DBFromContext(ctx context.Context) (DB, error) {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		return nil, ErrNoTenantScope
	}
	return scope.DB()
}
