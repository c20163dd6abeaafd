package tenancy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clinichub/clinic-api/platform/go/logging"
	"github.com/clinichub/clinic-api/platform/go/metrics"
	"github.com/clinichub/clinic-api/platform/go/persistence"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// Resolver turns a tenant record into connection parameters.
type Resolver interface {
	Resolve(rec tenant.Record) (tenant.Descriptor, error)
}

// Handle is a bound tenant connection. Release gives back the reference taken by Bind.
type Handle interface {
	tenant.DB
	Ping(ctx context.Context) error
	Release()
}

// Binder hands out tenant connection handles.
type Binder interface {
	Bind(tenantID string, d tenant.Descriptor) Handle
}

type registryBinder struct {
	registry *persistence.Registry
}

func (b registryBinder) Bind(tenantID string, d tenant.Descriptor) Handle {
	return b.registry.Bind(tenantID, d)
}

// RegistryBinder adapts the connection registry.
func RegistryBinder(registry *persistence.Registry) Binder {
	if registry == nil {
		panic("registry binder requires registry")
	}
	return registryBinder{registry: registry}
}

// Manager is the only path that binds a unit of work to a tenant database.
type Manager struct {
	resolver Resolver
	binder   Binder
	logger   *zap.Logger
}

func NewManager(resolver Resolver, binder Binder, logger *zap.Logger) *Manager {
	if resolver == nil {
		panic("tenancy manager requires resolver")
	}
	if binder == nil {
		panic("tenancy manager requires binder")
	}
	if logger == nil {
		panic("tenancy manager requires logger")
	}
	return &Manager{resolver: resolver, binder: binder, logger: logger}
}

// Initialize binds rec to a new scope on the returned context. An active scope already on
// ctx is released first; scopes are replaced, never stacked. The returned dispose func is
// idempotent and must be deferred by the caller.
func (m *Manager) Initialize(ctx context.Context, rec tenant.Record) (context.Context, func(), error) {
	if prev, ok := tenant.ScopeFromContext(ctx); ok && prev.Release() {
		m.logger.Debug("tenant scope replaced",
			zap.String("previous_tenant_id", prev.Space().TenantID),
			zap.String("tenant_id", rec.ID),
		)
	}

	d, err := m.resolver.Resolve(rec)
	if err != nil {
		return ctx, func() {}, err
	}
	if err := d.Validate(); err != nil {
		return ctx, func() {}, fmt.Errorf("tenant %q: %w", rec.ID, err)
	}

	handle := m.binder.Bind(rec.ID, d)
	space := tenant.Space{TenantID: rec.ID, Name: rec.Name, Database: d.Database}
	scope := tenant.NewScopeWithRelease(space, handle, handle.Release)

	logger := m.logger
	if l, ok := logging.FromContext(ctx); ok {
		logger = l
	}
	ctx = tenant.WithScope(ctx, scope)
	ctx = logging.Promote(ctx, logger.With(zap.String("tenant_id", rec.ID)))

	return ctx, func() { scope.Release() }, nil
}

// Run executes fn inside a scope for rec. The scope is disposed on every exit path.
func (m *Manager) Run(ctx context.Context, rec tenant.Record, fn func(ctx context.Context) error) error {
	scoped, dispose, err := m.Initialize(ctx, rec)
	if err != nil {
		return err
	}
	defer dispose()
	return fn(scoped)
}

// Ping checks that rec's database accepts sessions with its resolved credentials.
func (m *Manager) Ping(ctx context.Context, rec tenant.Record) error {
	return m.Run(ctx, rec, func(ctx context.Context) error {
		db, err := tenant.DBFromContext(ctx)
		if err != nil {
			return err
		}
		pinger, ok := db.(interface{ Ping(context.Context) error })
		if !ok {
			return errors.New("tenant handle cannot ping")
		}
		return pinger.Ping(ctx)
	})
}

// Failure records one tenant a batch could not process.
type Failure struct {
	TenantID string
	Err      error
}

// Report summarises a ForEach run.
type Report struct {
	Succeeded []string
	Failed    []Failure
	Skipped   []string
}

// OK reports whether every tenant succeeded.
func (r Report) OK() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

// ForEach runs fn once per tenant, each inside its own scope. A failing tenant never stops
// the batch; cancelling ctx does, and the remaining tenants are reported as skipped.
func (m *Manager) ForEach(ctx context.Context, operation string, recs []tenant.Record, fn func(ctx context.Context, rec tenant.Record) error) Report {
	var report Report
	for i, rec := range recs {
		if ctx.Err() != nil {
			for _, rest := range recs[i:] {
				report.Skipped = append(report.Skipped, rest.ID)
			}
			metrics.BatchTenants.WithLabelValues(operation, "skipped").Add(float64(len(recs) - i))
			m.logger.Warn("batch cancelled",
				zap.String("operation", operation),
				zap.Int("skipped", len(recs)-i),
				zap.Error(ctx.Err()),
			)
			break
		}

		logger := m.logger.With(zap.String("operation", operation), zap.String("tenant_id", rec.ID))
		if err := m.runIsolated(ctx, rec, fn); err != nil {
			report.Failed = append(report.Failed, Failure{TenantID: rec.ID, Err: err})
			metrics.BatchTenants.WithLabelValues(operation, "failed").Inc()
			logger.Error("tenant failed", zap.Error(err))
			continue
		}
		report.Succeeded = append(report.Succeeded, rec.ID)
		metrics.BatchTenants.WithLabelValues(operation, "succeeded").Inc()
		logger.Info("tenant done")
	}
	return report
}

// runIsolated turns a panic in fn into an error so one tenant cannot abort the batch.
func (m *Manager) runIsolated(ctx context.Context, rec tenant.Record, fn func(ctx context.Context, rec tenant.Record) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return m.Run(ctx, rec, func(ctx context.Context) error {
		return fn(ctx, rec)
	})
}
