package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinichub/clinic-api/platform/go/metrics"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// RegistryConfig tunes the per-tenant pools opened by the Registry.
type RegistryConfig struct {
	// Base is the central pool config; TLS settings and runtime params are inherited from it.
	Base            *pgxpool.Config
	MaxConns        int32
	ConnectTimeout  time.Duration
	MaxConnIdleTime time.Duration
	// MaxHandles caps the number of bound tenants; the least recently bound is purged first.
	// Zero means unlimited.
	MaxHandles int
}

// Registry holds one connection handle per tenant. Binding a tenant whose descriptor
// changed purges the previous handle before the new one is configured, so a stale
// session can never serve the new parameters.
type Registry struct {
	cfg    RegistryConfig
	logger *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	closing sync.WaitGroup
	now     func() time.Time
	open    func(cfg *pgxpool.Config) (pool, error)
}

// pool is the subset of *pgxpool.Pool used by handles.
type pool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// NewRegistry panics when the base config or logger is missing.
func NewRegistry(cfg RegistryConfig, logger *zap.Logger) *Registry {
	if cfg.Base == nil {
		panic("registry requires base pool config")
	}
	if logger == nil {
		panic("registry requires logger")
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		handles: make(map[string]*Handle),
		now:     time.Now,
		open:    openLazyPool,
	}
}

// openLazyPool configures a pool without dialing; the first acquire opens the session.
func openLazyPool(cfg *pgxpool.Config) (pool, error) {
	return pgxpool.NewWithConfig(context.Background(), cfg)
}

// Handle is a tenant-bound connection handle. It is reference counted by the units of
// work that bound it; a purged handle closes once the last of them releases it.
type Handle struct {
	tenantID   string
	descriptor tenant.Descriptor
	registry   *Registry
	pool       pool
	openErr    error

	// guarded by registry.mu
	refs      int
	stale     bool
	lastBound time.Time
}

// Bind returns the handle for tenantID configured with exactly d, taking a reference
// the caller must give back with Release. Bind never dials and never fails; problems
// surface on the first query as tenant.ConnectionError.
func (r *Registry) Bind(tenantID string, d tenant.Descriptor) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[tenantID]; ok {
		if h.descriptor == d && h.openErr == nil {
			h.refs++
			h.lastBound = r.now()
			return h
		}
		r.purgeLocked(h)
	}

	h := &Handle{tenantID: tenantID, descriptor: d, registry: r, refs: 1, lastBound: r.now()}
	h.pool, h.openErr = r.open(r.poolConfig(d))
	if h.openErr != nil {
		h.openErr = fmt.Errorf("configure tenant pool: %w", h.openErr)
	}
	r.handles[tenantID] = h
	r.evictLocked(h)
	metrics.TenantHandles.Set(float64(len(r.handles)))

	r.logger.Debug("tenant connection bound",
		zap.String("tenant_id", tenantID),
		zap.Stringer("descriptor", d),
	)
	return h
}

// Purge invalidates the handle bound to tenantID, if any. Safe to call repeatedly.
func (r *Registry) Purge(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[tenantID]; ok {
		r.purgeLocked(h)
		metrics.TenantHandles.Set(float64(len(r.handles)))
	}
}

// Bound reports whether a live handle exists for tenantID.
func (r *Registry) Bound(tenantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[tenantID]
	return ok
}

// Close purges every handle and waits until their pools are closed.
func (r *Registry) Close() {
	r.mu.Lock()
	for _, h := range r.handles {
		r.purgeLocked(h)
	}
	metrics.TenantHandles.Set(0)
	r.mu.Unlock()
	r.closing.Wait()
}

func (r *Registry) poolConfig(d tenant.Descriptor) *pgxpool.Config {
	cfg := r.cfg.Base.Copy()
	cfg.MinConns = 0
	if r.cfg.MaxConns > 0 {
		cfg.MaxConns = r.cfg.MaxConns
	}
	if r.cfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = r.cfg.MaxConnIdleTime
	}

	cc := cfg.ConnConfig
	cc.Host = d.Host
	cc.Port = d.Port
	cc.Database = d.Database
	cc.User = d.Username
	cc.Password = d.Password
	if r.cfg.ConnectTimeout > 0 {
		cc.ConnectTimeout = r.cfg.ConnectTimeout
	}
	for _, fb := range cc.Fallbacks {
		fb.Host = d.Host
		fb.Port = d.Port
	}
	return cfg
}

// purgeLocked removes h from the map first, then closes it once unreferenced.
func (r *Registry) purgeLocked(h *Handle) {
	if cur, ok := r.handles[h.tenantID]; ok && cur == h {
		delete(r.handles, h.tenantID)
	}
	if h.stale {
		return
	}
	h.stale = true
	if h.refs == 0 {
		r.closeAsync(h)
	}
}

func (r *Registry) evictLocked(keep *Handle) {
	if r.cfg.MaxHandles <= 0 {
		return
	}
	for len(r.handles) > r.cfg.MaxHandles {
		var oldest *Handle
		for _, h := range r.handles {
			if h == keep {
				continue
			}
			if oldest == nil || h.lastBound.Before(oldest.lastBound) {
				oldest = h
			}
		}
		if oldest == nil {
			return
		}
		r.logger.Debug("evicting tenant connection", zap.String("tenant_id", oldest.tenantID))
		r.purgeLocked(oldest)
	}
}

func (r *Registry) closeAsync(h *Handle) {
	if h.pool == nil {
		return
	}
	p := h.pool
	r.closing.Add(1)
	go func() {
		defer r.closing.Done()
		p.Close()
	}()
}

// TenantID returns the tenant the handle is bound to.
func (h *Handle) TenantID() string { return h.tenantID }

// Descriptor returns the parameters the handle dials with.
func (h *Handle) Descriptor() tenant.Descriptor { return h.descriptor }

// Release gives back the reference taken by Bind.
func (h *Handle) Release() {
	r := h.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
	if h.refs == 0 && h.stale {
		r.closeAsync(h)
	}
}

// BeginTx starts a transaction on the tenant database. Session establishment failures
// are reported as tenant.ConnectionError and purge the handle.
func (h *Handle) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if h.openErr != nil {
		return nil, h.connectionFailure(ctx, h.openErr)
	}
	tx, err := h.pool.BeginTx(ctx, txOptions)
	if err != nil {
		return nil, h.connectionFailure(ctx, err)
	}
	return tx, nil
}

// Ping verifies the tenant database accepts sessions with the bound credentials.
func (h *Handle) Ping(ctx context.Context) error {
	if h.openErr != nil {
		return h.connectionFailure(ctx, h.openErr)
	}
	if err := h.pool.Ping(ctx); err != nil {
		return h.connectionFailure(ctx, err)
	}
	return nil
}

// Pool exposes the underlying pgx pool, e.g. for the database/sql bridge used by migrations.
func (h *Handle) Pool() (*pgxpool.Pool, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	p, ok := h.pool.(*pgxpool.Pool)
	if !ok {
		return nil, fmt.Errorf("tenant %q handle is not backed by a pgx pool", h.tenantID)
	}
	return p, nil
}

func (h *Handle) connectionFailure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("begin tx: %w", ctxErr)
	}

	reason, ok := classifyConnectError(err)
	if !ok {
		if h.openErr != nil {
			reason = tenant.ReasonOther
		} else {
			return fmt.Errorf("begin tx: %w", err)
		}
	}

	metrics.TenantConnectFailures.WithLabelValues(string(reason)).Inc()
	h.registry.logger.Warn("tenant connection failed",
		zap.String("tenant_id", h.tenantID),
		zap.Stringer("descriptor", h.descriptor),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)

	h.registry.mu.Lock()
	h.registry.purgeLocked(h)
	metrics.TenantHandles.Set(float64(len(h.registry.handles)))
	h.registry.mu.Unlock()

	return &tenant.ConnectionError{TenantID: h.tenantID, Reason: reason, Err: err}
}

var _ tenant.DB = (*Handle)(nil)
