package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/clinichub/clinic-api/platform/go/logging"
	"github.com/clinichub/clinic-api/platform/go/metrics"
	"github.com/clinichub/clinic-api/platform/go/problem"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// Identification strategies, also used as metric labels.
const (
	StrategyDomain = "domain"
	StrategyHeader = "header"
)

// DefaultHeaders are read by ByHeader when Config.Headers is empty. X-Clinic-ID is an alias.
var DefaultHeaders = []string{"X-Tenant-ID", "X-Clinic-ID"}

// Initializer binds a unit of work to a tenant. Implemented by tenancy.Manager.
type Initializer interface {
	Initialize(ctx context.Context, rec tenant.Record) (context.Context, func(), error)
}

// ClaimCheck reports whether the caller may act on tenantID. Returning false produces
// the same response as an unknown tenant.
type ClaimCheck func(r *http.Request, tenantID string) bool

// Config controls middleware behavior.
type Config struct {
	CentralDomains []string
	// Headers lists the identification headers read by ByHeader, in priority order.
	Headers    []string
	ClaimCheck ClaimCheck
	// VerifyConnection pings the tenant database before the handler runs so connection
	// failures are rejected up front.
	VerifyConnection bool
	Logger           *zap.Logger
}

// ByDomain identifies the tenant from the request host. Central hosts are rejected;
// route them with SplitCentral instead.
func ByDomain(lookup tenant.Lookup, manager Initializer, cfg Config) func(http.Handler) http.Handler {
	central := NewCentralSet(cfg.CentralDomains)
	find := func(r *http.Request) (tenant.Record, error) {
		host := tenant.NormalizeHost(r.Host)
		if host == "" {
			return tenant.Record{}, tenant.ErrMissingIdentification
		}
		if central.Contains(host) {
			return tenant.Record{}, tenant.ErrCentralDomain
		}
		return lookup.FindByDomain(r.Context(), host)
	}
	return identify(StrategyDomain, lookup, manager, cfg, find)
}

// ByHeader identifies the tenant from an explicit header. Conflicting values across the
// configured headers are rejected as ambiguous.
func ByHeader(lookup tenant.Lookup, manager Initializer, cfg Config) func(http.Handler) http.Handler {
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = DefaultHeaders
	}
	find := func(r *http.Request) (tenant.Record, error) {
		id, err := headerTenantID(r, headers)
		if err != nil {
			return tenant.Record{}, err
		}
		if !tenant.ValidID(id) {
			return tenant.Record{}, tenant.ErrTenantNotFound
		}
		return lookup.FindByID(r.Context(), id)
	}
	return identify(StrategyHeader, lookup, manager, cfg, find)
}

func headerTenantID(r *http.Request, headers []string) (string, error) {
	var id string
	for _, name := range headers {
		for _, raw := range r.Header.Values(name) {
			v := strings.TrimSpace(raw)
			if v == "" {
				continue
			}
			if id != "" && v != id {
				return "", tenant.ErrMissingIdentification
			}
			id = v
		}
	}
	if id == "" {
		return "", tenant.ErrMissingIdentification
	}
	return id, nil
}

func identify(strategy string, lookup tenant.Lookup, manager Initializer, cfg Config, find func(*http.Request) (tenant.Record, error)) func(http.Handler) http.Handler {
	if lookup == nil {
		panic("tenant middleware: lookup is required")
	}
	if manager == nil {
		panic("tenant middleware: manager is required")
	}
	base := cfg.Logger
	if base == nil {
		base = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.FromRequest(r, base).With(zap.String("strategy", strategy))

			rec, err := find(r)
			if err == nil && cfg.ClaimCheck != nil && !cfg.ClaimCheck(r, rec.ID) {
				logger.Info("tenant claim mismatch", zap.String("tenant_id", rec.ID))
				metrics.TenantResolutions.WithLabelValues(strategy, "claim_mismatch").Inc()
				problem.Write(w, problem.TenantNotFound())
				return
			}
			if err != nil {
				reject(w, logger, strategy, err)
				return
			}

			ctx, dispose, err := manager.Initialize(r.Context(), rec)
			defer dispose()
			if err != nil {
				reject(w, logger, strategy, err)
				return
			}

			if cfg.VerifyConnection {
				if err := ping(ctx); err != nil {
					reject(w, logger, strategy, err)
					return
				}
			}

			metrics.TenantResolutions.WithLabelValues(strategy, "resolved").Inc()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ping(ctx context.Context) error {
	db, err := tenant.DBFromContext(ctx)
	if err != nil {
		return err
	}
	if p, ok := db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func reject(w http.ResponseWriter, logger *zap.Logger, strategy string, err error) {
	p, ok := problem.FromTenantError(err)
	if !ok {
		logger.Error("tenant identification failed", zap.Error(err))
		metrics.TenantResolutions.WithLabelValues(strategy, "error").Inc()
		problem.Write(w, problem.New(http.StatusInternalServerError, problem.TypeInternal,
			"Internal server error", "an unexpected error occurred"))
		return
	}

	outcome := "not_found"
	switch {
	case errors.Is(err, tenant.ErrMissingIdentification):
		outcome = "missing"
	case errors.Is(err, tenant.ErrTenantConnectionFailed):
		outcome = "connection_failed"
		logger.Warn("tenant connection rejected", zap.Error(err))
	default:
		logger.Info("tenant not identified", zap.Error(err))
	}
	metrics.TenantResolutions.WithLabelValues(strategy, outcome).Inc()
	problem.Write(w, p)
}
