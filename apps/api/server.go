package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/clinichub/clinic-api/platform/go/auth"
	platformlogging "github.com/clinichub/clinic-api/platform/go/logging"
	"github.com/clinichub/clinic-api/platform/go/metrics"
	platformmiddleware "github.com/clinichub/clinic-api/platform/go/middleware"
	"github.com/clinichub/clinic-api/platform/go/problem"
	"github.com/clinichub/clinic-api/platform/go/tenant"
	tenantmiddleware "github.com/clinichub/clinic-api/platform/go/tenant/middleware"
)

// routerDeps is everything the HTTP surface needs once the stores are wired.
type routerDeps struct {
	Logger         *zap.Logger
	Spec           *openapi3.T
	Auth           func(http.Handler) http.Handler
	Lookup         tenant.Lookup
	Manager        tenantmiddleware.Initializer
	CentralDomains []string
	TenantHeaders  []string
	VerifyTenant   bool
	RequestTimeout time.Duration
	// Ready pings the central database for /readyz.
	Ready func(ctx context.Context) error

	// Admin serves /api/tenants, TenantAPI serves /api/tenant once a scope is bound and
	// Welcome serves GET / on tenant domains.
	Admin     http.Handler
	TenantAPI http.Handler
	Welcome   http.Handler
}

func newRouter(d routerDeps) http.Handler {
	identifyCfg := tenantmiddleware.Config{
		CentralDomains:   d.CentralDomains,
		Headers:          d.TenantHeaders,
		ClaimCheck:       platformauth.TenantClaimCheck,
		VerifyConnection: d.VerifyTenant,
		Logger:           d.Logger,
	}
	byDomain := tenantmiddleware.ByDomain(d.Lookup, d.Manager, identifyCfg)
	byHeader := tenantmiddleware.ByHeader(d.Lookup, d.Manager, identifyCfg)
	centralOnly := tenantmiddleware.CentralOnly(d.CentralDomains)
	validator := platformmiddleware.SpecValidator(d.Spec)

	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		platformmiddleware.DefaultCORS(),
		platformlogging.RequestLogger(d.Logger),
	)
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(centralOnly)
		r.Get("/readyz", readyHandler(d.Ready, d.Logger))
		r.Handle("/metrics", metrics.Handler())
		registerDocsRoutes(r, d.Spec, d.Logger)
	})

	// Central hosts get the platform landing document, tenant hosts their clinic.
	r.Method(http.MethodGet, "/", tenantmiddleware.SplitCentral(d.CentralDomains,
		http.HandlerFunc(centralWelcome),
		byDomain(d.Welcome),
	))

	r.Route("/api", func(api chi.Router) {
		api.Use(d.Auth, platformmiddleware.RequestTrace)

		api.Group(func(admin chi.Router) {
			admin.Use(centralOnly, validator, platformauth.RequireAdmin)
			admin.Mount("/tenants", d.Admin)
		})

		api.Group(func(scoped chi.Router) {
			scoped.Use(validator)
			scoped.Mount("/tenant", tenantmiddleware.SplitCentral(d.CentralDomains,
				byHeader(d.TenantAPI),
				byDomain(d.TenantAPI),
			))
		})
	})

	return r
}

func readyHandler(ready func(ctx context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				platformlogging.FromRequest(r, logger).Warn("readiness check failed", zap.Error(err))
				problem.Write(w, problem.New(http.StatusServiceUnavailable, problem.TypeUnavailable,
					"Not ready", "central database unreachable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func centralWelcome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "Clinic API",
		"docs":    "/docs",
	})
}
