package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clinichub/clinic-api/contracts"
	platformauth "github.com/clinichub/clinic-api/platform/go/auth"
	"github.com/clinichub/clinic-api/platform/go/auth/devtoken"
	"github.com/clinichub/clinic-api/platform/go/problem"
	"github.com/clinichub/clinic-api/platform/go/tenancy"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

var testSecret = []byte("router-test-secret")

type stubLookup map[string]tenant.Record

func (l stubLookup) FindByID(_ context.Context, id string) (tenant.Record, error) {
	for _, rec := range l {
		if rec.ID == id {
			return rec, nil
		}
	}
	return tenant.Record{}, tenant.ErrTenantNotFound
}

func (l stubLookup) FindByDomain(_ context.Context, domain string) (tenant.Record, error) {
	rec, ok := l[domain]
	if !ok {
		return tenant.Record{}, tenant.ErrTenantNotFound
	}
	return rec, nil
}

type stubHandle struct{}

func (stubHandle) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}
func (stubHandle) Ping(context.Context) error { return nil }
func (stubHandle) Release()                   {}

type stubBinder struct{}

func (stubBinder) Bind(string, tenant.Descriptor) tenancy.Handle { return stubHandle{} }

func scopedTenant(w http.ResponseWriter, r *http.Request) {
	space, ok := tenant.FromContext(r.Context())
	if !ok {
		http.Error(w, "no scope", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"tenant_id": space.TenantID})
}

func newTestRouter(t *testing.T, ready func(context.Context) error) http.Handler {
	t.Helper()

	logger := zaptest.NewLogger(t)
	spec, err := contracts.Load()
	require.NoError(t, err)

	resolver := tenant.NewCredentialResolver(tenant.CredentialConfig{
		Prefix: "clinic_", Password: "secret", Host: "db.internal",
	})

	admin := chi.NewRouter()
	admin.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tenantAPI := chi.NewRouter()
	tenantAPI.Get("/context", scopedTenant)

	return newRouter(routerDeps{
		Logger: logger,
		Spec:   spec,
		Auth:   platformauth.JWT(platformauth.HS256Verifier(testSecret), nil),
		Lookup: stubLookup{
			"alpha.clinic.test": {ID: "alpha", Name: "Alpha Dental"},
			"beta.clinic.test":  {ID: "beta", Name: "Beta Care"},
		},
		Manager:        tenancy.NewManager(resolver, stubBinder{}, logger),
		CentralDomains: []string{"admin.clinic.test", "localhost"},
		TenantHeaders:  []string{"X-Tenant-ID", "X-Clinic-ID"},
		Ready:          ready,
		Admin:          admin,
		TenantAPI:      tenantAPI,
		Welcome:        http.HandlerFunc(scopedTenant),
	})
}

func token(t *testing.T, isAdmin bool, tenantID string) string {
	t.Helper()
	tok, err := devtoken.BuildHS256(devtoken.Params{
		UserID:   "user-1",
		Email:    "user@clinic.test",
		IsAdmin:  isAdmin,
		TenantID: tenantID,
	}, testSecret, time.Now())
	require.NoError(t, err)
	return tok
}

func serve(h http.Handler, method, url, bearer string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func tenantOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["tenant_id"]
}

func TestAdminRoutesAreCentralAndAdminOnly(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, nil)

	rec := serve(h, http.MethodGet, "http://admin.clinic.test/api/tenants", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, http.MethodGet, "http://admin.clinic.test/api/tenants", token(t, false, ""), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h, http.MethodGet, "http://admin.clinic.test/api/tenants", token(t, true, ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodGet, "http://alpha.clinic.test/api/tenants", token(t, true, ""), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
}

func TestTenantAPIOnCentralHostUsesHeader(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, nil)

	rec := serve(h, http.MethodGet, "http://admin.clinic.test/api/tenant/context", "", map[string]string{"X-Tenant-ID": "alpha"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alpha", tenantOf(t, rec))

	rec = serve(h, http.MethodGet, "http://localhost:3000/api/tenant/context", "", map[string]string{"X-Clinic-ID": "beta"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "beta", tenantOf(t, rec))

	rec = serve(h, http.MethodGet, "http://admin.clinic.test/api/tenant/context", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodGet, "http://admin.clinic.test/api/tenant/context", "", map[string]string{"X-Tenant-ID": "gamma"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTenantAPIOnTenantHostUsesDomain(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, nil)

	rec := serve(h, http.MethodGet, "http://alpha.clinic.test/api/tenant/context", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alpha", tenantOf(t, rec))

	rec = serve(h, http.MethodGet, "http://beta.clinic.test/api/tenant/context", token(t, false, "beta"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "beta", tenantOf(t, rec))

	unknown := serve(h, http.MethodGet, "http://gamma.clinic.test/api/tenant/context", "", nil)
	require.Equal(t, http.StatusNotFound, unknown.Code)

	// A token issued for another clinic is indistinguishable from an unknown tenant.
	mismatch := serve(h, http.MethodGet, "http://alpha.clinic.test/api/tenant/context", token(t, false, "beta"), nil)
	require.Equal(t, http.StatusNotFound, mismatch.Code)
	require.JSONEq(t, unknown.Body.String(), mismatch.Body.String())
}

func TestWelcomeDependsOnHost(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, nil)

	rec := serve(h, http.MethodGet, "http://admin.clinic.test/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Clinic API")

	rec = serve(h, http.MethodGet, "http://alpha.clinic.test/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alpha", tenantOf(t, rec))
}

func TestOperationalRoutes(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, func(context.Context) error { return errors.New("connection refused") })

	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "http://alpha.clinic.test/healthz", "", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodGet, "http://admin.clinic.test/readyz", "", nil).Code)
	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "http://admin.clinic.test/metrics", "", nil).Code)
	require.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "http://alpha.clinic.test/metrics", "", nil).Code)
	require.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "http://alpha.clinic.test/docs", "", nil).Code)

	rec := serve(h, http.MethodGet, "http://admin.clinic.test/docs/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "3.0.3", doc["openapi"])
}

func TestBuildAuthMiddleware(t *testing.T) {
	t.Parallel()
	logger := zaptest.NewLogger(t)

	_, err := buildAuthMiddleware(context.Background(), config{AuthProvider: "jwt"}, logger)
	require.Error(t, err)

	_, err = buildAuthMiddleware(context.Background(), config{AuthProvider: "saml"}, logger)
	require.Error(t, err)

	mw, err := buildAuthMiddleware(context.Background(), config{AuthProvider: "dev"}, logger)
	require.NoError(t, err)
	require.NotNil(t, mw)
}
