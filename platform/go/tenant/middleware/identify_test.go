package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clinichub/clinic-api/platform/go/problem"
	"github.com/clinichub/clinic-api/platform/go/tenancy"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

type stubLookup struct {
	byID     map[string]tenant.Record
	byDomain map[string]tenant.Record
	err      error
}

func (l stubLookup) FindByID(_ context.Context, id string) (tenant.Record, error) {
	if l.err != nil {
		return tenant.Record{}, l.err
	}
	rec, ok := l.byID[id]
	if !ok {
		return tenant.Record{}, tenant.ErrTenantNotFound
	}
	return rec, nil
}

func (l stubLookup) FindByDomain(_ context.Context, domain string) (tenant.Record, error) {
	if l.err != nil {
		return tenant.Record{}, l.err
	}
	rec, ok := l.byDomain[domain]
	if !ok {
		return tenant.Record{}, tenant.ErrTenantNotFound
	}
	return rec, nil
}

type stubHandle struct {
	descriptor tenant.Descriptor
	pingErr    error
	released   bool
}

func (h *stubHandle) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}
func (h *stubHandle) Ping(context.Context) error { return h.pingErr }
func (h *stubHandle) Release()                   { h.released = true }

type stubBinder struct {
	mu      sync.Mutex
	bound   []*stubHandle
	pingErr error
}

func (b *stubBinder) Bind(_ string, d tenant.Descriptor) tenancy.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := &stubHandle{descriptor: d, pingErr: b.pingErr}
	b.bound = append(b.bound, h)
	return h
}

var (
	clinicX = tenant.Record{ID: "clinicx", Name: "Clinic X"}
	clinicY = tenant.Record{ID: "clinicy", Name: "Clinic Y"}
	lookup  = stubLookup{
		byID:     map[string]tenant.Record{"clinicx": clinicX, "clinicy": clinicY},
		byDomain: map[string]tenant.Record{"clinicx.example.com": clinicX},
	}
	centralDomains = []string{"api.example.com", "localhost"}
)

func newTestManager(t *testing.T) (*tenancy.Manager, *stubBinder) {
	t.Helper()
	resolver := tenant.NewCredentialResolver(tenant.CredentialConfig{
		Prefix: "clinic_", Password: "secret", Host: "db.internal", Port: 5432,
	})
	binder := &stubBinder{}
	return tenancy.NewManager(resolver, binder, zaptest.NewLogger(t)), binder
}

// recordingHandler captures the request context the downstream handler saw.
type recordingHandler struct {
	called bool
	ctx    context.Context
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.ctx = r.Context()
	w.WriteHeader(http.StatusNoContent)
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem.Details {
	t.Helper()
	require.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
	var p problem.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestByDomainInitializesTenantForMappedHost(t *testing.T) {
	t.Parallel()

	manager, binder := newTestManager(t)
	next := &recordingHandler{}
	handler := ByDomain(lookup, manager, Config{CentralDomains: centralDomains, Logger: zaptest.NewLogger(t)})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/tenant/context", nil)
	req.Host = "ClinicX.Example.com:443"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, next.called)
	require.Len(t, binder.bound, 1)
	require.Equal(t, "clinic_clinicx", binder.bound[0].descriptor.Database)

	// the scope ended with the request
	require.True(t, binder.bound[0].released)
	_, err := tenant.DBFromContext(next.ctx)
	require.ErrorIs(t, err, tenant.ErrNoTenantScope)
}

func TestByDomainRejectsCentralAndUnknownHosts(t *testing.T) {
	t.Parallel()

	for _, host := range []string{"api.example.com", "unknown.example.com"} {
		manager, binder := newTestManager(t)
		next := &recordingHandler{}
		handler := ByDomain(lookup, manager, Config{CentralDomains: centralDomains})(next)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = host
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code, host)
		require.Equal(t, problem.KindTenantNotFound, decodeProblem(t, rec).Kind)
		require.False(t, next.called)
		require.Empty(t, binder.bound)
	}
}

func TestSplitCentralServesCentralHostWithoutTenant(t *testing.T) {
	t.Parallel()

	manager, binder := newTestManager(t)
	central := &recordingHandler{}
	tenantNext := &recordingHandler{}
	handler := SplitCentral(centralDomains, central, ByDomain(lookup, manager, Config{CentralDomains: centralDomains})(tenantNext))

	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Host = "api.example.com"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.True(t, central.called)
	require.False(t, tenantNext.called)
	require.Empty(t, binder.bound)
	_, ok := tenant.ScopeFromContext(central.ctx)
	require.False(t, ok)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "clinicx.example.com"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, tenantNext.called)
}

func TestByHeaderUnknownTenantNeverBinds(t *testing.T) {
	t.Parallel()

	manager, binder := newTestManager(t)
	next := &recordingHandler{}
	handler := ByHeader(lookup, manager, Config{})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/tenant/patients", nil)
	req.Header.Set("X-Tenant-ID", "missing_tenant")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, problem.KindTenantNotFound, decodeProblem(t, rec).Kind)
	require.False(t, next.called)
	require.Empty(t, binder.bound)
}

func TestByHeaderIdentification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		headers map[string][]string
		status  int
		tenant  string
	}{
		{name: "primary header", headers: map[string][]string{"X-Tenant-ID": {"clinicx"}}, status: http.StatusNoContent, tenant: "clinicx"},
		{name: "alias header", headers: map[string][]string{"X-Clinic-ID": {"clinicy"}}, status: http.StatusNoContent, tenant: "clinicy"},
		{name: "same value twice", headers: map[string][]string{"X-Tenant-ID": {"clinicx"}, "X-Clinic-ID": {"clinicx"}}, status: http.StatusNoContent, tenant: "clinicx"},
		{name: "missing", headers: map[string][]string{}, status: http.StatusBadRequest},
		{name: "blank", headers: map[string][]string{"X-Tenant-ID": {"  "}}, status: http.StatusBadRequest},
		{name: "conflicting", headers: map[string][]string{"X-Tenant-ID": {"clinicx"}, "X-Clinic-ID": {"clinicy"}}, status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			manager, _ := newTestManager(t)
			var seen string
			handler := ByHeader(lookup, manager, Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				space, ok := tenant.FromContext(r.Context())
				require.True(t, ok)
				seen = space.TenantID
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/tenant/context", nil)
			for name, values := range tc.headers {
				for _, v := range values {
					req.Header.Add(name, v)
				}
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusBadRequest {
				require.Equal(t, problem.KindMissingIdentification, decodeProblem(t, rec).Kind)
				return
			}
			require.Equal(t, tc.tenant, seen)
		})
	}
}

func TestClaimMismatchLooksLikeNotFound(t *testing.T) {
	t.Parallel()

	manager, binder := newTestManager(t)
	cfg := Config{ClaimCheck: func(r *http.Request, tenantID string) bool { return tenantID == "clinicy" }}
	handler := ByHeader(lookup, manager, cfg)(&recordingHandler{})

	mismatch := httptest.NewRequest(http.MethodGet, "/api/tenant/context", nil)
	mismatch.Header.Set("X-Tenant-ID", "clinicx")
	mismatchRec := httptest.NewRecorder()
	handler.ServeHTTP(mismatchRec, mismatch)

	unknown := httptest.NewRequest(http.MethodGet, "/api/tenant/context", nil)
	unknown.Header.Set("X-Tenant-ID", "nobody")
	unknownRec := httptest.NewRecorder()
	handler.ServeHTTP(unknownRec, unknown)

	require.Equal(t, http.StatusNotFound, mismatchRec.Code)
	require.Equal(t, unknownRec.Code, mismatchRec.Code)
	require.JSONEq(t, unknownRec.Body.String(), mismatchRec.Body.String())
	require.Empty(t, binder.bound)
}

func TestVerifyConnectionRejectsBeforeHandler(t *testing.T) {
	t.Parallel()

	manager, binder := newTestManager(t)
	binder.pingErr = &tenant.ConnectionError{TenantID: "clinicx", Reason: tenant.ReasonAuthFailed, Err: errors.New("password authentication failed")}
	next := &recordingHandler{}
	handler := ByHeader(lookup, manager, Config{VerifyConnection: true})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/tenant/context", nil)
	req.Header.Set("X-Tenant-ID", "clinicx")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	p := decodeProblem(t, rec)
	require.Equal(t, problem.KindTenantConnectionFailed, p.Kind)
	require.NotContains(t, rec.Body.String(), "secret")
	require.False(t, next.called)
	require.True(t, binder.bound[0].released)
}

func TestLookupFailureIsInternalError(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager(t)
	handler := ByHeader(stubLookup{err: errors.New("central down")}, manager, Config{})(&recordingHandler{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "clinicx")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "central down")
}

func TestCentralOnly(t *testing.T) {
	t.Parallel()

	next := &recordingHandler{}
	handler := CentralOnly(centralDomains)(next)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Host = "clinicx.example.com"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, next.called)

	req.Host = "localhost:3000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
