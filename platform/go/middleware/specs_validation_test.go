package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinichub/clinic-api/contracts"
	platformauth "github.com/clinichub/clinic-api/platform/go/auth"
	"github.com/clinichub/clinic-api/platform/go/problem"
)

func TestSpecValidator(t *testing.T) {
	t.Parallel()

	spec, err := contracts.Load()
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	validated := SpecValidator(spec)(ok)
	asAdmin := func(r *http.Request) *http.Request {
		return r.WithContext(platformauth.WithUser(r.Context(), &platformauth.UserCredentials{ID: "admin", IsAdmin: true}))
	}

	cases := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name:   "admin route without credentials",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/tenants", nil) },
			status: http.StatusUnauthorized,
		},
		{
			name:   "admin route with credentials",
			req:    func() *http.Request { return asAdmin(httptest.NewRequest(http.MethodGet, "/api/tenants?page=2", nil)) },
			status: http.StatusOK,
		},
		{
			name:   "malformed query",
			req:    func() *http.Request { return asAdmin(httptest.NewRequest(http.MethodGet, "/api/tenants?page=abc", nil)) },
			status: http.StatusBadRequest,
		},
		{
			name: "create without name",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/api/tenants", strings.NewReader(`{"domains":["a.test"]}`))
				r.Header.Set("Content-Type", "application/json")
				return asAdmin(r)
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "public tenant route",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/tenant/context", nil) },
			status: http.StatusOK,
		},
		{
			name:   "patient id must be a uuid",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/tenant/patients/42", nil) },
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown route",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/tenant/invoices", nil) },
			status: http.StatusNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			validated.ServeHTTP(rec, tc.req())
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				require.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
			}
		})
	}
}
