package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesTenantMetrics(t *testing.T) {
	TenantResolutions.WithLabelValues("header", "not_found").Inc()
	TenantConnectFailures.WithLabelValues("auth_failed").Inc()
	TenantHandles.Set(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `clinic_tenant_resolutions_total{outcome="not_found",strategy="header"}`)
	require.Contains(t, string(body), `clinic_tenant_connect_failures_total{reason="auth_failed"}`)
	require.Contains(t, string(body), "clinic_tenant_pool_handles 3")
}
