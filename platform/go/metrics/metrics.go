package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tenant routing and connection metrics.
var (
	// TenantResolutions counts identification outcomes per strategy (domain, header).
	TenantResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_tenant_resolutions_total",
			Help: "Tenant identification outcomes by strategy.",
		},
		[]string{"strategy", "outcome"},
	)

	// TenantHandles reports the number of tenant connection handles bound in the registry.
	TenantHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clinic_tenant_pool_handles",
			Help: "Tenant connection handles currently bound.",
		},
	)

	// TenantConnectFailures counts failed tenant connections by classified reason.
	TenantConnectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_tenant_connect_failures_total",
			Help: "Tenant database connection failures by reason.",
		},
		[]string{"reason"},
	)
)

// Provisioning and batch metrics.
var (
	ProvisioningSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_provisioning_steps_total",
			Help: "Provisioning workflow step outcomes.",
		},
		[]string{"step", "outcome"},
	)

	BatchTenants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_batch_tenants_total",
			Help: "Per-tenant outcomes of for-each batch runs.",
		},
		[]string{"operation", "outcome"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
