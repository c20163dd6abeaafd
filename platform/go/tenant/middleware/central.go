package middleware

import (
	"net/http"

	"github.com/clinichub/clinic-api/platform/go/problem"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// CentralSet is the allow-list of hosts served by the central application.
type CentralSet map[string]struct{}

func NewCentralSet(domains []string) CentralSet {
	set := make(CentralSet, len(domains))
	for _, d := range domains {
		if h := tenant.NormalizeHost(d); h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}

// Contains reports whether host (port and case ignored) is central.
func (s CentralSet) Contains(host string) bool {
	_, ok := s[tenant.NormalizeHost(host)]
	return ok
}

// SplitCentral dispatches central hosts to central and every other host to tenant.
// Central requests never receive a tenant scope.
func SplitCentral(centralDomains []string, central, tenantHandler http.Handler) http.Handler {
	set := NewCentralSet(centralDomains)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if set.Contains(r.Host) {
			central.ServeHTTP(w, r)
			return
		}
		tenantHandler.ServeHTTP(w, r)
	})
}

// CentralOnly hides the wrapped routes from tenant hosts.
func CentralOnly(centralDomains []string) func(http.Handler) http.Handler {
	set := NewCentralSet(centralDomains)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !set.Contains(r.Host) {
				problem.Write(w, problem.New(http.StatusNotFound, problem.TypeNotFound, "Not found", ""))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
