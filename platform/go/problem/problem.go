package problem

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// ContentType is the RFC 7807 media type.
const ContentType = "application/problem+json"

// Problem type URIs.
const (
	TypeValidation   = "https://clinichub.app/problems/validation-error"
	TypeUnauthorized = "https://clinichub.app/problems/unauthorized"
	TypeForbidden    = "https://clinichub.app/problems/forbidden"
	TypeNotFound     = "https://clinichub.app/problems/not-found"
	TypeConflict     = "https://clinichub.app/problems/conflict"
	TypeUnavailable  = "https://clinichub.app/problems/unavailable"
	TypeInternal     = "https://clinichub.app/problems/internal-error"
)

// Machine readable kinds of the tenancy error taxonomy.
const (
	KindTenantNotFound         = "TenantNotFound"
	KindMissingIdentification  = "AmbiguousOrMissingIdentification"
	KindTenantConnectionFailed = "TenantConnectionFailed"
	KindProvisioningStepFailed = "ProvisioningStepFailed"
)

// Details is an RFC 7807 problem document.
type Details struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title"`
	Status   int                 `json:"status"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Kind     string              `json:"kind,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
	// Extra carries operation specific members, e.g. the failed provisioning step.
	Extra map[string]any `json:"extra,omitempty"`
}

// New builds a problem document.
func New(status int, problemType, title, detail string) Details {
	return Details{Type: problemType, Title: title, Status: status, Detail: detail}
}

// Write encodes p with the problem media type.
func Write(w http.ResponseWriter, p Details) {
	if p.Status == 0 {
		p.Status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// TenantNotFound is shared by unknown tenants and tenant claim mismatches so callers
// cannot tell them apart.
func TenantNotFound() Details {
	p := New(http.StatusNotFound, TypeNotFound, "Tenant not found", "no tenant matches this request")
	p.Kind = KindTenantNotFound
	return p
}

// FromTenantError maps tenancy errors to problems. ok is false for unrelated errors.
func FromTenantError(err error) (Details, bool) {
	var connErr *tenant.ConnectionError
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound), errors.Is(err, tenant.ErrCentralDomain):
		return TenantNotFound(), true
	case errors.Is(err, tenant.ErrMissingIdentification):
		p := New(http.StatusBadRequest, TypeValidation, "Tenant identification required",
			"exactly one tenant identifier must be supplied")
		p.Kind = KindMissingIdentification
		return p, true
	case errors.As(err, &connErr):
		p := New(http.StatusServiceUnavailable, TypeUnavailable, "Tenant database unavailable",
			"the tenant database could not be reached")
		p.Kind = KindTenantConnectionFailed
		p.Extra = map[string]any{"reason": string(connErr.Reason)}
		return p, true
	case errors.Is(err, tenant.ErrTenantConnectionFailed):
		p := New(http.StatusServiceUnavailable, TypeUnavailable, "Tenant database unavailable",
			"the tenant database could not be reached")
		p.Kind = KindTenantConnectionFailed
		return p, true
	case errors.Is(err, tenant.ErrNoTenantScope):
		return New(http.StatusInternalServerError, TypeInternal, "Internal server error",
			"an unexpected error occurred"), true
	}
	return Details{}, false
}
