package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/clinichub/clinic-api/platform/go/problem"
)

// VerifyFunc validates a raw token and returns its claims.
type VerifyFunc func(ctx context.Context, token string) (map[string]any, error)

// ExtractFunc turns verified claims into credentials.
type ExtractFunc func(claims map[string]any) (*UserCredentials, error)

// JWT attaches the caller to the request context. Requests without a bearer token pass
// through anonymously; a token that fails verification is a 401.
func JWT(verify VerifyFunc, extract ExtractFunc) func(http.Handler) http.Handler {
	if verify == nil {
		panic("auth.JWT: verify func must not be nil")
	}
	if extract == nil {
		extract = DefaultCredentialExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, found := ExtractJWTToken(r)
			if r.Method == http.MethodOptions || !found || token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verify(r.Context(), token)
			if err != nil {
				unauthorized(w, "invalid_token", "token could not be verified")
				return
			}
			creds, err := extract(claims)
			if err != nil {
				unauthorized(w, "invalid_token", "invalid claims")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), creds)))
		})
	}
}

// RequireAdmin rejects anonymous callers with 401 and non admins with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds, ok := UserFromContext(r.Context())
		switch {
		case !ok:
			unauthorized(w, "invalid_request", "authentication required")
		case !creds.IsAdmin:
			problem.Write(w, problem.New(http.StatusForbidden, problem.TypeForbidden, "Forbidden", "administrator role required"))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// TenantClaimCheck allows anonymous callers and callers without a tenant claim; a caller
// whose token names another tenant is refused. Admins may act on any tenant.
func TenantClaimCheck(r *http.Request, tenantID string) bool {
	creds, ok := UserFromContext(r.Context())
	if !ok || creds.IsAdmin || creds.TenantID == nil {
		return true
	}
	return *creds.TenantID == tenantID
}

func unauthorized(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="clinic-api", error=%q, error_description=%q`, code, description))
	problem.Write(w, problem.New(http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", description))
}
