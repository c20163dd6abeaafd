package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/clinichub/clinic-api/platform/go/auth"
	platformlogging "github.com/clinichub/clinic-api/platform/go/logging"
	"github.com/clinichub/clinic-api/platform/go/problem"
	"github.com/clinichub/clinic-api/platform/go/requesttrace"
)

// RequestTrace stores the request's AuditInfo in the context for services that stamp
// creator columns. Run it after the JWT middleware.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := platformlogging.FromRequest(r, zap.NewNop())
		requestID := chimw.GetReqID(ctx)

		audit := requesttrace.Anonymous(requestID)
		if creds, ok := platformauth.UserFromContext(ctx); ok {
			var err error
			if audit, err = requesttrace.FromCredentials(creds, requestID); err != nil {
				logger.Warn("build audit info from credentials", zap.Error(err))
				problem.Write(w, problem.New(http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", "credentials carry no user id"))
				return
			}
		}

		ctx = requesttrace.IntoContext(ctx, audit)
		ctx = platformlogging.Promote(ctx, logger.With(audit.Fields()...))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
