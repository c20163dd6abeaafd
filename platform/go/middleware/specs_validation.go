package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	platformauth "github.com/clinichub/clinic-api/platform/go/auth"
	"github.com/clinichub/clinic-api/platform/go/problem"
)

// ValidateAuthenticationViaSwagger satisfies operations that declare bearerAuth. It
// relies on the JWT middleware having stored credentials on the request context.
func ValidateAuthenticationViaSwagger(_ context.Context, input *openapi3filter.AuthenticationInput) error {
	if input == nil || input.SecuritySchemeName != "bearerAuth" {
		return nil
	}
	r := input.RequestValidationInput.Request
	if r == nil {
		return errors.New("no request in validation input")
	}
	if _, ok := platformauth.UserFromContext(r.Context()); !ok {
		return errors.New("missing bearer credentials")
	}
	return nil
}

// SpecValidator rejects requests that do not match spec. Mount it only on route groups
// the contract describes; unknown paths are answered with 404.
func SpecValidator(spec *openapi3.T) func(http.Handler) http.Handler {
	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: writeValidationProblem,
	})
}

func writeValidationProblem(w http.ResponseWriter, message string, status int) {
	var p problem.Details
	switch status {
	case http.StatusUnauthorized:
		p = problem.New(status, problem.TypeUnauthorized, "Unauthorized", message)
	case http.StatusNotFound:
		p = problem.New(status, problem.TypeNotFound, "Resource not found", message)
	case http.StatusBadRequest:
		p = problem.New(status, problem.TypeValidation, "Validation failed", message)
	default:
		p = problem.New(status, problem.TypeInternal, http.StatusText(status), message)
	}
	problem.Write(w, p)
}
