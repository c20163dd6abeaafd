package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/clinichub/clinic-api/platform/go/auth"
	"github.com/clinichub/clinic-api/platform/go/gcp"
)

// buildAuthMiddleware picks the token verifier for AUTH_PROVIDER. Requests without a
// bearer token stay anonymous; admin routes reject them later.
func buildAuthMiddleware(ctx context.Context, cfg config, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, errors.New("JWT_SECRET is required when AUTH_PROVIDER=jwt")
		}
		verify = platformauth.HS256Verifier([]byte(cfg.JWTSecret))
	case "firebase":
		fbAuth, err := gcp.InitFirebaseAuth(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firebase auth: %w", err)
		}
		verify = platformauth.FirebaseTokenVerifier(fbAuth)
	case "dev":
		logger.Warn("using unsigned dev tokens; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.AuthProvider)
	}

	return platformauth.JWT(verify, platformauth.DefaultCredentialExtractor), nil
}
