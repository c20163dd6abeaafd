package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
)

// ExtractJWTToken returns the token of an "Authorization: Bearer" header, prefix matched
// case-insensitively.
func ExtractJWTToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// HS256Verifier validates tokens signed with a shared secret. exp is required.
func HS256Verifier(secret []byte) VerifyFunc {
	if len(secret) == 0 {
		panic("auth.HS256Verifier: secret must not be empty")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(_ context.Context, token string) (map[string]any, error) {
		claims := jwt.MapClaims{}
		parsed, err := parser.ParseWithClaims(token, claims, keyFunc)
		if err != nil {
			return nil, err
		}
		if !parsed.Valid {
			return nil, errors.New("invalid token")
		}
		return claims, nil
	}
}

// UnsignedTokenVerifier decodes payloads without checking the signature. Local use only.
func UnsignedTokenVerifier() VerifyFunc {
	parser := jwt.NewParser()
	return func(_ context.Context, token string) (map[string]any, error) {
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("decode token: %w", err)
		}
		return claims, nil
	}
}

// FirebaseTokenVerifier validates Firebase ID tokens. uid, sub and the identity platform
// tenant are copied into the claims so DefaultCredentialExtractor reads them uniformly.
func FirebaseTokenVerifier(client *firebaseauth.Client) VerifyFunc {
	return func(ctx context.Context, token string) (map[string]any, error) {
		t, err := client.VerifyIDToken(ctx, token)
		if err != nil {
			return nil, err
		}

		claims := make(map[string]any, len(t.Claims)+3)
		for k, v := range t.Claims {
			claims[k] = v
		}
		claims["uid"] = t.UID
		claims["sub"] = t.Subject
		if t.Firebase.Tenant != "" {
			fb, _ := claims["firebase"].(map[string]any)
			if fb == nil {
				fb = map[string]any{}
			}
			fb["tenant"] = t.Firebase.Tenant
			claims["firebase"] = fb
		}
		return claims, nil
	}
}
