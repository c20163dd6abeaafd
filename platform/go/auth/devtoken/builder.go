package devtoken

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Params captures the claims required to mint a token for local and CI environments.
// No environment variables are read so the builder stays deterministic for tooling.
type Params struct {
	UserID    string        // sub (required)
	Email     string        // email (required)
	Name      string        // optional display name
	IsAdmin   bool          // isAdmin claim checked by the tenants admin API
	TenantID  string        // tenant_id claim; empty for platform users
	ExpiresIn time.Duration // relative expiry; default 1h if zero
	Issuer    string        // optional iss
}

func (p Params) claims(now time.Time) (jwt.MapClaims, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, errors.New("userID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return nil, errors.New("email is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	claims := jwt.MapClaims{
		"sub":            p.UserID,
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": true,
		"isAdmin":        p.IsAdmin,
	}
	if p.Name != "" {
		claims["name"] = p.Name
	}
	if p.TenantID != "" {
		claims["tenant_id"] = p.TenantID
	}
	if p.Issuer != "" {
		claims["iss"] = p.Issuer
	}
	return claims, nil
}

// BuildHS256 returns a token the HS256 verifier accepts.
func BuildHS256(p Params, secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}
	claims, err := p.claims(now)
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// BuildUnsigned returns an alg "none" token for AUTH_PROVIDER=dev.
func BuildUnsigned(p Params, now time.Time) (string, error) {
	claims, err := p.claims(now)
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
}
