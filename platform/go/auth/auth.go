// Package auth authenticates API callers from bearer tokens and exposes the result on the
// request context. Authentication is optional at this layer; routes that need a caller
// add RequireAdmin or check UserFromContext themselves.
package auth

import (
	"context"
	"errors"
)

type ctxKey string

const ctxUserCredentials ctxKey = "CLINIC_USER_CREDENTIALS"

// UserCredentials is the authenticated caller.
type UserCredentials struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          *string
	IsAdmin       bool
	// TenantID is the clinic the token was issued for; nil for platform users.
	TenantID *string
}

func WithUser(ctx context.Context, creds *UserCredentials) context.Context {
	return context.WithValue(ctx, ctxUserCredentials, creds)
}

func UserFromContext(ctx context.Context) (*UserCredentials, bool) {
	u, ok := ctx.Value(ctxUserCredentials).(*UserCredentials)
	return u, ok && u != nil
}

// Claims is a decoded token payload.
type Claims map[string]any

// String returns the claim when it is a string.
func (c Claims) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Bool returns the claim when it is a boolean.
func (c Claims) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Optional is String with "" mapped to nil.
func (c Claims) Optional(key string) *string {
	if s := c.String(key); s != "" {
		return &s
	}
	return nil
}

// First returns the first non-empty string claim among keys.
func (c Claims) First(keys ...string) string {
	for _, key := range keys {
		if s := c.String(key); s != "" {
			return s
		}
	}
	return ""
}

// TenantID reads tenant_id, then the firebase.tenant claim of identity platform tokens.
func (c Claims) TenantID() *string {
	if id := c.Optional("tenant_id"); id != nil {
		return id
	}
	fb, ok := c["firebase"].(map[string]any)
	if !ok {
		return nil
	}
	return Claims(fb).Optional("tenant")
}

// DefaultCredentialExtractor maps the claims of our own tokens and of Firebase ID tokens.
// Admins carry isAdmin=true or role=admin.
func DefaultCredentialExtractor(claims map[string]any) (*UserCredentials, error) {
	if claims == nil {
		return nil, errors.New("missing claims")
	}
	c := Claims(claims)

	id := c.First("uid", "user_id", "sub")
	if id == "" {
		return nil, errors.New("missing subject")
	}

	return &UserCredentials{
		ID:            id,
		Email:         c.String("email"),
		EmailVerified: c.Bool("email_verified"),
		Name:          c.Optional("name"),
		IsAdmin:       c.Bool("isAdmin") || c.String("role") == "admin",
		TenantID:      c.TenantID(),
	}, nil
}
