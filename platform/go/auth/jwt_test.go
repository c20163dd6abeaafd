package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/clinichub/clinic-api/platform/go/auth/devtoken"
)

func TestExtractJWTToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
		found  bool
	}{
		{"bearer", "Bearer abc", "abc", true},
		{"case insensitive", "bEaReR  abc ", "abc", true},
		{"basic", "Basic abc", "", false},
		{"missing", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, found := ExtractJWTToken(req)
			require.Equal(t, tt.found, found)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestHS256VerifierRejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	secret := []byte("s3cret")
	verify := HS256Verifier(secret)
	exp := time.Now().Add(time.Hour).Unix()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "u", "exp": exp}).SignedString(secret)
	require.NoError(t, err)
	_, err = verify(context.Background(), signed)
	require.Error(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u"}).SignedString(secret)
	require.NoError(t, err)
	_, err = verify(context.Background(), noExp)
	require.Error(t, err)

	ok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "exp": exp}).SignedString(secret)
	require.NoError(t, err)
	claims, err := verify(context.Background(), ok)
	require.NoError(t, err)
	require.Equal(t, "u", claims["sub"])
}

func TestUnsignedTokenVerifier(t *testing.T) {
	t.Parallel()

	token, err := devtoken.BuildUnsigned(devtoken.Params{UserID: "u-1", Email: "doc@alpha.test", TenantID: "alpha"}, time.Now())
	require.NoError(t, err)

	claims, err := UnsignedTokenVerifier()(context.Background(), token)
	require.NoError(t, err)
	creds, err := DefaultCredentialExtractor(claims)
	require.NoError(t, err)
	require.Equal(t, "u-1", creds.ID)
	require.Equal(t, "alpha", *creds.TenantID)
	require.False(t, creds.IsAdmin)

	_, err = UnsignedTokenVerifier()(context.Background(), "not-a-token")
	require.Error(t, err)
}
