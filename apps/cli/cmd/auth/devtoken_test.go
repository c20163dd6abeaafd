package auth

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	platformauth "github.com/clinichub/clinic-api/platform/go/auth"
)

func mint(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := Command()
	cmd.SilenceUsage, cmd.SilenceErrors = true, true
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"devtoken"}, args...))
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestDevTokenSigned(t *testing.T) {
	t.Parallel()

	token, err := mint(t, "--user-id", "admin-1", "--email", "ops@clinic.test", "--admin", "--secret", "s3cret")
	require.NoError(t, err)

	claims, err := platformauth.HS256Verifier([]byte("s3cret"))(context.Background(), token)
	require.NoError(t, err)
	creds, err := platformauth.DefaultCredentialExtractor(claims)
	require.NoError(t, err)
	require.Equal(t, "admin-1", creds.ID)
	require.True(t, creds.IsAdmin)
	require.Nil(t, creds.TenantID)
}

func TestDevTokenUnsigned(t *testing.T) {
	t.Parallel()

	token, err := mint(t, "--user-id", "doc-1", "--email", "doc@alpha.test", "--tenant", "alpha", "--unsigned")
	require.NoError(t, err)

	claims, err := platformauth.UnsignedTokenVerifier()(context.Background(), token)
	require.NoError(t, err)
	creds, err := platformauth.DefaultCredentialExtractor(claims)
	require.NoError(t, err)
	require.NotNil(t, creds.TenantID)
	require.Equal(t, "alpha", *creds.TenantID)
}

func TestDevTokenRequiresUser(t *testing.T) {
	t.Parallel()

	_, err := mint(t, "--email", "ops@clinic.test", "--unsigned")
	require.Error(t, err)
}
