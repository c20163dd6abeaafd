package tenant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestResolver() *CredentialResolver {
	return NewCredentialResolver(CredentialConfig{
		Prefix:   "clinic_",
		Password: "tenant-secret",
		Host:     "db.internal",
		Port:     5433,
	})
}

func TestResolveDerivesFromConventions(t *testing.T) {
	t.Parallel()

	d, err := newTestResolver().Resolve(Record{ID: "clinicx"})
	require.NoError(t, err)
	require.Equal(t, Descriptor{
		Host:     "db.internal",
		Port:     5433,
		Database: "clinic_clinicx",
		Username: "clinic_clinicx",
		Password: "tenant-secret",
	}, d)
}

func TestResolveUsesExplicitCredentialsVerbatim(t *testing.T) {
	t.Parallel()

	d, err := newTestResolver().Resolve(Record{
		ID:         "clinicx",
		DBName:     "u123_clinicx",
		DBUsername: "u123_admin",
		DBPassword: "explicit",
	})
	require.NoError(t, err)
	require.Equal(t, "db.internal", d.Host)
	require.Equal(t, uint16(5433), d.Port)
	require.Equal(t, "u123_clinicx", d.Database)
	require.Equal(t, "u123_admin", d.Username)
	require.Equal(t, "explicit", d.Password)
}

func TestResolveUsernameFollowsExplicitDatabase(t *testing.T) {
	t.Parallel()

	d, err := newTestResolver().Resolve(Record{ID: "clinicx", DBName: "legacy_db"})
	require.NoError(t, err)
	require.Equal(t, "legacy_db", d.Username)
	require.Equal(t, "tenant-secret", d.Password)
}

func TestResolveMissingIDIsNotFound(t *testing.T) {
	t.Parallel()

	_, err := newTestResolver().Resolve(Record{})
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestResolveIsReplacedNotMerged(t *testing.T) {
	t.Parallel()

	r := newTestResolver()
	a, err := r.Resolve(Record{ID: "a", DBUsername: "custom_a", DBPassword: "pw_a"})
	require.NoError(t, err)
	b, err := r.Resolve(Record{ID: "b"})
	require.NoError(t, err)

	require.Equal(t, "clinic_b", b.Database)
	require.Equal(t, "clinic_b", b.Username)
	require.NotEqual(t, a.Password, b.Password)
}

func TestDescriptorStringRedactsPassword(t *testing.T) {
	t.Parallel()

	d := Descriptor{Host: "h", Port: 5432, Database: "db", Username: "u", Password: "s3cret"}
	require.Equal(t, "u@h:5432/db", d.String())
	require.NotContains(t, d.String(), "s3cret")
	require.NoError(t, d.Validate())
	require.Error(t, Descriptor{Host: "h", Port: 5432}.Validate())
}
