package provisioning

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinichub/clinic-api/platform/go/storage"
)

func TestTenantAssetsStayUnderTenantPrefix(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	assets := NewTenantAssets(storage.NewLocalStore(base), "dev")
	ctx := context.Background()

	require.NoError(t, assets.Ensure(ctx, "alpha"))
	location, err := assets.Put(ctx, "alpha", "logo/clinic.png", "image/png", strings.NewReader("img"))
	require.NoError(t, err)
	require.Equal(t, "dev/alpha/logo/clinic.png", location)

	_, err = assets.Put(ctx, "alpha", "../beta/logo.png", "image/png", strings.NewReader("img"))
	require.ErrorIs(t, err, storage.ErrInvalidKey)

	require.NoError(t, assets.Ensure(ctx, "beta"))
	require.NoError(t, assets.RemoveAll(ctx, "alpha"))

	_, err = os.Stat(filepath.Join(base, "dev", "alpha"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(base, "dev", "beta"))
	require.NoError(t, err)
}
