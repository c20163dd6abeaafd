package provisioning

import (
	"context"
	"io"

	"github.com/clinichub/clinic-api/domains/tenants/be/service"
	"github.com/clinichub/clinic-api/platform/go/storage"
)

// TenantAssets places tenant files under "<envKey>/<tenantID>/" in a shared store.
type TenantAssets struct {
	store  storage.Store
	envKey string
}

func NewTenantAssets(store storage.Store, envKey string) *TenantAssets {
	if store == nil {
		panic("tenant assets require store")
	}
	if envKey == "" {
		panic("tenant assets require envKey")
	}
	return &TenantAssets{store: store, envKey: envKey}
}

func (a *TenantAssets) Ensure(ctx context.Context, tenantID string) error {
	prefix, err := storage.TenantPrefix(a.envKey, tenantID)
	if err != nil {
		return err
	}
	return a.store.Ensure(ctx, prefix)
}

func (a *TenantAssets) Put(ctx context.Context, tenantID, name, contentType string, body io.Reader) (string, error) {
	prefix, err := storage.TenantPrefix(a.envKey, tenantID)
	if err != nil {
		return "", err
	}
	loc, err := storage.ResolveObjectLocation(prefix, "", name)
	if err != nil {
		return "", err
	}
	return a.store.Put(ctx, loc.FullPath, contentType, body)
}

func (a *TenantAssets) RemoveAll(ctx context.Context, tenantID string) error {
	prefix, err := storage.TenantPrefix(a.envKey, tenantID)
	if err != nil {
		return err
	}
	return a.store.DeletePrefix(ctx, prefix)
}

var _ service.AssetStore = (*TenantAssets)(nil)
