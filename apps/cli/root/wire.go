package root

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinichub/clinic-api/apps/cli/app"
	"github.com/clinichub/clinic-api/apps/cli/cmd/auth"
	"github.com/clinichub/clinic-api/apps/cli/cmd/bootstrap"
	tenantscmd "github.com/clinichub/clinic-api/apps/cli/cmd/tenants"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(bootstrap.Command(openCentralPool))
	Root().AddCommand(tenantscmd.Command(openTenants))
}

func openCentralPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL != "" {
		return app.OpenPool(ctx, app.Config{DatabaseURL: databaseURL})
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	return app.OpenPool(ctx, cfg)
}

func openTenants(ctx context.Context) (tenantscmd.Backend, func(), error) {
	a, err := app.Open(ctx)
	if err != nil {
		return nil, nil, err
	}
	return a, a.Close, nil
}
