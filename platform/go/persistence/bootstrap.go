package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/clinichub/clinic-api/database"
)

// centralScripts run in order; domains references tenants.
var centralScripts = []struct{ name, sql string }{
	{"central/tenants.sql", sqlassets.TenantsSQL},
	{"central/domains.sql", sqlassets.DomainsSQL},
}

// BootstrapCentral creates the tenants and domains tables of the central database in one
// transaction. Running it again is a no-op.
func BootstrapCentral(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("bootstrap central: pool is required")
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, script := range centralScripts {
			for _, stmt := range splitStatements(script.sql) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("apply %s: %w", script.name, err)
				}
			}
		}
		return nil
	})
}

// splitStatements splits on semicolons. Central scripts hold no function bodies.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
