package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/clinichub/clinic-api/platform/go/persistence"
)

// PoolOpener connects to the central database. databaseURL overrides DATABASE_URL when set.
type PoolOpener func(ctx context.Context, databaseURL string) (*pgxpool.Pool, error)

// Command groups bootstrap helpers.
func Command(open PoolOpener) *cobra.Command {
	if open == nil {
		panic("bootstrap command requires pool opener")
	}
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap platform resources",
		Long:  "Bootstrap platform resources such as the central tenant registry tables.",
	}

	cmd.AddCommand(centralCommand(open, persistence.BootstrapCentral))
	return cmd
}

func centralCommand(open PoolOpener, apply func(ctx context.Context, pool *pgxpool.Pool) error) *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "central",
		Short: "Create the central tenants and domains tables (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			pool, err := open(ctx, databaseURL)
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := apply(ctx, pool); err != nil {
				return fmt.Errorf("bootstrap central: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Central registry ready.")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string (defaults to DATABASE_URL)")
	return c
}
