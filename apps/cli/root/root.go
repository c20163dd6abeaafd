package root

import (
	"context"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for clinicctl. Subcommands are attached in wire.go.
var rootCmd = &cobra.Command{
	Use:           "clinicctl",
	Short:         "Clinic platform operator CLI",
	Long:          "Operator utilities for the clinic platform: central bootstrap, tenant provisioning and batch migrations.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI. ctx is cancelled on interrupt so batches stop between tenants.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
