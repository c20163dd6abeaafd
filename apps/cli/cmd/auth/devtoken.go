package auth

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinichub/clinic-api/platform/go/auth/devtoken"
)

func devTokenCommand() *cobra.Command {
	var (
		params   devtoken.Params
		secret   string
		unsigned bool
	)

	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Mint a bearer token for local and CI use",
		Long: "Mint an HS256 token for AUTH_PROVIDER=jwt (signed with --secret or JWT_SECRET), " +
			"or an unsigned token for AUTH_PROVIDER=dev.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				token string
				err   error
			)
			if unsigned {
				token, err = devtoken.BuildUnsigned(params, time.Now().UTC())
			} else {
				if secret == "" {
					secret = os.Getenv("JWT_SECRET")
				}
				if secret == "" {
					return errors.New("--secret or JWT_SECRET is required for signed tokens")
				}
				token, err = devtoken.BuildHS256(params, []byte(secret), time.Now().UTC())
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.UserID, "user-id", "", "sub claim")
	cmd.Flags().StringVar(&params.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&params.Name, "name", "", "display name")
	cmd.Flags().BoolVar(&params.IsAdmin, "admin", false, "set isAdmin=true (tenants admin API)")
	cmd.Flags().StringVar(&params.TenantID, "tenant", "", "tenant_id claim; empty for platform users")
	cmd.Flags().DurationVar(&params.ExpiresIn, "expires-in", time.Hour, "token lifetime (e.g. 30m, 2h)")
	cmd.Flags().StringVar(&params.Issuer, "issuer", "", "iss claim")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret (defaults to JWT_SECRET)")
	cmd.Flags().BoolVar(&unsigned, "unsigned", false, "emit an alg=none token for AUTH_PROVIDER=dev")

	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
