package tenantscmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clinichub/clinic-api/domains/tenants/be/service"
	"github.com/clinichub/clinic-api/platform/go/persistence"
	"github.com/clinichub/clinic-api/platform/go/requesttrace"
	"github.com/clinichub/clinic-api/platform/go/tenancy"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// ErrBatchFailed is returned when at least one tenant of a batch failed. main turns it
// into exit status 1.
var ErrBatchFailed = errors.New("one or more tenants failed")

// Backend is the part of the tenants service the commands drive.
type Backend interface {
	ListAll(ctx context.Context, ids []string) ([]service.Tenant, error)
	Ping(ctx context.Context, rec tenant.Record) error
	MigrateAll(ctx context.Context, opts service.BatchOptions) (tenancy.Report, error)
	SeedAll(ctx context.Context, opts service.BatchOptions) (tenancy.Report, error)
	Create(ctx context.Context, in service.CreateInput) (service.Tenant, error)
	Delete(ctx context.Context, id string) (service.DeleteResult, error)
}

// Opener connects a Backend; the returned func releases it.
type Opener func(ctx context.Context) (Backend, func(), error)

// Command groups tenant registry and batch commands.
func Command(open Opener) *cobra.Command {
	if open == nil {
		panic("tenants command requires opener")
	}
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Tenant registry and batch maintenance",
	}
	cmd.AddCommand(
		listCommand(open),
		migrateCommand(open),
		seedCommand(open),
		createCommand(open),
		deleteCommand(open),
	)
	return cmd
}

// withBackend opens the backend under a system audit context for one command run.
func withBackend(cmd *cobra.Command, open Opener, fn func(ctx context.Context, b Backend) error) error {
	ctx := requesttrace.IntoContext(cmd.Context(), requesttrace.System(uuid.NewString()))
	b, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, b)
}

func listCommand(open Opener) *cobra.Command {
	var testConnection bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants with their databases and domains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				tenants, err := b.ListAll(ctx, nil)
				if err != nil {
					return fmt.Errorf("list tenants: %w", err)
				}
				if len(tenants) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tenants found.")
					return nil
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				header := "ID\tNAME\tDATABASE\tSTATE\tDOMAINS"
				if testConnection {
					header += "\tCONNECTION"
				}
				fmt.Fprintln(tw, header)
				for _, t := range tenants {
					domains := "-"
					if len(t.Domains) > 0 {
						domains = strings.Join(t.Domains, ",")
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s", t.ID, t.Name, t.DBName, t.State, domains)
					if testConnection {
						fmt.Fprintf(tw, "\t%s", connectionStatus(ctx, b, t))
					}
					fmt.Fprintln(tw)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&testConnection, "test-connection", false, "Ping every tenant database with its resolved credentials")
	return cmd
}

func connectionStatus(ctx context.Context, b Backend, t service.Tenant) string {
	err := b.Ping(ctx, t.Routing())
	if err == nil {
		return "ok"
	}
	var connErr *tenant.ConnectionError
	if errors.As(err, &connErr) {
		return "failed (" + string(connErr.Reason) + ")"
	}
	return "failed (" + err.Error() + ")"
}

func migrateCommand(open Opener) *cobra.Command {
	var opts service.BatchOptions

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply tenant migrations to every (or the selected) tenant database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				report, err := b.MigrateAll(ctx, opts)
				if err != nil {
					return fmt.Errorf("migrate tenants: %w", err)
				}
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}

	cmd.Flags().StringArrayVar(&opts.TenantIDs, "tenant", nil, "Tenant id to migrate (repeatable; default all)")
	cmd.Flags().BoolVar(&opts.Seed, "seed", false, "Seed baseline data after migrating")
	cmd.Flags().BoolVar(&opts.Fresh, "fresh", false, "Roll back every migration before applying")
	return cmd
}

func seedCommand(open Opener) *cobra.Command {
	var opts service.BatchOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed baseline data into every (or the selected) tenant database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				report, err := b.SeedAll(ctx, opts)
				if err != nil {
					return fmt.Errorf("seed tenants: %w", err)
				}
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}

	cmd.Flags().StringArrayVar(&opts.TenantIDs, "tenant", nil, "Tenant id to seed (repeatable; default all)")
	return cmd
}

// printReport writes one row per tenant and the summary counters.
func printReport(out io.Writer, report tenancy.Report) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tRESULT\tDETAIL")
	for _, id := range report.Succeeded {
		fmt.Fprintf(tw, "%s\tok\t\n", id)
	}
	failed := append([]tenancy.Failure(nil), report.Failed...)
	sort.SliceStable(failed, func(i, j int) bool { return failed[i].TenantID < failed[j].TenantID })
	for _, f := range failed {
		fmt.Fprintf(tw, "%s\tfailed\t%v\n", f.TenantID, f.Err)
	}
	for _, id := range report.Skipped {
		fmt.Fprintf(tw, "%s\tskipped\tno database password\n", id)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nsuccessful: %d  failed: %d  skipped: %d\n",
		len(report.Succeeded), len(report.Failed), len(report.Skipped))
	if len(report.Failed) > 0 {
		return ErrBatchFailed
	}
	return nil
}

func createCommand(open Opener) *cobra.Command {
	var (
		in    service.CreateInput
		owner persistence.ClinicOwner
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register and provision a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// any owner flag opts in; validation reports what is missing
			if owner != (persistence.ClinicOwner{}) {
				in.Owner = &owner
			}
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				t, err := b.Create(ctx, in)
				if err != nil {
					return describeCreateError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s (%s) is %s on database %s\n", t.ID, t.Name, t.State, t.DBName)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "", "Clinic name")
	cmd.Flags().StringVar(&in.ID, "id", "", "Tenant id (derived from the name when empty)")
	cmd.Flags().StringArrayVar(&in.Domains, "domain", nil, "Domain routed to the tenant (repeatable)")
	cmd.Flags().StringVar(&in.DBName, "db-name", "", "Database name override")
	cmd.Flags().StringVar(&in.DBUsername, "db-username", "", "Database role override")
	cmd.Flags().StringVar(&in.DBPassword, "db-password", "", "Database password override")
	cmd.Flags().StringVar(&owner.Name, "owner-name", "", "Clinic owner name")
	cmd.Flags().StringVar(&owner.Phone, "owner-phone", "", "Clinic owner phone")
	cmd.Flags().StringVar(&owner.Email, "owner-email", "", "Clinic owner email (optional)")
	cmd.Flags().StringVar(&owner.Password, "owner-password", "", "Clinic owner password")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func describeCreateError(err error) error {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		fields := make([]string, 0, len(validationErr.Fields))
		for field, messages := range validationErr.Fields {
			fields = append(fields, field+": "+strings.Join(messages, "; "))
		}
		sort.Strings(fields)
		return fmt.Errorf("invalid tenant: %s", strings.Join(fields, ", "))
	}
	var stepErr *service.StepError
	if errors.As(err, &stepErr) {
		return fmt.Errorf("provisioning failed at %s (rolled back: %t, cleanup required: %t): %w",
			stepErr.Step, stepErr.RolledBack, stepErr.CleanupRequired, err)
	}
	return fmt.Errorf("create tenant: %w", err)
}

func deleteCommand(open Opener) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Tear a tenant down: drop its database and remove its registry entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				res, err := b.Delete(ctx, id)
				if err != nil {
					return fmt.Errorf("delete tenant %s: %w", id, err)
				}
				if res.DropError != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: database of %s was not dropped: %s\n", id, res.DropError)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s deleted (database dropped: %t)\n", id, res.DatabaseDropped)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "tenant", "", "Tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
