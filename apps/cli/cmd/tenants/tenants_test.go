package tenantscmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinichub/clinic-api/domains/tenants/be/service"
	"github.com/clinichub/clinic-api/platform/go/persistence"
	"github.com/clinichub/clinic-api/platform/go/requesttrace"
	"github.com/clinichub/clinic-api/platform/go/tenancy"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

type fakeBackend struct {
	tenants   []service.Tenant
	pingErrs  map[string]error
	report    tenancy.Report
	batchOpts service.BatchOptions
	created   service.CreateInput
	createErr error
	deleteRes service.DeleteResult
	sawSystem bool
}

func (f *fakeBackend) ListAll(ctx context.Context, _ []string) ([]service.Tenant, error) {
	audit, ok := requesttrace.FromContext(ctx)
	f.sawSystem = ok && audit.ActorKind == requesttrace.ActorKindSystem
	return f.tenants, nil
}

func (f *fakeBackend) Ping(_ context.Context, rec tenant.Record) error {
	return f.pingErrs[rec.ID]
}

func (f *fakeBackend) MigrateAll(_ context.Context, opts service.BatchOptions) (tenancy.Report, error) {
	f.batchOpts = opts
	return f.report, nil
}

func (f *fakeBackend) SeedAll(_ context.Context, opts service.BatchOptions) (tenancy.Report, error) {
	f.batchOpts = opts
	return f.report, nil
}

func (f *fakeBackend) Create(_ context.Context, in service.CreateInput) (service.Tenant, error) {
	f.created = in
	if f.createErr != nil {
		return service.Tenant{}, f.createErr
	}
	return service.Tenant{ID: "alpha_dental", Name: in.Name, DBName: "clinic_alpha_dental", State: service.StateReady}, nil
}

func (f *fakeBackend) Delete(_ context.Context, _ string) (service.DeleteResult, error) {
	return f.deleteRes, nil
}

func run(t *testing.T, b *fakeBackend, args ...string) (string, string, error) {
	t.Helper()
	closed := false
	cmd := Command(func(context.Context) (Backend, func(), error) {
		return b, func() { closed = true }, nil
	})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		require.True(t, closed)
	}
	return out.String(), errOut.String(), err
}

func TestListWithConnectionTest(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		tenants: []service.Tenant{
			{ID: "alpha", Name: "Alpha", DBName: "clinic_alpha", State: service.StateReady, Domains: []string{"alpha.clinic.test"}},
			{ID: "beta", Name: "Beta", DBName: "clinic_beta", State: service.StateReady},
		},
		pingErrs: map[string]error{
			"beta": &tenant.ConnectionError{TenantID: "beta", Reason: tenant.ReasonAuthFailed, Err: errors.New("password authentication failed")},
		},
	}

	out, _, err := run(t, b, "list", "--test-connection")
	require.NoError(t, err)
	require.True(t, b.sawSystem)
	require.Contains(t, out, "CONNECTION")
	require.Contains(t, out, "alpha.clinic.test")
	require.Regexp(t, `alpha\s+Alpha\s+clinic_alpha\s+ready\s+alpha\.clinic\.test\s+ok`, out)
	require.Contains(t, out, "failed (auth_failed)")
}

func TestListEmpty(t *testing.T) {
	t.Parallel()

	out, _, err := run(t, &fakeBackend{}, "list")
	require.NoError(t, err)
	require.Contains(t, out, "No tenants found.")
}

func TestMigrateFailsWhenAnyTenantFailed(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{report: tenancy.Report{
		Succeeded: []string{"alpha", "gamma"},
		Failed:    []tenancy.Failure{{TenantID: "beta", Err: errors.New("relation already exists")}},
		Skipped:   []string{"delta"},
	}}

	out, _, err := run(t, b, "migrate", "--tenant", "alpha", "--tenant", "beta", "--seed", "--fresh")
	require.ErrorIs(t, err, ErrBatchFailed)
	require.Equal(t, service.BatchOptions{TenantIDs: []string{"alpha", "beta"}, Seed: true, Fresh: true}, b.batchOpts)
	require.Regexp(t, `beta\s+failed\s+relation already exists`, out)
	require.Regexp(t, `delta\s+skipped`, out)
	require.Contains(t, out, "successful: 2  failed: 1  skipped: 1")
}

func TestSeedSucceedsWithSkippedTenants(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{report: tenancy.Report{Succeeded: []string{"alpha"}, Skipped: []string{"beta"}}}

	out, _, err := run(t, b, "seed")
	require.NoError(t, err)
	require.Empty(t, b.batchOpts.TenantIDs)
	require.Contains(t, out, "successful: 1  failed: 0  skipped: 1")
}

func TestCreate(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	out, _, err := run(t, b, "create", "--name", "Alpha Dental", "--domain", "alpha.clinic.test", "--domain", "www.alpha.test", "--db-password", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "Alpha Dental", b.created.Name)
	require.Equal(t, []string{"alpha.clinic.test", "www.alpha.test"}, b.created.Domains)
	require.Equal(t, "s3cret", b.created.DBPassword)
	require.Nil(t, b.created.Owner)
	require.Contains(t, out, "Tenant alpha_dental (Alpha Dental) is ready on database clinic_alpha_dental")
}

func TestCreateWithOwner(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	_, _, err := run(t, b, "create", "--name", "Alpha Dental", "--owner-name", "Dr. Alpha", "--owner-phone", "0100", "--owner-password", "s3cret!")
	require.NoError(t, err)
	require.Equal(t, &persistence.ClinicOwner{Name: "Dr. Alpha", Phone: "0100", Password: "s3cret!"}, b.created.Owner)
}

func TestCreateReportsStepFailure(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{createErr: &service.StepError{
		Step:       service.StateCreatingDatabase,
		RolledBack: true,
		Err:        errors.New("permission denied to create database"),
	}}
	_, _, err := run(t, b, "create", "--name", "Alpha Dental")
	require.Error(t, err)
	require.Contains(t, err.Error(), "provisioning failed at creating_database (rolled back: true")

	b = &fakeBackend{createErr: &service.ValidationError{Fields: service.FieldErrors{"id": {"id is taken"}}}}
	_, _, err = run(t, b, "create", "--name", "Alpha Dental")
	require.EqualError(t, err, "invalid tenant: id: id is taken")

	_, _, err = run(t, &fakeBackend{}, "create")
	require.Error(t, err)
}

func TestDeleteWarnsOnDropError(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{deleteRes: service.DeleteResult{RecordRemoved: true, DropError: "database is being accessed by other users"}}
	out, errOut, err := run(t, b, "delete", "--tenant", "alpha")
	require.NoError(t, err)
	require.Contains(t, errOut, "was not dropped")
	require.Contains(t, out, "Tenant alpha deleted (database dropped: false)")
}

func TestOpenerErrorIsReturned(t *testing.T) {
	t.Parallel()

	cmd := Command(func(context.Context) (Backend, func(), error) {
		return nil, nil, errors.New("DATABASE_URL is required")
	})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs([]string{"list"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.EqualError(t, cmd.Execute(), "DATABASE_URL is required")
}
