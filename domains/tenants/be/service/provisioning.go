package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/clinichub/clinic-api/platform/go/metrics"
	"github.com/clinichub/clinic-api/platform/go/persistence"
	"github.com/clinichub/clinic-api/platform/go/tenancy"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// State is a provisioning workflow state persisted on the tenant row.
type State string

const (
	StateRequested            State = "requested"
	StateValidatingUniqueness State = "validating_uniqueness"
	StateCreatingDatabase     State = "creating_database"
	StateRunningMigrations    State = "running_migrations"
	StateSeedingBaseline      State = "seeding_baseline"
	StateReady                State = "ready"
	StateFailed               State = "failed"

	StateDeleting        State = "deleting"
	StateDatabaseDropped State = "database_dropped"
	StateRecordRemoved   State = "record_removed"
)

// TearingDown reports whether a delete has started. Such tenants are neither routed nor batched.
func (s State) TearingDown() bool {
	return s == StateDeleting || s == StateDatabaseDropped
}

// StepError reports the provisioning step that failed. It matches ErrProvisioningStepFailed.
type StepError struct {
	Step State
	// RolledBack is set when everything this attempt created was removed again.
	RolledBack bool
	// CleanupRequired is set when objects created by this attempt were left behind.
	CleanupRequired bool
	Err             error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{ErrProvisioningStepFailed, e.Err}
}

// CreateInput represents the request to create a tenant. Empty ID means derive from Name;
// empty DB* fields mean derive from conventions.
type CreateInput struct {
	ID         string
	Name       string
	Domains    []string
	DBName     string
	DBUsername string
	DBPassword string
	Settings   Settings
	Data       map[string]any
	// Owner, when set, is created in the tenant database with the clinic_super_doctor role.
	Owner *persistence.ClinicOwner
}

// Create registers and provisions a tenant. Uniqueness conflicts are reported before anything is
// created; a failing step leaves the tenant in state failed (or removed, with Cleanup).
func (s *Service) Create(ctx context.Context, in CreateInput) (Tenant, error) {
	t, domains, err := s.validateCreate(in)
	if err != nil {
		return Tenant{}, err
	}

	if t.ID == "" {
		if t.ID, err = s.generateID(ctx, t.Name); err != nil {
			return Tenant{}, err
		}
	}
	if t.DBName == "" {
		t.DBName = s.deps.Resolver.DatabaseName(t.ID)
	}
	if len(t.DBName) > tenant.MaxIdentifierLength {
		return Tenant{}, &ValidationError{Fields: FieldErrors{"db_name": {"database name exceeds 63 characters"}}}
	}

	t.State = StateValidatingUniqueness
	if err := s.checkUnique(ctx, t, domains); err != nil {
		metrics.ProvisioningSteps.WithLabelValues(string(StateValidatingUniqueness), "failed").Inc()
		return Tenant{}, err
	}
	metrics.ProvisioningSteps.WithLabelValues(string(StateValidatingUniqueness), "succeeded").Inc()

	// the unique constraints are the final word when two creates race
	created, err := s.repo.Create(ctx, t, domains)
	if err != nil {
		return Tenant{}, err
	}
	created.Domains = domains

	s.logger.Info("tenant registered", zap.String("tenant_id", created.ID), zap.String("database", created.DBName))
	return s.provision(ctx, created, true, normalizeOwner(in.Owner))
}

// Reprovision re-runs the workflow from CreatingDatabase for an existing tenant. Every step is
// idempotent, so running it on a ready tenant changes nothing.
func (s *Service) Reprovision(ctx context.Context, id string) (Tenant, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if t.State.TearingDown() {
		return Tenant{}, ErrNotFound
	}
	return s.provision(ctx, t, false, nil)
}

// registered is set when Create inserted the central rows in this attempt.
func (s *Service) provision(ctx context.Context, t Tenant, registered bool, owner *persistence.ClinicOwner) (Tenant, error) {
	rec := t.Routing()
	d, err := s.deps.Resolver.Resolve(rec)
	if err != nil {
		return Tenant{}, err
	}
	req := DatabaseRequest{TenantID: t.ID, Database: d.Database, Username: d.Username, Password: d.Password}
	logger := s.logger.With(zap.String("tenant_id", t.ID))

	var created DatabaseResult
	steps := []struct {
		state State
		run   func() error
	}{
		{StateCreatingDatabase, func() error {
			if !s.cfg.CreateDatabases {
				ok, err := s.deps.Databases.Exists(ctx, d.Database)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("database %q does not exist and database creation is disabled", d.Database)
				}
				return nil
			}
			res, err := s.deps.Databases.Ensure(ctx, req)
			created = res
			// an earlier handle may have cached a failed connection to the missing database
			s.deps.Registry.Purge(t.ID)
			return err
		}},
		{StateRunningMigrations, func() error {
			return s.deps.Scoper.Run(ctx, rec, func(ctx context.Context) error {
				_, err := s.deps.Migrator.Migrate(ctx, false)
				return err
			})
		}},
		{StateSeedingBaseline, func() error {
			err := s.deps.Scoper.Run(ctx, rec, func(ctx context.Context) error {
				if _, err := s.deps.Seeder.Seed(ctx); err != nil {
					return err
				}
				if owner == nil {
					return nil
				}
				inserted, err := s.deps.Seeder.EnsureOwner(ctx, *owner)
				if err != nil {
					return err
				}
				logger.Info("clinic owner ensured", zap.Bool("created", inserted))
				return nil
			})
			if err != nil || s.deps.Assets == nil {
				return err
			}
			return s.deps.Assets.Ensure(ctx, t.ID)
		}},
	}

	for _, step := range steps {
		if err := s.repo.SetState(ctx, t.ID, step.state, nil); err != nil {
			return Tenant{}, err
		}
		if err := step.run(); err != nil {
			metrics.ProvisioningSteps.WithLabelValues(string(step.state), "failed").Inc()
			return Tenant{}, s.fail(ctx, t, req, step.state, created, registered, err)
		}
		metrics.ProvisioningSteps.WithLabelValues(string(step.state), "succeeded").Inc()
		logger.Debug("provisioning step done", zap.String("step", string(step.state)))
	}

	if err := s.repo.SetState(ctx, t.ID, StateReady, nil); err != nil {
		return Tenant{}, err
	}
	logger.Info("tenant ready")
	return s.Get(ctx, t.ID)
}

// fail records a failed step and, with Cleanup, removes what this attempt created.
// removeRecord is set when the central rows were inserted by this attempt.
func (s *Service) fail(ctx context.Context, t Tenant, req DatabaseRequest, step State, created DatabaseResult, removeRecord bool, cause error) error {
	// bookkeeping must survive a cancelled request
	ctx = context.WithoutCancel(ctx)
	stepErr := &StepError{Step: step, Err: cause}
	leftovers := created.CreatedDatabase || created.CreatedRole
	logger := s.logger.With(zap.String("tenant_id", t.ID), zap.String("step", string(step)))

	s.deps.Registry.Purge(t.ID)
	if !s.cfg.Cleanup {
		stepErr.CleanupRequired = leftovers
		s.markFailed(ctx, t.ID, step, cause, logger)
		logger.Error("provisioning failed", zap.Bool("cleanup_required", stepErr.CleanupRequired), zap.Error(cause))
		return stepErr
	}

	rolledBack := true
	if leftovers {
		drop := req
		drop.DropDatabase = created.CreatedDatabase
		drop.DropRole = created.CreatedRole
		if err := s.deps.Databases.Drop(ctx, drop); err != nil {
			rolledBack = false
			logger.Error("rollback drop failed", zap.Error(err))
		}
	}
	if removeRecord && rolledBack {
		domains, err := s.repo.Delete(ctx, t.ID)
		if err != nil {
			rolledBack = false
			logger.Error("rollback record removal failed", zap.Error(err))
		} else {
			s.invalidate(ctx, t.ID, domains...)
		}
	}

	stepErr.RolledBack = rolledBack
	stepErr.CleanupRequired = !rolledBack && leftovers
	if !(removeRecord && rolledBack) {
		s.markFailed(ctx, t.ID, step, cause, logger)
	}
	logger.Error("provisioning failed", zap.Bool("rolled_back", rolledBack), zap.Error(cause))
	return stepErr
}

func (s *Service) markFailed(ctx context.Context, id string, step State, cause error, logger *zap.Logger) {
	msg := fmt.Sprintf("%s: %v", step, cause)
	if err := s.repo.SetState(ctx, id, StateFailed, &msg); err != nil {
		logger.Error("record failed state", zap.Error(err))
	}
}

// DeleteResult reports how far the teardown went.
type DeleteResult struct {
	RecordRemoved   bool
	DatabaseDropped bool
	DropError       string
}

// Delete tears a tenant down: mark deleting, drop its database (best effort), remove the
// central rows. A tenant left in a teardown state can be deleted again.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	logger := s.logger.With(zap.String("tenant_id", id))

	if err := s.repo.SetState(ctx, id, StateDeleting, nil); err != nil {
		return DeleteResult{}, err
	}
	s.deps.Registry.Purge(id)
	s.invalidate(ctx, id, t.Domains...)
	metrics.ProvisioningSteps.WithLabelValues(string(StateDeleting), "succeeded").Inc()

	var result DeleteResult
	if s.cfg.CreateDatabases {
		if err := s.dropDatabase(ctx, t); err != nil {
			result.DropError = err.Error()
			metrics.ProvisioningSteps.WithLabelValues(string(StateDatabaseDropped), "failed").Inc()
			logger.Warn("tenant database drop failed", zap.Error(err))
		} else {
			result.DatabaseDropped = true
			metrics.ProvisioningSteps.WithLabelValues(string(StateDatabaseDropped), "succeeded").Inc()
			if err := s.repo.SetState(ctx, id, StateDatabaseDropped, nil); err != nil {
				return result, err
			}
		}
	}

	domains, err := s.repo.Delete(ctx, id)
	if err != nil {
		return result, err
	}
	result.RecordRemoved = true
	metrics.ProvisioningSteps.WithLabelValues(string(StateRecordRemoved), "succeeded").Inc()
	s.invalidate(ctx, id, domains...)
	if s.deps.Assets != nil {
		if err := s.deps.Assets.RemoveAll(ctx, id); err != nil {
			logger.Warn("tenant assets removal failed", zap.Error(err))
		}
	}

	logger.Info("tenant deleted", zap.Bool("database_dropped", result.DatabaseDropped))
	return result, nil
}

func (s *Service) dropDatabase(ctx context.Context, t Tenant) error {
	d, err := s.deps.Resolver.Resolve(t.Routing())
	if err != nil {
		return err
	}
	return s.deps.Databases.Drop(ctx, DatabaseRequest{
		TenantID:     t.ID,
		Database:     d.Database,
		Username:     d.Username,
		DropDatabase: true,
		// explicitly configured roles are managed outside this service
		DropRole: t.DBUsername == "",
	})
}

// Migrate applies pending tenant migrations. fresh rolls every migration back first.
func (s *Service) Migrate(ctx context.Context, id string, fresh bool) ([]persistence.AppliedMigration, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var applied []persistence.AppliedMigration
	err = s.deps.Scoper.Run(ctx, t.Routing(), func(ctx context.Context) error {
		applied, err = s.deps.Migrator.Migrate(ctx, fresh)
		return err
	})
	return applied, err
}

// Seed inserts missing baseline rows.
func (s *Service) Seed(ctx context.Context, id string) (persistence.SeedResult, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return persistence.SeedResult{}, err
	}
	var res persistence.SeedResult
	err = s.deps.Scoper.Run(ctx, t.Routing(), func(ctx context.Context) error {
		res, err = s.deps.Seeder.Seed(ctx)
		return err
	})
	return res, err
}

// BatchOptions selects tenants for MigrateAll and SeedAll. Empty TenantIDs means every tenant.
type BatchOptions struct {
	TenantIDs []string
	Fresh     bool
	Seed      bool
}

// ErrNoCredentials marks a tenant skipped by a batch because no password could be resolved.
var ErrNoCredentials = errors.New("tenant has no database password")

// MigrateAll migrates (and optionally seeds) each selected tenant in its own scope.
// Unknown ids are reported as failed; tenants without a password are skipped.
func (s *Service) MigrateAll(ctx context.Context, opts BatchOptions) (tenancy.Report, error) {
	return s.batch(ctx, "migrate", opts.TenantIDs, func(ctx context.Context, rec tenant.Record) error {
		if _, err := s.deps.Migrator.Migrate(ctx, opts.Fresh); err != nil {
			return err
		}
		if !opts.Seed {
			return nil
		}
		_, err := s.deps.Seeder.Seed(ctx)
		return err
	})
}

// SeedAll seeds each selected tenant in its own scope.
func (s *Service) SeedAll(ctx context.Context, opts BatchOptions) (tenancy.Report, error) {
	return s.batch(ctx, "seed", opts.TenantIDs, func(ctx context.Context, rec tenant.Record) error {
		_, err := s.deps.Seeder.Seed(ctx)
		return err
	})
}

func (s *Service) batch(ctx context.Context, operation string, ids []string, fn func(ctx context.Context, rec tenant.Record) error) (tenancy.Report, error) {
	tenants, err := s.repo.ListAll(ctx, ids)
	if err != nil {
		return tenancy.Report{}, err
	}

	var pre tenancy.Report
	found := make(map[string]struct{}, len(tenants))
	recs := make([]tenant.Record, 0, len(tenants))
	for _, t := range tenants {
		found[t.ID] = struct{}{}
		d, err := s.deps.Resolver.Resolve(t.Routing())
		if err != nil {
			pre.Failed = append(pre.Failed, tenancy.Failure{TenantID: t.ID, Err: err})
			continue
		}
		if strings.TrimSpace(d.Password) == "" {
			s.logger.Warn("tenant skipped", zap.String("operation", operation), zap.String("tenant_id", t.ID), zap.Error(ErrNoCredentials))
			pre.Skipped = append(pre.Skipped, t.ID)
			continue
		}
		recs = append(recs, t.Routing())
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			pre.Failed = append(pre.Failed, tenancy.Failure{TenantID: id, Err: fmt.Errorf("%s: %w", id, ErrNotFound)})
			found[id] = struct{}{}
		}
	}

	report := s.deps.Scoper.ForEach(ctx, operation, recs, fn)
	report.Failed = append(pre.Failed, report.Failed...)
	report.Skipped = append(pre.Skipped, report.Skipped...)
	return report, nil
}

func (s *Service) validateCreate(in CreateInput) (Tenant, []string, error) {
	fields := FieldErrors{}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		fields.add("name", "name is required")
	}
	id := strings.TrimSpace(in.ID)
	if id != "" && !tenant.ValidID(id) {
		fields.add("id", "id must match ^[a-z0-9][a-z0-9_]*$ and be at most 63 characters")
	}
	for field, v := range map[string]string{"db_name": in.DBName, "db_username": in.DBUsername} {
		if v != "" && !tenant.ValidID(v) {
			fields.add(field, field+" must be a lowercase identifier of at most 63 characters")
		}
	}

	seen := map[string]struct{}{}
	domains := make([]string, 0, len(in.Domains))
	for _, raw := range in.Domains {
		d, msg := s.normalizeDomain(raw)
		if msg != "" {
			fields.add("domains", msg)
			continue
		}
		if _, dup := seen[d]; dup {
			fields.add("domains", fmt.Sprintf("%q listed twice", d))
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}

	if in.Data != nil {
		if err := s.validateData(in.Data); err != nil {
			fields.add("data", err.Error())
		}
	}
	if in.Settings.WhatsappMessageCount < 0 {
		fields.add("whatsapp_message_count", "must not be negative")
	}
	if in.Settings.DoctorMony < 0 {
		fields.add("doctor_mony", "must not be negative")
	}
	if in.Owner != nil {
		validateOwner(*normalizeOwner(in.Owner), fields)
	}

	if len(fields) > 0 {
		return Tenant{}, nil, &ValidationError{Fields: fields}
	}

	data := in.Data
	if data == nil {
		data = map[string]any{}
	}
	return Tenant{
		ID:         id,
		Name:       name,
		Settings:   in.Settings,
		Data:       data,
		DBName:     in.DBName,
		DBUsername: in.DBUsername,
		DBPassword: in.DBPassword,
		State:      StateRequested,
	}, domains, nil
}

const (
	maxOwnerPhone    = 20
	minOwnerPassword = 6
)

func normalizeOwner(o *persistence.ClinicOwner) *persistence.ClinicOwner {
	if o == nil {
		return nil
	}
	return &persistence.ClinicOwner{
		Name:     strings.TrimSpace(o.Name),
		Phone:    strings.TrimSpace(o.Phone),
		Email:    strings.ToLower(strings.TrimSpace(o.Email)),
		Password: o.Password,
	}
}

func validateOwner(o persistence.ClinicOwner, fields FieldErrors) {
	if o.Name == "" {
		fields.add("owner.name", "owner name is required")
	}
	switch {
	case o.Phone == "":
		fields.add("owner.phone", "owner phone is required")
	case utf8.RuneCountInString(o.Phone) > maxOwnerPhone:
		fields.add("owner.phone", fmt.Sprintf("owner phone must be at most %d characters", maxOwnerPhone))
	}
	if utf8.RuneCountInString(o.Password) < minOwnerPassword {
		fields.add("owner.password", fmt.Sprintf("owner password must be at least %d characters", minOwnerPassword))
	}
	if o.Email != "" {
		if addr, err := mail.ParseAddress(o.Email); err != nil || addr.Address != o.Email {
			fields.add("owner.email", "owner email is not a valid address")
		}
	}
}

// checkUnique fails with a conflict when id, database name or any domain is taken, or when a
// database of that name already exists on the server.
func (s *Service) checkUnique(ctx context.Context, t Tenant, domains []string) error {
	avail, err := s.repo.CheckAvailability(ctx, t.ID, t.DBName, domains)
	if err != nil {
		return err
	}
	switch {
	case avail.IDTaken:
		return fmt.Errorf("%w: %s", ErrConflictID, t.ID)
	case avail.DatabaseTaken:
		return fmt.Errorf("%w: %s", ErrConflictDatabase, t.DBName)
	case len(avail.TakenDomains) > 0:
		return fmt.Errorf("%w: %s", ErrConflictDomain, strings.Join(avail.TakenDomains, ", "))
	}

	if !s.cfg.CreateDatabases {
		return nil
	}
	exists, err := s.deps.Databases.Exists(ctx, t.DBName)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: database %s exists on the server", ErrConflictDatabase, t.DBName)
	}
	return nil
}
