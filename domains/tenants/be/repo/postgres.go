package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinichub/clinic-api/domains/tenants/be/service"
	"github.com/clinichub/clinic-api/platform/go/persistence"
)

// PostgresRepository implements the tenant repository on the central TenantStore.
type PostgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	offset := (opts.Page - 1) * opts.PageSize
	rows, total, err := r.store.List(ctx, opts.Search, opts.PageSize, offset)
	if err != nil {
		return service.ListResult{}, err
	}

	tenants := make([]service.Tenant, 0, len(rows))
	for _, rec := range rows {
		tenants = append(tenants, toServiceTenant(rec))
	}

	totalPages := (total + opts.PageSize - 1) / opts.PageSize
	return service.ListResult{Tenants: tenants, Page: opts.Page, PageSize: opts.PageSize, TotalItems: total, TotalPages: totalPages}, nil
}

func (r *PostgresRepository) ListAll(ctx context.Context, ids []string) ([]service.Tenant, error) {
	rows, err := r.store.ListAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	tenants := make([]service.Tenant, 0, len(rows))
	for _, rec := range rows {
		tenants = append(tenants, toServiceTenant(rec))
	}
	return tenants, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (service.Tenant, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) CheckAvailability(ctx context.Context, id, dbName string, domains []string) (service.Availability, error) {
	a, err := r.store.CheckAvailability(ctx, id, dbName, domains)
	if err != nil {
		return service.Availability{}, err
	}
	return service.Availability{IDTaken: a.IDTaken, DatabaseTaken: a.DatabaseTaken, TakenDomains: a.TakenDomains}, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant, domains []string) (service.Tenant, error) {
	out, err := r.store.Create(ctx, toRecord(t), domains)
	if err != nil {
		return service.Tenant{}, mapConflict(err)
	}
	return toServiceTenant(out), nil
}

func (r *PostgresRepository) UpdateSettings(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	out, err := r.store.UpdateConfig(ctx, toRecord(t))
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(out), nil
}

func (r *PostgresRepository) SetState(ctx context.Context, id string, state service.State, lastError *string) error {
	return mapNotFound(r.store.SetProvisioningState(ctx, id, string(state), lastError))
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) ([]string, error) {
	domains, err := r.store.Delete(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return domains, nil
}

func (r *PostgresRepository) ListDomains(ctx context.Context, tenantID string) ([]service.Domain, error) {
	rows, err := r.store.ListDomains(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]service.Domain, 0, len(rows))
	for _, d := range rows {
		out = append(out, service.Domain{Domain: d.Domain, TenantID: d.TenantID, CreatedAt: d.CreatedAt})
	}
	return out, nil
}

func (r *PostgresRepository) AddDomain(ctx context.Context, tenantID, domain string) (service.Domain, error) {
	d, err := r.store.AddDomain(ctx, tenantID, domain)
	if err != nil {
		return service.Domain{}, mapConflict(mapNotFound(err))
	}
	return service.Domain{Domain: d.Domain, TenantID: d.TenantID, CreatedAt: d.CreatedAt}, nil
}

func (r *PostgresRepository) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	err := r.store.RemoveDomain(ctx, tenantID, domain)
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrDomainNotFound
	}
	return err
}

func toRecord(t service.Tenant) persistence.TenantRecord {
	return persistence.TenantRecord{
		ID:                   t.ID,
		Name:                 t.Name,
		Address:              t.Settings.Address,
		Logo:                 t.Settings.Logo,
		RxImg:                t.Settings.RxImg,
		WhatsappTemplateSID:  t.Settings.WhatsappTemplateSID,
		WhatsappPhone:        t.Settings.WhatsappPhone,
		APIWhatsapp:          t.Settings.APIWhatsapp,
		WhatsappMessageCount: t.Settings.WhatsappMessageCount,
		ShowImageCase:        t.Settings.ShowImageCase,
		TeethV2:              t.Settings.TeethV2,
		SendMsg:              t.Settings.SendMsg,
		ShowRxID:             t.Settings.ShowRxID,
		DoctorMony:           t.Settings.DoctorMony,
		Data:                 t.Data,
		DBName:               t.DBName,
		DBUsername:           optional(t.DBUsername),
		DBPassword:           optional(t.DBPassword),
		ProvisioningState:    string(t.State),
		ProvisioningError:    t.LastError,
		ProvisionedAt:        t.ProvisionedAt,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func toServiceTenant(rec persistence.TenantRecord) service.Tenant {
	t := service.Tenant{
		ID:   rec.ID,
		Name: rec.Name,
		Settings: service.Settings{
			Address:              rec.Address,
			Logo:                 rec.Logo,
			RxImg:                rec.RxImg,
			WhatsappTemplateSID:  rec.WhatsappTemplateSID,
			WhatsappPhone:        rec.WhatsappPhone,
			APIWhatsapp:          rec.APIWhatsapp,
			WhatsappMessageCount: rec.WhatsappMessageCount,
			ShowImageCase:        rec.ShowImageCase,
			TeethV2:              rec.TeethV2,
			SendMsg:              rec.SendMsg,
			ShowRxID:             rec.ShowRxID,
			DoctorMony:           rec.DoctorMony,
		},
		Data:          rec.Data,
		DBName:        rec.DBName,
		State:         service.State(rec.ProvisioningState),
		LastError:     rec.ProvisioningError,
		ProvisionedAt: rec.ProvisionedAt,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if rec.DBUsername != nil {
		t.DBUsername = *rec.DBUsername
	}
	if rec.DBPassword != nil {
		t.DBPassword = *rec.DBPassword
	}
	return t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

func mapConflict(err error) error {
	switch {
	case errors.Is(err, persistence.ErrTenantIDTaken):
		return fmt.Errorf("%w: %v", service.ErrConflictID, err)
	case errors.Is(err, persistence.ErrDatabaseNameTaken):
		return fmt.Errorf("%w: %v", service.ErrConflictDatabase, err)
	case errors.Is(err, persistence.ErrDomainTaken):
		return fmt.Errorf("%w: %v", service.ErrConflictDomain, err)
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
