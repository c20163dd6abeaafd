package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinichub/clinic-api/platform/go/persistence"
)

// Repository defines the persistence operations required by the patients service.
// Every call runs against the tenant database bound to ctx.
type Repository interface {
	Create(ctx context.Context, params persistence.CreatePatientParams) (persistence.Patient, error)
	List(ctx context.Context, params persistence.ListPatientsParams) (persistence.ListPatientsResult, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.Patient, error)
}

type postgresRepository struct {
	store *persistence.PatientStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.PatientStore) Repository {
	if store == nil {
		panic("patient store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Create(ctx context.Context, params persistence.CreatePatientParams) (persistence.Patient, error) {
	return r.store.Create(ctx, params)
}

func (r *postgresRepository) List(ctx context.Context, params persistence.ListPatientsParams) (persistence.ListPatientsResult, error) {
	return r.store.List(ctx, params)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (persistence.Patient, error) {
	return r.store.Get(ctx, id)
}
