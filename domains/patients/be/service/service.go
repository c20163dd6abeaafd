package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinichub/clinic-api/domains/patients/be/repo"
	"github.com/clinichub/clinic-api/platform/go/persistence"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

var ErrNotFound = errors.New("patient not found")

// Patient represents the domain view of a patient record.
type Patient struct {
	ID            uuid.UUID
	Name          string
	Age           *int32
	Phone         *string
	Sex           *string
	Address       *string
	Notes         *string
	BirthDate     *time.Time
	RxID          *string
	CreditBalance int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ListOptions controls search and pagination.
type ListOptions struct {
	Search   string
	Page     int
	PageSize int
}

// ListResult wraps a page of patients with pagination metadata.
type ListResult struct {
	Patients   []Patient
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// CreateInput represents the payload required to register a patient.
type CreateInput struct {
	Name      string
	Age       *int32
	Phone     *string
	Sex       *string
	Address   *string
	Notes     *string
	BirthDate *time.Time
	// CreatorID is the authenticated user, when known.
	CreatorID *uuid.UUID
}

// Service defines the business operations for the patients domain.
type Service interface {
	Create(ctx context.Context, input CreateInput) (Patient, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Get(ctx context.Context, id uuid.UUID) (Patient, error)
}

type service struct {
	repo repo.Repository
}

// New constructs a patients Service instance backed by the provided repository.
func New(r repo.Repository) Service {
	if r == nil {
		panic("patients repository is required")
	}
	return &service{repo: r}
}

var allowedSex = map[string]struct{}{"male": {}, "female": {}}

func (s *service) Create(ctx context.Context, input CreateInput) (Patient, error) {
	fieldErrors := FieldErrors{}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		fieldErrors.add("name", "name is required")
	}
	if input.Age != nil && (*input.Age < 0 || *input.Age > 150) {
		fieldErrors.add("age", "age must be between 0 and 150")
	}
	sex := trimmed(input.Sex)
	if sex != nil {
		lower := strings.ToLower(*sex)
		if _, ok := allowedSex[lower]; !ok {
			fieldErrors.add("sex", "sex must be male or female")
		}
		sex = &lower
	}
	if input.BirthDate != nil && input.BirthDate.After(time.Now()) {
		fieldErrors.add("birth_date", "birth_date cannot be in the future")
	}

	if len(fieldErrors) > 0 {
		return Patient{}, &ValidationError{Fields: fieldErrors}
	}

	record, err := s.repo.Create(ctx, persistence.CreatePatientParams{
		ID:        uuid.New(),
		Name:      name,
		Age:       input.Age,
		Phone:     trimmed(input.Phone),
		Sex:       sex,
		Address:   trimmed(input.Address),
		Notes:     trimmed(input.Notes),
		BirthDate: input.BirthDate,
		CreatorID: input.CreatorID,
	})
	if err != nil {
		return Patient{}, mapPersistenceError(err)
	}

	return mapPatient(record), nil
}

func (s *service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 15
	}
	if pageSize > 100 {
		pageSize = 100
	}

	result, err := s.repo.List(ctx, persistence.ListPatientsParams{
		Page:     page,
		PageSize: pageSize,
		Search:   strings.TrimSpace(opts.Search),
	})
	if err != nil {
		return ListResult{}, err
	}

	patients := make([]Patient, 0, len(result.Patients))
	for _, record := range result.Patients {
		patients = append(patients, mapPatient(record))
	}

	totalPages := 0
	if result.TotalItems > 0 {
		totalPages = (result.TotalItems + pageSize - 1) / pageSize
	}

	return ListResult{
		Patients:   patients,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: result.TotalItems,
		TotalPages: totalPages,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Patient, error) {
	if id == uuid.Nil {
		return Patient{}, ErrNotFound
	}

	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return Patient{}, mapPersistenceError(err)
	}

	return mapPatient(record), nil
}

func mapPatient(record persistence.Patient) Patient {
	return Patient{
		ID:            record.ID,
		Name:          record.Name,
		Age:           record.Age,
		Phone:         record.Phone,
		Sex:           record.Sex,
		Address:       record.Address,
		Notes:         record.Notes,
		BirthDate:     record.BirthDate,
		RxID:          record.RxID,
		CreditBalance: record.CreditBalance,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func mapPersistenceError(err error) error {
	if errors.Is(err, persistence.ErrPatientNotFound) {
		return ErrNotFound
	}
	return err
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}
