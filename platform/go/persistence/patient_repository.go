package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const PatientsTable = "patients"

// Patient represents a row in the tenant patients table.
type Patient struct {
	ID            uuid.UUID  `db:"id"`
	Name          string     `db:"name"`
	Age           *int32     `db:"age"`
	Phone         *string    `db:"phone"`
	Sex           *string    `db:"sex"`
	Address       *string    `db:"address"`
	Notes         *string    `db:"notes"`
	BirthDate     *time.Time `db:"birth_date"`
	RxID          *string    `db:"rx_id"`
	CreditBalance int64      `db:"credit_balance"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// ErrPatientNotFound indicates a missing (or soft-deleted) patient.
var ErrPatientNotFound = errors.New("patient not found")

// PatientStore reads and writes patients of the tenant bound to the request scope.
type PatientStore struct {
	db *TenantDB
}

func NewPatientStore(db *TenantDB) *PatientStore {
	if db == nil {
		panic("patient store requires tenant db")
	}
	return &PatientStore{db: db}
}

// CreatePatientParams captures the fields accepted on creation.
type CreatePatientParams struct {
	ID        uuid.UUID
	Name      string
	Age       *int32
	Phone     *string
	Sex       *string
	Address   *string
	Notes     *string
	BirthDate *time.Time
	CreatorID *uuid.UUID
}

// ListPatientsParams captures search and pagination.
type ListPatientsParams struct {
	Page     int
	PageSize int
	Search   string
}

// ListPatientsResult includes the rows and the total count.
type ListPatientsResult struct {
	Patients   []Patient
	TotalItems int
}

const patientColumns = `id, name, age, phone, sex, address, notes, birth_date, rx_id, credit_balance, created_at, updated_at`

func (s *PatientStore) Create(ctx context.Context, params CreatePatientParams) (Patient, error) {
	if params.ID == uuid.Nil {
		return Patient{}, errors.New("patient id is required")
	}

	var out Patient
	err := s.db.WithTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, fmt.Sprintf(`
            INSERT INTO %s (id, name, age, phone, sex, address, notes, birth_date, creator_id, updator_id)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
            RETURNING %s
        `, PatientsTable, patientColumns),
			params.ID, strings.TrimSpace(params.Name), params.Age, params.Phone, params.Sex,
			params.Address, params.Notes, params.BirthDate, params.CreatorID,
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Patient])
		return err
	})
	if err != nil {
		return Patient{}, err
	}
	return out, nil
}

func (s *PatientStore) Get(ctx context.Context, id uuid.UUID) (Patient, error) {
	var out Patient
	err := s.db.ReadTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND deleted_at IS NULL`,
			patientColumns, PatientsTable), id)
		if err != nil {
			return err
		}
		out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Patient])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Patient{}, ErrPatientNotFound
	}
	if err != nil {
		return Patient{}, err
	}
	return out, nil
}

func (s *PatientStore) List(ctx context.Context, params ListPatientsParams) (ListPatientsResult, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 15
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	where := "deleted_at IS NULL"
	var args []any
	if term := strings.TrimSpace(params.Search); term != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(term))+"%")
		where += fmt.Sprintf(" AND (LOWER(name) LIKE $%d OR phone LIKE $%d)", len(args), len(args))
	}

	result := ListPatientsResult{Patients: []Patient{}}
	err := s.db.ReadTenant(ctx, func(tx pgx.Tx) error {
		countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", PatientsTable, where)
		if err := tx.QueryRow(ctx, countQuery, args...).Scan(&result.TotalItems); err != nil {
			return fmt.Errorf("count patients: %w", err)
		}
		if result.TotalItems == 0 {
			return nil
		}

		dataArgs := append(append([]any{}, args...), params.PageSize, (params.Page-1)*params.PageSize)
		rows, err := tx.Query(ctx, fmt.Sprintf(`
            SELECT %s FROM %s
            WHERE %s
            ORDER BY created_at DESC, id
            LIMIT $%d OFFSET $%d
        `, patientColumns, PatientsTable, where, len(dataArgs)-1, len(dataArgs)), dataArgs...)
		if err != nil {
			return fmt.Errorf("list patients: %w", err)
		}
		result.Patients, err = pgx.CollectRows(rows, pgx.RowToStructByName[Patient])
		return err
	})
	if err != nil {
		return ListPatientsResult{}, err
	}
	return result, nil
}
