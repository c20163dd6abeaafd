package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// Baseline reference data every clinic starts with.
var (
	baselinePermissions = []string{
		"view patients", "create patients", "edit patients", "delete patients",
		"view cases", "create cases", "edit cases", "delete cases",
		"view reservations", "create reservations", "edit reservations", "delete reservations",
		"view bills", "create bills", "edit bills", "delete bills",
		"view recipes", "create recipes", "edit recipes", "delete recipes",
		"view settings", "edit settings",
		"view users", "create users", "edit users", "delete users",
		"view reports",
	}

	// nil grants every permission
	baselineRoles = []struct {
		name        string
		permissions []string
	}{
		{name: OwnerRole},
		{name: "doctor", permissions: []string{
			"view patients", "create patients", "edit patients",
			"view cases", "create cases", "edit cases",
			"view reservations", "create reservations", "edit reservations",
			"view bills", "create bills", "edit bills",
			"view recipes", "create recipes", "edit recipes",
			"view settings", "view reports",
		}},
		{name: "secretary", permissions: []string{
			"view patients", "create patients", "edit patients",
			"view reservations", "create reservations", "edit reservations",
			"view bills",
		}},
	}

	baselineStatuses = []struct{ name, color, description string }{
		{"Pending", "#FFA500", "Case is pending"},
		{"In Progress", "#2196F3", "Case is in progress"},
		{"Completed", "#4CAF50", "Case is completed"},
		{"Cancelled", "#F44336", "Case is cancelled"},
	}

	baselineCategories = []struct{ name, nameAR string }{
		{"General Checkup", "فحص عام"},
		{"Cleaning", "تنظيف الأسنان"},
		{"Filling", "حشوة"},
		{"Extraction", "خلع"},
		{"Root Canal", "علاج عصب"},
		{"Crown", "تاج"},
		{"Bridge", "جسر"},
		{"Implant", "زراعة"},
		{"Orthodontics", "تقويم الأسنان"},
		{"Whitening", "تبييض الأسنان"},
	}
)

// SeedResult counts the rows inserted by one seeding run; a re-run on a seeded tenant reports zeros.
type SeedResult struct {
	Permissions     int64
	Roles           int64
	RolePermissions int64
	Statuses        int64
	Categories      int64
}

// Total sums every counter.
func (r SeedResult) Total() int64 {
	return r.Permissions + r.Roles + r.RolePermissions + r.Statuses + r.Categories
}

// TenantSeeder inserts baseline reference rows into the scoped tenant database.
type TenantSeeder struct {
	db *TenantDB
}

func NewTenantSeeder(db *TenantDB) *TenantSeeder {
	if db == nil {
		panic("tenant seeder requires tenant db")
	}
	return &TenantSeeder{db: db}
}

// Seed is idempotent: every insert is ON CONFLICT DO NOTHING on a natural key.
func (s *TenantSeeder) Seed(ctx context.Context) (SeedResult, error) {
	var res SeedResult
	err := s.db.WithTenant(ctx, func(tx pgx.Tx) error {
		for _, name := range baselinePermissions {
			n, err := execCount(ctx, tx, `INSERT INTO permissions (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
			if err != nil {
				return fmt.Errorf("seed permission %q: %w", name, err)
			}
			res.Permissions += n
		}

		for _, role := range baselineRoles {
			n, err := execCount(ctx, tx, `INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, role.name)
			if err != nil {
				return fmt.Errorf("seed role %q: %w", role.name, err)
			}
			res.Roles += n

			grant := `INSERT INTO role_permissions (role_id, permission_id)
                SELECT r.id, p.id FROM roles r CROSS JOIN permissions p
                WHERE r.name = $1 AND ($2::text[] IS NULL OR p.name = ANY($2))
                ON CONFLICT DO NOTHING`
			n, err = execCount(ctx, tx, grant, role.name, role.permissions)
			if err != nil {
				return fmt.Errorf("seed role %q permissions: %w", role.name, err)
			}
			res.RolePermissions += n
		}

		for _, st := range baselineStatuses {
			n, err := execCount(ctx, tx, `INSERT INTO statuses (name, color, description) VALUES ($1, $2, $3)
                ON CONFLICT (name) DO NOTHING`, st.name, st.color, st.description)
			if err != nil {
				return fmt.Errorf("seed status %q: %w", st.name, err)
			}
			res.Statuses += n
		}

		for i, c := range baselineCategories {
			n, err := execCount(ctx, tx, `INSERT INTO case_categories (name, name_ar, name_en, "order") VALUES ($1, $2, $1, $3)
                ON CONFLICT (name) DO NOTHING`, c.name, c.nameAR, i+1)
			if err != nil {
				return fmt.Errorf("seed category %q: %w", c.name, err)
			}
			res.Categories += n
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	return res, nil
}

// OwnerRole is the role granted to the clinic owner created at provisioning.
const OwnerRole = "clinic_super_doctor"

// ClinicOwner is the first user of a clinic. Email is optional; Password is stored as a bcrypt hash.
type ClinicOwner struct {
	Name     string
	Phone    string
	Email    string
	Password string
}

// EnsureOwner creates the clinic owner in the scoped tenant database unless a user with the same
// phone or email exists. It reports whether a row was inserted. Run it after Seed so the role exists.
func (s *TenantSeeder) EnsureOwner(ctx context.Context, owner ClinicOwner) (bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(owner.Password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash owner password: %w", err)
	}
	var created bool
	err = s.db.WithTenant(ctx, func(tx pgx.Tx) error {
		n, err := execCount(ctx, tx, `INSERT INTO users (id, name, email, phone, password_hash, role_id)
                VALUES ($1, $2, NULLIF($3, ''), $4, $5, (SELECT id FROM roles WHERE name = $6))
                ON CONFLICT DO NOTHING`,
			uuid.New(), owner.Name, owner.Email, owner.Phone, string(hash), OwnerRole)
		if err != nil {
			return fmt.Errorf("create clinic owner: %w", err)
		}
		created = n == 1
		return nil
	})
	return created, err
}

func execCount(ctx context.Context, tx pgx.Tx, sql string, args ...any) (int64, error) {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
