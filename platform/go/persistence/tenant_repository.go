package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// Central tables.
const (
	TenantsTable = "tenants"
	DomainsTable = "domains"
)

// Conflicts raised by the central unique constraints.
var (
	ErrTenantIDTaken     = errors.New("tenant id already exists")
	ErrDatabaseNameTaken = errors.New("tenant database name already exists")
	ErrDomainTaken       = errors.New("domain already claimed")
)

// Provisioning states the store filters on.
const (
	StateReady           = "ready"
	StateDeleting        = "deleting"
	StateDatabaseDropped = "database_dropped"
)

// teardownStates are never routed nor batched.
var teardownStates = []string{StateDeleting, StateDatabaseDropped}

// routable selects tenants whose database is fully provisioned: ready ones, and ready ones
// re-running provisioning steps (provisioned_at is stamped on the first ready).
func routable(alias string) string {
	return fmt.Sprintf(`(%[1]sprovisioning_state = 'ready' OR (%[1]sprovisioned_at IS NOT NULL AND %[1]sprovisioning_state IN ('creating_database', 'running_migrations', 'seeding_baseline')))`, alias)
}

// TenantRecord represents a central tenant row.
type TenantRecord struct {
	ID                   string         `db:"id"`
	Name                 string         `db:"name"`
	Address              *string        `db:"address"`
	Logo                 *string        `db:"logo"`
	RxImg                *string        `db:"rx_img"`
	WhatsappTemplateSID  *string        `db:"whatsapp_template_sid"`
	WhatsappPhone        *string        `db:"whatsapp_phone"`
	APIWhatsapp          *string        `db:"api_whatsapp"`
	WhatsappMessageCount int            `db:"whatsapp_message_count"`
	ShowImageCase        bool           `db:"show_image_case"`
	TeethV2              bool           `db:"teeth_v2"`
	SendMsg              bool           `db:"send_msg"`
	ShowRxID             bool           `db:"show_rx_id"`
	DoctorMony           float64        `db:"doctor_mony"`
	Data                 map[string]any `db:"data"`
	DBName               string         `db:"db_name"`
	DBUsername           *string        `db:"db_username"`
	DBPassword           *string        `db:"db_password"`
	ProvisioningState    string         `db:"provisioning_state"`
	ProvisioningError    *string        `db:"provisioning_error"`
	ProvisionedAt        *time.Time     `db:"provisioned_at"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

// Routing returns the subset needed to resolve credentials.
func (r TenantRecord) Routing() tenant.Record {
	return tenant.Record{
		ID:         r.ID,
		Name:       r.Name,
		DBName:     r.DBName,
		DBUsername: deref(r.DBUsername),
		DBPassword: deref(r.DBPassword),
	}
}

// DomainRecord represents a central domain row.
type DomainRecord struct {
	Domain    string    `db:"domain"`
	TenantID  string    `db:"tenant_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Availability reports which of the unique keys of a prospective tenant are already used.
type Availability struct {
	IDTaken       bool
	DatabaseTaken bool
	TakenDomains  []string
}

// Free reports whether nothing collides.
func (a Availability) Free() bool {
	return !a.IDTaken && !a.DatabaseTaken && len(a.TakenDomains) == 0
}

const tenantColumns = `id, name, address, logo, rx_img, whatsapp_template_sid, whatsapp_phone,
        api_whatsapp, whatsapp_message_count, show_image_case, teeth_v2, send_msg, show_rx_id,
        doctor_mony, data, db_name, db_username, db_password, provisioning_state,
        provisioning_error, provisioned_at, created_at, updated_at`

// TenantStore provides access to the central tenants and domains tables.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a store; assumes bootstrap already created the tables.
func NewTenantStore(ctx context.Context, pool *pgxpool.Pool) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{pool: pool}, nil
}

// Create inserts the tenant and its domains in one transaction.
func (s *TenantStore) Create(ctx context.Context, rec TenantRecord, domains []string) (TenantRecord, error) {
	if rec.ID == "" {
		return TenantRecord{}, errors.New("tenant id is required")
	}
	if rec.DBName == "" {
		return TenantRecord{}, errors.New("tenant db name is required")
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	if rec.ProvisioningState == "" {
		rec.ProvisioningState = "requested"
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TenantRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`
        INSERT INTO %s (
            id, name, address, logo, rx_img, whatsapp_template_sid, whatsapp_phone,
            api_whatsapp, whatsapp_message_count, show_image_case, teeth_v2, send_msg,
            show_rx_id, doctor_mony, data, db_name, db_username, db_password,
            provisioning_state, provisioning_error
        ) VALUES (
            $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
        )
        RETURNING %s
    `, TenantsTable, tenantColumns)

	out, err := scanTenantRecord(tx.QueryRow(ctx, query,
		rec.ID, rec.Name, rec.Address, rec.Logo, rec.RxImg, rec.WhatsappTemplateSID,
		rec.WhatsappPhone, rec.APIWhatsapp, rec.WhatsappMessageCount, rec.ShowImageCase,
		rec.TeethV2, rec.SendMsg, rec.ShowRxID, rec.DoctorMony, rec.Data, rec.DBName,
		rec.DBUsername, rec.DBPassword, rec.ProvisioningState, rec.ProvisioningError,
	))
	if err != nil {
		return TenantRecord{}, mapTenantConflict(err)
	}

	insertDomain := fmt.Sprintf(`INSERT INTO %s (domain, tenant_id) VALUES ($1, $2)`, DomainsTable)
	for _, d := range domains {
		if _, err := tx.Exec(ctx, insertDomain, tenant.NormalizeHost(d), rec.ID); err != nil {
			return TenantRecord{}, mapTenantConflict(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return TenantRecord{}, err
	}
	return out, nil
}

// Get fetches a tenant by id in any provisioning state.
func (s *TenantStore) Get(ctx context.Context, id string) (TenantRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, tenantColumns, TenantsTable)
	return scanTenantRecord(s.pool.QueryRow(ctx, query, id))
}

// CheckAvailability reports collisions on id, database name and domains.
func (s *TenantStore) CheckAvailability(ctx context.Context, id, dbName string, domains []string) (Availability, error) {
	var out Availability

	query := fmt.Sprintf(`SELECT
            EXISTS (SELECT 1 FROM %[1]s WHERE id = $1),
            EXISTS (SELECT 1 FROM %[1]s WHERE db_name = $2)`, TenantsTable)
	if err := s.pool.QueryRow(ctx, query, id, dbName).Scan(&out.IDTaken, &out.DatabaseTaken); err != nil {
		return Availability{}, err
	}

	if len(domains) == 0 {
		return out, nil
	}

	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		normalized = append(normalized, tenant.NormalizeHost(d))
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT domain FROM %s WHERE domain = ANY($1) ORDER BY domain`, DomainsTable),
		normalized,
	)
	if err != nil {
		return Availability{}, err
	}
	taken, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Availability{}, err
	}
	out.TakenDomains = taken
	return out, nil
}

// List returns tenants whose id or name contains search, newest first.
func (s *TenantStore) List(ctx context.Context, search string, limit, offset int) ([]TenantRecord, int, error) {
	where := ""
	args := []any{}
	if term := strings.TrimSpace(search); term != "" {
		where = "WHERE id ILIKE $1 OR name ILIKE $1"
		args = append(args, "%"+escapeLike(term)+"%")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", TenantsTable, where)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s
        ORDER BY created_at DESC, id
        LIMIT %d OFFSET %d`, tenantColumns, TenantsTable, where, limit, offset)

	records, err := s.queryTenants(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListAll returns the tenants with the given ids, or every tenant when ids is empty,
// ordered by id. Tenants in teardown are excluded; failed ones are kept so batch runs
// can repair them.
func (s *TenantStore) ListAll(ctx context.Context, ids []string) ([]TenantRecord, error) {
	if len(ids) == 0 {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE provisioning_state <> ALL($1) ORDER BY id`, tenantColumns, TenantsTable)
		return s.queryTenants(ctx, query, teardownStates)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE provisioning_state <> ALL($1) AND id = ANY($2) ORDER BY id`, tenantColumns, TenantsTable)
	return s.queryTenants(ctx, query, teardownStates, ids)
}

// UpdateConfig writes the configuration fields of rec. Identity and credentials are never touched.
func (s *TenantStore) UpdateConfig(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	query := fmt.Sprintf(`
        UPDATE %s SET
            name = $2, address = $3, logo = $4, rx_img = $5, whatsapp_template_sid = $6,
            whatsapp_phone = $7, api_whatsapp = $8, whatsapp_message_count = $9,
            show_image_case = $10, teeth_v2 = $11, send_msg = $12, show_rx_id = $13,
            doctor_mony = $14, data = $15, updated_at = NOW()
        WHERE id = $1
        RETURNING %s`, TenantsTable, tenantColumns)

	return scanTenantRecord(s.pool.QueryRow(ctx, query,
		rec.ID, rec.Name, rec.Address, rec.Logo, rec.RxImg, rec.WhatsappTemplateSID,
		rec.WhatsappPhone, rec.APIWhatsapp, rec.WhatsappMessageCount, rec.ShowImageCase,
		rec.TeethV2, rec.SendMsg, rec.ShowRxID, rec.DoctorMony, rec.Data,
	))
}

// SetProvisioningState records a workflow transition. Reaching "ready" stamps provisioned_at.
func (s *TenantStore) SetProvisioningState(ctx context.Context, id, state string, lastError *string) error {
	query := fmt.Sprintf(`
        UPDATE %s SET
            provisioning_state = $2,
            provisioning_error = $3,
            provisioned_at = CASE WHEN $2 = 'ready' THEN NOW() ELSE provisioned_at END,
            updated_at = NOW()
        WHERE id = $1`, TenantsTable)

	tag, err := s.pool.Exec(ctx, query, id, state, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the tenant and its domains in one transaction and returns the removed domains.
func (s *TenantStore) Delete(ctx context.Context, id string) ([]string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 RETURNING domain`, DomainsTable), id)
	if err != nil {
		return nil, err
	}
	domains, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, TenantsTable), id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return domains, nil
}

// ListDomains returns the domains routed to the tenant.
func (s *TenantStore) ListDomains(ctx context.Context, tenantID string) ([]DomainRecord, error) {
	query := fmt.Sprintf(`SELECT domain, tenant_id, created_at FROM %s WHERE tenant_id = $1 ORDER BY domain`, DomainsTable)
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[DomainRecord])
}

// AddDomain claims domain for the tenant.
func (s *TenantStore) AddDomain(ctx context.Context, tenantID, domain string) (DomainRecord, error) {
	query := fmt.Sprintf(`INSERT INTO %s (domain, tenant_id) VALUES ($1, $2)
        RETURNING domain, tenant_id, created_at`, DomainsTable)
	rows, err := s.pool.Query(ctx, query, tenant.NormalizeHost(domain), tenantID)
	if err != nil {
		return DomainRecord{}, err
	}
	out, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[DomainRecord])
	if err != nil {
		if PgErrorCode(err) == codeForeignKeyViolation {
			return DomainRecord{}, ErrNotFound
		}
		return DomainRecord{}, mapTenantConflict(err)
	}
	return out, nil
}

// RemoveDomain releases domain from the tenant.
func (s *TenantStore) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND domain = $2`, DomainsTable)
	tag, err := s.pool.Exec(ctx, query, tenantID, tenant.NormalizeHost(domain))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByID implements tenant.Lookup. Only routable tenants are found.
func (s *TenantStore) FindByID(ctx context.Context, id string) (tenant.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND %s`, tenantColumns, TenantsTable, routable(""))
	rec, err := scanTenantRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return tenant.Record{}, lookupError(err)
	}
	return rec.Routing(), nil
}

// FindByDomain implements tenant.Lookup. Only routable tenants are found.
func (s *TenantStore) FindByDomain(ctx context.Context, domain string) (tenant.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s t
        JOIN %s d ON d.tenant_id = t.id
        WHERE d.domain = $1 AND %s`,
		prefixColumns("t", tenantColumns), TenantsTable, DomainsTable, routable("t."))
	rec, err := scanTenantRecord(s.pool.QueryRow(ctx, query, tenant.NormalizeHost(domain)))
	if err != nil {
		return tenant.Record{}, lookupError(err)
	}
	return rec.Routing(), nil
}

func (s *TenantStore) queryTenants(ctx context.Context, query string, args ...any) ([]TenantRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TenantRecord
	for rows.Next() {
		rec, err := scanTenantRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	if err := row.Scan(
		&rec.ID, &rec.Name, &rec.Address, &rec.Logo, &rec.RxImg, &rec.WhatsappTemplateSID,
		&rec.WhatsappPhone, &rec.APIWhatsapp, &rec.WhatsappMessageCount, &rec.ShowImageCase,
		&rec.TeethV2, &rec.SendMsg, &rec.ShowRxID, &rec.DoctorMony, &rec.Data, &rec.DBName,
		&rec.DBUsername, &rec.DBPassword, &rec.ProvisioningState, &rec.ProvisioningError,
		&rec.ProvisionedAt, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrNotFound
		}
		return TenantRecord{}, err
	}
	return rec, nil
}

func mapTenantConflict(err error) error {
	switch {
	case IsUniqueViolation(err, "tenants_pkey"):
		return ErrTenantIDTaken
	case IsUniqueViolation(err, "tenants_db_name_uniq"):
		return ErrDatabaseNameTaken
	case IsUniqueViolation(err, "domains_pkey"):
		return ErrDomainTaken
	}
	return err
}

func lookupError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return tenant.ErrTenantNotFound
	}
	return err
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ tenant.Lookup = (*TenantStore)(nil)
