package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinichub/clinic-api/platform/go/tenant"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Errors returned by the service layer.
var (
	ErrNotFound               = errors.New("tenant not found")
	ErrConflictID             = errors.New("tenant id already exists")
	ErrConflictDatabase       = errors.New("tenant database name already in use")
	ErrConflictDomain         = errors.New("domain already assigned to a tenant")
	ErrDomainNotFound         = errors.New("domain not found")
	ErrProvisioningStepFailed = errors.New("provisioning step failed")
	ErrAssetsDisabled         = errors.New("tenant asset storage not configured")
)

// Settings holds the per-clinic configuration fields of a tenant.
type Settings struct {
	Address              *string
	Logo                 *string
	RxImg                *string
	WhatsappTemplateSID  *string
	WhatsappPhone        *string
	APIWhatsapp          *string
	WhatsappMessageCount int
	ShowImageCase        bool
	TeethV2              bool
	SendMsg              bool
	ShowRxID             bool
	DoctorMony           float64
}

// Tenant is a central registry entry.
type Tenant struct {
	ID            string
	Name          string
	Settings      Settings
	Data          map[string]any
	DBName        string
	DBUsername    string
	DBPassword    string
	State         State
	LastError     *string
	ProvisionedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Domains       []string
}

// Routing returns the fields the credential resolver and tenancy manager need.
func (t Tenant) Routing() tenant.Record {
	return tenant.Record{
		ID:         t.ID,
		Name:       t.Name,
		DBName:     t.DBName,
		DBUsername: t.DBUsername,
		DBPassword: t.DBPassword,
	}
}

// Domain is a host routed to a tenant.
type Domain struct {
	Domain    string
	TenantID  string
	CreatedAt time.Time
}

// Availability reports which unique keys of a prospective tenant are already in use.
type Availability struct {
	IDTaken       bool
	DatabaseTaken bool
	TakenDomains  []string
}

// ListOptions captures filters and pagination.
type ListOptions struct {
	Page     int
	PageSize int
	Search   string
}

// ListResult wraps paginated tenants.
type ListResult struct {
	Tenants    []Tenant
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Repository abstracts central persistence. Lookups never return tenants being deleted.
type Repository interface {
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	ListAll(ctx context.Context, ids []string) ([]Tenant, error)
	Get(ctx context.Context, id string) (Tenant, error)
	CheckAvailability(ctx context.Context, id, dbName string, domains []string) (Availability, error)
	Create(ctx context.Context, t Tenant, domains []string) (Tenant, error)
	UpdateSettings(ctx context.Context, t Tenant) (Tenant, error)
	SetState(ctx context.Context, id string, state State, lastError *string) error
	Delete(ctx context.Context, id string) ([]string, error)
	ListDomains(ctx context.Context, tenantID string) ([]Domain, error)
	AddDomain(ctx context.Context, tenantID, domain string) (Domain, error)
	RemoveDomain(ctx context.Context, tenantID, domain string) error
}

// Config tunes the provisioning workflow.
type Config struct {
	// CreateDatabases creates the physical database and role. When false the database must
	// already exist and is only checked.
	CreateDatabases bool
	// Cleanup rolls back what a failed Create produced in the same attempt.
	Cleanup bool
	// CentralDomains may never be attached to a tenant.
	CentralDomains []string
	Logger         *zap.Logger
}

// Service provides tenant registry and provisioning operations.
type Service struct {
	repo    Repository
	deps    ProvisioningDeps
	cfg     Config
	central map[string]struct{}
	logger  *zap.Logger
}

// New constructs a Service with required dependencies.
func New(repo Repository, deps ProvisioningDeps, cfg Config) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if deps.Resolver == nil || deps.Scoper == nil || deps.Registry == nil {
		panic("tenants service requires resolver, scoper and registry")
	}
	if deps.Databases == nil || deps.Migrator == nil || deps.Seeder == nil {
		panic("tenants service requires database provisioner, migrator and seeder")
	}
	if cfg.Logger == nil {
		panic("logger is required")
	}
	central := make(map[string]struct{}, len(cfg.CentralDomains))
	for _, d := range cfg.CentralDomains {
		if d = tenant.NormalizeHost(d); d != "" {
			central[d] = struct{}{}
		}
	}
	return &Service{repo: repo, deps: deps, cfg: cfg, central: central, logger: cfg.Logger}
}

const (
	defaultPageSize = 15
	maxPageSize     = 100
	maxIDCandidates = 50
)

// List tenants with optional search on id and name.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}
	opts.Search = strings.TrimSpace(opts.Search)
	return s.repo.List(ctx, opts)
}

// ListAll returns the given tenants, or every tenant when ids is empty. Unknown ids are omitted.
func (s *Service) ListAll(ctx context.Context, ids []string) ([]Tenant, error) {
	return s.repo.ListAll(ctx, ids)
}

// Get returns a tenant with its domains.
func (s *Service) Get(ctx context.Context, id string) (Tenant, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	domains, err := s.repo.ListDomains(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	t.Domains = domainNames(domains)
	return t, nil
}

// Preview is the outcome of deriving a tenant id from a display name.
type Preview struct {
	ID            string
	DatabaseName  string
	IDTaken       bool
	DatabaseTaken bool
}

// PreviewID reports the id Create would generate for name.
func (s *Service) PreviewID(ctx context.Context, name string) (Preview, error) {
	if strings.TrimSpace(name) == "" {
		return Preview{}, &ValidationError{Fields: FieldErrors{"name": {"name is required"}}}
	}
	id, err := s.generateID(ctx, name)
	if err != nil {
		return Preview{}, err
	}
	dbName := s.deps.Resolver.DatabaseName(id)
	avail, err := s.repo.CheckAvailability(ctx, id, dbName, nil)
	if err != nil {
		return Preview{}, err
	}
	return Preview{ID: id, DatabaseName: dbName, IDTaken: avail.IDTaken, DatabaseTaken: avail.DatabaseTaken}, nil
}

// UpdateInput holds mutable configuration fields. Nil means unchanged.
type UpdateInput struct {
	Name                 *string
	Address              *string
	RxImg                *string
	WhatsappTemplateSID  *string
	WhatsappPhone        *string
	APIWhatsapp          *string
	WhatsappMessageCount *int
	ShowImageCase        *bool
	TeethV2              *bool
	SendMsg              *bool
	ShowRxID             *bool
	DoctorMony           *float64
	Data                 map[string]any
}

// Update changes configuration fields only; credentials and id are immutable.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Tenant, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}

	fields := FieldErrors{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			fields.add("name", "name cannot be empty")
		}
		current.Name = name
	}
	if in.WhatsappMessageCount != nil && *in.WhatsappMessageCount < 0 {
		fields.add("whatsapp_message_count", "must not be negative")
	}
	if in.DoctorMony != nil && *in.DoctorMony < 0 {
		fields.add("doctor_mony", "must not be negative")
	}
	if in.Data != nil {
		if err := s.validateData(in.Data); err != nil {
			fields.add("data", err.Error())
		}
		current.Data = in.Data
	}
	if len(fields) > 0 {
		return Tenant{}, &ValidationError{Fields: fields}
	}

	st := &current.Settings
	setString(&st.Address, in.Address)
	setString(&st.RxImg, in.RxImg)
	setString(&st.WhatsappTemplateSID, in.WhatsappTemplateSID)
	setString(&st.WhatsappPhone, in.WhatsappPhone)
	setString(&st.APIWhatsapp, in.APIWhatsapp)
	setValue(&st.WhatsappMessageCount, in.WhatsappMessageCount)
	setValue(&st.ShowImageCase, in.ShowImageCase)
	setValue(&st.TeethV2, in.TeethV2)
	setValue(&st.SendMsg, in.SendMsg)
	setValue(&st.ShowRxID, in.ShowRxID)
	setValue(&st.DoctorMony, in.DoctorMony)

	updated, err := s.repo.UpdateSettings(ctx, current)
	if err != nil {
		return Tenant{}, err
	}
	s.invalidate(ctx, id)
	return updated, nil
}

// SetLogo stores the clinic logo under the tenant's asset prefix and records its location.
func (s *Service) SetLogo(ctx context.Context, id, filename, contentType string, body io.Reader) (Tenant, error) {
	if s.deps.Assets == nil {
		return Tenant{}, ErrAssetsDisabled
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return Tenant{}, &ValidationError{Fields: FieldErrors{"logo": {"logo must be an image"}}}
	}

	location, err := s.deps.Assets.Put(ctx, id, "logo/"+safeFilename(filename), contentType, body)
	if err != nil {
		return Tenant{}, fmt.Errorf("store logo: %w", err)
	}
	current.Settings.Logo = &location
	updated, err := s.repo.UpdateSettings(ctx, current)
	if err != nil {
		return Tenant{}, err
	}
	s.invalidate(ctx, id)
	return updated, nil
}

// ListDomains returns the hosts routed to a tenant.
func (s *Service) ListDomains(ctx context.Context, tenantID string) ([]Domain, error) {
	if _, err := s.repo.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.repo.ListDomains(ctx, tenantID)
}

// AddDomain routes a new host to the tenant.
func (s *Service) AddDomain(ctx context.Context, tenantID, domain string) (Domain, error) {
	normalized, msg := s.normalizeDomain(domain)
	if msg != "" {
		return Domain{}, &ValidationError{Fields: FieldErrors{"domain": {msg}}}
	}
	d, err := s.repo.AddDomain(ctx, tenantID, normalized)
	if err != nil {
		return Domain{}, err
	}
	s.invalidate(ctx, tenantID, normalized)
	return d, nil
}

// RemoveDomain stops routing a host to the tenant.
func (s *Service) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	normalized := tenant.NormalizeHost(domain)
	if err := s.repo.RemoveDomain(ctx, tenantID, normalized); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, normalized)
	return nil
}

func (s *Service) validateData(data map[string]any) error {
	if s.deps.Flags == nil {
		return nil
	}
	return s.deps.Flags.Validate(data)
}

// normalizeDomain returns the stored form of a host, or a validation message.
func (s *Service) normalizeDomain(domain string) (string, string) {
	d := tenant.NormalizeHost(domain)
	switch {
	case d == "":
		return "", "domain is required"
	case strings.ContainsAny(d, "/ @"):
		return "", fmt.Sprintf("%q is not a host name", domain)
	}
	if _, ok := s.central[d]; ok {
		return "", fmt.Sprintf("%q is a central domain", d)
	}
	return d, ""
}

// generateID returns the first derived id whose id and database name are both free.
func (s *Service) generateID(ctx context.Context, name string) (string, error) {
	base := tenant.IDFromName(name)
	for n := 1; n <= maxIDCandidates; n++ {
		id := tenant.CandidateID(base, n)
		avail, err := s.repo.CheckAvailability(ctx, id, s.deps.Resolver.DatabaseName(id), nil)
		if err != nil {
			return "", err
		}
		if !avail.IDTaken && !avail.DatabaseTaken {
			return id, nil
		}
	}
	return "", fmt.Errorf("no free tenant id for %q after %d candidates: %w", base, maxIDCandidates, ErrConflictID)
}

// invalidate drops cached lookups. Failures are logged; cache entries also expire on their own.
func (s *Service) invalidate(ctx context.Context, tenantID string, domains ...string) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Invalidate(ctx, tenantID, domains...); err != nil {
		s.logger.Warn("tenant cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func domainNames(domains []Domain) []string {
	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, d.Domain)
	}
	sort.Strings(names)
	return names
}

func safeFilename(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if out := strings.Trim(b.String(), "._"); out != "" {
		return out
	}
	return "logo"
}

func setString(dst **string, src *string) {
	if src == nil {
		return
	}
	v := strings.TrimSpace(*src)
	if v == "" {
		*dst = nil
		return
	}
	*dst = &v
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
