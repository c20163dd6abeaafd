package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clinichub/clinic-api/domains/tenants/be/service"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and local development.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]service.Tenant
	domains map[string]service.Domain
	now     func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]service.Tenant),
		domains: make(map[string]service.Domain),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) List(_ context.Context, opts service.ListOptions) (service.ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	term := strings.ToLower(opts.Search)
	items := make([]service.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		if term != "" && !strings.Contains(t.ID, term) && !strings.Contains(strings.ToLower(t.Name), term) {
			continue
		}
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	page, pageSize := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 15
	}
	start := min((page-1)*pageSize, len(items))
	end := min(start+pageSize, len(items))

	return service.ListResult{
		Tenants:    items[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalItems: len(items),
		TotalPages: (len(items) + pageSize - 1) / pageSize,
	}, nil
}

func (r *MemoryRepository) ListAll(_ context.Context, ids []string) ([]service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []service.Tenant
	for id, t := range r.byID {
		if t.State.TearingDown() || (len(ids) > 0 && !wanted[id]) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) CheckAvailability(_ context.Context, id, dbName string, domains []string) (service.Availability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out service.Availability
	_, out.IDTaken = r.byID[id]
	for _, t := range r.byID {
		if t.DBName == dbName {
			out.DatabaseTaken = true
			break
		}
	}
	for _, d := range domains {
		if _, ok := r.domains[d]; ok {
			out.TakenDomains = append(out.TakenDomains, d)
		}
	}
	sort.Strings(out.TakenDomains)
	return out, nil
}

func (r *MemoryRepository) Create(_ context.Context, t service.Tenant, domains []string) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[t.ID]; ok {
		return service.Tenant{}, service.ErrConflictID
	}
	for _, existing := range r.byID {
		if existing.DBName == t.DBName {
			return service.Tenant{}, service.ErrConflictDatabase
		}
	}
	for _, d := range domains {
		if _, ok := r.domains[d]; ok {
			return service.Tenant{}, service.ErrConflictDomain
		}
	}

	now := r.now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Data == nil {
		t.Data = map[string]any{}
	}
	r.byID[t.ID] = t
	for _, d := range domains {
		r.domains[d] = service.Domain{Domain: d, TenantID: t.ID, CreatedAt: now}
	}
	return t, nil
}

func (r *MemoryRepository) UpdateSettings(_ context.Context, t service.Tenant) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[t.ID]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	current.Name = t.Name
	current.Settings = t.Settings
	current.Data = t.Data
	current.UpdatedAt = r.now()
	r.byID[t.ID] = current
	return current, nil
}

func (r *MemoryRepository) SetState(_ context.Context, id string, state service.State, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.ErrNotFound
	}
	t.State = state
	t.LastError = lastError
	t.UpdatedAt = r.now()
	if state == service.StateReady {
		at := t.UpdatedAt
		t.ProvisionedAt = &at
	}
	r.byID[id] = t
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return nil, service.ErrNotFound
	}
	delete(r.byID, id)
	var removed []string
	for name, d := range r.domains {
		if d.TenantID == id {
			removed = append(removed, name)
			delete(r.domains, name)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func (r *MemoryRepository) ListDomains(_ context.Context, tenantID string) ([]service.Domain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []service.Domain
	for _, d := range r.domains {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (r *MemoryRepository) AddDomain(_ context.Context, tenantID, domain string) (service.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[tenantID]; !ok {
		return service.Domain{}, service.ErrNotFound
	}
	if _, ok := r.domains[domain]; ok {
		return service.Domain{}, service.ErrConflictDomain
	}
	d := service.Domain{Domain: domain, TenantID: tenantID, CreatedAt: r.now()}
	r.domains[domain] = d
	return d, nil
}

func (r *MemoryRepository) RemoveDomain(_ context.Context, tenantID, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.domains[domain]
	if !ok || d.TenantID != tenantID {
		return service.ErrDomainNotFound
	}
	delete(r.domains, domain)
	return nil
}

var _ service.Repository = (*MemoryRepository)(nil)
