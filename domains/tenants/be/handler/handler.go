package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/clinichub/clinic-api/domains/tenants/be/provisioning"
	"github.com/clinichub/clinic-api/domains/tenants/be/service"
	platformlogging "github.com/clinichub/clinic-api/platform/go/logging"
	"github.com/clinichub/clinic-api/platform/go/problem"
)

type operation string

const (
	listOperation         operation = "tenantsList"
	createOperation       operation = "tenantsCreate"
	previewOperation      operation = "tenantsPreviewID"
	getOperation          operation = "tenantsGet"
	updateOperation       operation = "tenantsUpdate"
	deleteOperation       operation = "tenantsDelete"
	provisionOperation    operation = "tenantsProvision"
	migrateOperation      operation = "tenantsMigrate"
	seedOperation         operation = "tenantsSeed"
	listDomainsOperation  operation = "tenantsListDomains"
	addDomainOperation    operation = "tenantsAddDomain"
	removeDomainOperation operation = "tenantsRemoveDomain"
	contextOperation      operation = "tenantContext"
	logoOperation         operation = "tenantLogo"
)

// Handler exposes the tenants service over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// AdminRoutes serves /api/tenants. Callers mount it behind the central-only and admin guards.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/preview", h.PreviewID)
	r.Route("/{tenantID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/provision", h.Provision)
		r.Post("/migrate", h.Migrate)
		r.Post("/seed", h.Seed)
		r.Get("/domains", h.ListDomains)
		r.Post("/domains", h.AddDomain)
		r.Delete("/domains/{domain}", h.RemoveDomain)
	})
	return r
}

// List implements GET /api/tenants
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var opts service.ListOptions
	query := r.URL.Query()
	for name, dst := range map[string]any{"page": &opts.Page, "page_size": &opts.PageSize, "search": &opts.Search} {
		if err := runtime.BindQueryParameter("form", true, false, name, query, dst); err != nil {
			h.writeBindError(w, r, listOperation, name, err)
			return
		}
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}

	items := make([]tenantResponse, 0, len(result.Tenants))
	for _, t := range result.Tenants {
		items = append(items, toTenantResponse(t))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

// Create implements POST /api/tenants
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if !h.decode(w, r, &body, createOperation) {
		return
	}

	t, err := h.svc.Create(r.Context(), body.toInput())
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/tenants/%s", t.ID))
	writeJSON(w, http.StatusCreated, toTenantResponse(t))
}

// PreviewID implements GET /api/tenants/preview?name=
func (h *Handler) PreviewID(w http.ResponseWriter, r *http.Request) {
	var name string
	if err := runtime.BindQueryParameter("form", true, true, "name", r.URL.Query(), &name); err != nil {
		h.writeBindError(w, r, previewOperation, "name", err)
		return
	}

	p, err := h.svc.PreviewID(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err, previewOperation)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse(p))
}

// Get implements GET /api/tenants/{tenantID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r, getOperation)
	if !ok {
		return
	}
	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

// Update implements PATCH /api/tenants/{tenantID}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r, updateOperation)
	if !ok {
		return
	}
	var body updateRequest
	if !h.decode(w, r, &body, updateOperation) {
		return
	}

	t, err := h.svc.Update(r.Context(), id, body.toInput())
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

// Delete implements DELETE /api/tenants/{tenantID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r, deleteOperation)
	if !ok {
		return
	}
	res, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, deleteOperation)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse(res))
}

// Provision implements POST /api/tenants/{tenantID}/provision
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r, provisionOperation)
	if !ok {
		return
	}
	t, err := h.svc.Reprovision(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, provisionOperation)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

// Migrate implements POST /api/tenants/{tenantID}/migrate?fresh=
func (h *Handler) Migrate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r, migrateOperation)
	if !ok {
		return
	}
	var fresh bool
	if err := runtime.BindQueryParameter("form", true, false, "fresh", r.URL.Query(), &fresh); err != nil {
		h.writeBindError(w, r, migrateOperation, "fresh", err)
		return
	}

	applied, err := h.svc.Migrate(r.Context(), id, fresh)
	if err != nil {
		h.writeError(w, r, err, migrateOperation)
		return
	}
	writeJSON(w, http.StatusOK, toMigrateResponse(id, applied))
}

// Seed implements POST /api/tenants/{tenantID}/seed
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r, seedOperation)
	if !ok {
		return
	}
	res, err := h.svc.Seed(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, seedOperation)
		return
	}
	writeJSON(w, http.StatusOK, seedResponse{
		TenantID:        id,
		Permissions:     res.Permissions,
		Roles:           res.Roles,
		RolePermissions: res.RolePermissions,
		Statuses:        res.Statuses,
		Categories:      res.Categories,
	})
}

// ListDomains implements GET /api/tenants/{tenantID}/domains
func (h *Handler) ListDomains(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r, listDomainsOperation)
	if !ok {
		return
	}
	domains, err := h.svc.ListDomains(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, listDomainsOperation)
		return
	}
	out := make([]domainResponse, 0, len(domains))
	for _, d := range domains {
		out = append(out, domainResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// AddDomain implements POST /api/tenants/{tenantID}/domains
func (h *Handler) AddDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r, addDomainOperation)
	if !ok {
		return
	}
	var body domainRequest
	if !h.decode(w, r, &body, addDomainOperation) {
		return
	}
	d, err := h.svc.AddDomain(r.Context(), id, body.Domain)
	if err != nil {
		h.writeError(w, r, err, addDomainOperation)
		return
	}
	writeJSON(w, http.StatusCreated, domainResponse(d))
}

// RemoveDomain implements DELETE /api/tenants/{tenantID}/domains/{domain}
func (h *Handler) RemoveDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r, removeDomainOperation)
	if !ok {
		return
	}
	var domain string
	err := runtime.BindStyledParameterWithOptions("simple", "domain", chi.URLParam(r, "domain"), &domain,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		h.writeBindError(w, r, removeDomainOperation, "domain", err)
		return
	}
	if err := h.svc.RemoveDomain(r.Context(), id, domain); err != nil {
		h.writeError(w, r, err, removeDomainOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request, op operation) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "tenantID", chi.URLParam(r, "tenantID"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		h.writeBindError(w, r, op, "tenantID", err)
		return "", false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, op operation) bool {
	if r.Body == nil || r.Body == http.NoBody {
		h.writeProblem(w, r, op, problem.New(http.StatusBadRequest, problem.TypeValidation, "Invalid request body", "request body is required"), nil)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeProblem(w, r, op, problem.New(http.StatusBadRequest, problem.TypeValidation, "Invalid request body", "request body is not valid JSON"), err)
		return false
	}
	return true
}

func (h *Handler) writeBindError(w http.ResponseWriter, r *http.Request, op operation, param string, err error) {
	p := problem.New(http.StatusBadRequest, problem.TypeValidation, "Validation failed", "one or more parameters are invalid")
	p.Errors = map[string][]string{param: {err.Error()}}
	h.writeProblem(w, r, op, p, err)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	h.writeProblem(w, r, op, h.classifyError(err), err)
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, op operation, p problem.Details, err error) {
	logger := h.loggerFrom(r.Context())
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", p.Status),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	switch {
	case p.Status >= http.StatusInternalServerError:
		logger.Error("tenants operation failed", fields...)
	case p.Status == http.StatusNotFound:
		logger.Info("tenants resource not found", fields...)
	default:
		logger.Warn("tenants request rejected", fields...)
	}

	problem.Write(w, p)
}

func (h *Handler) classifyError(err error) problem.Details {
	var (
		validationErr *service.ValidationError
		stepErr       *service.StepError
	)
	switch {
	case errors.As(err, &validationErr):
		p := problem.New(http.StatusBadRequest, problem.TypeValidation, "Validation failed", "one or more fields are invalid")
		p.Errors = make(map[string][]string, len(validationErr.Fields))
		for field, messages := range validationErr.Fields {
			p.Errors[field] = append([]string(nil), messages...)
		}
		return p
	case errors.Is(err, service.ErrNotFound):
		return problem.New(http.StatusNotFound, problem.TypeNotFound, "Resource not found", "tenant not found")
	case errors.Is(err, service.ErrDomainNotFound):
		return problem.New(http.StatusNotFound, problem.TypeNotFound, "Resource not found", "domain not found")
	case errors.Is(err, service.ErrConflictID),
		errors.Is(err, service.ErrConflictDatabase),
		errors.Is(err, service.ErrConflictDomain):
		return problem.New(http.StatusConflict, problem.TypeConflict, "Conflict", err.Error())
	case errors.As(err, &stepErr):
		p := problem.New(http.StatusInternalServerError, problem.TypeInternal, "Provisioning failed",
			fmt.Sprintf("step %s failed", stepErr.Step))
		p.Kind = problem.KindProvisioningStepFailed
		p.Extra = map[string]any{
			"step":             string(stepErr.Step),
			"rolled_back":      stepErr.RolledBack,
			"cleanup_required": stepErr.CleanupRequired,
		}
		var dbErr *provisioning.DatabaseError
		if errors.As(err, &dbErr) {
			p.Extra["reason"] = string(dbErr.Reason)
		}
		return p
	case errors.Is(err, service.ErrAssetsDisabled):
		return problem.New(http.StatusNotImplemented, problem.TypeUnavailable, "Not configured", "tenant asset storage is not configured")
	}

	if p, ok := problem.FromTenantError(err); ok {
		return p
	}
	return problem.New(http.StatusInternalServerError, problem.TypeInternal, "Internal server error", "an unexpected error occurred")
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
