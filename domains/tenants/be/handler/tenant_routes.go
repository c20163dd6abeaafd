package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinichub/clinic-api/platform/go/problem"
	"github.com/clinichub/clinic-api/platform/go/tenant"
)

const maxLogoBytes = 5 << 20

// TenantRoutes serves /api/tenant. It must be mounted behind tenant identification.
func (h *Handler) TenantRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/context", h.Context)
	r.Put("/logo", h.UploadLogo)
	return r
}

// Context implements GET /api/tenant/context
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	space, ok := tenant.FromContext(r.Context())
	if !ok {
		h.writeError(w, r, tenant.ErrNoTenantScope, contextOperation)
		return
	}
	writeJSON(w, http.StatusOK, contextResponse{
		TenantID: space.TenantID,
		Name:     space.Name,
		Message:  fmt.Sprintf("Welcome to %s", space.Name),
	})
}

// UploadLogo implements PUT /api/tenant/logo (multipart field "logo").
func (h *Handler) UploadLogo(w http.ResponseWriter, r *http.Request) {
	space, ok := tenant.FromContext(r.Context())
	if !ok {
		h.writeError(w, r, tenant.ErrNoTenantScope, logoOperation)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxLogoBytes)
	if err := r.ParseMultipartForm(maxLogoBytes); err != nil {
		h.writeBindError(w, r, logoOperation, "logo", err)
		return
	}
	file, header, err := r.FormFile("logo")
	if err != nil {
		h.writeBindError(w, r, logoOperation, "logo", err)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		p := problem.New(http.StatusBadRequest, problem.TypeValidation, "Validation failed", "one or more fields are invalid")
		p.Errors = map[string][]string{"logo": {"content type is required"}}
		h.writeProblem(w, r, logoOperation, p, nil)
		return
	}

	t, err := h.svc.SetLogo(r.Context(), space.TenantID, header.Filename, contentType, file)
	if err != nil {
		h.writeError(w, r, err, logoOperation)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}
