package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"

	"github.com/clinichub/clinic-api/domains/patients/be/service"
	platformlogging "github.com/clinichub/clinic-api/platform/go/logging"
	"github.com/clinichub/clinic-api/platform/go/problem"
	"github.com/clinichub/clinic-api/platform/go/requesttrace"
)

type operation string

const (
	createOperation operation = "patientsCreate"
	listOperation   operation = "patientsList"
	getOperation    operation = "patientsGet"
)

// Handler serves the tenant scoped patients API. Every route expects the tenant
// identification middleware to have bound a scope to the request.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("patients service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{patientID}", h.Get)
	return r
}

type patientResponse struct {
	ID            uuid.UUID           `json:"id"`
	Name          string              `json:"name"`
	Age           *int32              `json:"age,omitempty"`
	Phone         *string             `json:"phone,omitempty"`
	Sex           *string             `json:"sex,omitempty"`
	Address       *string             `json:"address,omitempty"`
	Notes         *string             `json:"notes,omitempty"`
	BirthDate     *openapi_types.Date `json:"birth_date,omitempty"`
	RxID          *string             `json:"rx_id,omitempty"`
	CreditBalance int64               `json:"credit_balance"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type createRequest struct {
	Name      string              `json:"name"`
	Age       *int32              `json:"age"`
	Phone     *string             `json:"phone"`
	Sex       *string             `json:"sex"`
	Address   *string             `json:"address"`
	Notes     *string             `json:"notes"`
	BirthDate *openapi_types.Date `json:"birth_date"`
}

type listResponse struct {
	Items      []patientResponse `json:"items"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalItems int               `json:"total_items"`
	TotalPages int               `json:"total_pages"`
}

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

	items := make([]patientResponse, 0, len(result.Patients))
	for _, p := range result.Patients {
		items = append(items, toPatientResponse(p))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if r.Body == nil || r.Body == http.NoBody {
		h.writeProblem(w, r, createOperation, problem.New(http.StatusBadRequest, problem.TypeValidation, "Invalid request body", "request body is required"), nil)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeProblem(w, r, createOperation, problem.New(http.StatusBadRequest, problem.TypeValidation, "Invalid request body", "request body is not valid JSON"), err)
		return
	}

	input := service.CreateInput{
		Name:      body.Name,
		Age:       body.Age,
		Phone:     body.Phone,
		Sex:       body.Sex,
		Address:   body.Address,
		Notes:     body.Notes,
		CreatorID: creatorID(r.Context()),
	}
	if body.BirthDate != nil {
		d := body.BirthDate.Time
		input.BirthDate = &d
	}

	created, err := h.svc.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/tenant/patients/%s", created.ID))
	writeJSON(w, http.StatusCreated, toPatientResponse(created))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "patientID", chi.URLParam(r, "patientID"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		h.writeBindError(w, r, getOperation, "patientID", err)
		return
	}

	p, err := h.svc.Get(r.Context(), uuid.UUID(id))
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}
	writeJSON(w, http.StatusOK, toPatientResponse(p))
}

func toPatientResponse(p service.Patient) patientResponse {
	out := patientResponse{
		ID:            p.ID,
		Name:          p.Name,
		Age:           p.Age,
		Phone:         p.Phone,
		Sex:           p.Sex,
		Address:       p.Address,
		Notes:         p.Notes,
		RxID:          p.RxID,
		CreditBalance: p.CreditBalance,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if p.BirthDate != nil {
		out.BirthDate = &openapi_types.Date{Time: *p.BirthDate}
	}
	return out
}

// creatorID returns the authenticated user when its subject is a UUID.
func creatorID(ctx context.Context) *uuid.UUID {
	audit := requesttrace.FromContextOrAnonymous(ctx)
	if audit.ActorKind != requesttrace.ActorKindUser || audit.UserID == nil {
		return nil
	}
	id, err := uuid.Parse(*audit.UserID)
	if err != nil {
		return nil
	}
	return &id
}

func (h *Handler) writeBindError(w http.ResponseWriter, r *http.Request, op operation, param string, err error) {
	p := problem.New(http.StatusBadRequest, problem.TypeValidation, "Validation failed", "one or more parameters are invalid")
	p.Errors = map[string][]string{param: {err.Error()}}
	h.writeProblem(w, r, op, p, err)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	h.writeProblem(w, r, op, classifyError(err), err)
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, op operation, p problem.Details, err error) {
	logger := h.loggerFrom(r.Context())
	fields := []zap.Field{zap.String("operation", string(op)), zap.Int("status", p.Status)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	switch {
	case p.Status >= http.StatusInternalServerError:
		logger.Error("patients operation failed", fields...)
	case p.Status == http.StatusNotFound:
		logger.Info("patients resource not found", fields...)
	default:
		logger.Warn("patients request rejected", fields...)
	}

	problem.Write(w, p)
}

func classifyError(err error) problem.Details {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		p := problem.New(http.StatusBadRequest, problem.TypeValidation, "Validation failed", "one or more fields are invalid")
		p.Errors = make(map[string][]string, len(validationErr.Fields))
		for field, messages := range validationErr.Fields {
			p.Errors[field] = append([]string(nil), messages...)
		}
		return p
	case errors.Is(err, service.ErrNotFound):
		return problem.New(http.StatusNotFound, problem.TypeNotFound, "Resource not found", "patient not found")
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
