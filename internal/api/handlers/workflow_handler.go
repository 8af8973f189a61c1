package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	apiContext "leadgen/internal/api/context"
	"leadgen/internal/engine/registry"
	"leadgen/internal/pkg/errors"
	"leadgen/internal/platform/auth"
	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

type WorkflowHandler struct {
	registry   *registry.Service
	executions *repositories.ExecutionRepository
}

func NewWorkflowHandler(reg *registry.Service, executions *repositories.ExecutionRepository) *WorkflowHandler {
	return &WorkflowHandler{registry: reg, executions: executions}
}

func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req models.Workflow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	req.CreatedBy = claims.UserID

	wf, err := h.registry.Create(&req)
	if err != nil {
		if err == registry.ErrNameTaken {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Workflow name already in use", nil)
			return
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(wf)
}

func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	kind := r.URL.Query().Get("kind")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := (page - 1) * limit

	workflows, err := h.registry.List(status, kind, limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if workflows == nil {
		workflows = []*models.Workflow{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(workflows)
}

func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	wf, err := h.registry.Get(params.ByName("id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if wf == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workflow not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wf)
}

func (h *WorkflowHandler) Update(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	var req models.Workflow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	wf, err := h.registry.Update(params.ByName("id"), &req)
	if err != nil {
		if err == registry.ErrNameTaken {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Workflow name already in use", nil)
			return
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if wf == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workflow not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wf)
}

func (h *WorkflowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("id")

	wf, err := h.registry.Get(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if wf == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workflow not found", nil)
		return
	}

	if err := h.registry.Archive(id); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to archive workflow", nil)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WorkflowHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.WorkflowStatusPaused)
}

func (h *WorkflowHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.WorkflowStatusActive)
}

func (h *WorkflowHandler) setStatus(w http.ResponseWriter, r *http.Request, status string) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("id")

	wf, err := h.registry.Get(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if wf == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workflow not found", nil)
		return
	}

	switch status {
	case models.WorkflowStatusPaused:
		err = h.registry.Pause(id)
	default:
		err = h.registry.Resume(id)
	}
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update workflow status", nil)
		return
	}
	wf.Status = status

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wf)
}

type RotateSecretResponse struct {
	WebhookSecret string `json:"webhook_secret"`
}

// RotateSecret returns the raw secret exactly once. Workflow reads
// never include it.
func (h *WorkflowHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	secret, err := h.registry.RotateSecret(params.ByName("id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to rotate secret", nil)
		return
	}
	if secret == "" {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workflow not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RotateSecretResponse{WebhookSecret: secret})
}

func (h *WorkflowHandler) Stats(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("id")

	wf, err := h.registry.Get(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if wf == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Workflow not found", nil)
		return
	}

	stats, err := h.executions.Stats(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
