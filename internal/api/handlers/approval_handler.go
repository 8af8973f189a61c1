package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	apiContext "leadgen/internal/api/context"
	"leadgen/internal/engine/approval"
	"leadgen/internal/pkg/errors"
	"leadgen/internal/platform/auth"
	"leadgen/internal/platform/models"
)

type ApprovalHandler struct {
	gate *approval.Gate
}

func NewApprovalHandler(gate *approval.Gate) *ApprovalHandler {
	return &ApprovalHandler{gate: gate}
}

// List returns pending approvals, most urgent first.
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := (page - 1) * limit

	approvals, err := h.gate.ListPending(workflowID, limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if approvals == nil {
		approvals = []*models.Approval{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(approvals)
}

func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	a, err := h.gate.Get(params.ByName("id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if a == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Approval not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a)
}

type DecideRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

// Decide records the reviewer's verdict and queues the resume event for
// the suspended execution. Exactly one decision wins.
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	a, err := h.gate.Decide(params.ByName("id"), req.Approve, claims.UserID, req.Notes)
	if err != nil {
		if err == approval.ErrAlreadyDecided {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeAlreadyDecided, "Approval already decided", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to record decision", nil)
		return
	}
	if a == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Approval not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a)
}

func (h *ApprovalHandler) History(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("id")

	a, err := h.gate.Get(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if a == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Approval not found", nil)
		return
	}

	entries, err := h.gate.History(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if entries == nil {
		entries = []*models.ApprovalHistoryEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
