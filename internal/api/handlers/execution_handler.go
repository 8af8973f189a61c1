package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	apiContext "leadgen/internal/api/context"
	"leadgen/internal/engine/executor"
	"leadgen/internal/pkg/errors"
	"leadgen/internal/platform/auth"
	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

type ExecutionHandler struct {
	executions *repositories.ExecutionRepository
	executor   *executor.Executor
}

func NewExecutionHandler(executions *repositories.ExecutionRepository, ex *executor.Executor) *ExecutionHandler {
	return &ExecutionHandler{executions: executions, executor: ex}
}

func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	status := r.URL.Query().Get("status")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := (page - 1) * limit

	execs, err := h.executions.List(workflowID, status, limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if execs == nil {
		execs = []*models.WorkflowExecution{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(execs)
}

func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	exec, err := h.executions.GetByID(params.ByName("id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if exec == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Execution not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(exec)
}

// Cancel settles pending and suspended runs immediately; a running one
// is flagged and stops at the next step boundary.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	exec, err := h.executor.Cancel(params.ByName("id"), claims.UserID)
	if err != nil {
		if err == executor.ErrAlreadyFinished {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Execution already finished", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to cancel execution", nil)
		return
	}
	if exec == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Execution not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(exec)
}
