package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"leadgen/internal/pkg/errors"
	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

type MonitoringHandler struct {
	monitoring *repositories.MonitoringRepository
}

func NewMonitoringHandler(monitoring *repositories.MonitoringRepository) *MonitoringHandler {
	return &MonitoringHandler{monitoring: monitoring}
}

func (h *MonitoringHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	since, _ := strconv.ParseInt(q.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	events, err := h.monitoring.List(repositories.MonitoringFilter{
		MinSeverity: q.Get("min_severity"),
		Component:   q.Get("component"),
		ExecutionID: q.Get("execution_id"),
		WorkflowID:  q.Get("workflow_id"),
		Since:       since,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if events == nil {
		events = []*models.MonitoringEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
