package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	apiContext "leadgen/internal/api/context"
	"leadgen/internal/engine/queue"
	"leadgen/internal/pkg/errors"
	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

type EventHandler struct {
	events *repositories.WebhookEventRepository
	queue  *queue.Queue
}

func NewEventHandler(events *repositories.WebhookEventRepository, q *queue.Queue) *EventHandler {
	return &EventHandler{events: events, queue: q}
}

// List browses the queue. Filtering on status=dead_letter is how
// operators find events that need a replay.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	source := r.URL.Query().Get("source")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := (page - 1) * limit

	events, err := h.events.List(status, source, limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if events == nil {
		events = []*models.WebhookEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	ev, err := h.events.GetByID(params.ByName("id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if ev == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ev)
}

// Replay clones a failed or dead-lettered event back onto the queue.
func (h *EventHandler) Replay(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	clone, err := h.queue.Replay(params.ByName("id"))
	if err != nil {
		if err == queue.ErrNotReplayable {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, err.Error(), nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to replay event", nil)
		return
	}
	if clone == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(clone)
}
