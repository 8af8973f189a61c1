package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "leadgen/internal/api/context"
	"leadgen/internal/engine/queue"
	"leadgen/internal/engine/signature"
	"leadgen/internal/pkg/errors"
	"leadgen/internal/platform/metrics"
	"leadgen/internal/platform/models"
)

type WebhookHandler struct {
	verifier *signature.Verifier
	queue    *queue.Queue
	maxBody  int64
}

func NewWebhookHandler(verifier *signature.Verifier, q *queue.Queue, maxBody int64) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &WebhookHandler{verifier: verifier, queue: q, maxBody: maxBody}
}

type IngestResponse struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// Ingest accepts a provider delivery, verifies its signature against the
// raw body and enqueues it. The 202 means durably stored, not processed;
// processing outcome is visible through the events and executions API.
func (h *WebhookHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	source := params.ByName("source")
	workflowID := params.ByName("workflow_id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		metrics.EventsReceived.WithLabelValues(source, "too_large").Inc()
		errors.WriteError(w, http.StatusRequestEntityTooLarge, errors.ErrCodePayloadTooLarge, "Payload exceeds size limit", nil)
		return
	}
	if !json.Valid(body) {
		metrics.EventsReceived.WithLabelValues(source, "malformed").Inc()
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Body is not valid JSON", nil)
		return
	}

	verified, err := h.verifier.Verify(source, body,
		r.Header.Get(signature.HeaderSignature), r.Header.Get(signature.HeaderTimestamp))
	if err != nil {
		metrics.EventsReceived.WithLabelValues(source, "rejected").Inc()
		if err == signature.ErrStaleTimestamp {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeSignatureStale, "Signature timestamp outside freshness window", nil)
			return
		}
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeSignatureInvalid, "Signature verification failed", nil)
		return
	}

	ev := &models.WebhookEvent{
		Kind:       models.EventKindWebhook,
		Source:     source,
		EventType:  r.Header.Get(signature.HeaderEvent),
		DeliveryID: r.Header.Get(signature.HeaderDelivery),
		Payload:    body,
		Verified:   verified,
		Priority:   models.PriorityNormal,
		WorkflowID: workflowID,
	}

	result, err := h.queue.Enqueue(ev)
	if err != nil {
		metrics.EventsReceived.WithLabelValues(source, "error").Inc()
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to store event", nil)
		return
	}

	metrics.EventsReceived.WithLabelValues(source, "accepted").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(IngestResponse{
		EventID:   result.Event.ID,
		Duplicate: result.Duplicate,
	})
}
