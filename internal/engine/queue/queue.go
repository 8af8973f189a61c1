package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"leadgen/internal/engine/monitor"
	"leadgen/internal/platform/metrics"
	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

var ErrNotReplayable = errors.New("only failed or dead_letter events can be replayed")

// Queue layers retry policy, deduplication and bookkeeping over the
// webhook_events table. Claims are exclusive: every transition out of
// processing is guarded by the claiming worker id.
type Queue struct {
	events      *repositories.WebhookEventRepository
	sink        *monitor.Sink
	backoff     []time.Duration
	maxRetries  int
	dedupWindow time.Duration
	visibility  time.Duration
}

type Options struct {
	Backoff           []time.Duration
	MaxRetries        int
	DedupWindow       time.Duration
	VisibilityTimeout time.Duration
}

func New(events *repositories.WebhookEventRepository, sink *monitor.Sink, opts Options) *Queue {
	backoff := opts.Backoff
	if len(backoff) == 0 {
		backoff = []time.Duration{5 * time.Second, 30 * time.Second, 300 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	dedupWindow := opts.DedupWindow
	if dedupWindow <= 0 {
		dedupWindow = 10 * time.Minute
	}
	visibility := opts.VisibilityTimeout
	if visibility <= 0 {
		visibility = 2 * time.Minute
	}
	return &Queue{
		events:      events,
		sink:        sink,
		backoff:     backoff,
		maxRetries:  maxRetries,
		dedupWindow: dedupWindow,
		visibility:  visibility,
	}
}

type EnqueueResult struct {
	Event     *models.WebhookEvent
	Duplicate bool
}

// Enqueue stores the event durably. A delivery whose dedup key matches
// an event created inside the dedup window is not stored again; the
// existing event comes back flagged as a duplicate.
func (q *Queue) Enqueue(ev *models.WebhookEvent) (*EnqueueResult, error) {
	if ev.DedupKey == "" {
		ev.DedupKey = DedupKey(ev.Source, ev.DeliveryID, ev.Payload)
	}

	since := time.Now().Add(-q.dedupWindow).Unix()
	existing, err := q.events.FindRecentByDedupKey(ev.DedupKey, since)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.EventsDuplicate.Inc()
		q.sink.Emit(models.SeverityInfo, "queue", "duplicate", "delivery matched a recent event", monitor.Ref{
			EventID: existing.ID,
			Details: map[string]string{"source": ev.Source, "delivery_id": ev.DeliveryID},
		})
		return &EnqueueResult{Event: existing, Duplicate: true}, nil
	}

	if ev.MaxRetries == 0 {
		ev.MaxRetries = q.maxRetries
	}
	if err := q.events.Create(ev); err != nil {
		return nil, err
	}

	metrics.EventsEnqueued.WithLabelValues(ev.Kind).Inc()
	q.sink.Emit(models.SeverityInfo, "queue", "enqueued", "event enqueued", monitor.Ref{
		EventID:    ev.ID,
		WorkflowID: ev.WorkflowID,
		Details:    map[string]interface{}{"source": ev.Source, "priority": ev.Priority, "verified": ev.Verified},
	})
	return &EnqueueResult{Event: ev}, nil
}

// ClaimNext hands the oldest due event to workerID, or nil when idle.
func (q *Queue) ClaimNext(workerID string) (*models.WebhookEvent, error) {
	return q.events.ClaimNext(workerID)
}

// Ack marks a claimed event completed. Terminal.
func (q *Queue) Ack(ev *models.WebhookEvent, workerID string) error {
	if err := q.events.MarkCompleted(ev.ID, workerID); err != nil {
		return err
	}
	metrics.EventsCompleted.Inc()
	q.sink.Emit(models.SeverityInfo, "queue", "completed", "event processed", monitor.Ref{EventID: ev.ID, WorkflowID: ev.WorkflowID})
	return nil
}

// Fail records a retryable failure. The event goes back on the queue
// with backoff until the retry budget runs out, then fails for good.
// A positive delayOverride replaces the backoff schedule.
func (q *Queue) Fail(ev *models.WebhookEvent, workerID string, cause error, delayOverride time.Duration) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if ev.RetryCount >= ev.MaxRetries {
		if err := q.events.MarkFailed(ev.ID, workerID, msg); err != nil {
			return err
		}
		metrics.EventsFailed.Inc()
		q.sink.Emit(models.SeverityError, "queue", "retries_exhausted", "event failed after exhausting retries", monitor.Ref{
			EventID:    ev.ID,
			WorkflowID: ev.WorkflowID,
			Details:    map[string]interface{}{"attempts": ev.RetryCount + 1, "last_error": msg},
		})
		return nil
	}

	delay := q.backoff[min(ev.RetryCount, len(q.backoff)-1)]
	if delayOverride > 0 {
		delay = delayOverride
	}
	nextRetryAt := time.Now().Add(delay).Unix()

	if err := q.events.ScheduleRetry(ev.ID, workerID, ev.RetryCount+1, nextRetryAt, msg); err != nil {
		return err
	}
	metrics.EventsRetried.Inc()
	q.sink.Emit(models.SeverityWarning, "queue", "retry_scheduled", fmt.Sprintf("retry %d/%d in %s", ev.RetryCount+1, ev.MaxRetries, delay), monitor.Ref{
		EventID:    ev.ID,
		WorkflowID: ev.WorkflowID,
		Details:    map[string]interface{}{"next_retry_at": nextRetryAt, "cause": msg},
	})
	return nil
}

// DeadLetter parks a claimed event permanently, with no retry. For
// failures retrying cannot fix.
func (q *Queue) DeadLetter(ev *models.WebhookEvent, workerID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.events.MarkDeadLetter(ev.ID, workerID, msg); err != nil {
		return err
	}
	metrics.EventsDeadLetter.Inc()
	q.sink.Emit(models.SeverityError, "queue", "dead_lettered", "event dead-lettered", monitor.Ref{
		EventID:    ev.ID,
		WorkflowID: ev.WorkflowID,
		Details:    map[string]string{"cause": msg},
	})
	return nil
}

// Release returns a claimed event to the queue without charging an
// attempt. Used on shutdown.
func (q *Queue) Release(ev *models.WebhookEvent, workerID string) error {
	return q.events.Release(ev.ID, workerID)
}

// Replay clones a failed or dead-lettered event as a fresh queued one.
// Deduplication is bypassed: a replay is an explicit operator request.
func (q *Queue) Replay(id string) (*models.WebhookEvent, error) {
	ev, err := q.events.GetByID(id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	if ev.Status != models.EventStatusFailed && ev.Status != models.EventStatusDeadLetter {
		return nil, ErrNotReplayable
	}

	clone := &models.WebhookEvent{
		Kind:       ev.Kind,
		Source:     ev.Source,
		EventType:  ev.EventType,
		DeliveryID: ev.DeliveryID,
		DedupKey:   ev.DedupKey,
		Payload:    ev.Payload,
		Headers:    ev.Headers,
		Verified:   ev.Verified,
		Priority:   ev.Priority,
		MaxRetries: ev.MaxRetries,
		WorkflowID: ev.WorkflowID,
	}
	if err := q.events.Create(clone); err != nil {
		return nil, err
	}

	metrics.EventsEnqueued.WithLabelValues(clone.Kind).Inc()
	q.sink.Emit(models.SeverityInfo, "queue", "replayed", "event replayed", monitor.Ref{
		EventID: clone.ID,
		Details: map[string]string{"replay_of": ev.ID},
	})
	return clone, nil
}

// ReclaimStuck sweeps claims held longer than the visibility timeout,
// charging each as a retryable failure. Claims with no budget left
// fail instead of cycling forever.
func (q *Queue) ReclaimStuck() (failed, requeued int64, err error) {
	cutoff := time.Now().Add(-q.visibility).Unix()

	failed, err = q.events.FailStuck(cutoff)
	if err != nil {
		return 0, 0, err
	}
	requeued, err = q.events.RequeueStuck(cutoff)
	if err != nil {
		return failed, 0, err
	}

	if failed > 0 || requeued > 0 {
		log.Warn().Int64("failed", failed).Int64("requeued", requeued).Msg("reclaimed stuck claims")
		q.sink.Emit(models.SeverityWarning, "queue", "claims_reclaimed", "stuck claims swept", monitor.Ref{
			Details: map[string]int64{"failed": failed, "requeued": requeued},
		})
	}
	return failed, requeued, nil
}

// DeadLetterReport counts events parked on the dead letter shelf
// longer than olderThan. Reporting only; nothing is purged, replay
// stays an operator decision.
func (q *Queue) DeadLetterReport(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	n, err := q.events.CountDeadLettersBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Int("count", n).Msg("aged events on the dead letter shelf")
		q.sink.Emit(models.SeverityWarning, "queue", "dead_letter_report", fmt.Sprintf("%d events parked longer than %s", n, olderThan), monitor.Ref{
			Details: map[string]int{"count": n},
		})
	}
	return n, nil
}

// UpdateDepthGauge refreshes the queue depth metric from the table.
func (q *Queue) UpdateDepthGauge() error {
	counts, err := q.events.CountByStatus()
	if err != nil {
		return err
	}
	for _, status := range []string{models.EventStatusQueued, models.EventStatusProcessing, models.EventStatusCompleted, models.EventStatusFailed, models.EventStatusDeadLetter} {
		metrics.QueueDepth.WithLabelValues(status).Set(float64(counts[status]))
	}
	return nil
}

// DedupKey derives the idempotency key for a delivery: the provider's
// delivery id when present, otherwise a digest of the raw payload.
func DedupKey(source, deliveryID string, payload []byte) string {
	if deliveryID != "" {
		return source + ":" + deliveryID
	}
	sum := sha256.Sum256(payload)
	return source + ":" + hex.EncodeToString(sum[:])
}
