package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"leadgen/internal/platform/models"

	"github.com/google/uuid"
)

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

const eventColumns = `id, kind, source, event_type, delivery_id, dedup_key, payload, headers, verified, priority, status, claimed_by, claimed_at, retry_count, max_retries, next_retry_at, last_error, workflow_id, created_at, updated_at, completed_at`

func (r *WebhookEventRepository) Create(ev *models.WebhookEvent) error {
	ev.ID = "evt_" + uuid.New().String()
	ev.CreatedAt = time.Now().Unix()
	ev.UpdatedAt = ev.CreatedAt
	if ev.Status == "" {
		ev.Status = models.EventStatusQueued
	}
	if ev.Kind == "" {
		ev.Kind = models.EventKindWebhook
	}

	var headersJSON string
	if ev.Headers != nil {
		b, err := json.Marshal(ev.Headers)
		if err != nil {
			return err
		}
		headersJSON = string(b)
	}

	_, err := r.db.Exec(`
		INSERT INTO webhook_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Kind, ev.Source, ev.EventType, ev.DeliveryID, ev.DedupKey, string(ev.Payload), headersJSON,
		ev.Verified, ev.Priority, ev.Status, nullString(ev.ClaimedBy), ev.ClaimedAt, ev.RetryCount,
		ev.MaxRetries, ev.NextRetryAt, ev.LastError, nullString(ev.WorkflowID), ev.CreatedAt, ev.UpdatedAt, ev.CompletedAt)
	return err
}

func (r *WebhookEventRepository) GetByID(id string) (*models.WebhookEvent, error) {
	row := r.db.QueryRow(`SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// FindRecentByDedupKey returns the newest event carrying the dedup key
// created at or after since, regardless of its status. Nil when none.
func (r *WebhookEventRepository) FindRecentByDedupKey(key string, since int64) (*models.WebhookEvent, error) {
	row := r.db.QueryRow(`
		SELECT `+eventColumns+` FROM webhook_events
		WHERE dedup_key = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, key, since)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// ClaimNext atomically claims the oldest due queued event for workerID.
// The claim is a compare-and-set on status; losing the race to another
// worker just moves on to the next candidate. Returns nil when the
// queue is idle.
func (r *WebhookEventRepository) ClaimNext(workerID string) (*models.WebhookEvent, error) {
	now := time.Now().Unix()
	for attempt := 0; attempt < 3; attempt++ {
		var id string
		err := r.db.QueryRow(`
			SELECT id FROM webhook_events
			WHERE status = 'queued' AND (next_retry_at IS NULL OR next_retry_at <= ?)
			ORDER BY priority ASC, created_at ASC, id ASC
			LIMIT 1
		`, now).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res, err := r.db.Exec(`
			UPDATE webhook_events
			SET status = 'processing', claimed_by = ?, claimed_at = ?, updated_at = ?
			WHERE id = ? AND status = 'queued'
		`, workerID, now, now, id)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return r.GetByID(id)
		}
	}
	return nil, nil
}

func (r *WebhookEventRepository) MarkCompleted(id, workerID string) error {
	now := time.Now().Unix()
	return guarded(r.db.Exec(`
		UPDATE webhook_events
		SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND claimed_by = ?
	`, now, now, id, workerID))
}

// ScheduleRetry puts a claimed event back on the queue with the retry
// counter advanced and a due time in the future.
func (r *WebhookEventRepository) ScheduleRetry(id, workerID string, retryCount int, nextRetryAt int64, lastErr string) error {
	return guarded(r.db.Exec(`
		UPDATE webhook_events
		SET status = 'queued', claimed_by = NULL, claimed_at = NULL,
		    retry_count = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND claimed_by = ?
	`, retryCount, nextRetryAt, lastErr, time.Now().Unix(), id, workerID))
}

func (r *WebhookEventRepository) MarkFailed(id, workerID, lastErr string) error {
	return guarded(r.db.Exec(`
		UPDATE webhook_events
		SET status = 'failed', claimed_by = NULL, claimed_at = NULL, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND claimed_by = ?
	`, lastErr, time.Now().Unix(), id, workerID))
}

func (r *WebhookEventRepository) MarkDeadLetter(id, workerID, lastErr string) error {
	return guarded(r.db.Exec(`
		UPDATE webhook_events
		SET status = 'dead_letter', claimed_by = NULL, claimed_at = NULL, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND claimed_by = ?
	`, lastErr, time.Now().Unix(), id, workerID))
}

// Release hands a claimed event back without charging an attempt.
// Shutdown path: the event stays immediately due.
func (r *WebhookEventRepository) Release(id, workerID string) error {
	return guarded(r.db.Exec(`
		UPDATE webhook_events
		SET status = 'queued', claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing' AND claimed_by = ?
	`, time.Now().Unix(), id, workerID))
}

// FailStuck fails claims held past the cutoff that have no retry budget
// left. Run before RequeueStuck so retries and exhaustion do not race.
func (r *WebhookEventRepository) FailStuck(cutoff int64) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE webhook_events
		SET status = 'failed', claimed_by = NULL, claimed_at = NULL,
		    last_error = 'claim expired', updated_at = ?
		WHERE status = 'processing' AND claimed_at < ? AND retry_count >= max_retries
	`, time.Now().Unix(), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RequeueStuck returns claims held past the cutoff to the queue. The
// expiry is charged as a retryable failure.
func (r *WebhookEventRepository) RequeueStuck(cutoff int64) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE webhook_events
		SET status = 'queued', claimed_by = NULL, claimed_at = NULL,
		    retry_count = retry_count + 1, last_error = 'claim expired', updated_at = ?
		WHERE status = 'processing' AND claimed_at < ?
	`, time.Now().Unix(), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *WebhookEventRepository) List(status, source string, limit, offset int) ([]*models.WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events`
	var conds []string
	var args []interface{}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if source != "" {
		conds = append(conds, "source = ?")
		args = append(args, source)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *WebhookEventRepository) CountByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM webhook_events GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *WebhookEventRepository) CountDeadLettersBefore(cutoff int64) (int, error) {
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM webhook_events WHERE status = ? AND updated_at < ?
	`, models.EventStatusDeadLetter, cutoff).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	var payload string
	var headers, claimedBy, lastError, workflowID, eventType, deliveryID, dedupKey sql.NullString
	var claimedAt, nextRetryAt, completedAt sql.NullInt64

	err := row.Scan(&ev.ID, &ev.Kind, &ev.Source, &eventType, &deliveryID, &dedupKey, &payload, &headers,
		&ev.Verified, &ev.Priority, &ev.Status, &claimedBy, &claimedAt, &ev.RetryCount,
		&ev.MaxRetries, &nextRetryAt, &lastError, &workflowID, &ev.CreatedAt, &ev.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	ev.Payload = json.RawMessage(payload)
	ev.EventType = eventType.String
	ev.DeliveryID = deliveryID.String
	ev.DedupKey = dedupKey.String
	ev.ClaimedBy = claimedBy.String
	ev.LastError = lastError.String
	ev.WorkflowID = workflowID.String
	if headers.Valid && headers.String != "" {
		json.Unmarshal([]byte(headers.String), &ev.Headers)
	}
	if claimedAt.Valid {
		ev.ClaimedAt = &claimedAt.Int64
	}
	if nextRetryAt.Valid {
		ev.NextRetryAt = &nextRetryAt.Int64
	}
	if completedAt.Valid {
		ev.CompletedAt = &completedAt.Int64
	}
	return &ev, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
