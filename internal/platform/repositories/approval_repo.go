package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"leadgen/internal/platform/models"

	"github.com/google/uuid"
)

type ApprovalRepository struct {
	db *sql.DB
}

func NewApprovalRepository(db *sql.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, execution_id, workflow_id, step_name, status, confidence, threshold, auto, reason, approver_id, decided_at, decision_notes, priority, escalation_level, expires_at, payload_summary, created_at, updated_at`

func (r *ApprovalRepository) Create(a *models.Approval) error {
	a.ID = "apr_" + uuid.New().String()
	a.CreatedAt = time.Now().Unix()
	a.UpdatedAt = a.CreatedAt
	if a.Status == "" {
		a.Status = models.ApprovalStatusPending
	}

	_, err := r.db.Exec(`
		INSERT INTO workflow_approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ExecutionID, a.WorkflowID, a.StepName, a.Status, a.Confidence, a.Threshold, a.Auto,
		a.Reason, a.ApproverID, a.DecidedAt, a.DecisionNotes, a.Priority, a.EscalationLevel,
		a.ExpiresAt, rawOrNull(a.PayloadSummary), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *ApprovalRepository) GetByID(id string) (*models.Approval, error) {
	row := r.db.QueryRow(`SELECT `+approvalColumns+` FROM workflow_approvals WHERE id = ?`, id)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetOpenByExecution returns the pending approval for an execution,
// nil when there is none. At most one can be pending at a time.
func (r *ApprovalRepository) GetOpenByExecution(executionID string) (*models.Approval, error) {
	row := r.db.QueryRow(`
		SELECT `+approvalColumns+` FROM workflow_approvals
		WHERE execution_id = ? AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1
	`, executionID)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetByExecutionStep returns the newest approval for a step of an
// execution regardless of status. The executor uses it to tell a
// decided gate from one that was never requested.
func (r *ApprovalRepository) GetByExecutionStep(executionID, stepName string) (*models.Approval, error) {
	row := r.db.QueryRow(`
		SELECT `+approvalColumns+` FROM workflow_approvals
		WHERE execution_id = ? AND step_name = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, executionID, stepName)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListPending is the reviewer queue: most urgent first.
func (r *ApprovalRepository) ListPending(workflowID string, limit, offset int) ([]*models.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM workflow_approvals WHERE status = 'pending'`
	var args []interface{}
	if workflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, workflowID)
	}
	query += " ORDER BY priority ASC, created_at ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*models.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// Decide settles a pending approval. The status guard makes a second
// decision lose with ErrNotOwner.
func (r *ApprovalRepository) Decide(id, status, approverID, notes string) error {
	now := time.Now().Unix()
	return guarded(r.db.Exec(`
		UPDATE workflow_approvals
		SET status = ?, approver_id = ?, decided_at = ?, decision_notes = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, status, nullString(approverID), now, notes, now, id))
}

// Escalate bumps a pending approval one level with a fresh expiry and
// a higher priority.
func (r *ApprovalRepository) Escalate(id string, newPriority int, newExpiresAt int64) error {
	return guarded(r.db.Exec(`
		UPDATE workflow_approvals
		SET escalation_level = escalation_level + 1, priority = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, newPriority, newExpiresAt, time.Now().Unix(), id))
}

// ListExpired returns pending approvals whose expiry has passed.
func (r *ApprovalRepository) ListExpired(now int64, limit int) ([]*models.Approval, error) {
	rows, err := r.db.Query(`
		SELECT `+approvalColumns+` FROM workflow_approvals
		WHERE status = 'pending' AND expires_at > 0 AND expires_at < ?
		ORDER BY expires_at ASC LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*models.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (r *ApprovalRepository) AppendHistory(entry *models.ApprovalHistoryEntry) error {
	entry.CreatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO approval_history (approval_id, execution_id, action, actor, level, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ApprovalID, entry.ExecutionID, entry.Action, entry.Actor, entry.Level, entry.Notes, entry.CreatedAt)
	return err
}

func (r *ApprovalRepository) ListHistory(approvalID string) ([]*models.ApprovalHistoryEntry, error) {
	rows, err := r.db.Query(`
		SELECT id, approval_id, execution_id, action, actor, level, notes, created_at
		FROM approval_history WHERE approval_id = ?
		ORDER BY id ASC
	`, approvalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ApprovalHistoryEntry
	for rows.Next() {
		var e models.ApprovalHistoryEntry
		var actor, notes sql.NullString
		if err := rows.Scan(&e.ID, &e.ApprovalID, &e.ExecutionID, &e.Action, &actor, &e.Level, &notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Actor = actor.String
		e.Notes = notes.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func scanApproval(row rowScanner) (*models.Approval, error) {
	var a models.Approval
	var reason, approverID, decisionNotes, payloadSummary sql.NullString
	var decidedAt sql.NullInt64

	err := row.Scan(&a.ID, &a.ExecutionID, &a.WorkflowID, &a.StepName, &a.Status, &a.Confidence,
		&a.Threshold, &a.Auto, &reason, &approverID, &decidedAt, &decisionNotes, &a.Priority,
		&a.EscalationLevel, &a.ExpiresAt, &payloadSummary, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Reason = reason.String
	a.DecisionNotes = decisionNotes.String
	if approverID.Valid {
		a.ApproverID = &approverID.String
	}
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.Int64
	}
	if payloadSummary.Valid && payloadSummary.String != "" {
		a.PayloadSummary = json.RawMessage(payloadSummary.String)
	}
	return &a, nil
}
