package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"leadgen/internal/platform/models"

	"github.com/google/uuid"
)

type ExecutionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const executionColumns = `id, workflow_id, trigger_event_id, status, current_step, step_index, progress_percentage, input, output, step_results, error, cancel_requested, started_at, finished_at, deadline_at, created_at, updated_at`

func (r *ExecutionRepository) Create(exec *models.WorkflowExecution) error {
	exec.ID = "exec_" + uuid.New().String()
	exec.CreatedAt = time.Now().Unix()
	exec.UpdatedAt = exec.CreatedAt
	if exec.Status == "" {
		exec.Status = models.ExecutionStatusPending
	}

	stepResultsJSON, err := marshalStepResults(exec.StepResults)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.WorkflowID, exec.TriggerEventID, exec.Status, exec.CurrentStep, exec.StepIndex,
		exec.ProgressPercentage, rawOrNull(exec.Input), rawOrNull(exec.Output), stepResultsJSON,
		exec.Error, exec.CancelRequested, exec.StartedAt, exec.FinishedAt, exec.DeadlineAt,
		exec.CreatedAt, exec.UpdatedAt)
	return err
}

func (r *ExecutionRepository) GetByID(id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRow(`SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

func (r *ExecutionRepository) GetByTriggerEventID(eventID string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRow(`SELECT `+executionColumns+` FROM workflow_executions WHERE trigger_event_id = ?`, eventID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

func (r *ExecutionRepository) List(workflowID, status string, limit, offset int) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	var conds []string
	var args []interface{}
	if workflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, workflowID)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
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

	var execs []*models.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// Update persists the execution's position. The guard refuses to touch
// a row that already reached a terminal status, so a watchdog timeout
// cannot be overwritten by a slow worker. The cancel_requested flag is
// owned by RequestCancel and never written here.
func (r *ExecutionRepository) Update(exec *models.WorkflowExecution) error {
	exec.UpdatedAt = time.Now().Unix()

	stepResultsJSON, err := marshalStepResults(exec.StepResults)
	if err != nil {
		return err
	}

	return guarded(r.db.Exec(`
		UPDATE workflow_executions
		SET status = ?, current_step = ?, step_index = ?, progress_percentage = ?, output = ?,
		    step_results = ?, error = ?, started_at = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled', 'timeout')
	`, exec.Status, exec.CurrentStep, exec.StepIndex, exec.ProgressPercentage, rawOrNull(exec.Output),
		stepResultsJSON, exec.Error, exec.StartedAt, exec.FinishedAt, exec.UpdatedAt,
		exec.ID))
}

// Transition moves status from -> to when the row is still in from.
func (r *ExecutionRepository) Transition(id, from, to, errMsg string) error {
	now := time.Now().Unix()
	if models.ExecutionStatusTerminal(to) {
		return guarded(r.db.Exec(`
			UPDATE workflow_executions
			SET status = ?, error = ?, finished_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, to, errMsg, now, now, id, from))
	}
	return guarded(r.db.Exec(`
		UPDATE workflow_executions
		SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, errMsg, now, id, from))
}

// RequestCancel flags a running execution; the executor honors the flag
// between steps.
func (r *ExecutionRepository) RequestCancel(id string) error {
	return guarded(r.db.Exec(`
		UPDATE workflow_executions SET cancel_requested = 1, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, time.Now().Unix(), id))
}

// ListPastDeadline returns live executions whose deadline has passed.
func (r *ExecutionRepository) ListPastDeadline(now int64, limit int) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.Query(`
		SELECT `+executionColumns+` FROM workflow_executions
		WHERE status IN ('pending', 'running', 'awaiting_approval') AND deadline_at > 0 AND deadline_at < ?
		ORDER BY deadline_at ASC LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*models.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// Stats aggregates execution counters for one workflow. Derived on
// read, never stored.
func (r *ExecutionRepository) Stats(workflowID string) (*models.WorkflowStats, error) {
	stats := &models.WorkflowStats{
		WorkflowID: workflowID,
		ByStatus:   make(map[string]int),
	}

	rows, err := r.db.Query(`
		SELECT status, COUNT(*) FROM workflow_executions
		WHERE workflow_id = ? GROUP BY status
	`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	terminal := stats.ByStatus[models.ExecutionStatusCompleted] +
		stats.ByStatus[models.ExecutionStatusFailed] +
		stats.ByStatus[models.ExecutionStatusCancelled] +
		stats.ByStatus[models.ExecutionStatusTimeout]
	if terminal > 0 {
		stats.SuccessRate = float64(stats.ByStatus[models.ExecutionStatusCompleted]) / float64(terminal)
	}

	var avg sql.NullFloat64
	err = r.db.QueryRow(`
		SELECT AVG(finished_at - started_at) FROM workflow_executions
		WHERE workflow_id = ? AND status = 'completed' AND started_at IS NOT NULL AND finished_at IS NOT NULL
	`, workflowID).Scan(&avg)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgDurationSec = avg.Float64
	}

	return stats, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var exec models.WorkflowExecution
	var currentStep, input, output, stepResults, execErr sql.NullString
	var startedAt, finishedAt sql.NullInt64

	err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.TriggerEventID, &exec.Status, &currentStep,
		&exec.StepIndex, &exec.ProgressPercentage, &input, &output, &stepResults, &execErr,
		&exec.CancelRequested, &startedAt, &finishedAt, &exec.DeadlineAt, &exec.CreatedAt, &exec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	exec.CurrentStep = currentStep.String
	exec.Error = execErr.String
	if input.Valid && input.String != "" {
		exec.Input = json.RawMessage(input.String)
	}
	if output.Valid && output.String != "" {
		exec.Output = json.RawMessage(output.String)
	}
	if stepResults.Valid && stepResults.String != "" {
		json.Unmarshal([]byte(stepResults.String), &exec.StepResults)
	}
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Int64
	}
	if finishedAt.Valid {
		exec.FinishedAt = &finishedAt.Int64
	}
	return &exec, nil
}

func marshalStepResults(results map[string]json.RawMessage) (interface{}, error) {
	if results == nil {
		return nil, nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func guarded(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}
