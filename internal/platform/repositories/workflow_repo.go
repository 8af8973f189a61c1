package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"leadgen/internal/platform/models"

	"github.com/google/uuid"
)

type WorkflowRepository struct {
	db *sql.DB
}

func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = `id, name, kind, description, status, trigger_conditions, payload_schema, steps, webhook_url, webhook_secret, approval_policy, max_retries, retry_delay_seconds, timeout_seconds, created_by, created_at, updated_at`

func (r *WorkflowRepository) Create(wf *models.Workflow) error {
	wf.ID = "wf_" + uuid.New().String()
	wf.CreatedAt = time.Now().Unix()
	wf.UpdatedAt = wf.CreatedAt
	if wf.Status == "" {
		wf.Status = models.WorkflowStatusActive
	}

	triggersJSON, err := json.Marshal(wf.TriggerConditions)
	if err != nil {
		return err
	}
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return err
	}
	policyJSON, err := json.Marshal(wf.ApprovalPolicy)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, wf.ID, wf.Name, wf.Kind, wf.Description, wf.Status, string(triggersJSON), rawOrNull(wf.PayloadSchema),
		string(stepsJSON), wf.WebhookURL, wf.WebhookSecret, string(policyJSON), wf.MaxRetries,
		wf.RetryDelaySeconds, wf.TimeoutSeconds, wf.CreatedBy, wf.CreatedAt, wf.UpdatedAt)
	return err
}

func (r *WorkflowRepository) GetByID(id string) (*models.Workflow, error) {
	row := r.db.QueryRow(`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

func (r *WorkflowRepository) GetByName(name string) (*models.Workflow, error) {
	row := r.db.QueryRow(`SELECT `+workflowColumns+` FROM workflows WHERE name = ?`, name)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

func (r *WorkflowRepository) List(status, kind string, limit, offset int) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	var conds []string
	var args []interface{}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, kind)
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

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// ListActive returns active workflows ordered by name, the order
// trigger resolution walks them in.
func (r *WorkflowRepository) ListActive() ([]*models.Workflow, error) {
	rows, err := r.db.Query(`SELECT ` + workflowColumns + ` FROM workflows WHERE status = 'active' ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (r *WorkflowRepository) Update(wf *models.Workflow) error {
	wf.UpdatedAt = time.Now().Unix()

	triggersJSON, err := json.Marshal(wf.TriggerConditions)
	if err != nil {
		return err
	}
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return err
	}
	policyJSON, err := json.Marshal(wf.ApprovalPolicy)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		UPDATE workflows
		SET name = ?, kind = ?, description = ?, status = ?, trigger_conditions = ?, payload_schema = ?,
		    steps = ?, webhook_url = ?, approval_policy = ?, max_retries = ?, retry_delay_seconds = ?,
		    timeout_seconds = ?, updated_at = ?
		WHERE id = ?
	`, wf.Name, wf.Kind, wf.Description, wf.Status, string(triggersJSON), rawOrNull(wf.PayloadSchema),
		string(stepsJSON), wf.WebhookURL, string(policyJSON), wf.MaxRetries, wf.RetryDelaySeconds,
		wf.TimeoutSeconds, wf.UpdatedAt, wf.ID)
	return err
}

func (r *WorkflowRepository) UpdateStatus(id, status string) error {
	_, err := r.db.Exec(`UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().Unix(), id)
	return err
}

func (r *WorkflowRepository) UpdateSecret(id, secret string) error {
	_, err := r.db.Exec(`UPDATE workflows SET webhook_secret = ?, updated_at = ? WHERE id = ?`, secret, time.Now().Unix(), id)
	return err
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var wf models.Workflow
	var triggers, steps, policy string
	var description, schema, webhookURL, webhookSecret, createdBy sql.NullString

	err := row.Scan(&wf.ID, &wf.Name, &wf.Kind, &description, &wf.Status, &triggers, &schema, &steps,
		&webhookURL, &webhookSecret, &policy, &wf.MaxRetries, &wf.RetryDelaySeconds, &wf.TimeoutSeconds,
		&createdBy, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}

	wf.Description = description.String
	wf.WebhookURL = webhookURL.String
	wf.WebhookSecret = webhookSecret.String
	wf.CreatedBy = createdBy.String
	if schema.Valid && schema.String != "" {
		wf.PayloadSchema = json.RawMessage(schema.String)
	}
	json.Unmarshal([]byte(triggers), &wf.TriggerConditions)
	json.Unmarshal([]byte(steps), &wf.Steps)
	json.Unmarshal([]byte(policy), &wf.ApprovalPolicy)

	return &wf, nil
}

func rawOrNull(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
