package repositories

import (
	"database/sql"
	"encoding/json"

	"leadgen/internal/platform/models"

	"github.com/google/uuid"
)

type MonitoringRepository struct {
	db *sql.DB
}

func NewMonitoringRepository(db *sql.DB) *MonitoringRepository {
	return &MonitoringRepository{db: db}
}

func (r *MonitoringRepository) Insert(ev *models.MonitoringEvent) error {
	if ev.ID == "" {
		ev.ID = "mon_" + uuid.New().String()
	}
	_, err := r.db.Exec(`
		INSERT INTO monitoring_events (id, severity, component, event_type, execution_id, workflow_id, event_id, message, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Severity, ev.Component, ev.EventType, nullString(ev.ExecutionID), nullString(ev.WorkflowID),
		nullString(ev.EventID), ev.Message, rawOrNull(ev.Details), ev.CreatedAt)
	return err
}

type MonitoringFilter struct {
	MinSeverity string
	Component   string
	ExecutionID string
	WorkflowID  string
	Since       int64
	Limit       int
	Offset      int
}

func (r *MonitoringRepository) List(f MonitoringFilter) ([]*models.MonitoringEvent, error) {
	query := `SELECT id, severity, component, event_type, execution_id, workflow_id, event_id, message, details, created_at FROM monitoring_events WHERE 1=1`
	var args []interface{}

	if f.MinSeverity != "" {
		rank := models.SeverityRank(f.MinSeverity)
		var allowed []string
		for _, s := range []string{models.SeverityDebug, models.SeverityInfo, models.SeverityWarning, models.SeverityError, models.SeverityCritical} {
			if models.SeverityRank(s) >= rank {
				allowed = append(allowed, s)
			}
		}
		query += " AND severity IN (?" + repeatParam(len(allowed)-1) + ")"
		for _, s := range allowed {
			args = append(args, s)
		}
	}
	if f.Component != "" {
		query += " AND component = ?"
		args = append(args, f.Component)
	}
	if f.ExecutionID != "" {
		query += " AND execution_id = ?"
		args = append(args, f.ExecutionID)
	}
	if f.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, f.WorkflowID)
	}
	if f.Since > 0 {
		query += " AND created_at >= ?"
		args = append(args, f.Since)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.MonitoringEvent
	for rows.Next() {
		var ev models.MonitoringEvent
		var executionID, workflowID, eventID, details sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Severity, &ev.Component, &ev.EventType, &executionID,
			&workflowID, &eventID, &ev.Message, &details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.ExecutionID = executionID.String
		ev.WorkflowID = workflowID.String
		ev.EventID = eventID.String
		if details.Valid && details.String != "" {
			ev.Details = json.RawMessage(details.String)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func repeatParam(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
