package models

import "encoding/json"

type MonitoringEvent struct {
	ID          string          `json:"id"`
	Severity    string          `json:"severity"`
	Component   string          `json:"component"`
	EventType   string          `json:"event_type"`
	ExecutionID string          `json:"execution_id,omitempty"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	EventID     string          `json:"event_id,omitempty"`
	Message     string          `json:"message"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   int64           `json:"created_at"`
}

const (
	SeverityDebug    = "debug"
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// SeverityRank orders severities for floor filtering. Unknown values
// rank below debug.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityDebug:
		return 1
	case SeverityInfo:
		return 2
	case SeverityWarning:
		return 3
	case SeverityError:
		return 4
	case SeverityCritical:
		return 5
	}
	return 0
}
