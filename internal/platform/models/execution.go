package models

import "encoding/json"

type WorkflowExecution struct {
	ID                 string                     `json:"id"`
	WorkflowID         string                     `json:"workflow_id"`
	TriggerEventID     string                     `json:"trigger_event_id"`
	Status             string                     `json:"status"`
	CurrentStep        string                     `json:"current_step,omitempty"`
	StepIndex          int                        `json:"step_index"`
	ProgressPercentage int                        `json:"progress_percentage"`
	Input              json.RawMessage            `json:"input,omitempty"`
	Output             json.RawMessage            `json:"output,omitempty"`
	StepResults        map[string]json.RawMessage `json:"step_results,omitempty"`
	Error              string                     `json:"error,omitempty"`
	CancelRequested    bool                       `json:"cancel_requested"`
	StartedAt          *int64                     `json:"started_at,omitempty"`
	FinishedAt         *int64                     `json:"finished_at,omitempty"`
	DeadlineAt         int64                      `json:"deadline_at"`
	CreatedAt          int64                      `json:"created_at"`
	UpdatedAt          int64                      `json:"updated_at"`
}

const (
	ExecutionStatusPending          = "pending"
	ExecutionStatusRunning          = "running"
	ExecutionStatusAwaitingApproval = "awaiting_approval"
	ExecutionStatusCompleted        = "completed"
	ExecutionStatusFailed           = "failed"
	ExecutionStatusCancelled        = "cancelled"
	ExecutionStatusTimeout          = "timeout"
)

func ExecutionStatusTerminal(status string) bool {
	switch status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled, ExecutionStatusTimeout:
		return true
	}
	return false
}
