package models

import "encoding/json"

type WebhookEvent struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Source      string            `json:"source"`
	EventType   string            `json:"event_type,omitempty"`
	DeliveryID  string            `json:"delivery_id,omitempty"`
	DedupKey    string            `json:"-"`
	Payload     json.RawMessage   `json:"payload"`
	Headers     map[string]string `json:"headers,omitempty"`
	Verified    bool              `json:"verified"`
	Priority    int               `json:"priority"`
	Status      string            `json:"status"`
	ClaimedBy   string            `json:"claimed_by,omitempty"`
	ClaimedAt   *int64            `json:"claimed_at,omitempty"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	NextRetryAt *int64            `json:"next_retry_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	WorkflowID  string            `json:"workflow_id,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	UpdatedAt   int64             `json:"updated_at"`
	CompletedAt *int64            `json:"completed_at,omitempty"`
}

const (
	EventKindWebhook = "webhook"
	EventKindResume  = "resume"
)

const (
	EventStatusQueued     = "queued"
	EventStatusProcessing = "processing"
	EventStatusCompleted  = "completed"
	EventStatusFailed     = "failed"
	EventStatusDeadLetter = "dead_letter"
)

// Lower value claims first. Bands leave room for escalation bumps.
const (
	PriorityCritical = 0
	PriorityHigh     = 10
	PriorityNormal   = 50
	PriorityLow      = 90
)

// ResumePayload is the body of a kind=resume event: the approval
// outcome the executor applies to a suspended execution.
type ResumePayload struct {
	ExecutionID string `json:"execution_id"`
	ApprovalID  string `json:"approval_id"`
	Outcome     string `json:"outcome"` // approved, rejected, expired, cancelled
	ApproverID  string `json:"approver_id,omitempty"`
	Notes       string `json:"notes,omitempty"`
}
