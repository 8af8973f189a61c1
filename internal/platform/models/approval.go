package models

import "encoding/json"

type Approval struct {
	ID              string          `json:"id"`
	ExecutionID     string          `json:"execution_id"`
	WorkflowID      string          `json:"workflow_id"`
	StepName        string          `json:"step_name"`
	Status          string          `json:"status"`
	Confidence      float64         `json:"confidence"`
	Threshold       float64         `json:"threshold"`
	Auto            bool            `json:"auto"`
	Reason          string          `json:"reason,omitempty"`
	ApproverID      *string         `json:"approver_id,omitempty"`
	DecidedAt       *int64          `json:"decided_at,omitempty"`
	DecisionNotes   string          `json:"decision_notes,omitempty"`
	Priority        int             `json:"priority"`
	EscalationLevel int             `json:"escalation_level"`
	ExpiresAt       int64           `json:"expires_at"`
	PayloadSummary  json.RawMessage `json:"payload_summary,omitempty"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
}

const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusRejected  = "rejected"
	ApprovalStatusExpired   = "expired"
	ApprovalStatusCancelled = "cancelled"
)

func ApprovalStatusTerminal(status string) bool {
	return status != ApprovalStatusPending
}

type ApprovalHistoryEntry struct {
	ID          int64  `json:"id"`
	ApprovalID  string `json:"approval_id"`
	ExecutionID string `json:"execution_id"`
	Action      string `json:"action"`
	Actor       string `json:"actor,omitempty"`
	Level       int    `json:"level"`
	Notes       string `json:"notes,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

const (
	ApprovalActionRequested    = "requested"
	ApprovalActionAutoApproved = "auto_approved"
	ApprovalActionAutoRejected = "auto_rejected"
	ApprovalActionApproved     = "approved"
	ApprovalActionRejected     = "rejected"
	ApprovalActionEscalated    = "escalated"
	ApprovalActionExpired      = "expired"
	ApprovalActionCancelled    = "cancelled"
)
