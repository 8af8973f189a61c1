package models

import "encoding/json"

type Workflow struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Kind              string            `json:"kind"`
	Description       string            `json:"description,omitempty"`
	Status            string            `json:"status"`
	TriggerConditions TriggerConditions `json:"trigger_conditions"`
	PayloadSchema     json.RawMessage   `json:"payload_schema,omitempty"` // JSON Schema, optional
	Steps             []WorkflowStep    `json:"steps"`
	WebhookURL        string            `json:"webhook_url,omitempty"`
	WebhookSecret     string            `json:"-"`
	ApprovalPolicy    ApprovalPolicy    `json:"approval_policy"`
	MaxRetries        int               `json:"max_retries"`
	RetryDelaySeconds int               `json:"retry_delay_seconds"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	CreatedBy         string            `json:"created_by,omitempty"`
	CreatedAt         int64             `json:"created_at"`
	UpdatedAt         int64             `json:"updated_at"`
}

type WorkflowStep struct {
	Name             string          `json:"name"`
	Handler          string          `json:"handler"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
	Params           json.RawMessage `json:"params,omitempty"`
}

// TriggerConditions decide which events start this workflow. Sources
// empty means any source; every Match entry is a gjson path that must
// resolve to the given value on the payload.
type TriggerConditions struct {
	Sources []string          `json:"sources,omitempty"`
	Match   map[string]string `json:"match,omitempty"`
}

type ApprovalPolicy struct {
	Required            bool    `json:"required"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MinConfidence       float64 `json:"min_confidence"`
	TimeoutSeconds      int     `json:"timeout_seconds"`
	MaxEscalations      int     `json:"max_escalations"`
}

const (
	WorkflowStatusActive   = "active"
	WorkflowStatusPaused   = "paused"
	WorkflowStatusArchived = "archived"
)

// WorkflowStats is derived from workflow_executions at read time.
type WorkflowStats struct {
	WorkflowID     string         `json:"workflow_id"`
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	SuccessRate    float64        `json:"success_rate"`
	AvgDurationSec float64        `json:"avg_duration_seconds"`
}

const (
	WorkflowKindCampaign       = "campaign"
	WorkflowKindLeadEnrichment = "lead_enrichment"
	WorkflowKindCRMSync        = "crm_sync"
	WorkflowKindNotification   = "notification"
	WorkflowKindGeneric        = "generic"
)
