// Package approval is the human-in-the-loop gate for workflow steps.
// Requests are auto-settled when the confidence score is decisive;
// everything in between waits for a reviewer, escalating as it ages.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"leadgen/internal/engine/monitor"
	"leadgen/internal/engine/queue"
	"leadgen/internal/engine/scoring"
	"leadgen/internal/platform/metrics"
	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

var ErrAlreadyDecided = errors.New("approval already decided")

// summaryMaxBytes caps the payload summary stored on the approval row.
const summaryMaxBytes = 2048

const systemActor = "system"

// Defaults fill in whatever a workflow's approval policy leaves unset.
type Defaults struct {
	Timeout        time.Duration
	MaxEscalations int
	Threshold      float64
	MinConfidence  float64
}

type Gate struct {
	approvals *repositories.ApprovalRepository
	workflows *repositories.WorkflowRepository
	queue     *queue.Queue
	sink      *monitor.Sink
	defaults  Defaults
	now       func() time.Time
}

func NewGate(approvals *repositories.ApprovalRepository, workflows *repositories.WorkflowRepository, q *queue.Queue, sink *monitor.Sink, defaults Defaults) *Gate {
	if defaults.Timeout <= 0 {
		defaults.Timeout = 24 * time.Hour
	}
	if defaults.Threshold <= 0 {
		defaults.Threshold = 0.9
	}
	if defaults.MinConfidence <= 0 {
		defaults.MinConfidence = 0.3
	}
	if defaults.MaxEscalations < 0 {
		defaults.MaxEscalations = 0
	}
	return &Gate{
		approvals: approvals,
		workflows: workflows,
		queue:     q,
		sink:      sink,
		defaults:  defaults,
		now:       time.Now,
	}
}

type policy struct {
	threshold      float64
	minConfidence  float64
	timeout        time.Duration
	maxEscalations int
}

func (g *Gate) effectivePolicy(wf *models.Workflow) policy {
	p := policy{
		threshold:      g.defaults.Threshold,
		minConfidence:  g.defaults.MinConfidence,
		timeout:        g.defaults.Timeout,
		maxEscalations: g.defaults.MaxEscalations,
	}
	wp := wf.ApprovalPolicy
	if wp.ConfidenceThreshold > 0 {
		p.threshold = wp.ConfidenceThreshold
	}
	if wp.MinConfidence > 0 {
		p.minConfidence = wp.MinConfidence
	}
	if wp.TimeoutSeconds > 0 {
		p.timeout = time.Duration(wp.TimeoutSeconds) * time.Second
	}
	if wp.MaxEscalations > 0 {
		p.maxEscalations = wp.MaxEscalations
	}
	return p
}

// Request opens an approval for a gated step. Confidence at or above
// the threshold settles it approved on the spot; confidence below the
// floor settles it rejected. Anything in between stays pending until a
// reviewer decides or the expiry sweep catches it.
func (g *Gate) Request(wf *models.Workflow, exec *models.WorkflowExecution, step models.WorkflowStep, payload json.RawMessage, priority int) (*models.Approval, error) {
	p := g.effectivePolicy(wf)
	confidence, reason := scoring.Confidence(wf.Kind, payload)
	now := g.now().Unix()

	a := &models.Approval{
		ExecutionID:    exec.ID,
		WorkflowID:     wf.ID,
		StepName:       step.Name,
		Status:         models.ApprovalStatusPending,
		Confidence:     confidence,
		Threshold:      p.threshold,
		Reason:         reason,
		Priority:       priority,
		ExpiresAt:      now + int64(p.timeout/time.Second),
		PayloadSummary: summarize(payload),
	}

	action := models.ApprovalActionRequested
	switch {
	case confidence >= p.threshold:
		a.Status = models.ApprovalStatusApproved
		a.Auto = true
		a.DecidedAt = &now
		a.DecisionNotes = fmt.Sprintf("confidence %.2f at or above threshold %.2f", confidence, p.threshold)
		action = models.ApprovalActionAutoApproved
	case confidence < p.minConfidence:
		a.Status = models.ApprovalStatusRejected
		a.Auto = true
		a.DecidedAt = &now
		a.DecisionNotes = fmt.Sprintf("confidence %.2f below floor %.2f", confidence, p.minConfidence)
		action = models.ApprovalActionAutoRejected
	}

	if err := g.approvals.Create(a); err != nil {
		return nil, err
	}
	g.appendHistory(a, action, systemActor, a.DecisionNotes)
	metrics.Approvals.WithLabelValues(action).Inc()
	g.sink.Emit(severityFor(action), "approval", action, fmt.Sprintf("step %q gate %s", step.Name, a.Status), monitor.Ref{
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		Details: map[string]interface{}{
			"approval_id": a.ID,
			"confidence":  confidence,
			"threshold":   p.threshold,
			"reason":      reason,
		},
	})
	return a, nil
}

// Decide settles a pending approval on behalf of a reviewer and wakes
// the suspended execution with a resume event. A decision that lost the
// race returns the settled row with ErrAlreadyDecided.
func (g *Gate) Decide(id string, approve bool, approverID, notes string) (*models.Approval, error) {
	a, err := g.approvals.GetByID(id)
	if err != nil || a == nil {
		return nil, err
	}

	status := models.ApprovalStatusRejected
	action := models.ApprovalActionRejected
	if approve {
		status = models.ApprovalStatusApproved
		action = models.ApprovalActionApproved
	}

	if err := g.approvals.Decide(id, status, approverID, notes); err != nil {
		if errors.Is(err, repositories.ErrNotOwner) {
			return a, ErrAlreadyDecided
		}
		return nil, err
	}

	a, err = g.approvals.GetByID(id)
	if err != nil || a == nil {
		return nil, err
	}
	g.appendHistory(a, action, approverID, notes)
	metrics.Approvals.WithLabelValues(action).Inc()

	if err := g.enqueueResume(a, status, approverID, notes); err != nil {
		return a, err
	}
	g.sink.Emit(models.SeverityInfo, "approval", action, fmt.Sprintf("approval %s by %s", status, approverID), monitor.Ref{
		WorkflowID:  a.WorkflowID,
		ExecutionID: a.ExecutionID,
		Details:     map[string]string{"approval_id": a.ID, "notes": notes},
	})
	return a, nil
}

// Void cancels the open approval of an execution that stopped waiting,
// after a cancel or a timeout. No resume event: the execution is being
// settled by the caller.
func (g *Gate) Void(executionID, reason string) error {
	a, err := g.approvals.GetOpenByExecution(executionID)
	if err != nil || a == nil {
		return err
	}
	if err := g.approvals.Decide(a.ID, models.ApprovalStatusCancelled, "", reason); err != nil {
		if errors.Is(err, repositories.ErrNotOwner) {
			return nil
		}
		return err
	}
	g.appendHistory(a, models.ApprovalActionCancelled, systemActor, reason)
	metrics.Approvals.WithLabelValues(models.ApprovalActionCancelled).Inc()
	return nil
}

// SweepExpired handles pending approvals that outlived their expiry:
// escalate while the budget lasts, then expire, which resumes the
// execution down the rejection path.
func (g *Gate) SweepExpired(limit int) (escalated, expired int, err error) {
	overdue, err := g.approvals.ListExpired(g.now().Unix(), limit)
	if err != nil {
		return 0, 0, err
	}

	for _, a := range overdue {
		p := g.policyFor(a.WorkflowID)
		if a.EscalationLevel < p.maxEscalations {
			if err := g.escalate(a, p); err != nil {
				log.Error().Err(err).Str("approval_id", a.ID).Msg("escalate failed")
				continue
			}
			escalated++
			continue
		}
		if err := g.expire(a); err != nil {
			log.Error().Err(err).Str("approval_id", a.ID).Msg("expire failed")
			continue
		}
		expired++
	}
	return escalated, expired, nil
}

// policyFor resolves the policy by workflow id, falling back to the
// gate defaults when the workflow is gone.
func (g *Gate) policyFor(workflowID string) policy {
	wf, err := g.workflows.GetByID(workflowID)
	if err != nil || wf == nil {
		return policy{
			threshold:      g.defaults.Threshold,
			minConfidence:  g.defaults.MinConfidence,
			timeout:        g.defaults.Timeout,
			maxEscalations: g.defaults.MaxEscalations,
		}
	}
	return g.effectivePolicy(wf)
}

func (g *Gate) escalate(a *models.Approval, p policy) error {
	newPriority := escalatedPriority(a.Priority)
	newExpiresAt := g.now().Add(p.timeout).Unix()
	if err := g.approvals.Escalate(a.ID, newPriority, newExpiresAt); err != nil {
		if errors.Is(err, repositories.ErrNotOwner) {
			return nil
		}
		return err
	}
	g.appendHistory(a, models.ApprovalActionEscalated, systemActor,
		fmt.Sprintf("level %d, priority %d", a.EscalationLevel+1, newPriority))
	metrics.Approvals.WithLabelValues(models.ApprovalActionEscalated).Inc()
	g.sink.Emit(models.SeverityWarning, "approval", "escalated", fmt.Sprintf("approval escalated to level %d", a.EscalationLevel+1), monitor.Ref{
		WorkflowID:  a.WorkflowID,
		ExecutionID: a.ExecutionID,
		Details:     map[string]interface{}{"approval_id": a.ID, "priority": newPriority, "expires_at": newExpiresAt},
	})
	return nil
}

func (g *Gate) expire(a *models.Approval) error {
	if err := g.approvals.Decide(a.ID, models.ApprovalStatusExpired, "", "approval window elapsed"); err != nil {
		if errors.Is(err, repositories.ErrNotOwner) {
			return nil
		}
		return err
	}
	g.appendHistory(a, models.ApprovalActionExpired, systemActor, "approval window elapsed")
	metrics.Approvals.WithLabelValues(models.ApprovalActionExpired).Inc()

	if err := g.enqueueResume(a, models.ApprovalStatusExpired, "", "approval window elapsed"); err != nil {
		return err
	}
	g.sink.Emit(models.SeverityWarning, "approval", "expired", "approval expired without a decision", monitor.Ref{
		WorkflowID:  a.WorkflowID,
		ExecutionID: a.ExecutionID,
		Details:     map[string]string{"approval_id": a.ID},
	})
	return nil
}

// enqueueResume puts the decision on the queue as a high-priority
// resume event. The worker picks it up and advances the execution.
func (g *Gate) enqueueResume(a *models.Approval, outcome, approverID, notes string) error {
	payload, err := json.Marshal(&models.ResumePayload{
		ExecutionID: a.ExecutionID,
		ApprovalID:  a.ID,
		Outcome:     outcome,
		ApproverID:  approverID,
		Notes:       notes,
	})
	if err != nil {
		return err
	}

	_, err = g.queue.Enqueue(&models.WebhookEvent{
		Kind:       models.EventKindResume,
		Source:     "approval",
		EventType:  "approval." + outcome,
		DeliveryID: a.ID + ":" + outcome,
		Payload:    payload,
		Verified:   true,
		Priority:   models.PriorityHigh,
		WorkflowID: a.WorkflowID,
	})
	return err
}

func (g *Gate) appendHistory(a *models.Approval, action, actor, notes string) {
	err := g.approvals.AppendHistory(&models.ApprovalHistoryEntry{
		ApprovalID:  a.ID,
		ExecutionID: a.ExecutionID,
		Action:      action,
		Actor:       actor,
		Level:       a.EscalationLevel,
		Notes:       notes,
	})
	if err != nil {
		log.Error().Err(err).Str("approval_id", a.ID).Str("action", action).Msg("failed to append approval history")
	}
}

// Get returns one approval, nil when unknown.
func (g *Gate) Get(id string) (*models.Approval, error) {
	return g.approvals.GetByID(id)
}

// ListPending returns the reviewer queue, most urgent first.
func (g *Gate) ListPending(workflowID string, limit, offset int) ([]*models.Approval, error) {
	return g.approvals.ListPending(workflowID, limit, offset)
}

// History returns the audit trail of one approval, oldest first.
func (g *Gate) History(approvalID string) ([]*models.ApprovalHistoryEntry, error) {
	return g.approvals.ListHistory(approvalID)
}

func severityFor(action string) string {
	if action == models.ApprovalActionAutoRejected {
		return models.SeverityWarning
	}
	return models.SeverityInfo
}

// escalatedPriority moves an approval up one urgency band.
func escalatedPriority(p int) int {
	switch {
	case p > models.PriorityNormal:
		return models.PriorityNormal
	case p > models.PriorityHigh:
		return models.PriorityHigh
	default:
		return models.PriorityCritical
	}
}

func summarize(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	if len(payload) <= summaryMaxBytes && json.Valid(payload) {
		return payload
	}
	out, _ := json.Marshal(map[string]interface{}{"truncated": true, "bytes": len(payload)})
	return out
}
