package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

var (
	ErrNoWorkflow       = errors.New("no workflow matches the event")
	ErrWorkflowInactive = errors.New("workflow is not active")
	ErrNameTaken        = errors.New("workflow name already in use")
)

// ValidationError reports an event payload rejected by a workflow's
// schema. Not retryable: the same payload will never start passing.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload failed schema validation: %v", e.Details)
}

// Defaults fill workflow fields left unset at create time.
type Defaults struct {
	MaxRetries          int
	TimeoutSeconds      int
	ApprovalTimeout     time.Duration
	MaxEscalations      int
	ConfidenceThreshold float64
	MinConfidence       float64
}

type Service struct {
	workflows *repositories.WorkflowRepository
	cache     *workflowCache
	defaults  Defaults
}

func NewService(workflows *repositories.WorkflowRepository, cacheTTL time.Duration, defaults Defaults) *Service {
	if defaults.MaxRetries <= 0 {
		defaults.MaxRetries = 3
	}
	if defaults.TimeoutSeconds <= 0 {
		defaults.TimeoutSeconds = 3600
	}
	if defaults.ApprovalTimeout <= 0 {
		defaults.ApprovalTimeout = 24 * time.Hour
	}
	if defaults.MaxEscalations <= 0 {
		defaults.MaxEscalations = 2
	}
	if defaults.ConfidenceThreshold <= 0 {
		defaults.ConfidenceThreshold = 0.9
	}
	return &Service{
		workflows: workflows,
		cache:     newWorkflowCache(cacheTTL),
		defaults:  defaults,
	}
}

func (s *Service) Create(wf *models.Workflow) (*models.Workflow, error) {
	s.applyDefaults(wf)
	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}

	existing, err := s.workflows.GetByName(wf.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrNameTaken
	}

	if wf.WebhookURL != "" && wf.WebhookSecret == "" {
		wf.WebhookSecret = newSecret()
	}

	if err := s.workflows.Create(wf); err != nil {
		return nil, err
	}
	s.cache.Invalidate()
	return wf, nil
}

func (s *Service) Get(id string) (*models.Workflow, error) {
	if wf, ok := s.cache.Get(id); ok {
		return wf, nil
	}
	wf, err := s.workflows.GetByID(id)
	if err != nil || wf == nil {
		return wf, err
	}
	s.cache.Set(wf)
	return wf, nil
}

func (s *Service) List(status, kind string, limit, offset int) ([]*models.Workflow, error) {
	return s.workflows.List(status, kind, limit, offset)
}

// Update applies the non-zero fields of updates. Trigger conditions,
// steps and policy replace wholesale when provided.
func (s *Service) Update(id string, updates *models.Workflow) (*models.Workflow, error) {
	existing, err := s.workflows.GetByID(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	if updates.Name != "" && updates.Name != existing.Name {
		other, err := s.workflows.GetByName(updates.Name)
		if err != nil {
			return nil, err
		}
		if other != nil {
			return nil, ErrNameTaken
		}
		existing.Name = updates.Name
	}
	if updates.Kind != "" {
		existing.Kind = updates.Kind
	}
	if updates.Description != "" {
		existing.Description = updates.Description
	}
	if updates.TriggerConditions.Sources != nil || updates.TriggerConditions.Match != nil {
		existing.TriggerConditions = updates.TriggerConditions
	}
	if updates.PayloadSchema != nil {
		existing.PayloadSchema = updates.PayloadSchema
	}
	if updates.Steps != nil {
		existing.Steps = updates.Steps
	}
	if updates.WebhookURL != "" {
		existing.WebhookURL = updates.WebhookURL
		if existing.WebhookSecret == "" {
			existing.WebhookSecret = newSecret()
		}
	}
	if updates.ApprovalPolicy != (models.ApprovalPolicy{}) {
		existing.ApprovalPolicy = updates.ApprovalPolicy
	}
	if updates.MaxRetries > 0 {
		existing.MaxRetries = updates.MaxRetries
	}
	if updates.RetryDelaySeconds > 0 {
		existing.RetryDelaySeconds = updates.RetryDelaySeconds
	}
	if updates.TimeoutSeconds > 0 {
		existing.TimeoutSeconds = updates.TimeoutSeconds
	}

	if err := ValidateWorkflow(existing); err != nil {
		return nil, err
	}
	if err := s.workflows.Update(existing); err != nil {
		return nil, err
	}
	s.cache.Invalidate()
	return existing, nil
}

func (s *Service) Pause(id string) error   { return s.setStatus(id, models.WorkflowStatusPaused) }
func (s *Service) Resume(id string) error  { return s.setStatus(id, models.WorkflowStatusActive) }
func (s *Service) Archive(id string) error { return s.setStatus(id, models.WorkflowStatusArchived) }

func (s *Service) setStatus(id, status string) error {
	if err := s.workflows.UpdateStatus(id, status); err != nil {
		return err
	}
	s.cache.Invalidate()
	return nil
}

// RotateSecret issues a fresh outbound signing secret and returns it.
// The caller sees the raw value this one time; reads redact it.
func (s *Service) RotateSecret(id string) (string, error) {
	wf, err := s.workflows.GetByID(id)
	if err != nil {
		return "", err
	}
	if wf == nil {
		return "", nil
	}

	secret := newSecret()
	if err := s.workflows.UpdateSecret(id, secret); err != nil {
		return "", err
	}
	s.cache.Invalidate()
	return secret, nil
}

// Resolve finds the workflow an event should start. An explicit
// workflow id on the event wins; otherwise active workflows are walked
// in name order and the first whose trigger conditions admit the event
// is chosen.
func (s *Service) Resolve(ev *models.WebhookEvent) (*models.Workflow, error) {
	if ev.WorkflowID != "" {
		wf, err := s.Get(ev.WorkflowID)
		if err != nil {
			return nil, err
		}
		if wf == nil {
			return nil, ErrNoWorkflow
		}
		if wf.Status != models.WorkflowStatusActive {
			return nil, ErrWorkflowInactive
		}
		return wf, nil
	}

	active, ok := s.cache.GetActive()
	if !ok {
		var err error
		active, err = s.workflows.ListActive()
		if err != nil {
			return nil, err
		}
		s.cache.SetActive(active)
	}

	for _, wf := range active {
		if Matches(wf.TriggerConditions, ev.Source, ev.Payload) {
			return wf, nil
		}
	}
	return nil, ErrNoWorkflow
}

// ValidatePayload checks the event payload against the workflow's
// schema, when one is set.
func (s *Service) ValidatePayload(wf *models.Workflow, payload json.RawMessage) error {
	if len(wf.PayloadSchema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewStringLoader(string(wf.PayloadSchema))
	docLoader := gojsonschema.NewBytesLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return &ValidationError{Details: []string{err.Error()}}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return &ValidationError{Details: details}
	}
	return nil
}

func (s *Service) applyDefaults(wf *models.Workflow) {
	if wf.Kind == "" {
		wf.Kind = models.WorkflowKindGeneric
	}
	if wf.MaxRetries <= 0 {
		wf.MaxRetries = s.defaults.MaxRetries
	}
	if wf.TimeoutSeconds <= 0 {
		wf.TimeoutSeconds = s.defaults.TimeoutSeconds
	}
	if wf.ApprovalPolicy.TimeoutSeconds <= 0 {
		wf.ApprovalPolicy.TimeoutSeconds = int(s.defaults.ApprovalTimeout / time.Second)
	}
	if wf.ApprovalPolicy.MaxEscalations <= 0 {
		wf.ApprovalPolicy.MaxEscalations = s.defaults.MaxEscalations
	}
	if wf.ApprovalPolicy.ConfidenceThreshold <= 0 {
		wf.ApprovalPolicy.ConfidenceThreshold = s.defaults.ConfidenceThreshold
	}
	if wf.ApprovalPolicy.MinConfidence <= 0 {
		wf.ApprovalPolicy.MinConfidence = s.defaults.MinConfidence
	}
}

func newSecret() string {
	return "whsec_" + uuid.New().String()
}
