package registry

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"leadgen/internal/platform/models"
)

var knownKinds = map[string]bool{
	models.WorkflowKindCampaign:       true,
	models.WorkflowKindLeadEnrichment: true,
	models.WorkflowKindCRMSync:        true,
	models.WorkflowKindNotification:   true,
	models.WorkflowKindGeneric:        true,
}

// ValidateWorkflow checks a definition before it is stored. The
// payload schema must itself compile; a workflow that would reject
// every event at run time is refused up front.
func ValidateWorkflow(wf *models.Workflow) error {
	if wf.Name == "" {
		return errors.New("name is required")
	}
	if !knownKinds[wf.Kind] {
		return fmt.Errorf("unknown kind %q", wf.Kind)
	}
	if len(wf.Steps) == 0 {
		return errors.New("at least one step is required")
	}

	seen := make(map[string]bool, len(wf.Steps))
	for i, step := range wf.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d has no name", i)
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true
		if step.Handler == "" {
			return fmt.Errorf("step %q has no handler", step.Name)
		}
	}

	if len(wf.PayloadSchema) > 0 {
		loader := gojsonschema.NewStringLoader(string(wf.PayloadSchema))
		if _, err := gojsonschema.NewSchema(loader); err != nil {
			return fmt.Errorf("payload_schema does not compile: %w", err)
		}
	}

	if wf.ApprovalPolicy.ConfidenceThreshold < 0 || wf.ApprovalPolicy.ConfidenceThreshold > 1 {
		return errors.New("approval_policy.confidence_threshold must be in [0,1]")
	}
	if wf.ApprovalPolicy.MinConfidence < 0 || wf.ApprovalPolicy.MinConfidence > wf.ApprovalPolicy.ConfidenceThreshold {
		return errors.New("approval_policy.min_confidence must be in [0,confidence_threshold]")
	}
	return nil
}
