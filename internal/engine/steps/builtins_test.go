package steps

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	"leadgen/internal/platform/models"
)

func req(kind, payload string, params string) *Request {
	return &Request{
		Workflow:  &models.Workflow{ID: "wf_test", Kind: kind},
		Execution: &models.WorkflowExecution{ID: "exec_test"},
		Step:      models.WorkflowStep{Name: "step", Params: json.RawMessage(params)},
		Payload:   json.RawMessage(payload),
		Prior:     map[string]json.RawMessage{},
	}
}

func TestNormalizeLead(t *testing.T) {
	out, err := NormalizeLead(context.Background(), req(models.WorkflowKindLeadEnrichment,
		`{"email":" Jane.Doe@ACME.com ","full_name":"Jane Doe"}`, `{}`))
	if err != nil {
		t.Fatalf("NormalizeLead() error = %v", err)
	}

	if got := gjson.GetBytes(out, "email").String(); got != "jane.doe@acme.com" {
		t.Errorf("email = %q", got)
	}
	if got := gjson.GetBytes(out, "name").String(); got != "Jane Doe" {
		t.Errorf("name = %q", got)
	}
	if got := gjson.GetBytes(out, "company").String(); got != "acme" {
		t.Errorf("company = %q, want derived from domain", got)
	}
}

func TestNormalizeLeadNoEmail(t *testing.T) {
	_, err := NormalizeLead(context.Background(), req(models.WorkflowKindLeadEnrichment, `{"name":"Jane"}`, `{}`))
	if err == nil || !IsFatal(err) {
		t.Errorf("NormalizeLead() error = %v, want fatal", err)
	}
}

func TestScoreLeadUsesNormalizedOutput(t *testing.T) {
	r := req(models.WorkflowKindLeadEnrichment, `{"email":"x"}`, `{}`)
	r.Prior["normalize_lead"] = json.RawMessage(`{"email":"jane@acme.com","name":"Jane","company":"Acme"}`)

	out, err := ScoreLead(context.Background(), r)
	if err != nil {
		t.Fatalf("ScoreLead() error = %v", err)
	}
	if !gjson.GetBytes(out, "corporate").Bool() {
		t.Error("corporate = false, want true for acme.com")
	}
	if gjson.GetBytes(out, "score").Float() <= 0.5 {
		t.Errorf("score = %v, want above base for a complete lead", gjson.GetBytes(out, "score").Float())
	}
}

func TestMapFields(t *testing.T) {
	r := req(models.WorkflowKindCRMSync,
		`{"email":"jane@acme.com","profile":{"title":"CTO"}}`,
		`{"map":{"Email":"email","JobTitle":"profile.title","Phone":"phone"}}`)

	out, err := MapFields(context.Background(), r)
	if err != nil {
		t.Fatalf("MapFields() error = %v", err)
	}
	if got := gjson.GetBytes(out, "Email").String(); got != "jane@acme.com" {
		t.Errorf("Email = %q", got)
	}
	if got := gjson.GetBytes(out, "JobTitle").String(); got != "CTO" {
		t.Errorf("JobTitle = %q", got)
	}
	if gjson.GetBytes(out, "Phone").Exists() {
		t.Error("Phone mapped from a missing source field")
	}
}

func TestMapFieldsNoMap(t *testing.T) {
	_, err := MapFields(context.Background(), req(models.WorkflowKindCRMSync, `{}`, `{}`))
	if err == nil || !IsFatal(err) {
		t.Errorf("MapFields() error = %v, want fatal", err)
	}
}

func TestRecordResults(t *testing.T) {
	r := req(models.WorkflowKindCampaign, `{}`, `{}`)
	r.Prior["prepare_audience"] = json.RawMessage(`{"audience_size":120}`)
	r.Prior["render_content"] = json.RawMessage(`{"subject":"Hello"}`)

	out, err := RecordResults(context.Background(), r)
	if err != nil {
		t.Fatalf("RecordResults() error = %v", err)
	}
	if got := gjson.GetBytes(out, "steps.prepare_audience.audience_size").Int(); got != 120 {
		t.Errorf("audience_size = %d", got)
	}
	if got := gjson.GetBytes(out, "execution_id").String(); got != "exec_test" {
		t.Errorf("execution_id = %q", got)
	}
}

func TestPrepareAudienceNegative(t *testing.T) {
	_, err := PrepareAudience(context.Background(), req(models.WorkflowKindCampaign, `{"audience_size":-5}`, `{}`))
	if err == nil || !IsFatal(err) {
		t.Errorf("PrepareAudience() error = %v, want fatal", err)
	}
}

func TestErrorClassification(t *testing.T) {
	if IsFatal(Transientf("socket closed")) {
		t.Error("transient classified as fatal")
	}
	if !IsFatal(Fatalf("bad request")) {
		t.Error("fatal not classified as fatal")
	}
	if IsFatal(nil) {
		t.Error("nil classified as fatal")
	}
}
