package steps

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"leadgen/internal/engine/scoring"
	"leadgen/internal/pkg/validator"
)

// Builtins are the in-process handlers workflow steps can name. They
// are pure functions of the request, so redelivery is harmless.
func Builtins() Registry {
	return Registry{
		"prepare_audience":    PrepareAudience,
		"render_content":      RenderContent,
		"record_results":      RecordResults,
		"normalize_lead":      NormalizeLead,
		"score_lead":          ScoreLead,
		"map_fields":          MapFields,
		"render_notification": RenderNotification,
		"echo":                Echo,
	}
}

// PrepareAudience sizes the audience for a campaign send.
func PrepareAudience(ctx context.Context, req *Request) (json.RawMessage, error) {
	size := gjson.GetBytes(req.Payload, "audience_size").Int()
	if size == 0 {
		size = gjson.GetBytes(req.Payload, "audience.size").Int()
	}
	segment := gjson.GetBytes(req.Payload, "segment").String()
	if segment == "" {
		segment = "all"
	}
	if size < 0 {
		return nil, Fatalf("negative audience size %d", size)
	}

	out := map[string]interface{}{
		"audience_size": size,
		"segment":       segment,
	}
	return json.Marshal(out)
}

// RenderContent resolves the subject and template for a campaign,
// preferring step params over payload fields.
func RenderContent(ctx context.Context, req *Request) (json.RawMessage, error) {
	subject := gjson.GetBytes(req.Step.Params, "subject").String()
	if subject == "" {
		subject = gjson.GetBytes(req.Payload, "subject").String()
	}
	template := gjson.GetBytes(req.Step.Params, "template").String()
	if template == "" {
		template = gjson.GetBytes(req.Payload, "template").String()
	}
	if subject == "" && template == "" {
		return nil, Fatalf("step %q has neither subject nor template", req.Step.Name)
	}

	out := map[string]string{"subject": subject, "template": template}
	return json.Marshal(out)
}

// RecordResults folds prior step outputs into one closing summary.
func RecordResults(ctx context.Context, req *Request) (json.RawMessage, error) {
	summary := []byte(`{}`)
	var err error
	for name, result := range req.Prior {
		summary, err = sjson.SetRawBytes(summary, "steps."+name, result)
		if err != nil {
			return nil, Fatal(err)
		}
	}
	summary, err = sjson.SetBytes(summary, "execution_id", req.Execution.ID)
	if err != nil {
		return nil, Fatal(err)
	}
	return summary, nil
}

// NormalizeLead canonicalizes contact fields from a raw form payload.
func NormalizeLead(ctx context.Context, req *Request) (json.RawMessage, error) {
	email := strings.TrimSpace(strings.ToLower(gjson.GetBytes(req.Payload, "email").String()))
	name := strings.TrimSpace(gjson.GetBytes(req.Payload, "name").String())
	if name == "" {
		name = strings.TrimSpace(gjson.GetBytes(req.Payload, "full_name").String())
	}
	company := strings.TrimSpace(gjson.GetBytes(req.Payload, "company").String())

	if email == "" {
		return nil, Fatalf("lead payload has no email")
	}
	if _, domain, err := validator.ParseEmail(email); err != nil {
		return nil, Fatal(err)
	} else if company == "" && !validator.IsConsumerDomain(domain) {
		// Derive a company guess from a corporate domain.
		company = strings.SplitN(domain, ".", 2)[0]
	}

	out := map[string]string{"email": email, "name": name, "company": company}
	return json.Marshal(out)
}

// ScoreLead attaches the lead confidence score to the pipeline.
func ScoreLead(ctx context.Context, req *Request) (json.RawMessage, error) {
	payload := req.Payload
	if prior, ok := req.Prior["normalize_lead"]; ok {
		payload = prior
	}

	confidence, reason := scoring.Confidence(req.Workflow.Kind, payload)
	corporate := false
	if email := gjson.GetBytes(payload, "email").String(); email != "" {
		corporate = validator.IsCorporateEmail(email) == nil
	}

	out := map[string]interface{}{
		"score":     confidence,
		"corporate": corporate,
		"reason":    reason,
	}
	return json.Marshal(out)
}

// MapFields projects payload fields onto CRM field names. The mapping
// lives in step params: {"map": {"crm_path": "payload_path", ...}}.
func MapFields(ctx context.Context, req *Request) (json.RawMessage, error) {
	mapping := gjson.GetBytes(req.Step.Params, "map")
	if !mapping.IsObject() {
		return nil, Fatalf("step %q params carry no field map", req.Step.Name)
	}

	out := []byte(`{}`)
	var err error
	mapping.ForEach(func(target, source gjson.Result) bool {
		value := gjson.GetBytes(req.Payload, source.String())
		if !value.Exists() {
			return true
		}
		out, err = sjson.SetBytes(out, target.String(), value.Value())
		return err == nil
	})
	if err != nil {
		return nil, Fatal(err)
	}
	return out, nil
}

// RenderNotification builds the message body for a notification send.
func RenderNotification(ctx context.Context, req *Request) (json.RawMessage, error) {
	recipient := gjson.GetBytes(req.Payload, "recipient").String()
	channel := gjson.GetBytes(req.Payload, "channel").String()
	if channel == "" {
		channel = gjson.GetBytes(req.Step.Params, "channel").String()
	}
	if recipient == "" && channel == "" {
		return nil, Fatalf("notification has no recipient or channel")
	}

	template := gjson.GetBytes(req.Step.Params, "template").String()
	message := gjson.GetBytes(req.Payload, "message").String()
	if message == "" {
		message = template
	}

	out := map[string]string{
		"recipient": recipient,
		"channel":   channel,
		"message":   message,
	}
	return json.Marshal(out)
}

// Echo passes the trigger payload through unchanged.
func Echo(ctx context.Context, req *Request) (json.RawMessage, error) {
	if len(req.Payload) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return req.Payload, nil
}
