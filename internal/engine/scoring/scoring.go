package scoring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"leadgen/internal/pkg/validator"
	"leadgen/internal/platform/models"
)

// Confidence estimates how safe it is to let a workflow step proceed
// without a human. Pure function of the payload: deterministic, no
// network, replays score identically.
//
// A numeric confidence field supplied by the source wins outright.
func Confidence(kind string, payload json.RawMessage) (float64, string) {
	if explicit := gjson.GetBytes(payload, "confidence"); explicit.Exists() && explicit.Type == gjson.Number {
		return clamp(explicit.Float()), "source-supplied confidence"
	}

	switch kind {
	case models.WorkflowKindCampaign:
		return campaignConfidence(payload)
	case models.WorkflowKindLeadEnrichment:
		return leadConfidence(payload)
	case models.WorkflowKindCRMSync:
		return crmConfidence(payload)
	case models.WorkflowKindNotification:
		return notificationConfidence(payload)
	}
	return genericConfidence(payload)
}

func campaignConfidence(payload json.RawMessage) (float64, string) {
	score := 0.6
	var factors []string

	size := gjson.GetBytes(payload, "audience_size").Int()
	if size == 0 {
		size = gjson.GetBytes(payload, "audience.size").Int()
	}
	switch {
	case size > 0 && size <= 500:
		score += 0.2
		factors = append(factors, "small audience")
	case size > 10000:
		score -= 0.3
		factors = append(factors, fmt.Sprintf("large audience (%d)", size))
	}

	if gjson.GetBytes(payload, "opt_out_handled").Bool() {
		score += 0.1
		factors = append(factors, "opt-outs handled")
	}
	if gjson.GetBytes(payload, "subject").String() == "" && gjson.GetBytes(payload, "template").String() == "" {
		score -= 0.2
		factors = append(factors, "no subject or template")
	}
	return clamp(score), reason(factors)
}

func leadConfidence(payload json.RawMessage) (float64, string) {
	score := 0.5
	var factors []string

	email := gjson.GetBytes(payload, "email").String()
	if email != "" {
		score += 0.15
		factors = append(factors, "email present")
		if validator.IsCorporateEmail(email) == nil {
			score += 0.15
			factors = append(factors, "corporate domain")
		}
	} else {
		score -= 0.2
		factors = append(factors, "email missing")
	}

	if gjson.GetBytes(payload, "name").String() != "" || gjson.GetBytes(payload, "full_name").String() != "" {
		score += 0.1
		factors = append(factors, "name present")
	}
	if gjson.GetBytes(payload, "company").String() != "" {
		score += 0.1
		factors = append(factors, "company present")
	}
	return clamp(score), reason(factors)
}

func crmConfidence(payload json.RawMessage) (float64, string) {
	score := 0.7
	var factors []string

	if gjson.GetBytes(payload, "email").String() != "" || gjson.GetBytes(payload, "external_id").String() != "" {
		score += 0.2
		factors = append(factors, "record key present")
	} else {
		score -= 0.3
		factors = append(factors, "no record key")
	}
	if gjson.GetBytes(payload, "fields").IsObject() {
		score += 0.05
		factors = append(factors, "field map present")
	}
	return clamp(score), reason(factors)
}

func notificationConfidence(payload json.RawMessage) (float64, string) {
	score := 0.8
	var factors []string

	if gjson.GetBytes(payload, "recipient").String() != "" || gjson.GetBytes(payload, "channel").String() != "" {
		score += 0.15
		factors = append(factors, "recipient present")
	} else {
		score -= 0.2
		factors = append(factors, "recipient missing")
	}
	return clamp(score), reason(factors)
}

func genericConfidence(payload json.RawMessage) (float64, string) {
	if !gjson.ValidBytes(payload) || len(payload) == 0 {
		return 0.2, "payload not inspectable"
	}
	n := 0
	gjson.ParseBytes(payload).ForEach(func(_, _ gjson.Result) bool {
		n++
		return true
	})
	if n >= 3 {
		return 0.7, fmt.Sprintf("%d top-level fields", n)
	}
	return 0.5, fmt.Sprintf("%d top-level fields", n)
}

func clamp(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	if v > 0.99 {
		return 0.99
	}
	return v
}

func reason(factors []string) string {
	if len(factors) == 0 {
		return "no scoring signals"
	}
	return strings.Join(factors, "; ")
}
