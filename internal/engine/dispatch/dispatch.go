// Package dispatch delivers workflow steps to external endpoints as
// signed webhook POSTs. It is the bridge between the execution engine
// and downstream CRM and marketing systems.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"leadgen/internal/engine/signature"
	"leadgen/internal/engine/steps"
	"leadgen/internal/platform/metrics"
)

// maxResponseBytes caps how much of an endpoint's response is kept as
// step output.
const maxResponseBytes = 1 << 20

// Envelope is the body delivered to a workflow's webhook URL for each
// dispatched step.
type Envelope struct {
	Event       string                     `json:"event"`
	DeliveryID  string                     `json:"delivery_id"`
	Timestamp   int64                      `json:"timestamp"`
	WorkflowID  string                     `json:"workflow_id"`
	Workflow    string                     `json:"workflow"`
	ExecutionID string                     `json:"execution_id"`
	Step        string                     `json:"step"`
	Payload     json.RawMessage            `json:"payload"`
	Steps       map[string]json.RawMessage `json:"steps,omitempty"`
}

type Deliverer struct {
	client *http.Client
	now    func() time.Time
}

func New(timeout time.Duration) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Deliverer{
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Handler adapts the deliverer into a step handler so workflows can
// reference it by name like any builtin.
func (d *Deliverer) Handler() steps.Handler {
	return d.Deliver
}

// Deliver POSTs the step envelope to the workflow's webhook URL, signed
// with the workflow's secret. The endpoint's JSON response becomes the
// step output. Endpoints must treat deliveries as at-least-once and
// dedupe on the delivery id.
func (d *Deliverer) Deliver(ctx context.Context, req *steps.Request) (json.RawMessage, error) {
	if req.Workflow.WebhookURL == "" {
		return nil, steps.Fatalf("workflow %s has no webhook_url", req.Workflow.ID)
	}

	env := &Envelope{
		Event:       "workflow.step",
		DeliveryID:  "dlv_" + uuid.New().String(),
		Timestamp:   d.now().Unix(),
		WorkflowID:  req.Workflow.ID,
		Workflow:    req.Workflow.Name,
		ExecutionID: req.Execution.ID,
		Step:        req.Step.Name,
		Payload:     req.Payload,
		Steps:       req.Prior,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, steps.Fatal(fmt.Errorf("marshal envelope: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Workflow.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, steps.Fatal(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(signature.HeaderSignature, signature.Sign(req.Workflow.WebhookSecret, body))
	httpReq.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(env.Timestamp, 10))
	httpReq.Header.Set(signature.HeaderEvent, env.Event)
	httpReq.Header.Set(signature.HeaderDelivery, env.DeliveryID)

	start := d.now()
	resp, err := d.client.Do(httpReq)
	metrics.DispatchLatency.Observe(d.now().Sub(start).Seconds())
	if err != nil {
		metrics.DispatchRequests.WithLabelValues("error").Inc()
		return nil, steps.Transient(fmt.Errorf("deliver to %s: %w", req.Workflow.WebhookURL, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.DispatchRequests.WithLabelValues("error").Inc()
		return nil, steps.Transient(fmt.Errorf("read response from %s: %w", req.Workflow.WebhookURL, err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.DispatchRequests.WithLabelValues("success").Inc()
		return stepOutput(resp.StatusCode, respBody), nil
	}

	if retryableStatus(resp.StatusCode) {
		metrics.DispatchRequests.WithLabelValues("retryable").Inc()
		return nil, steps.Transientf("endpoint %s returned HTTP %d", req.Workflow.WebhookURL, resp.StatusCode)
	}
	metrics.DispatchRequests.WithLabelValues("rejected").Inc()
	return nil, steps.Fatalf("endpoint %s rejected delivery with HTTP %d", req.Workflow.WebhookURL, resp.StatusCode)
}

// retryableStatus reports whether a delivery attempt with this status
// is worth repeating. Timeouts, throttling and server faults are;
// other client errors mean the envelope itself was rejected.
func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// stepOutput turns the endpoint response into step output. A JSON body
// is kept as-is so later steps can read fields out of it.
func stepOutput(status int, body []byte) json.RawMessage {
	if json.Valid(body) && len(bytes.TrimSpace(body)) > 0 {
		return json.RawMessage(body)
	}
	out, _ := json.Marshal(map[string]interface{}{
		"status_code": status,
		"body":        string(body),
	})
	return out
}
