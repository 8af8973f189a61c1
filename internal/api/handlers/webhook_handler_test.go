package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	_ "github.com/mattn/go-sqlite3"

	apiContext "leadgen/internal/api/context"
	"leadgen/internal/engine/monitor"
	"leadgen/internal/engine/queue"
	"leadgen/internal/engine/signature"
	"leadgen/internal/platform/repositories"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	query := `
	CREATE TABLE webhook_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL DEFAULT 'webhook',
		source TEXT NOT NULL,
		event_type TEXT,
		delivery_id TEXT,
		dedup_key TEXT,
		payload TEXT NOT NULL,
		headers TEXT,
		verified INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 50,
		status TEXT NOT NULL DEFAULT 'queued',
		claimed_by TEXT,
		claimed_at INTEGER,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		next_retry_at INTEGER,
		last_error TEXT,
		workflow_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE TABLE monitoring_events (
		id TEXT PRIMARY KEY,
		severity TEXT NOT NULL,
		component TEXT NOT NULL,
		event_type TEXT NOT NULL,
		execution_id TEXT,
		workflow_id TEXT,
		event_id TEXT,
		message TEXT NOT NULL,
		details TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		full_name TEXT,
		role TEXT NOT NULL DEFAULT 'operator',
		last_login_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}
	return db
}

const testSecret = "whsec_test"

func setupIngest(t *testing.T) (*WebhookHandler, *sql.DB) {
	db := setupTestDB(t)

	sink := monitor.NewSink(repositories.NewMonitoringRepository(db))
	t.Cleanup(sink.Close)

	q := queue.New(repositories.NewWebhookEventRepository(db), sink, queue.Options{})
	v := signature.NewVerifier(func(source string) string {
		if source == "crm" {
			return testSecret
		}
		return ""
	}, 5*time.Minute, []string{"internal"})

	return NewWebhookHandler(v, q, 1024), db
}

// deliver runs a request through Ingest with the route params injected
// the way the router does it.
func deliver(h *WebhookHandler, source, workflowID string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhooks/"+source, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	params := httprouter.Params{{Key: "source", Value: source}}
	if workflowID != "" {
		params = append(params, httprouter.Param{Key: "workflow_id", Value: workflowID})
	}
	req = req.WithContext(context.WithValue(req.Context(), apiContext.Params, params))

	rr := httptest.NewRecorder()
	h.Ingest(rr, req)
	return rr
}

func signedHeaders(body []byte) map[string]string {
	return map[string]string{
		signature.HeaderSignature: signature.Sign(testSecret, body),
		signature.HeaderTimestamp: strconv.FormatInt(time.Now().Unix(), 10),
		signature.HeaderEvent:     "lead.created",
		signature.HeaderDelivery:  "dlv_1",
	}
}

func TestIngestAccepted(t *testing.T) {
	h, db := setupIngest(t)

	body := []byte(`{"email":"a@b.com"}`)
	rr := deliver(h, "crm", "", body, signedHeaders(body))

	if rr.Code != 202 {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp IngestResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if !strings.HasPrefix(resp.EventID, "evt_") {
		t.Errorf("event_id = %q", resp.EventID)
	}
	if resp.Duplicate {
		t.Error("first delivery flagged as duplicate")
	}

	var status, eventType, deliveryID string
	var verified bool
	err := db.QueryRow(`SELECT status, event_type, delivery_id, verified FROM webhook_events WHERE id = ?`, resp.EventID).
		Scan(&status, &eventType, &deliveryID, &verified)
	if err != nil {
		t.Fatalf("event not stored: %v", err)
	}
	if status != "queued" || eventType != "lead.created" || deliveryID != "dlv_1" || !verified {
		t.Errorf("stored row = %s %s %s verified=%v", status, eventType, deliveryID, verified)
	}
}

func TestIngestDuplicateDelivery(t *testing.T) {
	h, db := setupIngest(t)

	body := []byte(`{"email":"a@b.com"}`)
	headers := signedHeaders(body)

	first := deliver(h, "crm", "", body, headers)
	second := deliver(h, "crm", "", body, headers)
	if second.Code != 202 {
		t.Fatalf("duplicate status = %d", second.Code)
	}

	var a, b IngestResponse
	json.NewDecoder(first.Body).Decode(&a)
	json.NewDecoder(second.Body).Decode(&b)
	if !b.Duplicate {
		t.Error("second delivery not flagged as duplicate")
	}
	if a.EventID != b.EventID {
		t.Errorf("duplicate returned a different event: %s vs %s", a.EventID, b.EventID)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM webhook_events`).Scan(&n)
	if n != 1 {
		t.Errorf("stored %d events, want 1", n)
	}
}

func TestIngestBadSignature(t *testing.T) {
	h, db := setupIngest(t)

	body := []byte(`{"email":"a@b.com"}`)
	headers := signedHeaders(body)
	headers[signature.HeaderSignature] = signature.Sign("wrong-secret", body)

	rr := deliver(h, "crm", "", body, headers)
	if rr.Code != 401 {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "SIGNATURE_INVALID") {
		t.Errorf("body = %s", rr.Body.String())
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM webhook_events`).Scan(&n)
	if n != 0 {
		t.Errorf("rejected delivery was stored, %d rows", n)
	}
}

func TestIngestStaleTimestamp(t *testing.T) {
	h, _ := setupIngest(t)

	body := []byte(`{"email":"a@b.com"}`)
	headers := signedHeaders(body)
	headers[signature.HeaderTimestamp] = strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)

	rr := deliver(h, "crm", "", body, headers)
	if rr.Code != 401 {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "SIGNATURE_STALE") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestIngestMalformedJSON(t *testing.T) {
	h, _ := setupIngest(t)

	body := []byte(`{"email": oops`)
	rr := deliver(h, "crm", "", body, signedHeaders(body))
	if rr.Code != 400 {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestIngestOversizedBody(t *testing.T) {
	h, _ := setupIngest(t)

	// The handler caps bodies at 1024 bytes in this setup.
	body := []byte(`{"pad":"` + strings.Repeat("x", 2048) + `"}`)
	rr := deliver(h, "crm", "", body, signedHeaders(body))
	if rr.Code != 413 {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "PAYLOAD_TOO_LARGE") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestIngestAllowListedSourceWithoutSignature(t *testing.T) {
	h, db := setupIngest(t)

	body := []byte(`{"job":"nightly"}`)
	rr := deliver(h, "internal", "", body, nil)
	if rr.Code != 202 {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp IngestResponse
	json.NewDecoder(rr.Body).Decode(&resp)

	var verified bool
	db.QueryRow(`SELECT verified FROM webhook_events WHERE id = ?`, resp.EventID).Scan(&verified)
	if verified {
		t.Error("unsigned delivery stored as verified")
	}
}

func TestIngestUnknownSource(t *testing.T) {
	h, _ := setupIngest(t)

	body := []byte(`{"email":"a@b.com"}`)
	rr := deliver(h, "rogue", "", body, signedHeaders(body))
	if rr.Code != 401 {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestIngestTargetedWorkflow(t *testing.T) {
	h, db := setupIngest(t)

	body := []byte(`{"email":"a@b.com"}`)
	rr := deliver(h, "crm", "wf_direct", body, signedHeaders(body))
	if rr.Code != 202 {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp IngestResponse
	json.NewDecoder(rr.Body).Decode(&resp)

	var workflowID string
	db.QueryRow(`SELECT workflow_id FROM webhook_events WHERE id = ?`, resp.EventID).Scan(&workflowID)
	if workflowID != "wf_direct" {
		t.Errorf("workflow_id = %q, want wf_direct", workflowID)
	}
}
