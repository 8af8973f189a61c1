package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"leadgen/internal/engine/approval"
	"leadgen/internal/engine/monitor"
	"leadgen/internal/engine/queue"
	"leadgen/internal/engine/steps"
	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)

	query := `
	CREATE TABLE workflows (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		trigger_conditions TEXT NOT NULL,
		payload_schema TEXT,
		steps TEXT NOT NULL,
		webhook_url TEXT,
		webhook_secret TEXT,
		approval_policy TEXT NOT NULL,
		max_retries INTEGER NOT NULL DEFAULT 0,
		retry_delay_seconds INTEGER NOT NULL DEFAULT 0,
		timeout_seconds INTEGER NOT NULL DEFAULT 0,
		created_by TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
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
	CREATE TABLE workflow_executions (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		trigger_event_id TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		current_step TEXT,
		step_index INTEGER NOT NULL DEFAULT 0,
		progress_percentage INTEGER NOT NULL DEFAULT 0,
		input TEXT,
		output TEXT,
		step_results TEXT,
		error TEXT,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER,
		finished_at INTEGER,
		deadline_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE workflow_approvals (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		workflow_id TEXT NOT NULL,
		step_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		confidence REAL NOT NULL DEFAULT 0,
		threshold REAL NOT NULL DEFAULT 0,
		auto INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		approver_id TEXT,
		decided_at INTEGER,
		decision_notes TEXT,
		priority INTEGER NOT NULL DEFAULT 50,
		escalation_level INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER NOT NULL DEFAULT 0,
		payload_summary TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE approval_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		approval_id TEXT NOT NULL,
		execution_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT,
		level INTEGER NOT NULL DEFAULT 0,
		notes TEXT,
		created_at INTEGER NOT NULL
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
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}
	return db
}

type testEnv struct {
	db         *sql.DB
	events     *repositories.WebhookEventRepository
	executions *repositories.ExecutionRepository
	approvals  *repositories.ApprovalRepository
	workflows  *repositories.WorkflowRepository
	queue      *queue.Queue
	gate       *approval.Gate
	sink       *monitor.Sink
}

func setupExecutor(t *testing.T, handlers steps.Registry) (*Executor, *testEnv) {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:         db,
		events:     repositories.NewWebhookEventRepository(db),
		executions: repositories.NewExecutionRepository(db),
		approvals:  repositories.NewApprovalRepository(db),
		workflows:  repositories.NewWorkflowRepository(db),
	}
	env.sink = monitor.NewSink(repositories.NewMonitoringRepository(db))
	t.Cleanup(env.sink.Close)
	env.queue = queue.New(env.events, env.sink, queue.Options{})
	env.gate = approval.NewGate(env.approvals, env.workflows, env.queue, env.sink, approval.Defaults{
		Timeout:        time.Hour,
		MaxEscalations: 2,
		Threshold:      0.9,
		MinConfidence:  0.3,
	})

	return New(env.executions, env.approvals, env.workflows, env.gate, handlers, env.sink), env
}

func okHandler(out string) steps.Handler {
	return func(ctx context.Context, req *steps.Request) (json.RawMessage, error) {
		return json.RawMessage(out), nil
	}
}

func testWorkflow(stepNames ...string) *models.Workflow {
	wf := &models.Workflow{
		ID:             "wf_test",
		Name:           "test-flow",
		Kind:           models.WorkflowKindGeneric,
		Status:         models.WorkflowStatusActive,
		TimeoutSeconds: 3600,
	}
	for _, name := range stepNames {
		wf.Steps = append(wf.Steps, models.WorkflowStep{Name: name, Handler: name})
	}
	return wf
}

func triggerEvent(payload string) *models.WebhookEvent {
	return &models.WebhookEvent{
		ID:       "evt_trigger",
		Source:   "crm",
		Payload:  json.RawMessage(payload),
		Priority: models.PriorityNormal,
	}
}

func TestBeginIdempotent(t *testing.T) {
	ex, _ := setupExecutor(t, steps.Registry{})
	wf := testWorkflow("one")
	ev := triggerEvent(`{"a":1}`)

	first, err := ex.Begin(wf, ev)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if first.Status != models.ExecutionStatusPending {
		t.Errorf("status = %q", first.Status)
	}
	if first.DeadlineAt == 0 {
		t.Error("deadline not set from workflow timeout")
	}

	second, err := ex.Begin(wf, ev)
	if err != nil {
		t.Fatalf("Begin() redelivery error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("redelivery created a new execution: %s then %s", first.ID, second.ID)
	}
}

func TestAdvanceRunsAllSteps(t *testing.T) {
	handlers := steps.Registry{
		"first":  okHandler(`{"n":1}`),
		"second": okHandler(`{"n":2}`),
	}
	ex, env := setupExecutor(t, handlers)
	wf := testWorkflow("first", "second")

	exec, err := ex.Begin(wf, triggerEvent(`{"a":1}`))
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", res.Outcome)
	}

	stored, err := env.executions.GetByID(exec.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != models.ExecutionStatusCompleted {
		t.Errorf("status = %q", stored.Status)
	}
	if stored.ProgressPercentage != 100 {
		t.Errorf("progress = %d", stored.ProgressPercentage)
	}
	if len(stored.StepResults) != 2 {
		t.Errorf("step results = %d, want 2", len(stored.StepResults))
	}
	if string(stored.Output) != `{"n":2}` {
		t.Errorf("output = %s, want last step output", stored.Output)
	}
	if stored.FinishedAt == nil {
		t.Error("finished_at not set")
	}
}

func TestAdvanceTransientThenRecovers(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	handlers := steps.Registry{
		"flaky": func(ctx context.Context, req *steps.Request) (json.RawMessage, error) {
			mu.Lock()
			calls["flaky"]++
			n := calls["flaky"]
			mu.Unlock()
			if n == 1 {
				return nil, steps.Transientf("upstream hiccup")
			}
			return json.RawMessage(`{"ok":true}`), nil
		},
		"after": func(ctx context.Context, req *steps.Request) (json.RawMessage, error) {
			mu.Lock()
			calls["after"]++
			mu.Unlock()
			return json.RawMessage(`{"done":true}`), nil
		},
	}
	ex, env := setupExecutor(t, handlers)
	wf := testWorkflow("flaky", "after")

	exec, _ := ex.Begin(wf, triggerEvent(`{}`))
	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeRetry {
		t.Fatalf("outcome = %s, want retry", res.Outcome)
	}
	if res.Err == nil {
		t.Fatal("retry outcome carries no error")
	}

	// Redelivery maps to the same row and resumes at the failed step.
	exec2, _ := ex.Begin(wf, triggerEvent(`{}`))
	if exec2.ID != exec.ID {
		t.Fatalf("redelivery created a new execution")
	}
	res, err = ex.Advance(context.Background(), wf, exec2, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() retry error = %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", res.Outcome)
	}
	if calls["flaky"] != 2 || calls["after"] != 1 {
		t.Errorf("calls = %v, want flaky twice and after once", calls)
	}

	stored, _ := env.executions.GetByID(exec.ID)
	if stored.Status != models.ExecutionStatusCompleted {
		t.Errorf("status = %q", stored.Status)
	}
}

func TestAdvanceFatalFails(t *testing.T) {
	handlers := steps.Registry{
		"bad": func(ctx context.Context, req *steps.Request) (json.RawMessage, error) {
			return nil, steps.Fatalf("payload rejected")
		},
	}
	ex, env := setupExecutor(t, handlers)
	wf := testWorkflow("bad")

	exec, _ := ex.Begin(wf, triggerEvent(`{}`))
	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}

	stored, _ := env.executions.GetByID(exec.ID)
	if stored.Status != models.ExecutionStatusFailed {
		t.Errorf("status = %q", stored.Status)
	}
	if stored.Error == "" {
		t.Error("failure left no error message")
	}
}

func TestAdvanceUnknownHandler(t *testing.T) {
	ex, env := setupExecutor(t, steps.Registry{})
	wf := testWorkflow("missing")

	exec, _ := ex.Begin(wf, triggerEvent(`{}`))
	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}

	stored, _ := env.executions.GetByID(exec.ID)
	if stored.Status != models.ExecutionStatusFailed {
		t.Errorf("status = %q", stored.Status)
	}
}

func TestAdvancePanicCountsTransient(t *testing.T) {
	handlers := steps.Registry{
		"panics": func(ctx context.Context, req *steps.Request) (json.RawMessage, error) {
			panic("boom")
		},
	}
	ex, _ := setupExecutor(t, handlers)
	wf := testWorkflow("panics")

	exec, _ := ex.Begin(wf, triggerEvent(`{}`))
	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeRetry {
		t.Fatalf("outcome = %s, want retry after panic", res.Outcome)
	}
}

func TestGatedStepSuspendsAndResumes(t *testing.T) {
	var approvedSeen bool
	handlers := steps.Registry{
		"gated": func(ctx context.Context, req *steps.Request) (json.RawMessage, error) {
			approvedSeen = req.Approved
			return json.RawMessage(`{"sent":true}`), nil
		},
	}
	ex, env := setupExecutor(t, handlers)
	wf := testWorkflow("gated")
	wf.Steps[0].RequiresApproval = true

	// Mid-band confidence: not decisive either way.
	exec, _ := ex.Begin(wf, triggerEvent(`{"confidence":0.5}`))
	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeSuspended {
		t.Fatalf("outcome = %s, want suspended", res.Outcome)
	}

	stored, _ := env.executions.GetByID(exec.ID)
	if stored.Status != models.ExecutionStatusAwaitingApproval {
		t.Fatalf("status = %q", stored.Status)
	}
	if stored.CurrentStep != "gated" {
		t.Errorf("current_step = %q", stored.CurrentStep)
	}

	open, err := env.approvals.GetOpenByExecution(exec.ID)
	if err != nil || open == nil {
		t.Fatalf("no pending approval: %v", err)
	}

	// Reviewer approves; the decision lands on the queue as a resume
	// event the worker would hand back to the executor.
	if _, err := env.gate.Decide(open.ID, true, "usr_reviewer", "looks fine"); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	resumeEv, err := env.queue.ClaimNext("w1")
	if err != nil || resumeEv == nil {
		t.Fatalf("no resume event on queue: %v", err)
	}
	if resumeEv.Kind != models.EventKindResume {
		t.Fatalf("kind = %q", resumeEv.Kind)
	}
	var rp models.ResumePayload
	if err := json.Unmarshal(resumeEv.Payload, &rp); err != nil {
		t.Fatalf("resume payload: %v", err)
	}
	if rp.ExecutionID != exec.ID || rp.Outcome != models.ApprovalStatusApproved {
		t.Fatalf("resume payload = %+v", rp)
	}

	stored, _ = env.executions.GetByID(exec.ID)
	res, err = ex.Resume(context.Background(), wf, stored, &rp, resumeEv.Priority)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", res.Outcome)
	}
	if !approvedSeen {
		t.Error("gated step ran without the approved flag")
	}
}

func TestResumeRejectedFailsExecution(t *testing.T) {
	handlers := steps.Registry{"gated": okHandler(`{}`)}
	ex, env := setupExecutor(t, handlers)
	wf := testWorkflow("gated")
	wf.Steps[0].RequiresApproval = true

	exec, _ := ex.Begin(wf, triggerEvent(`{"confidence":0.5}`))
	res, _ := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if res.Outcome != OutcomeSuspended {
		t.Fatalf("outcome = %s, want suspended", res.Outcome)
	}

	open, _ := env.approvals.GetOpenByExecution(exec.ID)
	if _, err := env.gate.Decide(open.ID, false, "usr_reviewer", "not this one"); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	stored, _ := env.executions.GetByID(exec.ID)
	res, err := ex.Resume(context.Background(), wf, stored, &models.ResumePayload{
		ExecutionID: exec.ID,
		ApprovalID:  open.ID,
		Outcome:     models.ApprovalStatusRejected,
		Notes:       "not this one",
	}, models.PriorityHigh)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}

	stored, _ = env.executions.GetByID(exec.ID)
	if stored.Status != models.ExecutionStatusFailed {
		t.Errorf("status = %q", stored.Status)
	}
}

func TestHighConfidenceAutoApproves(t *testing.T) {
	handlers := steps.Registry{"gated": okHandler(`{}`)}
	ex, env := setupExecutor(t, handlers)
	wf := testWorkflow("gated")
	wf.Steps[0].RequiresApproval = true

	exec, _ := ex.Begin(wf, triggerEvent(`{"confidence":0.95}`))
	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed without suspension", res.Outcome)
	}

	a, _ := env.approvals.GetByExecutionStep(exec.ID, "gated")
	if a == nil || a.Status != models.ApprovalStatusApproved || !a.Auto {
		t.Fatalf("approval = %+v, want auto-approved", a)
	}
	if a.ApproverID != nil {
		t.Errorf("auto approval has approver %q", *a.ApproverID)
	}
}

func TestLowConfidenceAutoRejects(t *testing.T) {
	handlers := steps.Registry{"gated": okHandler(`{}`)}
	ex, env := setupExecutor(t, handlers)
	wf := testWorkflow("gated")
	wf.Steps[0].RequiresApproval = true

	exec, _ := ex.Begin(wf, triggerEvent(`{"confidence":0.05}`))
	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}

	a, _ := env.approvals.GetByExecutionStep(exec.ID, "gated")
	if a == nil || a.Status != models.ApprovalStatusRejected || !a.Auto {
		t.Fatalf("approval = %+v, want auto-rejected", a)
	}
}

func TestCancelPending(t *testing.T) {
	ex, _ := setupExecutor(t, steps.Registry{})
	wf := testWorkflow("one")

	exec, _ := ex.Begin(wf, triggerEvent(`{}`))
	got, err := ex.Cancel(exec.ID, "usr_admin")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got.Status != models.ExecutionStatusCancelled {
		t.Errorf("status = %q", got.Status)
	}

	if _, err := ex.Cancel(exec.ID, "usr_admin"); err != ErrAlreadyFinished {
		t.Errorf("second Cancel() error = %v, want ErrAlreadyFinished", err)
	}
}

func TestCancelRunningHonoredAtStepBoundary(t *testing.T) {
	var ex *Executor
	var execID string
	handlers := steps.Registry{
		"first": func(ctx context.Context, req *steps.Request) (json.RawMessage, error) {
			// Operator cancels while the step runs.
			if _, err := ex.Cancel(execID, "usr_admin"); err != nil {
				t.Errorf("Cancel() error = %v", err)
			}
			return json.RawMessage(`{}`), nil
		},
		"second": func(ctx context.Context, req *steps.Request) (json.RawMessage, error) {
			t.Error("step ran after cancel")
			return json.RawMessage(`{}`), nil
		},
	}
	var env *testEnv
	ex, env = setupExecutor(t, handlers)
	wf := testWorkflow("first", "second")

	exec, _ := ex.Begin(wf, triggerEvent(`{}`))
	execID = exec.ID

	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %s, want cancelled", res.Outcome)
	}

	stored, _ := env.executions.GetByID(exec.ID)
	if stored.Status != models.ExecutionStatusCancelled {
		t.Errorf("status = %q", stored.Status)
	}
}

func TestCancelAwaitingApprovalVoidsGate(t *testing.T) {
	handlers := steps.Registry{"gated": okHandler(`{}`)}
	ex, env := setupExecutor(t, handlers)
	wf := testWorkflow("gated")
	wf.Steps[0].RequiresApproval = true

	exec, _ := ex.Begin(wf, triggerEvent(`{"confidence":0.5}`))
	res, _ := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if res.Outcome != OutcomeSuspended {
		t.Fatalf("outcome = %s, want suspended", res.Outcome)
	}

	got, err := ex.Cancel(exec.ID, "usr_admin")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got.Status != models.ExecutionStatusCancelled {
		t.Errorf("status = %q", got.Status)
	}

	a, _ := env.approvals.GetByExecutionStep(exec.ID, "gated")
	if a.Status != models.ApprovalStatusCancelled {
		t.Errorf("approval status = %q, want cancelled", a.Status)
	}
}

func TestSweepTimeouts(t *testing.T) {
	ex, env := setupExecutor(t, steps.Registry{})

	past := time.Now().Add(-time.Minute).Unix()
	exec := &models.WorkflowExecution{
		WorkflowID:     "wf_test",
		TriggerEventID: "evt_old",
		Status:         models.ExecutionStatusRunning,
		DeadlineAt:     past,
	}
	if err := env.executions.Create(exec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	n, err := ex.SweepTimeouts(100)
	if err != nil {
		t.Fatalf("SweepTimeouts() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}

	stored, _ := env.executions.GetByID(exec.ID)
	if stored.Status != models.ExecutionStatusTimeout {
		t.Errorf("status = %q", stored.Status)
	}
	if stored.FinishedAt == nil {
		t.Error("finished_at not set by timeout")
	}

	// Second sweep finds nothing.
	n, err = ex.SweepTimeouts(100)
	if err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v", n, err)
	}
}

func TestAdvanceDeadlineExceeded(t *testing.T) {
	handlers := steps.Registry{"one": okHandler(`{}`)}
	ex, env := setupExecutor(t, handlers)
	wf := testWorkflow("one")

	exec := &models.WorkflowExecution{
		WorkflowID:     wf.ID,
		TriggerEventID: "evt_late",
		Status:         models.ExecutionStatusPending,
		Input:          json.RawMessage(`{}`),
		DeadlineAt:     time.Now().Add(-time.Second).Unix(),
	}
	if err := env.executions.Create(exec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %s, want timeout", res.Outcome)
	}
}

func TestAdvanceTerminalIsNoop(t *testing.T) {
	handlers := steps.Registry{"one": okHandler(`{}`)}
	ex, _ := setupExecutor(t, handlers)
	wf := testWorkflow("one")

	exec, _ := ex.Begin(wf, triggerEvent(`{}`))
	if res, _ := ex.Advance(context.Background(), wf, exec, models.PriorityNormal); res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	res, err := ex.Advance(context.Background(), wf, exec, models.PriorityNormal)
	if err != nil {
		t.Fatalf("Advance() on settled execution error = %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed passthrough", res.Outcome)
	}
}
