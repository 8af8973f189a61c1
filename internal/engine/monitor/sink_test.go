package monitor

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"leadgen/internal/platform/models"
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

func TestSinkFlushesOnClose(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.NewMonitoringRepository(db)
	sink := NewSink(repo)

	sink.Emit(models.SeverityInfo, "queue", "enqueued", "event enqueued", Ref{
		EventID: "evt_1",
		Details: map[string]string{"source": "crm"},
	})
	sink.Emit(models.SeverityWarning, "executor", "step_retry", "transient step failure", Ref{
		ExecutionID: "exec_1",
		WorkflowID:  "wf_1",
	})
	sink.Emit(models.SeverityError, "executor", "execution_failed", "retries exhausted", Ref{
		ExecutionID: "exec_1",
		WorkflowID:  "wf_1",
	})
	sink.Close()

	all, err := repo.List(repositories.MonitoringFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d events, want 3", len(all))
	}
	for _, ev := range all {
		if ev.ID == "" || ev.CreatedAt == 0 {
			t.Errorf("event missing id or timestamp: %+v", ev)
		}
	}
}

func TestListSeverityFloor(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.NewMonitoringRepository(db)
	sink := NewSink(repo)

	sink.Emit(models.SeverityDebug, "queue", "claimed", "claimed", Ref{})
	sink.Emit(models.SeverityInfo, "queue", "enqueued", "enqueued", Ref{})
	sink.Emit(models.SeverityWarning, "approval", "escalated", "escalated", Ref{})
	sink.Emit(models.SeverityCritical, "queue", "dead_letter", "parked", Ref{})
	sink.Close()

	warnings, err := repo.List(repositories.MonitoringFilter{MinSeverity: models.SeverityWarning})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(warnings) != 2 {
		t.Fatalf("List(min=warning) returned %d events, want 2", len(warnings))
	}
	for _, ev := range warnings {
		if models.SeverityRank(ev.Severity) < models.SeverityRank(models.SeverityWarning) {
			t.Errorf("severity %q below the floor", ev.Severity)
		}
	}

	queueOnly, _ := repo.List(repositories.MonitoringFilter{
		MinSeverity: models.SeverityWarning,
		Component:   "queue",
	})
	if len(queueOnly) != 1 || queueOnly[0].EventType != "dead_letter" {
		t.Errorf("List(min=warning, component=queue) = %+v", queueOnly)
	}
}

func TestListByExecution(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.NewMonitoringRepository(db)
	sink := NewSink(repo)

	sink.Emit(models.SeverityInfo, "executor", "execution_started", "started", Ref{ExecutionID: "exec_1"})
	sink.Emit(models.SeverityInfo, "executor", "execution_started", "started", Ref{ExecutionID: "exec_2"})
	sink.Close()

	got, err := repo.List(repositories.MonitoringFilter{ExecutionID: "exec_1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].ExecutionID != "exec_1" {
		t.Errorf("List(execution_id=exec_1) = %+v", got)
	}
}
