// Package executor drives workflow executions step by step. Position
// is persisted before and after every step, so a crashed or retried
// run picks up where the last one left off instead of starting over.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"leadgen/internal/engine/approval"
	"leadgen/internal/engine/monitor"
	"leadgen/internal/engine/steps"
	"leadgen/internal/platform/metrics"
	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

var (
	ErrAlreadyFinished = errors.New("execution already finished")
	// ErrBadResume marks a resume payload the executor cannot act on.
	// Retrying the event will not change the payload.
	ErrBadResume = errors.New("resume outcome not recognized")
)

// Outcome tells the worker what to do with the claimed event.
type Outcome int

const (
	// OutcomeCompleted and the other terminal outcomes mean the event
	// is done and should be acked.
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeCancelled
	OutcomeTimedOut
	// OutcomeSuspended parks the execution on a pending approval. The
	// trigger event is done; a resume event continues the run later.
	OutcomeSuspended
	// OutcomeRetry asks for the event back after a backoff.
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeTimedOut:
		return "timeout"
	case OutcomeSuspended:
		return "suspended"
	case OutcomeRetry:
		return "retry"
	}
	return "unknown"
}

type Result struct {
	Outcome   Outcome
	Execution *models.WorkflowExecution
	// Err is the step error behind OutcomeRetry.
	Err error
}

type Executor struct {
	executions *repositories.ExecutionRepository
	approvals  *repositories.ApprovalRepository
	workflows  *repositories.WorkflowRepository
	gate       *approval.Gate
	handlers   steps.Registry
	sink       *monitor.Sink
	now        func() time.Time
}

func New(executions *repositories.ExecutionRepository, approvals *repositories.ApprovalRepository,
	workflows *repositories.WorkflowRepository, gate *approval.Gate, handlers steps.Registry, sink *monitor.Sink) *Executor {
	return &Executor{
		executions: executions,
		approvals:  approvals,
		workflows:  workflows,
		gate:       gate,
		handlers:   handlers,
		sink:       sink,
		now:        time.Now,
	}
}

// Begin finds or creates the execution for a trigger event. Redelivery
// of an event maps onto the same execution row.
func (e *Executor) Begin(wf *models.Workflow, ev *models.WebhookEvent) (*models.WorkflowExecution, error) {
	existing, err := e.executions.GetByTriggerEventID(ev.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	exec := &models.WorkflowExecution{
		WorkflowID:     wf.ID,
		TriggerEventID: ev.ID,
		Status:         models.ExecutionStatusPending,
		Input:          ev.Payload,
		StepResults:    map[string]json.RawMessage{},
	}
	if wf.TimeoutSeconds > 0 {
		exec.DeadlineAt = e.now().Add(time.Duration(wf.TimeoutSeconds) * time.Second).Unix()
	}
	if err := e.executions.Create(exec); err != nil {
		return nil, err
	}

	e.sink.Emit(models.SeverityInfo, "executor", "execution_started", fmt.Sprintf("workflow %q triggered", wf.Name), monitor.Ref{
		EventID:     ev.ID,
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
	})
	return exec, nil
}

// Advance runs steps from the execution's saved position until it
// completes, suspends on an approval, or hits an error. The priority
// rides along so approvals opened here inherit the event's urgency.
func (e *Executor) Advance(ctx context.Context, wf *models.Workflow, exec *models.WorkflowExecution, priority int) (*Result, error) {
	if models.ExecutionStatusTerminal(exec.Status) {
		return &Result{Outcome: outcomeForStatus(exec.Status), Execution: exec}, nil
	}
	if exec.StartedAt == nil {
		now := e.now().Unix()
		exec.StartedAt = &now
	}

	total := len(wf.Steps)
	for exec.StepIndex < total {
		i := exec.StepIndex
		step := wf.Steps[i]

		// Cancel flags and watchdog transitions land outside this
		// claim, so re-read before each step.
		fresh, err := e.executions.GetByID(exec.ID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, fmt.Errorf("execution %s disappeared", exec.ID)
		}
		if models.ExecutionStatusTerminal(fresh.Status) {
			return &Result{Outcome: outcomeForStatus(fresh.Status), Execution: fresh}, nil
		}
		exec.CancelRequested = fresh.CancelRequested
		if exec.CancelRequested {
			return e.finish(wf, exec, models.ExecutionStatusCancelled, "cancelled on request")
		}
		if exec.DeadlineAt > 0 && e.now().Unix() >= exec.DeadlineAt {
			return e.finish(wf, exec, models.ExecutionStatusTimeout, "deadline exceeded")
		}

		approved := false
		if stepGated(wf, step) {
			a, err := e.approvals.GetByExecutionStep(exec.ID, step.Name)
			if err != nil {
				return nil, err
			}
			if a == nil {
				a, err = e.gate.Request(wf, exec, step, exec.Input, priority)
				if err != nil {
					return nil, err
				}
			}
			switch a.Status {
			case models.ApprovalStatusPending:
				return e.suspend(exec, step, i)
			case models.ApprovalStatusApproved:
				approved = true
			default:
				return e.finish(wf, exec, models.ExecutionStatusFailed,
					fmt.Sprintf("step %q gate %s: %s", step.Name, a.Status, a.DecisionNotes))
			}
		}

		handler, ok := e.handlers.Get(step.Handler)
		if !ok {
			return e.finish(wf, exec, models.ExecutionStatusFailed,
				fmt.Sprintf("step %q references unknown handler %q", step.Name, step.Handler))
		}

		// Persist position before running so a crash retries this
		// step instead of re-running finished ones.
		exec.Status = models.ExecutionStatusRunning
		exec.CurrentStep = step.Name
		exec.StepIndex = i
		if res, err := e.persist(exec); res != nil || err != nil {
			return res, err
		}

		output, stepErr := runStep(ctx, handler, &steps.Request{
			Workflow:  wf,
			Execution: exec,
			Step:      step,
			Payload:   exec.Input,
			Prior:     exec.StepResults,
			Approved:  approved,
		})
		if stepErr != nil {
			if steps.IsFatal(stepErr) {
				metrics.StepsRun.WithLabelValues(step.Handler, "fatal").Inc()
				return e.finish(wf, exec, models.ExecutionStatusFailed,
					fmt.Sprintf("step %q: %v", step.Name, stepErr))
			}
			metrics.StepsRun.WithLabelValues(step.Handler, "transient").Inc()
			e.sink.Emit(models.SeverityWarning, "executor", "step_retry",
				fmt.Sprintf("step %q hit a retryable error", step.Name), monitor.Ref{
					WorkflowID:  wf.ID,
					ExecutionID: exec.ID,
					Details:     map[string]string{"error": stepErr.Error()},
				})
			return &Result{Outcome: OutcomeRetry, Execution: exec, Err: stepErr}, nil
		}
		metrics.StepsRun.WithLabelValues(step.Handler, "success").Inc()

		if exec.StepResults == nil {
			exec.StepResults = map[string]json.RawMessage{}
		}
		exec.StepResults[step.Name] = output
		exec.Output = output
		exec.StepIndex = i + 1
		exec.ProgressPercentage = (i + 1) * 100 / total
		if res, err := e.persist(exec); res != nil || err != nil {
			return res, err
		}
	}

	return e.finish(wf, exec, models.ExecutionStatusCompleted, "")
}

// Resume applies an approval outcome to a suspended execution.
// Approved runs the gated step and everything after it; any other
// outcome fails the run.
func (e *Executor) Resume(ctx context.Context, wf *models.Workflow, exec *models.WorkflowExecution, rp *models.ResumePayload, priority int) (*Result, error) {
	if models.ExecutionStatusTerminal(exec.Status) {
		return &Result{Outcome: outcomeForStatus(exec.Status), Execution: exec}, nil
	}

	switch rp.Outcome {
	case models.ApprovalStatusApproved:
		return e.Advance(ctx, wf, exec, priority)
	case models.ApprovalStatusRejected, models.ApprovalStatusExpired, models.ApprovalStatusCancelled:
		msg := fmt.Sprintf("step %q %s", exec.CurrentStep, rp.Outcome)
		if rp.Notes != "" {
			msg += ": " + rp.Notes
		}
		return e.finish(wf, exec, models.ExecutionStatusFailed, msg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadResume, rp.Outcome)
	}
}

// Cancel stops an execution. Pending and suspended runs settle at
// once; a running one gets a flag the executor honors at the next step
// boundary.
func (e *Executor) Cancel(id, requestedBy string) (*models.WorkflowExecution, error) {
	exec, err := e.executions.GetByID(id)
	if err != nil || exec == nil {
		return nil, err
	}

	reason := "cancelled by " + requestedBy
	switch exec.Status {
	case models.ExecutionStatusPending, models.ExecutionStatusAwaitingApproval:
		prev := exec.Status
		if err := e.executions.Transition(id, prev, models.ExecutionStatusCancelled, reason); err != nil {
			if errors.Is(err, repositories.ErrNotOwner) {
				return e.executions.GetByID(id)
			}
			return nil, err
		}
		if prev == models.ExecutionStatusAwaitingApproval {
			if err := e.gate.Void(id, "execution cancelled"); err != nil {
				log.Error().Err(err).Str("execution_id", id).Msg("failed to void approval on cancel")
			}
		}
		metrics.ExecutionsFinished.WithLabelValues(e.kindOf(exec.WorkflowID), models.ExecutionStatusCancelled).Inc()
		e.sink.Emit(models.SeverityInfo, "executor", "execution_cancelled", reason, monitor.Ref{
			WorkflowID:  exec.WorkflowID,
			ExecutionID: id,
		})
		return e.executions.GetByID(id)

	case models.ExecutionStatusRunning:
		if err := e.executions.RequestCancel(id); err != nil && !errors.Is(err, repositories.ErrNotOwner) {
			return nil, err
		}
		e.sink.Emit(models.SeverityInfo, "executor", "cancel_requested", reason, monitor.Ref{
			WorkflowID:  exec.WorkflowID,
			ExecutionID: id,
		})
		return e.executions.GetByID(id)

	default:
		return exec, ErrAlreadyFinished
	}
}

// SweepTimeouts settles live executions whose deadline passed. Runs on
// a schedule so a run stuck waiting on an approval still times out.
func (e *Executor) SweepTimeouts(limit int) (int, error) {
	overdue, err := e.executions.ListPastDeadline(e.now().Unix(), limit)
	if err != nil {
		return 0, err
	}

	timedOut := 0
	for _, exec := range overdue {
		if err := e.executions.Transition(exec.ID, exec.Status, models.ExecutionStatusTimeout, "deadline exceeded"); err != nil {
			if errors.Is(err, repositories.ErrNotOwner) {
				continue
			}
			return timedOut, err
		}
		if exec.Status == models.ExecutionStatusAwaitingApproval {
			if err := e.gate.Void(exec.ID, "execution timed out"); err != nil {
				log.Error().Err(err).Str("execution_id", exec.ID).Msg("failed to void approval on timeout")
			}
		}
		metrics.ExecutionsFinished.WithLabelValues(e.kindOf(exec.WorkflowID), models.ExecutionStatusTimeout).Inc()
		e.sink.Emit(models.SeverityError, "executor", "execution_timeout", "execution exceeded its deadline", monitor.Ref{
			WorkflowID:  exec.WorkflowID,
			ExecutionID: exec.ID,
		})
		timedOut++
	}
	return timedOut, nil
}

func (e *Executor) suspend(exec *models.WorkflowExecution, step models.WorkflowStep, index int) (*Result, error) {
	exec.Status = models.ExecutionStatusAwaitingApproval
	exec.CurrentStep = step.Name
	exec.StepIndex = index
	if res, err := e.persist(exec); res != nil || err != nil {
		return res, err
	}
	e.sink.Emit(models.SeverityInfo, "executor", "execution_suspended",
		fmt.Sprintf("step %q waits for approval", step.Name), monitor.Ref{
			WorkflowID:  exec.WorkflowID,
			ExecutionID: exec.ID,
		})
	return &Result{Outcome: OutcomeSuspended, Execution: exec}, nil
}

func (e *Executor) finish(wf *models.Workflow, exec *models.WorkflowExecution, status, errMsg string) (*Result, error) {
	now := e.now().Unix()
	exec.Status = status
	exec.Error = errMsg
	exec.FinishedAt = &now
	if status == models.ExecutionStatusCompleted {
		exec.CurrentStep = ""
		exec.ProgressPercentage = 100
	}
	if res, err := e.persist(exec); res != nil || err != nil {
		return res, err
	}

	metrics.ExecutionsFinished.WithLabelValues(wf.Kind, status).Inc()
	severity := models.SeverityInfo
	if status != models.ExecutionStatusCompleted {
		severity = models.SeverityError
	}
	e.sink.Emit(severity, "executor", "execution_"+status, finishMessage(status, errMsg), monitor.Ref{
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
	})
	return &Result{Outcome: outcomeForStatus(status), Execution: exec}, nil
}

// persist writes the execution and resolves update races. A non-nil
// Result means another writer settled the row first and the caller
// should return it as-is.
func (e *Executor) persist(exec *models.WorkflowExecution) (*Result, error) {
	err := e.executions.Update(exec)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, repositories.ErrNotOwner) {
		return nil, err
	}
	fresh, ferr := e.executions.GetByID(exec.ID)
	if ferr != nil {
		return nil, ferr
	}
	if fresh == nil {
		return nil, fmt.Errorf("execution %s disappeared", exec.ID)
	}
	return &Result{Outcome: outcomeForStatus(fresh.Status), Execution: fresh}, nil
}

func (e *Executor) kindOf(workflowID string) string {
	wf, err := e.workflows.GetByID(workflowID)
	if err != nil || wf == nil {
		return "unknown"
	}
	return wf.Kind
}

func stepGated(wf *models.Workflow, step models.WorkflowStep) bool {
	return step.RequiresApproval || wf.ApprovalPolicy.Required
}

// runStep isolates handler panics: a panicking step charges a retry
// attempt instead of killing the worker.
func runStep(ctx context.Context, h steps.Handler, req *steps.Request) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = steps.Transientf("step %q panicked: %v", req.Step.Name, r)
		}
	}()
	return h(ctx, req)
}

func outcomeForStatus(status string) Outcome {
	switch status {
	case models.ExecutionStatusCompleted:
		return OutcomeCompleted
	case models.ExecutionStatusFailed:
		return OutcomeFailed
	case models.ExecutionStatusCancelled:
		return OutcomeCancelled
	case models.ExecutionStatusTimeout:
		return OutcomeTimedOut
	case models.ExecutionStatusAwaitingApproval:
		return OutcomeSuspended
	}
	return OutcomeRetry
}

func finishMessage(status, errMsg string) string {
	if errMsg == "" {
		return "execution " + status
	}
	return errMsg
}
