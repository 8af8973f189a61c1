package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"leadgen/internal/platform/models"
)

// Request carries everything a step handler may consume. Handlers run
// at-least-once: a retried event replays steps already attempted, so
// side effects must key on Execution.ID plus Step.Name.
type Request struct {
	Workflow  *models.Workflow
	Execution *models.WorkflowExecution
	Step      models.WorkflowStep
	Payload   json.RawMessage
	Prior     map[string]json.RawMessage
	Approved  bool
}

// Handler runs one step and returns its output document.
//
// Error contract: wrap with Transient for failures worth retrying and
// Fatal for ones that are not. A bare error counts as transient.
type Handler func(ctx context.Context, req *Request) (json.RawMessage, error)

// Registry maps handler names from workflow step specs to code.
type Registry map[string]Handler

func (r Registry) Get(name string) (Handler, bool) {
	h, ok := r[name]
	return h, ok
}

type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Transientf(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func Fatalf(format string, args ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether the failure should stop the execution
// outright. Everything else is treated as retryable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
