// Package workers drains the webhook queue. A pool of claim loops
// pulls events one at a time and walks each through workflow
// resolution, payload validation and execution, then settles the claim
// according to the executor's verdict.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"leadgen/internal/engine/executor"
	"leadgen/internal/engine/queue"
	"leadgen/internal/engine/registry"
	"leadgen/internal/platform/metrics"
	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

// Pool runs concurrent claim loops against the queue. Loops poll with
// jitter when idle and drain back to back while events are due.
type Pool struct {
	queue      *queue.Queue
	registry   *registry.Service
	executor   *executor.Executor
	executions *repositories.ExecutionRepository

	concurrency int
	poll        time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type Options struct {
	Concurrency  int
	PollInterval time.Duration
}

func NewPool(q *queue.Queue, reg *registry.Service, ex *executor.Executor, executions *repositories.ExecutionRepository, opts Options) *Pool {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Pool{
		queue:       q,
		registry:    reg,
		executor:    ex,
		executions:  executions,
		concurrency: concurrency,
		poll:        poll,
	}
}

// Start launches the claim loops. Worker ids are stable across the
// pool's lifetime so claims in the events table can be traced back to
// the loop that held them.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}

	p.wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go p.run(ctx, fmt.Sprintf("%s-%d", host, i))
	}

	log.Info().Int("concurrency", p.concurrency).Dur("poll_interval", p.poll).Msg("worker pool started")
	return nil
}

// Stop cancels the claim loops and waits for in-flight events to
// settle. Events claimed but not yet started are released uncharged.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()

	for {
		processed, err := p.ProcessOne(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("worker_id", workerID).Msg("claim loop error")
			p.idle(ctx)
			continue
		}
		if !processed {
			if ctx.Err() != nil {
				return
			}
			p.idle(ctx)
		}
	}
}

// ProcessOne claims and settles a single event. It reports whether an
// event was claimed, so callers can drain without sleeping between
// consecutive hits.
func (p *Pool) ProcessOne(ctx context.Context, workerID string) (bool, error) {
	ev, err := p.queue.ClaimNext(workerID)
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, nil
	}

	if ctx.Err() != nil {
		// Shutdown raced the claim. Hand the event back uncharged.
		if relErr := p.queue.Release(ev, workerID); relErr != nil {
			log.Error().Err(relErr).Str("event_id", ev.ID).Msg("failed to release claim on shutdown")
		}
		return false, ctx.Err()
	}

	p.process(ctx, workerID, ev)
	return true, nil
}

func (p *Pool) process(ctx context.Context, workerID string, ev *models.WebhookEvent) {
	start := time.Now()
	defer func() {
		metrics.ProcessingLatency.WithLabelValues(ev.Kind).Observe(time.Since(start).Seconds())
	}()

	switch ev.Kind {
	case models.EventKindWebhook:
		p.processTrigger(ctx, workerID, ev)
	case models.EventKindResume:
		p.processResume(ctx, workerID, ev)
	default:
		p.deadLetter(ev, workerID, fmt.Errorf("event kind %q not handled", ev.Kind))
	}
}

// processTrigger starts or continues the execution behind a webhook
// event. Events no workflow wants, and payloads a workflow's schema
// rejects, go straight to the dead letter shelf.
func (p *Pool) processTrigger(ctx context.Context, workerID string, ev *models.WebhookEvent) {
	wf, err := p.registry.Resolve(ev)
	if err != nil {
		if errors.Is(err, registry.ErrNoWorkflow) || errors.Is(err, registry.ErrWorkflowInactive) {
			p.deadLetter(ev, workerID, err)
			return
		}
		p.fail(ev, workerID, err, 0)
		return
	}

	if err := p.registry.ValidatePayload(wf, ev.Payload); err != nil {
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			p.deadLetter(ev, workerID, err)
			return
		}
		p.fail(ev, workerID, err, 0)
		return
	}

	exec, err := p.executor.Begin(wf, ev)
	if err != nil {
		p.fail(ev, workerID, err, 0)
		return
	}

	res, err := p.executor.Advance(ctx, wf, exec, ev.Priority)
	if err != nil {
		p.fail(ev, workerID, err, 0)
		return
	}
	p.settle(ev, workerID, wf, res)
}

// processResume applies an approval outcome to the suspended execution
// it names.
func (p *Pool) processResume(ctx context.Context, workerID string, ev *models.WebhookEvent) {
	var rp models.ResumePayload
	if err := json.Unmarshal(ev.Payload, &rp); err != nil {
		p.deadLetter(ev, workerID, fmt.Errorf("resume payload: %w", err))
		return
	}

	exec, err := p.executions.GetByID(rp.ExecutionID)
	if err != nil {
		p.fail(ev, workerID, err, 0)
		return
	}
	if exec == nil {
		p.deadLetter(ev, workerID, fmt.Errorf("resume names unknown execution %s", rp.ExecutionID))
		return
	}

	wf, err := p.registry.Get(exec.WorkflowID)
	if err != nil {
		p.fail(ev, workerID, err, 0)
		return
	}
	if wf == nil {
		p.deadLetter(ev, workerID, fmt.Errorf("workflow %s no longer exists", exec.WorkflowID))
		return
	}

	res, err := p.executor.Resume(ctx, wf, exec, &rp, ev.Priority)
	if err != nil {
		if errors.Is(err, executor.ErrBadResume) {
			p.deadLetter(ev, workerID, err)
			return
		}
		p.fail(ev, workerID, err, 0)
		return
	}
	p.settle(ev, workerID, wf, res)
}

// settle routes the executor's verdict back into the queue. Suspension
// acks the trigger: the run is parked and a resume event carries it
// on later.
func (p *Pool) settle(ev *models.WebhookEvent, workerID string, wf *models.Workflow, res *executor.Result) {
	switch res.Outcome {
	case executor.OutcomeRetry:
		p.fail(ev, workerID, res.Err, retryDelay(wf))
	default:
		if err := p.queue.Ack(ev, workerID); err != nil {
			log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to ack event")
		}
	}
}

func (p *Pool) fail(ev *models.WebhookEvent, workerID string, cause error, delay time.Duration) {
	log.Warn().Err(cause).Str("event_id", ev.ID).Str("worker_id", workerID).Msg("event processing failed")
	if err := p.queue.Fail(ev, workerID, cause, delay); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to schedule retry")
	}
}

func (p *Pool) deadLetter(ev *models.WebhookEvent, workerID string, cause error) {
	log.Warn().Err(cause).Str("event_id", ev.ID).Str("worker_id", workerID).Msg("event dead-lettered")
	if err := p.queue.DeadLetter(ev, workerID, cause); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to dead-letter event")
	}
}

// idle sleeps for the poll interval plus jitter, so a fleet of idle
// loops does not hammer the table in lockstep.
func (p *Pool) idle(ctx context.Context) {
	d := p.poll + time.Duration(rand.Int63n(int64(p.poll)/2+1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// retryDelay is the workflow's own retry spacing, when it sets one.
// Zero lets the queue's backoff schedule decide.
func retryDelay(wf *models.Workflow) time.Duration {
	if wf != nil && wf.RetryDelaySeconds > 0 {
		return time.Duration(wf.RetryDelaySeconds) * time.Second
	}
	return 0
}
