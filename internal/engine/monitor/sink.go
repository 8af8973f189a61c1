package monitor

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"leadgen/internal/platform/models"
	"leadgen/internal/platform/repositories"
)

// Sink appends monitoring events without ever failing the caller. A
// full buffer drops the event rather than blocking the hot path.
type Sink struct {
	repo *repositories.MonitoringRepository
	ch   chan *models.MonitoringEvent
	done chan struct{}
}

func NewSink(repo *repositories.MonitoringRepository) *Sink {
	s := &Sink{
		repo: repo,
		ch:   make(chan *models.MonitoringEvent, 256),
		done: make(chan struct{}),
	}
	go s.writer()
	return s
}

// Ref ties a monitoring event to the records it concerns.
type Ref struct {
	EventID     string
	WorkflowID  string
	ExecutionID string
	Details     interface{}
}

func (s *Sink) Emit(severity, component, eventType, message string, ref Ref) {
	ev := &models.MonitoringEvent{
		Severity:    severity,
		Component:   component,
		EventType:   eventType,
		ExecutionID: ref.ExecutionID,
		WorkflowID:  ref.WorkflowID,
		EventID:     ref.EventID,
		Message:     message,
		CreatedAt:   time.Now().Unix(),
	}
	if ref.Details != nil {
		if b, err := json.Marshal(ref.Details); err == nil {
			ev.Details = b
		}
	}

	select {
	case s.ch <- ev:
	default:
		log.Warn().Str("component", component).Str("event_type", eventType).Msg("monitoring buffer full, event dropped")
	}
}

func (s *Sink) writer() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("monitoring writer crashed")
		}
	}()
	for ev := range s.ch {
		if err := s.repo.Insert(ev); err != nil {
			log.Error().Err(err).Msg("failed to store monitoring event")
		}
	}
}

// Close stops accepting events and waits for the buffer to flush.
func (s *Sink) Close() {
	close(s.ch)
	<-s.done
}
