package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_webhook_events_received_total",
		Help: "The total number of webhook deliveries received, by source and outcome",
	}, []string{"source", "outcome"})

	EventsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_queue_events_enqueued_total",
		Help: "The total number of events enqueued, by kind",
	}, []string{"kind"})

	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_queue_events_duplicate_total",
		Help: "The total number of deliveries deduplicated against a recent event",
	})

	EventsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_queue_events_completed_total",
		Help: "The total number of events acked after processing",
	})

	EventsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_queue_events_retried_total",
		Help: "The total number of retries scheduled with backoff",
	})

	EventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_queue_events_failed_total",
		Help: "The total number of events failed after exhausting retries",
	})

	EventsDeadLetter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_queue_events_dead_letter_total",
		Help: "The total number of events parked on the dead letter shelf",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "leadgen_queue_depth",
		Help: "Events currently in each queue status",
	}, []string{"status"})

	ProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadgen_event_processing_duration_seconds",
		Help:    "Time taken to process a claimed event",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_executions_finished_total",
		Help: "The total number of executions reaching a terminal status, by workflow kind",
	}, []string{"kind", "status"})

	StepsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_execution_steps_total",
		Help: "The total number of step handler runs, by handler and outcome",
	}, []string{"handler", "outcome"})

	Approvals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_approvals_total",
		Help: "The total number of approval transitions, by action",
	}, []string{"action"})

	DispatchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_dispatch_requests_total",
		Help: "The total number of outbound step deliveries, by outcome",
	}, []string{"outcome"})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadgen_dispatch_duration_seconds",
		Help:    "Time taken for an outbound step delivery",
		Buckets: prometheus.DefBuckets,
	})
)
