package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SignalsIngested      *prometheus.CounterVec
	GateDecisions        *prometheus.CounterVec
	DurableFallbacks     prometheus.Counter
	Outcomes             *prometheus.CounterVec
	LearningFailures     *prometheus.CounterVec
	WorkflowRuns         *prometheus.CounterVec
	WorkflowDuration     *prometheus.HistogramVec
	OrchestrationTime    prometheus.Histogram
	WebSocketConnections prometheus.Gauge
}

// NewMetrics registers the metrics on reg (prometheus.DefaultRegisterer in main)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SignalsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_signals_ingested_total",
			Help: "Signals accepted by intake, by source",
		}, []string{"source"}),

		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_gate_decisions_total",
			Help: "Autonomy gate decisions by resulting status and rule",
		}, []string{"status", "code"}),

		DurableFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_durable_fallbacks_total",
			Help: "Signals processed synchronously because the workflow engine was unavailable",
		}),

		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_outcomes_total",
			Help: "Recorded outcomes by type",
		}, []string{"outcome_type"}),

		LearningFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_learning_failures_total",
			Help: "Learning passes that failed, by stage",
		}, []string{"stage"}),

		WorkflowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_workflow_runs_total",
			Help: "Finished workflow runs by workflow and status",
		}, []string{"workflow", "status"}),

		WorkflowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autopilot_workflow_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"workflow"}),

		// up to 2 minutes for reasoning calls
		OrchestrationTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "autopilot_orchestration_duration_seconds",
			Help:    "Synchronous signal processing latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		WebSocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autopilot_websocket_connections_active",
			Help: "Number of active draft stream connections",
		}),
	}
}

// ObserveGateDecision implements autonomy.Observer
func (m *Metrics) ObserveGateDecision(status, code string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(status, code).Inc()
}

// ObserveWorkflowRun implements workflow.Observer
func (m *Metrics) ObserveWorkflowRun(workflow, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowRuns.WithLabelValues(workflow, status).Inc()
	m.WorkflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordSignal records an ingested signal
func (m *Metrics) RecordSignal(source string) {
	if m == nil {
		return
	}
	m.SignalsIngested.WithLabelValues(source).Inc()
}

// RecordDurableFallback records a durable start that fell back to sync
func (m *Metrics) RecordDurableFallback() {
	if m == nil {
		return
	}
	m.DurableFallbacks.Inc()
}

// RecordOutcome records an outcome by type
func (m *Metrics) RecordOutcome(outcomeType string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcomeType).Inc()
}

// RecordLearningFailure records a failed learning pass
func (m *Metrics) RecordLearningFailure(stage string) {
	if m == nil {
		return
	}
	m.LearningFailures.WithLabelValues(stage).Inc()
}

// RecordOrchestrationLatency records how long a synchronous pass took
func (m *Metrics) RecordOrchestrationLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.OrchestrationTime.Observe(d.Seconds())
}

// RecordWebSocketConnect records a new draft stream connection
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a closed draft stream connection
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Dec()
}
