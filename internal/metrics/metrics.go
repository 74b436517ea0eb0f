// Package metrics exposes run counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhongli1990/saas-codex/internal/agent/claude"
	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/runs"
)

const namespace = "runner"

// Metrics implements runs.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	events       *prometheus.CounterVec
	subscribers  *prometheus.GaugeVec
}

var _ runs.Observer = (*Metrics)(nil)

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Runs submitted, by runner.",
		}, []string{"runner"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal status.",
		}, []string{"status"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs currently running.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from submission to terminal status.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_events_total",
			Help:      "Events appended to run buffers, by event type.",
		}, []string{"type"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Connected live subscribers, by transport.",
		}, []string{"transport"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runsStarted,
		m.runsFinished,
		m.runsActive,
		m.runDuration,
		m.events,
		m.subscribers,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunStarted implements runs.Observer. Runs are labelled by the runner
// recorded on the run; runs without one count as "unknown".
func (m *Metrics) RunStarted(run *runs.Run) {
	m.runsStarted.WithLabelValues(runnerLabel(run)).Inc()
	m.runsActive.Inc()
}

// RunEvent implements runs.Observer.
func (m *Metrics) RunEvent(_ *runs.Run, eventType string) {
	m.events.WithLabelValues(eventLabel(eventType)).Inc()
}

// RunFinished implements runs.Observer.
func (m *Metrics) RunFinished(_ *runs.Run, status domain.RunStatus, elapsed time.Duration) {
	m.runsActive.Dec()
	m.runsFinished.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

// SubscriberConnected tracks a live stream subscriber until the returned
// func is called.
func (m *Metrics) SubscriberConnected(transport string) (disconnected func()) {
	g := m.subscribers.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

// knownEvents bounds the type label. Vendor types outside this set count as
// "other".
var knownEvents = map[string]bool{
	domain.EventTypeRunStarted:   true,
	domain.EventTypeRunCompleted: true,
	domain.EventTypeError:        true,

	// Codex
	"thread.started": true,
	"turn.started":   true,
	"turn.completed": true,
	"turn.failed":    true,
	"item.started":   true,
	"item.updated":   true,
	"item.completed": true,

	// Claude-style backend
	claude.EventUserMessage:    true,
	claude.EventSkillActivated: true,
	claude.EventIteration:      true,
	claude.EventAssistantDelta: true,
	claude.EventAssistantFinal: true,
	claude.EventToolCallStart:  true,
	claude.EventToolCall:       true,
	claude.EventToolBlocked:    true,
	claude.EventToolResult:     true,
}

func eventLabel(eventType string) string {
	switch {
	case eventType == "":
		return "unknown"
	case knownEvents[eventType]:
		return eventType
	default:
		return "other"
	}
}

func runnerLabel(run *runs.Run) string {
	if run.Runner == "" {
		return "unknown"
	}
	return run.Runner
}
