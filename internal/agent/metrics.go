package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors the loop and tool executor
// report to (SPEC_FULL.md §2 Ambient Stack: metrics). Metrics are
// optional: a nil *Metrics is safe to use and simply discards
// observations, since every method checks for a nil receiver. A non-nil
// Metrics needs every collector set, as NewMetrics does.
type Metrics struct {
	TurnsTotal        *prometheus.CounterVec
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	EventsDropped     prometheus.Counter
	ActiveRuns        prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors on reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "turns_total",
			Help:      "Turns completed, labeled by outcome (ok, error, aborted).",
		}, []string{"outcome"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "tool_calls_total",
			Help:      "Tool calls executed, labeled by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentrt",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "events_dropped_total",
			Help:      "Events silently dropped because the stream had already ended or been cancelled.",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentrt",
			Name:      "active_runs",
			Help:      "Agent loop invocations currently streaming.",
		}),
	}
	reg.MustRegister(m.TurnsTotal, m.ToolCallsTotal, m.ToolCallDuration, m.EventsDropped, m.ActiveRuns)
	return m
}

func (m *Metrics) observeTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeToolCall(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(seconds)
}

func (m *Metrics) incEventsDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) setActiveRuns(n float64) {
	if m == nil {
		return
	}
	m.ActiveRuns.Set(n)
}
