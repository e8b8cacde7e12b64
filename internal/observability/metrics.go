package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the agent and daemon. It
// satisfies the recorder interfaces of the stream client, the tool
// dispatcher and the agent loop. A nil *Metrics records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	StreamAttempts *prometheus.CounterVec
	TimeToFirst    *prometheus.HistogramVec
	ToolCalls      *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	Turns          *prometheus.CounterVec
	TurnIterations prometheus.Histogram
	ActiveSession  *prometheus.GaugeVec
	TransportErrs  *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with agent collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meow_stream_attempts_total",
		Help: "Streamed completions by provider and outcome",
	}, []string{"provider", "outcome"})

	ttft := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meow_stream_time_to_first_token_seconds",
		Help:    "Delay between sending a request and the first content delta",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})

	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meow_tool_calls_total",
		Help: "Tool invocations by tool and success",
	}, []string{"tool", "success"})

	toolDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meow_tool_duration_seconds",
		Help:    "Tool invocation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	turns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meow_agent_turns_total",
		Help: "Agent turns by end reason",
	}, []string{"reason"})

	iterations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meow_agent_turn_iterations",
		Help:    "Model round trips per turn",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 20},
	})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meow_transport_active_sessions",
		Help: "Active streaming sessions by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meow_transport_errors_total",
		Help: "Transport-level errors (handler/streaming) by transport and reason",
	}, []string{"transport", "reason"})

	reg.MustRegister(attempts, ttft, toolCalls, toolDur, turns, iterations, active, trErrors)

	return &Metrics{
		registry:       reg,
		StreamAttempts: attempts,
		TimeToFirst:    ttft,
		ToolCalls:      toolCalls,
		ToolDuration:   toolDur,
		Turns:          turns,
		TurnIterations: iterations,
		ActiveSession:  active,
		TransportErrs:  trErrors,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordStreamAttempt counts one Send call by its outcome.
func (m *Metrics) RecordStreamAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.StreamAttempts.WithLabelValues(orUnknown(provider), orUnknown(outcome)).Inc()
}

// RecordTimeToFirstToken observes the first-delta latency.
func (m *Metrics) RecordTimeToFirstToken(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirst.WithLabelValues(orUnknown(provider)).Observe(d.Seconds())
}

// RecordToolCall counts a tool invocation and its duration.
func (m *Metrics) RecordToolCall(tool string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(orUnknown(tool), strconv.FormatBool(success)).Inc()
	m.ToolDuration.WithLabelValues(orUnknown(tool)).Observe(d.Seconds())
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(reason string, iterations int) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(orUnknown(reason)).Inc()
	m.TurnIterations.Observe(float64(iterations))
}

// IncActiveSessions increments the active session gauge.
func (m *Metrics) IncActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Inc()
}

// DecActiveSessions decrements the active session gauge.
func (m *Metrics) DecActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	m.TransportErrs.WithLabelValues(orUnknown(transport), orUnknown(reason)).Inc()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
