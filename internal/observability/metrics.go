// Package observability exposes Prometheus counters for the message flow
// and an optional /metrics HTTP listener.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for the moving parts worth watching:
// inbound messages, provider round trips, and tool executions.
type Metrics struct {
	// MessageCounter tracks messages by channel and direction.
	// Labels: channel (discord), direction (inbound|outbound|suppressed)
	MessageCounter *prometheus.CounterVec

	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider calls by outcome.
	// Labels: provider, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by qualified name.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// SummarizationCounter counts history condensations.
	// Labels: status (success|error)
	SummarizationCounter *prometheus.CounterVec
}

// NewMetrics registers all collectors with the default Prometheus registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all collectors with the given registerer. Tests
// pass a fresh registry so collectors do not collide across instances.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_messages_total",
				Help: "Total messages processed by channel and direction",
			},
			[]string{"channel", "direction"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_llm_request_duration_seconds",
				Help:    "Duration of model provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_llm_requests_total",
				Help: "Total model provider requests by provider and status",
			},
			[]string{"provider", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_llm_tokens_total",
				Help: "Total tokens consumed by provider and type",
			},
			[]string{"provider", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_tool_executions_total",
				Help: "Total tool executions by qualified tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		SummarizationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_summarizations_total",
				Help: "Total history summarization attempts by status",
			},
			[]string{"status"},
		),
	}
}

// MessageReceived counts one inbound message.
func (m *Metrics) MessageReceived(channel string) {
	m.MessageCounter.WithLabelValues(channel, "inbound").Inc()
}

// MessageSent counts one outbound message.
func (m *Metrics) MessageSent(channel string) {
	m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
}

// MessageSuppressed counts a reply the model declined to give.
func (m *Metrics) MessageSuppressed(channel string) {
	m.MessageCounter.WithLabelValues(channel, "suppressed").Inc()
}

// RecordLLMRequest records one provider round trip.
func (m *Metrics) RecordLLMRequest(provider, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordSummarization records one condensation attempt.
func (m *Metrics) RecordSummarization(status string) {
	m.SummarizationCounter.WithLabelValues(status).Inc()
}
