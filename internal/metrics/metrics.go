package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_started_total",
			Help: "Total number of research sessions started",
		},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_completed_total",
			Help: "Research sessions finished, by outcome",
		},
		[]string{"status"}, // completed | clarification | failed
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_session_duration_seconds",
			Help:    "Wall time of a research session",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// Supervisor metrics
	SupervisorIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_supervisor_iterations",
			Help:    "Supervising cycles per session",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		},
	)

	ResearchUnitsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_research_units_dispatched_total",
			Help: "Researcher workers started by the supervisor",
		},
	)

	ResearchUnitsOverflowed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_research_units_overflowed_total",
			Help: "ConductResearch calls answered synthetically because the concurrency bound was reached",
		},
	)

	ResearcherDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_researcher_duration_seconds",
			Help:    "Researcher worker wall time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_tool_calls_total",
			Help: "Tool invocations by tool and result",
		},
		[]string{"tool", "status"},
	)

	// Stage retry metrics
	CompressionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_compression_attempts_total",
			Help: "Compression attempts by outcome",
		},
		[]string{"outcome"}, // success | context_overflow | error
	)

	ReportAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_report_attempts_total",
			Help: "Final report attempts by outcome",
		},
		[]string{"outcome"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_llm_requests_total",
			Help: "Chat model requests by model and status",
		},
		[]string{"model", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_llm_latency_seconds",
			Help:    "Chat model request latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	LLMCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_llm_cost_usd_total",
			Help: "Estimated chat model spend from catalog prices",
		},
		[]string{"model"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_llm_tokens_total",
			Help: "Tokens reported by the chat model provider",
		},
		[]string{"model", "kind"}, // prompt | completion
	)

	StructuredOutputRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_structured_output_retries_total",
			Help: "Structured output attempts that failed to parse or validate",
		},
		[]string{"schema"},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_stream_subscribers",
			Help: "Active event stream subscribers",
		},
	)
)

// RecordSession records the outcome of a finished session
func RecordSession(status string, durationSeconds float64, iterations int) {
	SessionsCompleted.WithLabelValues(status).Inc()
	SessionDuration.Observe(durationSeconds)
	if iterations > 0 {
		SupervisorIterations.Observe(float64(iterations))
	}
}

// RecordLLMRequest records one chat model call
func RecordLLMRequest(model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	LLMRequests.WithLabelValues(model, status).Inc()
	LLMLatency.WithLabelValues(model).Observe(durationSeconds)
	if promptTokens > 0 {
		LLMTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolCall records one tool invocation
func RecordToolCall(tool string, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	ToolCalls.WithLabelValues(tool, status).Inc()
}
