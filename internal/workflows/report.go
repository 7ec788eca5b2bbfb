package workflows

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

const (
	maxReportAttempts = 4
	truncationRatio   = 0.9
)

// finalReport synthesizes the report from the accumulated notes. It never
// fails: every terminal outcome stores a report (or a sentinel), appends it to
// the user thread and clears the notes.
func (e *Engine) finalReport(ctx context.Context, sessionID string, s state.AgentState) Transition[agentNode, state.AgentUpdate] {
	ctx, span := tracing.StartSpan(ctx, "deepresearch.report", attribute.Int("report.notes", len(s.Notes)))
	defer span.End()
	logger := e.logger.With(zap.String("session_id", sessionID))

	findings := []rune(strings.Join(s.Notes, "\n"))
	conversation := state.BufferString(s.Messages)
	today := e.today()

	done := func(report string) Transition[agentNode, state.AgentUpdate] {
		e.emit(sessionID, EventReportReady, "", report)
		return Transition[agentNode, state.AgentUpdate]{
			Next: nodeEnd,
			Update: state.AgentUpdate{
				FinalReport: state.Ptr(report),
				Messages:    []state.Message{state.AssistantMessage(report)},
				ClearNotes:  true,
			},
		}
	}

	truncated := false
	for attempt := 1; attempt <= maxReportAttempts; attempt++ {
		prompt := prompts.FinalReport(s.ResearchBrief, conversation, string(findings), today)
		resp, err := e.report.Invoke(ctx, []state.Message{state.UserMessage(prompt)})
		if err == nil {
			metrics.ReportAttempts.WithLabelValues("success").Inc()
			span.SetAttributes(attribute.Int("report.attempts", attempt))
			logger.Info("Final report generated", zap.Int("attempt", attempt), zap.Int("findings_chars", len(findings)))
			return done(resp.Content)
		}
		if !llm.IsContextLengthExceeded(err) {
			metrics.ReportAttempts.WithLabelValues("error").Inc()
			logger.Error("Final report generation failed", zap.Int("attempt", attempt), zap.Error(err))
			tracing.EndSpan(span, err)
			return done(reportErrorSentinel(err))
		}
		metrics.ReportAttempts.WithLabelValues("context_overflow").Inc()
		if attempt == maxReportAttempts {
			break
		}

		next := len(findings)
		if !truncated {
			limit, ok := e.catalog.TokenLimit(e.report.ModelName())
			if !ok {
				logger.Error("Context overflow on a model with no known token limit", zap.String("model", e.report.ModelName()))
				tracing.EndSpan(span, err)
				return done(unknownTokenLimitSentinel(e.report.ModelName(), err))
			}
			next = limit * e.cfg.CharsPerToken
			truncated = true
		}
		// Findings must strictly shrink across overflows even when the budget
		// already exceeds their length.
		if next >= len(findings) {
			next = int(float64(len(findings)) * truncationRatio)
		}
		logger.Warn("Final report exceeded context window, truncating findings",
			zap.Int("attempt", attempt),
			zap.Int("findings_chars", len(findings)),
			zap.Int("truncated_chars", next),
		)
		e.emit(sessionID, EventErrorRecovery, "", "report findings truncated after context overflow")
		findings = findings[:next]
	}
	logger.Error("Final report retries exhausted", zap.Int("attempts", maxReportAttempts))
	return done(ReportFailedSentinel)
}
