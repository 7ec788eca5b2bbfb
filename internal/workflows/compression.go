package workflows

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

const maxCompressionAttempts = 3

// compressResearch synthesizes the worker's transcript. It always reaches Done
// with a compressed text (possibly a sentinel) and one raw notes entry.
func (e *Engine) compressResearch(ctx context.Context, s state.ResearcherState) researcherTransition {
	ctx, span := tracing.StartSpan(ctx, "deepresearch.compress")
	defer span.End()

	body := transcriptBody(s.Messages)
	system := state.SystemMessage(prompts.CompressResearchSystem(e.today()))
	instruction := state.UserMessage(prompts.CompressResearchHuman)
	notes := rawNotes(body)

	done := func(compressed string) researcherTransition {
		return researcherTransition{
			Next: nodeResDone,
			Update: state.ResearcherUpdate{
				ResetMessages:      reseed(system, body, instruction),
				CompressedResearch: state.Ptr(compressed),
				RawNotes:           []string{notes},
			},
		}
	}

	for attempt := 1; attempt <= maxCompressionAttempts; attempt++ {
		resp, err := e.compress.Invoke(ctx, reseed(system, body, instruction))
		if err == nil {
			metrics.CompressionAttempts.WithLabelValues("success").Inc()
			return done(resp.Content)
		}
		if !llm.IsContextLengthExceeded(err) {
			metrics.CompressionAttempts.WithLabelValues("error").Inc()
			e.logger.Warn("Compression failed", zap.Int("attempt", attempt), zap.Error(err))
			tracing.EndSpan(span, err)
			return done(compressionErrorSentinel(err))
		}
		metrics.CompressionAttempts.WithLabelValues("context_overflow").Inc()
		pruned := pruneLastAssistantTurn(body)
		e.logger.Info("Compression exceeded context window, pruning last assistant turn",
			zap.Int("attempt", attempt),
			zap.Int("messages_before", len(body)),
			zap.Int("messages_after", len(pruned)),
		)
		if len(pruned) == len(body) {
			break
		}
		body = pruned
	}
	return done(CompressionFailedSentinel)
}

// transcriptBody drops the leading system message of a worker thread
func transcriptBody(thread []state.Message) []state.Message {
	if len(thread) > 0 && thread[0].Role == state.RoleSystem {
		return thread[1:]
	}
	return thread
}

// reseed builds [system, body..., instruction] without aliasing body
func reseed(system state.Message, body []state.Message, instruction state.Message) []state.Message {
	out := make([]state.Message, 0, len(body)+2)
	out = append(out, system)
	out = append(out, body...)
	return append(out, instruction)
}

// pruneLastAssistantTurn removes the most recent assistant message and
// everything after it. A thread without assistant messages is returned as is.
func pruneLastAssistantTurn(body []state.Message) []state.Message {
	for i := len(body) - 1; i >= 0; i-- {
		if body[i].Role == state.RoleAssistant {
			return body[:i]
		}
	}
	return body
}

// rawNotes renders the non-empty contents of a transcript, one per line
func rawNotes(body []state.Message) string {
	parts := make([]string, 0, len(body))
	for _, m := range body {
		if m.Role != state.RoleTool && m.Role != state.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}
