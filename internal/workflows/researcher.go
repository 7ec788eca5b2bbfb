package workflows

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

type researcherTransition = Transition[researcherNode, state.ResearcherUpdate]

// RunResearcher investigates one topic: act, execute tools, repeat until a
// guardrail or the completion signal, then compress. A model failure while
// acting yields an output with OK unset.
func (e *Engine) RunResearcher(ctx context.Context, sessionID, callID, topic string) ResearcherOutput {
	ctx, span := tracing.StartSpan(ctx, "deepresearch.researcher", attribute.String("researcher.call_id", callID))
	defer span.End()
	logger := e.logger.With(zap.String("session_id", sessionID), zap.String("call_id", callID))

	s := state.ResearcherState{
		Topic: topic,
		Messages: []state.Message{
			state.SystemMessage(prompts.Researcher(e.today(), e.cfg.MaxReactToolCalls)),
			state.UserMessage(topic),
		},
	}
	node := nodeActing
	for node != nodeResDone {
		var tr researcherTransition
		switch node {
		case nodeActing:
			resp, err := e.research.InvokeWithTools(ctx, s.Messages, e.registry.Specs())
			if err != nil {
				logger.Warn("Researcher model call failed", zap.Int("tool_call_iterations", s.ToolCallIterations), zap.Error(err))
				tracing.EndSpan(span, err)
				return ResearcherOutput{CallID: callID}
			}
			tr = researcherTransition{
				Next: nodeExecutingTools,
				Update: state.ResearcherUpdate{
					Messages:           []state.Message{resp},
					ToolCallIterations: state.Ptr(s.ToolCallIterations + 1),
				},
			}
		case nodeExecutingTools:
			tr = e.executeTools(ctx, sessionID, callID, s)
		case nodeCompressing:
			tr = e.compressResearch(ctx, s)
		default:
			tr = researcherTransition{Next: nodeResDone}
		}
		s = s.Apply(tr.Update)
		node = tr.Next
	}

	span.SetAttributes(attribute.Int("researcher.tool_call_iterations", s.ToolCallIterations))
	logger.Debug("Researcher finished",
		zap.Int("tool_call_iterations", s.ToolCallIterations),
		zap.Int("compressed_chars", len(s.CompressedResearch)),
	)
	return ResearcherOutput{
		CallID:             callID,
		CompressedResearch: s.CompressedResearch,
		RawNotes:           s.RawNotes,
		OK:                 true,
	}
}

func (e *Engine) executeTools(ctx context.Context, sessionID, callID string, s state.ResearcherState) researcherTransition {
	last, _ := state.LastMessage(s.Messages)
	if !last.HasToolCalls() {
		return researcherTransition{Next: nodeCompressing}
	}

	names := make([]string, 0, len(last.ToolCalls))
	completed := false
	for _, c := range last.ToolCalls {
		names = append(names, c.Name)
		if c.Name == tools.ResearchCompleteName {
			completed = true
		}
	}
	e.emit(sessionID, EventToolInvoked, callID, strings.Join(names, ","))

	results := e.registry.ExecuteAll(ctx, last.ToolCalls)
	next := nodeActing
	if s.ToolCallIterations >= e.cfg.MaxReactToolCalls || completed {
		next = nodeCompressing
	}
	return researcherTransition{Next: next, Update: state.ResearcherUpdate{Messages: results}}
}
