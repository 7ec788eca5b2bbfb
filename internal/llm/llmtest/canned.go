package llmtest

import (
	"context"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tools"
)

// Canned completes a whole research session without network access: no
// clarification, one research unit that needs no searches, and report as the
// final report. A first message containing "?clarify" makes it ask question.
type Canned struct {
	Report   string
	Question string
}

// Generate implements llm.ChatModel by recognizing which stage is asking
func (c Canned) Generate(_ context.Context, req llm.Request) (state.Message, error) {
	if req.ResponseSchema != nil {
		switch req.ResponseSchema.Name {
		case "ClarifyWithUser":
			if c.Question != "" && strings.Contains(firstUser(req.Messages), "?clarify") && !strings.Contains(firstUser(req.Messages), c.Question) {
				return state.AssistantMessage(`{"need_clarification": true, "question": "` + c.Question + `", "verification": ""}`), nil
			}
			return state.AssistantMessage(`{"need_clarification": false, "question": "", "verification": "Starting research."}`), nil
		case "ResearchQuestion":
			return state.AssistantMessage(`{"research_brief": "Research the user's question."}`), nil
		}
	}
	for _, t := range req.Tools {
		if t.Name == tools.ConductResearchName {
			for _, m := range req.Messages {
				if m.Role == state.RoleAssistant {
					return state.Message{Role: state.RoleAssistant, ToolCalls: []state.ToolCall{{ID: "complete", Name: tools.ResearchCompleteName}}}, nil
				}
			}
			return state.Message{Role: state.RoleAssistant, ToolCalls: []state.ToolCall{{
				ID:   "unit-1",
				Name: tools.ConductResearchName,
				Args: map[string]interface{}{"research_topic": "the user's question"},
			}}}, nil
		}
	}
	if len(req.Tools) > 0 {
		return state.AssistantMessage("Nothing to search."), nil
	}
	if last, ok := state.LastMessage(req.Messages); ok && last.Content == prompts.CompressResearchHuman {
		return state.AssistantMessage("Compressed findings."), nil
	}
	return state.AssistantMessage(c.Report), nil
}

func firstUser(msgs []state.Message) string {
	for _, m := range msgs {
		if m.Role == state.RoleUser {
			return m.Content
		}
	}
	return ""
}
