package workflows

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

// ClarifyDecision is the structured output of the clarification step
type ClarifyDecision struct {
	NeedClarification bool   `json:"need_clarification"`
	Question          string `json:"question"`
	Verification      string `json:"verification"`
}

func (d ClarifyDecision) Validate() error {
	if d.NeedClarification && strings.TrimSpace(d.Question) == "" {
		return errors.New("need_clarification is set but question is empty")
	}
	return nil
}

// ResearchQuestion is the structured output of the brief step
type ResearchQuestion struct {
	ResearchBrief string `json:"research_brief"`
}

func (q ResearchQuestion) Validate() error {
	if strings.TrimSpace(q.ResearchBrief) == "" {
		return errors.New("research_brief is empty")
	}
	return nil
}

var (
	clarifySchema = llm.Schema{
		Name: "ClarifyWithUser",
		Definition: llm.ObjectSchema(
			map[string]string{"need_clarification": "boolean", "question": "string", "verification": "string"},
			map[string]string{
				"need_clarification": "Whether the user needs to be asked a clarifying question.",
				"question":           "A question to ask the user to clarify the report scope",
				"verification":       "Verify message that we will start research after the user has provided the necessary information.",
			},
		),
	}
	briefSchema = llm.Schema{
		Name: "ResearchQuestion",
		Definition: llm.ObjectSchema(
			map[string]string{"research_brief": "string"},
			map[string]string{"research_brief": "A research question that will be used to guide the research."},
		),
	}
)

// clarify either pauses the session with a question or acknowledges and moves on to the brief
func (e *Engine) clarify(ctx context.Context, sessionID string, s state.AgentState) (Transition[agentNode, state.AgentUpdate], error) {
	if !e.cfg.AllowClarification {
		return Transition[agentNode, state.AgentUpdate]{Next: nodeBrief}, nil
	}
	ctx, span := tracing.StartSpan(ctx, "deepresearch.clarify")
	prompt := prompts.ClarifyWithUser(state.BufferString(s.Messages), e.today())
	decision, err := llm.InvokeStructured[ClarifyDecision](ctx, e.research, []state.Message{state.UserMessage(prompt)}, clarifySchema)
	tracing.EndSpan(span, err)
	if err != nil {
		return Transition[agentNode, state.AgentUpdate]{}, err
	}

	if decision.NeedClarification {
		e.logger.Info("Asking user for clarification", zap.String("session_id", sessionID))
		e.emit(sessionID, EventClarification, "", decision.Question)
		return Transition[agentNode, state.AgentUpdate]{
			Next:   nodeEnd,
			Update: state.AgentUpdate{Messages: []state.Message{state.AssistantMessage(decision.Question)}},
		}, nil
	}
	return Transition[agentNode, state.AgentUpdate]{
		Next:   nodeBrief,
		Update: state.AgentUpdate{Messages: []state.Message{state.AssistantMessage(decision.Verification)}},
	}, nil
}

// writeBrief turns the conversation into the research brief and seeds the supervisor thread
func (e *Engine) writeBrief(ctx context.Context, sessionID string, s state.AgentState) (Transition[agentNode, state.AgentUpdate], error) {
	ctx, span := tracing.StartSpan(ctx, "deepresearch.brief")
	prompt := prompts.ResearchBrief(state.BufferString(s.Messages), e.today())
	q, err := llm.InvokeStructured[ResearchQuestion](ctx, e.research, []state.Message{state.UserMessage(prompt)}, briefSchema)
	tracing.EndSpan(span, err)
	if err != nil {
		return Transition[agentNode, state.AgentUpdate]{}, err
	}

	e.logger.Info("Research brief written", zap.String("session_id", sessionID), zap.Int("brief_chars", len(q.ResearchBrief)))
	e.emit(sessionID, EventBriefReady, "", q.ResearchBrief)

	supervisorSystem := prompts.LeadResearcher(e.today(), e.cfg.MaxConcurrentResearchUnits, e.cfg.MaxResearcherIterations)
	return Transition[agentNode, state.AgentUpdate]{
		Next: nodeSupervisor,
		Update: state.AgentUpdate{
			ResearchBrief: state.Ptr(q.ResearchBrief),
			SupervisorMessages: []state.Message{
				state.SystemMessage(supervisorSystem),
				state.UserMessage(q.ResearchBrief),
			},
		},
	}, nil
}
