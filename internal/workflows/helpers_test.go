package workflows

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/models"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tools"
)

const (
	stageClarify    = "ClarifyWithUser"
	stageBrief      = "ResearchQuestion"
	stageSupervisor = "supervisor"
	stageResearcher = "researcher"
	stageCompress   = "compress"
	stageReport     = "report"
)

type handler func(req llm.Request) (state.Message, error)

// fakeModel routes each request to a per-stage handler so concurrent workers
// can be scripted without relying on call order.
type fakeModel struct {
	handlers map[string]handler

	mu    sync.Mutex
	calls map[string][]llm.Request
}

func newFakeModel(handlers map[string]handler) *fakeModel {
	return &fakeModel{handlers: handlers, calls: make(map[string][]llm.Request)}
}

func (f *fakeModel) Generate(_ context.Context, req llm.Request) (state.Message, error) {
	stage := stageOf(req)
	f.mu.Lock()
	f.calls[stage] = append(f.calls[stage], req)
	f.mu.Unlock()
	if h, ok := f.handlers[stage]; ok {
		return h(req)
	}
	return defaultHandler(stage)(req)
}

func (f *fakeModel) requests(stage string) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls[stage]...)
}

func stageOf(req llm.Request) string {
	if req.ResponseSchema != nil {
		return req.ResponseSchema.Name
	}
	for _, t := range req.Tools {
		if t.Name == tools.ConductResearchName {
			return stageSupervisor
		}
	}
	if len(req.Tools) > 0 {
		return stageResearcher
	}
	if last, ok := state.LastMessage(req.Messages); ok && last.Content == prompts.CompressResearchHuman {
		return stageCompress
	}
	return stageReport
}

func defaultHandler(stage string) handler {
	switch stage {
	case stageClarify:
		return reply(`{"need_clarification": false, "question": "", "verification": "Starting research now."}`)
	case stageBrief:
		return reply(`{"research_brief": "Summarize X"}`)
	case stageSupervisor:
		return func(req llm.Request) (state.Message, error) {
			if countRole(req.Messages, state.RoleAssistant) == 0 {
				return toolCalls(conduct("call-1", "X")), nil
			}
			return toolCalls(state.ToolCall{ID: "done", Name: tools.ResearchCompleteName}), nil
		}
	case stageResearcher:
		return reply("No searches needed.")
	case stageCompress:
		return func(req llm.Request) (state.Message, error) {
			return state.AssistantMessage("compressed: " + topicOf(req)), nil
		}
	default:
		return reply("final report")
	}
}

func reply(content string) handler {
	return func(llm.Request) (state.Message, error) { return state.AssistantMessage(content), nil }
}

func toolCalls(calls ...state.ToolCall) state.Message {
	return state.Message{Role: state.RoleAssistant, ToolCalls: calls}
}

func conduct(id, topic string) state.ToolCall {
	return state.ToolCall{ID: id, Name: tools.ConductResearchName, Args: map[string]interface{}{"research_topic": topic}}
}

func think(id string) state.ToolCall {
	return state.ToolCall{ID: id, Name: tools.ThinkToolName, Args: map[string]interface{}{"reflection": "keep going"}}
}

// topicOf returns the researcher topic: the first user message of a worker thread
func topicOf(req llm.Request) string {
	for _, m := range req.Messages {
		if m.Role == state.RoleUser {
			return m.Content
		}
	}
	return ""
}

func countRole(msgs []state.Message, role state.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

// findingsOf extracts the findings block from a report prompt
func findingsOf(t *testing.T, req llm.Request) string {
	t.Helper()
	require.Len(t, req.Messages, 1)
	content := req.Messages[0].Content
	start := strings.Index(content, "<Findings>\n")
	end := strings.Index(content, "\n</Findings>")
	require.True(t, start >= 0 && end >= start, "report prompt carries a findings block")
	return content[start+len("<Findings>\n") : end]
}

func overflowErr() error {
	return &llm.APIError{StatusCode: 400, Code: "context_length_exceeded", Message: "maximum context length exceeded"}
}

func testConfig() config.ResearchConfig {
	cfg := config.Default().Research
	m := config.ModelConfig{Name: "test-model", MaxTokens: 1000}
	cfg.Models = config.StageModels{Research: m, Summarization: m, Compression: m, FinalReport: m}
	cfg.MaxConcurrentResearchUnits = 3
	cfg.MaxResearcherIterations = 4
	cfg.MaxReactToolCalls = 3
	cfg.MaxStructuredOutputRetries = 2
	return cfg
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestEngine(t *testing.T, cfg config.ResearchConfig, model llm.ChatModel, events *eventLog) *Engine {
	t.Helper()
	catalog, err := models.Parse([]byte("token_limits:\n  test-model: 10\n"))
	require.NoError(t, err)
	deps := Deps{
		Model:   model,
		Catalog: catalog,
		Logger:  zaptest.NewLogger(t),
		Now:     func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) },
	}
	if events != nil {
		deps.Publisher = events
	}
	e, err := NewEngine(cfg, deps)
	require.NoError(t, err)
	return e
}
