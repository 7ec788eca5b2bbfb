// Package llmtest provides deterministic chat models for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
)

// ErrScriptExhausted is returned once every scripted step has been consumed
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Step is one scripted response
type Step struct {
	Message state.Message
	Err     error
}

// Reply scripts a plain assistant message
func Reply(content string) Step {
	return Step{Message: state.AssistantMessage(content)}
}

// Calls scripts an assistant message requesting tool calls
func Calls(calls ...state.ToolCall) Step {
	return Step{Message: state.Message{Role: state.RoleAssistant, ToolCalls: calls}}
}

// Fail scripts an error
func Fail(err error) Step {
	return Step{Err: err}
}

// Overflow scripts a context-window overflow
func Overflow() Step {
	return Step{Err: &llm.APIError{StatusCode: 400, Code: "context_length_exceeded", Message: "This model's maximum context length is 128000 tokens"}}
}

// Scripted replays steps in order and records every request
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	reqs  []llm.Request
}

// New returns a model that answers with steps, in order
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Generate implements llm.ChatModel
func (s *Scripted) Generate(_ context.Context, req llm.Request) (state.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, cloneRequest(req))
	if len(s.steps) == 0 {
		return state.Message{}, ErrScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.Message, step.Err
}

// Requests returns a copy of the recorded requests
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.reqs))
	copy(out, s.reqs)
	return out
}

// Remaining reports how many steps were not consumed
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func cloneRequest(req llm.Request) llm.Request {
	msgs := make([]state.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	return req
}
