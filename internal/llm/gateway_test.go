package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
)

type decision struct {
	NeedClarification bool   `json:"need_clarification"`
	Question          string `json:"question"`
	Verification      string `json:"verification"`
}

func (d decision) Validate() error {
	if d.NeedClarification && d.Question == "" {
		return errors.New("question required")
	}
	return nil
}

func replies(contents ...string) (ChatModel, *atomic.Int32) {
	var n atomic.Int32
	return ChatModelFunc(func(ctx context.Context, req Request) (state.Message, error) {
		i := int(n.Add(1)) - 1
		if i >= len(contents) {
			return state.Message{}, errors.New("no more replies")
		}
		return state.AssistantMessage(contents[i]), nil
	}), &n
}

func TestInvokeStructuredRetriesUntilValid(t *testing.T) {
	model, calls := replies(
		"not json at all",
		`{"need_clarification": true, "question": ""}`,
		"```json\n{\"need_clarification\": false, \"verification\": \"On it.\"}\n```",
	)
	g := NewGateway(model, config.ModelConfig{Name: "gpt-4.1"}, 3, zaptest.NewLogger(t))

	out, err := InvokeStructured[decision](context.Background(), g, []state.Message{state.UserMessage("hi")}, Schema{Name: "clarify"})
	require.NoError(t, err)
	assert.False(t, out.NeedClarification)
	assert.Equal(t, "On it.", out.Verification)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvokeStructuredExhaustion(t *testing.T) {
	model, calls := replies("nope", "still nope", "never")
	g := NewGateway(model, config.ModelConfig{Name: "gpt-4.1"}, 2, zaptest.NewLogger(t))

	_, err := InvokeStructured[decision](context.Background(), g, nil, Schema{Name: "clarify"})
	require.Error(t, err)

	var so *StructuredOutputError
	require.ErrorAs(t, err, &so)
	assert.Equal(t, 2, so.Attempts)
	assert.Equal(t, "clarify", so.Schema)
	assert.True(t, IsStructuredOutputError(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokeStructuredModelErrorsCountAsAttempts(t *testing.T) {
	var n atomic.Int32
	model := ChatModelFunc(func(ctx context.Context, req Request) (state.Message, error) {
		n.Add(1)
		require.NotNil(t, req.ResponseSchema)
		return state.Message{}, errors.New("upstream 503")
	})
	g := NewGateway(model, config.ModelConfig{Name: "m"}, 3, zaptest.NewLogger(t))

	_, err := InvokeStructured[decision](context.Background(), g, nil, Schema{Name: "brief"})
	assert.True(t, IsStructuredOutputError(err))
	assert.ErrorContains(t, err, "upstream 503")
	assert.Equal(t, int32(3), n.Load())
}

func TestGatewayBindsModelAndTools(t *testing.T) {
	var seen Request
	model := ChatModelFunc(func(ctx context.Context, req Request) (state.Message, error) {
		seen = req
		return state.Message{Content: "ok"}, nil
	})
	g := NewGateway(model, config.ModelConfig{Name: "gpt-4.1", MaxTokens: 1234}, 0, nil)

	msg, err := g.InvokeWithTools(context.Background(), []state.Message{state.UserMessage("q")}, []ToolSpec{{Name: "think_tool"}})
	require.NoError(t, err)
	assert.Equal(t, state.RoleAssistant, msg.Role, "empty role defaults to assistant")
	assert.Equal(t, "gpt-4.1", seen.Model)
	assert.Equal(t, 1234, seen.MaxTokens)
	require.Len(t, seen.Tools, 1)
	assert.Nil(t, seen.ResponseSchema)
}

func TestExtractJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                       `{"a":1}`,
		"```json\n{\"a\":1}\n```":       `{"a":1}`,
		"Sure! Here it is: {\"a\":1} .": `{"a":1}`,
		"":                              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, extractJSON(in), in)
	}
}

func TestContextLengthClassification(t *testing.T) {
	assert.True(t, IsContextLengthExceeded(ErrContextLengthExceeded))
	assert.True(t, IsContextLengthExceeded(fmt.Errorf("compress: %w", ErrContextLengthExceeded)))
	assert.True(t, IsContextLengthExceeded(&APIError{StatusCode: 400, Code: "context_length_exceeded"}))
	assert.True(t, IsContextLengthExceeded(errors.New("prompt is too long: 210000 tokens > 200000 maximum")))
	assert.True(t, IsContextLengthExceeded(errors.New("This model's maximum context length is 8192 tokens")))

	assert.False(t, IsContextLengthExceeded(nil))
	assert.False(t, IsContextLengthExceeded(errors.New("connection refused")))
	assert.False(t, IsContextLengthExceeded(&APIError{StatusCode: 401, Message: "invalid api key"}))
}
