package llmtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
)

func TestScriptedReplaysInOrder(t *testing.T) {
	m := New(Reply("one"), Overflow(), Calls(state.ToolCall{ID: "c1", Name: "think_tool"}))

	msg, err := m.Generate(context.Background(), llm.Request{Model: "a"})
	require.NoError(t, err)
	assert.Equal(t, "one", msg.Content)

	_, err = m.Generate(context.Background(), llm.Request{Model: "b"})
	assert.True(t, llm.IsContextLengthExceeded(err))

	msg, err = m.Generate(context.Background(), llm.Request{Model: "c"})
	require.NoError(t, err)
	assert.True(t, msg.HasToolCalls())

	_, err = m.Generate(context.Background(), llm.Request{})
	assert.True(t, errors.Is(err, ErrScriptExhausted))
	assert.Equal(t, 0, m.Remaining())
	require.Len(t, m.Requests(), 4)
	assert.Equal(t, "b", m.Requests()[1].Model)
}
