package workflows

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tools"
)

type stubSearch struct{ calls atomic.Int32 }

func (s *stubSearch) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: "tavily_search", Description: "search", Parameters: map[string]interface{}{"type": "object"}}
}

func (s *stubSearch) Invoke(_ context.Context, args map[string]interface{}) (string, error) {
	s.calls.Add(1)
	return "Search results: X is a letter", nil
}

func TestResearcherWithoutToolCallsCompressesDirectly(t *testing.T) {
	model := newFakeModel(nil)
	e := newTestEngine(t, testConfig(), model, nil)

	out := e.RunResearcher(context.Background(), "s-1", "call-1", "X")

	require.True(t, out.OK)
	assert.Equal(t, "call-1", out.CallID)
	assert.Equal(t, "compressed: X", out.CompressedResearch)
	assert.Equal(t, []string{"No searches needed."}, out.RawNotes)

	compress := model.requests(stageCompress)
	require.Len(t, compress, 1)
	want := []state.Message{
		state.SystemMessage(prompts.CompressResearchSystem("Fri Mar 14, 2025")),
		state.UserMessage("X"),
		state.AssistantMessage("No searches needed."),
		state.UserMessage(prompts.CompressResearchHuman),
	}
	if diff := cmp.Diff(want, compress[0].Messages); diff != "" {
		t.Errorf("compression request mismatch (-want +got):\n%s", diff)
	}
}

func TestResearcherStopsAtToolCallCap(t *testing.T) {
	var n atomic.Int32
	model := newFakeModel(map[string]handler{
		stageResearcher: func(llm.Request) (state.Message, error) {
			return toolCalls(think(string(rune('a' + n.Add(1))))), nil
		},
	})
	e := newTestEngine(t, testConfig(), model, nil)

	out := e.RunResearcher(context.Background(), "s-1", "call-1", "X")

	require.True(t, out.OK)
	assert.Len(t, model.requests(stageResearcher), 3)
	compress := model.requests(stageCompress)
	require.Len(t, compress, 1)
	assert.Equal(t, 3, countRole(compress[0].Messages, state.RoleTool))
}

func TestResearcherCompletionSignalEndsLoop(t *testing.T) {
	search := &stubSearch{}
	model := newFakeModel(map[string]handler{
		stageResearcher: func(llm.Request) (state.Message, error) {
			return toolCalls(
				state.ToolCall{ID: "s1", Name: "tavily_search", Args: map[string]interface{}{"queries": []interface{}{"x"}}},
				state.ToolCall{ID: "r1", Name: tools.ResearchCompleteName},
			), nil
		},
	})
	e, err := NewEngine(testConfig(), Deps{
		Model:  model,
		Tools:  []tools.Tool{search},
		Logger: zaptest.NewLogger(t),
		Now:    func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	out := e.RunResearcher(context.Background(), "s-1", "call-1", "X")

	require.True(t, out.OK)
	assert.Len(t, model.requests(stageResearcher), 1)
	assert.EqualValues(t, 1, search.calls.Load())

	specs := model.requests(stageResearcher)[0].Tools
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{tools.ResearchCompleteName, tools.ThinkToolName, "tavily_search"}, names)

	require.Len(t, out.RawNotes, 1)
	assert.Contains(t, out.RawNotes[0], "Search results: X is a letter")
	assert.Contains(t, out.RawNotes[0], tools.ResearchCompleteAck)
}

func TestResearcherModelFailure(t *testing.T) {
	model := newFakeModel(map[string]handler{
		stageResearcher: func(llm.Request) (state.Message, error) {
			return state.Message{}, errors.New("boom")
		},
	})
	e := newTestEngine(t, testConfig(), model, nil)

	out := e.RunResearcher(context.Background(), "s-1", "call-1", "X")
	assert.False(t, out.OK)
	assert.Empty(t, out.CompressedResearch)
	assert.Empty(t, model.requests(stageCompress))
}

func researchThread() state.ResearcherState {
	return state.ResearcherState{
		Topic: "X",
		Messages: []state.Message{
			state.SystemMessage("researcher"),
			state.UserMessage("X"),
			toolCalls(think("a1")),
			state.ToolResult(think("a1"), "r1"),
			toolCalls(think("a2")),
			state.ToolResult(think("a2"), "r2"),
			state.AssistantMessage("final thoughts"),
		},
		ToolCallIterations: 3,
	}
}

func TestCompressionPrunesOnOverflow(t *testing.T) {
	var n atomic.Int32
	model := newFakeModel(map[string]handler{
		stageCompress: func(llm.Request) (state.Message, error) {
			if n.Add(1) < 3 {
				return state.Message{}, overflowErr()
			}
			return state.AssistantMessage("synthesized"), nil
		},
	})
	e := newTestEngine(t, testConfig(), model, nil)

	tr := e.compressResearch(context.Background(), researchThread())

	assert.Equal(t, nodeResDone, tr.Next)
	require.NotNil(t, tr.Update.CompressedResearch)
	assert.Equal(t, "synthesized", *tr.Update.CompressedResearch)

	reqs := model.requests(stageCompress)
	require.Len(t, reqs, 3)
	// system + body + instruction; each overflow drops the latest assistant turn
	assert.Len(t, reqs[0].Messages, 8)
	assert.Len(t, reqs[1].Messages, 7)
	assert.Len(t, reqs[2].Messages, 5)
	for _, r := range reqs {
		last, _ := state.LastMessage(r.Messages)
		assert.Equal(t, prompts.CompressResearchHuman, last.Content)
	}
	// raw notes cover every tool result and assistant reply, pruned or not
	assert.Equal(t, []string{"r1\nr2\nfinal thoughts"}, tr.Update.RawNotes)
}

func TestCompressionNeverFails(t *testing.T) {
	tests := []struct {
		name    string
		handler handler
		thread  state.ResearcherState
		want    string
		calls   int
	}{
		{
			name:    "non-context error aborts immediately",
			handler: func(llm.Request) (state.Message, error) { return state.Message{}, errors.New("rate limited") },
			thread:  researchThread(),
			want:    compressionErrorSentinel(errors.New("rate limited")),
			calls:   1,
		},
		{
			name:    "overflow on every attempt",
			handler: func(llm.Request) (state.Message, error) { return state.Message{}, overflowErr() },
			thread:  researchThread(),
			want:    CompressionFailedSentinel,
			calls:   3,
		},
		{
			name:    "overflow with nothing left to prune",
			handler: func(llm.Request) (state.Message, error) { return state.Message{}, overflowErr() },
			thread: state.ResearcherState{Messages: []state.Message{
				state.SystemMessage("researcher"),
				state.UserMessage("X"),
			}},
			want:  CompressionFailedSentinel,
			calls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := newFakeModel(map[string]handler{stageCompress: tt.handler})
			e := newTestEngine(t, testConfig(), model, nil)

			tr := e.compressResearch(context.Background(), tt.thread)

			assert.Equal(t, nodeResDone, tr.Next)
			require.NotNil(t, tr.Update.CompressedResearch)
			assert.Equal(t, tt.want, *tr.Update.CompressedResearch)
			assert.Len(t, model.requests(stageCompress), tt.calls)
			assert.Len(t, tr.Update.RawNotes, 1)
		})
	}
}

func TestPruneLastAssistantTurn(t *testing.T) {
	body := researchThread().Messages[1:]
	assert.Len(t, pruneLastAssistantTurn(body), 5)
	assert.Len(t, pruneLastAssistantTurn(body[:5]), 3)
	assert.Len(t, pruneLastAssistantTurn(body[:1]), 1)
}
