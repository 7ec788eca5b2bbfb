package state

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDoesNotAlias(t *testing.T) {
	cur := make([]string, 1, 4)
	cur[0] = "a"

	out := Append(cur, []string{"b"})
	out2 := Append(cur, []string{"c"})

	assert.Equal(t, []string{"a", "b"}, out)
	assert.Equal(t, []string{"a", "c"}, out2)
	assert.Equal(t, []string{"a"}, cur)
}

func TestAppendEmptyUpdateKeepsCurrent(t *testing.T) {
	cur := []int{1, 2}
	assert.Equal(t, cur, Append(cur, nil))
	assert.Nil(t, Append[int](nil, nil))
}

func TestReplaceLatest(t *testing.T) {
	assert.Equal(t, 3, ReplaceLatest(3, nil))
	assert.Equal(t, 7, ReplaceLatest(3, Ptr(7)))
	assert.Equal(t, "", ReplaceLatest("brief", Ptr("")))
}

func TestReplaceThread(t *testing.T) {
	cur := []Message{UserMessage("old")}
	assert.Equal(t, cur, Replace(cur, nil))
	assert.Empty(t, Replace(cur, []Message{}))

	upd := []Message{SystemMessage("sys"), UserMessage("brief")}
	got := Replace(cur, upd)
	upd[0].Content = "mutated"
	assert.Equal(t, "sys", got[0].Content)
}

func TestSupervisorApplyReseedThenAppend(t *testing.T) {
	s := SupervisorState{
		Messages:       []Message{UserMessage("stale")},
		Notes:          []string{"n1"},
		IterationCount: 2,
	}

	s = s.Apply(SupervisorUpdate{
		ResetMessages:  []Message{SystemMessage("sys"), UserMessage("brief")},
		Messages:       []Message{AssistantMessage("thinking")},
		Notes:          []string{"n2"},
		RawNotes:       []string{"raw"},
		IterationCount: Ptr(3),
	})

	want := SupervisorState{
		Messages:       []Message{SystemMessage("sys"), UserMessage("brief"), AssistantMessage("thinking")},
		Notes:          []string{"n1", "n2"},
		RawNotes:       []string{"raw"},
		IterationCount: 3,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Fatalf("supervisor state mismatch (-want +got):\n%s", diff)
	}
}

func TestAgentApplyClearNotes(t *testing.T) {
	s := AgentState{Notes: []string{"a", "b"}, RawNotes: []string{"r"}}
	s = s.Apply(AgentUpdate{ClearNotes: true, FinalReport: Ptr("report"), Messages: []Message{AssistantMessage("report")}})

	assert.Empty(t, s.Notes)
	assert.Equal(t, []string{"r"}, s.RawNotes)
	assert.Equal(t, "report", s.FinalReport)
	require.Len(t, s.Messages, 1)
}

func TestResearcherApply(t *testing.T) {
	r := ResearcherState{Topic: "X", Messages: []Message{UserMessage("X")}}
	r = r.Apply(ResearcherUpdate{Messages: []Message{AssistantMessage("a")}, ToolCallIterations: Ptr(1)})
	r = r.Apply(ResearcherUpdate{CompressedResearch: Ptr("summary"), RawNotes: []string{"notes"}})

	assert.Equal(t, "X", r.Topic)
	assert.Len(t, r.Messages, 2)
	assert.Equal(t, 1, r.ToolCallIterations)
	assert.Equal(t, "summary", r.CompressedResearch)
	assert.Equal(t, []string{"notes"}, r.RawNotes)
}

func TestMessageValidate(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "web_search"}
	assert.NoError(t, ToolResult(call, "ok").Validate())
	assert.Error(t, Message{Role: RoleTool, Content: "x"}.Validate())
	assert.Error(t, Message{Role: RoleUser, ToolCalls: []ToolCall{call}}.Validate())
	assert.Error(t, Message{Role: "robot"}.Validate())
	assert.Error(t, Message{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "x"}}}.Validate())
}

func TestToolResultContentsAndBuffer(t *testing.T) {
	call := ToolCall{ID: "1", Name: "ConductResearch"}
	thread := []Message{
		UserMessage("question"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{call}},
		ToolResult(call, "finding"),
	}
	assert.Equal(t, []string{"finding"}, ToolResultContents(thread))
	assert.Equal(t, "Human: question\nAI: \nTool: finding", BufferString(thread))

	last, ok := LastMessage(thread)
	require.True(t, ok)
	assert.Equal(t, RoleTool, last.Role)
	_, ok = LastMessage(nil)
	assert.False(t, ok)
}
