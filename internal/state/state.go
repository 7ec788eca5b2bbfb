package state

// AgentState is the session-level state: the user-visible thread plus
// everything the supervisor hands back for report synthesis.
type AgentState struct {
	Messages           []Message `json:"messages"`
	ResearchBrief      string    `json:"research_brief"`
	SupervisorMessages []Message `json:"supervisor_messages"`
	Notes              []string  `json:"notes"`
	RawNotes           []string  `json:"raw_notes"`
	FinalReport        string    `json:"final_report"`
}

// AgentUpdate is a partial update to AgentState
type AgentUpdate struct {
	Messages           []Message
	ResearchBrief      *string
	SupervisorMessages []Message // replaces the supervisor thread when non-nil
	Notes              []string
	ClearNotes         bool
	RawNotes           []string
	FinalReport        *string
}

// Apply folds u into s and returns the new state
func (s AgentState) Apply(u AgentUpdate) AgentState {
	s.Messages = Append(s.Messages, u.Messages)
	s.ResearchBrief = ReplaceLatest(s.ResearchBrief, u.ResearchBrief)
	s.SupervisorMessages = Replace(s.SupervisorMessages, u.SupervisorMessages)
	if u.ClearNotes {
		s.Notes = nil
	}
	s.Notes = Append(s.Notes, u.Notes)
	s.RawNotes = Append(s.RawNotes, u.RawNotes)
	s.FinalReport = ReplaceLatest(s.FinalReport, u.FinalReport)
	return s
}

// SupervisorState is owned by the supervisor loop
type SupervisorState struct {
	Messages       []Message `json:"messages"`
	ResearchBrief  string    `json:"research_brief"`
	Notes          []string  `json:"notes"`
	RawNotes       []string  `json:"raw_notes"`
	IterationCount int       `json:"iteration_count"`
}

// SupervisorUpdate is a partial update to SupervisorState.
// ResetMessages is applied before Messages so a reseed can be followed by appends.
type SupervisorUpdate struct {
	ResetMessages  []Message
	Messages       []Message
	ResearchBrief  *string
	Notes          []string
	RawNotes       []string
	IterationCount *int
}

// Apply folds u into s and returns the new state
func (s SupervisorState) Apply(u SupervisorUpdate) SupervisorState {
	s.Messages = Append(Replace(s.Messages, u.ResetMessages), u.Messages)
	s.ResearchBrief = ReplaceLatest(s.ResearchBrief, u.ResearchBrief)
	s.Notes = Append(s.Notes, u.Notes)
	s.RawNotes = Append(s.RawNotes, u.RawNotes)
	s.IterationCount = ReplaceLatest(s.IterationCount, u.IterationCount)
	return s
}

// ResearcherState is owned by exactly one researcher worker
type ResearcherState struct {
	Messages           []Message `json:"messages"`
	Topic              string    `json:"topic"`
	ToolCallIterations int       `json:"tool_call_iterations"`
	CompressedResearch string    `json:"compressed_research"`
	RawNotes           []string  `json:"raw_notes"`
}

// ResearcherUpdate is a partial update to ResearcherState
type ResearcherUpdate struct {
	ResetMessages      []Message
	Messages           []Message
	ToolCallIterations *int
	CompressedResearch *string
	RawNotes           []string
}

// Apply folds u into s and returns the new state
func (s ResearcherState) Apply(u ResearcherUpdate) ResearcherState {
	s.Messages = Append(Replace(s.Messages, u.ResetMessages), u.Messages)
	s.ToolCallIterations = ReplaceLatest(s.ToolCallIterations, u.ToolCallIterations)
	s.CompressedResearch = ReplaceLatest(s.CompressedResearch, u.CompressedResearch)
	s.RawNotes = Append(s.RawNotes, u.RawNotes)
	return s
}
