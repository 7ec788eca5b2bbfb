package workflows

import (
	"time"
)

// EventType names a progress event emitted while a session runs
type EventType string

const (
	EventWorkflowStarted    EventType = "WORKFLOW_STARTED"
	EventWorkflowCompleted  EventType = "WORKFLOW_COMPLETED"
	EventClarification      EventType = "CLARIFICATION_REQUESTED"
	EventBriefReady         EventType = "BRIEF_READY"
	EventSupervisorThinking EventType = "AGENT_THINKING"
	EventAgentStarted       EventType = "AGENT_STARTED"
	EventAgentCompleted     EventType = "AGENT_COMPLETED"
	EventToolInvoked        EventType = "TOOL_INVOKED"
	EventOverflow           EventType = "RESEARCH_OVERFLOW"
	EventErrorRecovery      EventType = "ERROR_RECOVERY"
	EventReportReady        EventType = "REPORT_READY"
)

// Event is a progress notification for observers of a session
type Event struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher receives engine events. Implementations must not block.
type Publisher interface {
	Publish(evt Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(evt Event)

func (f PublisherFunc) Publish(evt Event) { f(evt) }

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

func (e *Engine) emit(sessionID string, typ EventType, agentID, msg string) {
	e.publisher.Publish(Event{
		SessionID: sessionID,
		Type:      typ,
		AgentID:   agentID,
		Message:   msg,
		Timestamp: e.now(),
	})
}

// Publishers fans an event out to every non-nil publisher in order
type Publishers []Publisher

func (ps Publishers) Publish(evt Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(evt)
		}
	}
}
