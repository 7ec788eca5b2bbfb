package state

import (
	"fmt"
	"strings"
)

// Role identifies the author of a message in a conversation thread
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a capability invocation requested by a model
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Message is a single entry of a conversation thread.
// Messages are values; stages never mutate a message after appending it.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// SystemMessage builds a system message
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message without tool calls
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResult builds the tool-result message answering call
func ToolResult(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// HasToolCalls reports whether the message requests any tool invocation
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Validate checks structural invariants of a message
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	case RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool result must reference a tool call id")
		}
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		return fmt.Errorf("only assistant messages may carry tool calls, got role %q", m.Role)
	}
	for _, tc := range m.ToolCalls {
		if tc.ID == "" || tc.Name == "" {
			return fmt.Errorf("tool call requires id and name")
		}
	}
	return nil
}

// LastMessage returns the final message of a thread
func LastMessage(thread []Message) (Message, bool) {
	if len(thread) == 0 {
		return Message{}, false
	}
	return thread[len(thread)-1], true
}

// ToolResultContents returns the content of every tool-result message, in thread order
func ToolResultContents(thread []Message) []string {
	out := make([]string, 0, len(thread))
	for _, m := range thread {
		if m.Role == RoleTool {
			out = append(out, m.Content)
		}
	}
	return out
}

// BufferString renders a thread as "Role: content" lines
func BufferString(thread []Message) string {
	var b strings.Builder
	for i, m := range thread {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func roleLabel(r Role) string {
	switch r {
	case RoleUser:
		return "Human"
	case RoleAssistant:
		return "AI"
	case RoleSystem:
		return "System"
	case RoleTool:
		return "Tool"
	default:
		return string(r)
	}
}
