package session

import (
	"errors"
	"time"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionBusy is returned when a turn arrives while the session is still researching
	ErrSessionBusy = errors.New("session is already running")
)

// Status is the lifecycle position of a session between user turns
type Status string

const (
	StatusRunning               Status = "running"
	StatusAwaitingClarification Status = "awaiting_clarification"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
)

// Session is the persisted conversation of one research session
type Session struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id,omitempty"`
	Status        Status          `json:"status"`
	// TurnID identifies the caller that started the current turn
	TurnID        string          `json:"turn_id,omitempty"`
	Thread        []state.Message `json:"thread"`
	ResearchBrief string          `json:"research_brief,omitempty"`
	Report        string          `json:"report,omitempty"`
	Error         string          `json:"error,omitempty"`
	Iterations    int             `json:"iterations"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// IsExpired checks if the session has expired at now
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Question returns the pending clarifying question, if any
func (s *Session) Question() string {
	if s.Status != StatusAwaitingClarification {
		return ""
	}
	last, _ := state.LastMessage(s.Thread)
	return last.Content
}
