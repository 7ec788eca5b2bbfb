package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList is a JSON-encoded text column
type StringList []string

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// ReportRecord is an archived research session outcome
type ReportRecord struct {
	ID            string     `db:"id" json:"id"`
	SessionID     string     `db:"session_id" json:"session_id"`
	UserID        string     `db:"user_id" json:"user_id,omitempty"`
	Status        string     `db:"status" json:"status"`
	ResearchBrief string     `db:"research_brief" json:"research_brief"`
	Report        string     `db:"report" json:"report"`
	RawNotes      StringList `db:"raw_notes" json:"raw_notes,omitempty"`
	Iterations    int        `db:"iterations" json:"iterations"`
	DurationMs    int64      `db:"duration_ms" json:"duration_ms"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// EventLog is a persisted engine event row
type EventLog struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Type      string    `db:"type"`
	AgentID   string    `db:"agent_id"`
	Message   string    `db:"message"`
	Timestamp time.Time `db:"timestamp"`
}
