package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/workflows"
)

// Manager tracks sessions across user turns so a clarification pause can be
// resumed by the next message on the same session id.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	// serializes Begin per process; the store is the source of truth
	mu sync.Mutex
}

// NewManager creates a manager over store
func NewManager(store Store, ttl time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Begin starts a turn: it loads (or creates) the session, appends the user
// message to its thread and marks it running. An empty sessionID creates a new session.
//
// turnID makes Begin idempotent for retried turns: a running session whose
// turn was started with the same non-empty turnID is handed back unchanged
// instead of reporting ErrSessionBusy.
func (m *Manager) Begin(ctx context.Context, sessionID, userID, message, turnID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sess, err := m.load(ctx, sessionID)
	switch {
	case err == nil:
		if sess.UserID != "" && userID != "" && sess.UserID != userID {
			// do not leak existence to other users
			m.logger.Warn("Session id reused by a different user",
				zap.String("session_id", sessionID),
				zap.String("requesting_user", userID),
			)
			return nil, ErrSessionNotFound
		}
		if sess.Status == StatusRunning {
			if turnID == "" || sess.TurnID != turnID {
				return nil, ErrSessionBusy
			}
			m.logger.Info("Resuming interrupted turn",
				zap.String("session_id", sessionID),
				zap.String("turn_id", turnID),
			)
			return m.resume(ctx, sess, message, now)
		}
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
		if sessionID == "" {
			sessionID = uuid.New().String()
		}
		sess = &Session{ID: sessionID, UserID: userID, CreatedAt: now}
		m.logger.Info("Created new session", zap.String("session_id", sessionID), zap.String("user_id", userID))
	default:
		return nil, err
	}

	sess.Thread = state.Append(sess.Thread, []state.Message{state.UserMessage(message)})
	sess.Status = StatusRunning
	sess.TurnID = turnID
	sess.Error = ""
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(m.ttl)
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// resume takes back a running turn. The thread already ends with the turn's
// user message unless the earlier attempt never saved it.
func (m *Manager) resume(ctx context.Context, sess *Session, message string, now time.Time) (*Session, error) {
	last, ok := state.LastMessage(sess.Thread)
	if !ok || last.Role != state.RoleUser || last.Content != message {
		sess.Thread = state.Append(sess.Thread, []state.Message{state.UserMessage(message)})
	}
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(m.ttl)
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Finish records the engine result and the thread it produced
func (m *Manager) Finish(ctx context.Context, sess *Session, res *workflows.Result) error {
	sess.Thread = res.State.Messages
	sess.ResearchBrief = res.State.ResearchBrief
	sess.Iterations = res.Iterations
	switch res.Status {
	case workflows.StatusClarification:
		sess.Status = StatusAwaitingClarification
	default:
		sess.Status = StatusCompleted
		sess.Report = res.Report
	}
	return m.touch(ctx, sess)
}

// Fail marks the turn as failed and drops its user message so the client can resubmit it
func (m *Manager) Fail(ctx context.Context, sess *Session, cause error) error {
	sess.Status = StatusFailed
	if cause != nil {
		sess.Error = cause.Error()
	}
	if n := len(sess.Thread); n > 0 && sess.Thread[n-1].Role == state.RoleUser {
		sess.Thread = sess.Thread[:n-1]
	}
	return m.touch(ctx, sess)
}

// Get returns a live session
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.load(ctx, sessionID)
}

// Delete removes a session
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

func (m *Manager) load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsExpired(m.now()) {
		if err := m.store.Delete(ctx, sessionID); err != nil {
			m.logger.Warn("Failed to delete expired session", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, ErrSessionExpired
	}
	return sess, nil
}

func (m *Manager) touch(ctx context.Context, sess *Session) error {
	now := m.now()
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(m.ttl)
	if err := m.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}
