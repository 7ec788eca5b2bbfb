package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/db"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/session"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/workflows"
)

// ErrEmptyMessage is returned for a turn without user text
var ErrEmptyMessage = errors.New("message is required")

// Archive stores finished turns; *db.Client implements it
type Archive interface {
	SaveReport(ctx context.Context, r *db.ReportRecord) error
	LatestReport(ctx context.Context, sessionID string) (*db.ReportRecord, error)
}

// Request is one user turn
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"-"`
	Message   string `json:"message"`
	// TurnID lets a retried delivery of the same turn resume a session it left running
	TurnID    string `json:"-"`
}

// Response is the outcome of a turn
type Response struct {
	SessionID  string         `json:"session_id"`
	Status     session.Status `json:"status"`
	Question   string         `json:"question,omitempty"`
	Report     string         `json:"report,omitempty"`
	Iterations int            `json:"iterations"`
	DurationMs int64          `json:"duration_ms"`
}

// Options wires a Service
type Options struct {
	Sessions *session.Manager
	// Snapshot returns the research configuration for a new turn; each turn
	// builds its engine from one snapshot so reloads never affect running sessions.
	Snapshot func() config.ResearchConfig
	Deps     workflows.Deps
	Archive  Archive // optional
	Logger   *zap.Logger
}

// Service runs research turns against persisted sessions
type Service struct {
	sessions *session.Manager
	snapshot func() config.ResearchConfig
	deps     workflows.Deps
	archive  Archive
	logger   *zap.Logger

	wg sync.WaitGroup
}

func NewService(opts Options) (*Service, error) {
	if opts.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if opts.Snapshot == nil {
		return nil, errors.New("config snapshot is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Deps.Logger == nil {
		opts.Deps.Logger = logger
	}
	return &Service{
		sessions: opts.Sessions,
		snapshot: opts.Snapshot,
		deps:     opts.Deps,
		archive:  opts.Archive,
		logger:   logger,
	}, nil
}

// Research runs one turn to completion
func (s *Service) Research(ctx context.Context, req Request) (*Response, error) {
	sess, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, sess, req.UserID)
}

// Start begins a turn and runs it in the background. The returned response
// only carries the session id and running status.
func (s *Service) Start(ctx context.Context, req Request) (*Response, error) {
	sess, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// detached from the request; the session outlives the HTTP call
		if _, err := s.run(context.WithoutCancel(ctx), sess, req.UserID); err != nil {
			s.logger.Warn("Background research turn failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}()
	return &Response{SessionID: sess.ID, Status: session.StatusRunning}, nil
}

// Wait blocks until background turns finish
func (s *Service) Wait() { s.wg.Wait() }

// Session returns a session by id
func (s *Service) Session(ctx context.Context, id string) (*session.Session, error) {
	return s.sessions.Get(ctx, id)
}

// Report returns the latest report for a session, from the archive when configured
func (s *Service) Report(ctx context.Context, id string) (*db.ReportRecord, error) {
	if s.archive != nil {
		rec, err := s.archive.LatestReport(ctx, id)
		if err == nil || !errors.Is(err, db.ErrNotFound) {
			return rec, err
		}
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusCompleted {
		return nil, db.ErrNotFound
	}
	return &db.ReportRecord{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		Status:        string(sess.Status),
		ResearchBrief: sess.ResearchBrief,
		Report:        sess.Report,
		Iterations:    sess.Iterations,
		CreatedAt:     sess.UpdatedAt,
	}, nil
}

func (s *Service) begin(ctx context.Context, req Request) (*session.Session, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	return s.sessions.Begin(ctx, req.SessionID, req.UserID, req.Message, req.TurnID)
}

func (s *Service) run(ctx context.Context, sess *session.Session, userID string) (*Response, error) {
	logger := s.logger.With(zap.String("session_id", sess.ID))
	engine, err := workflows.NewEngine(s.snapshot(), s.deps)
	if err != nil {
		s.fail(ctx, sess, err)
		return nil, fmt.Errorf("build engine: %w", err)
	}

	res, err := engine.Run(ctx, sess.ID, sess.Thread)
	if err != nil {
		s.fail(ctx, sess, err)
		return nil, err
	}
	if err := s.sessions.Finish(ctx, sess, res); err != nil {
		logger.Error("Failed to persist session", zap.Error(err))
		return nil, err
	}

	resp := &Response{
		SessionID:  sess.ID,
		Status:     sess.Status,
		Question:   res.Question,
		Report:     res.Report,
		Iterations: res.Iterations,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Status == workflows.StatusCompleted && s.archive != nil {
		rec := &db.ReportRecord{
			SessionID:     sess.ID,
			UserID:        userID,
			Status:        string(session.StatusCompleted),
			ResearchBrief: res.State.ResearchBrief,
			Report:        res.Report,
			RawNotes:      res.State.RawNotes,
			Iterations:    res.Iterations,
			DurationMs:    res.Duration.Milliseconds(),
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.archive.SaveReport(ctx, rec); err != nil {
			// the session already holds the report
			logger.Warn("Failed to archive report", zap.Error(err))
		}
	}
	return resp, nil
}

func (s *Service) fail(ctx context.Context, sess *session.Session, cause error) {
	if err := s.sessions.Fail(context.WithoutCancel(ctx), sess, cause); err != nil {
		s.logger.Error("Failed to mark session failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}
