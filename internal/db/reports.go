package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const insertReport = `
	INSERT INTO research_reports (
		id, session_id, user_id, status, research_brief, report, raw_notes, iterations, duration_ms, created_at
	) VALUES (
		:id, :session_id, :user_id, :status, :research_brief, :report, :raw_notes, :iterations, :duration_ms, :created_at
	)`

// SaveReport archives one finished session turn
func (c *Client) SaveReport(ctx context.Context, r *ReportRecord) error {
	if r == nil {
		return nil
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := c.db.NamedExecContext(ctx, insertReport, r)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	c.logger.Debug("Report archived", zap.String("session_id", r.SessionID), zap.String("status", r.Status))
	return nil
}

// LatestReport returns the most recent archived report for a session
func (c *Client) LatestReport(ctx context.Context, sessionID string) (*ReportRecord, error) {
	var r ReportRecord
	query := c.db.Rebind(`SELECT id, session_id, user_id, status, research_brief, report, raw_notes, iterations, duration_ms, created_at
		FROM research_reports WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`)
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.db.GetContext(ctx, &r, query, sessionID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	return &r, nil
}

// ListReports returns the newest reports first
func (c *Client) ListReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []ReportRecord
	query := c.db.Rebind(`SELECT id, session_id, user_id, status, research_brief, report, raw_notes, iterations, duration_ms, created_at
		FROM research_reports ORDER BY created_at DESC LIMIT ?`)
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.db.SelectContext(ctx, &out, query, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return out, nil
}
