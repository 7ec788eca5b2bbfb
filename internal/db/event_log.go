package db

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/workflows"
)

const insertEvent = `
	INSERT INTO research_events (id, session_id, type, agent_id, message, timestamp)
	VALUES (:id, :session_id, :type, :agent_id, :message, :timestamp)`

// SaveEventLog inserts one research_events row
func (c *Client) SaveEventLog(ctx context.Context, e *EventLog) error {
	if e == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := c.db.NamedExecContext(ctx, insertEvent, e)
		return err
	})
}

// EventsForSession returns a session's events in emission order
func (c *Client) EventsForSession(ctx context.Context, sessionID string) ([]EventLog, error) {
	var out []EventLog
	query := c.db.Rebind(`SELECT id, session_id, type, agent_id, message, timestamp
		FROM research_events WHERE session_id = ? ORDER BY timestamp`)
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.db.SelectContext(ctx, &out, query, sessionID)
	})
	return out, err
}

// EventWriter persists engine events off the hot path. It implements
// workflows.Publisher; events are dropped when the queue is full.
type EventWriter struct {
	client *Client
	logger *zap.Logger
	queue  chan EventLog

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewEventWriter starts workers draining a queue of size buffer
func NewEventWriter(client *Client, buffer, workers int, logger *zap.Logger) *EventWriter {
	if buffer <= 0 {
		buffer = 1000
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &EventWriter{
		client: client,
		logger: logger,
		queue:  make(chan EventLog, buffer),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
	return w
}

// Publish enqueues evt without blocking
func (w *EventWriter) Publish(evt workflows.Event) {
	row := EventLog{
		SessionID: evt.SessionID,
		Type:      string(evt.Type),
		AgentID:   evt.AgentID,
		Message:   evt.Message,
		Timestamp: evt.Timestamp,
	}
	select {
	case <-w.stopCh:
		return
	default:
	}
	select {
	case w.queue <- row:
	default:
		w.logger.Warn("Event write queue full, dropping event",
			zap.String("session_id", evt.SessionID),
			zap.String("type", string(evt.Type)),
		)
	}
}

func (w *EventWriter) worker(id int) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			w.drain()
			w.logger.Debug("Event writer stopped", zap.Int("worker_id", id))
			return
		case row := <-w.queue:
			w.write(row)
		}
	}
}

func (w *EventWriter) drain() {
	for {
		select {
		case row := <-w.queue:
			w.write(row)
		default:
			return
		}
	}
}

func (w *EventWriter) write(row EventLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.SaveEventLog(ctx, &row); err != nil {
		w.logger.Error("Failed to persist event",
			zap.String("session_id", row.SessionID),
			zap.String("type", row.Type),
			zap.Error(err),
		)
	}
}

// Close stops the workers after writing everything already queued
func (w *EventWriter) Close() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}
