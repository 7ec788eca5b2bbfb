package streaming

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/workflows"
)

const DefaultCapacity = 256

// Event is an engine event stamped with a per-session sequence number
type Event struct {
	workflows.Event
	Seq uint64 `json:"seq"`
}

// Marshal returns JSON for SSE and WebSocket payloads
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager is an in-memory pub/sub of session events. It implements
// workflows.Publisher so an engine can publish into it directly.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-session ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
	logger   *zap.Logger
}

// NewManager creates a manager keeping up to capacity events per session
func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
}

// Subscribe adds a subscriber channel for sessionID; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[sessionID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, sessionID)
		}
	}
}

// Publish records evt and fans it out to the session's subscribers without blocking.
func (m *Manager) Publish(evt workflows.Event) {
	m.mu.Lock()
	rg := m.history[evt.SessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.SessionID] = rg
	}
	out := Event{Event: evt, Seq: rg.nextSeq + 1}
	rg.push(out)
	// deliver under the lock so Unsubscribe cannot close a channel mid-send
	for ch := range m.subscribers[evt.SessionID] {
		select {
		case ch <- out:
		default:
			m.logger.Debug("Dropping event for slow subscriber",
				zap.String("session_id", evt.SessionID),
				zap.String("type", string(evt.Type)),
				zap.Uint64("seq", out.Seq),
			)
		}
	}
	m.mu.Unlock()
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[sessionID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the replay history of a finished session
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.history, sessionID)
	m.mu.Unlock()
}

// ring keeps the last len(buf) events of a session. Sequence numbers are
// contiguous, so event n lives at buf[(n-1) % len(buf)].
type ring struct {
	buf     []Event
	nextSeq uint64 // seq of the newest event, 0 when empty
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

// push stores e, which must carry the next sequence number
func (r *ring) push(e Event) {
	r.nextSeq = e.Seq
	if len(r.buf) > 0 {
		r.buf[(e.Seq-1)%uint64(len(r.buf))] = e
	}
}

func (r *ring) since(seq uint64) []Event {
	size := uint64(len(r.buf))
	if size == 0 || seq >= r.nextSeq {
		return nil
	}
	first := seq + 1
	if r.nextSeq > size && first <= r.nextSeq-size {
		first = r.nextSeq - size + 1
	}
	out := make([]Event, 0, r.nextSeq-first+1)
	for n := first; n <= r.nextSeq; n++ {
		out = append(out, r.buf[(n-1)%size])
	}
	return out
}
