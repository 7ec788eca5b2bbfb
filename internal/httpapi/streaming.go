package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/session"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/streaming"
)

// StreamingHandler serves SSE and WebSocket endpoints for session events.
// Subscribers see the same sessions the REST routes would show them.
type StreamingHandler struct {
	mgr       *streaming.Manager
	svc       *server.Service
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewStreamingHandler(mgr *streaming.Manager, svc *server.Service, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, svc: svc, logger: logger, heartbeat: 15 * time.Second}
}

// RegisterRoutes registers SSE and WebSocket routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/sse", h.handleSSE)
	mux.HandleFunc("GET /stream/ws", h.handleWS)
}

// streamParams are the query parameters shared by both transports
type streamParams struct {
	sessionID string
	types     map[string]struct{}
	lastID    uint64
}

func parseStreamParams(r *http.Request) (streamParams, bool) {
	p := streamParams{sessionID: r.URL.Query().Get("session_id"), types: map[string]struct{}{}}
	if p.sessionID == "" {
		return p, false
	}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.types[t] = struct{}{}
			}
		}
	}
	// Last-Event-ID header wins over the query parameter
	if n, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		p.lastID = n
	} else if n, err := strconv.ParseUint(r.URL.Query().Get("last_event_id"), 10, 64); err == nil {
		p.lastID = n
	}
	return p, true
}

// authorize applies the read scope and owner rules before a subscription.
// Authenticated callers may only follow sessions that exist and are theirs;
// anonymous deployments may subscribe ahead of the first turn.
func (h *StreamingHandler) authorize(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	if !requireScope(w, r, auth.ScopeSessionsRead) {
		return false
	}
	_, authenticated := auth.GetUserContext(r.Context())
	sess, err := h.svc.Session(r.Context(), sessionID)
	switch {
	case err == nil:
		if owns(r, sess.UserID) {
			return true
		}
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		if !authenticated {
			return true
		}
	default:
		h.logger.Error("Failed to load session for stream", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	writeError(w, http.StatusNotFound, "session not found")
	return false
}

func (p streamParams) wants(ev streaming.Event) bool {
	if len(p.types) == 0 {
		return true
	}
	_, ok := p.types[string(ev.Type)]
	return ok
}

// handleSSE streams events for a session via Server-Sent Events.
// GET /stream/sse?session_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	p, ok := parseStreamParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	if !h.authorize(w, r, p.sessionID) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.mgr.Subscribe(p.sessionID, 256)
	defer h.mgr.Unsubscribe(p.sessionID, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", p.sessionID)
	for _, ev := range h.mgr.ReplaySince(p.sessionID, p.lastID) {
		if p.wants(ev) {
			writeSSE(w, ev)
		}
		p.lastID = ev.Seq
	}
	flusher.Flush()

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", p.sessionID))
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.Seq <= p.lastID || !p.wants(ev) {
				continue
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-hb.C:
			// keeps connections alive through proxies
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}
