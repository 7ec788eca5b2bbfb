package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secure via proxy in prod
}

// handleWS streams events for a session over a WebSocket.
// GET /stream/ws?session_id=<id>
func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	p, ok := parseStreamParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	if !h.authorize(w, r, p.sessionID) {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.mgr.Subscribe(p.sessionID, 256)
	defer h.mgr.Unsubscribe(p.sessionID, ch)

	for _, ev := range h.mgr.ReplaySince(p.sessionID, p.lastID) {
		if p.wants(ev) {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		// the subscription may already hold replayed events
		p.lastID = ev.Seq
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// Reader pump discards client messages and notices disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.Seq <= p.lastID || !p.wants(ev) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
