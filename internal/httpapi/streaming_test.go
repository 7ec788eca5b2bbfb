package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm/llmtest"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/workflows"
)

func publishSample(streams *streaming.Manager, sessionID string) {
	for _, typ := range []workflows.EventType{workflows.EventWorkflowStarted, workflows.EventBriefReady, workflows.EventReportReady} {
		streams.Publish(workflows.Event{SessionID: sessionID, Type: typ, Message: string(typ), Timestamp: time.Now()})
	}
}

// readSSE collects id/event pairs until n events arrive
func readSSE(t *testing.T, scanner *bufio.Scanner, n int) [][2]string {
	t.Helper()
	var out [][2]string
	var id string
	for scanner.Scan() && len(out) < n {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			out = append(out, [2]string{id, strings.TrimPrefix(line, "event: ")})
		}
	}
	return out
}

func TestSSEReplaysAndFilters(t *testing.T) {
	h, streams := newRouter(t, llmtest.Canned{}, nil)
	publishSample(streams, "s-1")
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream/sse?session_id=s-1&types=BRIEF_READY,REPORT_READY", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "2")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// seq 2 was already seen, so only the report event replays
	scanner := bufio.NewScanner(resp.Body)
	got := readSSE(t, scanner, 1)
	assert.Equal(t, [][2]string{{"3", "REPORT_READY"}}, got)

	// live events follow the replay
	streams.Publish(workflows.Event{SessionID: "s-1", Type: workflows.EventAgentStarted})
	streams.Publish(workflows.Event{SessionID: "s-1", Type: workflows.EventBriefReady})
	got = readSSE(t, scanner, 1)
	assert.Equal(t, [][2]string{{"5", "BRIEF_READY"}}, got)
}

func TestSSERequiresSession(t *testing.T) {
	h, _ := newRouter(t, llmtest.Canned{}, nil)
	rec := do(t, h, http.MethodGet, "/stream/sse", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketStreamsEvents(t *testing.T) {
	h, streams := newRouter(t, llmtest.Canned{}, nil)
	publishSample(streams, "s-1")
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws?session_id=s-1&last_event_id=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var seqs []uint64
	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev streaming.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, "s-1", ev.SessionID)
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []uint64{2, 3}, seqs)
}

func TestStreamsHideOtherUsersSessions(t *testing.T) {
	jwt := auth.NewJWTManager("secret", "deepresearch")
	h, _ := newRouter(t, llmtest.Canned{Report: "# Alice findings"}, jwt)
	srv := httptest.NewServer(h)
	defer srv.Close()

	alice := bearer(t, jwt, "alice", auth.ScopeResearchRun, auth.ScopeSessionsRead)
	rec := doAs(t, h, alice, http.MethodPost, "/v1/research", `{"session_id":"s-a","message":"What is X?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bob := bearer(t, jwt, "bob", auth.ScopeSessionsRead)
	for _, target := range []string{
		"/stream/sse?session_id=s-a&types=REPORT_READY",
		"/stream/sse?session_id=s-later",
	} {
		rec := doAs(t, h, bob, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "Alice findings")
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws?session_id=s-a"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + bob}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// the owner still follows her own session
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream/sse?session_id=s-a&types=REPORT_READY", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice)
	owned, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer owned.Body.Close()
	require.Equal(t, http.StatusOK, owned.StatusCode)
	got := readSSE(t, bufio.NewScanner(owned.Body), 1)
	require.Len(t, got, 1)
	assert.Equal(t, "REPORT_READY", got[0][1])
}
