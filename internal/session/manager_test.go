package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/workflows"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Hour, zaptest.NewLogger(t)), mr
}

func stores(t *testing.T) map[string]Store {
	rs, _ := newRedisStore(t)
	return map[string]Store{"memory": NewMemoryStore(), "redis": rs}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			in := &Session{
				ID:        "s-1",
				Status:    StatusAwaitingClarification,
				Thread:    []state.Message{state.UserMessage("hi"), state.AssistantMessage("which one?")},
				ExpiresAt: time.Now().Add(time.Hour),
			}
			require.NoError(t, store.Save(ctx, in))

			got, err := store.Get(ctx, "s-1")
			require.NoError(t, err)
			assert.Equal(t, in.Thread, got.Thread)
			assert.Equal(t, StatusAwaitingClarification, got.Status)
			assert.Equal(t, "which one?", got.Question())

			require.NoError(t, store.Delete(ctx, "s-1"))
			_, err = store.Get(ctx, "s-1")
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Session{ID: "s-1", ExpiresAt: time.Now().Add(10 * time.Minute)}))

	ttl := mr.TTL("deepresearch:session:s-1")
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)

	mr.FastForward(11 * time.Minute)
	_, err := store.Get(ctx, "s-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreMissesDoNotTripBreaker(t *testing.T) {
	store, _ := newRedisStore(t)
	for i := 0; i < 20; i++ {
		_, err := store.Get(context.Background(), "missing")
		require.ErrorIs(t, err, ErrSessionNotFound)
	}
	assert.NoError(t, store.Ping(context.Background()))
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()
	_, err := store.Get(context.Background(), "s-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionNotFound))
}

func TestManagerClarificationResume(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), time.Hour, zaptest.NewLogger(t))

	sess, err := m.Begin(ctx, "", "u-1", "Tell me about X", "")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, StatusRunning, sess.Status)

	_, err = m.Begin(ctx, sess.ID, "u-1", "hello?", "")
	assert.ErrorIs(t, err, ErrSessionBusy)

	paused := append(sess.Thread, state.AssistantMessage("Which X?"))
	require.NoError(t, m.Finish(ctx, sess, &workflows.Result{
		Status:   workflows.StatusClarification,
		Question: "Which X?",
		State:    state.AgentState{Messages: paused},
	}))

	resumed, err := m.Begin(ctx, sess.ID, "u-1", "The letter", "")
	require.NoError(t, err)
	assert.Equal(t, []state.Message{
		state.UserMessage("Tell me about X"),
		state.AssistantMessage("Which X?"),
		state.UserMessage("The letter"),
	}, resumed.Thread)

	final := append(resumed.Thread, state.AssistantMessage("report"))
	require.NoError(t, m.Finish(ctx, resumed, &workflows.Result{
		Status:     workflows.StatusCompleted,
		Report:     "report",
		Iterations: 2,
		State:      state.AgentState{Messages: final, ResearchBrief: "brief"},
	}))

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "report", got.Report)
	assert.Equal(t, "brief", got.ResearchBrief)
	assert.Empty(t, got.Question())
}

func TestManagerRejectsOtherUsers(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), time.Hour, zaptest.NewLogger(t))
	sess, err := m.Begin(ctx, "s-1", "u-1", "question", "")
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, sess, errors.New("boom")))

	_, err = m.Begin(ctx, "s-1", "u-2", "mine now", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerFailDropsUserTurn(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), time.Hour, zaptest.NewLogger(t))
	sess, err := m.Begin(ctx, "s-1", "", "question", "")
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, sess, errors.New("structured output")))

	got, err := m.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "structured output", got.Error)
	assert.Empty(t, got.Thread)
}

func TestManagerExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(NewMemoryStore(), time.Minute, zaptest.NewLogger(t))
	m.now = func() time.Time { return now }

	sess, err := m.Begin(ctx, "s-1", "", "question", "")
	require.NoError(t, err)
	require.NoError(t, m.Finish(ctx, sess, &workflows.Result{Status: workflows.StatusCompleted}))

	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, "s-1")
	assert.ErrorIs(t, err, ErrSessionExpired)

	// an expired id starts a fresh thread
	sess, err = m.Begin(ctx, "s-1", "", "again", "")
	require.NoError(t, err)
	assert.Len(t, sess.Thread, 1)
}

func TestManagerResumesInterruptedTurn(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(store, time.Hour, zaptest.NewLogger(t))

			// the first delivery dies after marking the session running
			first, err := m.Begin(ctx, "s-1", "u-1", "Tell me about X", "run-1/1")
			require.NoError(t, err)
			require.Equal(t, StatusRunning, first.Status)

			_, err = m.Begin(ctx, "s-1", "u-1", "Tell me about X", "")
			assert.ErrorIs(t, err, ErrSessionBusy)
			_, err = m.Begin(ctx, "s-1", "u-1", "Tell me about X", "run-2/1")
			assert.ErrorIs(t, err, ErrSessionBusy)
			_, err = m.Begin(ctx, "s-1", "u-2", "Tell me about X", "run-1/1")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			retry, err := m.Begin(ctx, "s-1", "u-1", "Tell me about X", "run-1/1")
			require.NoError(t, err)
			assert.Equal(t, StatusRunning, retry.Status)
			assert.Equal(t, []state.Message{state.UserMessage("Tell me about X")}, retry.Thread)

			require.NoError(t, m.Finish(ctx, retry, &workflows.Result{
				Status: workflows.StatusCompleted,
				Report: "report",
				State:  state.AgentState{Messages: append(retry.Thread, state.AssistantMessage("report"))},
			}))
			got, err := m.Get(ctx, "s-1")
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got.Status)
			assert.Len(t, got.Thread, 2)
		})
	}
}
