package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/circuitbreaker"
)

// Store persists sessions between user turns
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return clone(&s), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *clone(s)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// clone copies the thread so callers never share a backing array with the store
func clone(s *Session) *Session {
	out := *s
	out.Thread = append(s.Thread[:0:0], s.Thread...)
	return &out
}

// RedisStore keeps sessions as JSON documents with a TTL
type RedisStore struct {
	client  *redis.Client
	breaker *circuitbreaker.Breaker
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisStore wraps client; calls go through a circuit breaker so an
// unreachable Redis fails fast.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	settings := circuitbreaker.SettingsFor(circuitbreaker.KindRedis)
	settings.IsFailure = func(err error) bool { return !errors.Is(err, redis.Nil) }
	return &RedisStore{
		client:  client,
		breaker: circuitbreaker.New("redis-sessions", settings, logger),
		ttl:     ttl,
		logger:  logger,
	}
}

func (r *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("deepresearch:session:%s", id)
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	var data []byte
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = r.client.Get(ctx, r.sessionKey(id)).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		ttl = r.ttl
	}
	err = r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.Set(ctx, r.sessionKey(s.ID), data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, r.sessionKey(id)).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	r.logger.Info("Deleted session", zap.String("session_id", id))
	return nil
}

// Ping reports whether Redis is reachable, for health checks
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.Ping(ctx).Err()
	})
}
