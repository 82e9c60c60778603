// README: Session stores with inactivity TTL (Redis and in-memory).
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"drillflow/internal/types"
)

const sessionKeyPrefix = "conversation:session:%s"

// Session is the advisory state of one user's dialogue.
type Session struct {
	UserID    types.ID          `json:"user_id"`
	Flow      Flow              `json:"flow"`
	Step      Step              `json:"step"`
	Fields    map[string]string `json:"fields"`
	Params    map[string]string `json:"params,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store persists sessions. Load returns nil, nil when the user has no live
// session; every Save restarts the inactivity TTL.
type Store interface {
	Load(ctx context.Context, userID types.ID) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID types.ID) error
}

type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redis *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redis, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, userID types.ID) (*Session, error) {
	raw, err := s.redis.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sessionKey(sess.UserID), raw, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, userID types.ID) error {
	return s.redis.Del(ctx, sessionKey(userID)).Err()
}

func sessionKey(userID types.ID) string {
	return fmt.Sprintf(sessionKeyPrefix, string(userID))
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[types.ID]Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore expires sessions ttl after their last save; now is the
// clock, time.Now when nil.
func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{sessions: make(map[types.ID]Session), ttl: ttl, now: now}
}

func (m *MemoryStore) Load(_ context.Context, userID types.ID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	if m.ttl > 0 && m.now().Sub(sess.UpdatedAt) >= m.ttl {
		delete(m.sessions, userID)
		return nil, nil
	}
	c := cloneSession(sess)
	return &c, nil
}

func (m *MemoryStore) Save(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneSession(*sess)
	c.UpdatedAt = m.now()
	m.sessions[sess.UserID] = c
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func cloneSession(s Session) Session {
	s.Fields = cloneMap(s.Fields)
	s.Params = cloneMap(s.Params)
	return s
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
