// Package marker records that a student passed the preliminary exam of a
// course so the payment path opens before the exam service catches up.
package marker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store interface {
	MarkPassed(ctx context.Context, courseID, studentID string) error
	HasPassed(ctx context.Context, courseID, studentID string) (bool, error)
}

func markerKey(courseID, studentID string) string {
	return fmt.Sprintf("exam_passed:%s:%s", courseID, studentID)
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore keeps markers for ttl; zero keeps them until deleted.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) MarkPassed(ctx context.Context, courseID, studentID string) error {
	return s.client.Set(ctx, markerKey(courseID, studentID), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}

func (s *RedisStore) HasPassed(ctx context.Context, courseID, studentID string) (bool, error) {
	n, err := s.client.Exists(ctx, markerKey(courseID, studentID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type MemoryStore struct {
	mu     sync.RWMutex
	passed map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{passed: make(map[string]struct{})}
}

func (s *MemoryStore) MarkPassed(_ context.Context, courseID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passed[markerKey(courseID, studentID)] = struct{}{}
	return nil
}

func (s *MemoryStore) HasPassed(_ context.Context, courseID, studentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.passed[markerKey(courseID, studentID)]
	return ok, nil
}
