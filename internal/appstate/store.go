package appstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store interface {
	Load(ctx context.Context, id string) (State, error)
	Save(ctx context.Context, id string, state State) error
}

// Apply loads, reduces and saves in one step.
func Apply(ctx context.Context, store Store, id string, action Action) (State, error) {
	state, err := store.Load(ctx, id)
	if err != nil {
		return State{}, err
	}
	next := Reduce(state, action)
	if next == state {
		return next, nil
	}
	if err := store.Save(ctx, id, next); err != nil {
		return State{}, err
	}
	return next, nil
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func stateKey(id string) string {
	return fmt.Sprintf("app_state:%s", id)
}

// Load returns the zero state for unknown ids and refreshes the TTL otherwise.
func (s *RedisStore) Load(ctx context.Context, id string) (State, error) {
	raw, err := s.client.Get(ctx, stateKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, nil
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, err
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, stateKey(id), s.ttl).Err()
	}
	return state, nil
}

func (s *RedisStore) Save(ctx context.Context, id string, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stateKey(id), raw, s.ttl).Err()
}

type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id], nil
}

func (m *MemoryStore) Save(_ context.Context, id string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = state
	return nil
}
