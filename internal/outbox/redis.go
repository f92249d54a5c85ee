package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const pendingIndexKey = "pending_status:index"

// RedisStore keeps one JSON record per key plus an index set used by List.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func pendingKey(key Key) string {
	return fmt.Sprintf("pending_status:%s:%s", key.StudentID, key.CourseID)
}

func (s *RedisStore) Put(ctx context.Context, sub StatusSubmission) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	name := pendingKey(sub.Key())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, name, raw, 0)
		pipe.SAdd(ctx, pendingIndexKey, name)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, key Key) (StatusSubmission, bool, error) {
	raw, err := s.client.Get(ctx, pendingKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StatusSubmission{}, false, nil
		}
		return StatusSubmission{}, false, err
	}
	var sub StatusSubmission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return StatusSubmission{}, false, err
	}
	return sub, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	name := pendingKey(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, name)
		pipe.SRem(ctx, pendingIndexKey, name)
		return nil
	})
	return err
}

func (s *RedisStore) List(ctx context.Context) ([]StatusSubmission, error) {
	names, err := s.client.SMembers(ctx, pendingIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, names...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]StatusSubmission, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Record expired or was removed outside the store; drop the stale index entry.
			_ = s.client.SRem(ctx, pendingIndexKey, names[i]).Err()
			continue
		}
		var sub StatusSubmission
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return nil, fmt.Errorf("decode %s: %w", names[i], err)
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out, nil
}
