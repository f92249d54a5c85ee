package marker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func checkStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	ok, err := store.HasPassed(ctx, "course-1", "student-1")
	if err != nil || ok {
		t.Fatalf("expected no marker, got %v %v", ok, err)
	}
	if err := store.MarkPassed(ctx, "course-1", "student-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	ok, err = store.HasPassed(ctx, "course-1", "student-1")
	if err != nil || !ok {
		t.Fatalf("expected marker, got %v %v", ok, err)
	}
	ok, _ = store.HasPassed(ctx, "course-1", "student-2")
	if ok {
		t.Fatalf("marker leaked to another student")
	}
}

func TestMemoryStore(t *testing.T) {
	checkStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	checkStore(t, NewRedisStore(client, 24*time.Hour))

	mr.FastForward(25 * time.Hour)
	ok, err := NewRedisStore(client, 0).HasPassed(context.Background(), "course-1", "student-1")
	if err != nil || ok {
		t.Fatalf("expected marker to expire, got %v %v", ok, err)
	}
}
