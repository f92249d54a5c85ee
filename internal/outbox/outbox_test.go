package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReporter struct {
	mu    sync.Mutex
	calls []StatusSubmission
	fail  int // number of leading calls that fail
}

func (r *scriptedReporter) ReportStatus(_ context.Context, sub StatusSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sub)
	if len(r.calls) <= r.fail {
		return errors.New("exam service unavailable")
	}
	return nil
}

func (r *scriptedReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type failingStore struct{ *MemoryStore }

func (f *failingStore) Put(context.Context, StatusSubmission) error {
	return errors.New("disk full")
}

func newTestSubmitter(reporter Reporter, store Store, sleeps *[]time.Duration) *Submitter {
	return NewSubmitter(reporter, store, Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	})
}

var passed = StatusSubmission{StudentID: "student-1", CourseID: "course-1", ExamType: "final", IsPassed: true}

func TestSubmitWithRetryQueuesAfterExhaustion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reporter := &scriptedReporter{fail: 3}
	var sleeps []time.Duration
	sub := newTestSubmitter(reporter, store, &sleeps)

	err := sub.SubmitWithRetry(ctx, passed, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueued)
	assert.Equal(t, 3, reporter.count())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)

	pending, ok, err := store.Get(ctx, passed.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pending.IsPassed)
	assert.False(t, pending.QueuedAt.IsZero())

	recovered, err := sub.Recover(ctx, passed.Key())
	require.NoError(t, err)
	assert.True(t, recovered)
	assert.Equal(t, 4, reporter.count())
	assert.True(t, reporter.calls[3].QueuedAt.IsZero(), "queue timestamp must not be sent upstream")

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmitWithRetrySucceedsAndClearsPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, passed))
	reporter := &scriptedReporter{fail: 1}
	var sleeps []time.Duration
	sub := newTestSubmitter(reporter, store, &sleeps)

	require.NoError(t, sub.SubmitWithRetry(ctx, passed, 3))
	assert.Equal(t, 2, reporter.count())
	assert.Equal(t, []time.Duration{time.Second}, sleeps)

	_, ok, err := store.Get(ctx, passed.Key())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepeatedFailuresKeepOneRecordPerKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	var sleeps []time.Duration
	sub := newTestSubmitter(&scriptedReporter{fail: 100}, store, &sleeps)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, sub.SubmitWithRetry(ctx, passed, 2), ErrQueued)
	}
	other := passed
	other.CourseID = "course-2"
	require.ErrorIs(t, sub.SubmitWithRetry(ctx, other, 1), ErrQueued)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSubmitWithRetryRejectsMissingFields(t *testing.T) {
	reporter := &scriptedReporter{}
	var sleeps []time.Duration
	sub := newTestSubmitter(reporter, NewMemoryStore(), &sleeps)

	err := sub.SubmitWithRetry(context.Background(), StatusSubmission{CourseID: "course-1", ExamType: "final"}, 3)
	assert.ErrorIs(t, err, ErrInvalidSubmission)
	assert.Equal(t, 0, reporter.count())
}

func TestSubmitWithRetryStoreFailureIsNotQueued(t *testing.T) {
	var sleeps []time.Duration
	sub := newTestSubmitter(&scriptedReporter{fail: 5}, &failingStore{MemoryStore: NewMemoryStore()}, &sleeps)

	err := sub.SubmitWithRetry(context.Background(), passed, 2)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQueued)
}

func TestSubmitWithRetryCancelledStillQueues(t *testing.T) {
	store := NewMemoryStore()
	reporter := &scriptedReporter{fail: 5}
	sub := NewSubmitter(reporter, store, Config{
		MaxAttempts: 3,
		BaseDelay:   time.Hour,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for reporter.count() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	err := sub.SubmitWithRetry(ctx, passed, 3)
	assert.ErrorIs(t, err, ErrQueued)
	assert.Equal(t, 1, reporter.count())
	_, ok, _ := store.Get(context.Background(), passed.Key())
	assert.True(t, ok)
}

func TestRecoverAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := passed
	first.QueuedAt = time.Now().Add(-time.Minute)
	second := passed
	second.CourseID = "course-2"
	second.QueuedAt = time.Now()
	require.NoError(t, store.Put(ctx, first))
	require.NoError(t, store.Put(ctx, second))

	// The oldest record is replayed first and fails; the second goes through.
	reporter := &scriptedReporter{fail: 1}
	var sleeps []time.Duration
	sub := newTestSubmitter(reporter, store, &sleeps)

	recovered, err := sub.RecoverAll(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, recovered)
	assert.Empty(t, sleeps, "recovery is a single attempt")

	left, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "course-1", left[0].CourseID)
}

func TestRecoverWithNothingPending(t *testing.T) {
	reporter := &scriptedReporter{}
	var sleeps []time.Duration
	sub := newTestSubmitter(reporter, NewMemoryStore(), &sleeps)

	ok, err := sub.Recover(context.Background(), Key{StudentID: "s", CourseID: "c"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, reporter.count())
}
