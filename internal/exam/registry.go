package exam

import (
	"context"
	"errors"
	"sync"
	"time"

	"eduvia/portal/internal/metrics"
	"eduvia/portal/internal/outbox"
)

// PendingRecoverer replays a queued result once. It is satisfied by
// *outbox.Submitter.
type PendingRecoverer interface {
	Recover(ctx context.Context, key outbox.Key) (bool, error)
}

type ownerKey struct {
	studentID string
	courseID  string
}

// Registry keeps the live attempts of this process, at most one unfinished
// attempt per student and course.
type Registry struct {
	deps    Deps
	pending PendingRecoverer

	mu       sync.Mutex
	attempts map[string]*Attempt
	byOwner  map[ownerKey]*Attempt
}

func NewRegistry(deps Deps, pending PendingRecoverer) *Registry {
	return &Registry{
		deps:     deps,
		pending:  pending,
		attempts: make(map[string]*Attempt),
		byOwner:  make(map[ownerKey]*Attempt),
	}
}

// Start mounts the exam for a student. An unfinished attempt is returned
// instead of a new one; if its result is still queued, the attempt itself
// re-sends it so a delivery continues into the pass or fail steps. Otherwise
// a result queued by an earlier process is replayed first.
func (r *Registry) Start(ctx context.Context, params Params) (*Attempt, error) {
	attempt, err := NewAttempt(params, r.deps)
	if err != nil {
		return nil, err
	}
	owner := ownerKey{studentID: params.StudentID, courseID: params.CourseID}

	if live := r.live(owner); live != nil {
		r.resume(ctx, live)
		return live, nil
	}

	if r.pending != nil {
		key := outbox.Key{StudentID: params.StudentID, CourseID: params.CourseID}
		if _, err := r.pending.Recover(ctx, key); err != nil {
			attempt.deps.Logger.Warn("pending result still undelivered",
				"student_id", params.StudentID,
				"course_id", params.CourseID,
				"error", err,
			)
		}
	}

	r.mu.Lock()
	if live, ok := r.byOwner[owner]; ok {
		if _, done := live.finished(); !done {
			r.mu.Unlock()
			r.resume(ctx, live)
			return live, nil
		}
	}
	r.attempts[attempt.id] = attempt
	r.byOwner[owner] = attempt
	metrics.LiveAttempts.Set(float64(len(r.attempts)))
	r.mu.Unlock()

	if err := attempt.Load(ctx); err != nil {
		return attempt, err
	}
	return attempt, nil
}

func (r *Registry) live(owner ownerKey) *Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.byOwner[owner]
	if !ok {
		return nil
	}
	if _, done := attempt.finished(); done {
		return nil
	}
	return attempt
}

// resume re-sends the result of a live attempt whose report was queued.
func (r *Registry) resume(ctx context.Context, live *Attempt) {
	if live.State() != SubmissionFailed {
		return
	}
	if _, err := live.RetrySubmission(ctx); err != nil && !errors.Is(err, ErrNotRetryable) {
		live.deps.Logger.Warn("queued result still undelivered on remount",
			"attempt_id", live.id,
			"error", err,
		)
	}
}

func (r *Registry) Get(id string) (*Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[id]
	return attempt, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) {
	attempt, ok := r.attempts[id]
	if !ok {
		return
	}
	attempt.Close()
	delete(r.attempts, id)
	owner := ownerKey{studentID: attempt.params.StudentID, courseID: attempt.params.CourseID}
	if r.byOwner[owner] == attempt {
		delete(r.byOwner, owner)
	}
	metrics.LiveAttempts.Set(float64(len(r.attempts)))
}

// Reap drops attempts that finished before cutoff and returns how many.
func (r *Registry) Reap(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, attempt := range r.attempts {
		at, done := attempt.finished()
		if !done || at.After(cutoff) {
			continue
		}
		r.removeLocked(id)
		removed++
	}
	return removed
}

// Len is the number of attempts held, finished or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// Close stops every countdown, used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, attempt := range r.attempts {
		attempt.Close()
	}
}
