// Package outbox makes sure an exam result reaches the exam service. A report
// that still fails after its retry budget is kept in a durable pending store
// and replayed later; it is never dropped.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eduvia/portal/internal/metrics"
	"eduvia/portal/internal/validation"
)

var (
	// ErrQueued wraps the last delivery error once the payload is safely in
	// the pending store.
	ErrQueued            = errors.New("status submission queued for retry")
	ErrInvalidSubmission = errors.New("invalid status submission")
)

type StatusSubmission struct {
	StudentID string    `json:"studentId" validate:"notblank"`
	CourseID  string    `json:"courseId" validate:"notblank"`
	ExamType  string    `json:"examType" validate:"notblank"`
	IsPassed  bool      `json:"isPassed"`
	QueuedAt  time.Time `json:"queuedAt,omitempty"`
}

// Key identifies at most one pending record.
type Key struct {
	StudentID string
	CourseID  string
}

func (s StatusSubmission) Key() Key {
	return Key{StudentID: s.StudentID, CourseID: s.CourseID}
}

// Store holds pending submissions. Put replaces any record with the same key.
type Store interface {
	Put(ctx context.Context, sub StatusSubmission) error
	Get(ctx context.Context, key Key) (StatusSubmission, bool, error)
	Delete(ctx context.Context, key Key) error
	List(ctx context.Context) ([]StatusSubmission, error)
}

// Reporter delivers one submission to the exam service.
type Reporter interface {
	ReportStatus(ctx context.Context, sub StatusSubmission) error
}

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
	Logger      *slog.Logger
	// Sleep waits between attempts. Defaults to a timer bound to ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Submitter struct {
	reporter    Reporter
	store       Store
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

func NewSubmitter(reporter Reporter, store Store, cfg Config) *Submitter {
	s := &Submitter{
		reporter:    reporter,
		store:       store,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		sleep:       cfg.Sleep,
		now:         time.Now,
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 3
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	return s
}

// Submit uses the configured attempt budget.
func (s *Submitter) Submit(ctx context.Context, sub StatusSubmission) error {
	return s.SubmitWithRetry(ctx, sub, s.maxAttempts)
}

// SubmitWithRetry tries up to maxAttempts times, waiting attempt*baseDelay
// after the n-th failure. When every attempt fails the payload is stored and
// an error wrapping ErrQueued is returned. If even the store fails, the
// returned error does not wrap ErrQueued.
func (s *Submitter) SubmitWithRetry(ctx context.Context, sub StatusSubmission, maxAttempts int) error {
	if err := validation.Struct(sub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = s.deliver(ctx, sub)
		if lastErr == nil {
			metrics.StatusSubmissions.WithLabelValues("delivered").Inc()
			s.clearPending(ctx, sub.Key())
			return nil
		}
		s.logger.Warn("status submission failed",
			"student_id", sub.StudentID,
			"course_id", sub.CourseID,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", lastErr,
		)
		if attempt == maxAttempts {
			break
		}
		if err := s.sleep(ctx, time.Duration(attempt)*s.baseDelay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	// The caller may have gone away; the record must still be written.
	storeCtx := context.WithoutCancel(ctx)
	sub.QueuedAt = s.now().UTC()
	if err := s.store.Put(storeCtx, sub); err != nil {
		metrics.StatusSubmissions.WithLabelValues("lost").Inc()
		s.logger.Error("status submission could not be queued",
			"student_id", sub.StudentID,
			"course_id", sub.CourseID,
			"error", err,
		)
		return fmt.Errorf("status submission failed and was not queued: %w", errors.Join(lastErr, err))
	}
	metrics.StatusSubmissions.WithLabelValues("queued").Inc()
	metrics.PendingSubmissions.WithLabelValues("queued").Inc()
	return fmt.Errorf("%w: %w", ErrQueued, lastErr)
}

// Recover replays the pending record of one student and course once. It
// returns false with no error when nothing is pending.
func (s *Submitter) Recover(ctx context.Context, key Key) (bool, error) {
	sub, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return s.replay(ctx, sub)
}

// RecoverAll replays every pending record once and reports how many were
// delivered. Failed records stay in the store.
func (s *Submitter) RecoverAll(ctx context.Context) (int, error) {
	pending, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	var errs []error
	for _, sub := range pending {
		ok, err := s.replay(ctx, sub)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			recovered++
		}
	}
	return recovered, errors.Join(errs...)
}

func (s *Submitter) replay(ctx context.Context, sub StatusSubmission) (bool, error) {
	if err := s.deliver(ctx, sub); err != nil {
		metrics.PendingSubmissions.WithLabelValues("replay_failed").Inc()
		return false, fmt.Errorf("replay %s/%s: %w", sub.StudentID, sub.CourseID, err)
	}
	if err := s.store.Delete(ctx, sub.Key()); err != nil {
		return true, fmt.Errorf("delete pending %s/%s: %w", sub.StudentID, sub.CourseID, err)
	}
	metrics.PendingSubmissions.WithLabelValues("recovered").Inc()
	s.logger.Info("pending status submission delivered",
		"student_id", sub.StudentID,
		"course_id", sub.CourseID,
	)
	return true, nil
}

func (s *Submitter) deliver(ctx context.Context, sub StatusSubmission) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	payload := sub
	payload.QueuedAt = time.Time{}
	return s.reporter.ReportStatus(ctx, payload)
}

func (s *Submitter) clearPending(ctx context.Context, key Key) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("pending status submission not cleared",
			"student_id", key.StudentID,
			"course_id", key.CourseID,
			"error", err,
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
