// Package exam runs a timed exam attempt: it loads the question set, records
// answers, scores once and reports the result exactly once.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"eduvia/portal/internal/metrics"
	"eduvia/portal/internal/outbox"
)

var (
	ErrMissingField     = errors.New("missing required field")
	ErrNotInProgress    = errors.New("exam not in progress")
	ErrAlreadySubmitted = errors.New("exam already submitted")
	ErrUnknownQuestion  = errors.New("unknown question")
	ErrInvalidOption    = errors.New("option not offered by question")
	ErrOutOfRange       = errors.New("question index out of range")
	ErrNotRetryable     = errors.New("nothing to retry")
)

type State string

const (
	Loading              State = "loading"
	LoadFailed           State = "load_failed"
	InProgress           State = "in_progress"
	SubmissionDialogOpen State = "submission_dialog_open"
	Submitting           State = "submitting"
	SubmissionFailed     State = "submission_failed"
	Submitted            State = "submitted"
)

type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerTimer  Trigger = "timer"
)

type Params struct {
	StudentID  string `json:"studentId"`
	CourseID   string `json:"courseId"`
	SchoolName string `json:"schoolName"`
	ExamType   string `json:"examType"`
	// Optional, carried into the fee checkout after a pass.
	SchoolID string `json:"schoolId,omitempty"`
	Email    string `json:"email,omitempty"`
}

func (p Params) validate() error {
	missing := func(name string) error { return fmt.Errorf("%w: %s", ErrMissingField, name) }
	switch {
	case strings.TrimSpace(p.StudentID) == "":
		return missing("studentId")
	case strings.TrimSpace(p.CourseID) == "":
		return missing("courseId")
	case strings.TrimSpace(p.SchoolName) == "":
		return missing("schoolName")
	case strings.TrimSpace(p.ExamType) == "":
		return missing("examType")
	}
	return nil
}

type QuestionSource interface {
	Questions(ctx context.Context, courseID, schoolName, examType string) ([]Question, error)
}

// Reporter delivers the result durably. It is satisfied by *outbox.Submitter.
type Reporter interface {
	Submit(ctx context.Context, sub outbox.StatusSubmission) error
}

type PassMarker interface {
	MarkPassed(ctx context.Context, courseID, studentID string) error
}

// CheckoutLinker returns the payment page a student is sent to after passing.
type CheckoutLinker interface {
	CheckoutURL(ctx context.Context, p Params) (string, error)
}

type Deps struct {
	Questions     QuestionSource
	Reporter      Reporter
	Marker        PassMarker
	Checkout      CheckoutLinker
	Duration      time.Duration
	PassThreshold float64
	Logger        *slog.Logger
}

type Attempt struct {
	id     string
	params Params
	deps   Deps

	// hasSubmitted is set once, before any reporting work starts.
	hasSubmitted atomic.Bool

	mu          sync.Mutex
	state       State
	questions   []Question
	answers     map[string]string
	current     int
	deadline    time.Time
	timer       *time.Timer
	result      *Result
	loadErr     error
	submitErr   error
	redirectURL string
	redirectErr error
	finishedAt  time.Time
}

// NewAttempt checks identifiers before any I/O happens.
func NewAttempt(params Params, deps Deps) (*Attempt, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Attempt{
		id:      uuid.NewString(),
		params:  params,
		deps:    deps,
		state:   Loading,
		answers: make(map[string]string),
	}, nil
}

func (a *Attempt) ID() string     { return a.id }
func (a *Attempt) Params() Params { return a.params }

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Load fetches the question set once and starts the countdown. A failed
// fetch is terminal for this attempt.
func (a *Attempt) Load(ctx context.Context) error {
	a.mu.Lock()
	if a.state != Loading {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	questions, err := a.deps.Questions.Questions(ctx, a.params.CourseID, a.params.SchoolName, a.params.ExamType)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.state = LoadFailed
		a.loadErr = err
		a.finishedAt = time.Now()
		return fmt.Errorf("load questions: %w", err)
	}
	a.questions = Active(questions)
	a.state = InProgress
	if a.deps.Duration > 0 {
		a.deadline = time.Now().Add(a.deps.Duration)
		a.timer = time.AfterFunc(a.deps.Duration, a.expire)
	}
	return nil
}

func (a *Attempt) expire() {
	_, err := a.Submit(context.Background(), TriggerTimer)
	if err != nil && !errors.Is(err, ErrAlreadySubmitted) && !errors.Is(err, ErrNotInProgress) {
		a.deps.Logger.Warn("timed submission failed", "attempt_id", a.id, "error", err)
	}
}

func (a *Attempt) answerable() error {
	if a.state != InProgress && a.state != SubmissionDialogOpen {
		return ErrNotInProgress
	}
	return nil
}

// SelectAnswer overwrites any earlier answer to the question.
func (a *Attempt) SelectAnswer(questionID, option string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.answerable(); err != nil {
		return err
	}
	for _, q := range a.questions {
		if q.ID != questionID {
			continue
		}
		if !q.hasOption(option) {
			return ErrInvalidOption
		}
		a.answers[questionID] = option
		return nil
	}
	return ErrUnknownQuestion
}

func (a *Attempt) Next() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.answerable(); err != nil {
		return err
	}
	if a.current < len(a.questions)-1 {
		a.current++
	}
	return nil
}

func (a *Attempt) Previous() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.answerable(); err != nil {
		return err
	}
	if a.current > 0 {
		a.current--
	}
	return nil
}

func (a *Attempt) JumpTo(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.answerable(); err != nil {
		return err
	}
	if index < 0 || index >= len(a.questions) {
		return ErrOutOfRange
	}
	a.current = index
	return nil
}

func (a *Attempt) OpenDialog() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != InProgress {
		return ErrNotInProgress
	}
	a.state = SubmissionDialogOpen
	return nil
}

func (a *Attempt) CloseDialog() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != SubmissionDialogOpen {
		return ErrNotInProgress
	}
	a.state = InProgress
	return nil
}

// Submit scores the attempt and reports it. Timer expiry and a manual
// submit share this path; only the first caller proceeds.
func (a *Attempt) Submit(ctx context.Context, trigger Trigger) (View, error) {
	a.mu.Lock()
	if err := a.answerable(); err != nil {
		a.mu.Unlock()
		if a.hasSubmitted.Load() {
			return a.View(), ErrAlreadySubmitted
		}
		return a.View(), err
	}
	if !a.hasSubmitted.CompareAndSwap(false, true) {
		a.mu.Unlock()
		return a.View(), ErrAlreadySubmitted
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	result := Score(a.questions, a.answers, a.deps.PassThreshold)
	a.result = &result
	a.state = Submitting
	a.mu.Unlock()

	a.deps.Logger.Info("exam submitted",
		"attempt_id", a.id,
		"student_id", a.params.StudentID,
		"course_id", a.params.CourseID,
		"trigger", string(trigger),
		"percentage", result.Percentage,
	)
	err := a.report(ctx)
	return a.View(), err
}

// RetrySubmission re-sends the cached result after a failed report.
func (a *Attempt) RetrySubmission(ctx context.Context) (View, error) {
	a.mu.Lock()
	if a.state != SubmissionFailed {
		a.mu.Unlock()
		return a.View(), ErrNotRetryable
	}
	a.state = Submitting
	a.mu.Unlock()

	err := a.report(ctx)
	return a.View(), err
}

// RetryRedirect asks for the checkout link again after a passed attempt
// could not obtain one.
func (a *Attempt) RetryRedirect(ctx context.Context) (View, error) {
	a.mu.Lock()
	if a.state != Submitted || a.result == nil || !a.result.Passed || a.redirectURL != "" {
		a.mu.Unlock()
		return a.View(), ErrNotRetryable
	}
	a.mu.Unlock()

	err := a.fetchRedirect(ctx)
	return a.View(), err
}

func (a *Attempt) report(ctx context.Context) error {
	a.mu.Lock()
	result := *a.result
	a.mu.Unlock()

	err := a.deps.Reporter.Submit(ctx, outbox.StatusSubmission{
		StudentID: a.params.StudentID,
		CourseID:  a.params.CourseID,
		ExamType:  a.params.ExamType,
		IsPassed:  result.Passed,
	})
	if err != nil {
		a.mu.Lock()
		a.state = SubmissionFailed
		a.submitErr = err
		a.mu.Unlock()
		return fmt.Errorf("report result: %w", err)
	}

	a.mu.Lock()
	a.state = Submitted
	a.submitErr = nil
	a.finishedAt = time.Now()
	a.mu.Unlock()

	if !result.Passed {
		metrics.ExamAttempts.WithLabelValues("failed").Inc()
		return nil
	}
	metrics.ExamAttempts.WithLabelValues("passed").Inc()
	if a.deps.Marker != nil {
		if err := a.deps.Marker.MarkPassed(ctx, a.params.CourseID, a.params.StudentID); err != nil {
			a.deps.Logger.Warn("pass marker not stored", "attempt_id", a.id, "error", err)
		}
	}
	return a.fetchRedirect(ctx)
}

func (a *Attempt) fetchRedirect(ctx context.Context) error {
	if a.deps.Checkout == nil {
		return nil
	}
	url, err := a.deps.Checkout.CheckoutURL(ctx, a.params)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.redirectErr = err
		return fmt.Errorf("checkout link: %w", err)
	}
	a.redirectURL = url
	a.redirectErr = nil
	return nil
}

// Close stops the countdown. The attempt keeps its state.
func (a *Attempt) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
}

// finished reports when the attempt reached a terminal state.
func (a *Attempt) finished() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Submitted && a.state != LoadFailed {
		return time.Time{}, false
	}
	return a.finishedAt, true
}

type PublicQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Marks   float64  `json:"marks"`
}

// View is what the student sees. Correct answers stay hidden until the
// attempt is submitted.
type View struct {
	ID               string            `json:"id"`
	State            State             `json:"state"`
	CourseID         string            `json:"courseId"`
	Questions        []PublicQuestion  `json:"questions"`
	Answers          map[string]string `json:"answers"`
	Current          int               `json:"current"`
	RemainingSeconds int               `json:"remainingSeconds"`
	Result           *Result           `json:"result,omitempty"`
	RedirectURL      string            `json:"redirectUrl,omitempty"`
	Error            string            `json:"error,omitempty"`
}

func (a *Attempt) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := View{
		ID:        a.id,
		State:     a.state,
		CourseID:  a.params.CourseID,
		Questions: make([]PublicQuestion, 0, len(a.questions)),
		Answers:   make(map[string]string, len(a.answers)),
		Current:   a.current,
	}
	for _, q := range a.questions {
		v.Questions = append(v.Questions, PublicQuestion{ID: q.ID, Text: q.Text, Options: q.Options, Marks: q.Marks})
	}
	for k, val := range a.answers {
		v.Answers[k] = val
	}
	if (a.state == InProgress || a.state == SubmissionDialogOpen) && !a.deadline.IsZero() {
		if remaining := time.Until(a.deadline); remaining > 0 {
			v.RemainingSeconds = int(remaining.Round(time.Second) / time.Second)
		}
	}
	if a.state == Submitted && a.result != nil {
		result := *a.result
		v.Result = &result
		v.RedirectURL = a.redirectURL
	}
	switch {
	case a.state == LoadFailed:
		v.Error = "questions_unavailable"
	case a.state == SubmissionFailed:
		v.Error = "submission_failed"
	case a.redirectErr != nil:
		v.Error = "checkout_unavailable"
	}
	return v
}
