package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eduvia/portal/internal/exam"
	"eduvia/portal/internal/session"
	"eduvia/portal/internal/validation"
)

type attemptKey struct{}

// attemptMiddleware loads the attempt named in the path. Attempts of other
// students are reported as missing.
func (s *Server) attemptMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile, _ := session.ProfileFromContext(r.Context())
		attempt, ok := s.deps.Attempts.Get(chi.URLParam(r, "attemptId"))
		if !ok || attempt.Params().StudentID != profile.UserID {
			writeError(w, http.StatusNotFound, "attempt_not_found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), attemptKey{}, attempt)))
	})
}

func attemptFrom(r *http.Request) *exam.Attempt {
	attempt, _ := r.Context().Value(attemptKey{}).(*exam.Attempt)
	return attempt
}

var examErrors = []struct {
	err    error
	status int
	code   string
}{
	{exam.ErrMissingField, http.StatusBadRequest, "missing_field"},
	{exam.ErrAlreadySubmitted, http.StatusConflict, "already_submitted"},
	{exam.ErrNotInProgress, http.StatusConflict, "exam_not_in_progress"},
	{exam.ErrNotRetryable, http.StatusConflict, "nothing_to_retry"},
	{exam.ErrUnknownQuestion, http.StatusNotFound, "question_not_found"},
	{exam.ErrInvalidOption, http.StatusBadRequest, "invalid_option"},
	{exam.ErrOutOfRange, http.StatusBadRequest, "invalid_index"},
}

// writeAttempt answers with the attempt view. Failures that the view already
// explains, such as a queued result, still return the view.
func (s *Server) writeAttempt(w http.ResponseWriter, attempt *exam.Attempt, err error) {
	for _, e := range examErrors {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code)
			return
		}
	}
	view := attempt.View()
	if err != nil {
		s.logger.Warn("exam step failed", "attempt_id", view.ID, "state", string(view.State), "error", err)
	}
	if view.State == exam.SubmissionFailed {
		writeJSON(w, http.StatusAccepted, view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, attemptFrom(r).View())
}

type answerRequest struct {
	Option string `json:"option" validate:"required"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}
	attempt := attemptFrom(r)
	s.writeAttempt(w, attempt, attempt.SelectAnswer(chi.URLParam(r, "questionId"), req.Option))
}

type navigateRequest struct {
	Direction string `json:"direction"`
	Index     int    `json:"index"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	attempt := attemptFrom(r)
	var err error
	switch req.Direction {
	case "next":
		err = attempt.Next()
	case "previous":
		err = attempt.Previous()
	case "jump":
		err = attempt.JumpTo(req.Index)
	default:
		writeError(w, http.StatusBadRequest, "invalid_direction")
		return
	}
	s.writeAttempt(w, attempt, err)
}

type dialogRequest struct {
	Open bool `json:"open"`
}

func (s *Server) handleDialog(w http.ResponseWriter, r *http.Request) {
	var req dialogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	attempt := attemptFrom(r)
	if req.Open {
		s.writeAttempt(w, attempt, attempt.OpenDialog())
		return
	}
	s.writeAttempt(w, attempt, attempt.CloseDialog())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	attempt := attemptFrom(r)
	_, err := attempt.Submit(r.Context(), exam.TriggerManual)
	s.writeAttempt(w, attempt, err)
}

func (s *Server) handleRetrySubmission(w http.ResponseWriter, r *http.Request) {
	attempt := attemptFrom(r)
	_, err := attempt.RetrySubmission(r.Context())
	s.writeAttempt(w, attempt, err)
}

func (s *Server) handleRetryRedirect(w http.ResponseWriter, r *http.Request) {
	attempt := attemptFrom(r)
	_, err := attempt.RetryRedirect(r.Context())
	s.writeAttempt(w, attempt, err)
}
