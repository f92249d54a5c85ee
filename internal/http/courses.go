package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"eduvia/portal/internal/enrollment"
	"eduvia/portal/internal/exam"
	"eduvia/portal/internal/payment"
	"eduvia/portal/internal/session"
	"eduvia/portal/internal/tenant"
)

const maxWebhookBytes = 64 << 10

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	res := tenant.FromContext(r.Context())
	school, err := s.deps.Schools.Lookup(r.Context(), res.Key)
	if err != nil {
		s.writeUpstreamError(w, "school lookup", err)
		return
	}
	courses, err := s.deps.Courses.List(r.Context(), school.ID)
	if err != nil {
		s.writeUpstreamError(w, "list courses", err)
		return
	}
	if courses == nil {
		courses = []enrollment.Course{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"school": school, "courses": courses})
}

type enrollmentView struct {
	Course      enrollment.Course      `json:"course"`
	Purchased   bool                   `json:"purchased"`
	Eligibility enrollment.Eligibility `json:"eligibility"`
	Decision    enrollment.Decision    `json:"decision"`
}

// decide gathers the enrollment inputs concurrently. Eligibility only matters
// for paid courses not yet purchased, so its failure is fatal only there.
func (s *Server) decide(ctx context.Context, studentID, courseID string) (enrollmentView, error) {
	var (
		view        enrollmentView
		passed      bool
		eligErr     error
		eligibility enrollment.Eligibility
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		course, err := s.deps.Courses.Get(gctx, courseID)
		view.Course = course
		return err
	})
	g.Go(func() error {
		purchased, err := s.deps.Courses.Purchased(gctx, studentID, courseID)
		view.Purchased = purchased
		return err
	})
	g.Go(func() error {
		eligibility, eligErr = s.deps.Exams.Eligibility(gctx, studentID, courseID)
		return nil
	})
	g.Go(func() error {
		if s.deps.Markers == nil {
			return nil
		}
		ok, err := s.deps.Markers.HasPassed(gctx, courseID, studentID)
		if err != nil {
			s.logger.Warn("pass marker lookup failed", "course_id", courseID, "student_id", studentID, "error", err)
			return nil
		}
		passed = ok
		return nil
	})
	if err := g.Wait(); err != nil {
		return enrollmentView{}, err
	}
	if eligErr != nil && !view.Purchased && view.Course.Fee > 0 {
		return enrollmentView{}, eligErr
	}
	view.Eligibility = enrollment.WithPassedMarker(eligibility, passed)
	view.Decision = enrollment.Decide(view.Course, view.Eligibility, view.Purchased)
	return view, nil
}

func (s *Server) studentDecision(w http.ResponseWriter, r *http.Request) (session.Profile, enrollmentView, bool) {
	profile, _ := session.ProfileFromContext(r.Context())
	view, err := s.decide(r.Context(), profile.UserID, chi.URLParam(r, "courseId"))
	if err != nil {
		s.writeUpstreamError(w, "enrollment decision", err)
		return profile, enrollmentView{}, false
	}
	return profile, view, true
}

func (s *Server) handleEnrollment(w http.ResponseWriter, r *http.Request) {
	_, view, ok := s.studentDecision(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeLocked(w http.ResponseWriter, days int) {
	writeJSON(w, http.StatusForbidden, map[string]interface{}{"error": "locked", "daysRemaining": days})
}

// handleCheckout opens a payment session. It is refused unless the decision
// for this student and course is to pay the fee.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	profile, view, ok := s.studentDecision(w, r)
	if !ok {
		return
	}
	if view.Decision.Action == enrollment.Locked {
		writeLocked(w, view.Decision.DaysRemaining)
		return
	}
	if !view.Decision.AllowsPayment() {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": "payment_not_allowed", "action": view.Decision.Action})
		return
	}
	checkout, err := s.deps.Payments.Start(r.Context(), tenant.FromContext(r.Context()).Key, payment.Checkout{
		StudentID:   profile.UserID,
		Email:       profile.Email,
		SchoolID:    profile.SchoolID,
		CourseID:    view.Course.ID,
		CourseTitle: view.Course.Title,
		Amount:      view.Course.Fee,
	})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidCheckout) {
			writeError(w, http.StatusBadRequest, "invalid_checkout")
			return
		}
		s.writeUpstreamError(w, "start checkout", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": checkout.ID, "url": checkout.URL})
}

func (s *Server) handleEnrollFree(w http.ResponseWriter, r *http.Request) {
	profile, view, ok := s.studentDecision(w, r)
	if !ok {
		return
	}
	switch view.Decision.Action {
	case enrollment.OpenCourse:
		writeJSON(w, http.StatusOK, enrollment.Decision{Action: enrollment.OpenCourse})
	case enrollment.EnrollFree:
		if err := s.deps.Courses.EnrollFree(r.Context(), profile.UserID, view.Course.ID); err != nil {
			s.writeUpstreamError(w, "enroll free", err)
			return
		}
		s.logger.Info("free enrollment", "student_id", profile.UserID, "course_id", view.Course.ID)
		writeJSON(w, http.StatusCreated, enrollment.Decision{Action: enrollment.OpenCourse})
	default:
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": "enrollment_not_free", "action": view.Decision.Action})
	}
}

func (s *Server) handlePaymentSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" || sessionID == payment.SessionIDPlaceholder {
		writeError(w, http.StatusBadRequest, "missing_session_id")
		return
	}
	profile, _ := session.ProfileFromContext(r.Context())
	paid, err := s.deps.Payments.Complete(r.Context(), sessionID, profile.UserID)
	if err != nil {
		if errors.Is(err, payment.ErrNotPaid) {
			writeError(w, http.StatusPaymentRequired, "payment_incomplete")
			return
		}
		s.writeUpstreamError(w, "complete checkout", err)
		return
	}
	courseID := paid.CourseID
	if courseID == "" {
		courseID = r.URL.Query().Get("courseId")
	}
	s.logger.Info("payment completed", "student_id", profile.UserID, "course_id", courseID, "session_id", paid.ID)
	http.Redirect(w, r, "/courses/"+url.PathEscape(courseID), http.StatusSeeOther)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Webhooks == nil {
		writeError(w, http.StatusNotFound, "webhooks_disabled")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
		return
	}
	paid, ok, err := s.deps.Webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_signature")
		return
	}
	if ok {
		if err := s.deps.Payments.Record(r.Context(), paid); err != nil && !errors.Is(err, payment.ErrNotPaid) {
			s.logger.Error("webhook payment not recorded", "session_id", paid.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleStartExam mounts the exam for the student. A locked-out student is
// refused before any question is fetched.
func (s *Server) handleStartExam(w http.ResponseWriter, r *http.Request) {
	profile, _ := session.ProfileFromContext(r.Context())
	courseID := chi.URLParam(r, "courseId")

	eligibility, err := s.deps.Exams.Eligibility(r.Context(), profile.UserID, courseID)
	if err != nil {
		s.writeUpstreamError(w, "eligibility", err)
		return
	}
	if eligibility.Reason == enrollment.ReasonLockout {
		days := eligibility.DaysRemaining
		if days < 0 {
			days = 0
		}
		writeLocked(w, days)
		return
	}

	attempt, err := s.deps.Attempts.Start(r.Context(), exam.Params{
		StudentID:  profile.UserID,
		CourseID:   courseID,
		SchoolName: tenant.FromContext(r.Context()).Key,
		ExamType:   s.cfg.ExamType,
		SchoolID:   profile.SchoolID,
		Email:      profile.Email,
	})
	if err != nil {
		if errors.Is(err, exam.ErrMissingField) {
			writeError(w, http.StatusBadRequest, "missing_field")
			return
		}
		if attempt != nil {
			writeJSON(w, http.StatusBadGateway, attempt.View())
			return
		}
		s.writeUpstreamError(w, "start exam", err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt.View())
}
