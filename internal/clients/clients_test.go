package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"eduvia/portal/internal/enrollment"
	"eduvia/portal/internal/outbox"
	"eduvia/portal/internal/session"
	"eduvia/portal/internal/tenant"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func upstream(t *testing.T, routes func(r chi.Router)) string {
	t.Helper()
	r := chi.NewRouter()
	routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestAuthClientLoginRefreshMe(t *testing.T) {
	base := upstream(t, func(r chi.Router) {
		r.Post("/students/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["password"] != "secret" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"accessToken":  "access-1",
				"refreshToken": "refresh-1",
				"user":         map[string]string{"id": "student-1", "schoolId": "school-1", "subdomain": body["subdomain"]},
			})
		})
		r.Post("/students/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"accessToken": "access-2"})
		})
		r.Get("/students/auth/me", func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer access-2" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"id": "student-1", "name": "Ada"})
		})
	})
	client := NewAuthClient(base, "/students/auth", time.Second)
	ctx := context.Background()

	login, err := client.Login(ctx, session.RoleStudent, "ada@example.com", "secret", "gamersclub")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.AccessToken != "access-1" || login.Profile.Role != session.RoleStudent || login.Profile.Subdomain != "gamersclub" {
		t.Fatalf("unexpected login %+v", login)
	}

	_, err = client.Login(ctx, session.RoleStudent, "ada@example.com", "wrong", "gamersclub")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}

	tokens, err := client.Refresh(ctx, "refresh-1")
	if err != nil || tokens.AccessToken != "access-2" || tokens.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected refresh %+v %v", tokens, err)
	}

	profile, err := client.Me(ctx, session.RoleStudent, "access-2")
	if err != nil || profile.Name != "Ada" {
		t.Fatalf("unexpected profile %+v %v", profile, err)
	}
}

func TestSchoolClient(t *testing.T) {
	base := upstream(t, func(r chi.Router) {
		r.Get("/schools/subdomain/{sub}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "sub") != "gamersclub" {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
				return
			}
			writeJSON(w, http.StatusOK, tenant.School{ID: "school-1", Name: "Gamers Club", Subdomain: "gamersclub"})
		})
		r.Post("/schools/register", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "subdomain_taken"})
		})
		r.Get("/schools/{id}/verification", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
		})
		r.Post("/schools/{id}/database", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	client := NewSchoolClient(base, time.Second)
	ctx := context.Background()

	school, err := client.SchoolBySubdomain(ctx, "gamersclub")
	if err != nil || school.ID != "school-1" {
		t.Fatalf("unexpected school %+v %v", school, err)
	}
	if _, err := client.SchoolBySubdomain(ctx, "nobody"); !errors.Is(err, tenant.ErrSchoolNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.Register(ctx, SchoolRegistration{Name: "x"}); !errors.Is(err, ErrSubdomainTaken) {
		t.Fatalf("expected subdomain taken, got %v", err)
	}
	verified, err := client.VerificationStatus(ctx, "school-1")
	if err != nil || !verified {
		t.Fatalf("expected verified, got %v %v", verified, err)
	}
	if err := client.CreateTenantDatabase(ctx, "school-1"); err != nil {
		t.Fatalf("create database: %v", err)
	}
}

func TestExamClient(t *testing.T) {
	var reported map[string]interface{}
	base := upstream(t, func(r chi.Router) {
		r.Get("/exams/questions", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("courseId") != "course-1" || q.Get("schoolName") != "gamersclub" || q.Get("examType") != "final" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_query"})
				return
			}
			writeJSON(w, http.StatusOK, []map[string]interface{}{
				{"id": "q1", "text": "2+2", "options": []string{"3", "4"}, "correctAnswer": "4", "marks": 5},
				{"id": "q2", "text": "gone", "options": []string{"a"}, "correctAnswer": "a", "marks": 5, "isDeleted": true},
			})
		})
		r.Post("/exams/status", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&reported)
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/exams/eligibility", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"eligible": false, "reason": "lockout", "daysRemaining": 3})
		})
	})
	client := NewExamClient(base, time.Second)
	ctx := context.Background()

	questions, err := client.Questions(ctx, "course-1", "gamersclub", "final")
	if err != nil || len(questions) != 2 || !questions[1].Deleted || questions[0].Marks != 5 {
		t.Fatalf("unexpected questions %+v %v", questions, err)
	}

	err = client.ReportStatus(ctx, outbox.StatusSubmission{StudentID: "s", CourseID: "c", ExamType: "final", IsPassed: true, QueuedAt: time.Now()})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if reported["isPassed"] != true || reported["studentId"] != "s" {
		t.Fatalf("unexpected report body %v", reported)
	}
	if _, ok := reported["queuedAt"]; ok {
		t.Fatalf("queue timestamp must stay local")
	}

	eligibility, err := client.Eligibility(ctx, "s", "c")
	if err != nil || eligibility.Reason != enrollment.ReasonLockout || eligibility.DaysRemaining != 3 {
		t.Fatalf("unexpected eligibility %+v %v", eligibility, err)
	}
}

func TestCourseClient(t *testing.T) {
	base := upstream(t, func(r chi.Router) {
		r.Get("/courses", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []enrollment.Course{{ID: "c1", Fee: 10}, {ID: "c2"}})
		})
		r.Get("/courses/{id}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, enrollment.Course{ID: chi.URLParam(r, "id"), Fee: 25, RequiresPreliminary: true})
		})
		r.Get("/purchases/check", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"purchased": r.URL.Query().Get("courseId") == "c1"})
		})
		r.Get("/payments/session/{id}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"id": chi.URLParam(r, "id"), "paid": true, "courseId": "c1"})
		})
		r.Post("/enrollments/free", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
		})
	})
	client := NewCourseClient(base, time.Second)
	ctx := context.Background()

	courses, err := client.List(ctx, "school-1")
	if err != nil || len(courses) != 2 {
		t.Fatalf("unexpected courses %v %v", courses, err)
	}
	course, err := client.Get(ctx, "c9")
	if err != nil || course.ID != "c9" || !course.RequiresPreliminary {
		t.Fatalf("unexpected course %+v %v", course, err)
	}
	purchased, err := client.Purchased(ctx, "s", "c1")
	if err != nil || !purchased {
		t.Fatalf("expected purchased")
	}
	s, err := client.Lookup(ctx, "cs_1")
	if err != nil || !s.Paid || s.ID != "cs_1" {
		t.Fatalf("unexpected session %+v %v", s, err)
	}
	err = client.EnrollFree(ctx, "s", "c2")
	if !IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("expected upstream 500, got %v", err)
	}
}

func TestClientsPingHealth(t *testing.T) {
	healthy := upstream(t, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})
	down := upstream(t, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "db_unavailable"})
		})
	})
	ctx := context.Background()

	pingers := map[string]func(base string) interface{ Ping(context.Context) error }{
		"school": func(base string) interface{ Ping(context.Context) error } { return NewSchoolClient(base, time.Second) },
		"course": func(base string) interface{ Ping(context.Context) error } { return NewCourseClient(base, time.Second) },
		"exam":   func(base string) interface{ Ping(context.Context) error } { return NewExamClient(base, time.Second) },
	}
	for name, build := range pingers {
		if err := build(healthy).Ping(ctx); err != nil {
			t.Fatalf("%s: expected healthy, got %v", name, err)
		}
		if err := build(down).Ping(ctx); !IsStatus(err, http.StatusServiceUnavailable) {
			t.Fatalf("%s: expected 503, got %v", name, err)
		}
	}
}
