package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eduvia/portal/internal/appstate"
	"eduvia/portal/internal/asset"
	"eduvia/portal/internal/clients"
	"eduvia/portal/internal/config"
	"eduvia/portal/internal/enrollment"
	"eduvia/portal/internal/exam"
	"eduvia/portal/internal/payment"
	"eduvia/portal/internal/session"
	"eduvia/portal/internal/tenant"
	"eduvia/portal/internal/validation"
)

type SchoolDirectory interface {
	Lookup(ctx context.Context, key string) (tenant.School, error)
}

type SchoolRegistrar interface {
	Register(ctx context.Context, reg clients.SchoolRegistration) (tenant.School, error)
	VerificationStatus(ctx context.Context, schoolID string) (bool, error)
	CreateTenantDatabase(ctx context.Context, schoolID string) error
}

type Authenticator interface {
	Login(ctx context.Context, role session.Role, email, password, subdomain string) (clients.Login, error)
	Refresh(ctx context.Context, refreshToken string) (clients.Tokens, error)
	Me(ctx context.Context, role session.Role, accessToken string) (session.Profile, error)
}

type CourseCatalog interface {
	List(ctx context.Context, schoolID string) ([]enrollment.Course, error)
	Get(ctx context.Context, courseID string) (enrollment.Course, error)
	Purchased(ctx context.Context, studentID, courseID string) (bool, error)
	EnrollFree(ctx context.Context, studentID, courseID string) error
}

type EligibilityChecker interface {
	Eligibility(ctx context.Context, studentID, courseID string) (enrollment.Eligibility, error)
}

type PassedLookup interface {
	HasPassed(ctx context.Context, courseID, studentID string) (bool, error)
}

// WebhookParser is satisfied by *payment.StripeCheckout.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (payment.Session, bool, error)
}

// Deps are the collaborators of the gateway. Webhooks and Uploads are optional.
type Deps struct {
	Resolver  *tenant.Resolver
	Schools   SchoolDirectory
	Registrar SchoolRegistrar
	Jar       *session.Jar
	Auth      map[session.Role]Authenticator
	Courses   CourseCatalog
	Exams     EligibilityChecker
	Markers   PassedLookup
	Payments  *payment.Service
	Webhooks  WebhookParser
	Attempts  *exam.Registry
	State     appstate.Store
	Uploads   asset.Uploader
	Logger    *slog.Logger
}

type Server struct {
	cfg      config.Config
	deps     Deps
	gate     *session.Gate
	sections map[appstate.Section]sectionLoader
	logger   *slog.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		gate:   session.NewGate(deps.Jar),
		logger: logger,
	}
	s.sections = s.sectionLoaders()
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(tenant.Middleware(s.deps.Resolver))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/context", s.handleContext)

	r.Route("/schools", func(r chi.Router) {
		r.Use(tenant.RequireMarketing)
		r.Post("/register", s.handleRegisterSchool)
		r.Get("/{schoolId}/verification", s.handleVerification)
	})

	r.Route("/{role}", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/session", s.handleSession)
	})

	r.With(tenant.RequireTenant).Get("/school/dashboard/{section}", s.handleDashboard)

	r.Get("/state", s.handleGetState)
	r.Post("/state/actions", s.handleStateAction)

	r.Group(func(r chi.Router) {
		r.Use(tenant.RequireTenant, s.gate.Require(session.RoleStudent), s.requireSameTenant)
		r.Get("/courses", s.handleListCourses)
		r.Get("/courses/{courseId}/enrollment", s.handleEnrollment)
		r.Post("/courses/{courseId}/checkout", s.handleCheckout)
		r.Post("/courses/{courseId}/enroll", s.handleEnrollFree)
		r.Post("/courses/{courseId}/exam", s.handleStartExam)
		r.Get("/payments/success", s.handlePaymentSuccess)

		r.Route("/exams/{attemptId}", func(r chi.Router) {
			r.Use(s.attemptMiddleware)
			r.Get("/", s.handleGetAttempt)
			r.Put("/answers/{questionId}", s.handleAnswer)
			r.Post("/navigate", s.handleNavigate)
			r.Post("/dialog", s.handleDialog)
			r.Post("/submit", s.handleSubmit)
			r.Post("/retry-submission", s.handleRetrySubmission)
			r.Post("/retry-redirect", s.handleRetryRedirect)
		})
	})

	r.Post("/payments/webhook", s.handleWebhook)
	r.With(s.requireAnyRole).Post("/uploads", s.handleUpload)

	return r
}

type contextResponse struct {
	Kind   string         `json:"kind"`
	Key    string         `json:"key,omitempty"`
	School *tenant.School `json:"school,omitempty"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	res := tenant.FromContext(r.Context())
	resp := contextResponse{Kind: res.Kind.String(), Key: res.Key}
	if !res.HasTenant() {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	school, err := s.deps.Schools.Lookup(r.Context(), res.Key)
	if err != nil {
		s.writeUpstreamError(w, "school lookup", err)
		return
	}
	resp.School = &school
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterSchool(w http.ResponseWriter, r *http.Request) {
	var req clients.SchoolRegistration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}
	if s.deps.Resolver.Resolve(req.Subdomain+"."+s.cfg.RootDomain).Kind != tenant.Tenant {
		writeError(w, http.StatusBadRequest, "reserved_subdomain")
		return
	}

	school, err := s.deps.Registrar.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, clients.ErrSubdomainTaken) {
			writeError(w, http.StatusConflict, "subdomain_taken")
			return
		}
		s.writeUpstreamError(w, "register school", err)
		return
	}

	databaseReady := true
	if err := s.deps.Registrar.CreateTenantDatabase(r.Context(), school.ID); err != nil {
		databaseReady = false
		s.logger.Warn("tenant database not created", "school_id", school.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"school":        school,
		"databaseReady": databaseReady,
		"url":           s.deps.Payments.TenantURL(school.Subdomain, "/login"),
	})
}

func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	verified, err := s.deps.Registrar.VerificationStatus(r.Context(), chi.URLParam(r, "schoolId"))
	if err != nil {
		s.writeUpstreamError(w, "verification status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

// writeUpstreamError maps a collaborator failure onto the gateway's codes.
func (s *Server) writeUpstreamError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, tenant.ErrSchoolNotFound):
		writeError(w, http.StatusNotFound, "school_not_found")
	case clients.IsStatus(err, http.StatusNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case clients.IsStatus(err, http.StatusUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request_cancelled")
	default:
		s.logger.Error("upstream call failed", "op", op, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_unavailable")
	}
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "invalid_request",
		"fields": validation.Fields(err),
	})
}
