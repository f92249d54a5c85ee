package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"eduvia/portal/internal/appstate"
	"eduvia/portal/internal/clients"
	"eduvia/portal/internal/enrollment"
	"eduvia/portal/internal/session"
	"eduvia/portal/internal/tenant"
	"eduvia/portal/internal/validation"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Profile  session.Profile `json:"profile"`
	Redirect string          `json:"redirect"`
}

var homePaths = map[session.Role]string{
	session.RoleAdmin:   "/admin/dashboard",
	session.RoleSchool:  "/school/dashboard/overview",
	session.RoleStudent: "/courses",
}

func (s *Server) roleParam(w http.ResponseWriter, r *http.Request) (session.Role, Authenticator, bool) {
	role, ok := session.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_role")
		return "", nil, false
	}
	authn, ok := s.deps.Auth[role]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_role")
		return "", nil, false
	}
	return role, authn, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	role, authn, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := validation.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	res := tenant.FromContext(r.Context())
	if role == session.RoleStudent && !res.HasTenant() {
		writeError(w, http.StatusNotFound, "tenant_required")
		return
	}

	login, err := authn.Login(r.Context(), role, req.Email, req.Password, res.Key)
	if err != nil {
		if clients.IsStatus(err, http.StatusUnauthorized) || clients.IsStatus(err, http.StatusNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		s.writeUpstreamError(w, "login", err)
		return
	}
	if res.HasTenant() && !sameTenant(login.Profile, res.Key) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err := s.deps.Jar.Write(w, role, login.AccessToken, login.RefreshToken, login.Profile); err != nil {
		s.logger.Error("profile cookie not signed", "role", string(role), "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.logger.Info("login", "role", string(role), "user_id", login.Profile.UserID, "tenant", res.Key)
	writeJSON(w, http.StatusOK, loginResponse{Profile: login.Profile, Redirect: homePaths[role]})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	role, _, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	s.deps.Jar.Clear(w, role)
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh exchanges the refresh cookie for a new access token. A
// rejected refresh token ends the session.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	role, authn, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	creds := session.Read(r, role)
	if creds.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, "missing_refresh_token")
		return
	}
	tokens, err := authn.Refresh(r.Context(), creds.RefreshToken)
	if err != nil {
		if clients.IsStatus(err, http.StatusUnauthorized) || clients.IsStatus(err, http.StatusForbidden) {
			s.deps.Jar.Clear(w, role)
			writeError(w, http.StatusUnauthorized, "session_expired")
			return
		}
		s.writeUpstreamError(w, "refresh", err)
		return
	}
	s.deps.Jar.WriteAccess(w, role, tokens.AccessToken)
	if tokens.RefreshToken != creds.RefreshToken {
		s.deps.Jar.WriteRefresh(w, role, tokens.RefreshToken)
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	State     string           `json:"state"`
	Profile   *session.Profile `json:"profile,omitempty"`
	LoginPath string           `json:"loginPath"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	role, _, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	state, profile := s.gate.Decide(role, session.Read(r, role))
	resp := sessionResponse{State: state.String(), LoginPath: role.LoginPath()}
	if state == session.Authorized {
		resp.Profile = &profile
	}
	writeJSON(w, http.StatusOK, resp)
}

// establish commits the credentials of one role. A missing or unreadable
// profile cookie is rebuilt from the access token; the signed replacement is
// returned so the caller can write it.
func (s *Server) establish(ctx context.Context, role session.Role, creds session.Credentials) (session.Credentials, string, error) {
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return creds, "", nil
	}
	if _, err := s.deps.Jar.Profile(role, creds.Profile); err == nil {
		return creds, "", nil
	}
	authn, ok := s.deps.Auth[role]
	if !ok {
		return creds, "", nil
	}
	profile, err := authn.Me(ctx, role, creds.AccessToken)
	if err != nil {
		return session.Credentials{}, "", err
	}
	token, err := s.deps.Jar.SignProfile(role, profile)
	if err != nil {
		return session.Credentials{}, "", err
	}
	creds.Profile = token
	return creds, token, nil
}

type sectionLoader func(ctx context.Context, school tenant.School) (interface{}, error)

func (s *Server) sectionLoaders() map[appstate.Section]sectionLoader {
	courses := func(keep func(c enrollment.Course) bool) sectionLoader {
		return func(ctx context.Context, school tenant.School) (interface{}, error) {
			list, err := s.deps.Courses.List(ctx, school.ID)
			if err != nil {
				return nil, err
			}
			out := make([]enrollment.Course, 0, len(list))
			for _, c := range list {
				if keep(c) {
					out = append(out, c)
				}
			}
			return map[string]interface{}{"courses": out}, nil
		}
	}
	return map[appstate.Section]sectionLoader{
		appstate.SectionOverview: func(ctx context.Context, school tenant.School) (interface{}, error) {
			verified, err := s.deps.Registrar.VerificationStatus(ctx, school.ID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"verified": verified}, nil
		},
		appstate.SectionCourses:  courses(func(enrollment.Course) bool { return true }),
		appstate.SectionExams:    courses(func(c enrollment.Course) bool { return c.RequiresPreliminary }),
		appstate.SectionPayments: courses(func(c enrollment.Course) bool { return c.Fee > 0 }),
		appstate.SectionStudents: func(_ context.Context, school tenant.School) (interface{}, error) {
			return map[string]string{"schoolId": school.ID}, nil
		},
		appstate.SectionSettings: func(_ context.Context, school tenant.School) (interface{}, error) {
			return map[string]interface{}{"school": school}, nil
		},
	}
}

type dashboardResponse struct {
	Section appstate.Section `json:"section"`
	School  tenant.School    `json:"school"`
	Profile session.Profile  `json:"profile"`
	Data    interface{}      `json:"data"`
}

type schoolResult struct {
	school tenant.School
	err    error
}

// handleDashboard waits for the school session to be established before
// deciding. The school lookup runs alongside.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	res := tenant.FromContext(r.Context())
	section, err := appstate.ParseSection(chi.URLParam(r, "section"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_section")
		return
	}
	load, ok := s.sections[section]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_section")
		return
	}

	schoolCh := make(chan schoolResult, 1)
	go func() {
		school, err := s.deps.Schools.Lookup(r.Context(), res.Key)
		schoolCh <- schoolResult{school: school, err: err}
	}()

	var reissued string
	creds := session.Read(r, session.RoleSchool)
	est := session.Establish(r.Context(), func(ctx context.Context) (session.Credentials, error) {
		committed, token, err := s.establish(ctx, session.RoleSchool, creds)
		reissued = token
		return committed, err
	})

	waitCtx, cancel := context.WithTimeout(r.Context(), s.cfg.SessionEstablishWait)
	defer cancel()
	state, profile, err := s.gate.Await(waitCtx, session.RoleSchool, est)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "session_pending")
		return
	}
	if state != session.Authorized || !sameTenant(profile, res.Key) {
		http.Redirect(w, r, session.RoleSchool.LoginPath(), http.StatusSeeOther)
		return
	}
	if reissued != "" {
		s.deps.Jar.SetProfile(w, session.RoleSchool, reissued)
	}

	sr := <-schoolCh
	if sr.err != nil {
		s.writeUpstreamError(w, "school lookup", sr.err)
		return
	}
	data, err := load(r.Context(), sr.school)
	if err != nil {
		s.writeUpstreamError(w, "dashboard "+string(section), err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{Section: section, School: sr.school, Profile: profile, Data: data})
}

// sameTenant rejects a profile issued for another school's subdomain.
func sameTenant(profile session.Profile, key string) bool {
	return profile.Subdomain == "" || key == "" || strings.EqualFold(profile.Subdomain, key)
}

func (s *Server) requireSameTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile, _ := session.ProfileFromContext(r.Context())
		if !sameTenant(profile, tenant.FromContext(r.Context()).Key) {
			http.Redirect(w, r, profile.Role.LoginPath(), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAnyRole admits a request carrying a complete session of any role.
func (s *Server) requireAnyRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, role := range []session.Role{session.RoleSchool, session.RoleStudent, session.RoleAdmin} {
			if state, profile := s.gate.Decide(role, session.Read(r, role)); state == session.Authorized {
				next.ServeHTTP(w, r.WithContext(session.ContextWithProfile(r.Context(), profile)))
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}
