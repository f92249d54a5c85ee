// Package session holds per-role credential cookies and the gate that decides
// whether a protected view may render.
package session

import (
	"net/http"
	"strings"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleSchool  Role = "school"
	RoleStudent Role = "student"
)

var roles = map[Role]string{
	RoleAdmin:   "/admin/login",
	RoleSchool:  "/login",
	RoleStudent: "/student/login",
}

func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	_, ok := roles[role]
	return role, ok
}

// Every cookie name is prefixed with the role so namespaces never overlap.
func (r Role) AccessCookie() string  { return string(r) + "_access_token" }
func (r Role) RefreshCookie() string { return string(r) + "_refresh_token" }
func (r Role) ProfileCookie() string { return string(r) + "_profile" }
func (r Role) LoginPath() string     { return roles[r] }

// Credentials mirrors the three cookies of one role. Empty means absent.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Profile      string
}

type State int

const (
	Unknown State = iota
	Authorized
	Unauthorized
)

func (s State) String() string {
	switch s {
	case Authorized:
		return "authorized"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Check authorizes iff all three credentials are present.
func Check(c Credentials) State {
	if c.AccessToken == "" || c.RefreshToken == "" || c.Profile == "" {
		return Unauthorized
	}
	return Authorized
}

// Read collects the credentials of one role from the request cookies.
func Read(r *http.Request, role Role) Credentials {
	return Credentials{
		AccessToken:  cookieValue(r, role.AccessCookie()),
		RefreshToken: cookieValue(r, role.RefreshCookie()),
		Profile:      cookieValue(r, role.ProfileCookie()),
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// Profile is the decoded content of the profile cookie.
type Profile struct {
	UserID     string `json:"id"`
	Role       Role   `json:"role"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	SchoolID   string `json:"schoolId,omitempty"`
	SchoolName string `json:"schoolName,omitempty"`
	Subdomain  string `json:"subdomain,omitempty"`
}
