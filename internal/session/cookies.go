package session

import (
	"errors"
	"net/http"
	"time"

	"eduvia/portal/internal/auth"
)

var ErrInvalidProfile = errors.New("invalid profile cookie")

type JarConfig struct {
	Domain        string
	Secure        bool
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ProfileTTL    time.Duration
	ProfileSecret string
	Issuer        string
}

// Jar writes and reads the cookie set of each role. The profile cookie is a
// signed token so it cannot be edited client side.
type Jar struct {
	cfg JarConfig
}

func NewJar(cfg JarConfig) *Jar {
	return &Jar{cfg: cfg}
}

// Write sets all three cookies of a role. Nothing is written if the profile
// cannot be signed.
func (j *Jar) Write(w http.ResponseWriter, role Role, accessToken, refreshToken string, profile Profile) error {
	profileToken, err := j.SignProfile(role, profile)
	if err != nil {
		return err
	}
	http.SetCookie(w, j.cookie(role.AccessCookie(), accessToken, j.cfg.AccessTTL))
	http.SetCookie(w, j.cookie(role.RefreshCookie(), refreshToken, j.cfg.RefreshTTL))
	http.SetCookie(w, j.cookie(role.ProfileCookie(), profileToken, j.cfg.ProfileTTL))
	return nil
}

// WriteAccess replaces only the access token, keeping refresh and profile.
func (j *Jar) WriteAccess(w http.ResponseWriter, role Role, accessToken string) {
	http.SetCookie(w, j.cookie(role.AccessCookie(), accessToken, j.cfg.AccessTTL))
}

// WriteRefresh replaces a rotated refresh token.
func (j *Jar) WriteRefresh(w http.ResponseWriter, role Role, refreshToken string) {
	http.SetCookie(w, j.cookie(role.RefreshCookie(), refreshToken, j.cfg.RefreshTTL))
}

// WriteProfile re-issues the profile cache cookie.
func (j *Jar) WriteProfile(w http.ResponseWriter, role Role, profile Profile) (string, error) {
	profileToken, err := j.SignProfile(role, profile)
	if err != nil {
		return "", err
	}
	j.SetProfile(w, role, profileToken)
	return profileToken, nil
}

// SetProfile writes an already signed profile token.
func (j *Jar) SetProfile(w http.ResponseWriter, role Role, profileToken string) {
	http.SetCookie(w, j.cookie(role.ProfileCookie(), profileToken, j.cfg.ProfileTTL))
}

// Clear expires the three cookies of a role together.
func (j *Jar) Clear(w http.ResponseWriter, role Role) {
	for _, name := range []string{role.AccessCookie(), role.RefreshCookie(), role.ProfileCookie()} {
		c := j.cookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

// Profile decodes a profile cookie value and checks it belongs to role.
func (j *Jar) Profile(role Role, value string) (Profile, error) {
	if value == "" {
		return Profile{}, ErrInvalidProfile
	}
	claims, err := auth.ParseProfileToken(j.cfg.ProfileSecret, j.cfg.Issuer, value)
	if err != nil {
		return Profile{}, ErrInvalidProfile
	}
	if claims.Role != string(role) {
		return Profile{}, ErrInvalidProfile
	}
	return Profile{
		UserID:     claims.UserID,
		Role:       role,
		Name:       claims.Name,
		Email:      claims.Email,
		SchoolID:   claims.SchoolID,
		SchoolName: claims.SchoolName,
		Subdomain:  claims.Subdomain,
	}, nil
}

// SignProfile signs profile for role without writing a cookie.
func (j *Jar) SignProfile(role Role, profile Profile) (string, error) {
	return auth.NewProfileToken(j.cfg.ProfileSecret, j.cfg.Issuer, j.cfg.ProfileTTL, auth.ProfileClaims{
		UserID:     profile.UserID,
		Role:       string(role),
		Name:       profile.Name,
		Email:      profile.Email,
		SchoolID:   profile.SchoolID,
		SchoolName: profile.SchoolName,
		Subdomain:  profile.Subdomain,
	})
}

func (j *Jar) cookie(name, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.cfg.Domain,
		HttpOnly: true,
		Secure:   j.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl / time.Second)
		c.Expires = time.Now().Add(ttl).UTC()
	}
	return c
}
