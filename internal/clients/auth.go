package clients

import (
	"context"
	"net/http"
	"time"

	"eduvia/portal/internal/session"
)

// AuthClient logs one role in against the service that owns its accounts.
type AuthClient struct {
	rest   rest
	prefix string
}

// NewAuthClient targets prefix+"/login", "/refresh" and "/me" on baseURL.
func NewAuthClient(baseURL, prefix string, timeout time.Duration) *AuthClient {
	return &AuthClient{rest: newREST(baseURL, timeout), prefix: prefix}
}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type identity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	SchoolID   string `json:"schoolId"`
	SchoolName string `json:"schoolName"`
	Subdomain  string `json:"subdomain"`
}

func (i identity) profile(role session.Role) session.Profile {
	return session.Profile{
		UserID:     i.ID,
		Role:       role,
		Name:       i.Name,
		Email:      i.Email,
		SchoolID:   i.SchoolID,
		SchoolName: i.SchoolName,
		Subdomain:  i.Subdomain,
	}
}

type Login struct {
	Tokens
	Profile session.Profile
}

func (c *AuthClient) Login(ctx context.Context, role session.Role, email, password, subdomain string) (Login, error) {
	var resp struct {
		Tokens
		User identity `json:"user"`
	}
	err := c.rest.do(ctx, http.MethodPost, c.prefix+"/login", nil, "", map[string]string{
		"email":     email,
		"password":  password,
		"subdomain": subdomain,
	}, &resp)
	if err != nil {
		return Login{}, err
	}
	return Login{Tokens: resp.Tokens, Profile: resp.User.profile(role)}, nil
}

// Refresh exchanges a refresh token for a new access token. A rotated
// refresh token is returned when the service issues one.
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	var resp Tokens
	err := c.rest.do(ctx, http.MethodPost, c.prefix+"/refresh", nil, "", map[string]string{
		"refreshToken": refreshToken,
	}, &resp)
	if err != nil {
		return Tokens{}, err
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

func (c *AuthClient) Me(ctx context.Context, role session.Role, accessToken string) (session.Profile, error) {
	var resp identity
	if err := c.rest.do(ctx, http.MethodGet, c.prefix+"/me", nil, accessToken, nil, &resp); err != nil {
		return session.Profile{}, err
	}
	return resp.profile(role), nil
}
