package clients

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"eduvia/portal/internal/tenant"
)

type SchoolClient struct {
	rest rest
}

func NewSchoolClient(baseURL string, timeout time.Duration) *SchoolClient {
	return &SchoolClient{rest: newREST(baseURL, timeout)}
}

func (c *SchoolClient) SchoolBySubdomain(ctx context.Context, subdomain string) (tenant.School, error) {
	var school tenant.School
	err := c.rest.do(ctx, http.MethodGet, "/schools/subdomain/"+url.PathEscape(subdomain), nil, "", nil, &school)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return tenant.School{}, tenant.ErrSchoolNotFound
		}
		return tenant.School{}, err
	}
	return school, nil
}

type SchoolRegistration struct {
	Name      string `json:"name" validate:"notblank"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Subdomain string `json:"subdomain" validate:"required,hostname_rfc1123,excludes=."`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
}

var ErrSubdomainTaken = errors.New("subdomain already taken")

func (c *SchoolClient) Register(ctx context.Context, reg SchoolRegistration) (tenant.School, error) {
	var school tenant.School
	if err := c.rest.do(ctx, http.MethodPost, "/schools/register", nil, "", reg, &school); err != nil {
		if IsStatus(err, http.StatusConflict) {
			return tenant.School{}, ErrSubdomainTaken
		}
		return tenant.School{}, err
	}
	return school, nil
}

func (c *SchoolClient) VerificationStatus(ctx context.Context, schoolID string) (bool, error) {
	var resp struct {
		Verified bool `json:"verified"`
	}
	if err := c.rest.do(ctx, http.MethodGet, "/schools/"+url.PathEscape(schoolID)+"/verification", nil, "", nil, &resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

func (c *SchoolClient) CreateTenantDatabase(ctx context.Context, schoolID string) error {
	return c.rest.do(ctx, http.MethodPost, "/schools/"+url.PathEscape(schoolID)+"/database", nil, "", nil, nil)
}

func (c *SchoolClient) Ping(ctx context.Context) error {
	return c.rest.ping(ctx)
}
