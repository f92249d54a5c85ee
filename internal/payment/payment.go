// Package payment creates checkout sessions for course fees and confirms
// them once the student comes back from the payment page.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNotPaid         = errors.New("checkout session not paid")
	ErrInvalidCheckout = errors.New("invalid checkout request")
)

// SessionIDPlaceholder is replaced by the provider with the session id in
// the success URL.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

type Checkout struct {
	StudentID   string  `json:"studentId"`
	Email       string  `json:"email,omitempty"`
	SchoolID    string  `json:"schoolId"`
	CourseID    string  `json:"courseId"`
	CourseTitle string  `json:"courseTitle"`
	Amount      float64 `json:"amount"`
	SuccessURL  string  `json:"successUrl"`
	CancelURL   string  `json:"cancelUrl"`
}

type Session struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	Paid      bool    `json:"paid"`
	StudentID string  `json:"studentId"`
	CourseID  string  `json:"courseId"`
	Amount    float64 `json:"amount"`
}

type Provider interface {
	CreateCheckout(ctx context.Context, c Checkout) (Session, error)
	Lookup(ctx context.Context, sessionID string) (Session, error)
}

// Recorder stores a confirmed payment so the purchase check opens the course.
type Recorder interface {
	SavePayment(ctx context.Context, s Session) error
}

type Service struct {
	provider Provider
	recorder Recorder
	baseURL  *url.URL
}

// NewService builds tenant links from publicBaseURL, e.g. https://eduvia.space.
func NewService(provider Provider, recorder Recorder, publicBaseURL string) (*Service, error) {
	base, err := url.Parse(strings.TrimRight(publicBaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid public base url %q", publicBaseURL)
	}
	return &Service{provider: provider, recorder: recorder, baseURL: base}, nil
}

// TenantURL is the absolute URL of path on the tenant's subdomain.
func (s *Service) TenantURL(tenantKey, path string) string {
	u := *s.baseURL
	if tenantKey != "" {
		u.Host = tenantKey + "." + u.Host
	}
	u.Path = path
	return u.String()
}

// Start opens a checkout session for one course. Return and cancel links
// point back to the tenant the student paid from.
func (s *Service) Start(ctx context.Context, tenantKey string, c Checkout) (Session, error) {
	if c.StudentID == "" || c.CourseID == "" || c.Amount <= 0 {
		return Session{}, ErrInvalidCheckout
	}
	if c.SuccessURL == "" {
		c.SuccessURL = s.TenantURL(tenantKey, "/payments/success") +
			"?courseId=" + url.QueryEscape(c.CourseID) + "&session_id=" + SessionIDPlaceholder
	}
	if c.CancelURL == "" {
		c.CancelURL = s.TenantURL(tenantKey, "/courses/"+c.CourseID)
	}
	session, err := s.provider.CreateCheckout(ctx, c)
	if err != nil {
		return Session{}, fmt.Errorf("create checkout: %w", err)
	}
	if session.URL == "" {
		return Session{}, errors.New("create checkout: provider returned no url")
	}
	return session, nil
}

// Complete confirms a session and records the payment. The session must
// name studentID as its owner; a session without owner metadata is refused.
func (s *Service) Complete(ctx context.Context, sessionID, studentID string) (Session, error) {
	session, err := s.provider.Lookup(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("lookup checkout: %w", err)
	}
	if studentID == "" || session.StudentID != studentID {
		return Session{}, ErrNotPaid
	}
	if !session.Paid {
		return session, ErrNotPaid
	}
	if err := s.recorder.SavePayment(ctx, session); err != nil {
		return Session{}, fmt.Errorf("save payment: %w", err)
	}
	return session, nil
}

// Record stores a session confirmed out of band, e.g. by a provider webhook.
func (s *Service) Record(ctx context.Context, session Session) error {
	if !session.Paid || session.StudentID == "" || session.CourseID == "" {
		return ErrNotPaid
	}
	if err := s.recorder.SavePayment(ctx, session); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}
