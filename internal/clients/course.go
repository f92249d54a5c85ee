package clients

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"eduvia/portal/internal/enrollment"
	"eduvia/portal/internal/payment"
)

type CourseClient struct {
	rest rest
}

func NewCourseClient(baseURL string, timeout time.Duration) *CourseClient {
	return &CourseClient{rest: newREST(baseURL, timeout)}
}

func (c *CourseClient) List(ctx context.Context, schoolID string) ([]enrollment.Course, error) {
	var courses []enrollment.Course
	query := url.Values{"schoolId": {schoolID}}
	if err := c.rest.do(ctx, http.MethodGet, "/courses", query, "", nil, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

func (c *CourseClient) Get(ctx context.Context, courseID string) (enrollment.Course, error) {
	var course enrollment.Course
	if err := c.rest.do(ctx, http.MethodGet, "/courses/"+url.PathEscape(courseID), nil, "", nil, &course); err != nil {
		return enrollment.Course{}, err
	}
	return course, nil
}

func (c *CourseClient) Purchased(ctx context.Context, studentID, courseID string) (bool, error) {
	var resp struct {
		Purchased bool `json:"purchased"`
	}
	query := url.Values{"studentId": {studentID}, "courseId": {courseID}}
	if err := c.rest.do(ctx, http.MethodGet, "/purchases/check", query, "", nil, &resp); err != nil {
		return false, err
	}
	return resp.Purchased, nil
}

func (c *CourseClient) EnrollFree(ctx context.Context, studentID, courseID string) error {
	return c.rest.do(ctx, http.MethodPost, "/enrollments/free", nil, "", map[string]string{
		"studentId": studentID,
		"courseId":  courseID,
	}, nil)
}

// CreateCheckout and Lookup let the course service act as the payment provider.
func (c *CourseClient) CreateCheckout(ctx context.Context, checkout payment.Checkout) (payment.Session, error) {
	var s payment.Session
	if err := c.rest.do(ctx, http.MethodPost, "/payments/checkout-session", nil, "", checkout, &s); err != nil {
		return payment.Session{}, err
	}
	return s, nil
}

func (c *CourseClient) Lookup(ctx context.Context, sessionID string) (payment.Session, error) {
	var s payment.Session
	if err := c.rest.do(ctx, http.MethodGet, "/payments/session/"+url.PathEscape(sessionID), nil, "", nil, &s); err != nil {
		return payment.Session{}, err
	}
	return s, nil
}

func (c *CourseClient) SavePayment(ctx context.Context, s payment.Session) error {
	return c.rest.do(ctx, http.MethodPost, "/payments", nil, "", map[string]interface{}{
		"sessionId": s.ID,
		"studentId": s.StudentID,
		"courseId":  s.CourseID,
		"amount":    s.Amount,
	}, nil)
}

func (c *CourseClient) Ping(ctx context.Context) error {
	return c.rest.ping(ctx)
}
