package clients

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"eduvia/portal/internal/enrollment"
	"eduvia/portal/internal/exam"
	"eduvia/portal/internal/outbox"
)

type ExamClient struct {
	rest rest
}

func NewExamClient(baseURL string, timeout time.Duration) *ExamClient {
	return &ExamClient{rest: newREST(baseURL, timeout)}
}

func (c *ExamClient) Questions(ctx context.Context, courseID, schoolName, examType string) ([]exam.Question, error) {
	var questions []exam.Question
	query := url.Values{
		"courseId":   {courseID},
		"schoolName": {schoolName},
		"examType":   {examType},
	}
	if err := c.rest.do(ctx, http.MethodGet, "/exams/questions", query, "", nil, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func (c *ExamClient) ReportStatus(ctx context.Context, sub outbox.StatusSubmission) error {
	return c.rest.do(ctx, http.MethodPost, "/exams/status", nil, "", map[string]interface{}{
		"studentId": sub.StudentID,
		"courseId":  sub.CourseID,
		"examType":  sub.ExamType,
		"isPassed":  sub.IsPassed,
	}, nil)
}

func (c *ExamClient) Eligibility(ctx context.Context, studentID, courseID string) (enrollment.Eligibility, error) {
	var resp struct {
		Eligible      bool   `json:"eligible"`
		Reason        string `json:"reason"`
		DaysRemaining int    `json:"daysRemaining"`
	}
	query := url.Values{"studentId": {studentID}, "courseId": {courseID}}
	if err := c.rest.do(ctx, http.MethodGet, "/exams/eligibility", query, "", nil, &resp); err != nil {
		return enrollment.Eligibility{}, err
	}
	return enrollment.Eligibility{
		Eligible:      resp.Eligible,
		Reason:        enrollment.ParseReason(resp.Reason),
		DaysRemaining: resp.DaysRemaining,
	}, nil
}

func (c *ExamClient) Ping(ctx context.Context) error {
	return c.rest.ping(ctx)
}
