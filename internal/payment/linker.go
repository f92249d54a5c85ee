package payment

import (
	"context"
	"fmt"

	"eduvia/portal/internal/enrollment"
	"eduvia/portal/internal/exam"
)

type CourseLookup interface {
	Get(ctx context.Context, courseID string) (enrollment.Course, error)
	Purchased(ctx context.Context, studentID, courseID string) (bool, error)
}

// ExamLinker picks where a student goes after passing the preliminary exam.
// The fee checkout is only opened when the enrollment decision is to pay;
// every other decision links back to the course page.
type ExamLinker struct {
	service *Service
	courses CourseLookup
}

func NewExamLinker(service *Service, courses CourseLookup) *ExamLinker {
	return &ExamLinker{service: service, courses: courses}
}

func (l *ExamLinker) CheckoutURL(ctx context.Context, p exam.Params) (string, error) {
	course, err := l.courses.Get(ctx, p.CourseID)
	if err != nil {
		return "", fmt.Errorf("course %s: %w", p.CourseID, err)
	}
	purchased, err := l.courses.Purchased(ctx, p.StudentID, p.CourseID)
	if err != nil {
		return "", fmt.Errorf("purchase status %s: %w", p.CourseID, err)
	}
	eligibility := enrollment.WithPassedMarker(enrollment.Eligibility{Eligible: true}, true)
	decision := enrollment.Decide(course, eligibility, purchased)
	if !decision.AllowsPayment() {
		return l.service.TenantURL(p.SchoolName, "/courses/"+course.ID), nil
	}

	session, err := l.service.Start(ctx, p.SchoolName, Checkout{
		StudentID:   p.StudentID,
		Email:       p.Email,
		SchoolID:    p.SchoolID,
		CourseID:    course.ID,
		CourseTitle: course.Title,
		Amount:      course.Fee,
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}
