package appstate

import (
	"errors"
	"strings"
)

var ErrUnknownSection = errors.New("unknown dashboard section")

// Section is one panel of the school dashboard.
type Section string

const (
	SectionOverview Section = "overview"
	SectionCourses  Section = "courses"
	SectionStudents Section = "students"
	SectionExams    Section = "exams"
	SectionPayments Section = "payments"
	SectionSettings Section = "settings"
)

var sections = []Section{
	SectionOverview,
	SectionCourses,
	SectionStudents,
	SectionExams,
	SectionPayments,
	SectionSettings,
}

// Sections lists every section in menu order.
func Sections() []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	return out
}

func ParseSection(value string) (Section, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return SectionOverview, nil
	}
	for _, s := range sections {
		if string(s) == value {
			return s, nil
		}
	}
	return "", ErrUnknownSection
}
