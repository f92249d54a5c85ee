// Package enrollment decides what a student may do with a course given the
// facts gathered by the caller. It performs no I/O.
package enrollment

type Action string

const (
	OpenCourse Action = "open_course"
	EnrollFree Action = "enroll_free"
	PayFee     Action = "pay_fee"
	GoToExam   Action = "go_to_exam"
	Locked     Action = "locked"
)

type Reason string

const (
	ReasonNone          Reason = "none"
	ReasonAlreadyPassed Reason = "already_passed"
	ReasonLockout       Reason = "lockout"
)

// ParseReason maps unknown or empty values to ReasonNone.
func ParseReason(value string) Reason {
	switch Reason(value) {
	case ReasonAlreadyPassed:
		return ReasonAlreadyPassed
	case ReasonLockout:
		return ReasonLockout
	default:
		return ReasonNone
	}
}

type Course struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	Fee                 float64 `json:"fee"`
	RequiresPreliminary bool    `json:"requiresPreliminary"`
}

type Eligibility struct {
	Eligible      bool   `json:"eligible"`
	Reason        Reason `json:"reason"`
	DaysRemaining int    `json:"daysRemaining,omitempty"`
}

type Decision struct {
	Action        Action `json:"action"`
	DaysRemaining int    `json:"daysRemaining,omitempty"`
}

// AllowsPayment reports whether a checkout session may be created.
func (d Decision) AllowsPayment() bool {
	return d.Action == PayFee
}

func Decide(course Course, eligibility Eligibility, purchased bool) Decision {
	if purchased {
		return Decision{Action: OpenCourse}
	}
	if course.Fee <= 0 {
		return Decision{Action: EnrollFree}
	}
	if eligibility.Reason == ReasonLockout {
		days := eligibility.DaysRemaining
		if days < 0 {
			days = 0
		}
		return Decision{Action: Locked, DaysRemaining: days}
	}
	if course.RequiresPreliminary && eligibility.Reason != ReasonAlreadyPassed {
		return Decision{Action: GoToExam}
	}
	return Decision{Action: PayFee}
}

// WithPassedMarker upgrades eligibility when a pass was recorded locally but
// the backend has not caught up yet. A lockout always wins.
func WithPassedMarker(eligibility Eligibility, passed bool) Eligibility {
	if !passed || eligibility.Reason == ReasonLockout {
		return eligibility
	}
	eligibility.Reason = ReasonAlreadyPassed
	return eligibility
}
