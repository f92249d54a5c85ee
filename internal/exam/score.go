package exam

import "math"

type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Marks         float64  `json:"marks"`
	Deleted       bool     `json:"isDeleted"`
}

func (q Question) hasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Active drops soft-deleted questions and keeps the original order.
func Active(questions []Question) []Question {
	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		if q.Deleted {
			continue
		}
		out = append(out, q)
	}
	return out
}

type QuestionResult struct {
	QuestionID string  `json:"questionId"`
	Selected   string  `json:"selected,omitempty"`
	Correct    string  `json:"correct"`
	Marks      float64 `json:"marks"`
	Awarded    float64 `json:"awarded"`
}

type Result struct {
	Obtained   float64          `json:"obtained"`
	Total      float64          `json:"total"`
	Percentage float64          `json:"percentage"`
	Passed     bool             `json:"passed"`
	Breakdown  []QuestionResult `json:"breakdown"`
}

// Score awards a question's marks only when its recorded answer equals the
// correct answer. Percentage is rounded to two decimals for display and is 0
// when the total is 0; the pass check uses the unrounded ratio. Score has no
// side effects.
func Score(questions []Question, answers map[string]string, threshold float64) Result {
	res := Result{Breakdown: make([]QuestionResult, 0, len(questions))}
	for _, q := range questions {
		selected, answered := answers[q.ID]
		item := QuestionResult{
			QuestionID: q.ID,
			Selected:   selected,
			Correct:    q.CorrectAnswer,
			Marks:      q.Marks,
		}
		if answered && selected == q.CorrectAnswer {
			item.Awarded = q.Marks
			res.Obtained += q.Marks
		}
		res.Total += q.Marks
		res.Breakdown = append(res.Breakdown, item)
	}
	var ratio float64
	if res.Total > 0 {
		ratio = res.Obtained / res.Total * 100
	}
	res.Percentage = math.Round(ratio*100) / 100
	res.Passed = ratio >= threshold
	return res
}
