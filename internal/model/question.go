package model

// MaxOptions is the largest number of choices a question can carry.
const MaxOptions = 5

// Question is a single assessment question as shown to the test-taker.
// It never carries the correct answer.
type Question struct {
	ID      int      `json:"question_id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

// Option is one selectable choice. Number is 1-based and stable even when
// some of the five slots are absent.
type Option struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// HasOption reports whether n is one of the question's present choices.
func (q Question) HasOption(n int) bool {
	for _, o := range q.Options {
		if o.Number == n {
			return true
		}
	}
	return false
}

// ReviewQuestion is the answer-key view of a question, used only in
// review contexts and never sent to an in-progress session.
type ReviewQuestion struct {
	Question
	CorrectOption *int `json:"correct_option,omitempty"`
}

// QuestionSource identifies where the question set of a session comes from.
// Exactly one of the two fields is set.
type QuestionSource struct {
	QuestionGroupID string `form:"question_group_id" json:"question_group_id,omitempty" binding:"required_without=CertificationID,max=64"`
	CertificationID string `form:"certification_id" json:"certification_id,omitempty" binding:"required_without=QuestionGroupID,excluded_with=QuestionGroupID,max=64"`
}

// QuestionSet is the fetched, ordered question list of one assessment.
// TimeLimitSeconds <= 0 means the assessment has unlimited time.
type QuestionSet struct {
	Questions        []Question `json:"questions"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
}
