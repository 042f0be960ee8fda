package model

// AnswerRecord is one entry of the submission payload. UserAnswer is nil for
// an unanswered question; it is serialized as an explicit null.
type AnswerRecord struct {
	QuestionID int  `json:"questionId"`
	UserAnswer *int `json:"userAnswer"`
}

// Submission is the body sent to the Submission Gateway.
type Submission struct {
	CertTransactionID string         `json:"certTransactionId"`
	TenantID          string         `json:"tenantId"`
	EmployeeID        string         `json:"employeeId"`
	QuestionGroupID   *string        `json:"questionGroupId,omitempty"`
	Answers           []AnswerRecord `json:"answers"`
}

// Answered counts the records that carry a selection.
func (s *Submission) Answered() int {
	n := 0
	for _, a := range s.Answers {
		if a.UserAnswer != nil {
			n++
		}
	}
	return n
}
