package model

import "time"

// SessionState enumerates the proctored session states.
type SessionState string

const (
	SessionStateLoading    SessionState = "LOADING"
	SessionStateActive     SessionState = "ACTIVE"
	SessionStateSubmitting SessionState = "SUBMITTING"
	SessionStateSubmitted  SessionState = "SUBMITTED"
	SessionStateFailed     SessionState = "FAILED"
)

// Terminal reports whether no further transitions can happen.
func (s SessionState) Terminal() bool {
	return s == SessionStateSubmitted || s == SessionStateFailed
}

// SubmitReason records which trigger won the race to submit.
type SubmitReason string

const (
	SubmitReasonUser      SubmitReason = "USER"
	SubmitReasonExpired   SubmitReason = "EXPIRED"
	SubmitReasonViolation SubmitReason = "VIOLATION"
)

// Identity ties a session to the backend's certification transaction.
type Identity struct {
	CertTransactionID string `json:"cert_transaction_id"`
	TenantID          string `json:"tenant_id"`
	EmployeeID        string `json:"employee_id"`
	QuestionGroupID   string `json:"question_group_id,omitempty"`
}

// SessionSnapshot is the observable state of one session. It is what the
// client renders and what gets cached in Redis.
type SessionSnapshot struct {
	Identity
	State            SessionState  `json:"state"`
	Questions        []Question    `json:"questions,omitempty"`
	Answers          map[int]int   `json:"answers"`
	Completion       float64       `json:"completion"`
	TimeLimited      bool          `json:"time_limited"`
	TimeRemaining    int           `json:"time_remaining_seconds"`
	ViolationPending bool          `json:"violation_pending"`
	GraceRemaining   int           `json:"grace_remaining_seconds,omitempty"`
	HasSubmitted     bool          `json:"has_submitted"`
	SubmitReason     *SubmitReason `json:"submit_reason,omitempty"`
	Message          string        `json:"message,omitempty"`
	LoadError        string        `json:"load_error,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
