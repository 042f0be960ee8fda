package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationRecord is one integrity signal that raised a violation, queued
// for persistence in proctor_violations.
type ViolationRecord struct {
	ID                uuid.UUID `json:"id"`
	CertTransactionID string    `json:"cert_transaction_id"`
	TenantID          string    `json:"tenant_id"`
	EmployeeID        string    `json:"employee_id"`
	Signal            string    `json:"signal"`
	// Suppressed is true when the violation arrived inside an already running
	// grace window and therefore changed nothing.
	Suppressed bool      `json:"suppressed"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SubmissionAudit is the outcome of the single submission attempt of a session.
type SubmissionAudit struct {
	CertTransactionID string       `json:"cert_transaction_id"`
	TenantID          string       `json:"tenant_id"`
	EmployeeID        string       `json:"employee_id"`
	Reason            SubmitReason `json:"reason"`
	Succeeded         bool         `json:"succeeded"`
	Answered          int          `json:"answered"`
	Total             int          `json:"total"`
	Message           string       `json:"message,omitempty"`
	FinishedAt        time.Time    `json:"finished_at"`
}

// MonitorEventType enumerates events pushed to the live proctor monitor.
type MonitorEventType string

const (
	MonitorEventStarted   MonitorEventType = "session_started"
	MonitorEventViolation MonitorEventType = "violation"
	MonitorEventSubmitted MonitorEventType = "submitted"
	MonitorEventFailed    MonitorEventType = "submit_failed"
	MonitorEventLoadError MonitorEventType = "load_failed"
)

// MonitorEvent is published on the tenant's proctor monitor channel.
type MonitorEvent struct {
	Type              MonitorEventType `json:"type"`
	CertTransactionID string           `json:"cert_transaction_id"`
	EmployeeID        string           `json:"employee_id"`
	Detail            string           `json:"detail,omitempty"`
	At                time.Time        `json:"at"`
}

// ProctorSummary aggregates audit rows for the monitor's initial snapshot.
type ProctorSummary struct {
	ViolationCounts map[string]int64  `json:"violation_counts"`
	Submissions     []SubmissionAudit `json:"submissions"`
}
