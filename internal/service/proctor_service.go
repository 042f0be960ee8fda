package service

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// AuditReader reads persisted proctoring audit rows.
type AuditReader interface {
	GetViolationCounts(ctx context.Context, tenantID string) (map[string]int64, error)
	ListRecentSubmissions(ctx context.Context, tenantID string, limit int) ([]model.SubmissionAudit, error)
}

// ProctorService serves the proctor monitor's aggregate views.
type ProctorService struct {
	audits AuditReader
}

// NewProctorService creates a new ProctorService.
func NewProctorService(audits AuditReader) *ProctorService {
	return &ProctorService{audits: audits}
}

// RecentSubmissionLimit caps the submissions returned in a summary.
const RecentSubmissionLimit = 50

// GetSummary returns violation counts and recent submissions for a tenant.
// Both reads run in parallel; violation counts are best-effort.
func (s *ProctorService) GetSummary(ctx context.Context, tenantID string) (*model.ProctorSummary, error) {
	summary := &model.ProctorSummary{
		ViolationCounts: make(map[string]int64),
		Submissions:     []model.SubmissionAudit{},
	}

	var (
		counts  map[string]int64
		subs    []model.SubmissionAudit
		cntErr  error
		subsErr error
		wg      sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		subs, subsErr = s.audits.ListRecentSubmissions(ctx, tenantID, RecentSubmissionLimit)
	}()
	go func() {
		defer wg.Done()
		counts, cntErr = s.audits.GetViolationCounts(ctx, tenantID)
	}()
	wg.Wait()

	if subsErr != nil {
		return nil, subsErr
	}
	if subs != nil {
		summary.Submissions = subs
	}
	if cntErr == nil && counts != nil {
		summary.ViolationCounts = counts
	}
	return summary, nil
}
