package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudits struct {
	counts    map[string]int64
	countsErr error
	subs      []model.SubmissionAudit
	subsErr   error
}

func (f *fakeAudits) GetViolationCounts(context.Context, string) (map[string]int64, error) {
	return f.counts, f.countsErr
}

func (f *fakeAudits) ListRecentSubmissions(_ context.Context, _ string, limit int) ([]model.SubmissionAudit, error) {
	if len(f.subs) > limit {
		return f.subs[:limit], f.subsErr
	}
	return f.subs, f.subsErr
}

func TestGetSummary(t *testing.T) {
	svc := NewProctorService(&fakeAudits{
		counts: map[string]int64{"ct-1": 2},
		subs:   []model.SubmissionAudit{{CertTransactionID: "ct-1", Succeeded: true}},
	})

	summary, err := svc.GetSummary(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.ViolationCounts["ct-1"])
	assert.Len(t, summary.Submissions, 1)
}

func TestGetSummaryViolationCountsBestEffort(t *testing.T) {
	svc := NewProctorService(&fakeAudits{countsErr: errors.New("timeout")})

	summary, err := svc.GetSummary(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, summary.ViolationCounts)
	assert.NotNil(t, summary.Submissions)
}

func TestGetSummarySubmissionsRequired(t *testing.T) {
	svc := NewProctorService(&fakeAudits{subsErr: errors.New("db down")})

	_, err := svc.GetSummary(context.Background(), "t1")
	assert.Error(t, err)
}
