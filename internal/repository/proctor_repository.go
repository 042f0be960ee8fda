package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProctorRepository reads the persisted proctoring audit for the live monitor.
type ProctorRepository struct {
	pool *pgxpool.Pool
}

// NewProctorRepository creates a new ProctorRepository.
func NewProctorRepository(pool *pgxpool.Pool) *ProctorRepository {
	return &ProctorRepository{pool: pool}
}

// GetViolationCounts returns the number of raised violations per cert
// transaction of a tenant, suppressed ones included.
func (r *ProctorRepository) GetViolationCounts(ctx context.Context, tenantID string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT cert_transaction_id, COUNT(*)
		 FROM proctor_violations
		 WHERE tenant_id = $1
		 GROUP BY cert_transaction_id`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var id string
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// ListRecentSubmissions returns the latest submission outcomes of a tenant.
func (r *ProctorRepository) ListRecentSubmissions(ctx context.Context, tenantID string, limit int) ([]model.SubmissionAudit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT cert_transaction_id, tenant_id, employee_id, reason, succeeded,
		        answered, total, COALESCE(message, ''), finished_at
		 FROM proctor_submissions
		 WHERE tenant_id = $1
		 ORDER BY finished_at DESC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SubmissionAudit
	for rows.Next() {
		var a model.SubmissionAudit
		if err := rows.Scan(
			&a.CertTransactionID, &a.TenantID, &a.EmployeeID, &a.Reason, &a.Succeeded,
			&a.Answered, &a.Total, &a.Message, &a.FinishedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
