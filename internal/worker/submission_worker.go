package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SubmissionWorker consumes persist_submissions_queue and upserts one row
// per certification transaction into proctor_submissions.
type SubmissionWorker struct {
	db   DB
	loop *batchLoop[model.SubmissionAudit]
	log  zerolog.Logger
}

// NewSubmissionWorker creates a new SubmissionWorker.
func NewSubmissionWorker(db DB, rdb *redis.Client, log zerolog.Logger) *SubmissionWorker {
	w := &SubmissionWorker{
		db:  db,
		log: log.With().Str("component", "submission_worker").Logger(),
	}
	w.loop = &batchLoop[model.SubmissionAudit]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistSubmissionsQueue,
		log:   w.log,
		flush: w.flushSafe,
	}
	return w
}

// Start runs until ctx is cancelled, then flushes what it holds. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SubmissionWorker started")
	w.loop.run(ctx)
	w.log.Info().Msg("SubmissionWorker stopped")
}

const upsertSubmissionsSQL = `
	INSERT INTO proctor_submissions
		(cert_transaction_id, tenant_id, employee_id, reason, succeeded, answered, total, message, finished_at)
	SELECT * FROM UNNEST(
		$1::text[],
		$2::text[],
		$3::text[],
		$4::text[],
		$5::bool[],
		$6::int[],
		$7::int[],
		$8::text[],
		$9::timestamptz[]
	)
	ON CONFLICT (cert_transaction_id) DO UPDATE
	SET reason      = EXCLUDED.reason,
	    succeeded   = EXCLUDED.succeeded,
	    answered    = EXCLUDED.answered,
	    total       = EXCLUDED.total,
	    message     = EXCLUDED.message,
	    finished_at = EXCLUDED.finished_at
`

const upsertSubmissionSQL = `
	INSERT INTO proctor_submissions
		(cert_transaction_id, tenant_id, employee_id, reason, succeeded, answered, total, message, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (cert_transaction_id) DO UPDATE
	SET reason      = EXCLUDED.reason,
	    succeeded   = EXCLUDED.succeeded,
	    answered    = EXCLUDED.answered,
	    total       = EXCLUDED.total,
	    message     = EXCLUDED.message,
	    finished_at = EXCLUDED.finished_at
`

func (w *SubmissionWorker) flushSafe(ctx context.Context, batch []*model.SubmissionAudit) {
	if err := w.bulkUpsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk upsert failed, using fallback")

		requeueList := make([]*model.SubmissionAudit, 0)
		for _, a := range batch {
			if err := w.persistSingle(ctx, a); err != nil {
				w.log.Error().Err(err).Str("cert_transaction_id", a.CertTransactionID).Msg("Upsert failed, requeueing")
				requeueList = append(requeueList, a)
			}
		}
		if len(requeueList) > 0 {
			w.loop.requeue(ctx, requeueList)
		}
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Submissions persisted")
}

func (w *SubmissionWorker) bulkUpsert(ctx context.Context, batch []*model.SubmissionAudit) error {
	n := len(batch)
	var (
		certIDs     = make([]string, 0, n)
		tenants     = make([]string, 0, n)
		employees   = make([]string, 0, n)
		reasons     = make([]string, 0, n)
		succeeded   = make([]bool, 0, n)
		answered    = make([]int, 0, n)
		totals      = make([]int, 0, n)
		messages    = make([]string, 0, n)
		finishedAts = make([]time.Time, 0, n)
	)

	for _, a := range batch {
		certIDs = append(certIDs, a.CertTransactionID)
		tenants = append(tenants, a.TenantID)
		employees = append(employees, a.EmployeeID)
		reasons = append(reasons, string(a.Reason))
		succeeded = append(succeeded, a.Succeeded)
		answered = append(answered, a.Answered)
		totals = append(totals, a.Total)
		messages = append(messages, a.Message)
		finishedAts = append(finishedAts, a.FinishedAt)
	}

	_, err := w.db.Exec(ctx, upsertSubmissionsSQL,
		certIDs, tenants, employees, reasons, succeeded, answered, totals, messages, finishedAts)
	return err
}

func (w *SubmissionWorker) persistSingle(ctx context.Context, a *model.SubmissionAudit) error {
	_, err := w.db.Exec(ctx, upsertSubmissionSQL,
		a.CertTransactionID, a.TenantID, a.EmployeeID, string(a.Reason),
		a.Succeeded, a.Answered, a.Total, a.Message, a.FinishedAt)
	return err
}
