package worker

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationWorker consumes persist_violations_queue into proctor_violations.
type ViolationWorker struct {
	db   DB
	loop *batchLoop[model.ViolationRecord]
	log  zerolog.Logger
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(db DB, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{
		db:  db,
		log: log.With().Str("component", "violation_worker").Logger(),
	}
	w.loop = &batchLoop[model.ViolationRecord]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistViolationsQueue,
		log:   w.log,
		flush: w.flushSafe,
	}
	return w
}

// Start runs until ctx is cancelled, then flushes what it holds. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")
	w.loop.run(ctx)
	w.log.Info().Msg("ViolationWorker stopped")
}

var violationColumns = []string{
	"id", "cert_transaction_id", "tenant_id", "employee_id", "signal", "suppressed", "recorded_at",
}

// flushSafe attempts bulk COPY, then row-by-row insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*model.ViolationRecord) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Violations persisted")
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []*model.ViolationRecord) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, []interface{}{
			v.ID, v.CertTransactionID, v.TenantID, v.EmployeeID, v.Signal, v.Suppressed, v.RecordedAt,
		})
	}

	_, err := w.db.CopyFrom(ctx, pgx.Identifier{"proctor_violations"}, violationColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []*model.ViolationRecord) {
	requeueList := make([]*model.ViolationRecord, 0)

	for _, v := range batch {
		// ON CONFLICT keeps a requeued record from being stored twice.
		_, err := w.db.Exec(ctx,
			`INSERT INTO proctor_violations (id, cert_transaction_id, tenant_id, employee_id, signal, suppressed, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO NOTHING`,
			v.ID, v.CertTransactionID, v.TenantID, v.EmployeeID, v.Signal, v.Suppressed, v.RecordedAt,
		)
		if err != nil {
			w.log.Error().Err(err).Str("cert_transaction_id", v.CertTransactionID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, v)
		}
	}

	if len(requeueList) > 0 {
		w.loop.requeue(ctx, requeueList)
	}
}
