package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB records writes. copyErr fails every CopyFrom; execErr decides per call.
type fakeDB struct {
	mu       sync.Mutex
	copied   [][]interface{}
	execs    [][]any
	copyErr  error
	execErr  func(args []any) error
	copyCall int
}

func (f *fakeDB) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copyCall++
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		f.copied = append(f.copied, vals)
		n++
	}
	return n, nil
}

func (f *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		if err := f.execErr(args); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	f.execs = append(f.execs, args)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) copiedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.copied)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func noBackoff(t *testing.T) {
	t.Helper()
	prev := requeueBackoff
	requeueBackoff = 0
	t.Cleanup(func() { requeueBackoff = prev })
}

func violation(cert string) *model.ViolationRecord {
	return &model.ViolationRecord{
		ID:                uuid.New(),
		CertTransactionID: cert,
		TenantID:          "t1",
		EmployeeID:        "e1",
		Signal:            "visibility_hidden",
		RecordedAt:        time.Now().UTC(),
	}
}

func TestViolationWorkerCopiesQueuedRecords(t *testing.T) {
	_, rdb := newTestRedis(t)
	db := &fakeDB{}
	w := NewViolationWorker(db, rdb, zerolog.Nop())

	ctx := context.Background()
	for _, cert := range []string{"ct-1", "ct-2", "ct-3"} {
		raw, err := json.Marshal(violation(cert))
		require.NoError(t, err)
		require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, raw).Err())
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Start(runCtx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return db.copiedCount() == 3 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	db.mu.Lock()
	defer db.mu.Unlock()
	assert.Equal(t, "ct-1", db.copied[0][1])
	assert.Equal(t, "visibility_hidden", db.copied[0][4])
}

func TestViolationWorkerFallbackRequeuesFailedRows(t *testing.T) {
	noBackoff(t)
	_, rdb := newTestRedis(t)
	db := &fakeDB{
		copyErr: errors.New("copy failed"),
		execErr: func(args []any) error {
			if args[1] == "ct-bad" {
				return errors.New("insert failed")
			}
			return nil
		},
	}
	w := NewViolationWorker(db, rdb, zerolog.Nop())
	ctx := context.Background()

	w.flushSafe(ctx, []*model.ViolationRecord{violation("ct-ok"), violation("ct-bad")})

	assert.Len(t, db.execs, 1)
	queued, err := rdb.LRange(ctx, config.WorkerKey.PersistViolationsQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 1)

	var back model.ViolationRecord
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &back))
	assert.Equal(t, "ct-bad", back.CertTransactionID)
}

func TestWorkerDrainsBufferOnShutdown(t *testing.T) {
	_, rdb := newTestRedis(t)
	db := &fakeDB{}
	w := NewViolationWorker(db, rdb, zerolog.Nop())

	w.loop.shutdown([]*model.ViolationRecord{violation("ct-1"), violation("ct-2")})
	assert.Equal(t, 2, db.copiedCount())

	w.loop.shutdown(nil)
	assert.Equal(t, 1, db.copyCall)
}

func TestMalformedItemsAreDropped(t *testing.T) {
	_, rdb := newTestRedis(t)
	db := &fakeDB{}
	w := NewViolationWorker(db, rdb, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, "{not json").Err())
	raw, _ := json.Marshal(violation("ct-1"))
	require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, raw).Err())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Start(runCtx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return db.copiedCount() == 1 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	n, err := rdb.LLen(ctx, config.WorkerKey.PersistViolationsQueue).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmissionWorkerBulkUpsert(t *testing.T) {
	_, rdb := newTestRedis(t)
	db := &fakeDB{}
	w := NewSubmissionWorker(db, rdb, zerolog.Nop())

	batch := []*model.SubmissionAudit{
		{CertTransactionID: "ct-1", TenantID: "t1", EmployeeID: "e1", Reason: model.SubmitReasonUser, Succeeded: true, Answered: 3, Total: 5},
		{CertTransactionID: "ct-2", TenantID: "t1", EmployeeID: "e2", Reason: model.SubmitReasonExpired, Message: "boom", Total: 5},
	}
	w.flushSafe(context.Background(), batch)

	require.Len(t, db.execs, 1)
	args := db.execs[0]
	assert.Equal(t, []string{"ct-1", "ct-2"}, args[0])
	assert.Equal(t, []string{"USER", "EXPIRED"}, args[3])
	assert.Equal(t, []bool{true, false}, args[4])
	assert.Equal(t, []string{"", "boom"}, args[7])
}

func TestSubmissionWorkerFallsBackPerRow(t *testing.T) {
	noBackoff(t)
	_, rdb := newTestRedis(t)
	calls := 0
	db := &fakeDB{
		execErr: func(args []any) error {
			calls++
			if calls == 1 {
				return errors.New("bulk failed")
			}
			if args[0] == "ct-2" {
				return errors.New("row failed")
			}
			return nil
		},
	}
	w := NewSubmissionWorker(db, rdb, zerolog.Nop())
	ctx := context.Background()

	w.flushSafe(ctx, []*model.SubmissionAudit{
		{CertTransactionID: "ct-1", Reason: model.SubmitReasonUser},
		{CertTransactionID: "ct-2", Reason: model.SubmitReasonViolation},
	})

	require.Len(t, db.execs, 1)
	assert.Equal(t, "ct-1", db.execs[0][0])

	queued, err := rdb.LRange(ctx, config.WorkerKey.PersistSubmissionsQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Contains(t, queued[0], `"ct-2"`)
}
