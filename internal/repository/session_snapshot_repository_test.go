package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSnapshotSaveGet(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewSessionSnapshotRepository(rdb, time.Hour)
	ctx := context.Background()

	_, err := repo.Get(ctx, "ct-1")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	snap := &model.SessionSnapshot{
		Identity:      model.Identity{CertTransactionID: "ct-1", TenantID: "t"},
		State:         model.SessionStateActive,
		Answers:       map[int]int{3: 2},
		TimeRemaining: 42,
	}
	require.NoError(t, repo.Save(ctx, snap))

	got, err := repo.Get(ctx, "ct-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateActive, got.State)
	assert.Equal(t, 2, got.Answers[3])
	assert.Equal(t, 42, got.TimeRemaining)

	mr.FastForward(2 * time.Hour)
	_, err = repo.Get(ctx, "ct-1")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSessionLockOwnership(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewSessionSnapshotRepository(rdb, time.Hour)
	ctx := context.Background()

	ok, err := repo.AcquireLock(ctx, "ct-1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AcquireLock(ctx, "ct-1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.RefreshLock(ctx, "ct-1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "non-owner cannot refresh")

	ok, err = repo.RefreshLock(ctx, "ct-1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.ReleaseLock(ctx, "ct-1", "b"))
	assert.True(t, mr.Exists(config.CacheKey.SessionLockKey("ct-1")))

	require.NoError(t, repo.ReleaseLock(ctx, "ct-1", "a"))
	assert.False(t, mr.Exists(config.CacheKey.SessionLockKey("ct-1")))
}

func TestProctorEventQueues(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewProctorEventRepository(rdb)
	ctx := context.Background()

	require.NoError(t, repo.EnqueueViolation(ctx, &model.ViolationRecord{CertTransactionID: "ct-1", Signal: "visibility_hidden"}))
	require.NoError(t, repo.EnqueueSubmission(ctx, &model.SubmissionAudit{CertTransactionID: "ct-1", Succeeded: true}))

	items, err := mr.List(config.WorkerKey.PersistViolationsQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)
	var v model.ViolationRecord
	require.NoError(t, json.Unmarshal([]byte(items[0]), &v))
	assert.Equal(t, "visibility_hidden", v.Signal)

	items, err = mr.List(config.WorkerKey.PersistSubmissionsQueue)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestProctorMonitorPubSub(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewProctorEventRepository(rdb)
	ctx := context.Background()

	sub := repo.SubscribeMonitor(ctx, "t-1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.PublishMonitor(ctx, "t-1", &model.MonitorEvent{Type: model.MonitorEventViolation, CertTransactionID: "ct-1"}))

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"type":"violation"`)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor event not delivered")
	}
}
