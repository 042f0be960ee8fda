package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrSnapshotNotFound is returned when no snapshot is cached for a session.
var ErrSnapshotNotFound = errors.New("session snapshot not found")

// SessionSnapshotRepository caches session snapshots in Redis and holds the
// per-session liveness lock that keeps a session on a single connection.
type SessionSnapshotRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionSnapshotRepository creates a new SessionSnapshotRepository.
func NewSessionSnapshotRepository(rdb *redis.Client, ttl time.Duration) *SessionSnapshotRepository {
	return &SessionSnapshotRepository{rdb: rdb, ttl: ttl}
}

// Save overwrites the cached snapshot of a session.
func (r *SessionSnapshotRepository) Save(ctx context.Context, snap *model.SessionSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	key := config.CacheKey.SessionSnapshotKey(snap.CertTransactionID)
	return r.rdb.Set(ctx, key, raw, r.ttl).Err()
}

// Get returns the cached snapshot of a session.
func (r *SessionSnapshotRepository) Get(ctx context.Context, certTransactionID string) (*model.SessionSnapshot, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.SessionSnapshotKey(certTransactionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap model.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// AcquireLock claims the session for owner. It returns false when another
// owner holds an unexpired claim.
func (r *SessionSnapshotRepository) AcquireLock(ctx context.Context, certTransactionID, owner string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, config.CacheKey.SessionLockKey(certTransactionID), owner, ttl).Result()
}

// refreshScript extends the lock only if owner still holds it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// releaseScript deletes the lock only if owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RefreshLock extends owner's claim. It returns false if the claim was lost.
func (r *SessionSnapshotRepository) RefreshLock(ctx context.Context, certTransactionID, owner string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, r.rdb,
		[]string{config.CacheKey.SessionLockKey(certTransactionID)},
		owner, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLock drops owner's claim, leaving other owners' claims untouched.
func (r *SessionSnapshotRepository) ReleaseLock(ctx context.Context, certTransactionID, owner string) error {
	return releaseScript.Run(ctx, r.rdb,
		[]string{config.CacheKey.SessionLockKey(certTransactionID)},
		owner,
	).Err()
}
