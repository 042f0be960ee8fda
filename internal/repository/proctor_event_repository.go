package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProctorEventRepository pushes audit records onto the Redis persistence
// queues and publishes live events for the proctor monitor.
type ProctorEventRepository struct {
	rdb *redis.Client
}

// NewProctorEventRepository creates a new ProctorEventRepository.
func NewProctorEventRepository(rdb *redis.Client) *ProctorEventRepository {
	return &ProctorEventRepository{rdb: rdb}
}

// EnqueueViolation queues a violation for the violation worker.
func (r *ProctorEventRepository) EnqueueViolation(ctx context.Context, v *model.ViolationRecord) error {
	return r.push(ctx, config.WorkerKey.PersistViolationsQueue, v)
}

// EnqueueSubmission queues a submission outcome for the submission worker.
func (r *ProctorEventRepository) EnqueueSubmission(ctx context.Context, a *model.SubmissionAudit) error {
	return r.push(ctx, config.WorkerKey.PersistSubmissionsQueue, a)
}

// PublishMonitor publishes a live event on the tenant's monitor channel.
func (r *ProctorEventRepository) PublishMonitor(ctx context.Context, tenantID string, ev *model.MonitorEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode monitor event: %w", err)
	}
	return r.rdb.Publish(ctx, config.CacheKey.ProctorMonitorChannel(tenantID), raw).Err()
}

// SubscribeMonitor subscribes to a tenant's monitor channel. The caller
// closes the returned PubSub.
func (r *ProctorEventRepository) SubscribeMonitor(ctx context.Context, tenantID string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, config.CacheKey.ProctorMonitorChannel(tenantID))
}

func (r *ProctorEventRepository) push(ctx context.Context, queue string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s item: %w", queue, err)
	}
	return r.rdb.RPush(ctx, queue, raw).Err()
}
