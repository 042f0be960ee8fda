package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize       = 50
	BatchTimeout    = 2 * time.Second
	PollTimeout     = 1 * time.Second // Must be >= 1s to satisfy Redis
	ShutdownTimeout = 5 * time.Second
)

// requeueBackoff pauses the loop after a requeue so a down database is not hammered.
var requeueBackoff = 2 * time.Second

// DB is the subset of *pgxpool.Pool the workers write through.
type DB interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// batchLoop pops JSON items off a Redis list and hands them to flush in
// batches of BatchSize or every BatchTimeout, whichever comes first.
type batchLoop[T any] struct {
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
	flush func(ctx context.Context, batch []*T)
}

func (b *batchLoop[T]) run(ctx context.Context) {
	buffer := make([]*T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			b.flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			b.shutdown(buffer)
			return
		default:
		}

		// 3. BLPop blocks for PollTimeout and returns immediately if data exists
		result, err := b.rdb.BLPop(ctx, PollTimeout, b.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue // picked up by the shutdown check
			}
			b.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		// 4. Malformed JSON can never succeed; drop it
		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			b.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, &item)
	}
}

func (b *batchLoop[T]) requeue(ctx context.Context, items []*T) {
	pipe := b.rdb.Pipeline()
	for _, it := range items {
		data, _ := json.Marshal(it)
		pipe.RPush(ctx, b.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	b.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	sleepCtx(ctx, requeueBackoff)
}

func (b *batchLoop[T]) shutdown(buffer []*T) {
	b.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer")
	if len(buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	b.flush(ctx, buffer)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
