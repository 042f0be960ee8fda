package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const healthTimeout = 2 * time.Second

// SystemHandler reports liveness and runtime status.
type SystemHandler struct {
	pool           *pgxpool.Pool
	rdb            *redis.Client
	sessionService *service.SessionService
	startTime      time.Time
	log            zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, sessionService *service.SessionService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:           pool,
		rdb:            rdb,
		sessionService: sessionService,
		startTime:      time.Now(),
		log:            log.With().Str("component", "system_handler").Logger(),
	}
}

type systemStatus struct {
	Uptime         string `json:"uptime"`
	ActiveSessions int    `json:"active_sessions"`
	Goroutines     int    `json:"goroutines"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	NumGC          uint32 `json:"num_gc"`
	GoVersion      string `json:"go_version"`

	// Worker Queues
	QueueViolations  int64 `json:"queue_violations"`
	QueueSubmissions int64 `json:"queue_submissions"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := gin.H{"status": "ok", "postgres": "ok", "redis": "ok"}
	code := http.StatusOK

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Health: postgres unreachable")
			status["postgres"] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Warn().Err(err).Msg("Health: redis unreachable")
		status["redis"] = "down"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, status)
}

// Status godoc
// GET /api/v1/proctor/system
func (h *SystemHandler) Status(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := systemStatus{
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
		ActiveSessions: h.sessionService.Active(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAlloc:      ms.HeapAlloc,
		NumGC:          ms.NumGC,
		GoVersion:      runtime.Version(),
	}

	// Pipelined LLEN; queue depths are best-effort.
	ctx := c.Request.Context()
	pipe := h.rdb.Pipeline()
	violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	submissionsCmd := pipe.LLen(ctx, config.WorkerKey.PersistSubmissionsQueue)
	if _, err := pipe.Exec(ctx); err == nil {
		s.QueueViolations, _ = violationsCmd.Result()
		s.QueueSubmissions, _ = submissionsCmd.Result()
	}

	response.Success(c, http.StatusOK, s)
}
