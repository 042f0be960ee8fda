package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const refreshTimeout = 5 * time.Second // keeps a slow query from stalling the SSE loop

// MonitorOptions tunes the live monitor stream. Zero values use 15s refresh
// and 30s keep-alive.
type MonitorOptions struct {
	RefreshInterval   time.Duration
	KeepAliveInterval time.Duration
}

// MonitorHandler streams live proctoring events to proctors.
type MonitorHandler struct {
	events         *repository.ProctorEventRepository
	proctorService *service.ProctorService
	opts           MonitorOptions
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(events *repository.ProctorEventRepository, proctorService *service.ProctorService, opts MonitorOptions, log zerolog.Logger) *MonitorHandler {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 15 * time.Second
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 30 * time.Second
	}
	return &MonitorHandler{
		events:         events,
		proctorService: proctorService,
		opts:           opts,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// Summary godoc
// GET /api/v1/proctor/summary
func (h *MonitorHandler) Summary(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	summary, err := h.proctorService.GetSummary(c.Request.Context(), claims.TenantID)
	if err != nil {
		h.log.Error().Err(err).Str("tenant_id", claims.TenantID).Msg("Proctor summary failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// MonitorSSE godoc
// GET /api/v1/proctor/monitor
func (h *MonitorHandler) MonitorSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	tenantID := claims.TenantID
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Subscribe first so nothing published after the snapshot is missed.
	pubsub := h.events.SubscribeMonitor(reqCtx, tenantID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	h.sendSummary(c, reqCtx, tenantID, "snapshot")

	keepAliveTicker := time.NewTicker(h.opts.KeepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(h.opts.RefreshInterval)
	defer refreshTicker.Stop()

	// Refreshes are skipped until something happened since the last one.
	dirty := false

	log := h.log.With().Str("tenant_id", tenantID).Str("subject", claims.Subject).Logger()
	log.Info().Msg("Proctor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON; it is already a model.MonitorEvent.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendSummary(c, reqCtx, tenantID, "refresh")

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) sendSummary(c *gin.Context, parent context.Context, tenantID, typ string) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	summary, err := h.proctorService.GetSummary(ctx, tenantID)
	if err != nil {
		h.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to fetch proctor summary")
		return
	}

	c.SSEvent("message", map[string]interface{}{
		"type": typ,
		"data": summary,
	})
	c.Writer.Flush()
}
