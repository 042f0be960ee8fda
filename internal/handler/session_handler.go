package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// SessionHandler exposes session snapshots over HTTP.
type SessionHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// GetSnapshot godoc
// GET /api/v1/sessions/:cert_transaction_id
// Returns the caller's live session, or its last cached snapshot.
func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	id := c.Param("cert_transaction_id")
	if !validSessionID(id) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snap, err := h.sessionService.Snapshot(c.Request.Context(), id)
	if errors.Is(err, service.ErrSessionNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("cert_transaction_id", id).Msg("Snapshot lookup failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	// Snapshots of other participants are reported as missing.
	if snap.TenantID != claims.TenantID || snap.EmployeeID != claims.EmployeeID {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}

	response.Success(c, http.StatusOK, snap)
}

// validSessionID bounds the id before it becomes part of a Redis key.
func validSessionID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
