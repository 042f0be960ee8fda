package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"golang.org/x/time/rate"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSOptions limits client traffic.
type WSOptions struct {
	AllowedOrigins   []string
	MessagesPerSec   float64
	MessageBurst     int
	SessionStartsMin int
}

// WSHandler streams a proctored assessment session over WebSocket.
type WSHandler struct {
	sessionService *service.SessionService
	starts         *middleware.RateLimiter
	msgRate        rate.Limit
	msgBurst       int
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, opts WSOptions, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		starts:         middleware.NewRateLimiter(opts.SessionStartsMin, time.Minute),
		msgRate:        rate.Limit(opts.MessagesPerSec),
		msgBurst:       opts.MessageBurst,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(opts.AllowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:cert_transaction_id/stream?token=&question_group_id=|certification_id=
// Opens the session, loads its questions and streams its state until the
// client disconnects.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	certTransactionID := c.Param("cert_transaction_id")
	if !validSessionID(certTransactionID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var src model.QuestionSource
	if fields := validator.BindQuery(c, &src); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if !h.starts.Allow(claims.TenantID + ":" + claims.EmployeeID) {
		response.Fail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
		return
	}

	identity := model.Identity{
		CertTransactionID: certTransactionID,
		TenantID:          claims.TenantID,
		EmployeeID:        claims.EmployeeID,
		QuestionGroupID:   src.QuestionGroupID,
	}

	// The session lives exactly as long as this request.
	ctx, cancel := context.WithCancel(gateway.WithToken(c.Request.Context(), middleware.GetToken(c)))
	defer cancel()

	runner, err := h.sessionService.Open(ctx, identity, src)
	if errors.Is(err, service.ErrSessionExists) {
		response.Fail(c, http.StatusConflict, response.ErrSessionActive)
		return
	}
	if errors.Is(err, service.ErrSessionFinished) {
		response.Fail(c, http.StatusConflict, response.ErrSessionFinished)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("cert_transaction_id", certTransactionID).Msg("Session open failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("cert_transaction_id", certTransactionID).
		Str("employee_id", claims.EmployeeID).
		Logger()
	wsLog.Info().Msg("Participant connected")

	replies := make(chan interface{}, 16)
	writerDone := make(chan struct{})
	go h.writeLoop(conn, runner, replies, writerDone, wsLog)

	limiter := rate.NewLimiter(h.msgRate, h.msgBurst)

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		var reply interface{}
		if !limiter.Allow() {
			reply = errorEvent(response.ErrRateLimitExceeded)
		} else {
			reply = h.dispatch(runner, &msg, wsLog)
		}
		if reply == nil {
			continue
		}

		select {
		case replies <- reply:
		case <-writerDone:
		}
	}

	cancel()
	<-writerDone
	wsLog.Info().Msg("Participant disconnected")
}

// dispatch applies one client action and returns the direct reply, if any.
func (h *WSHandler) dispatch(runner *service.SessionRunner, msg *ws.RequestPayload, log zerolog.Logger) interface{} {
	var err error

	switch msg.Action {
	case ws.ActionAnswer:
		req := ws.AnswerRequest{QuestionID: msg.QuestionID, Option: msg.Option}
		if fields := validator.Validate(&req); fields != nil {
			return ws.ErrorFor(string(response.ErrValidation), firstMessage(fields))
		}
		err = runner.Answer(req.QuestionID, req.Option)
	case ws.ActionSignal:
		err = runner.Signal(proctor.Signal(msg.Signal))
	case ws.ActionFullscreen:
		err = runner.Fullscreen(msg.Granted)
	case ws.ActionSubmit:
		err = runner.Submit()
	case ws.ActionPing:
		return ws.PongResponse{Event: ws.EventPong}
	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		return errorEvent(response.ErrUnknownAction)
	}

	if err != nil {
		log.Debug().Err(err).Str("action", string(msg.Action)).Msg("Action rejected")
		return errorEvent(errorCode(err))
	}
	return nil
}

// writeLoop is the only writer on conn.
func (h *WSHandler) writeLoop(conn *websocket.Conn, runner *service.SessionRunner, replies <-chan interface{}, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)

	for {
		var payload interface{}

		select {
		case u, ok := <-runner.Updates():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(time.Second))
				conn.Close()
				return
			}
			payload = ws.FromUpdate(u)
		case payload = <-replies:
		}

		if payload == nil {
			continue
		}
		if err := ws.WriteTyped(conn, payload); err != nil {
			log.Debug().Err(err).Msg("Write failed")
			conn.Close()
			return
		}
	}
}

func errorCode(err error) response.ErrCode {
	switch {
	case errors.Is(err, proctor.ErrNotActive):
		return response.ErrNotActive
	case errors.Is(err, proctor.ErrUnknownQuestion):
		return response.ErrUnknownQuestion
	case errors.Is(err, proctor.ErrInvalidOption):
		return response.ErrInvalidOption
	case errors.Is(err, service.ErrUnknownSignal):
		return response.ErrUnknownSignal
	case errors.Is(err, service.ErrSessionClosed):
		return response.ErrSessionClosed
	default:
		return response.ErrInternal
	}
}

func errorEvent(code response.ErrCode) ws.ErrorResponse {
	return ws.ErrorFor(string(code), response.GetMessage(code))
}

func firstMessage(fields map[string]string) string {
	for _, m := range fields {
		return m
	}
	return response.GetMessage(response.ErrValidation)
}
