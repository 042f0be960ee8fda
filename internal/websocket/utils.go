package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
// Callers must not write concurrently on the same connection.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// ErrorFor builds an ErrorResponse.
func ErrorFor(code, errMsg string) ErrorResponse {
	return ErrorResponse{Event: EventError, Code: code, Error: errMsg}
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}

// FromUpdate maps a session update to its wire event.
func FromUpdate(u service.Update) interface{} {
	switch u.Kind {
	case proctor.EffectStateChanged:
		return StateResponse{Event: EventState, Snapshot: u.Snapshot}
	case proctor.EffectTick:
		return TickResponse{Event: EventTick, Remaining: u.Seconds}
	case proctor.EffectWarning:
		return WarningResponse{Event: EventWarning, GraceRemaining: u.Seconds, Message: u.Message}
	case proctor.EffectSubmitted:
		return MessageResponse{Event: EventSubmitted, Message: u.Message, Reason: u.Reason}
	case proctor.EffectFailed:
		return MessageResponse{Event: EventFailed, Message: u.Message, Reason: u.Reason}
	case proctor.EffectLoadFailed:
		return MessageResponse{Event: EventLoadFailed, Message: u.Message}
	case proctor.EffectRequestFullscreen:
		return SignalResponse{Event: EventRequestFullscreen}
	case proctor.EffectExitFullscreen:
		return SignalResponse{Event: EventExitFullscreen}
	case proctor.EffectConfirmLeave:
		return SignalResponse{Event: EventConfirmLeave}
	}
	return nil
}
