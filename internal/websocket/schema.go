package websocket

import "github.com/stemsi/exstem-proctor/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionSignal     Action = "signal"
	ActionFullscreen Action = "fullscreen"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestPayload carries every client action; fields unused by an action
// are left empty.
type RequestPayload struct {
	Action     Action `json:"action"`
	QuestionID int    `json:"question_id,omitempty"`
	Option     int    `json:"option,omitempty"`
	Signal     string `json:"signal,omitempty"`
	Granted    bool   `json:"granted,omitempty"`
}

// AnswerRequest is the validated form of an answer action.
type AnswerRequest struct {
	QuestionID int `json:"question_id" binding:"gte=0"`
	Option     int `json:"option" binding:"required,min=1,max=5"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState             Event = "state"
	EventTick              Event = "tick"
	EventRequestFullscreen Event = "request_fullscreen"
	EventExitFullscreen    Event = "exit_fullscreen"
	EventConfirmLeave      Event = "confirm_leave"
	EventWarning           Event = "warning"
	EventSubmitted         Event = "submitted"
	EventFailed            Event = "failed"
	EventLoadFailed        Event = "load_failed"
	EventError             Event = "error"
	EventPong              Event = "pong"
)

type StateResponse struct {
	Event    Event                  `json:"event"`
	Snapshot *model.SessionSnapshot `json:"snapshot"`
}

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining"`
}

type WarningResponse struct {
	Event          Event  `json:"event"`
	GraceRemaining int    `json:"grace_remaining"`
	Message        string `json:"message"`
}

// MessageResponse is used by submitted, failed and load_failed.
type MessageResponse struct {
	Event   Event              `json:"event"`
	Message string             `json:"message"`
	Reason  model.SubmitReason `json:"reason,omitempty"`
}

// SignalResponse is used by request_fullscreen, exit_fullscreen and confirm_leave.
type SignalResponse struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
