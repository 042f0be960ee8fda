package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied      ErrCode = "PERMISSION_DENIED"
	ErrParticipantAccessOnly ErrCode = "PARTICIPANT_ACCESS_ONLY"
	ErrProctorAccessOnly     ErrCode = "PROCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Sessions ──────────────────────────────────────────────────────
	ErrSessionActive   ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionFinished ErrCode = "SESSION_FINISHED"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrSessionClosed   ErrCode = "SESSION_CLOSED"
	ErrNotActive       ErrCode = "SESSION_NOT_ACTIVE"
	ErrUnknownQuestion ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidOption   ErrCode = "INVALID_OPTION"
	ErrUnknownSignal   ErrCode = "UNKNOWN_SIGNAL"
	ErrUnknownAction   ErrCode = "UNKNOWN_ACTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "Permission denied."
	case ErrParticipantAccessOnly:
		return "This resource is restricted to assessment participants."
	case ErrProctorAccessOnly:
		return "This resource is restricted to proctors."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Sessions ──────────────────────────────────────────────────────
	case ErrSessionActive:
		return "This assessment is already open in another window."
	case ErrSessionFinished:
		return "This assessment was already submitted."
	case ErrSessionNotFound:
		return "Session not found."
	case ErrSessionClosed:
		return "The session has ended."
	case ErrNotActive:
		return "The assessment is not accepting input."
	case ErrUnknownQuestion:
		return "Unknown question."
	case ErrInvalidOption:
		return "Invalid option for this question."
	case ErrUnknownSignal:
		return "Unknown environment signal."
	case ErrUnknownAction:
		return "Unknown action."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
