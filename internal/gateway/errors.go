package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrInvalidSource is returned when a question source names neither or both
// of question group and certification.
var ErrInvalidSource = errors.New("exactly one of question group or certification is required")

// APIError is a non-2xx backend response. Message is the backend-provided
// {message}, possibly empty.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded %d", e.Status)
	}
	return fmt.Sprintf("backend responded %d: %s", e.Status, e.Message)
}

// UserMessage returns the backend message, shown to the test-taker as is.
func (e *APIError) UserMessage() string { return e.Message }

// MessageFrom extracts the backend message from err, or "" when err does
// not carry one.
func MessageFrom(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	var body struct {
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Message = body.Message
		if apiErr.Message == "" && body.Error != nil {
			apiErr.Message = body.Error.Message
		}
	}
	return apiErr
}
