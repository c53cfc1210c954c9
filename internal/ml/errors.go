package ml

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusError is returned when the classifier answers with a non-success status
type StatusError struct {
	StatusCode int
	Body       string // raw response body, trimmed
	Detail     string // "detail" field of a JSON error body, if any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classifier returned status %d: %s", e.StatusCode, e.Message())
}

// Message is the most specific diagnostic text the server gave
func (e *StatusError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Body != "" {
		return e.Body
	}
	return "no message"
}

// TransportError is returned when the request could not be completed
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "classifier request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newStatusError(code int, body []byte) *StatusError {
	text := strings.TrimSpace(string(body))
	err := &StatusError{StatusCode: code, Body: text}

	// FastAPI style {"detail": "..."}; detail may also be a list of objects
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			err.Detail = s
		} else {
			err.Detail = string(payload.Detail)
		}
	}
	return err
}
