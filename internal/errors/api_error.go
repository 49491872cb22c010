package errors

import (
	"encoding/json"
	"net/http"
)

// APIError is an error returned to proxy callers in the OpenAI error envelope.
type APIError struct {
	HTTPStatus int
	Code       string
	Type       string
	Message    string
	// RetryAfter is a whole-second hint mirrored into the Retry-After header. Zero omits it.
	RetryAfter int
	Details    map[string]any
}

// Envelope is the wire shape {"error":{...}}.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Message    string         `json:"message"`
	Type       string         `json:"type"`
	Code       string         `json:"code,omitempty"`
	RetryAfter int            `json:"retry_after,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func New(httpStatus int, code, errType, message string) *APIError {
	return &APIError{HTTPStatus: httpStatus, Code: code, Type: errType, Message: message}
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// Status clamps HTTPStatus into the 4xx/5xx range.
func (e *APIError) Status() int {
	if e.HTTPStatus >= 400 && e.HTTPStatus <= 599 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

func (e *APIError) WithRetryAfter(seconds int) *APIError {
	e.RetryAfter = seconds
	return e
}

func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

func (e *APIError) Envelope() Envelope {
	return Envelope{Error: EnvelopeBody{
		Message:    e.Message,
		Type:       e.Type,
		Code:       e.Code,
		RetryAfter: e.RetryAfter,
		Details:    e.Details,
	}}
}

func (e *APIError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Envelope())
}
