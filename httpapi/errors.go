package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	grid "github.com/seoyhaein/grid-go"
)

// APIError is the error body of every failed request.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
}

// Unwrap maps the wire code back to the grid sentinel, so errors.Is works across the wire.
func (e *APIError) Unwrap() error {
	for _, m := range errorCodes {
		if m.code == e.Code {
			return m.err
		}
	}
	return nil
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{grid.ErrInvalidDescriptor, "invalid_descriptor", http.StatusBadRequest},
	{grid.ErrDuplicateTask, "duplicate_task", http.StatusConflict},
	{grid.ErrTaskNotCollectable, "not_collectable", http.StatusConflict},
	{grid.ErrBrokerStopped, "broker_stopped", http.StatusServiceUnavailable},
	{grid.ErrEngineClosed, "engine_closed", http.StatusServiceUnavailable},
	{grid.ErrUnknownEngine, "unknown_engine", http.StatusNotFound},
	{grid.ErrUnknownObject, "unknown_object", http.StatusNotFound},
	{grid.ErrUnknownCapability, "unknown_capability", http.StatusUnprocessableEntity},
	{grid.ErrNoOperation, "no_operation", http.StatusUnprocessableEntity},
	{context.Canceled, "canceled", http.StatusServiceUnavailable},
	{context.DeadlineExceeded, "timeout", http.StatusGatewayTimeout},
}

var errBadRequest = errors.New("malformed request")

func toAPIError(err error) *APIError {
	if errors.Is(err, errBadRequest) {
		return &APIError{StatusCode: http.StatusBadRequest, Code: "bad_request", Message: err.Error()}
	}
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			return &APIError{StatusCode: m.status, Code: m.code, Message: err.Error()}
		}
	}
	return &APIError{StatusCode: http.StatusInternalServerError, Code: "internal", Message: err.Error()}
}

func writeError(w http.ResponseWriter, err error) {
	e := toAPIError(err)
	writeJSON(w, e.StatusCode, e)
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", errBadRequest, err)
}
