package statement

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks malformed caller input, detected before any
// network call.
var ErrInvalidArgument = errors.New("invalid argument")

// TransportError reports a network-level failure that survived the retry
// budget. Application-level failures never produce a TransportError.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError reports a non-2xx response from the statement API itself, as
// opposed to a failure reaching it. These are never retried.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("statement api returned status %d: %s (code %s)", e.StatusCode, e.Message, e.Code)
}

// ExecutionError reports a statement that reached a terminal state other than
// SUCCEEDED. Raised by ExecuteTyped and ExecuteStream; ExecuteRaw instead
// returns the terminal snapshot for the caller to inspect.
type ExecutionError struct {
	StatementID string
	State       State
	Message     string
	Code        string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("statement %s finished in state %s: %s", e.StatementID, e.State, e.Message)
}
