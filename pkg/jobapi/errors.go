package jobapi

import (
	"errors"
	"fmt"
)

// Operation names carried by APIError.
const (
	OpList      = "list"
	OpSubmit    = "submit"
	OpSubscribe = "subscribe"
)

// Generic user-facing messages used when the service gives no detail.
const (
	MsgListFailed   = "failed to fetch model list"
	MsgSubmitFailed = "job submission failed with an unknown error"
	MsgJobFailed    = "job processing failed"
	MsgConnLost     = "lost connection to the server, please retry"
)

// Error kinds. Every error returned by this package (and by package stream)
// matches exactly one of these with errors.Is.
var (
	// ErrValidation is a local precondition failure; no request was sent.
	ErrValidation = errors.New("validation failed")

	// ErrFetch indicates the variant listing call failed.
	ErrFetch = errors.New("variant listing failed")

	// ErrSubmit indicates the submission call failed.
	ErrSubmit = errors.New("job submission failed")

	// ErrProtocol indicates a success response lacked an expected field.
	ErrProtocol = errors.New("unexpected response")

	// ErrStream indicates a transport failure on the progress stream.
	ErrStream = errors.New("stream connection failed")

	// ErrTerminal indicates the service reported the job as failed. It is
	// carried by stream.Event.Reason, never by Event.Err.
	ErrTerminal = errors.New("job failed")
)

// APIError wraps a failed operation with its kind and a human-readable message.
type APIError struct {
	// Op is the operation that failed (OpList, OpSubmit, OpSubscribe).
	Op string

	// Kind is one of the Err* sentinels above.
	Kind error

	// StatusCode is the HTTP status, when a response was received.
	StatusCode int

	// Message is safe to show to the user.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *APIError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newValidationError(op, msg string) error {
	return &APIError{Op: op, Kind: ErrValidation, Message: msg}
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsProtocol reports whether err is a malformed success response.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsStream reports whether err is a progress stream transport failure.
func IsStream(err error) bool {
	return errors.Is(err, ErrStream)
}

// UserMessage returns the text to show a user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
