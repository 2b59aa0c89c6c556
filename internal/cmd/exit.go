package cmd

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/genwatch/pkg/jobapi"
)

var (
	exitInvalidArgument = int(foundry.ExitInvalidArgument)
	exitServiceDown     = int(foundry.ExitExternalServiceUnavailable)
	exitFileNotFound    = int(foundry.ExitFileNotFound)
	exitFileReadError   = int(foundry.ExitFileReadError)
	exitSignalInt       = int(foundry.ExitSignalInt)
)

// exitJobFailed is returned when the service reports the job itself failed.
const exitJobFailed = 1

// ExitError carries a process exit code with a user-facing message.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, context.Canceled) {
		return exitSignalInt
	}
	return 1
}

// apiExitCode maps a jobapi error to an exit code.
func apiExitCode(err error) int {
	switch {
	case jobapi.IsValidation(err):
		return exitInvalidArgument
	case errors.Is(err, context.Canceled):
		return exitSignalInt
	default:
		return exitServiceDown
	}
}
