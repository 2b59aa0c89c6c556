// Package lifecycle drives one generation job at a time from submission to
// a terminal outcome and publishes every transition to a Renderer.
package lifecycle

import (
	"fmt"

	"github.com/3leaps/genwatch/pkg/stream"
)

// Phase is the lifecycle state discriminator.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseStreaming
	PhaseComplete
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseStreaming:
		return "streaming"
	case PhaseComplete:
		return "complete"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Remarks used when entering Streaming without a server-provided remark.
const (
	RemarkSubmitted = "submitted"
	RemarkAttached  = "attached"
)

// State is the controller's lifecycle state. Only the fields belonging to
// Phase are meaningful.
type State struct {
	Phase Phase

	// Streaming
	Percent int
	Remark  string

	// Complete
	ResultURL string

	// Error
	Message string
}

// Idle is the initial state.
func Idle() State { return State{Phase: PhaseIdle} }

// Submitting is the state while a submission is in flight.
func Submitting() State { return State{Phase: PhaseSubmitting} }

// Streaming is the state while progress events are being consumed.
// percent is clamped to 0..100.
func Streaming(percent int, remark string) State {
	return State{Phase: PhaseStreaming, Percent: stream.ClampPercent(float64(percent)), Remark: remark}
}

// Complete is terminal success.
func Complete(url string) State { return State{Phase: PhaseComplete, ResultURL: url} }

// Failed is the Error state carrying a user-facing message.
func Failed(message string) State { return State{Phase: PhaseError, Message: message} }

// Terminal reports whether the state is Complete or Error.
func (s State) Terminal() bool {
	return s.Phase == PhaseComplete || s.Phase == PhaseError
}

func (s State) String() string {
	switch s.Phase {
	case PhaseStreaming:
		return fmt.Sprintf("streaming{%d, %q}", s.Percent, s.Remark)
	case PhaseComplete:
		return fmt.Sprintf("complete{%q}", s.ResultURL)
	case PhaseError:
		return fmt.Sprintf("error{%q}", s.Message)
	default:
		return s.Phase.String()
	}
}
