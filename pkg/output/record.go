// Package output provides JSONL output for job lifecycle observations.
//
// Output is structured as typed record envelopes containing state
// transitions, variant listings, and errors. Each line is a self-contained
// JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: genwatch.<type>.v<version>
const (
	// TypeState identifies lifecycle state records.
	TypeState = "genwatch.state.v1"

	// TypeVariants identifies variant listing records.
	TypeVariants = "genwatch.variants.v1"

	// TypeError identifies error records.
	TypeError = "genwatch.error.v1"
)

// Record is the envelope for all JSONL output.
//
// The type field determines how to interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "genwatch.state.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates every record emitted by one CLI invocation.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// StateRecord is the data payload for lifecycle transitions.
type StateRecord struct {
	// State is the phase name: idle, submitting, streaming, complete, error.
	State string `json:"state"`

	// Cycle is the submission counter the state belongs to.
	Cycle uint64 `json:"cycle"`

	// TaskID is the server job handle, once known.
	TaskID string `json:"task_id,omitempty"`

	// Percent and Remark are set while streaming.
	Percent *int   `json:"percent,omitempty"`
	Remark  string `json:"remark,omitempty"`

	// URL is the result location on completion.
	URL string `json:"url,omitempty"`

	// Message is the user-facing failure text.
	Message string `json:"message,omitempty"`

	SubmitEnabled bool `json:"submit_enabled"`
}

// VariantsRecord is the data payload for a variant listing.
type VariantsRecord struct {
	Variants []string `json:"variants"`
}

// ErrorRecord is the data payload for errors that end a command.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Status is the HTTP status, if the server answered.
	Status int `json:"status,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeValidation = "VALIDATION"
	ErrCodeFetch      = "FETCH"
	ErrCodeSubmit     = "SUBMIT"
	ErrCodeProtocol   = "PROTOCOL"
	ErrCodeStream     = "STREAM"
	ErrCodeJob        = "JOB"
	ErrCodeInternal   = "INTERNAL"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
