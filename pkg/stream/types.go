// Package stream consumes the server-push progress channel of a submitted job.
//
// The channel is a text/event-stream addressed by task id. Each message is
// either the literal sentinel "[DONE]" or a JSON payload
//
//	{"status": "processing"|"completed"|"failed", "progress": 40, "remark": "...", "url": "...", "error": "..."}
//
// which is decoded into an Event. Malformed messages are logged and skipped;
// they never end an otherwise healthy stream.
package stream

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/3leaps/genwatch/pkg/jobapi"
)

// Sentinel is the message text marking transport-level end of stream.
const Sentinel = "[DONE]"

// Status values carried in the payload's "status" field.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// EventKind discriminates Event.
type EventKind int

const (
	// EventProcessing is a non-terminal progress update.
	EventProcessing EventKind = iota + 1

	// EventCompleted is terminal success; ResultURL is set.
	EventCompleted

	// EventFailed is terminal failure; Message is set. Reason is set when
	// the service reported the failure, Err when it was synthesised from a
	// transport error.
	EventFailed

	// EventStreamEnd marks normal stream closure (the sentinel).
	EventStreamEnd
)

func (k EventKind) String() string {
	switch k {
	case EventProcessing:
		return "processing"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventStreamEnd:
		return "stream_end"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one decoded progress event.
type Event struct {
	Kind EventKind

	// Percent is 0..100, set for EventProcessing.
	Percent int

	// Remark is the service's progress note, set for EventProcessing.
	Remark string

	// ResultURL is set for EventCompleted.
	ResultURL string

	// Message is set for EventFailed.
	Message string

	// Reason matches jobapi.ErrTerminal for a service-reported EventFailed.
	Reason error

	// Err is the transport error behind a synthesised EventFailed.
	Err error
}

// Terminal reports whether the event ends the job's lifecycle.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// Connectivity reports whether the event was synthesised from a transport failure.
func (e Event) Connectivity() bool {
	return e.Kind == EventFailed && e.Err != nil
}

// payload is the wire shape of a progress message.
type payload struct {
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
	Remark   string   `json:"remark,omitempty"`
	URL      string   `json:"url,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// DecodeMessage decodes one message's data into an Event.
func DecodeMessage(data string) (Event, error) {
	if strings.TrimSpace(data) == Sentinel {
		return Event{Kind: EventStreamEnd}, nil
	}

	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Event{}, fmt.Errorf("decode progress payload: %w", err)
	}

	switch p.Status {
	case StatusProcessing:
		pct := 0
		if p.Progress != nil {
			pct = ClampPercent(*p.Progress)
		}
		return Event{Kind: EventProcessing, Percent: pct, Remark: p.Remark}, nil
	case StatusCompleted:
		if strings.TrimSpace(p.URL) == "" {
			return Event{}, fmt.Errorf("completed payload has no url")
		}
		return Event{Kind: EventCompleted, ResultURL: p.URL}, nil
	case StatusFailed:
		msg := p.Error
		if strings.TrimSpace(msg) == "" {
			msg = jobapi.MsgJobFailed
		}
		return Event{Kind: EventFailed, Message: msg, Reason: jobFailure(msg)}, nil
	case "":
		return Event{}, fmt.Errorf("payload has no status")
	default:
		return Event{}, fmt.Errorf("unknown status %q", p.Status)
	}
}

func jobFailure(msg string) error {
	return &jobapi.APIError{Op: jobapi.OpSubscribe, Kind: jobapi.ErrTerminal, Message: msg}
}

// ClampPercent rounds v and bounds it to 0..100.
func ClampPercent(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return int(math.Round(v))
}
