package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

const DefaultMaxLineBytes = 1 << 20

// ErrMessageTooLarge is returned for a message with a line over the limit.
// The message is discarded and the decoder stays usable.
var ErrMessageTooLarge = errors.New("event-stream message exceeds max line bytes")

var errLineTooLong = errors.New("event-stream line exceeds max bytes")

// Message is one dispatched event-stream message.
type Message struct {
	Event string
	ID    string
	Data  string
}

// Decoder splits a text/event-stream body into messages.
//
// Lines are "field: value" pairs; a blank line dispatches the accumulated
// message. Multiple data lines are joined with '\n'. Comment lines (starting
// with ':') and unknown fields are ignored.
type Decoder struct {
	r            *bufio.Reader
	maxLineBytes int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), maxLineBytes: DefaultMaxLineBytes}
}

func (d *Decoder) SetMaxLineBytes(n int) {
	if n <= 0 {
		d.maxLineBytes = DefaultMaxLineBytes
		return
	}
	d.maxLineBytes = n
}

// Next returns the next message with at least one data line.
//
// It returns io.EOF when the body ends cleanly between messages and
// io.ErrUnexpectedEOF when it ends inside a partially received message.
// A message with an oversized line is skipped up to its terminating blank
// line and reported as ErrMessageTooLarge.
func (d *Decoder) Next() (Message, error) {
	var (
		msg      Message
		data     []string
		pending  bool
		oversize bool
	)
	for {
		line, err := readLineLimited(d.r, d.maxLineBytes)
		if errors.Is(err, errLineTooLong) {
			msg, data, pending, oversize = Message{}, nil, true, true
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if pending {
					return Message{}, io.ErrUnexpectedEOF
				}
				return Message{}, io.EOF
			}
			return Message{}, err
		}
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) == 0 {
			if oversize {
				return Message{}, ErrMessageTooLarge
			}
			if len(data) == 0 {
				msg, pending = Message{}, false
				continue
			}
			msg.Data = strings.Join(data, "\n")
			return msg, nil
		}
		if oversize || line[0] == ':' {
			continue
		}
		pending = true

		field, value := splitField(string(line))
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			msg.Event = value
		case "id":
			msg.ID = value
		}
	}
}

func splitField(line string) (string, string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}

// readLineLimited reads one line without its newline. A line longer than
// maxBytes is consumed through its newline and reported as errLineTooLong.
func readLineLimited(r *bufio.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}

	var out []byte
	for {
		frag, err := r.ReadSlice('\n')
		out = append(out, frag...)
		if len(out) > maxBytes {
			return nil, discardLine(r, err)
		}
		if err == nil {
			return bytes.TrimSuffix(out, []byte("\n")), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		return nil, err
	}
}

// discardLine drops the rest of the current line. err is the error from the
// read that crossed the limit.
func discardLine(r *bufio.Reader, err error) error {
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = r.ReadSlice('\n')
	}
	if err == nil || errors.Is(err, io.EOF) {
		return errLineTooLong
	}
	return err
}
