package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/genwatch/pkg/jobapi"
)

// Events is a lazily consumed, non-restartable sequence of progress events
// for one job.
type Events interface {
	// Next blocks until the next event is available.
	//
	// Transport failures are reported as an EventFailed with Err set, after
	// which Next returns io.EOF. Next also returns io.EOF after the sentinel
	// and after Close.
	Next() (Event, error)

	// Close releases the subscription. It is idempotent and safe to call
	// at any time, including concurrently with a blocked Next.
	Close() error
}

// Config configures a Subscriber.
type Config struct {
	// BaseURL is the service root, e.g. "http://localhost:8088".
	BaseURL string

	// StreamPath is the stream endpoint; "{task_id}" is replaced with the
	// job id. Empty means jobapi.DefaultStreamPath.
	StreamPath string

	// Credential, when set, is sent as a bearer token.
	Credential jobapi.Credential

	// HTTPClient is used to open streams. It must not set a Timeout, since
	// streams stay open until the job ends. Nil means a default client.
	HTTPClient *http.Client

	// MaxLineBytes bounds a single event-stream line. Messages with a longer
	// line are logged and skipped.
	MaxLineBytes int

	// Logger receives skipped-message warnings. Nil disables logging.
	Logger *zap.Logger
}

// Subscriber opens progress streams.
type Subscriber struct {
	baseURL      string
	streamPath   string
	credential   jobapi.Credential
	httpClient   *http.Client
	maxLineBytes int
	logger       *zap.Logger
}

// NewSubscriber constructs a Subscriber.
func NewSubscriber(cfg Config) (*Subscriber, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("stream: base URL is required")
	}
	path := cfg.StreamPath
	if strings.TrimSpace(path) == "" {
		path = jobapi.DefaultStreamPath
	}
	if !strings.Contains(path, "{task_id}") {
		return nil, fmt.Errorf("stream: stream path %q has no {task_id} placeholder", path)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		baseURL:      base,
		streamPath:   path,
		credential:   cfg.Credential,
		httpClient:   httpClient,
		maxLineBytes: cfg.MaxLineBytes,
		logger:       logger,
	}, nil
}

// Subscribe returns the event sequence for handle. The connection is opened
// lazily by the first call to Next and lives until ctx is cancelled, Close
// is called, or the stream ends.
func (s *Subscriber) Subscribe(ctx context.Context, handle jobapi.JobHandle) Events {
	ctx, cancel := context.WithCancel(ctx)
	return &subscription{
		sub:    s,
		handle: handle,
		ctx:    ctx,
		cancel: cancel,
		logger: s.logger.With(zap.String("task_id", handle.JobID)),
	}
}

func (s *Subscriber) streamURL(jobID string) string {
	return s.baseURL + strings.ReplaceAll(s.streamPath, "{task_id}", url.PathEscape(jobID))
}

type subscription struct {
	sub    *Subscriber
	handle jobapi.JobHandle
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	// Owned by the goroutine calling Next.
	dec      *Decoder
	terminal bool

	mu      sync.Mutex
	body    io.ReadCloser
	reading bool
	closed  bool
	done    bool
}

func (s *subscription) Next() (Event, error) {
	s.mu.Lock()
	if s.closed || s.done {
		s.releaseLocked()
		s.mu.Unlock()
		return Event{}, io.EOF
	}
	s.reading = true
	s.mu.Unlock()

	ev, err := s.next()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = false
	if s.closed {
		s.releaseLocked()
		return Event{}, io.EOF
	}
	if err != nil || ev.Kind == EventStreamEnd || ev.Connectivity() {
		s.done = true
		s.releaseLocked()
	}
	return ev, err
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	if !s.reading {
		s.releaseLocked()
	}
	return nil
}

func (s *subscription) releaseLocked() {
	s.cancel()
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
}

func (s *subscription) next() (Event, error) {
	if s.dec == nil {
		if err := s.connect(); err != nil {
			if s.isClosed() {
				return Event{}, io.EOF
			}
			return s.failure(err), nil
		}
	}

	for {
		msg, err := s.dec.Next()
		if errors.Is(err, ErrMessageTooLarge) {
			s.logger.Warn("Skipping malformed stream message",
				zap.Int("max_line_bytes", s.dec.maxLineBytes),
				zap.Error(err))
			continue
		}
		if err != nil {
			if s.isClosed() {
				return Event{}, io.EOF
			}
			if errors.Is(err, io.EOF) && s.terminal {
				return Event{}, io.EOF
			}
			return s.failure(err), nil
		}

		ev, err := DecodeMessage(msg.Data)
		if err != nil {
			s.logger.Warn("Skipping malformed stream message",
				zap.String("data", truncate(msg.Data, 200)),
				zap.Error(err))
			continue
		}
		if ev.Terminal() {
			s.terminal = true
		}
		return ev, nil
	}
}

func (s *subscription) connect() error {
	if strings.TrimSpace(s.handle.JobID) == "" {
		return &jobapi.APIError{Op: jobapi.OpSubscribe, Kind: jobapi.ErrValidation, Message: "a task id is required"}
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.sub.streamURL(s.handle.JobID), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if !s.sub.credential.Empty() {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(string(s.sub.credential)))
	}

	resp, err := s.sub.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return &jobapi.APIError{Op: jobapi.OpSubscribe, Kind: jobapi.ErrStream, StatusCode: resp.StatusCode, Message: jobapi.MsgConnLost}
	}

	s.mu.Lock()
	s.body = resp.Body
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return io.EOF
	}

	s.dec = NewDecoder(resp.Body)
	s.dec.SetMaxLineBytes(s.sub.maxLineBytes)
	s.logger.Debug("Progress stream opened")
	return nil
}

func (s *subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// failure synthesises the EventFailed reported for a transport error.
func (s *subscription) failure(err error) Event {
	if !jobapi.IsStream(err) && !jobapi.IsValidation(err) {
		err = &jobapi.APIError{Op: jobapi.OpSubscribe, Kind: jobapi.ErrStream, Message: jobapi.MsgConnLost, Err: err}
	}
	s.logger.Warn("Progress stream failed", zap.Error(err))
	return Event{Kind: EventFailed, Message: jobapi.UserMessage(err), Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Events = (*subscription)(nil)
