package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default endpoint paths, relative to Config.BaseURL.
const (
	DefaultListPath   = "/v1/models"
	DefaultSubmitPath = "/v1/images/generations"
	DefaultStreamPath = "/v1/tasks/{task_id}/stream"
)

// DefaultTimeout bounds each listing or submission request.
const DefaultTimeout = 60 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. "http://localhost:8088".
	BaseURL string

	// ListPath and SubmitPath override the default endpoint paths.
	ListPath   string
	SubmitPath string

	// HTTPClient is used for requests. If nil, a client with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies when HTTPClient is nil. Zero means DefaultTimeout.
	Timeout time.Duration

	// RateLimit caps requests per second. Zero or negative disables limiting.
	RateLimit float64

	// Burst is the limiter burst size. Values below 1 are treated as 1.
	Burst int

	// Logger receives debug request logs. Nil disables logging.
	Logger *zap.Logger
}

// Client talks to the listing and submission endpoints of the service.
type Client struct {
	baseURL    string
	listPath   string
	submitPath string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("jobapi: base URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("jobapi: invalid base URL %q: %w", base, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    base,
		listPath:   orDefault(cfg.ListPath, DefaultListPath),
		submitPath: orDefault(cfg.SubmitPath, DefaultSubmitPath),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}, nil
}

// ListVariants returns the variants offered by the service, in server order.
//
// An empty credential fails with ErrValidation before any request is made.
func (c *Client) ListVariants(ctx context.Context, cred Credential) ([]Variant, error) {
	if err := cred.Validate(OpList); err != nil {
		return nil, err
	}

	status, body, err := c.do(ctx, http.MethodGet, c.listPath, cred, nil)
	if err != nil {
		return nil, &APIError{Op: OpList, Kind: ErrFetch, Message: MsgListFailed, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &APIError{Op: OpList, Kind: ErrFetch, StatusCode: status, Message: extractDetail(body, MsgListFailed)}
	}

	var resp struct {
		Data *[]Variant `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &APIError{Op: OpList, Kind: ErrProtocol, StatusCode: status, Message: "model list response is not valid JSON", Err: err}
	}
	if resp.Data == nil {
		return nil, &APIError{Op: OpList, Kind: ErrProtocol, StatusCode: status, Message: "model list response has no data field"}
	}

	variants := make([]Variant, 0, len(*resp.Data))
	for _, v := range *resp.Data {
		if strings.TrimSpace(v.ID) == "" {
			c.logger.Debug("Skipping variant without id")
			continue
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// Submit posts req and returns the handle of the created job.
//
// Preconditions (non-empty credential and request fields) are checked before
// any request is made.
func (c *Client) Submit(ctx context.Context, cred Credential, req JobRequest) (JobHandle, error) {
	if err := cred.Validate(OpSubmit); err != nil {
		return JobHandle{}, err
	}
	if err := req.Validate(); err != nil {
		return JobHandle{}, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return JobHandle{}, &APIError{Op: OpSubmit, Kind: ErrSubmit, Message: MsgSubmitFailed, Err: err}
	}

	status, body, err := c.do(ctx, http.MethodPost, c.submitPath, cred, payload)
	if err != nil {
		return JobHandle{}, &APIError{Op: OpSubmit, Kind: ErrSubmit, Message: MsgSubmitFailed, Err: err}
	}
	if status < 200 || status > 299 {
		return JobHandle{}, &APIError{Op: OpSubmit, Kind: ErrSubmit, StatusCode: status, Message: extractDetail(body, MsgSubmitFailed)}
	}

	var resp struct {
		TaskID json.RawMessage `json:"task_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return JobHandle{}, &APIError{Op: OpSubmit, Kind: ErrProtocol, StatusCode: status, Message: "submission response is not valid JSON", Err: err}
	}
	id, ok := taskID(resp.TaskID)
	if !ok {
		return JobHandle{}, &APIError{Op: OpSubmit, Kind: ErrProtocol, StatusCode: status, Message: "submission response has no task_id"}
	}

	c.logger.Debug("Job submitted", zap.String("task_id", id), zap.String("model", req.VariantID))
	return JobHandle{JobID: id}, nil
}

func (c *Client) do(ctx context.Context, method, path string, cred Credential, payload []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(string(cred)))

	c.logger.Debug("API request", zap.String("method", method), zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// extractDetail pulls a string "detail" field out of an error body.
func extractDetail(body []byte, fallback string) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return fallback
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err != nil || strings.TrimSpace(detail) == "" {
		return fallback
	}
	return detail
}

// taskID accepts either a JSON string or a JSON number.
func taskID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil && n.String() != "" {
		return n.String(), true
	}
	return "", false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
