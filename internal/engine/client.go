package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/external-task-worker/internal/circuitbreaker"
	"github.com/kjstillabower/external-task-worker/internal/observability"
	"github.com/kjstillabower/external-task-worker/internal/traffic"
)

// API is the subset of the engine REST API the external task client uses.
type API interface {
	FetchAndLock(ctx context.Context, req FetchAndLockRequest) ([]LockedExternalTask, error)
	Complete(ctx context.Context, taskID string, req CompleteRequest) error
	HandleFailure(ctx context.Context, taskID string, req FailureRequest) error
	HandleBPMNError(ctx context.Context, taskID string, req BPMNErrorRequest) error
	ExtendLock(ctx context.Context, taskID string, req ExtendLockRequest) error
	Unlock(ctx context.Context, taskID string) error
	SetVariables(ctx context.Context, processInstanceID string, vars map[string]VariableValue) error
	BaseURL() string
}

var (
	ErrNotFound      = errors.New("engine: resource not found")
	ErrBadRequest    = errors.New("engine: bad request")
	ErrUnauthorized  = errors.New("engine: unauthorized")
	ErrEngineFailure = errors.New("engine: server failure")
	ErrRateLimited   = errors.New("engine: rate limited")
	ErrCircuitOpen   = errors.New("engine: circuit open")
)

// Options configures Client. Zero values fall back to the defaults below.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Username       string
	Password       string
	CircuitBreaker *circuitbreaker.CircuitBreaker
	Limiter        *rate.Limiter
	Tracker        *traffic.Tracker
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Client calls the engine REST API with retries, an optional circuit breaker
// and an optional token-bucket limit on outgoing requests.
type Client struct {
	baseURL        string
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	username       string
	password       string
	cb             *circuitbreaker.CircuitBreaker
	limiter        *rate.Limiter
	tracker        *traffic.Tracker
	client         *http.Client
	logger         *zap.Logger
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrBadRequest)
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid base URL %q", ErrBadRequest, opts.BaseURL)
	}

	c := &Client{
		baseURL:        base,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		username:       opts.Username,
		password:       opts.Password,
		cb:             opts.CircuitBreaker,
		limiter:        opts.Limiter,
		tracker:        opts.Tracker,
		client:         opts.HTTPClient,
		logger:         observability.Named(opts.Logger, "engine"),
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.retryAttempts <= 0 {
		c.retryAttempts = 3
	}
	if c.retryBaseDelay <= 0 {
		c.retryBaseDelay = 100 * time.Millisecond
	}
	if c.retryMaxDelay <= 0 {
		c.retryMaxDelay = 2 * time.Second
	}
	if c.client == nil {
		// Per-call deadlines come from contexts; fetchAndLock may long-poll.
		c.client = &http.Client{}
	}
	return c, nil
}

// BaseURL returns the engine REST root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchAndLock fetches and locks tasks for the given topics. It is never retried
// here: the poll loop owns backoff between fetches.
func (c *Client) FetchAndLock(ctx context.Context, req FetchAndLockRequest) ([]LockedExternalTask, error) {
	timeout := c.timeout
	if req.AsyncResponseTimeout != nil {
		timeout += time.Duration(*req.AsyncResponseTimeout) * time.Millisecond
	}
	var tasks []LockedExternalTask
	if err := c.callAPI(ctx, "fetchAndLock", timeout, "/external-task/fetchAndLock", req, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Complete completes a locked task.
func (c *Client) Complete(ctx context.Context, taskID string, req CompleteRequest) error {
	return c.withRetry(ctx, "complete", taskPath(taskID, "complete"), req, true)
}

// HandleFailure reports a failure; retries and retryTimeout decide whether the engine raises an incident.
func (c *Client) HandleFailure(ctx context.Context, taskID string, req FailureRequest) error {
	return c.withRetry(ctx, "failure", taskPath(taskID, "failure"), req, true)
}

// HandleBPMNError reports a business error to be caught by a boundary event.
func (c *Client) HandleBPMNError(ctx context.Context, taskID string, req BPMNErrorRequest) error {
	return c.withRetry(ctx, "bpmnError", taskPath(taskID, "bpmnError"), req, true)
}

// ExtendLock sets a new lock duration measured from now.
func (c *Client) ExtendLock(ctx context.Context, taskID string, req ExtendLockRequest) error {
	return c.withRetry(ctx, "extendLock", taskPath(taskID, "extendLock"), req, false)
}

// Unlock releases the lock so another worker can fetch the task.
func (c *Client) Unlock(ctx context.Context, taskID string) error {
	return c.withRetry(ctx, "unlock", taskPath(taskID, "unlock"), nil, false)
}

// SetVariables updates process instance variables.
func (c *Client) SetVariables(ctx context.Context, processInstanceID string, vars map[string]VariableValue) error {
	path := "/process-instance/" + url.PathEscape(processInstanceID) + "/variables"
	return c.withRetry(ctx, "setVariables", path, modificationsRequest{Modifications: vars}, false)
}

func taskPath(taskID, action string) string {
	return "/external-task/" + url.PathEscape(taskID) + "/" + action
}

// withRetry retries transient failures. For settling operations (complete,
// failure, bpmnError) a 404 after an attempt whose response was lost means
// that attempt already removed the task, so it counts as success.
func (c *Client) withRetry(ctx context.Context, op, path string, body interface{}, settles bool) error {
	var lastErr error
	responseLost := false

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.EngineRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.callAPI(ctx, op, c.timeout, path, body, nil)
		if err == nil {
			return nil
		}
		if settles && responseLost && errors.Is(err, ErrNotFound) {
			c.logger.Warn("engine call already applied by an earlier attempt",
				zap.String("operation", op), zap.Int("attempt", attempt+1), zap.Error(lastErr))
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
		responseLost = !isStatusError(err)
		c.logger.Debug("engine call failed, retrying",
			zap.String("operation", op), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *Client) callAPI(ctx context.Context, op string, timeout time.Duration, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			err = fmt.Errorf("%w: %v", ErrRateLimited, err)
			c.record(op, err)
			return err
		}
	}

	call := func() error { return c.send(ctx, op, timeout, path, body, out) }
	var err error
	if c.cb != nil {
		err = c.cb.Call(ctx, call)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = fmt.Errorf("%w: %s", ErrCircuitOpen, c.cb.Component())
		}
	} else {
		err = call()
	}
	c.record(op, err)
	return err
}

func (c *Client) send(ctx context.Context, op string, timeout time.Duration, path string, body, out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, body)
	if err != nil {
		observability.EngineCallsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.EngineCallsTotal.WithLabelValues(op, "error").Inc()
		observability.EngineCallDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.EngineCallsTotal.WithLabelValues(op, status).Inc()
	observability.EngineCallDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if err := handleErrorResponse(resp.StatusCode, respBody); err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *Client) buildRequest(ctx context.Context, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if corrID := CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	detail := fmt.Sprintf("HTTP %d", statusCode)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Message != "" {
		detail = fmt.Sprintf("HTTP %d %s: %s", statusCode, er.Type, er.Message)
	}

	switch {
	case statusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, detail)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, detail)
	default:
		return fmt.Errorf("%w: %s", ErrEngineFailure, detail)
	}
}

func (c *Client) record(op string, err error) {
	if err != nil {
		observability.EngineErrorsTotal.WithLabelValues(op, string(CategorizeError(err))).Inc()
	}
	if c.tracker == nil {
		return
	}
	switch {
	case err == nil:
		c.tracker.RecordSuccess()
	case errors.Is(err, ErrRateLimited):
		c.tracker.RecordThrottled()
	case IsConnectivityError(err):
		c.tracker.RecordError()
	default:
		// The engine answered; 4xx means the engine itself is healthy.
		c.tracker.RecordSuccess()
	}
}

// isStatusError reports whether the engine answered with an error status.
func isStatusError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrBadRequest, ErrUnauthorized, ErrEngineFailure, ErrRateLimited} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrEngineFailure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "http request failed")
}

// IsConnectivityError reports whether err means the engine could not serve the
// call at all (network, timeout, 5xx). Used to trip the circuit breaker.
func IsConnectivityError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch CategorizeError(err) {
	case ErrorCategoryTimeout, ErrorCategoryNetwork, ErrorCategoryEngine5xx, ErrorCategoryCircuitOpen:
		return true
	}
	return false
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

type correlationIDKey struct{}

// WithCorrelationID attaches an id sent as X-Correlation-ID on engine calls.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}
