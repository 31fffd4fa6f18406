// Package transport is the thin HTTP layer shared by every remote client in
// the pipeline: JSON request/response, multipart upload, and server-sent
// event streaming, all behind a single retry policy.
//
// Retries cover only the transient class of failures: network timeouts,
// connection errors, and the HTTP statuses 408, 429, 500, 502, 503 and 504.
// At most three additional attempts are made, delayed by
// min(1s·2^attempt, 30s) scaled by a uniform jitter in [0.5, 1.5). Anything
// else propagates immediately; callers receive either the response or the
// original error after exhaustion. Permanent HTTP failures surface as
// [*HTTPError] so the pipeline can classify them without string matching.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"syscall"
	"time"

	failsafe "github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/VetCoders/ScreenScribe-sub000/internal/observe"
)

// Per-operation timeouts. Transcription uploads whole audio files; the VLM
// streams token by token; preflight must fail fast.
const (
	TimeoutTranscription = 600 * time.Second
	TimeoutLLM           = 60 * time.Second
	TimeoutVLM           = 120 * time.Second
	TimeoutPreflight     = 10 * time.Second
)

const (
	retryMaxAttempts = 3 // additional attempts after the first
	retryBaseDelay   = 1 * time.Second
	retryMaxDelay    = 30 * time.Second
	retryJitter      = 0.5
)

// transientStatuses is the fixed set of HTTP statuses worth retrying.
var transientStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// HTTPError is a non-2xx response from an upstream endpoint. Body holds up
// to a few kilobytes of the response for diagnostics.
type HTTPError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, truncate(e.Body, 200))
}

// Transient reports whether the status belongs to the retriable set.
func (e *HTTPError) Transient() bool { return transientStatuses[e.Status] }

// IsTransient classifies err for the retry policy: transient HTTP statuses,
// network timeouts, and connection-level failures qualify; caller
// cancellation never does.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || isConnError(err)
}

// isConnError reports whether err is a network-level failure to reach or
// talk to the peer: dials, resets, dropped connections. TLS verification
// failures and request-build errors are permanent and never retried.
func isConnError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// Client is the shared HTTP client. The zero value is not usable; use [New].
type Client struct {
	http    *http.Client
	retry   retrypolicy.RetryPolicy[*http.Response]
	role    string
	metrics *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client (used by tests to
// point at httptest servers with custom transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRole labels the model role (stt, llm, vision) on the call and
// retry metrics emitted by this client.
func WithRole(role string) Option {
	return func(c *Client) { c.role = role }
}

// WithMetrics replaces the metrics sink, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New returns a Client with the shared retry policy installed.
func New(opts ...Option) *Client {
	c := &Client{
		// Per-request deadlines come from the caller's context; the client
		// itself has no global timeout.
		http:    &http.Client{},
		role:    "model",
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry = retrypolicy.Builder[*http.Response]().
		HandleIf(func(_ *http.Response, err error) bool { return IsTransient(err) }).
		WithBackoff(retryBaseDelay, retryMaxDelay).
		WithJitterFactor(retryJitter).
		WithMaxRetries(retryMaxAttempts).
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			slog.Debug("retrying request", "role", c.role, "attempt", e.Attempts(), "error", e.LastError())
			c.metrics.RecordRetry(e.Context(), c.role)
		}).
		Build()
	return c
}

// do executes one attempt: build the request from the replayable body,
// send it, and convert non-2xx statuses to *HTTPError. On success the
// caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, url, contentType string, body []byte, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}

// Do sends the request with the retry policy applied and returns the raw
// response. The body must be fully buffered so attempts are replayable.
func (c *Client) Do(ctx context.Context, method, url, contentType string, body []byte, header http.Header) (*http.Response, error) {
	resp, err := failsafe.NewExecutor[*http.Response](c.retry).
		WithContext(ctx).
		Get(func() (*http.Response, error) {
			return c.do(ctx, method, url, contentType, body, header)
		})

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordModelCall(ctx, c.role, status)
	return resp, err
}

// PostJSON marshals payload, POSTs it to url with the given timeout, and
// unmarshals the response into out (skipped when out is nil).
func (c *Client) PostJSON(ctx context.Context, url string, payload any, out any, timeout time.Duration, header http.Header) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.Do(ctx, http.MethodPost, url, "application/json", body, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

// FormFile is one file part of a multipart upload.
type FormFile struct {
	Field    string
	Filename string
	Data     []byte
}

// PostMultipart uploads files and fields as multipart/form-data and
// unmarshals the JSON response into out (skipped when out is nil).
func (c *Client) PostMultipart(ctx context.Context, url string, files []FormFile, fields map[string]string, out any, timeout time.Duration, header http.Header) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, f := range files {
		fw, err := mw.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return fmt.Errorf("transport: create form file: %w", err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return fmt.Errorf("transport: write form file: %w", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("transport: write field %q: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("transport: close multipart writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.Do(ctx, http.MethodPost, url, mw.FormDataContentType(), buf.Bytes(), header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
