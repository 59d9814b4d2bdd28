package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 10 << 20

// bodyFunc produces a fresh request body and its content type for each
// attempt, so a retried request re-sends the whole payload.
type bodyFunc func() (io.ReadCloser, string, error)

type request struct {
	method string
	path   string
	body   bodyFunc
}

func jsonBody(v any) (bodyFunc, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}
	return func() (io.ReadCloser, string, error) {
		return io.NopCloser(bytes.NewReader(data)), "application/json", nil
	}, nil
}

// transport issues requests against a fixed base URL and retries qualifying
// failures according to its policy.
type transport struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	policy     RetryPolicy
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// do runs r until it succeeds, fails with a non-retryable error, or the
// policy is exhausted. On success the JSON response is decoded into out.
// Attempts are strictly sequential.
func (t *transport) do(ctx context.Context, r request, out any) error {
	for attempt := 0; ; attempt++ {
		status, body, err := t.attempt(ctx, r)
		if local, ok := err.(*Error); ok {
			return local
		}
		if err == nil && status < 400 {
			return decodeBody(status, body, out)
		}

		apiErr := newError(status, body, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Message: "request cancelled", Err: ctxErr}
		}
		if !t.policy.ShouldRetry(apiErr, attempt) {
			return apiErr
		}

		delay := t.policy.Delay(attempt)
		t.logger.Warn("retrying request",
			"attempt", attempt+1,
			"max_retries", t.policy.MaxRetries,
			"method", r.method,
			"path", r.path,
			"delay", delay,
			"status", apiErr.Status,
			"error", apiErr.Err,
		)
		if err := t.sleep(ctx, delay); err != nil {
			return &Error{Message: "request cancelled", Err: err}
		}
	}
}

// attempt performs one HTTP round trip. A nil error with any status means a
// response was received; a plain error means none was. Local failures that
// must not be retried come back as *Error.
func (t *transport) attempt(ctx context.Context, r request) (int, []byte, error) {
	var (
		bodyReader  io.ReadCloser
		contentType string
	)
	if r.body != nil {
		rc, ct, err := r.body()
		if err != nil {
			return 0, nil, &Error{Message: err.Error(), Err: err}
		}
		bodyReader, contentType = rc, ct
	}

	req, err := http.NewRequestWithContext(ctx, r.method, t.baseURL+r.path, bodyReader)
	if err != nil {
		if bodyReader != nil {
			bodyReader.Close()
		}
		return 0, nil, &Error{Message: fmt.Sprintf("creating request: %v", err), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		// The status line arrived but the body did not; treat as no response.
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func decodeBody(status int, body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{
			Status:  status,
			Message: "invalid response from server",
			Err:     fmt.Errorf("decoding response: %w", err),
		}
	}
	return nil
}
