package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 60 * time.Second
)

// Options configures a Client. Zero values fall back to the defaults.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	TopK       int
	UserAgent  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the typed facade over the backend REST API. Every operation is
// a single logical request through the retrying transport.
type Client struct {
	t     *transport
	topK  int
	lists singleflight.Group
}

// New creates a Client for the backend at opts.BaseURL.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	policy := RetryPolicy{MaxRetries: opts.MaxRetries, BaseDelay: opts.BaseDelay}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		t: &transport{
			baseURL:    strings.TrimRight(opts.BaseURL, "/"),
			userAgent:  opts.UserAgent,
			httpClient: httpClient,
			policy:     policy,
			sleep:      sleepContext,
			logger:     logger,
		},
		topK: opts.TopK,
	}
}

// UploadDocument sends file as a multipart upload. onProgress, if non-nil,
// receives integer percentages as the file bytes are transferred.
func (c *Client) UploadDocument(ctx context.Context, file UploadFile, onProgress func(int)) (UploadResult, error) {
	var res UploadResult
	err := c.t.do(ctx, request{
		method: http.MethodPost,
		path:   apiPrefix + "/upload",
		body:   multipartBody(file, onProgress),
	}, &res)
	if err != nil {
		return UploadResult{}, err
	}
	return res, nil
}

// GetDocuments returns the documents known to the backend. Concurrent calls
// share one in-flight request. The shared request is detached from any one
// caller's cancellation; each caller stops waiting when its own ctx is done.
func (c *Client) GetDocuments(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Message: "request cancelled", Err: err}
	}

	shared := context.WithoutCancel(ctx)
	ch := c.lists.DoChan("documents", func() (any, error) {
		var list documentList
		if err := c.t.do(shared, request{method: http.MethodGet, path: apiPrefix + "/documents"}, &list); err != nil {
			return nil, err
		}
		return list.Documents, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, &Error{Message: "request cancelled", Err: ctx.Err()}
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return copyDocuments(res.Val.([]Document)), nil
}

func copyDocuments(shared []Document) []Document {
	docs := make([]Document, len(shared))
	copy(docs, shared)
	return docs
}

// DeleteDocument deletes a document by id and returns the backend message.
func (c *Client) DeleteDocument(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("document id is required")
	}
	var res messageResponse
	err := c.t.do(ctx, request{
		method: http.MethodDelete,
		path:   apiPrefix + "/documents/" + url.PathEscape(id),
	}, &res)
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

// Query asks a question, optionally scoped to one document. A zero TopK uses
// the client's configured default.
func (c *Client) Query(ctx context.Context, q QueryRequest) (QueryResponse, error) {
	if q.TopK <= 0 {
		q.TopK = c.topK
	}
	body, err := jsonBody(q)
	if err != nil {
		return QueryResponse{}, err
	}
	var res QueryResponse
	if err := c.t.do(ctx, request{method: http.MethodPost, path: apiPrefix + "/query", body: body}, &res); err != nil {
		return QueryResponse{}, err
	}
	if res.Sources == nil {
		res.Sources = []Source{}
	}
	return res, nil
}

// Generate requests studio content of the given kind for a document.
func (c *Client) Generate(ctx context.Context, action StudioAction, docID string, options map[string]any) (StudioResponse, error) {
	if !action.Valid() {
		return StudioResponse{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	body, err := jsonBody(studioRequest{Action: action, DocID: docID, Options: options})
	if err != nil {
		return StudioResponse{}, err
	}
	var res StudioResponse
	if err := c.t.do(ctx, request{method: http.MethodPost, path: apiPrefix + "/studio", body: body}, &res); err != nil {
		return StudioResponse{}, err
	}
	return res, nil
}

// HealthCheck returns the backend liveness status string.
func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	var res healthResponse
	if err := c.t.do(ctx, request{method: http.MethodGet, path: "/health"}, &res); err != nil {
		return "", err
	}
	return res.Status, nil
}
