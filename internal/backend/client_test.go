package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/ragdesk/internal/backend/backendtest"
)

type memFile struct {
	name string
	typ  string
	data []byte
}

func (f memFile) Name() string      { return f.name }
func (f memFile) MediaType() string { return f.typ }
func (f memFile) Size() int64       { return int64(len(f.data)) }
func (f memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// recordedSleeps captures backoff waits instead of sleeping.
type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordedSleeps) get() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestClient(t *testing.T, baseURL string) (*Client, *recordedSleeps) {
	t.Helper()
	c := New(Options{
		BaseURL:    baseURL,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		TopK:       5,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	rec := &recordedSleeps{}
	c.t.sleep = rec.sleep
	return c, rec
}

var ctx = context.Background()

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 1000 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
		{3, 8000 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
	tests := []struct {
		name    string
		err     *Error
		attempt int
		want    bool
	}{
		{"no response", newError(0, nil, errors.New("dial tcp: refused")), 0, true},
		{"500", newError(500, nil, nil), 0, true},
		{"503 last retry", newError(503, nil, nil), 2, true},
		{"503 exhausted", newError(503, nil, nil), 3, false},
		{"599", newError(599, nil, nil), 1, true},
		{"429", newError(429, nil, nil), 0, true},
		{"400", newError(400, nil, nil), 0, false},
		{"401", newError(401, nil, nil), 0, false},
		{"404", newError(404, nil, nil), 0, false},
		{"422", newError(422, nil, nil), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRetry(tt.err, tt.attempt); got != tt.want {
				t.Errorf("ShouldRetry = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetailMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string detail", `{"detail":"Document not found"}`, "Document not found"},
		{"field errors", `{"detail":[{"msg":"field required","type":"value_error.missing"},{"msg":"not a valid integer","type":"type_error.integer"}]}`, "field required, not a valid integer"},
		{"no detail", `{"error":"boom"}`, ""},
		{"not json", `<html>bad gateway</html>`, ""},
		{"empty", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detailMessage([]byte(tt.body)); got != tt.want {
				t.Errorf("detailMessage = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetDocuments_RetriesServerErrors(t *testing.T) {
	srv := backendtest.New(t)
	srv.AddDocument("handbook.pdf", 12)
	srv.FailNext(http.MethodGet, "/api/v1/documents", 503, 503)

	c, sleeps := newTestClient(t, srv.URL)
	docs, err := c.GetDocuments(ctx)
	if err != nil {
		t.Fatalf("GetDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].Filename != "handbook.pdf" {
		t.Fatalf("docs = %+v, want handbook.pdf", docs)
	}
	if got := srv.Hits(http.MethodGet, "/api/v1/documents"); got != 3 {
		t.Errorf("hits = %d, want 3", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if got := sleeps.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestTransport_GivesUpAfterMaxRetries(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNext(http.MethodGet, "/api/v1/documents", 500, 500, 500, 500)

	c, sleeps := newTestClient(t, srv.URL)
	_, err := c.GetDocuments(ctx)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if apiErr.Status != 500 {
		t.Errorf("status = %d, want 500", apiErr.Status)
	}
	if apiErr.Message != "Internal Server Error" {
		t.Errorf("message = %q, want detail text", apiErr.Message)
	}
	if got := srv.Hits(http.MethodGet, "/api/v1/documents"); got != 4 {
		t.Errorf("hits = %d, want 4", got)
	}
	if got := len(sleeps.get()); got != 3 {
		t.Errorf("backoff waits = %d, want 3", got)
	}
}

func TestTransport_RateLimitRetried(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNext(http.MethodGet, "/health", http.StatusTooManyRequests)

	c, sleeps := newTestClient(t, srv.URL)
	status, err := c.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if status != "healthy" {
		t.Errorf("status = %q, want healthy", status)
	}
	if got := srv.Hits(http.MethodGet, "/health"); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
	if got := sleeps.get(); len(got) != 1 || got[0] != time.Second {
		t.Errorf("delays = %v, want [1s]", got)
	}
}

func TestTransport_ClientErrorNotRetried(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 409, 422} {
		srv := backendtest.New(t)
		srv.FailNext(http.MethodGet, "/api/v1/documents", status)

		c, sleeps := newTestClient(t, srv.URL)
		_, err := c.GetDocuments(ctx)
		if err == nil {
			t.Fatalf("status %d: expected error", status)
		}
		if got := srv.Hits(http.MethodGet, "/api/v1/documents"); got != 1 {
			t.Errorf("status %d: hits = %d, want 1", status, got)
		}
		if got := len(sleeps.get()); got != 0 {
			t.Errorf("status %d: backoff waits = %d, want 0", status, got)
		}
	}
}

func TestTransport_ConnectionFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	c, sleeps := newTestClient(t, url)
	_, err := c.HealthCheck(ctx)
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
	if err.Error() != connectionMessage {
		t.Errorf("error = %q, want %q", err.Error(), connectionMessage)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != 0 {
		t.Errorf("expected *Error with status 0, got %#v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if got := sleeps.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestTransport_StatusWithoutDetail(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNextWithBody(http.MethodGet, "/health", http.StatusForbidden, `<html>forbidden</html>`)

	c, _ := newTestClient(t, srv.URL)
	_, err := c.HealthCheck(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "request failed with status 403" {
		t.Errorf("error = %q, want transport error text", err.Error())
	}
}

func TestTransport_LogsRetries(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNext(http.MethodGet, "/api/v1/documents", 502)

	var buf bytes.Buffer
	c := New(Options{
		BaseURL:    srv.URL,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(&buf, nil)),
	})
	c.t.sleep = (&recordedSleeps{}).sleep

	if _, err := c.GetDocuments(ctx); err != nil {
		t.Fatalf("GetDocuments: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "retrying request") {
		t.Errorf("log = %q, want retry entry", out)
	}
	if !strings.Contains(out, "attempt=1") || !strings.Contains(out, "path=/api/v1/documents") {
		t.Errorf("log = %q, want attempt and path", out)
	}
}

func TestTransport_CancelledContext(t *testing.T) {
	srv := backendtest.New(t)
	c, _ := newTestClient(t, srv.URL)

	cctx, cancel := context.WithCancel(ctx)
	cancel()

	_, err := c.GetDocuments(cctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestDeleteDocument_NotFoundNotRetried(t *testing.T) {
	srv := backendtest.New(t)
	c, sleeps := newTestClient(t, srv.URL)

	_, err := c.DeleteDocument(ctx, "missing")
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
	if err.Error() != "Document not found" {
		t.Errorf("message = %q, want %q", err.Error(), "Document not found")
	}
	if got := srv.Hits(http.MethodDelete, "/api/v1/documents/missing"); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
	if got := len(sleeps.get()); got != 0 {
		t.Errorf("backoff waits = %d, want 0", got)
	}
}

func TestDeleteDocument_Success(t *testing.T) {
	srv := backendtest.New(t)
	id := srv.AddDocument("a.pdf", 1)
	c, _ := newTestClient(t, srv.URL)

	msg, err := c.DeleteDocument(ctx, id)
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if msg == "" {
		t.Error("expected a confirmation message")
	}
	if got := len(srv.Documents()); got != 0 {
		t.Errorf("documents left = %d, want 0", got)
	}
}

func TestGetDocuments_Idempotent(t *testing.T) {
	srv := backendtest.New(t)
	srv.AddDocument("a.pdf", 3)
	srv.AddDocument("b.pdf", 4)
	c, _ := newTestClient(t, srv.URL)

	first, err := c.GetDocuments(ctx)
	if err != nil {
		t.Fatalf("first GetDocuments: %v", err)
	}
	second, err := c.GetDocuments(ctx)
	if err != nil {
		t.Fatalf("second GetDocuments: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("collections differ: %+v vs %+v", first, second)
	}
}

func TestUploadDocument_ReportsProgress(t *testing.T) {
	srv := backendtest.New(t)
	c, _ := newTestClient(t, srv.URL)

	file := memFile{name: "policy.pdf", typ: "application/pdf", data: bytes.Repeat([]byte("x"), 200_000)}

	var mu sync.Mutex
	var progress []int
	res, err := c.UploadDocument(ctx, file, func(p int) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if res.DocID == "" {
		t.Error("expected a document id")
	}
	if res.ChunksCreated != 201 {
		t.Errorf("chunks = %d, want 201", res.ChunksCreated)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress not monotonic: %v", progress)
		}
	}
	if last := progress[len(progress)-1]; last != 100 {
		t.Errorf("last progress = %d, want 100", last)
	}
	if got := srv.Uploads(); len(got) != 1 || got[0] != "policy.pdf" {
		t.Errorf("uploads = %v, want [policy.pdf]", got)
	}
}

func TestUploadDocument_RetryResendsWholeFile(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNext(http.MethodPost, "/api/v1/upload", 503)
	c, _ := newTestClient(t, srv.URL)

	data := bytes.Repeat([]byte("pdf"), 10_000)
	if _, err := c.UploadDocument(ctx, memFile{name: "a.pdf", typ: "application/pdf", data: data}, nil); err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	docs := srv.Documents()
	if len(docs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docs))
	}
	if docs[0].Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", docs[0].Size, len(data))
	}
	if got := srv.Hits(http.MethodPost, "/api/v1/upload"); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
}

func TestQuery_DefaultsAndScope(t *testing.T) {
	srv := backendtest.New(t)
	c, _ := newTestClient(t, srv.URL)

	res, err := c.Query(ctx, QueryRequest{Query: "What is the vacation policy?", DocID: "doc-7"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Answer != "Answer to: What is the vacation policy?" {
		t.Errorf("answer = %q", res.Answer)
	}
	if res.Sources == nil {
		t.Error("sources should be non-nil")
	}

	qs := srv.Queries()
	if len(qs) != 1 {
		t.Fatalf("queries = %d, want 1", len(qs))
	}
	if qs[0].TopK != 5 {
		t.Errorf("top_k = %d, want 5", qs[0].TopK)
	}
	if qs[0].DocID != "doc-7" {
		t.Errorf("doc_id = %q, want doc-7", qs[0].DocID)
	}
}

func TestQuery_ValidationErrorsJoined(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNextWithBody(http.MethodPost, "/api/v1/query", http.StatusUnprocessableEntity,
		`{"detail":[{"msg":"field required","type":"value_error.missing"},{"msg":"ensure this value is greater than 0","type":"value_error"}]}`)
	c, sleeps := newTestClient(t, srv.URL)

	_, err := c.Query(ctx, QueryRequest{Query: "x"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	want := "field required, ensure this value is greater than 0"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
	if len(sleeps.get()) != 0 {
		t.Error("validation errors must not be retried")
	}
}

func TestGenerate(t *testing.T) {
	srv := backendtest.New(t)
	id := srv.AddDocument("a.pdf", 2)
	c, _ := newTestClient(t, srv.URL)

	res, err := c.Generate(ctx, ActionBriefing, id, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Status != StudioSuccess {
		t.Errorf("status = %q, want success", res.Status)
	}
	if res.Result == nil || res.Result.Content != "briefing for "+id {
		t.Errorf("result = %+v", res.Result)
	}
}

func TestGenerate_UnknownActionSkipsNetwork(t *testing.T) {
	srv := backendtest.New(t)
	c, _ := newTestClient(t, srv.URL)

	_, err := c.Generate(ctx, StudioAction("podcast"), "doc-1", nil)
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("error = %v, want ErrUnknownAction", err)
	}
	if got := srv.Hits(http.MethodPost, "/api/v1/studio"); got != 0 {
		t.Errorf("hits = %d, want 0", got)
	}
}

func TestClient_SendsHeaders(t *testing.T) {
	var gotAccept, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", UserAgent: "ragdesk/test"})
	if _, err := c.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want application/json", gotAccept)
	}
	if gotUA != "ragdesk/test" {
		t.Errorf("User-Agent = %q, want ragdesk/test", gotUA)
	}
}

func TestGetDocuments_SharedRequestSurvivesCallerCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"documents":[{"id":"doc-1","filename":"handbook.pdf","upload_date":"2024-01-01","chunks":3}]}`)
	}))
	defer srv.Close()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	c, _ := newTestClient(t, srv.URL)

	firstCtx, cancelFirst := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetDocuments(firstCtx)
		firstErr <- err
	}()
	<-started

	type result struct {
		docs []Document
		err  error
	}
	second := make(chan result, 1)
	go func() {
		docs, err := c.GetDocuments(ctx)
		second <- result{docs, err}
	}()
	// Let the second caller join the in-flight request.
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(release)
	got := <-second
	if got.err != nil {
		t.Fatalf("live caller error = %v, want nil", got.err)
	}
	if len(got.docs) != 1 || got.docs[0].Filename != "handbook.pdf" {
		t.Errorf("docs = %+v, want handbook.pdf", got.docs)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("hits = %d, want 1 shared request", n)
	}
}
