// Package backendtest provides an in-memory fake of the document QA backend
// for tests, with per-route fault injection.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Document is the fake's stored document record.
type Document struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	UploadDate string `json:"upload_date"`
	Chunks     int    `json:"chunks"`
	Size       int64  `json:"size"`
}

// QueryRequest mirrors the query body the fake accepts.
type QueryRequest struct {
	Query string `json:"query"`
	DocID string `json:"doc_id,omitempty"`
	TopK  int    `json:"top_k,omitempty"`
}

// StudioRequest mirrors the studio body the fake accepts.
type StudioRequest struct {
	Action  string         `json:"action"`
	DocID   string         `json:"doc_id"`
	Options map[string]any `json:"options,omitempty"`
}

type fault struct {
	status int
	body   string
}

// Server is a fake backend. Handlers are safe for concurrent requests.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	docs    []Document
	nextID  int
	faults  map[string][]fault
	hits    map[string]int
	queries []QueryRequest
	uploads []string

	// QueryFunc, when set, produces the raw JSON answer for a query.
	QueryFunc func(q QueryRequest) any
	// StudioFunc, when set, produces the raw JSON answer for a studio request.
	StudioFunc func(r StudioRequest) any
}

// New starts a fake backend that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		faults: make(map[string][]fault),
		hits:   make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(s.countAndInject)
	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/query", s.handleQuery)
		r.Post("/studio", s.handleStudio)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

func routeKey(method, path string) string {
	return method + " " + path
}

// FailNext makes the next len(statuses) requests to method+path fail with
// the given statuses and a {"detail": <status text>} body.
func (s *Server) FailNext(method, path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(method, path)
	for _, st := range statuses {
		body, _ := json.Marshal(map[string]string{"detail": http.StatusText(st)})
		s.faults[key] = append(s.faults[key], fault{status: st, body: string(body)})
	}
}

// FailNextWithBody queues one failure with a custom raw body.
func (s *Server) FailNextWithBody(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(method, path)
	s.faults[key] = append(s.faults[key], fault{status: status, body: body})
}

// Hits returns how many requests reached method+path, injected failures included.
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[routeKey(method, path)]
}

// AddDocument stores a document directly and returns its id.
func (s *Server) AddDocument(filename string, chunks int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(filename, chunks, 0)
}

// Documents returns a copy of the stored documents.
func (s *Server) Documents() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// Queries returns every query body received, in arrival order.
func (s *Server) Queries() []QueryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueryRequest, len(s.queries))
	copy(out, s.queries)
	return out
}

// Uploads returns the filenames received by the upload endpoint, in order.
func (s *Server) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.uploads))
	copy(out, s.uploads)
	return out
}

func (s *Server) addLocked(filename string, chunks int, size int64) string {
	s.nextID++
	id := fmt.Sprintf("doc-%d", s.nextID)
	s.docs = append(s.docs, Document{
		ID:         id,
		Filename:   filename,
		UploadDate: time.Now().UTC().Format(time.RFC3339),
		Chunks:     chunks,
		Size:       size,
	})
	return id
}

func (s *Server) countAndInject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := routeKey(r.Method, r.URL.Path)

		s.mu.Lock()
		s.hits[key]++
		var f *fault
		if q := s.faults[key]; len(q) > 0 {
			f = &q[0]
			s.faults[key] = q[1:]
		}
		s.mu.Unlock()

		if f != nil {
			io.Copy(io.Discard, r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			io.WriteString(w, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	n, err := io.Copy(io.Discard, file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "could not read file")
		return
	}
	chunks := int(n/1000) + 1

	s.mu.Lock()
	id := s.addLocked(header.Filename, chunks, n)
	s.uploads = append(s.uploads, header.Filename)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Document uploaded successfully",
		"filename":       header.Filename,
		"doc_id":         id,
		"chunks_created": chunks,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"documents": s.Documents()})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	idx := -1
	for i, d := range s.docs {
		if d.ID == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		s.docs = append(s.docs[:idx], s.docs[idx+1:]...)
	}
	s.mu.Unlock()

	if idx < 0 {
		writeDetail(w, http.StatusNotFound, "Document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil || q.Query == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "field required", "type": "value_error.missing"}},
		})
		return
	}

	s.mu.Lock()
	s.queries = append(s.queries, q)
	fn := s.QueryFunc
	s.mu.Unlock()

	if fn != nil {
		writeJSON(w, http.StatusOK, fn(q))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":          "Answer to: " + q.Query,
		"sources":         []any{},
		"processing_time": 0.01,
	})
}

func (s *Server) handleStudio(w http.ResponseWriter, r *http.Request) {
	var req StudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	fn := s.StudioFunc
	found := false
	for _, d := range s.docs {
		if d.ID == req.DocID {
			found = true
			break
		}
	}
	s.mu.Unlock()

	if fn != nil {
		writeJSON(w, http.StatusOK, fn(req))
		return
	}
	if !found {
		writeDetail(w, http.StatusNotFound, "Document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"result": map[string]string{
			"content": fmt.Sprintf("%s for %s", req.Action, req.DocID),
			"format":  "markdown",
		},
	})
}
