package library

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/ragdesk/internal/backend"
	"github.com/kalambet/ragdesk/internal/backend/backendtest"
	"github.com/kalambet/ragdesk/internal/notify"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) (*Store, *backendtest.Server, *notify.Recorder) {
	t.Helper()
	srv := backendtest.New(t)
	client := backend.New(backend.Options{
		BaseURL:   srv.URL,
		BaseDelay: time.Millisecond,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	rec := &notify.Recorder{}
	s := New(client, rec)
	s.clock = fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return s, srv, rec
}

func TestRefresh(t *testing.T) {
	s, srv, _ := newTestStore(t)
	srv.AddDocument("handbook.pdf", 12)
	srv.AddDocument("policy.pdf", 3)

	if !s.RefreshedAt().IsZero() {
		t.Fatal("expected zero RefreshedAt before first refresh")
	}
	docs, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(docs) != 2 || docs[0].Filename != "handbook.pdf" || docs[1].Chunks != 3 {
		t.Errorf("docs = %+v", docs)
	}
	if got := s.RefreshedAt(); !got.Equal(s.clock.Now()) {
		t.Errorf("RefreshedAt = %v, want %v", got, s.clock.Now())
	}
	if _, ok := s.Get(docs[1].ID); !ok {
		t.Errorf("Get(%s) not found", docs[1].ID)
	}
}

func TestRefresh_FailureKeepsList(t *testing.T) {
	s, srv, _ := newTestStore(t)
	srv.AddDocument("a.pdf", 1)
	if _, err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	srv.FailNext(http.MethodGet, "/api/v1/documents", 400)
	if _, err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := len(s.Documents()); got != 1 {
		t.Errorf("documents = %d, want 1 kept after failed refresh", got)
	}
}

func TestDelete_Success(t *testing.T) {
	s, srv, rec := newTestStore(t)
	id := srv.AddDocument("a.pdf", 1)
	srv.AddDocument("b.pdf", 1)
	s.Refresh(context.Background())

	if err := s.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get(id); ok {
		t.Error("document still listed locally")
	}
	if got := len(srv.Documents()); got != 1 {
		t.Errorf("backend documents = %d, want 1", got)
	}
	all := rec.All()
	if len(all) != 1 || all[0].Level != notify.LevelSuccess || !strings.Contains(all[0].Message, "a.pdf") {
		t.Errorf("notifications = %+v", all)
	}
}

func TestDelete_NotFoundStillRemovesLocally(t *testing.T) {
	s, srv, rec := newTestStore(t)
	id := srv.AddDocument("gone.pdf", 1)
	s.Refresh(context.Background())

	// Someone else deleted it in the meantime.
	srv.FailNext(http.MethodDelete, "/api/v1/documents/"+id, 404)

	err := s.Delete(context.Background(), id)
	if !backend.IsNotFound(err) {
		t.Fatalf("error = %v, want 404", err)
	}
	if _, ok := s.Get(id); ok {
		t.Error("row should be removed optimistically")
	}
	if got := srv.Hits(http.MethodDelete, "/api/v1/documents/"+id); got != 1 {
		t.Errorf("delete hits = %d, want 1 (404 is not retried)", got)
	}
	if rec.Count(notify.LevelError) != 1 {
		t.Errorf("error notifications = %d, want 1", rec.Count(notify.LevelError))
	}
}

func TestDelete_FailureReconciledByRefresh(t *testing.T) {
	s, srv, _ := newTestStore(t)
	id := srv.AddDocument("a.pdf", 1)
	s.Refresh(context.Background())

	srv.FailNext(http.MethodDelete, "/api/v1/documents/"+id, 403)
	err := s.Delete(context.Background(), id)
	var apiErr *backend.Error
	if !errors.As(err, &apiErr) || apiErr.Status != 403 {
		t.Fatalf("error = %v, want 403", err)
	}
	if len(s.Documents()) != 0 {
		t.Fatal("expected optimistic removal")
	}

	docs, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != id {
		t.Errorf("after refresh = %+v, want the undeleted document back", docs)
	}
}
