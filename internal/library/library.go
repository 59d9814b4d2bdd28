// Package library keeps the client-side list of documents known to the backend.
package library

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/ragdesk/internal/backend"
	"github.com/kalambet/ragdesk/internal/notify"
)

// Backend is the subset of the API facade the library needs.
type Backend interface {
	GetDocuments(ctx context.Context) ([]backend.Document, error)
	DeleteDocument(ctx context.Context, id string) (string, error)
}

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store holds the last known document list. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	docs      []backend.Document
	refreshed time.Time

	backend  Backend
	notifier notify.Notifier
	clock    Clock
	logger   *slog.Logger
}

// New creates an empty Store backed by b. A nil notifier discards notifications.
func New(b Backend, notifier notify.Notifier) *Store {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Store{
		backend:  b,
		notifier: notifier,
		clock:    realClock{},
		logger:   slog.Default(),
	}
}

// Documents returns a snapshot of the current list.
func (s *Store) Documents() []backend.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]backend.Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// Get returns the document with the given id, if listed.
func (s *Store) Get(id string) (backend.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.docs {
		if d.ID == id {
			return d, true
		}
	}
	return backend.Document{}, false
}

// RefreshedAt returns when the list was last replaced from the backend.
// The zero time means it never was.
func (s *Store) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

// Refresh replaces the local list with the backend's. On failure the
// previous list is kept.
func (s *Store) Refresh(ctx context.Context) ([]backend.Document, error) {
	docs, err := s.backend.GetDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	s.mu.Lock()
	s.docs = docs
	s.refreshed = s.clock.Now()
	s.mu.Unlock()

	s.logger.Debug("document list refreshed", "count", len(docs))
	return s.Documents(), nil
}

// Delete removes the document locally and then asks the backend to delete
// it. The local row stays removed when the backend call fails; the failure
// is notified and returned, and the next Refresh reconciles.
func (s *Store) Delete(ctx context.Context, id string) error {
	name := id
	s.mu.Lock()
	for i, d := range s.docs {
		if d.ID == id {
			name = d.Filename
			s.docs = append(s.docs[:i], s.docs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if _, err := s.backend.DeleteDocument(ctx, id); err != nil {
		s.logger.Warn("document delete failed", "doc_id", id, "error", err)
		if backend.IsNotFound(err) {
			notify.Errorf(s.notifier, "Failed to delete %s: document not found", name)
		} else {
			notify.Errorf(s.notifier, "Failed to delete %s: %s", name, err.Error())
		}
		return fmt.Errorf("deleting document %s: %w", id, err)
	}

	notify.Successf(s.notifier, "Deleted %s", name)
	return nil
}
