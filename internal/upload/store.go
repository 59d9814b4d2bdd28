package upload

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrTerminal is returned when mutating an item that already finished.
var ErrTerminal = errors.New("upload item already finished")

// ErrNotFound is returned for an unknown item id.
var ErrNotFound = errors.New("upload item not found")

// Status is the lifecycle state of an upload item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Item tracks one file through the upload sequence.
type Item struct {
	ID         string
	File       File
	Progress   int
	Status     Status
	Error      string
	DocumentID string
	Chunks     int
}

// Store holds upload items in selection order. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	items []Item
}

func NewStore() *Store {
	return &Store{}
}

// Items returns a snapshot of all items.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Get returns a copy of the item with the given id.
func (s *Store) Get(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return Item{}, false
}

func (s *Store) add(files []File) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := make([]Item, len(files))
	for i, f := range files {
		added[i] = Item{ID: uuid.New().String(), File: f, Status: StatusPending}
		s.items = append(s.items, added[i])
	}
	return added
}

// update applies fn to a non-terminal item and returns the result.
func (s *Store) update(id string, fn func(it *Item)) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Item{}, ErrNotFound
	}
	if s.items[i].Status.Terminal() {
		return s.items[i], ErrTerminal
	}
	fn(&s.items[i])
	return s.items[i], nil
}

// setProgress records transfer progress. Progress never decreases; once
// bytes reach 100% the item moves to processing while the backend indexes it.
func (s *Store) setProgress(id string, pct int) (Item, bool) {
	changed := false
	it, err := s.update(id, func(it *Item) {
		if it.Status != StatusUploading && it.Status != StatusProcessing {
			return
		}
		if pct > 100 {
			pct = 100
		}
		if pct > it.Progress {
			it.Progress = pct
			changed = true
		}
		if it.Progress == 100 && it.Status == StatusUploading {
			it.Status = StatusProcessing
			changed = true
		}
	})
	return it, err == nil && changed
}

// ClearCompleted removes every complete item and returns how many were removed.
func (s *Store) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	removed := 0
	for _, it := range s.items {
		if it.Status == StatusComplete {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	s.items = kept
	return removed
}

// Remove deletes one finished item.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	if !s.items[i].Status.Terminal() {
		return errors.New("upload item still in progress")
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}
