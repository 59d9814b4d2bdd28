// Package chat runs question/answer exchanges against the backend and keeps
// the conversation history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/ragdesk/internal/backend"
	"github.com/kalambet/ragdesk/internal/notify"
)

// ErrEmptyQuery is returned by Submit for blank input.
var ErrEmptyQuery = errors.New("query is empty")

// DefaultMaxSources is how many citations are shown inline by default.
const DefaultMaxSources = 3

// Querier is the subset of the API facade the chat needs.
type Querier interface {
	Query(ctx context.Context, q backend.QueryRequest) (backend.QueryResponse, error)
}

// Exchange is the message pair created by one Submit.
type Exchange struct {
	Question Message
	Answer   Message
}

// Orchestrator turns submitted questions into message pairs and resolves
// the assistant placeholder with the backend's answer.
type Orchestrator struct {
	querier  Querier
	store    *Store
	notifier notify.Notifier
	logger   *slog.Logger

	// TopK is sent with every query; zero leaves the facade default.
	TopK int

	mu    sync.RWMutex
	scope string
}

// NewOrchestrator wires an Orchestrator. A nil notifier discards notifications.
func NewOrchestrator(querier Querier, store *Store, notifier notify.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Orchestrator{
		querier:  querier,
		store:    store,
		notifier: notifier,
		logger:   slog.Default(),
	}
}

// Store returns the conversation history.
func (o *Orchestrator) Store() *Store { return o.store }

// SetScope limits later questions to one document. An empty id means all documents.
func (o *Orchestrator) SetScope(docID string) {
	o.mu.Lock()
	o.scope = docID
	o.mu.Unlock()
}

// Scope returns the current document scope.
func (o *Orchestrator) Scope() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.scope
}

// Submit appends the user message and a loading assistant message, then
// queries the backend and resolves the assistant message in place. A backend
// failure is recorded on the message as "Error: <message>" and notified; it
// is also returned alongside the exchange.
//
// Submit may be called from several goroutines; each call resolves only its
// own placeholder.
func (o *Orchestrator) Submit(ctx context.Context, text string) (Exchange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Exchange{}, ErrEmptyQuery
	}

	question := o.store.Append(RoleUser, text, false)
	placeholder := o.store.Append(RoleAssistant, "", true)
	scope := o.Scope()

	o.logger.Debug("submitting query", "message_id", placeholder.ID, "doc_id", scope)
	res, err := o.querier.Query(ctx, backend.QueryRequest{Query: text, DocID: scope, TopK: o.TopK})

	var answer Message
	var resolveErr error
	if err != nil {
		answer, resolveErr = o.store.Resolve(placeholder.ID, func(m *Message) {
			m.Content = "Error: " + err.Error()
		})
		o.logger.Warn("query failed", "message_id", placeholder.ID, "error", err)
		notify.Errorf(o.notifier, "%s", err.Error())
	} else {
		answer, resolveErr = o.store.Resolve(placeholder.ID, func(m *Message) {
			m.Content = res.Answer
			m.Sources = res.Sources
		})
	}
	if errors.Is(resolveErr, ErrNotFound) {
		// Conversation was cleared while the query was in flight.
		o.logger.Debug("discarding answer for cleared message", "message_id", placeholder.ID)
	}

	ex := Exchange{Question: question, Answer: answer}
	if err != nil {
		return ex, fmt.Errorf("query: %w", err)
	}
	return ex, nil
}

// InlineSources returns at most limit citations for inline display and how
// many were left out. limit <= 0 uses DefaultMaxSources.
func InlineSources(sources []backend.Source, limit int) ([]backend.Source, int) {
	if limit <= 0 {
		limit = DefaultMaxSources
	}
	if len(sources) <= limit {
		return sources, 0
	}
	return sources[:limit], len(sources) - limit
}
