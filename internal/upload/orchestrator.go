package upload

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kalambet/ragdesk/internal/backend"
	"github.com/kalambet/ragdesk/internal/notify"
)

// ErrNoValidFiles is returned when every file of a batch fails validation.
var ErrNoValidFiles = errors.New("no valid files to upload")

// Uploader sends one file to the backend.
type Uploader interface {
	UploadDocument(ctx context.Context, file backend.UploadFile, onProgress func(int)) (backend.UploadResult, error)
}

// BatchResult is the outcome of one UploadBatch call.
type BatchResult struct {
	Items    []Item
	Rejected []Rejection
}

// Failed counts items of the batch that ended in error.
func (r BatchResult) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Status == StatusError {
			n++
		}
	}
	return n
}

// Orchestrator validates batches and uploads their files one at a time.
type Orchestrator struct {
	uploader Uploader
	store    *Store
	rules    Rules
	notifier notify.Notifier
	logger   *slog.Logger

	// OnUpdate, if set, receives a snapshot after every item change,
	// including progress updates from the transfer goroutine.
	OnUpdate func(Item)
}

// NewOrchestrator wires an Orchestrator. A nil notifier discards notifications.
func NewOrchestrator(uploader Uploader, store *Store, rules Rules, notifier notify.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Orchestrator{
		uploader: uploader,
		store:    store,
		rules:    rules,
		notifier: notifier,
		logger:   slog.Default(),
	}
}

// Store returns the item store the orchestrator mutates.
func (o *Orchestrator) Store() *Store { return o.store }

// UploadBatch validates files and uploads the valid ones strictly in
// sequence: each item reaches complete or error before the next starts.
// A failed upload does not stop the batch.
func (o *Orchestrator) UploadBatch(ctx context.Context, files []File) (BatchResult, error) {
	valid, rejected := Validate(files, o.rules)
	result := BatchResult{Rejected: rejected}

	if len(valid) == 0 {
		reasons := make([]string, len(rejected))
		for i, r := range rejected {
			reasons[i] = r.Reason
		}
		msg := ErrNoValidFiles.Error()
		if len(reasons) > 0 {
			msg += ": " + strings.Join(reasons, "; ")
		}
		notify.Errorf(o.notifier, "%s", msg)
		return result, ErrNoValidFiles
	}
	for _, r := range rejected {
		notify.Errorf(o.notifier, "%s", r.Reason)
	}

	items := o.store.add(valid)
	for _, it := range items {
		o.emit(it)
	}

	for _, it := range items {
		result.Items = append(result.Items, o.uploadOne(ctx, it))
	}
	return result, nil
}

func (o *Orchestrator) uploadOne(ctx context.Context, it Item) Item {
	started, err := o.store.update(it.ID, func(it *Item) {
		it.Status = StatusUploading
		it.Progress = 0
	})
	if err != nil {
		return started
	}
	o.emit(started)
	o.logger.Debug("uploading file", "item_id", it.ID, "file", it.File.Name(), "size", it.File.Size())

	res, upErr := o.uploader.UploadDocument(ctx, it.File, func(pct int) {
		if updated, changed := o.store.setProgress(it.ID, pct); changed {
			o.emit(updated)
		}
	})

	var final Item
	if upErr != nil {
		final, _ = o.store.update(it.ID, func(it *Item) {
			it.Status = StatusError
			it.Error = upErr.Error()
		})
		o.logger.Warn("upload failed", "item_id", it.ID, "file", it.File.Name(), "error", upErr)
		notify.Errorf(o.notifier, "Failed to upload %s: %s", it.File.Name(), upErr.Error())
	} else {
		final, _ = o.store.update(it.ID, func(it *Item) {
			it.Status = StatusComplete
			it.Progress = 100
			it.DocumentID = res.DocID
			it.Chunks = res.ChunksCreated
		})
		o.logger.Info("upload complete", "item_id", it.ID, "file", it.File.Name(), "doc_id", res.DocID, "chunks", res.ChunksCreated)
		notify.Successf(o.notifier, "Uploaded %s (%d chunks)", it.File.Name(), res.ChunksCreated)
	}
	o.emit(final)
	return final
}

func (o *Orchestrator) emit(it Item) {
	if o.OnUpdate != nil {
		o.OnUpdate(it)
	}
}
