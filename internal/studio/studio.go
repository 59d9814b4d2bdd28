// Package studio tracks content-generation jobs (audio, video, briefing,
// study guide) requested from the backend.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kalambet/ragdesk/internal/backend"
	"github.com/kalambet/ragdesk/internal/notify"
)

var (
	// ErrStudioDisabled is returned when the studio feature flag is off.
	ErrStudioDisabled = errors.New("studio features are disabled")
	// ErrBusy is returned while another generation is in flight.
	ErrBusy = errors.New("another generation is already in progress")
)

// Generator is the subset of the API facade the tracker needs.
type Generator interface {
	Generate(ctx context.Context, action backend.StudioAction, docID string, options map[string]any) (backend.StudioResponse, error)
}

// Tracker issues generation requests and records each as a Job.
type Tracker struct {
	gen      Generator
	store    *Store
	notifier notify.Notifier
	enabled  bool
	logger   *slog.Logger

	busy atomic.Bool
}

// NewTracker wires a Tracker. When enabled is false every Generate call fails
// with ErrStudioDisabled.
func NewTracker(gen Generator, store *Store, enabled bool, notifier notify.Notifier) *Tracker {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Tracker{
		gen:      gen,
		store:    store,
		notifier: notifier,
		enabled:  enabled,
		logger:   slog.Default(),
	}
}

func (t *Tracker) Store() *Store { return t.store }

// Enabled reports the feature flag.
func (t *Tracker) Enabled() bool { return t.enabled }

// Busy reports whether a generation is in flight.
func (t *Tracker) Busy() bool { return t.busy.Load() }

// Generate creates a processing job and asks the backend for content. The
// returned job reflects the outcome: complete with a result, error with a
// message, or still processing when the backend accepted the work for later.
// Only one generation runs at a time.
func (t *Tracker) Generate(ctx context.Context, action backend.StudioAction, docID string, options map[string]any) (Job, error) {
	if !t.enabled {
		return Job{}, ErrStudioDisabled
	}
	if !action.Valid() {
		return Job{}, fmt.Errorf("%w: %q", backend.ErrUnknownAction, action)
	}
	if !t.busy.CompareAndSwap(false, true) {
		return Job{}, ErrBusy
	}
	defer t.busy.Store(false)

	job := t.store.create(action, docID)
	t.logger.Debug("studio job started", "job_id", job.ID, "action", action, "doc_id", docID)

	res, err := t.gen.Generate(ctx, action, docID, options)
	if err != nil {
		job, _ = t.store.finish(job.ID, func(j *Job) {
			j.Status = StatusError
			j.Error = err.Error()
		})
		t.logger.Warn("studio job failed", "job_id", job.ID, "error", err)
		notify.Errorf(t.notifier, "Failed to generate %s: %s", label(action), err.Error())
		return job, fmt.Errorf("generate %s: %w", action, err)
	}

	switch res.Status {
	case backend.StudioSuccess:
		job, _ = t.store.finish(job.ID, func(j *Job) {
			j.Status = StatusComplete
			j.Result = res.Result
			j.Message = res.Message
			j.BackendJobID = res.JobID
		})
		notify.Successf(t.notifier, "%s ready", label(action))
	case backend.StudioProcessing:
		job, _ = t.store.finish(job.ID, func(j *Job) {
			j.BackendJobID = res.JobID
			j.Message = res.Message
		})
		notify.Infof(t.notifier, "%s is being generated", label(action))
	default:
		msg := res.Message
		if msg == "" {
			msg = "generation failed"
		}
		job, _ = t.store.finish(job.ID, func(j *Job) {
			j.Status = StatusError
			j.Error = msg
			j.BackendJobID = res.JobID
		})
		notify.Errorf(t.notifier, "Failed to generate %s: %s", label(action), msg)
	}
	t.logger.Info("studio job finished", "job_id", job.ID, "status", job.Status)
	return job, nil
}

func label(a backend.StudioAction) string {
	switch a {
	case backend.ActionAudio:
		return "Audio overview"
	case backend.ActionVideo:
		return "Video overview"
	case backend.ActionBriefing:
		return "Briefing"
	case backend.ActionStudyGuide:
		return "Study guide"
	}
	return string(a)
}
