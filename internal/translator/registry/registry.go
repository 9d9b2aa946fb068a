// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry is the process-local store of in-flight and recently
// finished translation tasks. Writes are serialized per task; reads return
// deep-copied snapshots, so a reader never observes a half-applied update.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
	"github.com/OCboy5/vpsweb/internal/translator/models"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetLogger("registry")
		log = &l
	})
	return log
}

// Filter selects tasks for List.
type Filter struct {
	Status *models.TaskStatus
	PoemID string
	Mode   string
	Limit  int
}

// Registry is a concurrent-safe map task_id → TaskRecord.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*entry
}

// entry serializes all writes to one record.
type entry struct {
	mu  sync.Mutex
	rec *models.TaskRecord
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]*entry)}
}

// Create stores a new record. The task id must be unused.
func (r *Registry) Create(rec *models.TaskRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[rec.TaskID]; exists {
		return apperr.Newf(apperr.KindConflict, "task %s already exists", rec.TaskID)
	}
	now := time.Now()
	cp := rec.Clone()
	if cp.StartedAt.IsZero() {
		cp.StartedAt = now
	}
	cp.UpdatedAt = now
	r.tasks[rec.TaskID] = &entry{rec: cp}
	return nil
}

// Get returns a snapshot of the record, or false if unknown.
func (r *Registry) Get(taskID string) (*models.TaskRecord, bool) {
	r.mu.RLock()
	e, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), true
}

// Update applies fn to the record under the per-task write lock. Terminal
// records are immutable; updating one returns Conflict.
func (r *Registry) Update(taskID string, fn func(*models.TaskRecord)) error {
	r.mu.RLock()
	e, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "task %s not found", taskID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Status.Terminal() {
		return apperr.Newf(apperr.KindConflict, "task %s is already %s", taskID, e.rec.Status)
	}
	fn(e.rec)
	e.rec.UpdatedAt = time.Now()
	return nil
}

// UpdateStatus transitions the record's status. Transitions out of a
// terminal state are refused. Entering a terminal state stamps FinishedAt.
func (r *Registry) UpdateStatus(taskID string, status models.TaskStatus) error {
	return r.Update(taskID, func(rec *models.TaskRecord) {
		rec.Status = status
		if status.Terminal() {
			now := time.Now()
			rec.FinishedAt = &now
		}
	})
}

// UpdateProgress records step-level progress. It only touches the fields it
// is given: step states not named in stepStates keep their values, and a
// lower percent than the current one is ignored so observed progress is
// non-decreasing.
func (r *Registry) UpdateProgress(taskID, currentStep string, percent int, stepStates map[string]models.StepStatus) error {
	return r.Update(taskID, func(rec *models.TaskRecord) {
		if currentStep != "" {
			rec.CurrentStepName = currentStep
		}
		if percent > rec.ProgressPercent {
			rec.ProgressPercent = percent
		}
		for name, state := range stepStates {
			rec.StepStates[name] = state
		}
	})
}

// RequestCancel marks a pending or running task for cooperative
// cancellation. Returns true iff the flag was newly set on a live task.
func (r *Registry) RequestCancel(taskID string) bool {
	r.mu.RLock()
	e, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Status.Terminal() || e.rec.CancelRequested {
		return false
	}
	e.rec.CancelRequested = true
	e.rec.UpdatedAt = time.Now()
	return true
}

// CancelRequested reports whether cancellation has been requested.
func (r *Registry) CancelRequested(taskID string) bool {
	r.mu.RLock()
	e, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.CancelRequested
}

// List returns snapshots matching the filter, most recently started first.
func (r *Registry) List(filter Filter) []*models.TaskRecord {
	r.mu.RLock()
	entries := lo.Values(r.tasks)
	r.mu.RUnlock()

	records := make([]*models.TaskRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rec := e.rec.Clone()
		e.mu.Unlock()
		records = append(records, rec)
	}

	records = lo.Filter(records, func(rec *models.TaskRecord, _ int) bool {
		if filter.Status != nil && rec.Status != *filter.Status {
			return false
		}
		if filter.PoemID != "" && rec.Input.PoemID != filter.PoemID {
			return false
		}
		if filter.Mode != "" && rec.Input.Mode != filter.Mode {
			return false
		}
		return true
	})

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records
}

// GC removes terminal tasks older than maxAge and returns their ids so the
// caller can release per-task resources (progress streams).
func (r *Registry) GC(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, e := range r.tasks {
		e.mu.Lock()
		expired := e.rec.Status.Terminal() && e.rec.FinishedAt != nil && e.rec.FinishedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(r.tasks, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		getLog().Info().Int("count", len(evicted)).Msg("Garbage-collected expired tasks")
	}
	return evicted
}

// RunGC periodically evicts expired tasks until ctx is done, invoking
// onEvict for each removed task id.
func (r *Registry) RunGC(ctx context.Context, interval, maxAge time.Duration, onEvict func(taskID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range r.GC(maxAge) {
				if onEvict != nil {
					onEvict(id)
				}
			}
		}
	}
}
