// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCboy5/vpsweb/internal/translator/apperr"
	"github.com/OCboy5/vpsweb/internal/translator/models"
)

func newRecord(id string) *models.TaskRecord {
	return &models.TaskRecord{
		TaskID: id,
		Input: models.TranslationJobInput{
			PoemID:     "poem-1",
			SourceLang: "Chinese",
			TargetLang: "English",
			Mode:       "non_reasoning",
		},
		Status: models.TaskStatusPending,
		StepStates: map[string]models.StepStatus{
			"initial_translation": models.StepStatusWaiting,
			"editor_review":       models.StepStatusWaiting,
			"revised_translation": models.StepStatusWaiting,
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newRecord("t1")))

	rec, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusPending, rec.Status)
	assert.False(t, rec.StartedAt.IsZero())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestCreateDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newRecord("t1")))
	err := r.Create(newRecord("t1"))
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newRecord("t1")))

	snap, _ := r.Get("t1")
	snap.StepStates["initial_translation"] = models.StepStatusFailed
	snap.Status = models.TaskStatusFailed

	fresh, _ := r.Get("t1")
	assert.Equal(t, models.StepStatusWaiting, fresh.StepStates["initial_translation"])
	assert.Equal(t, models.TaskStatusPending, fresh.Status)
}

func TestUpdateProgressPreservesOtherStepStates(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newRecord("t1")))

	require.NoError(t, r.UpdateProgress("t1", "editor_review", 33, map[string]models.StepStatus{
		"editor_review": models.StepStatusRunning,
	}))

	rec, _ := r.Get("t1")
	// The update named only editor_review; every other key survives.
	assert.Len(t, rec.StepStates, 3)
	assert.Equal(t, models.StepStatusWaiting, rec.StepStates["initial_translation"])
	assert.Equal(t, models.StepStatusWaiting, rec.StepStates["revised_translation"])
	assert.Equal(t, models.StepStatusRunning, rec.StepStates["editor_review"])
	assert.Equal(t, "editor_review", rec.CurrentStepName)
	assert.Equal(t, 33, rec.ProgressPercent)
}

func TestUpdateProgressIsMonotonic(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newRecord("t1")))

	require.NoError(t, r.UpdateProgress("t1", "", 67, nil))
	require.NoError(t, r.UpdateProgress("t1", "", 33, nil))

	rec, _ := r.Get("t1")
	assert.Equal(t, 67, rec.ProgressPercent)
}

func TestTerminalRecordsAreImmutable(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newRecord("t1")))
	require.NoError(t, r.UpdateStatus("t1", models.TaskStatusCompleted))

	err := r.UpdateStatus("t1", models.TaskStatusRunning)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	rec, _ := r.Get("t1")
	assert.Equal(t, models.TaskStatusCompleted, rec.Status)
	assert.NotNil(t, rec.FinishedAt)
}

func TestRequestCancel(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newRecord("t1")))

	assert.True(t, r.RequestCancel("t1"))
	assert.True(t, r.CancelRequested("t1"))
	// Second request is a no-op.
	assert.False(t, r.RequestCancel("t1"))
	// Unknown task.
	assert.False(t, r.RequestCancel("nope"))

	require.NoError(t, r.UpdateStatus("t1", models.TaskStatusCancelled))
	assert.False(t, r.RequestCancel("t1"))
}

func TestListFiltering(t *testing.T) {
	r := New()
	for i := 0; i < 5; i++ {
		rec := newRecord(fmt.Sprintf("t%d", i))
		if i%2 == 0 {
			rec.Input.Mode = "reasoning"
		}
		require.NoError(t, r.Create(rec))
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, r.UpdateStatus("t0", models.TaskStatusCompleted))

	completed := models.TaskStatusCompleted
	got := r.List(Filter{Status: &completed})
	require.Len(t, got, 1)
	assert.Equal(t, "t0", got[0].TaskID)

	got = r.List(Filter{Mode: "reasoning"})
	assert.Len(t, got, 3)

	got = r.List(Filter{Limit: 2})
	require.Len(t, got, 2)
	// Most recent first.
	assert.Equal(t, "t4", got[0].TaskID)
}

func TestGCRemovesOnlyExpiredTerminalTasks(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newRecord("old-done")))
	require.NoError(t, r.Create(newRecord("fresh-done")))
	require.NoError(t, r.Create(newRecord("running")))

	require.NoError(t, r.UpdateStatus("old-done", models.TaskStatusCompleted))
	require.NoError(t, r.UpdateStatus("fresh-done", models.TaskStatusFailed))
	require.NoError(t, r.UpdateStatus("running", models.TaskStatusRunning))

	// Backdate old-done's finish time past the TTL.
	r.mu.Lock()
	past := time.Now().Add(-48 * time.Hour)
	r.tasks["old-done"].rec.FinishedAt = &past
	r.mu.Unlock()

	evicted := r.GC(24 * time.Hour)
	assert.Equal(t, []string{"old-done"}, evicted)

	_, ok := r.Get("old-done")
	assert.False(t, ok)
	_, ok = r.Get("fresh-done")
	assert.True(t, ok)
	_, ok = r.Get("running")
	assert.True(t, ok)
}

func TestConcurrentUpdatesSerializePerTask(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newRecord("t1")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.UpdateProgress("t1", "", n*2, map[string]models.StepStatus{
				"initial_translation": models.StepStatusRunning,
			})
			_, _ = r.Get("t1")
		}(i)
	}
	wg.Wait()

	rec, _ := r.Get("t1")
	assert.Equal(t, 98, rec.ProgressPercent)
	assert.Len(t, rec.StepStates, 3)
}
