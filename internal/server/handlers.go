// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/OCboy5/vpsweb/internal/translator"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
	"github.com/OCboy5/vpsweb/internal/translator/models"
	"github.com/OCboy5/vpsweb/internal/translator/registry"
)

// WorkflowService is the slice of the translator service the handlers need.
type WorkflowService interface {
	Start(ctx context.Context, params translator.StartParams) (string, error)
	GetStatus(taskID string) (*models.TaskRecord, bool)
	Cancel(taskID string) bool
	ListTasks(filter registry.Filter) []*models.TaskRecord
}

// PoemCatalog is the read/write slice of the database the poem endpoints
// need. Implemented by database.GormDB.
type PoemCatalog interface {
	GetPoem(ctx context.Context, poemID string) (*models.Poem, error)
	ListPoems(ctx context.Context) ([]*models.Poem, error)
	CreatePoem(ctx context.Context, poem *models.Poem) error
	GetTranslation(ctx context.Context, translationID string) (*models.Translation, error)
	GetTranslationsByPoem(ctx context.Context, poemID string) ([]*models.Translation, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	svc   WorkflowService
	poems PoemCatalog
}

// NewHandlers creates the handler set.
func NewHandlers(svc WorkflowService, poems PoemCatalog) *Handlers {
	return &Handlers{svc: svc, poems: poems}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// errorResponse is the uniform error body. ErrorID correlates the response
// with the server log line carrying the full error chain.
type errorResponse struct {
	Error   string `json:"error"`
	ErrorID string `json:"error_id"`
	Type    string `json:"type"`
}

func writeError(w http.ResponseWriter, err error) {
	errorID := uuid.NewString()
	status := apperr.HTTPStatus(err)
	getLog().Error().
		Err(err).
		Str("error_id", errorID).
		Int("status", status).
		Msg("Request failed")
	writeJSON(w, status, errorResponse{
		Error:   err.Error(),
		ErrorID: errorID,
		Type:    string(apperr.KindOf(err)),
	})
}

// taskView is the JSON representation of a task snapshot. Statuses are
// rendered as strings, not the engine's internal enum values.
type taskView struct {
	TaskID          string                     `json:"task_id"`
	PoemID          string                     `json:"poem_id"`
	SourceLang      string                     `json:"source_lang"`
	TargetLang      string                     `json:"target_lang"`
	Mode            string                     `json:"mode"`
	Status          string                     `json:"status"`
	ProgressPercent int                        `json:"progress_percent"`
	CurrentStepName string                     `json:"current_step_name,omitempty"`
	StepStates      map[string]string          `json:"step_states"`
	StartedAt       string                     `json:"started_at"`
	FinishedAt      string                     `json:"finished_at,omitempty"`
	Result          *models.WorkflowResult     `json:"result,omitempty"`
	Error           string                     `json:"error,omitempty"`
	ErrorKind       string                     `json:"error_kind,omitempty"`
	Warnings        []string                   `json:"warnings,omitempty"`
	Metadata        map[string]string          `json:"metadata,omitempty"`
}

func newTaskView(rec *models.TaskRecord) taskView {
	steps := make(map[string]string, len(rec.StepStates))
	for name, state := range rec.StepStates {
		steps[name] = state.String()
	}
	v := taskView{
		TaskID:          rec.TaskID,
		PoemID:          rec.Input.PoemID,
		SourceLang:      rec.Input.SourceLang,
		TargetLang:      rec.Input.TargetLang,
		Mode:            rec.Input.Mode,
		Status:          rec.Status.String(),
		ProgressPercent: rec.ProgressPercent,
		CurrentStepName: rec.CurrentStepName,
		StepStates:      steps,
		StartedAt:       rec.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Result:          rec.Result,
		Error:           rec.Error,
		ErrorKind:       rec.ErrorKind,
		Warnings:        rec.Warnings,
		Metadata:        rec.Input.Metadata,
	}
	if rec.FinishedAt != nil {
		v.FinishedAt = rec.FinishedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

func parseTaskStatus(s string) (models.TaskStatus, bool) {
	switch s {
	case "pending":
		return models.TaskStatusPending, true
	case "running":
		return models.TaskStatusRunning, true
	case "completed":
		return models.TaskStatusCompleted, true
	case "failed":
		return models.TaskStatusFailed, true
	case "cancelled":
		return models.TaskStatusCancelled, true
	}
	return 0, false
}

// --- workflow handlers ---

// translateRequest is the JSON body for starting a translation workflow.
type translateRequest struct {
	PoemID     string            `json:"poem_id"`
	TargetLang string            `json:"target_lang"`
	Mode       string            `json:"mode"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StartTranslation handles POST /api/v1/workflows/translate
func (h *Handlers) StartTranslation(w http.ResponseWriter, r *http.Request) {
	var body translateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidInput, "invalid JSON body"))
		return
	}
	body.PoemID = strings.TrimSpace(body.PoemID)
	body.TargetLang = strings.TrimSpace(body.TargetLang)
	body.Mode = strings.TrimSpace(body.Mode)
	if body.PoemID == "" {
		writeError(w, apperr.New(apperr.KindInvalidInput, "poem_id is required"))
		return
	}
	if body.TargetLang == "" {
		writeError(w, apperr.New(apperr.KindInvalidInput, "target_lang is required"))
		return
	}
	if body.Mode == "" {
		writeError(w, apperr.New(apperr.KindInvalidInput, "mode is required"))
		return
	}

	taskID, err := h.svc.Start(r.Context(), translator.StartParams{
		PoemID:     body.PoemID,
		TargetLang: body.TargetLang,
		Mode:       body.Mode,
		Metadata:   body.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": taskID})
}

// GetWorkflow handles GET /api/v1/workflows/{taskID}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	rec, ok := h.svc.GetStatus(taskID)
	if !ok {
		writeError(w, apperr.Newf(apperr.KindNotFound, "task %s not found", taskID))
		return
	}
	writeJSON(w, http.StatusOK, newTaskView(rec))
}

// CancelWorkflow handles POST /api/v1/workflows/{taskID}/cancel
func (h *Handlers) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	rec, ok := h.svc.GetStatus(taskID)
	if !ok {
		writeError(w, apperr.Newf(apperr.KindNotFound, "task %s not found", taskID))
		return
	}
	if rec.Status.Terminal() {
		writeError(w, apperr.Newf(apperr.KindConflict, "task %s is already %s", taskID, rec.Status))
		return
	}
	cancelled := h.svc.Cancel(taskID)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// ListWorkflows handles GET /api/v1/workflows?status=&mode=&poem_id=&limit=
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	const maxLimit = 500
	filter := registry.Filter{
		PoemID: r.URL.Query().Get("poem_id"),
		Mode:   r.URL.Query().Get("mode"),
		Limit:  50,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := parseTaskStatus(s)
		if !ok {
			writeError(w, apperr.Newf(apperr.KindInvalidInput, "unknown status %q", s))
			return
		}
		filter.Status = &status
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeError(w, apperr.Newf(apperr.KindInvalidInput, "invalid limit %q", l))
			return
		}
		filter.Limit = parsed
		if filter.Limit > maxLimit {
			filter.Limit = maxLimit
		}
	}

	records := h.svc.ListTasks(filter)
	views := make([]taskView, len(records))
	for i, rec := range records {
		views[i] = newTaskView(rec)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": views})
}

// --- poem handlers ---

// createPoemRequest is the JSON body for poem creation.
type createPoemRequest struct {
	ID             string `json:"id,omitempty"`
	Title          string `json:"title"`
	PoetName       string `json:"poet_name"`
	OriginalText   string `json:"original_text"`
	SourceLanguage string `json:"source_language"`
}

// CreatePoem handles POST /api/v1/poems
func (h *Handlers) CreatePoem(w http.ResponseWriter, r *http.Request) {
	var body createPoemRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindInvalidInput, "invalid JSON body"))
		return
	}
	body.Title = strings.TrimSpace(body.Title)
	body.OriginalText = strings.TrimSpace(body.OriginalText)
	body.SourceLanguage = strings.TrimSpace(body.SourceLanguage)
	if body.Title == "" {
		writeError(w, apperr.New(apperr.KindInvalidInput, "title is required"))
		return
	}
	if body.OriginalText == "" {
		writeError(w, apperr.New(apperr.KindInvalidInput, "original_text is required"))
		return
	}
	if body.SourceLanguage == "" {
		writeError(w, apperr.New(apperr.KindInvalidInput, "source_language is required"))
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	poem := &models.Poem{
		ID:             body.ID,
		Title:          body.Title,
		PoetName:       body.PoetName,
		OriginalText:   body.OriginalText,
		SourceLanguage: body.SourceLanguage,
	}
	if err := h.poems.CreatePoem(r.Context(), poem); err != nil {
		writeError(w, apperr.Wrap(apperr.KindPersistence, "failed to create poem", err))
		return
	}
	writeJSON(w, http.StatusCreated, poem)
}

// GetPoems handles GET /api/v1/poems
func (h *Handlers) GetPoems(w http.ResponseWriter, r *http.Request) {
	poems, err := h.poems.ListPoems(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindPersistence, "failed to list poems", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"poems": poems})
}

// GetPoem handles GET /api/v1/poems/{id}
func (h *Handlers) GetPoem(w http.ResponseWriter, r *http.Request) {
	poemID := chi.URLParam(r, "id")
	poem, err := h.poems.GetPoem(r.Context(), poemID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindPersistence, "failed to load poem", err))
		return
	}
	if poem == nil {
		writeError(w, apperr.Newf(apperr.KindNotFound, "poem %s not found", poemID))
		return
	}
	writeJSON(w, http.StatusOK, poem)
}

// GetPoemTranslations handles GET /api/v1/poems/{id}/translations
func (h *Handlers) GetPoemTranslations(w http.ResponseWriter, r *http.Request) {
	poemID := chi.URLParam(r, "id")
	poem, err := h.poems.GetPoem(r.Context(), poemID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindPersistence, "failed to load poem", err))
		return
	}
	if poem == nil {
		writeError(w, apperr.Newf(apperr.KindNotFound, "poem %s not found", poemID))
		return
	}

	translations, err := h.poems.GetTranslationsByPoem(r.Context(), poemID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindPersistence, "failed to load translations", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"poem_id":      poemID,
		"translations": translations,
	})
}

// GetTranslation handles GET /api/v1/translations/{id}
func (h *Handlers) GetTranslation(w http.ResponseWriter, r *http.Request) {
	translationID := chi.URLParam(r, "id")
	translation, err := h.poems.GetTranslation(r.Context(), translationID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindPersistence, "failed to load translation", err))
		return
	}
	if translation == nil {
		writeError(w, apperr.Newf(apperr.KindNotFound, "translation %s not found", translationID))
		return
	}
	writeJSON(w, http.StatusOK, translation)
}
