// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/protocol"
	"github.com/OCboy5/vpsweb/internal/translator"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
	"github.com/OCboy5/vpsweb/internal/translator/models"
	"github.com/OCboy5/vpsweb/internal/translator/progress"
	"github.com/OCboy5/vpsweb/internal/translator/registry"
)

type stubService struct {
	records   map[string]*models.TaskRecord
	startID   string
	startErr  error
	lastStart translator.StartParams
	cancelled []string
	listed    registry.Filter
}

func (s *stubService) Start(_ context.Context, params translator.StartParams) (string, error) {
	s.lastStart = params
	if s.startErr != nil {
		return "", s.startErr
	}
	return s.startID, nil
}

func (s *stubService) GetStatus(taskID string) (*models.TaskRecord, bool) {
	rec, ok := s.records[taskID]
	return rec, ok
}

func (s *stubService) Cancel(taskID string) bool {
	s.cancelled = append(s.cancelled, taskID)
	return true
}

func (s *stubService) ListTasks(filter registry.Filter) []*models.TaskRecord {
	s.listed = filter
	out := make([]*models.TaskRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

type stubCatalog struct {
	poems        map[string]*models.Poem
	created      []*models.Poem
	translations map[string][]*models.Translation
}

func (c *stubCatalog) GetPoem(_ context.Context, poemID string) (*models.Poem, error) {
	return c.poems[poemID], nil
}

func (c *stubCatalog) ListPoems(_ context.Context) ([]*models.Poem, error) {
	out := make([]*models.Poem, 0, len(c.poems))
	for _, p := range c.poems {
		out = append(out, p)
	}
	return out, nil
}

func (c *stubCatalog) CreatePoem(_ context.Context, poem *models.Poem) error {
	c.created = append(c.created, poem)
	return nil
}

func (c *stubCatalog) GetTranslation(_ context.Context, _ string) (*models.Translation, error) {
	return nil, nil
}

func (c *stubCatalog) GetTranslationsByPoem(_ context.Context, poemID string) ([]*models.Translation, error) {
	return c.translations[poemID], nil
}

func runningRecord(taskID string) *models.TaskRecord {
	return &models.TaskRecord{
		TaskID: taskID,
		Input: models.TranslationJobInput{
			PoemID:     "poem-1",
			SourceLang: "Chinese",
			TargetLang: "English",
			Mode:       "hybrid",
		},
		Status:          models.TaskStatusRunning,
		ProgressPercent: 33,
		CurrentStepName: "editor_review",
		StepStates: map[string]models.StepStatus{
			"initial_translation": models.StepStatusCompleted,
			"editor_review":       models.StepStatusRunning,
			"revised_translation": models.StepStatusWaiting,
		},
		StartedAt: time.Now(),
	}
}

func newTestRouter(svc *stubService, catalog *stubCatalog, bus *progress.Bus) http.Handler {
	if bus == nil {
		bus = progress.NewBus()
	}
	return newRouter(&config.ServerConfig{}, svc, catalog, bus, NewClientRegistry())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartTranslation(t *testing.T) {
	svc := &stubService{startID: "task-1"}
	h := newTestRouter(svc, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows/translate", map[string]interface{}{
		"poem_id":     "poem-1",
		"target_lang": "English",
		"mode":        "hybrid",
		"metadata":    map[string]string{"requested_by": "alice"},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "task-1", resp["task_id"])
	assert.Equal(t, "poem-1", svc.lastStart.PoemID)
	assert.Equal(t, "alice", svc.lastStart.Metadata["requested_by"])
}

func TestStartTranslationValidation(t *testing.T) {
	svc := &stubService{startID: "task-1"}
	h := newTestRouter(svc, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows/translate", map[string]string{
		"target_lang": "English",
		"mode":        "hybrid",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "InvalidInput", resp.Type)
	assert.NotEmpty(t, resp.ErrorID)
	assert.Contains(t, resp.Error, "poem_id")
}

func TestStartTranslationServiceError(t *testing.T) {
	svc := &stubService{startErr: apperr.New(apperr.KindInvalidInput, "unknown workflow mode")}
	h := newTestRouter(svc, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows/translate", map[string]string{
		"poem_id":     "poem-1",
		"target_lang": "English",
		"mode":        "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWorkflow(t *testing.T) {
	svc := &stubService{records: map[string]*models.TaskRecord{"task-1": runningRecord("task-1")}}
	h := newTestRouter(svc, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/workflows/task-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view taskView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "running", view.Status)
	assert.Equal(t, 33, view.ProgressPercent)
	assert.Equal(t, "editor_review", view.CurrentStepName)
	assert.Equal(t, "completed", view.StepStates["initial_translation"])
	assert.Equal(t, "waiting", view.StepStates["revised_translation"])
}

func TestGetWorkflowNotFound(t *testing.T) {
	svc := &stubService{records: map[string]*models.TaskRecord{}}
	h := newTestRouter(svc, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/workflows/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "NotFound", resp.Type)
}

func TestCancelWorkflow(t *testing.T) {
	svc := &stubService{records: map[string]*models.TaskRecord{"task-1": runningRecord("task-1")}}
	h := newTestRouter(svc, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows/task-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["cancelled"])
	assert.Equal(t, []string{"task-1"}, svc.cancelled)
}

func TestCancelTerminalWorkflowConflicts(t *testing.T) {
	done := runningRecord("task-1")
	done.Status = models.TaskStatusCompleted
	svc := &stubService{records: map[string]*models.TaskRecord{"task-1": done}}
	h := newTestRouter(svc, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows/task-1/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, svc.cancelled)
}

func TestListWorkflows(t *testing.T) {
	svc := &stubService{records: map[string]*models.TaskRecord{"task-1": runningRecord("task-1")}}
	h := newTestRouter(svc, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/workflows?status=running&mode=hybrid&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, svc.listed.Status)
	assert.Equal(t, models.TaskStatusRunning, *svc.listed.Status)
	assert.Equal(t, "hybrid", svc.listed.Mode)
	assert.Equal(t, 10, svc.listed.Limit)
}

func TestListWorkflowsRejectsUnknownStatus(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(svc, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/workflows?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePoem(t *testing.T) {
	catalog := &stubCatalog{poems: map[string]*models.Poem{}}
	h := newTestRouter(&stubService{}, catalog, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/poems", map[string]string{
		"title":           "静夜思",
		"poet_name":       "李白",
		"original_text":   "床前明月光",
		"source_language": "Chinese",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, catalog.created, 1)
	assert.NotEmpty(t, catalog.created[0].ID, "id is generated when omitted")
	assert.Equal(t, "静夜思", catalog.created[0].Title)
}

func TestCreatePoemValidation(t *testing.T) {
	h := newTestRouter(&stubService{}, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/poems", map[string]string{
		"title": "untitled",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPoemNotFound(t *testing.T) {
	h := newTestRouter(&stubService{}, &stubCatalog{poems: map[string]*models.Poem{}}, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/poems/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPoemTranslations(t *testing.T) {
	catalog := &stubCatalog{
		poems: map[string]*models.Poem{"poem-1": {ID: "poem-1", Title: "静夜思"}},
		translations: map[string][]*models.Translation{
			"poem-1": {{ID: "tr-1", PoemID: "poem-1", TranslatedText: "Moonlight"}},
		},
	}
	h := newTestRouter(&stubService{}, catalog, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/poems/poem-1/translations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tr-1")
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(&stubService{}, &stubCatalog{}, nil)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(&stubService{}, &stubCatalog{}, nil)
	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- SSE ---

func TestSSEStreamReplaysAndTerminates(t *testing.T) {
	bus := progress.NewBus()
	svc := &stubService{records: map[string]*models.TaskRecord{"task-1": runningRecord("task-1")}}
	h := newTestRouter(svc, &stubCatalog{}, bus)

	bus.Publish(protocol.NewTaskStartedEvent("task-1", "hybrid"))
	bus.Publish(protocol.NewStepStartedEvent("task-1", "initial_translation", 0))
	bus.Publish(protocol.NewTaskCompletedEvent("task-1", nil))

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/workflows/task-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "id: 1\nevent: task_started\n")
	assert.Contains(t, text, "id: 2\nevent: step_started\n")
	assert.Contains(t, text, "id: 3\nevent: task_completed\n")
}

func TestSSEResumeSkipsAcknowledgedEvents(t *testing.T) {
	bus := progress.NewBus()
	svc := &stubService{records: map[string]*models.TaskRecord{"task-1": runningRecord("task-1")}}
	h := newTestRouter(svc, &stubCatalog{}, bus)

	bus.Publish(protocol.NewTaskStartedEvent("task-1", "hybrid"))
	bus.Publish(protocol.NewStepStartedEvent("task-1", "initial_translation", 0))
	bus.Publish(protocol.NewTaskCompletedEvent("task-1", nil))

	srv := httptest.NewServer(h)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/workflows/task-1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "2")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.NotContains(t, text, "event: task_started")
	assert.NotContains(t, text, "event: step_started")
	assert.Contains(t, text, "id: 3\nevent: task_completed\n")
}

func TestSSEUnknownTask(t *testing.T) {
	h := newTestRouter(&stubService{records: map[string]*models.TaskRecord{}}, &stubCatalog{}, progress.NewBus())
	rec := doJSON(t, h, http.MethodGet, "/api/v1/workflows/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- WebSocket ---

func TestWebSocketReceivesBroadcast(t *testing.T) {
	bus := progress.NewBus()
	clients := NewClientRegistry()
	h := newRouter(&config.ServerConfig{}, &stubService{}, &stubCatalog{}, bus, clients)

	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	event := protocol.NewStepStartedEvent("task-1", "initial_translation", 0)
	event.Seq = 1

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	received := make(chan []byte, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
	}()

	// The registry add races with the dial returning; rebroadcast until the
	// reader sees a message.
	var data []byte
	deadline := time.After(2 * time.Second)
	for data == nil {
		clients.Broadcast(event)
		select {
		case data = <-received:
		case <-deadline:
			t.Fatal("timed out waiting for WebSocket broadcast")
		case <-time.After(20 * time.Millisecond):
		}
	}

	var msg wsOutMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "step_started", msg.EventKind)
}

func TestRequestIDMiddleware(t *testing.T) {
	h := newTestRouter(&stubService{}, &stubCatalog{}, nil)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "my-request-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "my-request-1", rr.Header().Get("X-Request-ID"))
}
