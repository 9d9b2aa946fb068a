// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package translator is the workflow orchestrator: it takes a translation
// request, executes the mode's step pipeline against the configured LLM
// providers, publishes progress, and hands the finished run to the
// persistence sink and the file archiver.
package translator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/observability"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
	"github.com/OCboy5/vpsweb/internal/translator/llm"
	"github.com/OCboy5/vpsweb/internal/translator/models"
	"github.com/OCboy5/vpsweb/internal/translator/progress"
	"github.com/OCboy5/vpsweb/internal/translator/prompt"
	"github.com/OCboy5/vpsweb/internal/translator/registry"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetTranslatorLogger()
		log = &l
	})
	return log
}

// PoemStore is the read side of the database the orchestrator needs.
type PoemStore interface {
	GetPoem(ctx context.Context, poemID string) (*models.Poem, error)
}

// Persister stores a finished run. Implemented by the sink package.
type Persister interface {
	Persist(ctx context.Context, taskID string, input models.TranslationJobInput, result *models.WorkflowResult) (string, error)
}

// Archiver writes the JSON artifact of a finished run.
type Archiver interface {
	Archive(poetName string, input models.TranslationJobInput, result *models.WorkflowResult) (string, error)
}

// StartParams is one translation request.
type StartParams struct {
	PoemID     string            `json:"poem_id"`
	TargetLang string            `json:"target_lang"`
	Mode       string            `json:"mode"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config   *config.AppConfig
	Registry *registry.Registry
	Bus      *progress.Bus
	Renderer *prompt.Renderer
	Factory  *llm.Factory
	Poems    PoemStore
	Sink     Persister
	Archiver Archiver
}

// Service coordinates translation workflow tasks.
type Service struct {
	cfg      *config.AppConfig
	registry *registry.Registry
	bus      *progress.Bus
	renderer *prompt.Renderer
	factory  *llm.Factory
	poems    PoemStore
	sink     Persister
	archiver Archiver

	metrics *observability.Metrics
	tracer  trace.Tracer

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates the orchestrator service.
func New(deps Deps) *Service {
	maxTasks := deps.Config.Translator.MaxConcurrentTasks
	if maxTasks <= 0 {
		maxTasks = 3
	}
	return &Service{
		cfg:      deps.Config,
		registry: deps.Registry,
		bus:      deps.Bus,
		renderer: deps.Renderer,
		factory:  deps.Factory,
		poems:    deps.Poems,
		sink:     deps.Sink,
		archiver: deps.Archiver,
		metrics:  observability.DefaultMetrics(),
		tracer:   otel.Tracer("vpsweb"),
		sem:      semaphore.NewWeighted(int64(maxTasks)),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start validates the request, creates the pending task record and schedules
// the asynchronous run. On validation failure no task exists and the error
// is InvalidInput.
func (s *Service) Start(ctx context.Context, params StartParams) (string, error) {
	poem, err := s.poems.GetPoem(ctx, params.PoemID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "poem lookup failed", err)
	}
	if poem == nil {
		return "", apperr.Newf(apperr.KindInvalidInput, "poem %s not found", params.PoemID)
	}

	if sameLanguage(&s.cfg.Languages, poem.SourceLanguage, params.TargetLang) {
		return "", apperr.Newf(apperr.KindInvalidInput,
			"source and target language are both %s", params.TargetLang)
	}

	mode, ok := s.cfg.Workflows[params.Mode]
	if !ok {
		return "", apperr.Newf(apperr.KindInvalidInput, "unknown workflow mode %q", params.Mode)
	}

	wf := s.buildWorkflow(params.Mode, mode)
	input := models.TranslationJobInput{
		PoemID:     params.PoemID,
		SourceLang: poem.SourceLanguage,
		TargetLang: params.TargetLang,
		Mode:       params.Mode,
		Metadata:   params.Metadata,
	}

	taskID := uuid.NewString()
	stepStates := make(map[string]models.StepStatus, len(wf.Steps))
	for _, step := range wf.Steps {
		stepStates[step.Name] = models.StepStatusWaiting
	}
	if err := s.registry.Create(&models.TaskRecord{
		TaskID:     taskID,
		Input:      input,
		Status:     models.TaskStatusPending,
		StepStates: stepStates,
	}); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, taskID)
			s.mu.Unlock()
			cancel()
		}()
		s.run(runCtx, taskID, input, wf, poem)
	}()

	getLog().Info().
		Str("task_id", taskID).
		Str("poem_id", params.PoemID).
		Str("mode", params.Mode).
		Str("target_lang", params.TargetLang).
		Msg("Translation task scheduled")
	return taskID, nil
}

// GetStatus returns a snapshot of the task, or false if unknown.
func (s *Service) GetStatus(taskID string) (*models.TaskRecord, bool) {
	return s.registry.Get(taskID)
}

// Cancel requests cooperative cancellation. Returns true iff a pending or
// running task was newly flagged; the run loop observes the flag between
// steps and the context cancellation aborts retry waits and in-flight
// attempts.
func (s *Service) Cancel(taskID string) bool {
	if !s.registry.RequestCancel(taskID) {
		return false
	}
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	getLog().Info().Str("task_id", taskID).Msg("Cancellation requested")
	return true
}

// ListTasks returns task snapshots matching the filter.
func (s *Service) ListTasks(filter registry.Filter) []*models.TaskRecord {
	return s.registry.List(filter)
}

// Shutdown waits for in-flight runs to finish or ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildWorkflow resolves a mode's step bindings into a concrete step list,
// applying the translator-level defaults for timeout and attempts.
func (s *Service) buildWorkflow(modeName string, mode config.WorkflowMode) models.WorkflowConfig {
	wf := models.WorkflowConfig{
		Name:  modeName + "_translation",
		Mode:  modeName,
		Steps: make([]models.StepSpec, 0, len(mode.Steps)),
	}
	for _, sc := range mode.Steps {
		spec := models.StepSpec{
			Name:                 sc.Name,
			ProviderName:         sc.Provider,
			ModelName:            sc.Model,
			PromptTemplateName:   sc.PromptTemplate,
			Temperature:          sc.Temperature,
			MaxTokens:            sc.MaxTokens,
			Timeout:              s.cfg.Translator.DefaultStepTimeout(),
			MaxAttempts:          s.cfg.Translator.DefaultMaxAttempts,
			RequiredOutputFields: sc.RequiredOutputFields,
			Fatal:                sc.Fatal,
		}
		if sc.TimeoutSeconds > 0 {
			spec.Timeout = time.Duration(sc.TimeoutSeconds) * time.Second
		}
		if sc.MaxAttempts > 0 {
			spec.MaxAttempts = sc.MaxAttempts
		}
		wf.Steps = append(wf.Steps, spec)
	}
	return wf
}

// sameLanguage compares two language names through the normalization table;
// names the table does not know fall back to case-insensitive comparison.
func sameLanguage(langs *config.LanguageConfig, a, b string) bool {
	codeA, okA := langs.Code(a)
	codeB, okB := langs.Code(b)
	if okA && okB {
		return codeA == codeB
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
