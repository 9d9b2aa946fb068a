// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package translator

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/OCboy5/vpsweb/internal/observability"
	"github.com/OCboy5/vpsweb/internal/protocol"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
	"github.com/OCboy5/vpsweb/internal/translator/llm"
	"github.com/OCboy5/vpsweb/internal/translator/models"
	"github.com/OCboy5/vpsweb/internal/translator/parser"
)

// emptyTranslationThreshold is the minimum trimmed length of the final text
// below which the run is treated as producing nothing worth persisting.
const emptyTranslationThreshold = 10

// run executes the whole workflow for one task. It owns the task's state
// transitions from the moment the goroutine starts until the terminal event.
func (s *Service) run(ctx context.Context, taskID string, input models.TranslationJobInput, wf models.WorkflowConfig, poem *models.Poem) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		// Cancelled while queued behind max_concurrent_tasks.
		s.finishCancelled(taskID, 0)
		return
	}
	defer s.sem.Release(1)

	if s.cancelled(ctx, taskID) {
		s.finishCancelled(taskID, 0)
		return
	}

	ctx, span := s.tracer.Start(ctx, observability.SpanWorkflowRun, trace.WithAttributes(
		attribute.String(observability.AttrTaskID, taskID),
		attribute.String(observability.AttrPoemID, input.PoemID),
		attribute.String(observability.AttrMode, wf.Mode),
	))
	defer span.End()
	s.metrics.IncActiveTasks()
	defer s.metrics.DecActiveTasks()

	_ = s.registry.UpdateStatus(taskID, models.TaskStatusRunning)
	s.bus.Publish(protocol.NewTaskStartedEvent(taskID, wf.Mode))

	result := &models.WorkflowResult{
		Mode:      wf.Mode,
		Steps:     make([]models.StepResult, 0, len(wf.Steps)),
		StartedAt: time.Now(),
	}

	// Variable bag: job input first, then each step's parsed fields merged
	// under the step name. Last writer wins on collisions.
	vars := map[string]any{
		"poem_id":       input.PoemID,
		"poem_title":    poem.Title,
		"poet_name":     poem.PoetName,
		"original_text": poem.OriginalText,
		"source_lang":   input.SourceLang,
		"target_lang":   input.TargetLang,
		"mode":          input.Mode,
	}

	n := len(wf.Steps)
	for i, spec := range wf.Steps {
		percent := i * 100 / n
		if s.cancelled(ctx, taskID) {
			s.markRemainingSkipped(taskID, wf.Steps[i:])
			s.finishCancelled(taskID, percent)
			return
		}

		stepResult, fatalErr := s.executeStep(ctx, taskID, spec, vars, i, n)
		result.Steps = append(result.Steps, *stepResult)

		if fatalErr != nil {
			if apperr.IsKind(fatalErr, apperr.KindCancelled) {
				s.markRemainingSkipped(taskID, wf.Steps[i+1:])
				s.finishCancelled(taskID, percent)
				return
			}
			// Misconfiguration or a fatal=true step failure: stop now,
			// discard the run, no persistence.
			s.markRemainingSkipped(taskID, wf.Steps[i+1:])
			s.finishFailed(taskID, i*100/n, fatalErr)
			return
		}

		if stepResult.Status == models.StepStatusCompleted {
			// Namespace the step's outputs under its own name.
			fields := make(map[string]string, len(stepResult.Fields))
			for k, v := range stepResult.Fields {
				fields[k] = v
			}
			vars[spec.Name] = fields
		}
	}

	result.CompletedAt = time.Now()
	result.RuntimeSeconds = result.CompletedAt.Sub(result.StartedAt).Seconds()
	aggregate(result)
	result.ResolveFinalOutput()

	s.finishRun(ctx, taskID, input, poem, result)
}

// executeStep runs one step: render, generate under retry, parse, record.
// The returned error is non-nil only when the whole task must stop (fatal
// misconfiguration, fatal=true step, or cancellation); ordinary step
// failures are reported through the StepResult.
func (s *Service) executeStep(ctx context.Context, taskID string, spec models.StepSpec, vars map[string]any, i, n int) (*models.StepResult, error) {
	startPercent := i * 100 / n
	donePercent := (i + 1) * 100 / n
	stepStart := time.Now()

	ctx, span := s.tracer.Start(ctx, observability.SpanWorkflowStep, trace.WithAttributes(
		attribute.String(observability.AttrTaskID, taskID),
		attribute.String(observability.AttrStepName, spec.Name),
		attribute.String(observability.AttrProvider, spec.ProviderName),
		attribute.String(observability.AttrModel, spec.ModelName),
	))
	defer span.End()

	_ = s.registry.UpdateProgress(taskID, spec.Name, startPercent, map[string]models.StepStatus{
		spec.Name: models.StepStatusRunning,
	})
	s.bus.Publish(protocol.NewStepStartedEvent(taskID, spec.Name, startPercent))

	stepResult := &models.StepResult{
		Name:      spec.Name,
		Order:     i + 1,
		Status:    models.StepStatusFailed,
		ModelInfo: models.ModelInfo{Provider: spec.ProviderName, Model: spec.ModelName},
	}

	fail := func(err error) (*models.StepResult, error) {
		stepResult.Error = err.Error()
		stepResult.ErrorKind = string(apperr.KindOf(err))
		s.metrics.ObserveStepDuration(spec.Name, models.StepStatusFailed.String(), time.Since(stepStart))
		s.metrics.IncStepFailure(spec.Name, stepResult.ErrorKind)
		span.RecordError(err)
		span.SetStatus(codes.Error, stepResult.ErrorKind)
		_ = s.registry.UpdateProgress(taskID, spec.Name, startPercent, map[string]models.StepStatus{
			spec.Name: models.StepStatusFailed,
		})
		s.bus.Publish(protocol.NewStepFailedEvent(taskID, spec.Name, startPercent, stepResult.Error, stepResult.ErrorKind))
		getLog().Warn().
			Str("task_id", taskID).
			Str("step", spec.Name).
			Str("error_kind", stepResult.ErrorKind).
			Msg("Step failed")
		if apperr.IsKind(err, apperr.KindCancelled) {
			return stepResult, err
		}
		// Misconfiguration kills the whole task regardless of fatal.
		switch apperr.KindOf(err) {
		case apperr.KindUnknownProvider, apperr.KindUnknownTemplate:
			return stepResult, err
		}
		if spec.Fatal {
			return stepResult, err
		}
		return stepResult, nil
	}

	system, user, err := s.renderer.Render(spec.PromptTemplateName, vars)
	if err != nil {
		return fail(err)
	}

	provider, err := s.factory.Get(spec.ProviderName)
	if err != nil {
		return fail(err)
	}

	req := &llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Model:       spec.ModelName,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	}

	policy := llm.DefaultPolicy(spec.MaxAttempts, spec.Timeout)
	policy.OnRetry = func(nextAttempt int, delay time.Duration, attemptErr error) {
		s.metrics.IncStepRetry(spec.Name)
		s.bus.Publish(protocol.NewRetryScheduledEvent(
			taskID, spec.Name, startPercent, nextAttempt, delay, attemptErr.Error()))
	}

	resp, attempts, err := llm.Execute(ctx, policy, func(ctx context.Context) (*llm.Response, error) {
		return provider.Generate(ctx, req)
	})
	stepResult.Attempts = attempts
	if err != nil {
		return fail(err)
	}

	stepResult.RawResponse = resp.Content
	stepResult.TokensPrompt = resp.TokensPrompt
	stepResult.TokensCompletion = resp.TokensCompletion
	stepResult.TokensTotal = resp.TokensTotal
	stepResult.DurationMs = resp.DurationMs
	stepResult.Cost = resp.Cost
	if resp.Model != "" {
		stepResult.ModelInfo.Model = resp.Model
	}

	parsed := parser.Parse(resp.Content, spec.RequiredOutputFields)
	stepResult.Fields = parsed.Fields
	if parsed.ResultType != parser.ResultOK {
		return fail(apperr.Newf(apperr.KindParsing,
			"step %s output %s: %s", spec.Name, parsed.ResultType, strings.Join(parsed.Errors, "; ")))
	}

	stepResult.Status = models.StepStatusCompleted
	s.metrics.ObserveStepDuration(spec.Name, models.StepStatusCompleted.String(), time.Since(stepStart))
	s.metrics.AddTokens(stepResult.ModelInfo.Provider, stepResult.ModelInfo.Model, stepResult.TokensTotal)
	span.SetAttributes(attribute.Int(observability.AttrTokens, stepResult.TokensTotal))
	_ = s.registry.UpdateProgress(taskID, spec.Name, donePercent, map[string]models.StepStatus{
		spec.Name: models.StepStatusCompleted,
	})
	s.bus.Publish(protocol.NewStepCompletedEvent(taskID, spec.Name, donePercent, map[string]interface{}{
		"attempts":     attempts,
		"tokens_total": stepResult.TokensTotal,
		"duration_ms":  stepResult.DurationMs,
	}))
	getLog().Info().
		Str("task_id", taskID).
		Str("step", spec.Name).
		Int("attempts", attempts).
		Int("tokens_total", stepResult.TokensTotal).
		Msg("Step completed")
	return stepResult, nil
}

// finishRun handles the tail of a run whose steps all got a chance to
// execute: empty-output guard, persistence, archiving, terminal event.
func (s *Service) finishRun(ctx context.Context, taskID string, input models.TranslationJobInput, poem *models.Poem, result *models.WorkflowResult) {
	if result.Failed() {
		// Partial runs are observable in memory but never persisted.
		_ = s.registry.Update(taskID, func(rec *models.TaskRecord) {
			rec.Result = result
		})
		s.finishFailed(taskID, 100, apperr.New(apperr.KindInternal, "one or more workflow steps failed"))
		return
	}

	var warnings []string
	if len(strings.TrimSpace(result.FinalText)) < emptyTranslationThreshold {
		// Nothing worth keeping: completed, flagged, no rows, no artifact.
		warnings = append(warnings, "empty_translation")
		s.finishCompleted(taskID, result, warnings)
		return
	}

	if _, err := s.sink.Persist(ctx, taskID, input, result); err != nil {
		getLog().Error().Err(err).Str("task_id", taskID).Msg("Persistence failed")
		// Archive is attempted even when the database write failed.
		if _, aerr := s.archiver.Archive(poem.PoetName, input, result); aerr != nil {
			getLog().Warn().Err(aerr).Str("task_id", taskID).Msg("Archive failed")
			warnings = append(warnings, "archive_failed")
		}
		_ = s.registry.Update(taskID, func(rec *models.TaskRecord) {
			rec.Result = result
			rec.Warnings = append(rec.Warnings, warnings...)
		})
		s.finishFailed(taskID, 100, err)
		return
	}

	if _, err := s.archiver.Archive(poem.PoetName, input, result); err != nil {
		getLog().Warn().Err(err).Str("task_id", taskID).Msg("Archive failed")
		warnings = append(warnings, "archive_failed")
	}
	s.finishCompleted(taskID, result, warnings)
}

func (s *Service) finishCompleted(taskID string, result *models.WorkflowResult, warnings []string) {
	_ = s.registry.Update(taskID, func(rec *models.TaskRecord) {
		rec.Result = result
		rec.ProgressPercent = 100
		rec.Warnings = append(rec.Warnings, warnings...)
	})
	_ = s.registry.UpdateStatus(taskID, models.TaskStatusCompleted)
	s.bus.Publish(protocol.NewTaskCompletedEvent(taskID, warnings))
	getLog().Info().Str("task_id", taskID).Strs("warnings", warnings).Msg("Task completed")
}

func (s *Service) finishFailed(taskID string, percent int, err error) {
	kind := string(apperr.KindOf(err))
	_ = s.registry.Update(taskID, func(rec *models.TaskRecord) {
		rec.Error = err.Error()
		rec.ErrorKind = kind
	})
	_ = s.registry.UpdateStatus(taskID, models.TaskStatusFailed)
	s.bus.Publish(protocol.NewTaskFailedEvent(taskID, percent, err.Error(), kind))
	getLog().Error().Err(err).Str("task_id", taskID).Str("error_kind", kind).Msg("Task failed")
}

func (s *Service) finishCancelled(taskID string, percent int) {
	_ = s.registry.UpdateStatus(taskID, models.TaskStatusCancelled)
	s.bus.Publish(protocol.NewTaskCancelledEvent(taskID, percent))
	getLog().Info().Str("task_id", taskID).Msg("Task cancelled")
}

// cancelled reports whether the task should stop before its next step.
func (s *Service) cancelled(ctx context.Context, taskID string) bool {
	if ctx.Err() != nil {
		return true
	}
	return s.registry.CancelRequested(taskID)
}

// markRemainingSkipped flags steps that will never run.
func (s *Service) markRemainingSkipped(taskID string, remaining []models.StepSpec) {
	if len(remaining) == 0 {
		return
	}
	states := make(map[string]models.StepStatus, len(remaining))
	for _, spec := range remaining {
		states[spec.Name] = models.StepStatusSkipped
	}
	_ = s.registry.UpdateProgress(taskID, "", 0, states)
}

// aggregate sums token and cost figures across executed steps. Component
// sums only count steps whose provider reported components.
func aggregate(result *models.WorkflowResult) {
	for _, step := range result.ExecutedSteps() {
		if step.TokensPrompt != nil {
			result.TokensPrompt += *step.TokensPrompt
		}
		if step.TokensCompletion != nil {
			result.TokensCompletion += *step.TokensCompletion
		}
		result.TokensTotal += step.TokensTotal
		result.TotalCost += step.Cost
	}
}
