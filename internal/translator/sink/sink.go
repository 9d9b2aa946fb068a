// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sink persists a finished workflow run: the translation row, one
// AI log aggregating usage and cost, and one step row per executed step,
// all in a single transaction.
package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
	"github.com/OCboy5/vpsweb/internal/translator/database"
	"github.com/OCboy5/vpsweb/internal/translator/models"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetDatabaseLogger()
		log = &l
	})
	return log
}

// Transactor is the transactional surface the sink needs from the database.
type Transactor interface {
	Transact(ctx context.Context, fn func(repo database.Repository) error) error
}

// Sink writes completed workflow results to the database.
type Sink struct {
	db    Transactor
	langs *config.LanguageConfig
}

// New creates a sink backed by the given database.
func New(db Transactor, langs *config.LanguageConfig) *Sink {
	return &Sink{db: db, langs: langs}
}

// Persist stores the run atomically and returns the new translation id.
// Language names are normalized to canonical codes when the table knows
// them; unknown names pass through unchanged. Any failure rolls the whole
// transaction back and comes out as a PersistenceError.
func (s *Sink) Persist(ctx context.Context, taskID string, input models.TranslationJobInput, result *models.WorkflowResult) (string, error) {
	executed := result.ExecutedSteps()
	if len(executed) == 0 {
		return "", apperr.New(apperr.KindPersistence, "nothing to persist: no steps executed")
	}

	translationID := uuid.NewString()
	aiLogID := uuid.NewString()

	err := s.db.Transact(ctx, func(repo database.Repository) error {
		if err := repo.CreateTranslation(ctx, &models.Translation{
			ID:                  translationID,
			PoemID:              input.PoemID,
			SourceLanguage:      s.languageCode(input.SourceLang),
			TargetLanguage:      s.languageCode(input.TargetLang),
			TranslatedText:      result.FinalText,
			TranslatedPoemTitle: result.FinalTitle,
			TranslatedPoetName:  result.FinalPoetName,
			TranslatorInfo:      translatorInfo(executed),
		}); err != nil {
			return err
		}

		if err := repo.CreateAiLog(ctx, &models.AiLog{
			ID:            aiLogID,
			TranslationID: translationID,
			ModelName:     executed[0].ModelInfo.Model,
			WorkflowMode:  result.Mode,
			TokenUsage: models.TokenUsage{
				PromptTokens:     result.TokensPrompt,
				CompletionTokens: result.TokensCompletion,
				TotalTokens:      result.TokensTotal,
			},
			CostInfo:       costInfo(result),
			RuntimeSeconds: result.RuntimeSeconds,
		}); err != nil {
			return err
		}

		for _, step := range executed {
			if err := repo.CreateWorkflowStep(ctx, stepRow(translationID, aiLogID, taskID, step)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindPersistence) {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindPersistence, "failed to persist workflow result", err)
	}

	getLog().Info().
		Str("task_id", taskID).
		Str("translation_id", translationID).
		Int("steps", len(executed)).
		Msg("Persisted workflow result")
	return translationID, nil
}

// languageCode normalizes a language name; unknown names pass through.
func (s *Sink) languageCode(name string) string {
	if s.langs != nil {
		if code, ok := s.langs.Code(name); ok {
			return code
		}
	}
	return name
}

// translatorInfo summarizes which models produced the translation, e.g.
// "openai/gpt-4o + anthropic/claude-sonnet-4-5".
func translatorInfo(steps []models.StepResult) string {
	seen := make(map[string]bool)
	var parts []string
	for _, step := range steps {
		id := fmt.Sprintf("%s/%s", step.ModelInfo.Provider, step.ModelInfo.Model)
		if !seen[id] {
			seen[id] = true
			parts = append(parts, id)
		}
	}
	info := ""
	for i, p := range parts {
		if i > 0 {
			info += " + "
		}
		info += p
	}
	return info
}

func costInfo(result *models.WorkflowResult) models.CostInfo {
	byStep := make(map[string]float64)
	for _, step := range result.ExecutedSteps() {
		byStep[step.Name] = step.Cost
	}
	return models.CostInfo{
		TotalCost: result.TotalCost,
		Currency:  "USD",
		ByStep:    byStep,
	}
}

// stepRow maps one executed step onto its persisted form. Content prefers
// the field named after the step; editor steps store their suggestions and
// anything without a matching field falls back to the raw response.
func stepRow(translationID, aiLogID, taskID string, step models.StepResult) *models.TranslationWorkflowStep {
	content := step.Field(step.Name)
	if content == "" {
		content = step.Field("editor_suggestions")
	}
	if content == "" {
		content = step.RawResponse
	}

	title := step.Field("refined_title")
	if title == "" {
		title = step.Field("translated_title")
	}
	poet := step.Field("refined_poet_name")
	if poet == "" {
		poet = step.Field("translated_poet_name")
	}

	return &models.TranslationWorkflowStep{
		ID:               uuid.NewString(),
		TranslationID:    translationID,
		AiLogID:          aiLogID,
		WorkflowID:       taskID,
		StepType:         step.Name,
		StepOrder:        step.Order,
		Content:          content,
		Notes:            step.Error,
		ModelInfo:        models.ModelInfoColumn(step.ModelInfo),
		TokensUsed:       step.TokensTotal,
		PromptTokens:     step.TokensPrompt,
		CompletionTokens: step.TokensCompletion,
		DurationSeconds:  float64(step.DurationMs) / 1000.0,
		Cost:             step.Cost,
		TranslatedTitle:  title,
		TranslatedPoet:   poet,
	}
}
