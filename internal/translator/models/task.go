// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models defines the workflow engine's domain types and the GORM
// models persisted for each finished translation run.
package models

import (
	"strings"
	"time"
)

// TaskStatus represents the status of a translation task
type TaskStatus int

const (
	TaskStatusPending TaskStatus = iota
	TaskStatusRunning
	TaskStatusCompleted
	TaskStatusFailed
	TaskStatusCancelled
)

// String returns the string representation of TaskStatus
func (ts TaskStatus) String() string {
	switch ts {
	case TaskStatusPending:
		return "pending"
	case TaskStatusRunning:
		return "running"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusFailed:
		return "failed"
	case TaskStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is absorbing: a task in a terminal
// state never mutates again.
func (ts TaskStatus) Terminal() bool {
	switch ts {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the status of a single workflow step
type StepStatus int

const (
	StepStatusWaiting StepStatus = iota
	StepStatusRunning
	StepStatusCompleted
	StepStatusFailed
	StepStatusSkipped // steps never reached after a fatal failure or cancel
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StepStatusWaiting:
		return "waiting"
	case StepStatusRunning:
		return "running"
	case StepStatusCompleted:
		return "completed"
	case StepStatusFailed:
		return "failed"
	case StepStatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// TranslationJobInput captures one translation request. Immutable once the
// task exists.
type TranslationJobInput struct {
	PoemID     string            `json:"poem_id"`
	SourceLang string            `json:"source_lang"`
	TargetLang string            `json:"target_lang"`
	Mode       string            `json:"mode"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StepSpec describes one workflow step binding, resolved from configuration
// at task start.
type StepSpec struct {
	Name                 string        `json:"name"`
	ProviderName         string        `json:"provider_name"`
	ModelName            string        `json:"model_name"`
	PromptTemplateName   string        `json:"prompt_template_name"`
	Temperature          *float64      `json:"temperature,omitempty"`
	MaxTokens            int           `json:"max_tokens"`
	Timeout              time.Duration `json:"timeout"`
	MaxAttempts          int           `json:"max_attempts"`
	RequiredOutputFields []string      `json:"required_output_fields"`
	Fatal                bool          `json:"fatal"`
}

// WorkflowConfig is the ordered step list for one mode, derived from
// configuration when the task starts.
type WorkflowConfig struct {
	Name  string     `json:"name"`
	Mode  string     `json:"mode"`
	Steps []StepSpec `json:"steps"`
}

// ModelInfo identifies which provider and model produced a step's output.
type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// StepResult is the outcome of one executed step.
//
// TokensPrompt and TokensCompletion are pointers: a provider that reports
// only a total leaves the component fields nil, and TokensTotal carries the
// reported sum. When both components are present TokensTotal equals their
// sum.
type StepResult struct {
	Name             string            `json:"name"`
	Order            int               `json:"order"` // 1-based execution order
	Status           StepStatus        `json:"status"`
	Fields           map[string]string `json:"fields,omitempty"`
	RawResponse      string            `json:"raw_response,omitempty"`
	TokensPrompt     *int              `json:"tokens_prompt,omitempty"`
	TokensCompletion *int              `json:"tokens_completion,omitempty"`
	TokensTotal      int               `json:"tokens_total"`
	DurationMs       int64             `json:"duration_ms"`
	Cost             float64           `json:"cost"`
	ModelInfo        ModelInfo         `json:"model_info"`
	Attempts         int               `json:"attempts"`
	Error            string            `json:"error,omitempty"`
	ErrorKind        string            `json:"error_kind,omitempty"`
}

// Field returns a parsed output field, trimmed. Missing fields yield "".
func (sr *StepResult) Field(name string) string {
	return strings.TrimSpace(sr.Fields[name])
}

// WorkflowResult aggregates the outcome of a whole run.
type WorkflowResult struct {
	Mode              string       `json:"mode"`
	Steps             []StepResult `json:"steps"`
	FinalText         string       `json:"translated_text"`
	FinalTitle        string       `json:"translated_poem_title,omitempty"`
	FinalPoetName     string       `json:"translated_poet_name,omitempty"`
	TokensPrompt      int          `json:"tokens_prompt"`
	TokensCompletion  int          `json:"tokens_completion"`
	TokensTotal       int          `json:"tokens_total"`
	TotalCost         float64      `json:"total_cost"`
	RuntimeSeconds    float64      `json:"runtime_seconds"`
	StartedAt         time.Time    `json:"started_at"`
	CompletedAt       time.Time    `json:"completed_at"`
}

// ExecutedSteps returns the steps that actually ran (completed or failed),
// in order. Skipped steps are excluded.
func (wr *WorkflowResult) ExecutedSteps() []StepResult {
	out := make([]StepResult, 0, len(wr.Steps))
	for _, s := range wr.Steps {
		if s.Status == StepStatusCompleted || s.Status == StepStatusFailed {
			out = append(out, s)
		}
	}
	return out
}

// Failed reports whether any executed step failed.
func (wr *WorkflowResult) Failed() bool {
	for _, s := range wr.Steps {
		if s.Status == StepStatusFailed {
			return true
		}
	}
	return false
}

// ResolveFinalOutput picks the translated text, title and poet name from the
// last non-failed step. A revised step's refined_* fields win over the
// initial step's translated_* fields. Presence decides, not content: a
// revised step that produced an empty translation still owns the final
// output, so the emptiness is visible downstream instead of being papered
// over by an earlier step's text.
func (wr *WorkflowResult) ResolveFinalOutput() {
	for i := len(wr.Steps) - 1; i >= 0; i-- {
		step := &wr.Steps[i]
		if step.Status != StepStatusCompleted {
			continue
		}
		if _, ok := step.Fields["revised_translation"]; ok {
			wr.FinalText = step.Field("revised_translation")
			wr.FinalTitle = step.Field("refined_title")
			wr.FinalPoetName = step.Field("refined_poet_name")
			return
		}
		if _, ok := step.Fields["initial_translation"]; ok {
			wr.FinalText = step.Field("initial_translation")
			wr.FinalTitle = step.Field("translated_title")
			wr.FinalPoetName = step.Field("translated_poet_name")
			return
		}
	}
}

// TaskRecord is the in-memory state of one task. Mutated only through the
// registry's per-task writer; readers get copies.
type TaskRecord struct {
	TaskID          string                `json:"task_id"`
	Input           TranslationJobInput   `json:"input"`
	Status          TaskStatus            `json:"status"`
	ProgressPercent int                   `json:"progress_percent"`
	CurrentStepName string                `json:"current_step_name,omitempty"`
	StepStates      map[string]StepStatus `json:"step_states"`
	StartedAt       time.Time             `json:"started_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
	Result          *WorkflowResult       `json:"result,omitempty"`
	Error           string                `json:"error,omitempty"`
	ErrorKind       string                `json:"error_kind,omitempty"`
	Warnings        []string              `json:"warnings,omitempty"`
	CancelRequested bool                  `json:"cancel_requested,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (tr *TaskRecord) Clone() *TaskRecord {
	cp := *tr
	cp.StepStates = make(map[string]StepStatus, len(tr.StepStates))
	for k, v := range tr.StepStates {
		cp.StepStates[k] = v
	}
	if tr.Warnings != nil {
		cp.Warnings = append([]string(nil), tr.Warnings...)
	}
	if tr.FinishedAt != nil {
		t := *tr.FinishedAt
		cp.FinishedAt = &t
	}
	if tr.Result != nil {
		res := *tr.Result
		res.Steps = append([]StepResult(nil), tr.Result.Steps...)
		cp.Result = &res
	}
	if tr.Input.Metadata != nil {
		cp.Input.Metadata = make(map[string]string, len(tr.Input.Metadata))
		for k, v := range tr.Input.Metadata {
			cp.Input.Metadata[k] = v
		}
	}
	return &cp
}
