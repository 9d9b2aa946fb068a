// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Here lies the definition of the data the workflow engine can send to clients.
// All data a client can receive from the engine is named: Event.
// Progress events originate in the workflow run loop, get a per-task sequence
// number stamped at publish time, and fan out to SSE streams, WebSocket
// clients and the CLI progress view.
package protocol

import (
	"time"
)

// EventKind identifies what happened in the workflow
type EventKind string

const (
	// EventTaskStarted - the task transitioned from pending to running
	EventTaskStarted EventKind = "task_started"
	// EventStepStarted - a workflow step began executing
	EventStepStarted EventKind = "step_started"
	// EventStepProgress - activity inside a running step, e.g. a retry after
	// a transient provider failure
	EventStepProgress EventKind = "step_progress"
	// EventStepCompleted - a workflow step finished successfully
	EventStepCompleted EventKind = "step_completed"
	// EventStepFailed - a workflow step exhausted its attempts or hit a
	// non-retriable error
	EventStepFailed EventKind = "step_failed"
	// EventTaskCompleted - the whole workflow finished with no failed steps
	EventTaskCompleted EventKind = "task_completed"
	// EventTaskFailed - the workflow finished with failures or a fatal error
	EventTaskFailed EventKind = "task_failed"
	// EventTaskCancelled - the workflow stopped on client request
	EventTaskCancelled EventKind = "task_cancelled"
	// EventHeartbeat - synthetic keep-alive emitted per subscriber when the
	// stream is idle; never buffered and never assigned a sequence number
	EventHeartbeat EventKind = "heartbeat"
	// EventBackpressureDrop - synthetic marker retained when the ring buffer
	// overflowed, so late subscribers can detect the gap
	EventBackpressureDrop EventKind = "backpressure_drop"
)

// ProgressEvent represents any observable state change of a translation task.
// One struct covers the whole vocabulary; Kind discriminates and Payload
// carries kind-specific detail (attempt numbers, errors, warnings).
type ProgressEvent struct {
	Metadata
	Kind EventKind `json:"kind"`
	// StepName is populated for step-level events, using the canonical step
	// vocabulary (initial_translation, editor_review, revised_translation)
	StepName string `json:"step_name,omitempty"`
	// ProgressPercent is the completed fraction of the workflow, 0-100,
	// derived purely from step index
	ProgressPercent int                    `json:"progress_percent"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	Timestamp       time.Time              `json:"ts"`
}

func (e ProgressEvent) GetMetadata() Metadata {
	return e.Metadata
}

// GetTaskID allows the API server's stream filters to match events without
// maintaining an exhaustive type switch.
func (e ProgressEvent) GetTaskID() string { return e.TaskID }

// Terminal reports whether no further events will follow for this task.
func (e ProgressEvent) Terminal() bool {
	switch e.Kind {
	case EventTaskCompleted, EventTaskFailed, EventTaskCancelled:
		return true
	}
	return false
}

func newEvent(taskID string, kind EventKind) ProgressEvent {
	return ProgressEvent{
		Metadata:  Metadata{TaskID: taskID, Version: CurrentProtocolVersion},
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// Helper constructors for common progress events. Seq is left zero; the
// progress bus stamps it when the event is published.

// NewTaskStartedEvent creates a task_started event
func NewTaskStartedEvent(taskID, mode string) ProgressEvent {
	e := newEvent(taskID, EventTaskStarted)
	e.Payload = map[string]interface{}{"mode": mode}
	return e
}

// NewStepStartedEvent creates a step_started event
func NewStepStartedEvent(taskID, stepName string, percent int) ProgressEvent {
	e := newEvent(taskID, EventStepStarted)
	e.StepName = stepName
	e.ProgressPercent = percent
	return e
}

// NewRetryScheduledEvent creates a step_progress event announcing that a
// failed attempt will be retried after a backoff delay.
func NewRetryScheduledEvent(taskID, stepName string, percent, nextAttempt int, delay time.Duration, reason string) ProgressEvent {
	e := newEvent(taskID, EventStepProgress)
	e.StepName = stepName
	e.ProgressPercent = percent
	e.Payload = map[string]interface{}{
		"attempt":  nextAttempt,
		"delay_ms": delay.Milliseconds(),
		"reason":   reason,
	}
	return e
}

// NewStepCompletedEvent creates a step_completed event
func NewStepCompletedEvent(taskID, stepName string, percent int, payload map[string]interface{}) ProgressEvent {
	e := newEvent(taskID, EventStepCompleted)
	e.StepName = stepName
	e.ProgressPercent = percent
	e.Payload = payload
	return e
}

// NewStepFailedEvent creates a step_failed event
func NewStepFailedEvent(taskID, stepName string, percent int, errMsg, errKind string) ProgressEvent {
	e := newEvent(taskID, EventStepFailed)
	e.StepName = stepName
	e.ProgressPercent = percent
	e.Payload = map[string]interface{}{
		"error":      errMsg,
		"error_kind": errKind,
	}
	return e
}

// NewTaskCompletedEvent creates a task_completed event
func NewTaskCompletedEvent(taskID string, warnings []string) ProgressEvent {
	e := newEvent(taskID, EventTaskCompleted)
	e.ProgressPercent = 100
	if len(warnings) > 0 {
		e.Payload = map[string]interface{}{"warnings": warnings}
	}
	return e
}

// NewTaskFailedEvent creates a task_failed event
func NewTaskFailedEvent(taskID string, percent int, errMsg, errKind string) ProgressEvent {
	e := newEvent(taskID, EventTaskFailed)
	e.ProgressPercent = percent
	e.Payload = map[string]interface{}{
		"error":      errMsg,
		"error_kind": errKind,
	}
	return e
}

// NewTaskCancelledEvent creates a task_cancelled event
func NewTaskCancelledEvent(taskID string, percent int) ProgressEvent {
	e := newEvent(taskID, EventTaskCancelled)
	e.ProgressPercent = percent
	return e
}

// NewHeartbeatEvent creates a synthetic keep-alive event
func NewHeartbeatEvent(taskID string) ProgressEvent {
	return newEvent(taskID, EventHeartbeat)
}

// NewBackpressureDropEvent creates a synthetic backpressure_drop marker.
// Dropped counts the events evicted from the buffer before the subscriber
// caught up.
func NewBackpressureDropEvent(taskID string, dropped uint64) ProgressEvent {
	e := newEvent(taskID, EventBackpressureDrop)
	e.Payload = map[string]interface{}{"dropped": dropped}
	return e
}

// ErrorEvent is sent to streaming clients when the server hits a problem
// that is not tied to a specific workflow step.
type ErrorEvent struct {
	Metadata
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

func (e ErrorEvent) GetMetadata() Metadata {
	return e.Metadata
}

// GetTaskID allows stream filters to scope error events to a task.
func (e ErrorEvent) GetTaskID() string { return e.TaskID }
