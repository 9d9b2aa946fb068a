// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package common provides shared types used across multiple packages.
package common

// Metadata contains common fields for all messages that cross the API
// boundary, including progress events streamed over SSE and WebSocket.
type Metadata struct {
	// TaskID correlates an event with the translation task that produced it
	TaskID string `json:"task_id"`

	// Seq is the per-task monotonic sequence number assigned when the event
	// is published. Clients use it to deduplicate and to resume interrupted
	// streams without losing or repeating events.
	Seq uint64 `json:"seq"`

	// Version indicates the protocol version for backward compatibility.
	// Format: "v{major}.{minor}.{patch}" (e.g., "v1.0.0")
	Version string `json:"version,omitempty"`
}

// CurrentProtocolVersion defines the current version of the protocol.
// This should be updated when making breaking changes to the protocol.
const CurrentProtocolVersion = "v1.0.0"

// Event represents messages that can be fanned out to streaming clients.
// Any type implementing this interface can be sent through the broadcaster.
type Event interface {
	GetMetadata() Metadata
}
