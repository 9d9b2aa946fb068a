// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the REST + SSE + WebSocket API. Mutations call the
// translator service directly; progress events flow from the engine's bus to
// per-task SSE streams and to connected WebSocket clients.
package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/protocol"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetLogger("api")
		log = &l
	})
	return log
}

// EventBroadcaster reads every progress event from the bus tap and fans them
// out to all connected WebSocket clients.
type EventBroadcaster struct {
	events  <-chan protocol.ProgressEvent
	clients *ClientRegistry
}

// NewEventBroadcaster creates a broadcaster reading from the engine's global
// event tap.
func NewEventBroadcaster(events <-chan protocol.ProgressEvent, clients *ClientRegistry) *EventBroadcaster {
	return &EventBroadcaster{
		events:  events,
		clients: clients,
	}
}

// Run reads events until the channel is closed or context is cancelled.
func (b *EventBroadcaster) Run(ctx context.Context) {
	for {
		select {
		case event, ok := <-b.events:
			if !ok {
				getLog().Info().Msg("Event broadcaster stopped (channel closed)")
				return
			}
			b.dispatch(event)
		case <-ctx.Done():
			getLog().Info().Msg("Event broadcaster stopped (context cancelled)")
			return
		}
	}
}

func (b *EventBroadcaster) dispatch(event protocol.ProgressEvent) {
	if b.clients != nil {
		b.clients.Broadcast(event)
	}
}
