// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/OCboy5/vpsweb/internal/protocol"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
	"github.com/OCboy5/vpsweb/internal/translator/progress"
)

// HandleSSE streams a task's progress events as Server-Sent Events.
//
// Each buffered event still retained for the task is replayed first, then the
// stream tails live events until the task reaches a terminal state or the
// client disconnects. The event's sequence number is sent as the SSE id, so a
// reconnecting client resumes from where it left off via the standard
// Last-Event-ID header (or a last_event_id query parameter). Heartbeats are
// sent as comment lines and carry no id.
func HandleSSE(svc WorkflowService, bus *progress.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		if _, ok := svc.GetStatus(taskID); !ok {
			writeError(w, apperr.Newf(apperr.KindNotFound, "task %s not found", taskID))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, apperr.New(apperr.KindInternal, "streaming unsupported by connection"))
			return
		}

		lastSeq := parseLastEventID(r)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		// Disable proxy buffering so events reach the client immediately.
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		getLog().Info().
			Str("task_id", taskID).
			Uint64("last_seq", lastSeq).
			Str("remote", r.RemoteAddr).
			Msg("SSE client connected")

		events := bus.Subscribe(r.Context(), taskID, lastSeq)
		for event := range events {
			if event.Kind == protocol.EventHeartbeat {
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				getLog().Error().Err(err).Str("task_id", taskID).Msg("Failed to marshal SSE event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}

		getLog().Info().Str("task_id", taskID).Msg("SSE stream closed")
	}
}

// parseLastEventID reads the resume position from the Last-Event-ID header,
// falling back to the last_event_id query parameter for clients that cannot
// set headers. Zero means "from the beginning of the retained buffer".
func parseLastEventID(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		getLog().Warn().Str("last_event_id", raw).Msg("Ignoring unparsable Last-Event-ID")
		return 0
	}
	return seq
}
