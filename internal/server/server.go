// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/translator/progress"
)

// Server is the REST + SSE + WebSocket API server.
type Server struct {
	httpServer  *http.Server
	broadcaster *EventBroadcaster
}

// New creates and wires up the API server. It does NOT start listening —
// call Run() for that.
func New(
	cfg *config.ServerConfig,
	svc WorkflowService,
	poems PoemCatalog,
	bus *progress.Bus,
) *Server {
	registry := NewClientRegistry()
	broadcaster := NewEventBroadcaster(bus.Tap(), registry)
	r := newRouter(cfg, svc, poems, bus, registry)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// SSE streams outlive any sane write timeout; per-stream
			// lifetime is bounded by the request context instead.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		broadcaster: broadcaster,
	}
}

func newRouter(
	cfg *config.ServerConfig,
	svc WorkflowService,
	poems PoemCatalog,
	bus *progress.Bus,
	registry *ClientRegistry,
) *chi.Mux {
	handlers := NewHandlers(svc, poems)

	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(MaxBodySize(1 << 20)) // 1 MB default

	// REST routes
	r.Route("/api/v1", func(r chi.Router) {
		// Workflows
		r.Post("/workflows/translate", handlers.StartTranslation)
		r.Get("/workflows", handlers.ListWorkflows)
		r.Route("/workflows/{taskID}", func(r chi.Router) {
			r.Get("/", handlers.GetWorkflow)
			r.Post("/cancel", handlers.CancelWorkflow)
			r.Get("/events", HandleSSE(svc, bus))
		})

		// Poems and persisted translations
		r.Get("/poems", handlers.GetPoems)
		r.Post("/poems", handlers.CreatePoem)
		r.Get("/poems/{id}", handlers.GetPoem)
		r.Get("/poems/{id}/translations", handlers.GetPoemTranslations)
		r.Get("/translations/{id}", handlers.GetTranslation)
	})

	// WebSocket
	r.Get("/ws", HandleWebSocket(registry, cfg.AllowedOrigins))

	// Operational endpoints
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Run starts the event broadcaster goroutine and the HTTP server.
// Blocks until the server is shut down or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		const maxRetries = 3
		for attempt := 1; attempt <= maxRetries; attempt++ {
			func() {
				defer func() {
					if r := recover(); r != nil {
						getLog().Error().Interface("panic", r).Int("attempt", attempt).Msg("Event broadcaster panic")
					}
				}()
				s.broadcaster.Run(ctx)
			}()

			// Normal return (context cancelled) — exit without retry.
			if ctx.Err() != nil {
				return
			}

			if attempt < maxRetries {
				getLog().Warn().Int("attempt", attempt).Msg("Restarting event broadcaster after panic")
				time.Sleep(1 * time.Second)
			}
		}
		getLog().Error().Msg("Event broadcaster exhausted retries - events will no longer be dispatched")
	}()

	getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
