// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app wires the service graph. Both the server binary and the CLI's
// in-process translate command build the same graph through the container,
// so the two entry points cannot drift apart.
package app

import (
	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/container"
	"github.com/OCboy5/vpsweb/internal/observability"
	"github.com/OCboy5/vpsweb/internal/translator"
	"github.com/OCboy5/vpsweb/internal/translator/archive"
	"github.com/OCboy5/vpsweb/internal/translator/database"
	"github.com/OCboy5/vpsweb/internal/translator/llm"
	"github.com/OCboy5/vpsweb/internal/translator/progress"
	"github.com/OCboy5/vpsweb/internal/translator/prompt"
	"github.com/OCboy5/vpsweb/internal/translator/registry"
	"github.com/OCboy5/vpsweb/internal/translator/sink"
)

// BuildContainer registers constructors for the whole service graph.
// Everything is a singleton: one database handle, one progress bus, one
// orchestrator per process. Call Cleanup on the returned container to tear
// the graph down in reverse creation order.
func BuildContainer(cfg *config.AppConfig) *container.Container {
	c := container.New()

	c.MustRegister(func() *config.AppConfig { return cfg }, container.Singleton)

	c.MustRegister(func(cfg *config.AppConfig) (*database.GormDB, error) {
		return database.NewGormDB(&cfg.Database)
	}, container.Singleton)

	c.MustRegister(func() *registry.Registry { return registry.New() }, container.Singleton)

	c.MustRegister(func(cfg *config.AppConfig) *progress.Bus {
		opts := []progress.Option{}
		if cfg.Translator.EventBufferSize > 0 {
			opts = append(opts, progress.WithCapacity(cfg.Translator.EventBufferSize))
		}
		if cfg.Translator.ProgressHeartbeatSeconds > 0 {
			opts = append(opts, progress.WithHeartbeat(cfg.Translator.HeartbeatInterval()))
		}
		return progress.NewBus(opts...)
	}, container.Singleton)

	c.MustRegister(func(cfg *config.AppConfig) (*prompt.Renderer, error) {
		return prompt.NewRenderer(cfg.Prompts)
	}, container.Singleton)

	c.MustRegister(func(cfg *config.AppConfig) (*llm.Factory, error) {
		return llm.NewFactory(cfg.Providers)
	}, container.Singleton)

	c.MustRegister(func(cfg *config.AppConfig, db *database.GormDB) *sink.Sink {
		return sink.New(db, &cfg.Languages)
	}, container.Singleton)

	c.MustRegister(func(cfg *config.AppConfig) *archive.Archiver {
		return archive.New(cfg.Translator.ArchiveDirectory)
	}, container.Singleton)

	c.MustRegister(func(cfg *config.AppConfig) (*observability.TracerProvider, error) {
		return observability.NewTracerProvider(cfg.Tracing)
	}, container.Singleton)

	c.MustRegister(func(
		cfg *config.AppConfig,
		db *database.GormDB,
		reg *registry.Registry,
		bus *progress.Bus,
		renderer *prompt.Renderer,
		factory *llm.Factory,
		snk *sink.Sink,
		arc *archive.Archiver,
	) *translator.Service {
		return translator.New(translator.Deps{
			Config:   cfg,
			Registry: reg,
			Bus:      bus,
			Renderer: renderer,
			Factory:  factory,
			Poems:    db,
			Sink:     snk,
			Archiver: arc,
		})
	}, container.Singleton)

	return c
}
