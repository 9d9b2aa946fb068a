// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OCboy5/vpsweb/internal/app"
	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/container"
	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/observability"
	"github.com/OCboy5/vpsweb/internal/server"
	"github.com/OCboy5/vpsweb/internal/translator"
	"github.com/OCboy5/vpsweb/internal/translator/database"
	"github.com/OCboy5/vpsweb/internal/translator/progress"
	"github.com/OCboy5/vpsweb/internal/translator/registry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("Starting vpsweb API server")

	c := app.BuildContainer(cfg)
	defer func() {
		if err := c.Cleanup(); err != nil {
			mainLog.Error().Err(err).Msg("Error tearing down service graph")
		}
	}()

	db, err := container.Resolve[*database.GormDB](c)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error connecting to database")
		os.Exit(1)
	}
	if err := db.ValidateSchema(); err != nil {
		mainLog.Error().Err(err).Msg("Database schema validation failed")
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	tracing, err := container.Resolve[*observability.TracerProvider](c)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error initializing tracing")
		os.Exit(1)
	}

	svc, err := container.Resolve[*translator.Service](c)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error building workflow service")
		os.Exit(1)
	}
	bus, err := container.Resolve[*progress.Bus](c)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error building progress bus")
		os.Exit(1)
	}
	reg, err := container.Resolve[*registry.Registry](c)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error building task registry")
		os.Exit(1)
	}

	// This context drives the background workers' lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Evict expired terminal tasks and release their progress streams.
	go reg.RunGC(ctx, time.Hour, cfg.Translator.TaskTTL(), bus.Remove)

	srv := server.New(&cfg.Server, svc, db, bus)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()

	// Wait for signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
	case err := <-serverErrChan:
		if err != nil {
			mainLog.Error().Err(err).Msg("Server error")
		}
	}

	// Graceful shutdown: fresh context with timeout, independent of the run ctx.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down server")
	}

	mainLog.Info().Msg("Waiting for in-flight workflows...")
	if err := svc.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Workflows did not finish before deadline")
	}
	cancel()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error flushing traces")
	}

	mainLog.Info().Msg("API server shut down")
}
