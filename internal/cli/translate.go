// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/OCboy5/vpsweb/internal/app"
	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/container"
	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/protocol"
	"github.com/OCboy5/vpsweb/internal/translator"
	"github.com/OCboy5/vpsweb/internal/translator/database"
	"github.com/OCboy5/vpsweb/internal/translator/models"
	"github.com/OCboy5/vpsweb/internal/translator/progress"
)

type translateOptions struct {
	configPath string
	poemID     string
	targetLang string
	mode       string
}

// translateCommand runs a translation workflow in-process and streams its
// progress to stdout until the task reaches a terminal state.
func translateCommand(args []string) error {
	opts := &translateOptions{}
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to config file")
	fs.StringVar(&opts.poemID, "poem", "", "Poem ID to translate")
	fs.StringVar(&opts.targetLang, "target", "", "Target language")
	fs.StringVar(&opts.mode, "mode", "hybrid", "Workflow mode (reasoning, non_reasoning, hybrid)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.poemID == "" {
		return fmt.Errorf("--poem is required")
	}
	if opts.targetLang == "" {
		return fmt.Errorf("--target is required")
	}

	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	c := app.BuildContainer(cfg)
	defer c.Cleanup()

	db, err := container.Resolve[*database.GormDB](c)
	if err != nil {
		return err
	}
	if err := db.ValidateSchema(); err != nil {
		return err
	}

	svc, err := container.Resolve[*translator.Service](c)
	if err != nil {
		return err
	}
	bus, err := container.Resolve[*progress.Bus](c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	taskID, err := svc.Start(ctx, translator.StartParams{
		PoemID:     opts.poemID,
		TargetLang: opts.targetLang,
		Mode:       opts.mode,
		Metadata:   map[string]string{"source": "cli"},
	})
	if err != nil {
		return err
	}

	fmt.Printf("Task %s started (%s -> %s, mode %s)\n", taskID, opts.poemID, opts.targetLang, opts.mode)
	fmt.Println(strings.Repeat("-", 60))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for event := range bus.Subscribe(streamCtx, taskID, 0) {
		printEvent(event)
		if event.Terminal() {
			break
		}
	}

	rec, ok := svc.GetStatus(taskID)
	if !ok {
		return fmt.Errorf("task %s disappeared", taskID)
	}
	printSummary(rec)

	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 30*time.Second)
	defer cancelShutdown()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if rec.Status != models.TaskStatusCompleted {
		return fmt.Errorf("task %s %s: %s", taskID, rec.Status, rec.Error)
	}
	return nil
}

func printEvent(event protocol.ProgressEvent) {
	switch event.Kind {
	case protocol.EventTaskStarted:
		fmt.Println("Workflow started")
	case protocol.EventStepStarted:
		fmt.Printf("[%3d%%] %s ...\n", event.ProgressPercent, event.StepName)
	case protocol.EventStepProgress:
		fmt.Printf("[%3d%%] %s: retrying (attempt %v, %v)\n",
			event.ProgressPercent, event.StepName, event.Payload["attempt"], event.Payload["reason"])
	case protocol.EventStepCompleted:
		fmt.Printf("[%3d%%] %s done (tokens %v)\n",
			event.ProgressPercent, event.StepName, event.Payload["tokens_total"])
	case protocol.EventStepFailed:
		fmt.Printf("[%3d%%] %s FAILED: %v\n",
			event.ProgressPercent, event.StepName, event.Payload["error"])
	case protocol.EventTaskCompleted:
		fmt.Println("[100%] Workflow completed")
	case protocol.EventTaskFailed:
		fmt.Printf("Workflow failed: %v\n", event.Payload["error"])
	case protocol.EventTaskCancelled:
		fmt.Println("Workflow cancelled")
	}
}

func printSummary(rec *models.TaskRecord) {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Status:   %s\n", rec.Status)
	if len(rec.Warnings) > 0 {
		fmt.Printf("Warnings: %s\n", strings.Join(rec.Warnings, ", "))
	}
	if rec.Result == nil {
		return
	}
	fmt.Printf("Tokens:   %d  Cost: $%.4f  Runtime: %.1fs\n",
		rec.Result.TokensTotal, rec.Result.TotalCost, rec.Result.RuntimeSeconds)
	if rec.Result.FinalTitle != "" {
		fmt.Printf("\n%s\n", rec.Result.FinalTitle)
	}
	if rec.Result.FinalPoetName != "" {
		fmt.Printf("by %s\n", rec.Result.FinalPoetName)
	}
	if rec.Result.FinalText != "" {
		fmt.Printf("\n%s\n", rec.Result.FinalText)
	}
}
