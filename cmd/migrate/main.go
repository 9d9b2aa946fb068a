// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command migrate creates or updates the database schema and optionally
// seeds a sample poem for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/translator/database"
	"github.com/OCboy5/vpsweb/internal/translator/models"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	seed := flag.Bool("seed", false, "Seed a sample poem after migrating")
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

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Migrating %s database %q...\n", cfg.Database.Driver, cfg.Database.Database)
	if err := db.AutoMigrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	if err := db.ValidateSchema(); err != nil {
		fmt.Fprintf(os.Stderr, "Schema validation failed after migration: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migration complete")

	if !*seed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const samplePoemID = "jing-ye-si"
	existing, err := db.GetPoem(ctx, samplePoemID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seed lookup failed: %v\n", err)
		os.Exit(1)
	}
	if existing != nil {
		fmt.Printf("Sample poem %s already present\n", samplePoemID)
		return
	}

	poem := &models.Poem{
		ID:             samplePoemID,
		Title:          "静夜思",
		PoetName:       "李白",
		OriginalText:   "床前明月光，\n疑是地上霜。\n举头望明月，\n低头思故乡。",
		SourceLanguage: "Chinese",
	}
	if err := db.CreatePoem(ctx, poem); err != nil {
		fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded sample poem %s (%s)\n", poem.ID, poem.Title)
}
