// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/translator/database"
	"github.com/OCboy5/vpsweb/internal/translator/models"
)

// poemCommand dispatches poem subcommands. Poems are durable, so these work
// on the database directly without a running server.
func poemCommand(args []string) error {
	if len(args) == 0 {
		return poemUsage()
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "list":
		return poemListCommand(subargs)
	case "show":
		return poemShowCommand(subargs)
	case "add":
		return poemAddCommand(subargs)
	case "help", "-h", "--help":
		return poemUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown poem subcommand: %s\n\n", subcommand)
		return poemUsage()
	}
}

func poemUsage() error {
	fmt.Printf(`Usage: %s poem <subcommand> [arguments]

Subcommands:
  list             List poems in the database
  show <poem-id>   Show a poem and its stored translations
  add              Add a poem (--title, --poet, --lang, --file or --text)
  help             Show this help message

Examples:
  %s poem list
  %s poem show poem-1
  %s poem add --title "静夜思" --poet "李白" --lang Chinese --file poem.txt

`, appName, appName, appName, appName)
	return nil
}

func openDatabase(configPath string) (*database.GormDB, error) {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.ValidateSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func poemListCommand(args []string) error {
	var configPath string
	fs := flag.NewFlagSet("poem list", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openDatabase(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poems, err := db.ListPoems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list poems: %w", err)
	}

	fmt.Println("POEMS:")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-20s %-30s %-16s %s\n", "ID", "TITLE", "POET", "LANGUAGE")
	fmt.Println(strings.Repeat("-", 80))
	for _, poem := range poems {
		fmt.Printf("%-20s %-30s %-16s %s\n",
			truncate(poem.ID, 20), truncate(poem.Title, 30), truncate(poem.PoetName, 16), poem.SourceLanguage)
	}
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Total: %d poems\n", len(poems))
	return nil
}

func poemShowCommand(args []string) error {
	var configPath string
	fs := flag.NewFlagSet("poem show", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) == 0 {
		return fmt.Errorf("poem id is required")
	}
	poemID := fs.Args()[0]

	db, err := openDatabase(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poem, err := db.GetPoem(ctx, poemID)
	if err != nil {
		return fmt.Errorf("failed to load poem: %w", err)
	}
	if poem == nil {
		return fmt.Errorf("poem not found: %s", poemID)
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("%s\n", poem.Title)
	if poem.PoetName != "" {
		fmt.Printf("by %s\n", poem.PoetName)
	}
	fmt.Printf("(%s)\n", poem.SourceLanguage)
	fmt.Println(strings.Repeat("-", 60))
	fmt.Println(poem.OriginalText)
	fmt.Println(strings.Repeat("-", 60))

	translations, err := db.GetTranslationsByPoem(ctx, poemID)
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}
	if len(translations) == 0 {
		fmt.Println("No stored translations")
		return nil
	}

	fmt.Printf("TRANSLATIONS (%d):\n", len(translations))
	for _, tr := range translations {
		fmt.Println(strings.Repeat("-", 40))
		fmt.Printf("  %s -> %s  [%s]  %s\n", tr.SourceLanguage, tr.TargetLanguage, tr.ID, tr.CreatedAt.Format("2006-01-02 15:04"))
		if tr.TranslatedPoemTitle != "" {
			fmt.Printf("  %s\n", tr.TranslatedPoemTitle)
		}
		fmt.Printf("  %s\n", truncate(strings.ReplaceAll(tr.TranslatedText, "\n", " / "), 70))
	}
	return nil
}

func poemAddCommand(args []string) error {
	var configPath, id, title, poet, lang, text, file string
	fs := flag.NewFlagSet("poem add", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	fs.StringVar(&id, "id", "", "Poem ID (generated when omitted)")
	fs.StringVar(&title, "title", "", "Poem title")
	fs.StringVar(&poet, "poet", "", "Poet name")
	fs.StringVar(&lang, "lang", "", "Source language")
	fs.StringVar(&text, "text", "", "Poem text inline")
	fs.StringVar(&file, "file", "", "Read poem text from file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if title == "" {
		return fmt.Errorf("--title is required")
	}
	if lang == "" {
		return fmt.Errorf("--lang is required")
	}
	if text == "" && file == "" {
		return fmt.Errorf("one of --text or --file is required")
	}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read poem file: %w", err)
		}
		text = string(raw)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("poem text is empty")
	}
	if id == "" {
		id = uuid.NewString()
	}

	db, err := openDatabase(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poem := &models.Poem{
		ID:             id,
		Title:          title,
		PoetName:       poet,
		OriginalText:   text,
		SourceLanguage: lang,
	}
	if err := db.CreatePoem(ctx, poem); err != nil {
		return fmt.Errorf("failed to create poem: %w", err)
	}
	fmt.Printf("Created poem %s (%s)\n", poem.ID, poem.Title)
	return nil
}
