// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the vpsweb command line interface. The translate
// command runs a workflow in-process and streams its progress; task
// subcommands talk to a running API server; poem subcommands read and write
// the database directly.
package cli

import (
	"fmt"
	"os"
)

const (
	appName    = "vpsweb"
	appVersion = "0.1.0"
)

// Execute runs the CLI application
func Execute() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "translate":
		return translateCommand(args)
	case "task":
		return taskCommand(args)
	case "poem":
		return poemCommand(args)
	case "workflow":
		return workflowCommand(args)
	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage()
	}
}

func printUsage() error {
	fmt.Printf(`%s - AI poetry translation workflows

Usage:
  %s <command> [arguments]

Commands:
  translate      Run a translation workflow and stream its progress
  task           Inspect workflow tasks on a running server
  poem           Manage poems in the database
  workflow       Inspect and validate workflow configuration
  version        Print version information
  help           Show this help message

Examples:
  %s translate --poem poem-1 --target English --mode hybrid
  %s task list --status running
  %s task show abc123
  %s poem add --title "静夜思" --poet "李白" --lang Chinese --file poem.txt
  %s workflow check overrides.yaml

`, appName, appName, appName, appName, appName, appName, appName)
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
