// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultServerURL = "http://127.0.0.1:8080"

// taskCommand dispatches task subcommands. Tasks live in the memory of a
// running server, so these talk to its HTTP API.
func taskCommand(args []string) error {
	if len(args) == 0 {
		return taskUsage()
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "show":
		return taskShowCommand(subargs)
	case "list":
		return taskListCommand(subargs)
	case "cancel":
		return taskCancelCommand(subargs)
	case "help", "-h", "--help":
		return taskUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown task subcommand: %s\n\n", subcommand)
		return taskUsage()
	}
}

func taskUsage() error {
	fmt.Printf(`Usage: %s task <subcommand> [arguments]

Subcommands:
  show <task-id>    Show detailed task state including per-step status
  list              List tasks (--status, --mode, --limit to filter)
  cancel <task-id>  Request cooperative cancellation
  help              Show this help message

Examples:
  %s task show abc123
  %s task list --status running
  %s task cancel abc123 --server http://127.0.0.1:8080

`, appName, appName, appName, appName)
	return nil
}

// taskView mirrors the server's task JSON.
type taskView struct {
	TaskID          string            `json:"task_id"`
	PoemID          string            `json:"poem_id"`
	TargetLang      string            `json:"target_lang"`
	Mode            string            `json:"mode"`
	Status          string            `json:"status"`
	ProgressPercent int               `json:"progress_percent"`
	CurrentStepName string            `json:"current_step_name"`
	StepStates      map[string]string `json:"step_states"`
	StartedAt       string            `json:"started_at"`
	FinishedAt      string            `json:"finished_at"`
	Error           string            `json:"error"`
	ErrorKind       string            `json:"error_kind"`
	Warnings        []string          `json:"warnings"`
}

func apiGet(serverURL, path string, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

func apiPost(serverURL, path string, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(serverURL+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

func decodeAPIResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Type  string `json:"type"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Type)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func taskShowCommand(args []string) error {
	var serverURL string
	fs := flag.NewFlagSet("task show", flag.ExitOnError)
	fs.StringVar(&serverURL, "server", defaultServerURL, "API server URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) == 0 {
		return fmt.Errorf("task id is required")
	}
	taskID := fs.Args()[0]

	var task taskView
	if err := apiGet(serverURL, "/api/v1/workflows/"+url.PathEscape(taskID), &task); err != nil {
		return err
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("TASK: %s\n", task.TaskID)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Poem:       %s -> %s\n", task.PoemID, task.TargetLang)
	fmt.Printf("Mode:       %s\n", task.Mode)
	fmt.Printf("Status:     %s (%d%%)\n", strings.ToUpper(task.Status), task.ProgressPercent)
	if task.CurrentStepName != "" {
		fmt.Printf("Step:       %s\n", task.CurrentStepName)
	}
	fmt.Printf("Started:    %s\n", task.StartedAt)
	if task.FinishedAt != "" {
		fmt.Printf("Finished:   %s\n", task.FinishedAt)
	}
	if task.Error != "" {
		fmt.Printf("Error:      [%s] %s\n", task.ErrorKind, task.Error)
	}
	if len(task.Warnings) > 0 {
		fmt.Printf("Warnings:   %s\n", strings.Join(task.Warnings, ", "))
	}

	if len(task.StepStates) > 0 {
		fmt.Println()
		fmt.Println("STEPS:")
		fmt.Println(strings.Repeat("-", 40))
		for _, name := range []string{"initial_translation", "editor_review", "revised_translation"} {
			if state, ok := task.StepStates[name]; ok {
				fmt.Printf("  %-22s %s\n", name, state)
			}
		}
		// Any non-canonical steps
		for name, state := range task.StepStates {
			switch name {
			case "initial_translation", "editor_review", "revised_translation":
			default:
				fmt.Printf("  %-22s %s\n", name, state)
			}
		}
	}
	return nil
}

func taskListCommand(args []string) error {
	var serverURL, status, mode string
	var limit int
	fs := flag.NewFlagSet("task list", flag.ExitOnError)
	fs.StringVar(&serverURL, "server", defaultServerURL, "API server URL")
	fs.StringVar(&status, "status", "", "Filter by status (pending, running, completed, failed, cancelled)")
	fs.StringVar(&mode, "mode", "", "Filter by workflow mode")
	fs.IntVar(&limit, "limit", 50, "Maximum number of tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if mode != "" {
		query.Set("mode", mode)
	}
	query.Set("limit", fmt.Sprintf("%d", limit))

	var resp struct {
		Tasks []taskView `json:"tasks"`
	}
	if err := apiGet(serverURL, "/api/v1/workflows?"+query.Encode(), &resp); err != nil {
		return err
	}

	fmt.Println("TASKS:")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-10s %4s  %-36s %-10s %s\n", "STATUS", "PCT", "TASK", "MODE", "POEM")
	fmt.Println(strings.Repeat("-", 80))
	for _, task := range resp.Tasks {
		fmt.Printf("%-10s %3d%%  %-36s %-10s %s -> %s\n",
			task.Status, task.ProgressPercent, task.TaskID, task.Mode, task.PoemID, task.TargetLang)
	}
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Total: %d tasks\n", len(resp.Tasks))
	return nil
}

func taskCancelCommand(args []string) error {
	var serverURL string
	fs := flag.NewFlagSet("task cancel", flag.ExitOnError)
	fs.StringVar(&serverURL, "server", defaultServerURL, "API server URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) == 0 {
		return fmt.Errorf("task id is required")
	}
	taskID := fs.Args()[0]

	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := apiPost(serverURL, "/api/v1/workflows/"+url.PathEscape(taskID)+"/cancel", &resp); err != nil {
		return err
	}
	if resp.Cancelled {
		fmt.Printf("Cancellation requested for %s\n", taskID)
	} else {
		fmt.Printf("Task %s was already finishing\n", taskID)
	}
	return nil
}
