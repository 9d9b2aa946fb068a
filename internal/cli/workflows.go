// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OCboy5/vpsweb/internal/config"
)

// workflowCommand dispatches workflow subcommands.
func workflowCommand(args []string) error {
	if len(args) == 0 {
		return workflowUsage()
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "list":
		return workflowListCommand(subargs)
	case "check":
		return workflowCheckCommand(subargs)
	case "help", "-h", "--help":
		return workflowUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown workflow subcommand: %s\n\n", subcommand)
		return workflowUsage()
	}
}

func workflowUsage() error {
	fmt.Printf(`Usage: %s workflow <subcommand> [arguments]

Subcommands:
  list              Show the configured workflow modes and their steps
  check <file>      Validate a workflow override YAML file
  help              Show this help message

Examples:
  %s workflow list
  %s workflow check overrides.yaml

`, appName, appName, appName)
	return nil
}

// WorkflowFile is a YAML file overriding workflow mode step bindings.
type WorkflowFile struct {
	Workflows map[string]WorkflowFileMode `yaml:"workflows"`
}

// WorkflowFileMode is one mode's step list in a workflow override file.
type WorkflowFileMode struct {
	Steps []WorkflowFileStep `yaml:"steps"`
}

// WorkflowFileStep is one step binding in a workflow override file.
type WorkflowFileStep struct {
	Name                 string   `yaml:"name"`
	Provider             string   `yaml:"provider"`
	Model                string   `yaml:"model"`
	PromptTemplate       string   `yaml:"prompt_template"`
	Temperature          *float64 `yaml:"temperature"`
	MaxTokens            int      `yaml:"max_tokens"`
	TimeoutSeconds       int      `yaml:"timeout_seconds"`
	MaxAttempts          int      `yaml:"max_attempts"`
	RequiredOutputFields []string `yaml:"required_output_fields"`
	Fatal                bool     `yaml:"fatal"`
}

// canonicalSteps is the fixed step vocabulary workflow modes draw from.
var canonicalSteps = map[string]bool{
	config.StepInitialTranslation: true,
	config.StepEditorReview:       true,
	config.StepRevisedTranslation: true,
}

// LoadWorkflowFile loads and validates a workflow override YAML file.
func LoadWorkflowFile(path string) (*WorkflowFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var wf WorkflowFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}

	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow file: %w", err)
	}
	return &wf, nil
}

// Validate checks the override file's internal consistency. Provider and
// template references are checked separately against the app config.
func (wf *WorkflowFile) Validate() error {
	if len(wf.Workflows) == 0 {
		return errors.New("no workflows defined")
	}
	for mode, m := range wf.Workflows {
		if len(m.Steps) == 0 {
			return fmt.Errorf("mode %s: must have at least one step", mode)
		}
		seen := make(map[string]bool)
		for i, step := range m.Steps {
			if step.Name == "" {
				return fmt.Errorf("mode %s step %d: name is required", mode, i+1)
			}
			if !canonicalSteps[step.Name] {
				return fmt.Errorf("mode %s step %d: unknown step %q", mode, i+1, step.Name)
			}
			if seen[step.Name] {
				return fmt.Errorf("mode %s step %d: duplicate step %q", mode, i+1, step.Name)
			}
			seen[step.Name] = true
			if step.Provider == "" {
				return fmt.Errorf("mode %s step %s: provider is required", mode, step.Name)
			}
			if step.Model == "" {
				return fmt.Errorf("mode %s step %s: model is required", mode, step.Name)
			}
			if step.PromptTemplate == "" {
				return fmt.Errorf("mode %s step %s: prompt_template is required", mode, step.Name)
			}
		}
	}
	return nil
}

// CheckAgainst verifies that every provider and prompt template the file
// references exists in the app config.
func (wf *WorkflowFile) CheckAgainst(cfg *config.AppConfig) error {
	for mode, m := range wf.Workflows {
		for _, step := range m.Steps {
			if _, ok := cfg.Providers[step.Provider]; !ok {
				return fmt.Errorf("mode %s step %s: unknown provider %q", mode, step.Name, step.Provider)
			}
			if _, ok := cfg.Prompts[step.PromptTemplate]; !ok {
				return fmt.Errorf("mode %s step %s: unknown prompt template %q", mode, step.Name, step.PromptTemplate)
			}
		}
	}
	return nil
}

// Apply merges the override file into the app config's workflow modes.
func (wf *WorkflowFile) Apply(cfg *config.AppConfig) {
	for mode, m := range wf.Workflows {
		steps := make([]config.StepConfig, len(m.Steps))
		for i, step := range m.Steps {
			steps[i] = config.StepConfig{
				Name:                 step.Name,
				Provider:             step.Provider,
				Model:                step.Model,
				PromptTemplate:       step.PromptTemplate,
				Temperature:          step.Temperature,
				MaxTokens:            step.MaxTokens,
				TimeoutSeconds:       step.TimeoutSeconds,
				MaxAttempts:          step.MaxAttempts,
				RequiredOutputFields: step.RequiredOutputFields,
				Fatal:                step.Fatal,
			}
		}
		cfg.Workflows[mode] = config.WorkflowMode{Steps: steps}
	}
}

func workflowListCommand(args []string) error {
	var configPath, overridePath string
	fs := flag.NewFlagSet("workflow list", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	fs.StringVar(&overridePath, "override", "", "Workflow override YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if overridePath != "" {
		wf, err := LoadWorkflowFile(overridePath)
		if err != nil {
			return err
		}
		if err := wf.CheckAgainst(cfg); err != nil {
			return err
		}
		wf.Apply(cfg)
	}

	modes := make([]string, 0, len(cfg.Workflows))
	for mode := range cfg.Workflows {
		modes = append(modes, mode)
	}
	sort.Strings(modes)

	for _, mode := range modes {
		fmt.Printf("MODE: %s\n", mode)
		fmt.Println(strings.Repeat("-", 60))
		for i, step := range cfg.Workflows[mode].Steps {
			fmt.Printf("  %d. %-22s %s / %s  (template %s)\n",
				i+1, step.Name, step.Provider, step.Model, step.PromptTemplate)
		}
		fmt.Println()
	}
	return nil
}

func workflowCheckCommand(args []string) error {
	var configPath string
	fs := flag.NewFlagSet("workflow check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) == 0 {
		return fmt.Errorf("workflow file is required")
	}
	path := fs.Args()[0]

	wf, err := LoadWorkflowFile(path)
	if err != nil {
		return err
	}

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := wf.CheckAgainst(cfg); err != nil {
		return err
	}

	fmt.Printf("%s: OK (%d modes)\n", path, len(wf.Workflows))
	return nil
}
