// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Database   DatabaseConfig            `mapstructure:"database"`
	Log        LogConfig                 `mapstructure:"log"`
	Server     ServerConfig              `mapstructure:"server"`
	Translator TranslatorConfig          `mapstructure:"translator"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Workflows  map[string]WorkflowMode   `mapstructure:"workflows"`
	Prompts    map[string]PromptTemplate `mapstructure:"prompts"`
	Languages  LanguageConfig            `mapstructure:"languages"`
	Tracing    TracingConfig             `mapstructure:"tracing"`
}

// DatabaseConfig holds all database configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Dir      string            `mapstructure:"dir"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeLevel      bool   `mapstructure:"include_level"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"`
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// ServerConfig holds HTTP server configuration. AllowedOrigins restricts
// WebSocket upgrades; an empty list permits any origin (localhost
// development mode).
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TranslatorConfig holds the workflow engine configuration.
type TranslatorConfig struct {
	MaxConcurrentTasks        int    `mapstructure:"max_concurrent_tasks"`
	DefaultStepTimeoutSeconds int    `mapstructure:"default_step_timeout_seconds"`
	DefaultMaxAttempts        int    `mapstructure:"default_max_attempts"`
	ProgressHeartbeatSeconds  int    `mapstructure:"progress_heartbeat_seconds"`
	TaskTTLHours              int    `mapstructure:"task_ttl_hours"`
	ArchiveDirectory          string `mapstructure:"archive_directory"`
	EventBufferSize           int    `mapstructure:"event_buffer_size"`
}

// DefaultStepTimeout returns the per-attempt step timeout as a duration.
func (tc *TranslatorConfig) DefaultStepTimeout() time.Duration {
	return time.Duration(tc.DefaultStepTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the progress heartbeat interval as a duration.
func (tc *TranslatorConfig) HeartbeatInterval() time.Duration {
	return time.Duration(tc.ProgressHeartbeatSeconds) * time.Second
}

// TaskTTL returns the task retention window as a duration.
func (tc *TranslatorConfig) TaskTTL() time.Duration {
	return time.Duration(tc.TaskTTLHours) * time.Hour
}

// ProviderConfig describes one LLM provider endpoint.
// APIKeyEnv names the environment variable holding the key; keys never live
// in config files.
type ProviderConfig struct {
	Kind                 string  `mapstructure:"kind"` // "openai" or "anthropic"
	BaseURL              string  `mapstructure:"base_url"`
	APIKeyEnv            string  `mapstructure:"api_key_env"`
	DefaultModel         string  `mapstructure:"default_model"`
	PromptPricePerK      float64 `mapstructure:"prompt_price_per_1k"`
	CompletionPricePerK  float64 `mapstructure:"completion_price_per_1k"`
	RequestTimeoutSecond int     `mapstructure:"request_timeout_seconds"`
}

// WorkflowMode binds the ordered translation steps to providers, models and
// prompt templates for one mode (reasoning, non_reasoning, hybrid).
type WorkflowMode struct {
	Steps []StepConfig `mapstructure:"steps"`
}

// StepConfig describes one workflow step binding.
type StepConfig struct {
	Name                 string   `mapstructure:"name"` // canonical step type
	Provider             string   `mapstructure:"provider"`
	Model                string   `mapstructure:"model"`
	PromptTemplate       string   `mapstructure:"prompt_template"`
	Temperature          *float64 `mapstructure:"temperature"`
	MaxTokens            int      `mapstructure:"max_tokens"`
	TimeoutSeconds       int      `mapstructure:"timeout_seconds"`
	MaxAttempts          int      `mapstructure:"max_attempts"`
	RequiredOutputFields []string `mapstructure:"required_output_fields"`
	Fatal                bool     `mapstructure:"fatal"`
}

// PromptTemplate holds the system and user template bodies for one step.
type PromptTemplate struct {
	System string `mapstructure:"system"`
	User   string `mapstructure:"user"`
}

// LanguageConfig carries the language-name normalization table.
// Codes maps human-readable names ("Chinese") to canonical codes ("zh").
type LanguageConfig struct {
	Codes map[string]string `mapstructure:"codes"`
}

// Code resolves a language name to its canonical code. Lookup is
// case-insensitive and a value that already is a known code passes through.
func (lc *LanguageConfig) Code(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if code, ok := lc.Codes[trimmed]; ok {
		return code, true
	}
	lower := strings.ToLower(trimmed)
	for known, code := range lc.Codes {
		if strings.ToLower(known) == lower || code == lower {
			return code, true
		}
	}
	return "", false
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Endpoint       string  `mapstructure:"endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
}

// Canonical step vocabulary. Step names, step_type columns and the default
// prompt template names all use these values.
const (
	StepInitialTranslation = "initial_translation"
	StepEditorReview       = "editor_review"
	StepRevisedTranslation = "revised_translation"
)

// Recognized workflow modes.
const (
	ModeReasoning    = "reasoning"
	ModeNonReasoning = "non_reasoning"
	ModeHybrid       = "hybrid"
)

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults. This function replaces the global Init().
func NewConfig(configPath string) (*AppConfig, error) {
	// Create a new config struct with default values
	cfg := defaultConfig()

	v := viper.New()

	// Set config file if provided, otherwise search in standard locations
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/vpsweb/")
		v.AddConfigPath("$HOME/.vpsweb")
	}

	// Configure viper to use environment variables
	v.SetEnvPrefix("VPSWEB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal the viper configuration into our config struct.
	// This will overwrite the default values with any values found in the config file or env vars.
	// We use a decoder hook to correctly handle nested structs.
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand paths that may contain ~ or environment variables
	cfg.expandPaths()

	// Validate the final configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Database: "vpsweb.db",
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Dir:    "./logs",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/vpsweb.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: true,
				},
			},
			Levels: map[string]string{
				"translator": "INFO",
				"database":   "INFO",
				"llm":        "INFO",
				"archive":    "INFO",
				"api":        "INFO",
			},
			Context: LogContextConfig{
				IncludeCaller:     true,
				IncludeTimestamp:  true,
				IncludeLevel:      true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Translator: TranslatorConfig{
			MaxConcurrentTasks:        3,
			DefaultStepTimeoutSeconds: 300,
			DefaultMaxAttempts:        3,
			ProgressHeartbeatSeconds:  30,
			TaskTTLHours:              24,
			ArchiveDirectory:          "./archives",
			EventBufferSize:           256,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Kind:                 "openai",
				BaseURL:              "https://api.openai.com/v1",
				APIKeyEnv:            "OPENAI_API_KEY",
				DefaultModel:         "gpt-4o",
				PromptPricePerK:      0.0025,
				CompletionPricePerK:  0.01,
				RequestTimeoutSecond: 300,
			},
			"deepseek": {
				Kind:                 "openai",
				BaseURL:              "https://api.deepseek.com/v1",
				APIKeyEnv:            "DEEPSEEK_API_KEY",
				DefaultModel:         "deepseek-reasoner",
				PromptPricePerK:      0.00055,
				CompletionPricePerK:  0.00219,
				RequestTimeoutSecond: 600,
			},
			"anthropic": {
				Kind:                 "anthropic",
				BaseURL:              "https://api.anthropic.com",
				APIKeyEnv:            "ANTHROPIC_API_KEY",
				DefaultModel:         "claude-sonnet-4-5",
				PromptPricePerK:      0.003,
				CompletionPricePerK:  0.015,
				RequestTimeoutSecond: 300,
			},
		},
		Workflows: map[string]WorkflowMode{
			ModeNonReasoning: {
				Steps: []StepConfig{
					{
						Name:                 StepInitialTranslation,
						Provider:             "openai",
						Model:                "gpt-4o",
						PromptTemplate:       StepInitialTranslation,
						MaxTokens:            4096,
						RequiredOutputFields: []string{"initial_translation"},
					},
					{
						Name:                 StepEditorReview,
						Provider:             "openai",
						Model:                "gpt-4o",
						PromptTemplate:       StepEditorReview,
						MaxTokens:            4096,
						RequiredOutputFields: []string{"editor_suggestions"},
					},
					{
						Name:                 StepRevisedTranslation,
						Provider:             "openai",
						Model:                "gpt-4o",
						PromptTemplate:       StepRevisedTranslation,
						MaxTokens:            4096,
						RequiredOutputFields: []string{"revised_translation"},
					},
				},
			},
			ModeReasoning: {
				Steps: []StepConfig{
					{
						Name:                 StepInitialTranslation,
						Provider:             "deepseek",
						Model:                "deepseek-reasoner",
						PromptTemplate:       StepInitialTranslation,
						MaxTokens:            8192,
						TimeoutSeconds:       600,
						RequiredOutputFields: []string{"initial_translation"},
					},
					{
						Name:                 StepEditorReview,
						Provider:             "deepseek",
						Model:                "deepseek-reasoner",
						PromptTemplate:       StepEditorReview,
						MaxTokens:            8192,
						TimeoutSeconds:       600,
						RequiredOutputFields: []string{"editor_suggestions"},
					},
					{
						Name:                 StepRevisedTranslation,
						Provider:             "deepseek",
						Model:                "deepseek-reasoner",
						PromptTemplate:       StepRevisedTranslation,
						MaxTokens:            8192,
						TimeoutSeconds:       600,
						RequiredOutputFields: []string{"revised_translation"},
					},
				},
			},
			ModeHybrid: {
				Steps: []StepConfig{
					{
						Name:                 StepInitialTranslation,
						Provider:             "deepseek",
						Model:                "deepseek-reasoner",
						PromptTemplate:       StepInitialTranslation,
						MaxTokens:            8192,
						TimeoutSeconds:       600,
						RequiredOutputFields: []string{"initial_translation"},
					},
					{
						Name:                 StepEditorReview,
						Provider:             "openai",
						Model:                "gpt-4o",
						PromptTemplate:       StepEditorReview,
						MaxTokens:            4096,
						RequiredOutputFields: []string{"editor_suggestions"},
					},
					{
						Name:                 StepRevisedTranslation,
						Provider:             "deepseek",
						Model:                "deepseek-reasoner",
						PromptTemplate:       StepRevisedTranslation,
						MaxTokens:            8192,
						TimeoutSeconds:       600,
						RequiredOutputFields: []string{"revised_translation"},
					},
				},
			},
		},
		Prompts:   defaultPrompts(),
		Languages: LanguageConfig{Codes: defaultLanguageCodes()},
		Tracing: TracingConfig{
			Enabled:        false,
			Endpoint:       "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "vpsweb",
			ServiceVersion: "0.1.0",
		},
	}
}

// defaultPrompts returns the built-in prompt templates for the canonical
// three-step workflow. Templates use {{.variable}} placeholders; later steps
// reference earlier parsed outputs through the step-named variable bag
// (e.g. {{.initial_translation.initial_translation}}).
func defaultPrompts() map[string]PromptTemplate {
	return map[string]PromptTemplate{
		StepInitialTranslation: {
			System: "You are a literary translator specializing in poetry. Translate faithfully while preserving imagery, rhythm and tone.",
			User: `Translate the following poem from {{.source_lang}} to {{.target_lang}}.

Title: {{.poem_title}}
Poet: {{.poet_name}}

{{.original_text}}

Respond with exactly these XML tags:
<initial_translation>the translated poem</initial_translation>
<translated_title>the translated title</translated_title>
<translated_poet_name>the poet's name rendered in {{.target_lang}}</translated_poet_name>`,
		},
		StepEditorReview: {
			System: "You are a senior poetry editor. Critique translations for accuracy, register and poetic quality.",
			User: `Review this {{.target_lang}} translation of a {{.source_lang}} poem.

Original:
{{.original_text}}

Translation:
{{.initial_translation.initial_translation}}

Respond with exactly this XML tag:
<editor_suggestions>your numbered suggestions</editor_suggestions>`,
		},
		StepRevisedTranslation: {
			System: "You are a literary translator revising your own work against an editor's notes.",
			User: `Revise the translation below using the editor's suggestions.

Original ({{.source_lang}}):
{{.original_text}}

Current translation:
{{.initial_translation.initial_translation}}

Editor's suggestions:
{{.editor_review.editor_suggestions}}

Respond with exactly these XML tags:
<revised_translation>the revised poem</revised_translation>
<refined_title>the final title</refined_title>
<refined_poet_name>the final poet name</refined_poet_name>`,
		},
	}
}

// defaultLanguageCodes maps the human-readable language names used in job
// inputs to canonical BCP-47-ish codes stored in the database.
func defaultLanguageCodes() map[string]string {
	return map[string]string{
		"Chinese":    "zh",
		"English":    "en",
		"French":     "fr",
		"German":     "de",
		"Italian":    "it",
		"Japanese":   "ja",
		"Korean":     "ko",
		"Portuguese": "pt",
		"Russian":    "ru",
		"Spanish":    "es",
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	if c.Translator.ArchiveDirectory != "" {
		c.Translator.ArchiveDirectory = expandPath(c.Translator.ArchiveDirectory)
	}
	for i := range c.Log.Output {
		if c.Log.Output[i].Path != "" {
			c.Log.Output[i].Path = expandPath(c.Log.Output[i].Path)
		}
	}
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	// Expand environment variables
	path = os.ExpandEnv(path)

	return path
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	if c.Database.Driver == "" {
		return errors.New("database driver is required")
	}

	validLogLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Translator.MaxConcurrentTasks <= 0 {
		return errors.New("translator.max_concurrent_tasks must be positive")
	}
	if c.Translator.ProgressHeartbeatSeconds <= 0 {
		return errors.New("translator.progress_heartbeat_seconds must be positive")
	}
	if c.Translator.ArchiveDirectory == "" {
		return errors.New("translator.archive_directory is required")
	}

	validSteps := map[string]bool{
		StepInitialTranslation: true,
		StepEditorReview:       true,
		StepRevisedTranslation: true,
	}
	for mode, wf := range c.Workflows {
		if len(wf.Steps) == 0 {
			return fmt.Errorf("workflow mode %q has no steps", mode)
		}
		for _, step := range wf.Steps {
			if !validSteps[step.Name] {
				return fmt.Errorf("workflow mode %q: unknown step name %q", mode, step.Name)
			}
			if _, ok := c.Providers[step.Provider]; !ok {
				return fmt.Errorf("workflow mode %q step %q: unknown provider %q", mode, step.Name, step.Provider)
			}
			if _, ok := c.Prompts[step.PromptTemplate]; !ok {
				return fmt.Errorf("workflow mode %q step %q: unknown prompt template %q", mode, step.Name, step.PromptTemplate)
			}
		}
	}

	return nil
}

// GetDSN returns the database connection string.
func (dc *DatabaseConfig) GetDSN() string {
	switch dc.Driver {
	case "sqlite":
		dsn := dc.Database
		if dsn == ":memory:" {
			dsn = "file::memory:?cache=shared"
		}
		return dsn
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dc.Host, dc.Port, dc.Username, dc.Password, dc.Database, dc.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			dc.Username, dc.Password, dc.Host, dc.Port, dc.Database)
	default:
		// Fallback for other drivers that might just use a connection string directly
		return dc.Database
	}
}
