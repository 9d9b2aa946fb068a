// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Translator.MaxConcurrentTasks)
	assert.Equal(t, 300, cfg.Translator.DefaultStepTimeoutSeconds)
	assert.Equal(t, 3, cfg.Translator.DefaultMaxAttempts)
	assert.Equal(t, 30, cfg.Translator.ProgressHeartbeatSeconds)
	assert.Equal(t, 24, cfg.Translator.TaskTTLHours)
	assert.Equal(t, 256, cfg.Translator.EventBufferSize)
	assert.NotEmpty(t, cfg.Translator.ArchiveDirectory)
}

func TestNewConfig_DefaultWorkflows(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)

	for _, mode := range []string{ModeReasoning, ModeNonReasoning, ModeHybrid} {
		wf, ok := cfg.Workflows[mode]
		require.True(t, ok, "mode %s missing", mode)
		require.Len(t, wf.Steps, 3)
		assert.Equal(t, StepInitialTranslation, wf.Steps[0].Name)
		assert.Equal(t, StepEditorReview, wf.Steps[1].Name)
		assert.Equal(t, StepRevisedTranslation, wf.Steps[2].Name)

		for _, step := range wf.Steps {
			_, ok := cfg.Providers[step.Provider]
			assert.True(t, ok, "mode %s step %s references unknown provider", mode, step.Name)
			_, ok = cfg.Prompts[step.PromptTemplate]
			assert.True(t, ok, "mode %s step %s references unknown template", mode, step.Name)
		}
	}
}

func TestNewConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  driver: sqlite
  database: ":memory:"
server:
  port: 9090
translator:
  max_concurrent_tasks: 5
  archive_directory: ` + dir + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Translator.MaxConcurrentTasks)
	// Unset keys keep their defaults.
	assert.Equal(t, 300, cfg.Translator.DefaultStepTimeoutSeconds)
}

func TestNewConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))

	// Environment wins over the config file for keys the file declares.
	t.Setenv("VPSWEB_SERVER_PORT", "9191")

	cfg, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestNewConfig_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0644))

	_, err := NewConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name:    "missing driver",
			mutate:  func(c *AppConfig) { c.Database.Driver = "" },
			wantErr: "database driver is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *AppConfig) { c.Log.Level = "LOUD" },
			wantErr: "invalid log level",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *AppConfig) { c.Translator.MaxConcurrentTasks = 0 },
			wantErr: "max_concurrent_tasks",
		},
		{
			name: "unknown provider in workflow",
			mutate: func(c *AppConfig) {
				wf := c.Workflows[ModeReasoning]
				wf.Steps[0].Provider = "nonexistent"
				c.Workflows[ModeReasoning] = wf
			},
			wantErr: "unknown provider",
		},
		{
			name: "unknown template in workflow",
			mutate: func(c *AppConfig) {
				wf := c.Workflows[ModeHybrid]
				wf.Steps[1].PromptTemplate = "nonexistent"
				c.Workflows[ModeHybrid] = wf
			},
			wantErr: "unknown prompt template",
		},
		{
			name: "unknown step name",
			mutate: func(c *AppConfig) {
				wf := c.Workflows[ModeNonReasoning]
				wf.Steps[2].Name = "final_polish"
				c.Workflows[ModeNonReasoning] = wf
			},
			wantErr: "unknown step name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLanguageCode(t *testing.T) {
	cfg := defaultConfig()

	code, ok := cfg.Languages.Code("Chinese")
	require.True(t, ok)
	assert.Equal(t, "zh", code)

	code, ok = cfg.Languages.Code("english")
	require.True(t, ok)
	assert.Equal(t, "en", code)

	code, ok = cfg.Languages.Code(" French ")
	require.True(t, ok)
	assert.Equal(t, "fr", code)

	// A known code passes through unchanged.
	code, ok = cfg.Languages.Code("zh")
	require.True(t, ok)
	assert.Equal(t, "zh", code)

	_, ok = cfg.Languages.Code("Klingon")
	assert.False(t, ok)
}

func TestTranslatorDurations(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, "5m0s", cfg.Translator.DefaultStepTimeout().String())
	assert.Equal(t, "30s", cfg.Translator.HeartbeatInterval().String())
	assert.Equal(t, "24h0m0s", cfg.Translator.TaskTTL().String())
}

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "sqlite file",
			cfg:  DatabaseConfig{Driver: "sqlite", Database: "test.db"},
			want: "test.db",
		},
		{
			name: "sqlite memory",
			cfg:  DatabaseConfig{Driver: "sqlite", Database: ":memory:"},
			want: "file::memory:?cache=shared",
		},
		{
			name: "postgres",
			cfg: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432,
				Username: "u", Password: "p", Database: "vpsweb", SSLMode: "disable",
			},
			want: "host=db port=5432 user=u password=p dbname=vpsweb sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.GetDSN())
		})
	}
}
