// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetTranslatorLogger returns a logger for the workflow engine
func GetTranslatorLogger() zerolog.Logger {
	return GetLogger("translator")
}

// GetDatabaseLogger returns a logger for database operations
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetLLMLogger returns a logger for LLM provider calls
func GetLLMLogger() zerolog.Logger {
	return GetLogger("llm")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetArchiveLogger returns a logger for archive file operations
func GetArchiveLogger() zerolog.Logger {
	return GetLogger("archive")
}

// GetProgressLogger returns a logger for progress event fan-out
func GetProgressLogger() zerolog.Logger {
	return GetLogger("progress")
}
