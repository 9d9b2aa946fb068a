// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogAdapter adapts zerolog to GORM's logger interface
type GormLogAdapter struct {
	logger        zerolog.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogAdapter creates a new GORM log adapter. Statement logging is
// gated at Warn so routine queries stay quiet; slow queries and failures
// still surface.
func NewGormLogAdapter(logger zerolog.Logger) gormlogger.Interface {
	return &GormLogAdapter{
		logger:        logger,
		level:         gormlogger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
}

// LogMode returns a copy of the adapter at the given level
func (g *GormLogAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

// Info logs at info level
func (g *GormLogAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Info {
		g.logger.Info().Msgf(msg, data...)
	}
}

// Warn logs at warn level
func (g *GormLogAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.logger.Warn().Msgf(msg, data...)
	}
}

// Error logs at error level
func (g *GormLogAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Error {
		g.logger.Error().Msgf(msg, data...)
	}
}

// Trace logs completed statements. Failures log at error level, slow queries
// at warn, and everything else only when the adapter is in Info mode.
// Record-not-found is an expected outcome, not an error.
func (g *GormLogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound):
		g.logger.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		g.logger.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case g.level >= gormlogger.Info:
		g.logger.Debug().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}

// GetGormLogAdapter returns a GORM logger adapter for the given package
func GetGormLogAdapter(pkg string) gormlogger.Interface {
	return NewGormLogAdapter(GetLogger(pkg))
}
