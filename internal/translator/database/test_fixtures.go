// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/translator/models"
)

// DatabaseFixture represents a database setup with cleanup
type DatabaseFixture struct {
	DB      *GormDB
	Cleanup func()
}

// UseFreshInMemoryDatabase creates an in-memory SQLite database with GORM AutoMigrate applied
func UseFreshInMemoryDatabase(t *testing.T) *DatabaseFixture {
	cfg := &config.DatabaseConfig{
		Driver:   "sqlite",
		Database: ":memory:",
	}

	db, err := NewGormDB(cfg)
	require.NoError(t, err, "Failed to create in-memory database")

	err = db.AutoMigrate()
	require.NoError(t, err, "Failed to run migrations on in-memory database")

	cleanup := func() {
		db.Close()
	}
	t.Cleanup(cleanup)

	return &DatabaseFixture{
		DB:      db,
		Cleanup: cleanup,
	}
}

// SeedPoem inserts a poem row and returns it
func SeedPoem(t *testing.T, db *GormDB, id string) *models.Poem {
	poem := &models.Poem{
		ID:             id,
		Title:          "静夜思",
		PoetName:       "李白",
		OriginalText:   "床前明月光，疑是地上霜。\n举头望明月，低头思故乡。",
		SourceLanguage: "Chinese",
	}
	require.NoError(t, db.CreatePoem(context.Background(), poem))
	return poem
}
