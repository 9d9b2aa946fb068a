// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package database wraps the GORM connection used by the translation
// workflow: poem lookups on the way in, translation/ai-log/step rows on the
// way out. All persistence of a finished workflow happens through Transact
// so a run is stored atomically or not at all.
package database

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/translator/models"
)

// Repository is the slice of database operations the persistence sink
// needs. GormDB implements it directly; Transact hands the sink a view
// bound to one transaction.
type Repository interface {
	GetPoem(ctx context.Context, poemID string) (*models.Poem, error)
	CreateTranslation(ctx context.Context, translation *models.Translation) error
	CreateAiLog(ctx context.Context, log *models.AiLog) error
	CreateWorkflowStep(ctx context.Context, step *models.TranslationWorkflowStep) error
}

// GormDB wraps the GORM database connection
type GormDB struct {
	db *gorm.DB
}

// NewGormDB creates a new GORM database connection
func NewGormDB(cfg *config.DatabaseConfig) (*GormDB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.GetGormLogAdapter("database"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &GormDB{db: db}, nil
}

// AutoMigrate runs database migrations
func (db *GormDB) AutoMigrate() error {
	return db.db.AutoMigrate(
		&models.Poem{},
		&models.Translation{},
		&models.AiLog{},
		&models.TranslationWorkflowStep{},
	)
}

// ValidateSchema checks if GORM models match the database schema
func (db *GormDB) ValidateSchema() error {
	var missingTables []string
	var missingColumns []string

	if !db.db.Migrator().HasTable(&models.Poem{}) {
		missingTables = append(missingTables, "poems")
	}
	if !db.db.Migrator().HasTable(&models.Translation{}) {
		missingTables = append(missingTables, "translations")
	}
	if !db.db.Migrator().HasTable(&models.AiLog{}) {
		missingTables = append(missingTables, "ai_logs")
	}
	if !db.db.Migrator().HasTable(&models.TranslationWorkflowStep{}) {
		missingTables = append(missingTables, "translation_workflow_steps")
	}

	if len(missingTables) > 0 {
		return fmt.Errorf("missing tables: %v\n\n💡 Run 'vpsweb migrate' to create the required tables", missingTables)
	}

	poemColumns := []string{"id", "title", "poet_name", "original_text", "source_language"}
	for _, col := range poemColumns {
		if !db.db.Migrator().HasColumn(&models.Poem{}, col) {
			missingColumns = append(missingColumns, fmt.Sprintf("poems.%s", col))
		}
	}

	translationColumns := []string{
		"id", "poem_id", "source_language", "target_language", "translated_text",
		"translated_poem_title", "translated_poet_name", "translator_type", "translator_info",
	}
	for _, col := range translationColumns {
		if !db.db.Migrator().HasColumn(&models.Translation{}, col) {
			missingColumns = append(missingColumns, fmt.Sprintf("translations.%s", col))
		}
	}

	aiLogColumns := []string{
		"id", "translation_id", "model_name", "workflow_mode",
		"token_usage_json", "cost_info_json", "runtime_seconds",
	}
	for _, col := range aiLogColumns {
		if !db.db.Migrator().HasColumn(&models.AiLog{}, col) {
			missingColumns = append(missingColumns, fmt.Sprintf("ai_logs.%s", col))
		}
	}

	// workflow_id ties persisted steps back to the in-memory task that
	// produced them.
	stepColumns := []string{
		"id", "translation_id", "ai_log_id", "workflow_id", "step_type", "step_order",
		"content", "model_info_json", "tokens_used", "duration_seconds", "cost", "timestamp",
	}
	for _, col := range stepColumns {
		if !db.db.Migrator().HasColumn(&models.TranslationWorkflowStep{}, col) {
			missingColumns = append(missingColumns, fmt.Sprintf("translation_workflow_steps.%s", col))
		}
	}

	if len(missingColumns) > 0 {
		return fmt.Errorf("missing columns: %v\n\n💡 Run 'vpsweb migrate' to add the required columns", missingColumns)
	}

	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetPoem retrieves a single poem by ID. Returns nil, nil when not found so
// callers can map it to their own error vocabulary.
func (db *GormDB) GetPoem(ctx context.Context, poemID string) (*models.Poem, error) {
	return getPoem(ctx, db.db, poemID)
}

// ListPoems retrieves all poems, most recently created first
func (db *GormDB) ListPoems(ctx context.Context) ([]*models.Poem, error) {
	var poems []*models.Poem
	err := db.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&poems).Error
	if err != nil {
		return nil, err
	}
	return poems, nil
}

// CreatePoem creates a new poem
func (db *GormDB) CreatePoem(ctx context.Context, poem *models.Poem) error {
	return db.db.WithContext(ctx).Create(poem).Error
}

// CreateTranslation creates a new translation
func (db *GormDB) CreateTranslation(ctx context.Context, translation *models.Translation) error {
	return db.db.WithContext(ctx).Create(translation).Error
}

// GetTranslation retrieves a translation with its workflow steps and AI
// logs pre-loaded, steps in execution order.
func (db *GormDB) GetTranslation(ctx context.Context, translationID string) (*models.Translation, error) {
	var translation models.Translation
	err := db.db.WithContext(ctx).
		Preload("WorkflowSteps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		Preload("AiLogs").
		First(&translation, "id = ?", translationID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &translation, nil
}

// GetTranslationsByPoem retrieves all translations for a poem
func (db *GormDB) GetTranslationsByPoem(ctx context.Context, poemID string) ([]*models.Translation, error) {
	var translations []*models.Translation
	err := db.db.WithContext(ctx).
		Where("poem_id = ?", poemID).
		Order("created_at DESC").
		Find(&translations).Error
	if err != nil {
		return nil, err
	}
	return translations, nil
}

// CreateAiLog creates a new AI log entry
func (db *GormDB) CreateAiLog(ctx context.Context, log *models.AiLog) error {
	return db.db.WithContext(ctx).Create(log).Error
}

// CreateWorkflowStep creates a new workflow step row
func (db *GormDB) CreateWorkflowStep(ctx context.Context, step *models.TranslationWorkflowStep) error {
	return db.db.WithContext(ctx).Create(step).Error
}

// GetWorkflowStepsByTranslation retrieves a translation's step rows in
// execution order
func (db *GormDB) GetWorkflowStepsByTranslation(ctx context.Context, translationID string) ([]*models.TranslationWorkflowStep, error) {
	var steps []*models.TranslationWorkflowStep
	err := db.db.WithContext(ctx).
		Where("translation_id = ?", translationID).
		Order("step_order ASC").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// Transact runs fn inside a transaction. The Repository passed to fn is
// bound to that transaction; fn returning an error rolls everything back.
func (db *GormDB) Transact(ctx context.Context, fn func(repo Repository) error) error {
	return db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txRepository{tx: tx})
	})
}

// txRepository is the Repository view of one open transaction.
type txRepository struct {
	tx *gorm.DB
}

func (r *txRepository) GetPoem(ctx context.Context, poemID string) (*models.Poem, error) {
	return getPoem(ctx, r.tx, poemID)
}

func (r *txRepository) CreateTranslation(ctx context.Context, translation *models.Translation) error {
	return r.tx.WithContext(ctx).Create(translation).Error
}

func (r *txRepository) CreateAiLog(ctx context.Context, log *models.AiLog) error {
	return r.tx.WithContext(ctx).Create(log).Error
}

func (r *txRepository) CreateWorkflowStep(ctx context.Context, step *models.TranslationWorkflowStep) error {
	return r.tx.WithContext(ctx).Create(step).Error
}

func getPoem(ctx context.Context, db *gorm.DB, poemID string) (*models.Poem, error) {
	var poem models.Poem
	err := db.WithContext(ctx).First(&poem, "id = ?", poemID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &poem, nil
}
