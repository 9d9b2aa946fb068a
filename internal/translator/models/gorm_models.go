// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// TokenUsage is the structured token accounting stored on ai_logs.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Scan implements the sql.Scanner interface
func (u *TokenUsage) Scan(value any) error {
	if value == nil {
		*u = TokenUsage{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, u)
	case string:
		return json.Unmarshal([]byte(v), u)
	default:
		return errors.New("cannot scan TokenUsage from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (u TokenUsage) Value() (driver.Value, error) {
	return json.Marshal(u)
}

// CostInfo is the structured cost breakdown stored on ai_logs.
type CostInfo struct {
	TotalCost float64            `json:"total_cost"`
	Currency  string             `json:"currency"`
	ByStep    map[string]float64 `json:"by_step,omitempty"`
}

// Scan implements the sql.Scanner interface
func (c *CostInfo) Scan(value any) error {
	if value == nil {
		*c = CostInfo{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return errors.New("cannot scan CostInfo from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (c CostInfo) Value() (driver.Value, error) {
	if c.Currency == "" {
		c.Currency = "USD"
	}
	return json.Marshal(c)
}

// ModelInfoColumn stores a step's provider/model identity as JSON.
type ModelInfoColumn ModelInfo

// Scan implements the sql.Scanner interface
func (m *ModelInfoColumn) Scan(value any) error {
	if value == nil {
		*m = ModelInfoColumn{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("cannot scan ModelInfoColumn from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (m ModelInfoColumn) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Poem is read-only to the workflow engine; rows are seeded by the data
// management layer.
type Poem struct {
	ID             string    `gorm:"primaryKey;type:text" json:"id"`
	Title          string    `gorm:"not null;type:text" json:"title"`
	PoetName       string    `gorm:"type:text" json:"poet_name"`
	OriginalText   string    `gorm:"not null;type:text" json:"original_text"`
	SourceLanguage string    `gorm:"not null;type:text;index" json:"source_language"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Translations []Translation `gorm:"foreignKey:PoemID;constraint:OnDelete:CASCADE" json:"translations,omitempty"`
}

// TableName returns the table name for Poem
func (Poem) TableName() string {
	return "poems"
}

// Translation is the durable artifact of one completed workflow run.
type Translation struct {
	ID                  string    `gorm:"primaryKey;type:text" json:"id"`
	PoemID              string    `gorm:"not null;type:text;index" json:"poem_id"`
	SourceLanguage      string    `gorm:"not null;type:text" json:"source_language"`
	TargetLanguage      string    `gorm:"not null;type:text;index" json:"target_language"`
	TranslatedText      string    `gorm:"not null;type:text" json:"translated_text"`
	TranslatedPoemTitle string    `gorm:"type:text" json:"translated_poem_title"`
	TranslatedPoetName  string    `gorm:"type:text" json:"translated_poet_name"`
	TranslatorType      string    `gorm:"not null;type:text;default:ai" json:"translator_type"`
	TranslatorInfo      string    `gorm:"type:text" json:"translator_info"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	WorkflowSteps []TranslationWorkflowStep `gorm:"foreignKey:TranslationID;constraint:OnDelete:CASCADE" json:"workflow_steps,omitempty"`
	AiLogs        []AiLog                   `gorm:"foreignKey:TranslationID;constraint:OnDelete:CASCADE" json:"ai_logs,omitempty"`
}

// TableName returns the table name for Translation
func (Translation) TableName() string {
	return "translations"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (t *Translation) BeforeCreate(tx *gorm.DB) error {
	if t.TranslatorType == "" {
		t.TranslatorType = "ai"
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return nil
}

// AiLog aggregates model identity, token usage and cost for one workflow run.
type AiLog struct {
	ID             string     `gorm:"primaryKey;type:text" json:"id"`
	TranslationID  string     `gorm:"not null;type:text;index" json:"translation_id"`
	ModelName      string     `gorm:"not null;type:text" json:"model_name"`
	WorkflowMode   string     `gorm:"not null;type:text" json:"workflow_mode"`
	TokenUsage     TokenUsage `gorm:"type:text;column:token_usage_json" json:"token_usage"`
	CostInfo       CostInfo   `gorm:"type:text;column:cost_info_json" json:"cost_info"`
	RuntimeSeconds float64    `gorm:"type:real" json:"runtime_seconds"`
	Notes          string     `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for AiLog
func (AiLog) TableName() string {
	return "ai_logs"
}

// TranslationWorkflowStep is one persisted row per executed step, in order.
type TranslationWorkflowStep struct {
	ID               string          `gorm:"primaryKey;type:text" json:"id"`
	TranslationID    string          `gorm:"not null;type:text;index" json:"translation_id"`
	AiLogID          string          `gorm:"not null;type:text;index" json:"ai_log_id"`
	WorkflowID       string          `gorm:"type:text;index" json:"workflow_id"` // task id of the producing run
	StepType         string          `gorm:"not null;type:text" json:"step_type"`
	StepOrder        int             `gorm:"not null;type:integer" json:"step_order"` // starts at 1
	Content          string          `gorm:"type:text" json:"content"`
	Notes            string          `gorm:"type:text" json:"notes,omitempty"`
	ModelInfo        ModelInfoColumn `gorm:"type:text;column:model_info_json" json:"model_info"`
	TokensUsed       int             `gorm:"type:integer" json:"tokens_used"`
	PromptTokens     *int            `gorm:"type:integer" json:"prompt_tokens,omitempty"`
	CompletionTokens *int            `gorm:"type:integer" json:"completion_tokens,omitempty"`
	DurationSeconds  float64         `gorm:"type:real" json:"duration_seconds"`
	Cost             float64         `gorm:"type:real" json:"cost"`
	TranslatedTitle  string          `gorm:"type:text" json:"translated_title,omitempty"`
	TranslatedPoet   string          `gorm:"type:text;column:translated_poet_name" json:"translated_poet_name,omitempty"`
	Timestamp        time.Time       `gorm:"not null" json:"timestamp"`
}

// TableName returns the table name for TranslationWorkflowStep
func (TranslationWorkflowStep) TableName() string {
	return "translation_workflow_steps"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (s *TranslationWorkflowStep) BeforeCreate(tx *gorm.DB) error {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return nil
}
