// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenUsageScanValue(t *testing.T) {
	usage := TokenUsage{PromptTokens: 120, CompletionTokens: 80, TotalTokens: 200}

	val, err := usage.Value()
	require.NoError(t, err)

	var roundTrip TokenUsage
	require.NoError(t, roundTrip.Scan(val))
	assert.Equal(t, usage, roundTrip)
}

func TestTokenUsageScanNil(t *testing.T) {
	var usage TokenUsage
	require.NoError(t, usage.Scan(nil))
	assert.Zero(t, usage.TotalTokens)
}

func TestTokenUsageScanRejectsUnknownType(t *testing.T) {
	var usage TokenUsage
	assert.Error(t, usage.Scan(42))
}

func TestCostInfoValueDefaultsCurrency(t *testing.T) {
	info := CostInfo{TotalCost: 0.0125, ByStep: map[string]float64{"initial_translation": 0.01}}

	val, err := info.Value()
	require.NoError(t, err)

	var roundTrip CostInfo
	require.NoError(t, roundTrip.Scan(string(val.([]byte))))
	assert.Equal(t, "USD", roundTrip.Currency)
	assert.InDelta(t, 0.0125, roundTrip.TotalCost, 1e-9)
	assert.InDelta(t, 0.01, roundTrip.ByStep["initial_translation"], 1e-9)
}

func TestModelInfoColumnRoundTrip(t *testing.T) {
	info := ModelInfoColumn{Provider: "deepseek", Model: "deepseek-reasoner"}

	val, err := info.Value()
	require.NoError(t, err)

	var roundTrip ModelInfoColumn
	require.NoError(t, roundTrip.Scan(val))
	assert.Equal(t, info, roundTrip)
}

func TestTranslationBeforeCreateDefaults(t *testing.T) {
	tr := &Translation{ID: "tr1", PoemID: "p1"}
	require.NoError(t, tr.BeforeCreate(nil))
	assert.Equal(t, "ai", tr.TranslatorType)
	assert.False(t, tr.CreatedAt.IsZero())
}
