// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm provides the LLM provider abstraction: a narrow Generate
// contract, HTTP wire adapters for OpenAI-compatible and Anthropic
// endpoints, a name-keyed factory, and the retry policy engine that wraps
// provider calls.
package llm

import (
	"context"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Request defines one completion request to a provider.
type Request struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	// Temperature controls randomness. nil uses the provider default.
	Temperature *float64 `json:"temperature,omitempty"`
	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Response is the result of one completion call.
//
// TokensPrompt and TokensCompletion are nil when the provider reported only
// a total (or nothing, in which case TokensTotal is estimated).
type Response struct {
	Content          string  `json:"content"`
	Model            string  `json:"model"`
	TokensPrompt     *int    `json:"tokens_prompt,omitempty"`
	TokensCompletion *int    `json:"tokens_completion,omitempty"`
	TokensTotal      int     `json:"tokens_total"`
	Cost             float64 `json:"cost"`
	DurationMs       int64   `json:"duration_ms"`
}

// Provider is a single-call LLM client. Implementations are stateless with
// respect to the workflow engine; they may pool connections internally.
type Provider interface {
	// Name returns the configured provider name (registry key).
	Name() string
	// Generate performs one completion call. Transport failures, provider
	// 5xx and rate limits surface as ProviderTransportError; a deadline hit
	// surfaces as ProviderTimeout.
	Generate(ctx context.Context, req *Request) (*Response, error)
}
