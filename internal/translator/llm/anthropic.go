// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// anthropicVersion is the API version to use.
const anthropicVersion = "2023-06-01"

// anthropicAdapter speaks the Anthropic messages wire format.
type anthropicAdapter struct{}

// BuildURL constructs the messages endpoint.
func (a *anthropicAdapter) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return baseURL + "/v1/messages"
}

// SetHeaders adds Anthropic authentication and version headers.
func (a *anthropicAdapter) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// BuildRequestBody creates the messages request body. The system message is
// lifted out of the message list into the dedicated field.
func (a *anthropicAdapter) BuildRequestBody(req *Request) ([]byte, error) {
	var systemPrompt string
	apiMessages := make([]Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			systemPrompt = msg.Content
			continue
		}
		apiMessages = append(apiMessages, msg)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return json.Marshal(anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Messages:    apiMessages,
		System:      systemPrompt,
		Temperature: req.Temperature,
	})
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ParseResponse extracts text content and usage from a messages response.
func (a *anthropicAdapter) ParseResponse(body []byte) (string, string, *wireUsage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return "", "", nil, fmt.Errorf("anthropic response contains no text content")
	}

	var usage *wireUsage
	if resp.Usage != nil {
		prompt := resp.Usage.InputTokens
		completion := resp.Usage.OutputTokens
		usage = &wireUsage{
			PromptTokens:     &prompt,
			CompletionTokens: &completion,
			TotalTokens:      prompt + completion,
		}
	}
	return content.String(), resp.Model, usage, nil
}
