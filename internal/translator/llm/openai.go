// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// openAIAdapter speaks the OpenAI chat-completions wire format. It also
// covers OpenAI-compatible endpoints (DeepSeek, OpenRouter, local gateways).
type openAIAdapter struct{}

// BuildURL constructs the chat completions endpoint.
func (o *openAIAdapter) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds bearer authentication.
func (o *openAIAdapter) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// BuildRequestBody creates the chat completions request body.
func (o *openAIAdapter) BuildRequestBody(req *Request) ([]byte, error) {
	return json.Marshal(openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ParseResponse extracts content and usage from a chat completions response.
func (o *openAIAdapter) ParseResponse(body []byte) (string, string, *wireUsage, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", nil, fmt.Errorf("parse openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", nil, fmt.Errorf("openai response contains no choices")
	}

	var usage *wireUsage
	if resp.Usage != nil {
		prompt := resp.Usage.PromptTokens
		completion := resp.Usage.CompletionTokens
		usage = &wireUsage{
			PromptTokens:     &prompt,
			CompletionTokens: &completion,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return resp.Choices[0].Message.Content, resp.Model, usage, nil
}
