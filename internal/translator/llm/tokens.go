// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text with the cl100k_base
// encoding. Used when a provider reports no usage. Falls back to a
// bytes/4 heuristic if the encoding cannot be loaded (offline first run).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			getLog().Warn().Err(err).Msg("tiktoken encoding unavailable, falling back to heuristic")
			return
		}
		encoding = enc
	})
	if encoding == nil {
		return len(text)/4 + 1
	}
	return len(encoding.Encode(text, nil, nil))
}

// estimateRequestTokens approximates the prompt-side token count of a
// request's messages.
func estimateRequestTokens(req *Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += EstimateTokens(msg.Content)
	}
	return total
}
