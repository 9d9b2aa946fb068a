// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
)

// maxResponseSize limits the response body read to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetLLMLogger()
		log = &l
	})
	return log
}

// wireAdapter translates between the generic Request/Response and one
// provider's HTTP wire format.
type wireAdapter interface {
	// BuildURL constructs the completion endpoint from the configured base.
	BuildURL(baseURL string) string
	// SetHeaders adds authentication and version headers.
	SetHeaders(req *http.Request, apiKey string)
	// BuildRequestBody serializes the request in the provider's format.
	BuildRequestBody(req *Request) ([]byte, error)
	// ParseResponse extracts content and usage from a 200 response body.
	ParseResponse(body []byte) (content, model string, usage *wireUsage, err error)
}

// wireUsage is the token accounting a wire adapter recovered, if any.
// Nil means the provider reported nothing and totals must be estimated.
type wireUsage struct {
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      int
}

// httpProvider implements Provider over one HTTPS endpoint with one wire
// adapter. The HTTP client is shared across providers; per-call deadlines
// come from the caller's context.
type httpProvider struct {
	name    string
	cfg     config.ProviderConfig
	adapter wireAdapter
	client  *http.Client
}

func (p *httpProvider) Name() string {
	return p.name
}

// Generate performs one completion call and classifies failures into the
// retriable/fatal taxonomy.
func (p *httpProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	body, err := p.adapter.BuildRequestBody(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build request body", err)
	}

	url := p.adapter.BuildURL(p.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create HTTP request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.adapter.SetHeaders(httpReq, os.Getenv(p.cfg.APIKeyEnv))

	getLog().Debug().
		Str("provider", p.name).
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Msg("Sending LLM request")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.KindProviderTimeout, "attempt deadline exceeded", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, apperr.Wrap(apperr.KindCancelled, "request cancelled", err)
		}
		// Network errors are transient.
		return nil, apperr.Wrap(apperr.KindProviderTransport, "HTTP request failed", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderTransport, "read response body", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(httpResp.StatusCode, respBody)
	}

	content, model, usage, err := p.adapter.ParseResponse(respBody)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderTransport, "malformed provider response", err)
	}
	if model == "" {
		model = req.Model
	}

	resp := &Response{
		Content:    content,
		Model:      model,
		DurationMs: time.Since(start).Milliseconds(),
	}
	p.fillUsage(resp, req, usage)
	resp.Cost = p.cost(resp)

	getLog().Debug().
		Str("provider", p.name).
		Str("model", resp.Model).
		Int("tokens_total", resp.TokensTotal).
		Int64("duration_ms", resp.DurationMs).
		Msg("LLM response received")

	return resp, nil
}

// fillUsage copies reported usage onto the response, estimating totals with
// the tokenizer when the provider reported nothing. Component fields stay
// nil unless the provider reported both.
func (p *httpProvider) fillUsage(resp *Response, req *Request, usage *wireUsage) {
	if usage == nil {
		resp.TokensTotal = estimateRequestTokens(req) + EstimateTokens(resp.Content)
		return
	}
	if usage.PromptTokens != nil && usage.CompletionTokens != nil {
		resp.TokensPrompt = usage.PromptTokens
		resp.TokensCompletion = usage.CompletionTokens
		resp.TokensTotal = *usage.PromptTokens + *usage.CompletionTokens
		return
	}
	resp.TokensTotal = usage.TotalTokens
}

// cost prices a response from the configured per-1k rates. Without component
// counts the total is priced at the completion rate, the conservative side.
func (p *httpProvider) cost(resp *Response) float64 {
	if resp.TokensPrompt != nil && resp.TokensCompletion != nil {
		return float64(*resp.TokensPrompt)/1000*p.cfg.PromptPricePerK +
			float64(*resp.TokensCompletion)/1000*p.cfg.CompletionPricePerK
	}
	return float64(resp.TokensTotal) / 1000 * p.cfg.CompletionPricePerK
}

// classifyHTTPStatus sorts provider HTTP failures into retriable transport
// errors and fatal request errors.
func classifyHTTPStatus(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	msg := fmt.Sprintf("provider returned status %d: %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return apperr.New(apperr.KindProviderTransport, msg)
	case statusCode >= 500:
		return apperr.New(apperr.KindProviderTransport, msg)
	default:
		// Auth and validation errors will not improve on retry.
		return apperr.New(apperr.KindInternal, msg)
	}
}
