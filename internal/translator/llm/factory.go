// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"net/http"
	"time"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
)

// Factory resolves provider names to Provider instances. Providers are
// built once from configuration; resolution is a map lookup.
type Factory struct {
	providers map[string]Provider
}

// NewFactory builds one provider per configured entry. The HTTP client is
// shared; per-attempt deadlines come from the caller's context, so the
// client itself carries only a generous safety timeout.
func NewFactory(providerConfigs map[string]config.ProviderConfig) (*Factory, error) {
	client := &http.Client{Timeout: 30 * time.Minute}

	f := &Factory{providers: make(map[string]Provider, len(providerConfigs))}
	for name, cfg := range providerConfigs {
		var adapter wireAdapter
		switch cfg.Kind {
		case "openai", "":
			adapter = &openAIAdapter{}
		case "anthropic":
			adapter = &anthropicAdapter{}
		default:
			return nil, apperr.Newf(apperr.KindUnknownProvider, "provider %q has unsupported kind %q (supported: openai, anthropic)", name, cfg.Kind)
		}
		f.providers[name] = &httpProvider{
			name:    name,
			cfg:     cfg,
			adapter: adapter,
			client:  client,
		}
	}
	return f, nil
}

// Get resolves a provider by name.
func (f *Factory) Get(name string) (Provider, error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, apperr.Newf(apperr.KindUnknownProvider, "provider %q is not registered", name)
	}
	return p, nil
}

// Register installs a provider under its name, replacing any existing
// registration. Tests use it to stub provider behavior.
func (f *Factory) Register(p Provider) {
	f.providers[p.Name()] = p
}
