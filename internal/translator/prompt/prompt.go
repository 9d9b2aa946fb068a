// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt materializes system and user prompts from named templates.
// Templates use text/template {{.variable}} placeholders; later workflow
// steps reach earlier parsed outputs through step-named sub-maps in the
// variable bag (e.g. {{.initial_translation.initial_translation}}).
package prompt

import (
	"strings"
	"text/template"

	"github.com/OCboy5/vpsweb/internal/config"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
)

// Renderer resolves template names to parsed templates. Templates are parsed
// once at construction so a malformed template fails at startup, not
// mid-workflow.
type Renderer struct {
	templates map[string]*parsedTemplate
}

type parsedTemplate struct {
	system *template.Template
	user   *template.Template
}

// NewRenderer parses every configured template.
func NewRenderer(templates map[string]config.PromptTemplate) (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*parsedTemplate, len(templates))}
	for name, tpl := range templates {
		system, err := parseOne(name+".system", tpl.System)
		if err != nil {
			return nil, err
		}
		user, err := parseOne(name+".user", tpl.User)
		if err != nil {
			return nil, err
		}
		r.templates[name] = &parsedTemplate{system: system, user: user}
	}
	return r, nil
}

func parseOne(name, body string) (*template.Template, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnknownTemplate, "parse template "+name, err)
	}
	return tpl, nil
}

// Render materializes the named template pair against the variable bag.
// An unregistered name yields UnknownTemplate; a placeholder absent from
// vars yields MissingVariable. There are no silent empties.
func (r *Renderer) Render(templateName string, vars map[string]any) (system, user string, err error) {
	tpl, ok := r.templates[templateName]
	if !ok {
		return "", "", apperr.Newf(apperr.KindUnknownTemplate, "prompt template %q is not registered", templateName)
	}

	system, err = execute(tpl.system, vars)
	if err != nil {
		return "", "", err
	}
	user, err = execute(tpl.user, vars)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

// Has reports whether a template name is registered. Used to fail a task
// before its first step when the workflow config names a missing template.
func (r *Renderer) Has(templateName string) bool {
	_, ok := r.templates[templateName]
	return ok
}

func execute(tpl *template.Template, vars map[string]any) (string, error) {
	var sb strings.Builder
	if err := tpl.Execute(&sb, vars); err != nil {
		// missingkey=error surfaces as a generic exec error; every exec
		// failure here means a variable the template needed was absent or
		// of the wrong shape.
		return "", apperr.Wrap(apperr.KindMissingVariable, "render "+tpl.Name(), err)
	}
	out := sb.String()
	if strings.Contains(out, "<no value>") {
		return "", apperr.Newf(apperr.KindMissingVariable, "render %s: template produced <no value>", tpl.Name())
	}
	return out, nil
}
