// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package parser extracts structured fields from free-form model output.
// Providers are prompted to answer with XML-tag-delimited fields; when no
// tag matches, a JSON object embedded in the response is salvaged via
// jsonrepair before giving up.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ResultType classifies how much of the expected output was recovered.
type ResultType string

const (
	// ResultOK - every required field is present
	ResultOK ResultType = "ok"
	// ResultPartial - some required field is missing but something parsed
	ResultPartial ResultType = "partial"
	// ResultFailed - nothing usable could be extracted
	ResultFailed ResultType = "failed"
)

// ParsedOutput is the result of parsing one model response.
type ParsedOutput struct {
	ResultType ResultType        `json:"result_type"`
	Fields     map[string]string `json:"fields"`
	Errors     []string          `json:"errors,omitempty"`
}

// tagPattern matches one <name>...</name> block. Tag content may span lines.
var tagPattern = regexp.MustCompile(`(?s)<([a-zA-Z_][a-zA-Z0-9_]*)>(.*?)</([a-zA-Z_][a-zA-Z0-9_]*)>`)

// jsonObjectPattern finds a candidate JSON object for the fallback path.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Parse extracts fields from raw model output and validates them against
// requiredFields. Missing required fields are reported, never defaulted.
func Parse(raw string, requiredFields []string) ParsedOutput {
	out := ParsedOutput{Fields: make(map[string]string)}

	for _, match := range tagPattern.FindAllStringSubmatch(raw, -1) {
		open, body, close := match[1], match[2], match[3]
		if open != close {
			continue
		}
		out.Fields[open] = strings.TrimSpace(body)
	}

	// Fallback: some models answer with a JSON object despite the XML
	// instructions. Repair and flatten it before declaring failure.
	if len(out.Fields) == 0 {
		if fields, ok := salvageJSON(raw); ok {
			out.Fields = fields
		}
	}

	// A matched tag satisfies its requirement even when the content trims
	// to nothing; semantic emptiness is judged downstream against the final
	// text, not here.
	missing := 0
	for _, name := range requiredFields {
		if _, ok := out.Fields[name]; !ok {
			missing++
			out.Errors = append(out.Errors, fmt.Sprintf("required field %q missing", name))
		}
	}

	switch {
	case missing == 0 && len(requiredFields) > 0:
		out.ResultType = ResultOK
	case missing == 0:
		// No requirements: usable iff anything parsed at all.
		if len(out.Fields) > 0 {
			out.ResultType = ResultOK
		} else {
			out.ResultType = ResultFailed
			out.Errors = append(out.Errors, "no recognizable fields in response")
		}
	case len(out.Fields) > 0:
		out.ResultType = ResultPartial
	default:
		out.ResultType = ResultFailed
	}

	return out
}

// salvageJSON attempts to recover a flat string map from a JSON object
// embedded in the response.
func salvageJSON(raw string) (map[string]string, bool) {
	candidate := jsonObjectPattern.FindString(raw)
	if candidate == "" {
		return nil, false
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, false
	}

	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch tv := v.(type) {
		case string:
			fields[k] = strings.TrimSpace(tv)
		case float64, bool:
			fields[k] = fmt.Sprintf("%v", tv)
		}
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}
