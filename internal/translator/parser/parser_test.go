// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package parser

import (
	"testing"
)

func TestParseAllRequiredFieldsPresent(t *testing.T) {
	raw := `Here is the translation:
<initial_translation>Moonlight before my bed</initial_translation>
<translated_title>Quiet Night Thoughts</translated_title>`

	out := Parse(raw, []string{"initial_translation"})

	if out.ResultType != ResultOK {
		t.Errorf("expected ok, got %s (errors: %v)", out.ResultType, out.Errors)
	}
	if got := out.Fields["initial_translation"]; got != "Moonlight before my bed" {
		t.Errorf("unexpected field value: %q", got)
	}
	if got := out.Fields["translated_title"]; got != "Quiet Night Thoughts" {
		t.Errorf("optional field not captured: %q", got)
	}
}

func TestParseMultilineContent(t *testing.T) {
	raw := "<revised_translation>Bright moonlight before my bed,\nI wonder if it's frost on the ground.</revised_translation>"

	out := Parse(raw, []string{"revised_translation"})

	if out.ResultType != ResultOK {
		t.Fatalf("expected ok, got %s", out.ResultType)
	}
	want := "Bright moonlight before my bed,\nI wonder if it's frost on the ground."
	if out.Fields["revised_translation"] != want {
		t.Errorf("multiline content mangled: %q", out.Fields["revised_translation"])
	}
}

func TestParsePartialWhenRequiredFieldMissing(t *testing.T) {
	raw := `<translated_title>Quiet Night Thoughts</translated_title>`

	out := Parse(raw, []string{"initial_translation"})

	if out.ResultType != ResultPartial {
		t.Errorf("expected partial, got %s", out.ResultType)
	}
	if len(out.Errors) != 1 {
		t.Errorf("expected one error, got %v", out.Errors)
	}
}

func TestParseWhitespaceOnlyFieldCountsAsPresent(t *testing.T) {
	raw := `<revised_translation>   </revised_translation>`

	out := Parse(raw, []string{"revised_translation"})

	// A matched tag satisfies the requirement even when its content trims
	// to nothing; emptiness is the caller's judgement to make.
	if out.ResultType != ResultOK {
		t.Errorf("expected ok, got %s (errors: %v)", out.ResultType, out.Errors)
	}
	if out.Fields["revised_translation"] != "" {
		t.Errorf("expected trimmed empty value, got %q", out.Fields["revised_translation"])
	}
}

func TestParseFailedWhenNothingUsable(t *testing.T) {
	out := Parse("I cannot translate this poem.", []string{"initial_translation"})

	if out.ResultType != ResultFailed {
		t.Errorf("expected failed, got %s", out.ResultType)
	}
}

func TestParseMismatchedTagsIgnored(t *testing.T) {
	raw := `<initial_translation>text</translated_title>`

	out := Parse(raw, []string{"initial_translation"})
	if out.ResultType != ResultFailed {
		t.Errorf("mismatched tags should not parse, got %s", out.ResultType)
	}
}

func TestParseJSONFallback(t *testing.T) {
	raw := "```json\n{\"initial_translation\": \"Moonlight before my bed\", \"translated_title\": \"Quiet Night\",}\n```"

	out := Parse(raw, []string{"initial_translation"})

	if out.ResultType != ResultOK {
		t.Fatalf("expected ok via JSON fallback, got %s (errors: %v)", out.ResultType, out.Errors)
	}
	if out.Fields["initial_translation"] != "Moonlight before my bed" {
		t.Errorf("unexpected field value: %q", out.Fields["initial_translation"])
	}
}

func TestParseNoRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ResultType
	}{
		{"with tags", "<editor_suggestions>Good</editor_suggestions>", ResultOK},
		{"empty response", "", ResultFailed},
		{"prose only", "looks fine to me", ResultFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Parse(tt.raw, nil)
			if out.ResultType != tt.want {
				t.Errorf("got %s, want %s", out.ResultType, tt.want)
			}
		})
	}
}
