// Package envelope splits a generation payload into its summary, its
// suggested next steps and the code to preview.
//
// A well-formed payload looks like:
//
//	---SUMMARY---
//	A pricing card with three tiers.
//	---SUGGESTIONS---
//	Add a dark mode | Highlight the middle tier
//	---CODE---
//	export default function Pricing() { ... }
//
// The summary and suggestion sections are optional. Anything that does not
// follow this shape is treated as code in its entirety, so an update is
// never dropped because of its framing.
package envelope

import "strings"

const (
	MarkerSummary     = "---SUMMARY---"
	MarkerSuggestions = "---SUGGESTIONS---"
	MarkerCode        = "---CODE---"

	// SuggestionSeparator separates suggestions on the suggestions line.
	SuggestionSeparator = "|"

	// GenericSummary stands in when the payload carries no summary.
	GenericSummary = "Preview updated."
)

// Payload is a parsed generation payload.
type Payload struct {
	Summary     string   `json:"summary"`
	Suggestions []string `json:"suggestions,omitempty"`
	Code        string   `json:"code"`
	// Framed is false when the payload was not marked up and Code holds it whole.
	Framed bool `json:"framed"`
}

// Parse splits payload. It never fails.
func Parse(payload string) Payload {
	whole := Payload{Summary: GenericSummary, Code: payload}

	code := strings.Index(payload, MarkerCode)
	if code < 0 || strings.Contains(payload[code+len(MarkerCode):], MarkerCode) {
		return whole
	}
	head, body := payload[:code], payload[code+len(MarkerCode):]

	summary, suggestions, ok := splitHead(head)
	if !ok {
		return whole
	}
	p := Payload{
		Summary:     strings.TrimSpace(summary),
		Suggestions: splitSuggestions(suggestions),
		Code:        strings.TrimLeft(body, "\r\n"),
		Framed:      true,
	}
	if p.Summary == "" {
		p.Summary = GenericSummary
	}
	return p
}

// splitHead separates the text before the code marker into summary and
// suggestions. Each marker may appear at most once, summary first.
func splitHead(head string) (summary, suggestions string, ok bool) {
	if strings.Count(head, MarkerSummary) > 1 || strings.Count(head, MarkerSuggestions) > 1 {
		return "", "", false
	}
	si := strings.Index(head, MarkerSummary)
	gi := strings.Index(head, MarkerSuggestions)

	switch {
	case si < 0 && gi < 0:
		// only the code marker; whatever precedes it is preamble
		return "", "", true
	case si >= 0 && gi < 0:
		return head[si+len(MarkerSummary):], "", true
	case si < 0:
		return "", head[gi+len(MarkerSuggestions):], true
	case si < gi:
		return head[si+len(MarkerSummary) : gi], head[gi+len(MarkerSuggestions):], true
	}
	return "", "", false
}

func splitSuggestions(s string) []string {
	var out []string
	for _, part := range strings.Split(s, SuggestionSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
