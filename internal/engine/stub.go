package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/yangwenmai/draftflow/internal/render"
)

// StubExtractor returns mock extraction results (for development/testing).
type StubExtractor struct{}

func (e *StubExtractor) Extract(_ context.Context, url string) (*ExtractedContent, error) {
	text := "Notes from " + url + ". Small teams ship faster when the release path is boring.\n\n" +
		"## What changed\n- one deploy command\n- flags over branches\n\n## What we measured\nLead time dropped from days to hours."
	return &ExtractedContent{
		Title:          "Stub article for " + url,
		NormalizedText: text,
		Meta: ContentMeta{
			Author:    "Stub Author",
			WordCount: len(strings.Fields(text)),
		},
	}, nil
}

// StubModelClient returns deterministic responses keyed on the prompt kind
// (for development/testing).
type StubModelClient struct{}

// Name identifies the stub in snapshots.
func (m *StubModelClient) Name() string { return "stub" }

func (m *StubModelClient) Complete(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, generateMarker):
		current := section(prompt, "Current text:\n", "\n\nPrior rounds")
		if current == "" {
			current = "A stub draft about shipping small changes often."
		}
		rounds := strings.Count(section(prompt, "Prior rounds", "\n\nRules:"), `"round"`)
		return fmt.Sprintf("%s\n\nRevision %d: tightened the opening.", current, rounds+1), nil

	case strings.Contains(prompt, judgeMarker):
		criteria := make(map[string]float64, len(JudgeCriteria))
		for i, c := range JudgeCriteria {
			criteria[c] = 6.5 + float64(i)*0.5
		}
		return mustJSON(judgeResponse{
			Criteria:      criteria,
			Improvements:  []improvement{{Criterion: "hook", Suggestion: "Open with the concrete result."}},
			Strengths:     []string{"Clear structure"},
			RewrittenHook: "Lead time went from days to hours.",
		}), nil

	case strings.Contains(prompt, classifyMarker):
		draft := prompt
		if i := strings.LastIndex(prompt, "Draft:\n"); i >= 0 {
			draft = prompt[i+len("Draft:\n"):]
		}
		c, err := render.RuleClassifier{}.Classify(ctx, draft)
		if err != nil {
			return "", err
		}
		return mustJSON(classifyResponse{NeedsArtifact: c.NeedsArtifact, Shape: string(c.Shape), Reason: c.Reason}), nil
	}
	return "stub response", nil
}

// section returns the text between start and end markers, trimmed.
func section(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]
	if j := strings.Index(s, end); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}
