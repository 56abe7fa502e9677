package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Prompt markers the stub client keys on.
const (
	generateMarker = "You are a content editor drafting the next revision"
	judgeMarker    = "You are a strict content judge"
	classifyMarker = "You are a visual production planner"
)

// JudgeCriteria are the scores every judgment carries.
var JudgeCriteria = []string{"hook", "clarity", "specificity", "structure", "voice"}

func buildGeneratePrompt(historyJSON, brief string) string {
	return fmt.Sprintf(`%s of a piece of social content.

Brief:
%s

Prior rounds (JSON, oldest first, each with the draft and its judgment when one exists):
%s

Rules:
- Address the lowest-scoring criteria and every listed improvement first
- Keep what the strengths call out
- Keep the content type's format (a thread uses one short paragraph per post, an article uses "## " section headings)
- Diagrams go in fenced blocks tagged diagram, one node per line

Output ONLY the new draft text, no preamble, no explanation.`, generateMarker, brief, truncateRunes(historyJSON, 24000))
}

func buildJudgePrompt(draft, brief string) string {
	return fmt.Sprintf(`%s. Score the draft below for its brief.

Brief:
%s

Output ONLY valid JSON with this exact structure (no markdown, no explanation):
{"criteria": {%s}, "improvements": [{"criterion": "hook", "suggestion": "..."}], "strengths": ["..."], "rewritten_hook": "..."}

Rules:
- Every criterion is scored 0-10, decimals allowed
- 1 to 5 improvements, each tied to one criterion and concrete enough to act on
- rewritten_hook is your best version of the opening line

Draft:
%s`, judgeMarker, brief, criteriaTemplate(), truncateRunes(draft, 12000))
}

func buildClassifyPrompt(draft string) string {
	return fmt.Sprintf(`%s. Decide whether this draft needs a visual artifact and which shape fits.

Output ONLY valid JSON with this exact structure:
{"needs_artifact": true, "shape": "carousel", "reason": "one sentence"}

Rules:
- shape: one of "none", "quote_card", "carousel", "diagram", "card"
- needs_artifact is false exactly when shape is "none"
- Prefer "diagram" when the draft contains fenced diagram blocks

Draft:
%s`, classifyMarker, truncateRunes(draft, 8000))
}

func criteriaTemplate() string {
	parts := make([]string, len(JudgeCriteria))
	for i, c := range JudgeCriteria {
		parts[i] = fmt.Sprintf("%q: 7.5", c)
	}
	return strings.Join(parts, ", ")
}

// wantsJSON reports whether prompt asks for a JSON object rather than prose.
func wantsJSON(prompt string) bool {
	return strings.HasPrefix(prompt, judgeMarker) || strings.HasPrefix(prompt, classifyMarker)
}

// temperatureFor keeps scoring and planning near-deterministic and leaves
// room for variation when drafting.
func temperatureFor(prompt string) float64 {
	if wantsJSON(prompt) {
		return 0.1
	}
	return 0.7
}

// truncateRunes truncates s to maxRunes runes (Unicode-safe).
func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "\n... [truncated]"
}

// mustJSON marshals v to a JSON string. It panics on error because callers
// only pass known struct types that are guaranteed to be serializable.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("engine: json.Marshal failed on known type: %v", err))
	}
	return string(b)
}

// extractJSON strips markdown code fences and any text around the outermost
// JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
