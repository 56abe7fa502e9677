package engine

import "context"

// ModelClient abstracts LLM calls. Implementations can wrap OpenAI, local models, etc.
type ModelClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ContentExtractor abstracts web content extraction.
type ContentExtractor interface {
	Extract(ctx context.Context, url string) (*ExtractedContent, error)
}

// ExtractedContent holds the result of content extraction.
type ExtractedContent struct {
	Title          string      `json:"title,omitempty"`
	NormalizedText string      `json:"normalized_text"`
	Meta           ContentMeta `json:"content_meta"`
}

// ContentMeta holds metadata about the extracted content.
type ContentMeta struct {
	Author      string `json:"author,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`
	WordCount   int    `json:"word_count"`
}

// judgeResponse is the JSON shape the judge prompt asks for.
type judgeResponse struct {
	Criteria      map[string]float64 `json:"criteria"`
	Improvements  []improvement      `json:"improvements"`
	Strengths     []string           `json:"strengths"`
	RewrittenHook string             `json:"rewritten_hook"`
}

type improvement struct {
	Criterion  string `json:"criterion"`
	Suggestion string `json:"suggestion"`
}

// classifyResponse is the JSON shape the classify prompt asks for.
type classifyResponse struct {
	NeedsArtifact bool   `json:"needs_artifact"`
	Shape         string `json:"shape"`
	Reason        string `json:"reason"`
}
