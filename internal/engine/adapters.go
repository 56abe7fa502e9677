package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yangwenmai/draftflow/internal/model"
	"github.com/yangwenmai/draftflow/internal/render"
)

func clientName(c ModelClient) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", c)
}

// LLMGenerator drafts refinement rounds with a model client.
type LLMGenerator struct {
	client ModelClient
}

// NewLLMGenerator creates a generator backed by client.
func NewLLMGenerator(client ModelClient) *LLMGenerator {
	return &LLMGenerator{client: client}
}

// Name reports the backing model.
func (g *LLMGenerator) Name() string { return clientName(g.client) }

// Generate returns the next draft.
func (g *LLMGenerator) Generate(ctx context.Context, priorHistoryJSON, brief string) (string, error) {
	raw, err := g.client.Complete(ctx, buildGeneratePrompt(priorHistoryJSON, brief))
	if err != nil {
		return "", err
	}
	return stripFence(raw), nil
}

// LLMJudge scores drafts with a model client.
type LLMJudge struct {
	client ModelClient
	now    func() time.Time
}

// NewLLMJudge creates a judge backed by client.
func NewLLMJudge(client ModelClient) *LLMJudge {
	return &LLMJudge{client: client, now: time.Now}
}

// Name reports the backing model.
func (j *LLMJudge) Name() string { return clientName(j.client) }

// Judge scores draft. A response missing any criterion is rejected.
func (j *LLMJudge) Judge(ctx context.Context, draft, brief string) (*model.Judgment, error) {
	raw, err := j.client.Complete(ctx, buildJudgePrompt(draft, brief))
	if err != nil {
		return nil, err
	}
	var resp judgeResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("parse judgment: %w (raw: %s)", err, truncateRunes(raw, 200))
	}
	if len(resp.Criteria) == 0 {
		return nil, fmt.Errorf("judgment has no criteria")
	}
	for name, v := range resp.Criteria {
		if v < 0 || v > 10 {
			return nil, fmt.Errorf("criterion %s out of range: %v", name, v)
		}
	}

	out := &model.Judgment{
		Criteria:      resp.Criteria,
		Strengths:     resp.Strengths,
		RewrittenHook: resp.RewrittenHook,
		Model:         j.Name(),
		JudgedAt:      j.now().UTC().Format(time.RFC3339),
	}
	for _, imp := range resp.Improvements {
		out.Improvements = append(out.Improvements, model.Improvement{Criterion: imp.Criterion, Suggestion: imp.Suggestion})
	}
	return out, nil
}

// LLMClassifier decides artifact shape with a model client.
type LLMClassifier struct {
	client ModelClient
}

// NewLLMClassifier creates a classifier backed by client.
func NewLLMClassifier(client ModelClient) *LLMClassifier {
	return &LLMClassifier{client: client}
}

// Classify implements render.Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, draft string) (render.Classification, error) {
	raw, err := c.client.Complete(ctx, buildClassifyPrompt(draft))
	if err != nil {
		return render.Classification{}, err
	}
	var resp classifyResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return render.Classification{}, fmt.Errorf("parse classification: %w (raw: %s)", err, truncateRunes(raw, 200))
	}
	shape := render.ParseShape(resp.Shape)
	if !resp.NeedsArtifact {
		shape = render.ShapeNone
	}
	return render.Classification{
		NeedsArtifact: shape != render.ShapeNone,
		Shape:         shape,
		Reason:        resp.Reason,
	}, nil
}

// stripFence removes a single wrapping code fence some models add around
// plain text output. Inner diagram fences are left alone.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	first := strings.IndexByte(s, '\n')
	if first < 0 {
		return s
	}
	lang := strings.TrimSpace(s[3:first])
	if lang != "" && lang != "markdown" && lang != "md" && lang != "text" {
		return s
	}
	return strings.TrimSpace(strings.TrimSuffix(s[first+1:], "```"))
}
