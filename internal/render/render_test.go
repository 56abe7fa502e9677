package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleDraft = "# Three things we learned shipping v2\n\n" +
	"Intro paragraph that sets context.\n\n" +
	"## Caching\n" +
	"- cache the hot path\n" +
	"- measure before tuning\n\n" +
	"## Rollout\n" +
	"Ship behind a flag.\n\n" +
	"```mermaid\n" +
	"graph TD\n" +
	"build\n" +
	"deploy\n" +
	"```\n"

func TestStructure(t *testing.T) {
	s := Structure("ep:post", sampleDraft)
	assert.Equal(t, "Three things we learned shipping v2", s.Hook)
	require.Len(t, s.Sections, 3)
	assert.Equal(t, "", s.Sections[0].Heading)
	assert.Equal(t, []string{"Intro paragraph that sets context."}, s.Sections[0].Paragraphs)
	assert.Equal(t, "Caching", s.Sections[1].Heading)
	assert.Equal(t, []string{"cache the hot path", "measure before tuning"}, s.Sections[1].Bullets)
	assert.Equal(t, []string{"Ship behind a flag."}, s.Sections[2].Paragraphs)
	require.Len(t, s.Diagrams, 1)
	assert.Equal(t, "mermaid", s.Diagrams[0].Kind)
	assert.Contains(t, s.Diagrams[0].Source, "deploy")
}

func TestStructure_PlainText(t *testing.T) {
	s := Structure("x", "Just one line.")
	assert.Equal(t, "Just one line.", s.Hook)
	assert.Empty(t, s.Sections)
	assert.Empty(t, s.Diagrams)
}

func TestRuleClassifier(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		draft string
		need  bool
		shape Shape
	}{
		{"diagram", sampleDraft, true, ShapeDiagram},
		{"quote", "Ship small, ship often.", true, ShapeQuoteCard},
		{"carousel", "Hook\n\n## a\nx\n\n## b\ny\n\n## c\nz", true, ShapeCarousel},
		{"prose", "Hook\n\n" + strings.Repeat("word ", 80), false, ShapeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := RuleClassifier{}.Classify(ctx, tt.draft)
			require.NoError(t, err)
			assert.Equal(t, tt.need, c.NeedsArtifact)
			assert.Equal(t, tt.shape, c.Shape)
		})
	}
}

func TestParseShape(t *testing.T) {
	assert.Equal(t, ShapeNone, ParseShape(""))
	assert.Equal(t, ShapeQuoteCard, ParseShape("Quote"))
	assert.Equal(t, ShapeCarousel, ParseShape("carousel"))
	assert.Equal(t, ShapeCard, ParseShape("poster"))
}

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

func TestHTMLRenderer_Render(t *testing.T) {
	dir := t.TempDir()
	r, err := NewHTMLRenderer(dir, WithRenderClock(fixedNow))
	require.NoError(t, err)

	s := Structure("ep:post", sampleDraft)
	res, err := r.Render(context.Background(), s, Template{Name: "default", Shape: ShapeCarousel})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Thumbnails, 1)
	assert.FileExists(t, res.Thumbnails[0])
	assert.Equal(t, filepath.Join(dir, "ep%3Apost", "index.html"), res.Primary)

	page, err := os.ReadFile(res.Primary)
	require.NoError(t, err)
	assert.Contains(t, string(page), "Three things we learned shipping v2")
	assert.Contains(t, string(page), `data-slide="1"`)
	assets, err := Assets(page)
	require.NoError(t, err)
	assert.Equal(t, []string{"diagram-0.svg"}, assets)

	raw, err := os.ReadFile(filepath.Join(dir, "ep%3Apost", "manifest.yaml"))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, yaml.Unmarshal(raw, &m))
	assert.Equal(t, "ep:post", m.ID)
	assert.Equal(t, ShapeCarousel, m.Shape)
	assert.Equal(t, "2026-03-01T09:00:00Z", m.RenderedAt)
}

type failingDiagrams struct{}

func (failingDiagrams) RenderDiagram(context.Context, Diagram, string) error {
	return errors.New("renderer crashed")
}

func TestHTMLRenderer_FailedDiagramIsPruned(t *testing.T) {
	r, err := NewHTMLRenderer(t.TempDir(), WithDiagramRenderer(failingDiagrams{}))
	require.NoError(t, err)

	res, err := r.Render(context.Background(), Structure("ep:post", sampleDraft), Template{Shape: ShapeDiagram})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "diagram 0 skipped")
	assert.Empty(t, res.Thumbnails)

	page, err := os.ReadFile(res.Primary)
	require.NoError(t, err)
	assert.NotContains(t, string(page), "data-diagram")
	assets, err := Assets(page)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

// silentDiagrams reports success without writing anything.
type silentDiagrams struct{}

func (silentDiagrams) RenderDiagram(context.Context, Diagram, string) error { return nil }

func TestHTMLRenderer_MissingAssetIsNotAThumbnail(t *testing.T) {
	r, err := NewHTMLRenderer(t.TempDir(), WithDiagramRenderer(silentDiagrams{}))
	require.NoError(t, err)

	res, err := r.Render(context.Background(), Structure("ep:post", sampleDraft), Template{Shape: ShapeDiagram})
	require.NoError(t, err)
	assert.Empty(t, res.Thumbnails)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "asset diagram-0.svg missing", res.Warnings[0])
}

func TestHTMLRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewHTMLRenderer(t.TempDir())
	require.NoError(t, err)
	_, err = r.Render(context.Background(), Structure("x", "hi"), Template{Name: "glossy"})
	assert.Error(t, err)
}

func TestSVGDiagrams_Empty(t *testing.T) {
	err := SVGDiagrams{}.RenderDiagram(context.Background(), Diagram{Source: "graph TD\n\n"}, filepath.Join(t.TempDir(), "d.svg"))
	assert.ErrorIs(t, err, ErrEmptyDiagram)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "ep7%3Apost", Slug("ep7:post"))
	assert.Equal(t, "a%2Fb+c", Slug("a/b c"))
	assert.Equal(t, "_", Slug(""))
	assert.Equal(t, "%2E%2E", Slug(".."))
	assert.NotEqual(t, Slug("a:b:post"), Slug("a_b:post"))
	assert.NotContains(t, Slug("../etc:post"), "/")
}

type stubClassifier struct {
	c   Classification
	err error
}

func (s stubClassifier) Classify(context.Context, string) (Classification, error) { return s.c, s.err }

func TestProducer_NoArtifactNeeded(t *testing.T) {
	r, err := NewHTMLRenderer(t.TempDir())
	require.NoError(t, err)
	p := NewProducer(stubClassifier{c: Classification{NeedsArtifact: false, Reason: "prose"}}, r)

	out, err := p.Produce(context.Background(), "ep:post", sampleDraft)
	require.NoError(t, err)
	assert.Nil(t, out.Result)
	assert.Equal(t, ShapeNone, out.Classification.Shape)
}

func TestProducer_ClassifyFailure(t *testing.T) {
	r, err := NewHTMLRenderer(t.TempDir())
	require.NoError(t, err)
	p := NewProducer(stubClassifier{err: errors.New("model offline")}, r)

	_, err = p.Produce(context.Background(), "ep:post", sampleDraft)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "classify", se.StepName())
}

func TestProducer_Renders(t *testing.T) {
	r, err := NewHTMLRenderer(t.TempDir())
	require.NoError(t, err)
	p := NewProducer(RuleClassifier{}, r, WithTemplate("minimal"))

	out, err := p.Produce(context.Background(), "ep:post", sampleDraft)
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, ShapeDiagram, out.Classification.Shape)
	assert.FileExists(t, out.Result.Primary)
}
