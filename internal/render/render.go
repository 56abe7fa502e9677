// Package render turns a draft into visual artifacts.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Shape is the kind of artifact a draft calls for.
type Shape string

const (
	ShapeNone      Shape = "none"
	ShapeQuoteCard Shape = "quote_card"
	ShapeCarousel  Shape = "carousel"
	ShapeDiagram   Shape = "diagram"
	ShapeCard      Shape = "card"
)

// ParseShape maps free text to a Shape. Unknown values become ShapeCard.
func ParseShape(s string) Shape {
	switch Shape(strings.ToLower(strings.TrimSpace(s))) {
	case ShapeNone, "":
		return ShapeNone
	case ShapeQuoteCard, "quote":
		return ShapeQuoteCard
	case ShapeCarousel, "slides":
		return ShapeCarousel
	case ShapeDiagram:
		return ShapeDiagram
	default:
		return ShapeCard
	}
}

// Classification is the decision whether a draft needs an artifact.
type Classification struct {
	NeedsArtifact bool   `json:"needs_artifact"`
	Shape         Shape  `json:"shape"`
	Reason        string `json:"reason,omitempty"`
}

// Classifier decides whether and how to visualize a draft.
type Classifier interface {
	Classify(ctx context.Context, draft string) (Classification, error)
}

// Template selects a layout.
type Template struct {
	Name  string
	Shape Shape
}

// Result is a rendered artifact on disk.
type Result struct {
	Primary    string
	Thumbnails []string
	Warnings   []string
}

// Renderer lays out a structured draft.
type Renderer interface {
	Render(ctx context.Context, s Structured, tmpl Template) (Result, error)
}

// StepError reports which artifact step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// StepName names the failed step for job error records.
func (e *StepError) StepName() string { return e.Step }

// Outcome is what artifact generation produced. Result is nil when the
// draft needs no artifact.
type Outcome struct {
	Classification Classification
	Result         *Result
}

// Producer classifies a draft and renders it when needed.
type Producer struct {
	classifier Classifier
	renderer   Renderer
	template   string
	logger     *slog.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithTemplate sets the template name passed to the renderer.
func WithTemplate(name string) ProducerOption {
	return func(p *Producer) { p.template = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProducerOption {
	return func(p *Producer) { p.logger = l }
}

// NewProducer creates a Producer.
func NewProducer(c Classifier, r Renderer, opts ...ProducerOption) *Producer {
	p := &Producer{classifier: c, renderer: r, template: "default", logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Produce runs classify then render for one item.
func (p *Producer) Produce(ctx context.Context, itemID, draft string) (Outcome, error) {
	log := p.logger.With("item_id", itemID)

	c, err := p.classifier.Classify(ctx, draft)
	if err != nil {
		return Outcome{}, &StepError{Step: "classify", Err: err}
	}
	if !c.NeedsArtifact || c.Shape == ShapeNone {
		log.Info("no artifact needed", "reason", c.Reason)
		return Outcome{Classification: Classification{Shape: ShapeNone, Reason: c.Reason}}, nil
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, &StepError{Step: "render", Err: err}
	}
	s := Structure(itemID, draft)
	res, err := p.renderer.Render(ctx, s, Template{Name: p.template, Shape: c.Shape})
	if err != nil {
		return Outcome{}, &StepError{Step: "render", Err: err}
	}
	log.Info("artifact rendered", "shape", c.Shape, "primary", res.Primary, "warnings", len(res.Warnings))
	return Outcome{Classification: c, Result: &res}, nil
}

// RuleClassifier classifies drafts from their structure alone.
type RuleClassifier struct{}

// Classify implements Classifier.
func (RuleClassifier) Classify(ctx context.Context, draft string) (Classification, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, err
	}
	s := Structure("", draft)
	bullets := 0
	for _, sec := range s.Sections {
		bullets += len(sec.Bullets)
	}
	switch {
	case len(s.Diagrams) > 0:
		return Classification{NeedsArtifact: true, Shape: ShapeDiagram, Reason: "draft contains diagrams"}, nil
	case len(s.Sections) >= 3 || bullets >= 4:
		return Classification{NeedsArtifact: true, Shape: ShapeCarousel, Reason: "multi-part structure"}, nil
	case len(s.Sections) == 0 && len([]rune(s.Hook)) <= 280 && s.Hook != "":
		return Classification{NeedsArtifact: true, Shape: ShapeQuoteCard, Reason: "short standalone statement"}, nil
	default:
		return Classification{Shape: ShapeNone, Reason: "plain prose"}, nil
	}
}
