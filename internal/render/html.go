package render

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"github.com/yangwenmai/draftflow/internal/fsutil"
)

// DiagramRenderer draws one diagram to path.
type DiagramRenderer interface {
	RenderDiagram(ctx context.Context, d Diagram, path string) error
}

// Manifest describes a rendered artifact directory.
type Manifest struct {
	ID         string   `yaml:"id"`
	Template   string   `yaml:"template"`
	Shape      Shape    `yaml:"shape"`
	Primary    string   `yaml:"primary"`
	Thumbnails []string `yaml:"thumbnails,omitempty"`
	Warnings   []string `yaml:"warnings,omitempty"`
	RenderedAt string   `yaml:"rendered_at"`
}

// HTMLRenderer writes an HTML page per item under dir/<slug>/.
type HTMLRenderer struct {
	dir       string
	diagrams  DiagramRenderer
	templates map[string]*template.Template
	logger    *slog.Logger
	now       func() time.Time
}

// HTMLOption configures an HTMLRenderer.
type HTMLOption func(*HTMLRenderer)

// WithDiagramRenderer replaces the SVG diagram renderer.
func WithDiagramRenderer(d DiagramRenderer) HTMLOption {
	return func(r *HTMLRenderer) { r.diagrams = d }
}

// WithHTMLLogger sets the logger.
func WithHTMLLogger(l *slog.Logger) HTMLOption {
	return func(r *HTMLRenderer) { r.logger = l }
}

// WithRenderClock overrides the time source.
func WithRenderClock(now func() time.Time) HTMLOption {
	return func(r *HTMLRenderer) { r.now = now }
}

// NewHTMLRenderer creates a renderer writing under dir.
func NewHTMLRenderer(dir string, opts ...HTMLOption) (*HTMLRenderer, error) {
	r := &HTMLRenderer{
		dir:       dir,
		diagrams:  SVGDiagrams{},
		templates: make(map[string]*template.Template, len(layouts)),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for name, src := range layouts {
		t, err := template.New(name).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = t
	}
	return r, nil
}

type pageData struct {
	Structured
	Shape  Shape
	Slides []Section
}

// Render implements Renderer. Diagrams that fail to draw are removed from
// the page and reported as warnings.
func (r *HTMLRenderer) Render(ctx context.Context, s Structured, tmpl Template) (Result, error) {
	name := tmpl.Name
	if name == "" {
		name = "default"
	}
	t, ok := r.templates[name]
	if !ok {
		return Result{}, fmt.Errorf("unknown template %q", name)
	}

	outDir := filepath.Join(r.dir, Slug(s.ID))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create artifact dir: %w", err)
	}

	var res Result
	failed := make(map[int]bool)
	for _, d := range s.Diagrams {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		path := filepath.Join(outDir, diagramFile(d.Index))
		if err := r.diagrams.RenderDiagram(ctx, d, path); err != nil {
			r.logger.Warn("diagram skipped", "item_id", s.ID, "diagram", d.Index, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("diagram %d skipped: %v", d.Index, err))
			failed[d.Index] = true
		}
	}

	data := pageData{Structured: s, Shape: tmpl.Shape}
	if tmpl.Shape == ShapeCarousel {
		data.Slides = s.Sections
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return Result{}, fmt.Errorf("execute template %s: %w", name, err)
	}

	page, err := prune(buf.Bytes(), failed)
	if err != nil {
		return Result{}, err
	}

	// Thumbnails are the images the final page references, so the list
	// never names a file the page does not show.
	srcs, err := Assets(page)
	if err != nil {
		return Result{}, fmt.Errorf("list page assets: %w", err)
	}
	for _, src := range srcs {
		path := filepath.Join(outDir, filepath.FromSlash(src))
		if _, err := os.Stat(path); err != nil {
			r.logger.Warn("asset missing", "item_id", s.ID, "src", src, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("asset %s missing", src))
			continue
		}
		res.Thumbnails = append(res.Thumbnails, path)
	}

	res.Primary = filepath.Join(outDir, "index.html")
	if err := fsutil.WriteFileAtomic(res.Primary, page, 0o644); err != nil {
		return Result{}, fmt.Errorf("write page: %w", err)
	}

	m := Manifest{
		ID:         s.ID,
		Template:   name,
		Shape:      tmpl.Shape,
		Primary:    res.Primary,
		Thumbnails: res.Thumbnails,
		Warnings:   res.Warnings,
		RenderedAt: r.now().UTC().Format(time.RFC3339),
	}
	raw, err := yaml.Marshal(m)
	if err != nil {
		return Result{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(outDir, "manifest.yaml"), raw, 0o644); err != nil {
		return Result{}, fmt.Errorf("write manifest: %w", err)
	}
	return res, nil
}

// prune drops figures for diagrams that failed to render.
func prune(page []byte, failed map[int]bool) ([]byte, error) {
	if len(failed) == 0 {
		return page, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse rendered page: %w", err)
	}
	for idx := range failed {
		doc.Find(fmt.Sprintf(`figure[data-diagram="%d"]`, idx)).Remove()
	}
	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("serialize page: %w", err)
	}
	return []byte(out), nil
}

// Assets lists the relative image sources referenced by a rendered page.
func Assets(page []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	var srcs []string
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			srcs = append(srcs, src)
		}
	})
	return srcs, nil
}

func diagramFile(idx int) string {
	return fmt.Sprintf("diagram-%d.svg", idx)
}

// Slug makes an item id safe as a file or directory name. Distinct ids
// give distinct slugs.
func Slug(id string) string {
	switch id {
	case "":
		return "_"
	case ".", "..":
		return strings.Repeat("%2E", len(id))
	}
	return url.QueryEscape(id)
}

// ErrEmptyDiagram is returned for diagram blocks with no content.
var ErrEmptyDiagram = errors.New("empty diagram source")

// SVGDiagrams draws a diagram as a vertical list of labelled boxes, one per
// non-empty source line.
type SVGDiagrams struct{}

// RenderDiagram implements DiagramRenderer.
func (SVGDiagrams) RenderDiagram(ctx context.Context, d Diagram, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var nodes []string
	for _, line := range strings.Split(d.Source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%%") || line == "graph TD" || line == "graph LR" || line == "flowchart TD" {
			continue
		}
		nodes = append(nodes, line)
	}
	if len(nodes) == 0 {
		return ErrEmptyDiagram
	}

	const boxH, gap, width = 40, 20, 480
	height := len(nodes)*(boxH+gap) + gap
	var b bytes.Buffer
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n", width, height, width, height)
	for i, n := range nodes {
		y := gap + i*(boxH+gap)
		fmt.Fprintf(&b, `<rect x="20" y="%d" width="%d" height="%d" rx="6" fill="#f4f1ea" stroke="#333"/>`+"\n", y, width-40, boxH)
		fmt.Fprintf(&b, `<text x="%d" y="%d" text-anchor="middle" font-family="sans-serif" font-size="14">`, width/2, y+boxH/2+5)
		if err := xml.EscapeText(&b, []byte(n)); err != nil {
			return err
		}
		b.WriteString("</text>\n")
	}
	b.WriteString("</svg>\n")
	return fsutil.WriteFileAtomic(path, b.Bytes(), 0o644)
}
