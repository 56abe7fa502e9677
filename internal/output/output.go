// Package output writes finished content as markdown with YAML front matter.
package output

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yangwenmai/draftflow/internal/fsutil"
	"github.com/yangwenmai/draftflow/internal/model"
	"github.com/yangwenmai/draftflow/internal/render"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("output: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("output: malformed frontmatter")
)

// Meta is the front matter of an output copy.
type Meta struct {
	ID          string   `yaml:"id"`
	SourceID    string   `yaml:"source_id"`
	Type        string   `yaml:"type"`
	Title       string   `yaml:"title,omitempty"`
	Status      string   `yaml:"status"`
	CompletedAt string   `yaml:"completed_at,omitempty"`
	Artifact    string   `yaml:"artifact,omitempty"`
	Thumbnails  []string `yaml:"thumbnails,omitempty"`
}

// Writer copies finished items into dir.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Path returns where the copy for id is written.
func (w *Writer) Path(id string) string {
	return filepath.Join(w.dir, render.Slug(id)+".md")
}

// Write stores text for item, replacing any earlier copy.
func (w *Writer) Write(item model.ContentItem, text string) (string, error) {
	meta := Meta{
		ID:       item.ID,
		SourceID: item.SourceID,
		Type:     string(item.Type),
		Title:    item.Title,
		Status:   string(item.Status),
	}
	if item.CompletedAt != nil {
		meta.CompletedAt = *item.CompletedAt
	}
	if item.Artifact != nil {
		meta.Artifact = item.Artifact.Primary
		meta.Thumbnails = item.Artifact.Thumbnails
	}
	data, err := WriteFrontMatter(meta, []byte(text))
	if err != nil {
		return "", err
	}
	path := w.Path(item.ID)
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write output copy: %w", err)
	}
	return path, nil
}

// Read loads a copy written by Write.
func (w *Writer) Read(id string) (Meta, string, error) {
	raw, err := os.ReadFile(w.Path(id))
	if err != nil {
		return Meta{}, "", err
	}
	meta, body, err := ParseFrontMatter(raw)
	if err != nil {
		return Meta{}, "", err
	}
	return meta, string(body), nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta Meta, body []byte) ([]byte, error) {
	if meta.ID == "" {
		return nil, fmt.Errorf("output: metadata missing id")
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("output: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// ParseFrontMatter splits a document into metadata and body.
func ParseFrontMatter(content []byte) (Meta, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Meta{}, nil, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Meta{}, nil, ErrMalformedFrontMatter
	}
	var meta Meta
	if err := yaml.Unmarshal(parts[0], &meta); err != nil {
		return Meta{}, nil, fmt.Errorf("output: parse frontmatter: %w", err)
	}
	if meta.ID == "" {
		return Meta{}, nil, ErrMalformedFrontMatter
	}
	return meta, bytes.TrimPrefix(parts[1], []byte("\n")), nil
}
