package render

import (
	"regexp"
	"strings"
)

// Section is one headed block of a structured draft.
type Section struct {
	Heading    string   `json:"heading,omitempty" yaml:"heading,omitempty"`
	Paragraphs []string `json:"paragraphs,omitempty" yaml:"paragraphs,omitempty"`
	Bullets    []string `json:"bullets,omitempty" yaml:"bullets,omitempty"`
}

// Diagram is a fenced diagram block found in a draft.
type Diagram struct {
	Index  int    `json:"index" yaml:"index"`
	Kind   string `json:"kind" yaml:"kind"`
	Source string `json:"source" yaml:"source"`
}

// Structured is a draft broken into the parts templates lay out.
type Structured struct {
	ID       string    `json:"id" yaml:"id"`
	Hook     string    `json:"hook" yaml:"hook"`
	Sections []Section `json:"sections" yaml:"sections"`
	Diagrams []Diagram `json:"diagrams,omitempty" yaml:"diagrams,omitempty"`
}

var (
	headingLine = regexp.MustCompile(`^#{1,6}\s+(.*)$`)
	bulletLine  = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+(.*)$`)
	fenceLine   = regexp.MustCompile("^```\\s*([A-Za-z0-9_-]*)\\s*$")
)

// diagramKinds are the fence languages treated as diagrams.
var diagramKinds = map[string]bool{"diagram": true, "mermaid": true, "flow": true, "graphviz": true, "dot": true}

// Structure parses markdown-ish draft text. The first line of prose becomes
// the hook; headings open sections; fenced diagram blocks are collected in
// order of appearance. Other fenced blocks are kept as paragraphs.
func Structure(id, draft string) Structured {
	s := Structured{ID: id}
	var (
		cur       *Section
		para      []string
		inFence   bool
		fenceKind string
		fenceBody []string
	)
	section := func() *Section {
		if cur == nil {
			s.Sections = append(s.Sections, Section{})
			cur = &s.Sections[len(s.Sections)-1]
		}
		return cur
	}
	flush := func() {
		if len(para) == 0 {
			return
		}
		text := strings.Join(para, " ")
		para = nil
		if s.Hook == "" {
			s.Hook = text
			return
		}
		sec := section()
		sec.Paragraphs = append(sec.Paragraphs, text)
	}

	for _, raw := range strings.Split(strings.ReplaceAll(draft, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)

		if inFence {
			if strings.HasPrefix(line, "```") {
				body := strings.Join(fenceBody, "\n")
				if diagramKinds[fenceKind] {
					s.Diagrams = append(s.Diagrams, Diagram{Index: len(s.Diagrams), Kind: fenceKind, Source: body})
				} else if body != "" {
					sec := section()
					sec.Paragraphs = append(sec.Paragraphs, body)
				}
				inFence, fenceKind, fenceBody = false, "", nil
				continue
			}
			fenceBody = append(fenceBody, raw)
			continue
		}

		if m := fenceLine.FindStringSubmatch(line); m != nil {
			flush()
			inFence, fenceKind = true, strings.ToLower(m[1])
			continue
		}
		if line == "" {
			flush()
			continue
		}
		if m := headingLine.FindStringSubmatch(line); m != nil {
			flush()
			if s.Hook == "" && len(s.Sections) == 0 {
				s.Hook = m[1]
				continue
			}
			s.Sections = append(s.Sections, Section{Heading: m[1]})
			cur = &s.Sections[len(s.Sections)-1]
			continue
		}
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			flush()
			sec := section()
			sec.Bullets = append(sec.Bullets, m[1])
			continue
		}
		para = append(para, line)
	}
	flush()
	if inFence && len(fenceBody) > 0 {
		sec := section()
		sec.Paragraphs = append(sec.Paragraphs, strings.Join(fenceBody, "\n"))
	}
	return s
}
