package model

import "encoding/json"

// Artifact describes the rendered visuals derived from an item's final text.
type Artifact struct {
	Shape      string   `json:"shape"`
	Primary    string   `json:"primary,omitempty"`
	Thumbnails []string `json:"thumbnails,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Revision   int      `json:"revision"`
	RenderedAt string   `json:"rendered_at"`
}

// ToJSON serializes the artifact for storage.
func (a Artifact) ToJSON() string {
	b, _ := json.Marshal(a)
	return string(b)
}

// ParseArtifact decodes a stored artifact column. Empty input yields nil.
func ParseArtifact(s string) (*Artifact, error) {
	if s == "" {
		return nil, nil
	}
	var a Artifact
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, err
	}
	return &a, nil
}
