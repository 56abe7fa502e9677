package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle position of an item.
type Status string

// Item status constants
const (
	StatusNew    Status = "new"
	StatusStaged Status = "staged"
	StatusReady  Status = "ready"
	StatusDone   Status = "done"
	StatusSkip   Status = "skip"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusSkip
}

// Valid reports whether s is a current status token.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusStaged, StatusReady, StatusDone, StatusSkip:
		return true
	}
	return false
}

// ParseStatus validates a current status token.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
	return st, nil
}

// VisualStatus tracks derived artifact generation for an item.
type VisualStatus string

const (
	VisualNone       VisualStatus = "none"
	VisualGenerating VisualStatus = "generating"
	VisualReady      VisualStatus = "ready"
	VisualStale      VisualStatus = "stale"
	VisualFailed     VisualStatus = "failed"
)

// Valid reports whether v is a known visual status.
func (v VisualStatus) Valid() bool {
	switch v {
	case VisualNone, VisualGenerating, VisualReady, VisualStale, VisualFailed:
		return true
	}
	return false
}

// RefineStatus tracks the background refinement round of an item.
type RefineStatus string

const (
	RefineIdle    RefineStatus = "idle"
	RefineRunning RefineStatus = "running"
	RefineFailed  RefineStatus = "failed"
)

// Facade names the query view an item is visible in.
type Facade string

const (
	FacadeNone       Facade = ""
	FacadeInbox      Facade = "inbox"
	FacadeRefinement Facade = "refinement"
)

// ContentItem is the control state of one draft.
type ContentItem struct {
	ID           string       `json:"id"`
	SourceID     string       `json:"source_id"`
	Type         ContentType  `json:"type"`
	Title        string       `json:"title"`
	Status       Status       `json:"status"`
	VisualStatus VisualStatus `json:"visual_status"`
	VisualError  *ErrorInfo   `json:"visual_error,omitempty"`
	RefineStatus RefineStatus `json:"refine_status"`
	RefineError  *ErrorInfo   `json:"refine_error,omitempty"`
	Flagged      bool         `json:"flagged"`
	// Revision counts changes to the item's text. Artifact jobs remember the
	// revision they rendered so late results can be recognised as stale.
	Revision    int       `json:"revision"`
	Artifact    *Artifact `json:"artifact,omitempty"`
	CreatedAt   string    `json:"created_at"`
	StagedAt    *string   `json:"staged_at,omitempty"`
	CompletedAt *string   `json:"completed_at,omitempty"`
	UpdatedAt   string    `json:"updated_at"`
	Version     int       `json:"version"`
}

// ItemFilter holds query parameters for listing items.
type ItemFilter struct {
	Status  []Status
	Types   []ContentType
	Flagged *bool
	Query   string
	Limit   uint64
}

// NewContentItem creates an item at status new.
func NewContentItem(sourceID string, t ContentType, title string, now time.Time) ContentItem {
	ts := now.UTC().Format(time.RFC3339)
	return ContentItem{
		ID:           ItemID(sourceID, t),
		SourceID:     sourceID,
		Type:         t,
		Title:        title,
		Status:       StatusNew,
		VisualStatus: VisualNone,
		RefineStatus: RefineIdle,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

// Facade returns the single query view the item belongs to, if any.
func (it ContentItem) Facade() Facade {
	switch it.Status {
	case StatusNew:
		return FacadeInbox
	case StatusStaged, StatusReady:
		return FacadeRefinement
	}
	return FacadeNone
}

// FacadeStatuses returns the statuses visible in a facade.
func FacadeStatuses(f Facade) []Status {
	switch f {
	case FacadeInbox:
		return []Status{StatusNew}
	case FacadeRefinement:
		return []Status{StatusStaged, StatusReady}
	}
	return nil
}
