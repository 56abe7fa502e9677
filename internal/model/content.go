package model

import (
	"fmt"
	"strings"
)

// ContentType is the closed set of content kinds an item can carry.
type ContentType string

// Multi-step types go through staging, refinement and artifact generation.
const (
	TypePost    ContentType = "post"
	TypeThread  ContentType = "thread"
	TypeArticle ContentType = "article"
)

// Single-step types are approved straight to done.
const (
	TypeQuote ContentType = "quote"
	TypeNote  ContentType = "note"
	TypeTitle ContentType = "title"
)

// Class partitions content types by their lifecycle shape.
type Class int

const (
	ClassMultiStep Class = iota + 1
	ClassSingleStep
)

func (c Class) String() string {
	switch c {
	case ClassMultiStep:
		return "multi-step"
	case ClassSingleStep:
		return "single-step"
	}
	return "unknown"
}

var contentClasses = map[ContentType]Class{
	TypePost:    ClassMultiStep,
	TypeThread:  ClassMultiStep,
	TypeArticle: ClassMultiStep,
	TypeQuote:   ClassSingleStep,
	TypeNote:    ClassSingleStep,
	TypeTitle:   ClassSingleStep,
}

// ContentTypes lists every known type in display order.
func ContentTypes() []ContentType {
	return []ContentType{TypePost, TypeThread, TypeArticle, TypeQuote, TypeNote, TypeTitle}
}

// Class returns the lifecycle class of t. Unknown types return 0.
func (t ContentType) Class() Class {
	return contentClasses[t]
}

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	_, ok := contentClasses[t]
	return ok
}

// ParseContentType validates a raw type tag.
func ParseContentType(s string) (ContentType, error) {
	t := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// ItemID builds the stable identity of an item from its source and type.
func ItemID(sourceID string, t ContentType) string {
	return sourceID + ":" + string(t)
}

// SplitItemID is the inverse of ItemID. The type is the suffix after the
// last colon so source ids may contain colons themselves.
func SplitItemID(id string) (sourceID string, t ContentType, err error) {
	i := strings.LastIndex(id, ":")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("%w: malformed item id %q", ErrInvalidInput, id)
	}
	t, err = ParseContentType(id[i+1:])
	if err != nil {
		return "", "", err
	}
	return id[:i], t, nil
}
