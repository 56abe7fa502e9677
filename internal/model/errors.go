package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrPrecondition is matched by every rejected lifecycle transition.
	ErrPrecondition = errors.New("precondition failed")
	// ErrConflict is matched when an operation collides with one already in flight
	// or with a concurrent writer.
	ErrConflict = errors.New("conflict")
	// ErrUnknownType is returned for content type tags outside the closed set.
	ErrUnknownType = errors.New("unknown content type")
	// ErrInvalidInput is returned for malformed requests (empty text, bad ids).
	ErrInvalidInput = errors.New("invalid input")
)

// TransitionError describes a rejected lifecycle transition. It matches
// ErrConflict when the rejection is a double submission and ErrPrecondition
// otherwise.
type TransitionError struct {
	Action   Action
	From     Status
	Reason   string
	Conflict bool
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s from %s: %s", e.Action, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	if e.Conflict {
		return ErrConflict
	}
	return ErrPrecondition
}

// ErrorInfo holds structured failure information for a background job on an item.
type ErrorInfo struct {
	FailedStep string `json:"failed_step"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	FailedAt   string `json:"failed_at"`
}

// ToJSON serializes ErrorInfo to a JSON string.
func (e ErrorInfo) ToJSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// ParseErrorInfo decodes a stored ErrorInfo. Plain strings written by older
// versions become the message.
func ParseErrorInfo(s string) *ErrorInfo {
	if s == "" {
		return nil
	}
	var info ErrorInfo
	if err := json.Unmarshal([]byte(s), &info); err != nil {
		return &ErrorInfo{Message: s}
	}
	return &info
}
