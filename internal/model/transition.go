package model

import (
	"fmt"
	"time"
)

// Action is an operator command or job outcome applied to an item.
type Action string

const (
	ActionApprove         Action = "approve"
	ActionMarkDone        Action = "done"
	ActionRefine          Action = "refine"
	ActionRefineSucceeded Action = "refine_succeeded"
	ActionRefineFailed    Action = "refine_failed"
	ActionEdit            Action = "edit"
	ActionGenerate        Action = "generate"
	ActionArtifactsReady  Action = "artifacts_ready"
	ActionArtifactsFailed Action = "artifacts_failed"
	ActionPublish         Action = "publish"
	ActionSkip            Action = "skip"
)

// Event is one input to Next.
type Event struct {
	Action Action
	// Revision is the text revision an artifact job rendered.
	Revision int
	// Artifact is the rendered result; nil with ActionArtifactsReady means
	// the text needs no visual.
	Artifact *Artifact
	// Failure is recorded by the *Failed actions.
	Failure *ErrorInfo
}

// Next is the lifecycle transition table. It returns the item as it must be
// persisted after ev, or a *TransitionError leaving it untouched. Every
// caller that changes status, visual_status or refine_status goes through
// here.
func Next(it ContentItem, ev Event, now time.Time) (ContentItem, error) {
	ts := now.UTC().Format(time.RFC3339)
	next := it
	reject := func(reason string) (ContentItem, error) {
		return it, &TransitionError{Action: ev.Action, From: it.Status, Reason: reason}
	}
	conflict := func(reason string) (ContentItem, error) {
		return it, &TransitionError{Action: ev.Action, From: it.Status, Reason: reason, Conflict: true}
	}
	multi := it.Type.Class() == ClassMultiStep

	switch ev.Action {
	case ActionApprove:
		if it.Status != StatusNew {
			return reject("only new items can be approved")
		}
		if multi {
			next.Status = StatusStaged
			next.StagedAt = stampOnce(it.StagedAt, ts)
		} else {
			next.Status = StatusDone
			next.CompletedAt = stampOnce(it.CompletedAt, ts)
		}

	case ActionMarkDone:
		if it.Status != StatusNew {
			return reject("only new items can be marked done")
		}
		if multi {
			return reject(fmt.Sprintf("%s items must be staged before completion", it.Type))
		}
		next.Status = StatusDone
		next.CompletedAt = stampOnce(it.CompletedAt, ts)

	case ActionRefine:
		if !multi {
			return reject(fmt.Sprintf("%s items are not refined", it.Type))
		}
		if it.Status != StatusStaged {
			return reject("refinement requires a staged item")
		}
		if it.RefineStatus == RefineRunning {
			return conflict("refinement already running")
		}
		if it.VisualStatus == VisualGenerating {
			return conflict("artifact generation in progress")
		}
		next.RefineStatus = RefineRunning
		next.RefineError = nil

	case ActionRefineSucceeded:
		if it.RefineStatus != RefineRunning {
			return reject("no refinement running")
		}
		next.RefineStatus = RefineIdle
		next.RefineError = nil
		next.Revision++
		if it.VisualStatus == VisualReady {
			next.VisualStatus = VisualStale
		}

	case ActionRefineFailed:
		if it.RefineStatus != RefineRunning {
			return reject("no refinement running")
		}
		next.RefineStatus = RefineFailed
		next.RefineError = ev.Failure

	case ActionEdit:
		if !multi {
			return reject(fmt.Sprintf("%s items are not edited", it.Type))
		}
		if it.Status != StatusStaged && it.Status != StatusReady {
			return reject("edits require a staged or ready item")
		}
		if it.RefineStatus == RefineRunning {
			return conflict("refinement in progress")
		}
		next.Revision++
		if it.Status == StatusReady {
			next.Status = StatusStaged
		}
		if it.VisualStatus == VisualReady {
			next.VisualStatus = VisualStale
		}

	case ActionGenerate:
		if !multi {
			return reject(fmt.Sprintf("%s items have no artifacts", it.Type))
		}
		if it.Status != StatusStaged {
			return reject("artifact generation requires a staged item")
		}
		if it.VisualStatus == VisualGenerating {
			return conflict("artifact generation already in progress")
		}
		if it.RefineStatus == RefineRunning {
			return conflict("refinement in progress")
		}
		next.VisualStatus = VisualGenerating
		next.VisualError = nil

	case ActionArtifactsReady:
		if it.VisualStatus != VisualGenerating {
			return reject("no artifact generation in progress")
		}
		next.VisualError = nil
		next.Artifact = ev.Artifact
		switch {
		case ev.Artifact == nil:
			next.VisualStatus = VisualNone
		case ev.Revision != it.Revision:
			next.VisualStatus = VisualStale
		default:
			next.VisualStatus = VisualReady
		}
		if it.Status == StatusStaged && ev.Revision == it.Revision {
			next.Status = StatusReady
		}

	case ActionArtifactsFailed:
		if it.VisualStatus != VisualGenerating {
			return reject("no artifact generation in progress")
		}
		next.VisualStatus = VisualFailed
		next.VisualError = ev.Failure

	case ActionPublish:
		if it.Status != StatusReady {
			return reject("only ready items can be published")
		}
		next.Status = StatusDone
		next.CompletedAt = stampOnce(it.CompletedAt, ts)

	case ActionSkip:
		if it.Status.Terminal() {
			return reject("item is already " + string(it.Status))
		}
		next.Status = StatusSkip
		next.CompletedAt = stampOnce(it.CompletedAt, ts)

	default:
		return it, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, ev.Action)
	}

	next.UpdatedAt = ts
	return next, nil
}

// stampOnce keeps the first arrival timestamp.
func stampOnce(cur *string, ts string) *string {
	if cur != nil {
		return cur
	}
	return &ts
}
