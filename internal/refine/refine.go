// Package refine runs generate → judge → improve rounds over an item's
// versioned document.
package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yangwenmai/draftflow/internal/docstore"
	"github.com/yangwenmai/draftflow/internal/model"
)

// Generator produces a new draft given every prior round and the item brief.
type Generator interface {
	Generate(ctx context.Context, priorHistoryJSON, brief string) (string, error)
}

// Judge scores a draft against the item brief.
type Judge interface {
	Judge(ctx context.Context, draft, brief string) (*model.Judgment, error)
}

// Documents is the subset of the versioned store the engine writes through.
type Documents interface {
	Get(id string) (*model.VersionedDocument, error)
	AppendSnapshot(id string, snap model.Snapshot) (*model.VersionedDocument, error)
	AppendJudgment(id string, round int, j model.Judgment) (*model.VersionedDocument, error)
	UpdateAlias(id string, round int) (*model.VersionedDocument, error)
}

// GenerationError reports a failed generation. No snapshot was written for
// Round.
type GenerationError struct {
	ItemID string
	Round  int
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate round %d of %s: %v", e.Round, e.ItemID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// StepName names the failed step for job error records.
func (e *GenerationError) StepName() string { return "generate" }

// RoundResult describes one completed round.
type RoundResult struct {
	Round    int             `json:"round"`
	Snapshot model.Snapshot  `json:"snapshot"`
	Judgment *model.Judgment `json:"judgment,omitempty"`
	// JudgeError is set when judging failed; the round still completed.
	JudgeError string `json:"judge_error,omitempty"`
}

// Engine runs refinement rounds.
type Engine struct {
	docs   Documents
	gen    Generator
	judge  Judge
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(docs Documents, gen Generator, judge Judge, opts ...Option) *Engine {
	e := &Engine{docs: docs, gen: gen, judge: judge, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunRound generates round N (one past the highest existing snapshot, 0 for
// a new document), persists it, judges it and moves the alias to it.
// A judge failure is logged and leaves the round unjudged.
func (e *Engine) RunRound(ctx context.Context, id, brief string) (*RoundResult, error) {
	doc, err := e.docs.Get(id)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		doc = model.NewDocument(id)
	case err != nil:
		return nil, err
	}

	if doc.IsLegacy() {
		if doc, err = e.upgradeLegacy(id, doc); err != nil {
			return nil, err
		}
	}

	round := doc.NextRound()
	history, err := json.Marshal(doc.PriorHistory())
	if err != nil {
		return nil, fmt.Errorf("encode history of %s: %w", id, err)
	}

	log := e.logger.With("item_id", id, "round", round)
	log.Info("generating draft")
	draft, err := e.gen.Generate(ctx, string(history), brief)
	if err == nil && strings.TrimSpace(draft) == "" {
		err = errors.New("generator returned an empty draft")
	}
	if err != nil {
		return nil, &GenerationError{ItemID: id, Round: round, Err: err}
	}

	snap := model.Snapshot{
		Round:     round,
		Draft:     draft,
		Model:     nameOf(e.gen),
		CreatedAt: e.timestamp(),
	}
	if _, err := e.docs.AppendSnapshot(id, snap); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	res := &RoundResult{Round: round, Snapshot: snap}
	j, err := e.judge.Judge(ctx, draft, brief)
	if err != nil {
		log.Warn("judge failed, round left unjudged", "error", err)
		res.JudgeError = err.Error()
	} else if j != nil {
		if j.Model == "" {
			j.Model = nameOf(e.judge)
		}
		if j.JudgedAt == "" {
			j.JudgedAt = e.timestamp()
		}
		if _, err := e.docs.AppendJudgment(id, round, *j); err != nil {
			return nil, fmt.Errorf("persist judgment: %w", err)
		}
		res.Judgment = j
	}

	if _, err := e.docs.UpdateAlias(id, round); err != nil {
		return nil, fmt.Errorf("update alias: %w", err)
	}
	log.Info("round complete", "judged", res.Judgment != nil)
	return res, nil
}

// Seed stores ingested text as round 0 without judging it. Documents that
// already have snapshots are returned unchanged.
func (e *Engine) Seed(ctx context.Context, id, draft string) (*model.VersionedDocument, error) {
	doc, err := e.docs.Get(id)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}
	if doc != nil && len(doc.Snapshots) > 0 {
		return doc, nil
	}
	if doc != nil && doc.IsLegacy() {
		return e.upgradeLegacy(id, doc)
	}
	if _, err := e.docs.AppendSnapshot(id, model.Snapshot{Round: 0, Draft: draft, Model: "ingest", CreatedAt: e.timestamp()}); err != nil {
		return nil, err
	}
	return e.docs.UpdateAlias(id, 0)
}

// upgradeLegacy rebuilds snapshot 0, and its judgment when the alias
// history scored it, from a document that only carries an alias.
func (e *Engine) upgradeLegacy(id string, doc *model.VersionedDocument) (*model.VersionedDocument, error) {
	alias := doc.Alias
	snap := alias.Snapshot
	snap.Round = 0
	snap.Synthesized = true
	if snap.CreatedAt == "" {
		snap.CreatedAt = e.timestamp()
	}
	e.logger.Info("synthesizing round 0 from legacy alias", "item_id", id)
	if _, err := e.docs.AppendSnapshot(id, snap); err != nil {
		return nil, fmt.Errorf("synthesize round 0: %w", err)
	}
	for _, h := range alias.History {
		if h.Round != 0 || len(h.Criteria) == 0 {
			continue
		}
		if _, err := e.docs.AppendJudgment(id, 0, model.Judgment{Criteria: h.Criteria, JudgedAt: snap.CreatedAt}); err != nil {
			return nil, fmt.Errorf("synthesize judgment 0: %w", err)
		}
	}
	return e.docs.UpdateAlias(id, 0)
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func nameOf(v any) string {
	if n, ok := v.(interface{ Name() string }); ok {
		return n.Name()
	}
	return ""
}

// Brief assembles the generation and judging context for an item.
func Brief(item model.ContentItem, currentText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Content type: %s\n", item.Type)
	if item.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", item.Title)
	}
	fmt.Fprintf(&b, "Source: %s\n", item.SourceID)
	if currentText != "" {
		b.WriteString("\nCurrent text:\n")
		b.WriteString(currentText)
		b.WriteString("\n")
	}
	return b.String()
}
