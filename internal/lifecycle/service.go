// Package lifecycle drives content items through staging, refinement,
// artifact generation and publication.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yangwenmai/draftflow/internal/docstore"
	"github.com/yangwenmai/draftflow/internal/engine"
	"github.com/yangwenmai/draftflow/internal/keylock"
	"github.com/yangwenmai/draftflow/internal/model"
	"github.com/yangwenmai/draftflow/internal/refine"
	"github.com/yangwenmai/draftflow/internal/render"
	"github.com/yangwenmai/draftflow/internal/store"
	"github.com/yangwenmai/draftflow/internal/worker"
)

// Documents is the versioned-document access the service needs.
type Documents interface {
	Get(id string) (*model.VersionedDocument, error)
	StagePristine(id string) (*model.VersionedDocument, error)
	AppendEdit(id string, round int, text string) (model.Edit, error)
}

// Refiner runs refinement rounds.
type Refiner interface {
	RunRound(ctx context.Context, id, brief string) (*refine.RoundResult, error)
	Seed(ctx context.Context, id, draft string) (*model.VersionedDocument, error)
}

// Producer generates artifacts for a text.
type Producer interface {
	Produce(ctx context.Context, itemID, text string) (render.Outcome, error)
}

// Jobs accepts background work.
type Jobs interface {
	Submit(job worker.Job) (worker.Ticket, error)
}

// Publisher writes the output copy of a finished item.
type Publisher interface {
	Write(item model.ContentItem, text string) (string, error)
}

// Deps are the collaborators of a Service. Extractor is optional.
type Deps struct {
	Items     store.ItemRepository
	Docs      Documents
	Refiner   Refiner
	Producer  Producer
	Jobs      Jobs
	Output    Publisher
	Extractor engine.ContentExtractor
}

// Service is the guarded entry point for every item mutation.
type Service struct {
	Deps
	locks  *keylock.Map
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(deps Deps, opts ...Option) *Service {
	s := &Service{Deps: deps, locks: keylock.New(), logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestRequest is a new draft arriving from capture.
type IngestRequest struct {
	SourceID string `json:"source_id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Text     string `json:"text"`
}

// Ingest creates an item at new with its text as round 0.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*model.ContentItem, error) {
	sourceID := strings.TrimSpace(req.SourceID)
	if sourceID == "" {
		return nil, fmt.Errorf("%w: source_id is required", model.ErrInvalidInput)
	}
	t, err := model.ParseContentType(req.Type)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", model.ErrInvalidInput)
	}

	item := model.NewContentItem(sourceID, t, strings.TrimSpace(req.Title), s.now())
	item.Version = 1
	unlock := s.locks.Lock(item.ID)
	defer unlock()

	if _, err := s.Refiner.Seed(ctx, item.ID, req.Text); err != nil {
		return nil, fmt.Errorf("seed document: %w", err)
	}
	if err := s.Items.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	s.logger.Info("item ingested", "item_id", item.ID, "type", item.Type)
	return &item, nil
}

// IngestURL extracts a page and ingests it. The source id is derived from
// the URL so re-ingesting the same page is rejected as a duplicate.
func (s *Service) IngestURL(ctx context.Context, rawURL, contentType string) (*model.ContentItem, error) {
	if s.Extractor == nil {
		return nil, fmt.Errorf("%w: url ingestion is not configured", model.ErrInvalidInput)
	}
	rawURL = strings.TrimSpace(rawURL)
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("%w: url must be http or https", model.ErrInvalidInput)
	}
	if contentType == "" {
		contentType = string(model.TypeArticle)
	}
	if _, err := model.ParseContentType(contentType); err != nil {
		return nil, err
	}
	content, err := s.Extractor.Extract(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	return s.Ingest(ctx, IngestRequest{
		SourceID: "url-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL)).String(),
		Type:     contentType,
		Title:    content.Title,
		Text:     content.NormalizedText,
	})
}

// Approve moves a new item forward: multi-step types to staged with the
// pristine copy of the latest round staged for editing, single-step types
// straight to done with their output copy written.
func (s *Service) Approve(ctx context.Context, id string) (*model.ContentItem, error) {
	return s.mutate(ctx, id, model.Event{Action: model.ActionApprove}, func(next *model.ContentItem) error {
		if next.Type.Class() == model.ClassMultiStep {
			if _, err := s.Docs.StagePristine(id); err != nil {
				return fmt.Errorf("stage pristine copy: %w", err)
			}
			return nil
		}
		return s.writeOutput(*next)
	})
}

// MarkDone completes a single-step item.
func (s *Service) MarkDone(ctx context.Context, id string) (*model.ContentItem, error) {
	return s.mutate(ctx, id, model.Event{Action: model.ActionMarkDone}, func(next *model.ContentItem) error {
		return s.writeOutput(*next)
	})
}

// Publish completes a ready item and writes its output copy.
func (s *Service) Publish(ctx context.Context, id string) (*model.ContentItem, error) {
	return s.mutate(ctx, id, model.Event{Action: model.ActionPublish}, func(next *model.ContentItem) error {
		return s.writeOutput(*next)
	})
}

// Skip drops an item from every view.
func (s *Service) Skip(ctx context.Context, id string) (*model.ContentItem, error) {
	return s.mutate(ctx, id, model.Event{Action: model.ActionSkip}, nil)
}

// SetFlag sets or clears the operator flag.
func (s *Service) SetFlag(ctx context.Context, id string, flagged bool) (*model.ContentItem, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	item, err := s.Items.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Flagged == flagged {
		return item, nil
	}
	item.Flagged = flagged
	item.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.Items.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// SaveEdit records a human revision of the latest round. The item's
// revision bump, any demotion from ready and the stale marking of its
// visual are persisted in one update, before the edit is appended, so a
// rejected update leaves the text untouched. Edits are refused while a
// refinement round is running.
func (s *Service) SaveEdit(ctx context.Context, id, text string) (*model.ContentItem, *model.Edit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("%w: edit text is required", model.ErrInvalidInput)
	}
	var (
		round int
		edit  model.Edit
	)
	item, err := s.transition(ctx, id, model.Event{Action: model.ActionEdit},
		func(*model.ContentItem) error {
			doc, err := s.Docs.Get(id)
			if err != nil {
				return err
			}
			if round = doc.HighestRound(); round < 0 {
				return fmt.Errorf("%w: %s has no rounds to edit", model.ErrPrecondition, id)
			}
			return nil
		},
		func(*model.ContentItem) error {
			var err error
			if edit, err = s.Docs.AppendEdit(id, round, text); err != nil {
				return fmt.Errorf("append edit: %w", err)
			}
			return nil
		})
	if err != nil {
		return nil, nil, err
	}
	return item, &edit, nil
}

// TriggerRefinement marks refinement running and starts one round in the
// background.
func (s *Service) TriggerRefinement(ctx context.Context, id string) (*worker.Ticket, error) {
	var brief string
	item, err := s.mutate(ctx, id, model.Event{Action: model.ActionRefine}, func(next *model.ContentItem) error {
		text, err := s.currentText(id)
		if err != nil {
			return err
		}
		brief = refine.Brief(*next, text)
		return nil
	})
	if err != nil {
		return nil, err
	}

	t, err := s.Jobs.Submit(worker.Job{
		Key:  id,
		Kind: "refine",
		Run: func(ctx context.Context) error {
			_, err := s.Refiner.RunRound(ctx, id, brief)
			return err
		},
		OnDone: func(err error) {
			ev := model.Event{Action: model.ActionRefineSucceeded}
			if err != nil {
				info := worker.ErrorInfo(err, "refine")
				ev = model.Event{Action: model.ActionRefineFailed, Failure: &info}
			}
			s.complete(id, ev)
		},
	})
	if err != nil {
		s.abandon(item.ID, model.ActionRefineFailed, err)
		return nil, err
	}
	return &t, nil
}

// GenerateArtifacts marks the visual generating and renders the current
// text in the background. The result is tagged with the revision it was
// rendered from so a result for superseded text lands as stale.
func (s *Service) GenerateArtifacts(ctx context.Context, id string) (*worker.Ticket, error) {
	var (
		text     string
		revision int
	)
	item, err := s.mutate(ctx, id, model.Event{Action: model.ActionGenerate}, func(next *model.ContentItem) error {
		var err error
		text, err = s.currentText(id)
		revision = next.Revision
		return err
	})
	if err != nil {
		return nil, err
	}

	var outcome render.Outcome
	t, err := s.Jobs.Submit(worker.Job{
		Key:  id,
		Kind: "render",
		Run: func(ctx context.Context) error {
			var err error
			outcome, err = s.Producer.Produce(ctx, id, text)
			return err
		},
		OnDone: func(err error) {
			if err != nil {
				info := worker.ErrorInfo(err, "render")
				s.complete(id, model.Event{Action: model.ActionArtifactsFailed, Failure: &info})
				return
			}
			s.complete(id, model.Event{
				Action:   model.ActionArtifactsReady,
				Revision: revision,
				Artifact: s.artifactFrom(outcome, revision),
			})
		},
	})
	if err != nil {
		s.abandon(item.ID, model.ActionArtifactsFailed, err)
		return nil, err
	}
	return &t, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id string) (*model.ContentItem, error) {
	return s.Items.GetItem(ctx, id)
}

// Document returns an item's versioned document.
func (s *Service) Document(ctx context.Context, id string) (*model.VersionedDocument, error) {
	if _, err := s.Items.GetItem(ctx, id); err != nil {
		return nil, err
	}
	doc, err := s.Docs.Get(id)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.NewDocument(id), nil
	}
	return doc, err
}

// ListInbox returns items awaiting triage.
func (s *Service) ListInbox(ctx context.Context, f model.ItemFilter) ([]model.ContentItem, error) {
	return s.listFacade(ctx, model.FacadeInbox, f)
}

// ListRefinement returns items being refined.
func (s *Service) ListRefinement(ctx context.Context, f model.ItemFilter) ([]model.ContentItem, error) {
	return s.listFacade(ctx, model.FacadeRefinement, f)
}

func (s *Service) listFacade(ctx context.Context, facade model.Facade, f model.ItemFilter) ([]model.ContentItem, error) {
	allowed := model.FacadeStatuses(facade)
	if len(f.Status) == 0 {
		f.Status = allowed
	} else {
		var narrowed []model.Status
		for _, st := range f.Status {
			for _, a := range allowed {
				if st == a {
					narrowed = append(narrowed, st)
				}
			}
		}
		if len(narrowed) == 0 {
			return []model.ContentItem{}, nil
		}
		f.Status = narrowed
	}
	return s.Items.ListItems(ctx, f)
}

// Recover fails jobs left in flight by a previous process.
func (s *Service) Recover(ctx context.Context, r store.JobRecovery) (int64, error) {
	n, err := r.ResetStaleJobs(ctx, model.ErrorInfo{Message: "interrupted by restart", Retryable: true})
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	if n > 0 {
		s.logger.Warn("reset stale jobs", "count", n)
	}
	return n, nil
}

// mutate applies ev to item id under its lock. before runs after the
// transition is accepted and before it is persisted; an error from it
// aborts the write.
func (s *Service) mutate(ctx context.Context, id string, ev model.Event, before func(next *model.ContentItem) error) (*model.ContentItem, error) {
	return s.transition(ctx, id, ev, before, nil)
}

// transition is mutate with an after hook, run still under the lock once
// the new state is persisted. An error from after is returned as is; the
// persisted state stands.
func (s *Service) transition(ctx context.Context, id string, ev model.Event, before, after func(next *model.ContentItem) error) (*model.ContentItem, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	item, err := s.Items.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := model.Next(*item, ev, s.now())
	if err != nil {
		return nil, err
	}
	if before != nil {
		if err := before(&next); err != nil {
			return nil, err
		}
	}
	if err := s.Items.UpdateItem(ctx, &next); err != nil {
		return nil, err
	}
	s.logger.Info("item transitioned", "item_id", id, "action", ev.Action, "status", next.Status,
		"visual_status", next.VisualStatus, "refine_status", next.RefineStatus)
	if after != nil {
		if err := after(&next); err != nil {
			s.logger.Error("after transition", "item_id", id, "action", ev.Action, "error", err)
			return nil, err
		}
	}
	return &next, nil
}

// complete records a job outcome. It runs on the job goroutine.
func (s *Service) complete(id string, ev model.Event) {
	if _, err := s.mutate(context.Background(), id, ev, nil); err != nil {
		s.logger.Error("record job outcome", "item_id", id, "action", ev.Action, "error", err)
	}
}

// abandon clears a guard set for a job that could not be submitted.
func (s *Service) abandon(id string, action model.Action, cause error) {
	info := model.ErrorInfo{
		FailedStep: "submit",
		Message:    cause.Error(),
		Retryable:  true,
		FailedAt:   s.now().UTC().Format(time.RFC3339),
	}
	s.complete(id, model.Event{Action: action, Failure: &info})
}

func (s *Service) currentText(id string) (string, error) {
	doc, err := s.Docs.Get(id)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.CurrentText(), nil
}

func (s *Service) writeOutput(item model.ContentItem) error {
	text, err := s.currentText(item.ID)
	if err != nil {
		return err
	}
	path, err := s.Output.Write(item, text)
	if err != nil {
		return fmt.Errorf("write output copy: %w", err)
	}
	s.logger.Info("output copy written", "item_id", item.ID, "path", path)
	return nil
}

func (s *Service) artifactFrom(o render.Outcome, revision int) *model.Artifact {
	if o.Result == nil {
		return nil
	}
	return &model.Artifact{
		Shape:      string(o.Classification.Shape),
		Primary:    o.Result.Primary,
		Thumbnails: o.Result.Thumbnails,
		Warnings:   o.Result.Warnings,
		Revision:   revision,
		RenderedAt: s.now().UTC().Format(time.RFC3339),
	}
}
