// Package migrate rewrites legacy status vocabulary before the first read.
package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/yangwenmai/draftflow/internal/fsutil"
	"github.com/yangwenmai/draftflow/internal/model"
	"github.com/yangwenmai/draftflow/internal/store"
)

// ErrUnknownStatus is returned for a token that is neither current nor legacy.
var ErrUnknownStatus = errors.New("unknown status token")

// legacyStatus maps the previous generation's tokens to current ones.
var legacyStatus = map[string]model.Status{
	"pending":      model.StatusNew,
	"approved":     model.StatusStaged,
	"visual_ready": model.StatusReady,
	"published":    model.StatusDone,
	"dismissed":    model.StatusSkip,
}

// legacyFields are timestamp keys renamed on legacy records.
var legacyFields = map[string]string{
	"published_at": "completed_at",
	"approved_at":  "staged_at",
}

// Canonicalize maps a status token to the current vocabulary. Current tokens
// are returned unchanged.
func Canonicalize(token string) (model.Status, error) {
	if st, ok := legacyStatus[token]; ok {
		return st, nil
	}
	if st := model.Status(token); st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, token)
}

// LegacyTokens lists the legacy tokens in a stable order.
func LegacyTokens() []string {
	tokens := make([]string, 0, len(legacyStatus))
	for t := range legacyStatus {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Items is the control-state access the runner needs.
type Items interface {
	store.StatusRenamer
	DistinctStatuses(ctx context.Context) ([]string, error)
	CreateItem(ctx context.Context, item model.ContentItem) error
}

// Report summarizes one run.
type Report struct {
	Renamed        map[string]int64 `json:"renamed"`
	StateFile      string           `json:"state_file,omitempty"`
	StateRecords   int              `json:"state_records"`
	StateRewritten bool             `json:"state_rewritten"`
	Imported       int              `json:"imported"`
}

// Runner migrates the control-state table and an optional legacy state file.
type Runner struct {
	items     Items
	statePath string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithStateFile sets the legacy state.json path. A missing file is skipped.
func WithStateFile(path string) Option {
	return func(r *Runner) { r.statePath = path }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(items Items, opts ...Option) *Runner {
	r := &Runner{items: items, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run migrates everything. Any error must abort startup.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	rep := Report{Renamed: map[string]int64{}}

	if r.statePath != "" {
		records, rewritten, err := MigrateStateFile(r.statePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return rep, err
		default:
			rep.StateFile = r.statePath
			rep.StateRecords = len(records)
			rep.StateRewritten = rewritten
			n, err := r.importRecords(ctx, records)
			if err != nil {
				return rep, err
			}
			rep.Imported = n
		}
	}

	for _, token := range LegacyTokens() {
		n, err := r.items.RenameStatus(ctx, token, string(legacyStatus[token]))
		if err != nil {
			return rep, fmt.Errorf("rename %s: %w", token, err)
		}
		if n > 0 {
			rep.Renamed[token] = n
		}
	}

	statuses, err := r.items.DistinctStatuses(ctx)
	if err != nil {
		return rep, err
	}
	for _, st := range statuses {
		if !model.Status(st).Valid() {
			return rep, fmt.Errorf("control state: %w: %q", ErrUnknownStatus, st)
		}
	}

	r.logger.Info("migration complete", "renamed", rep.Renamed, "state_records", rep.StateRecords,
		"state_rewritten", rep.StateRewritten, "imported", rep.Imported)
	return rep, nil
}

// Record is one item of a legacy state file after canonicalization.
type Record map[string]any

// MigrateStateFile canonicalizes a legacy state file in place. The file is
// only rewritten when its canonical form differs from what is on disk.
func MigrateStateFile(path string) (map[string]Record, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	out, records, err := CanonicalizeState(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	if bytes.Equal(out, raw) {
		return records, false, nil
	}
	if err := fsutil.WriteFileAtomic(path, out, 0o644); err != nil {
		return nil, false, fmt.Errorf("rewrite %s: %w", path, err)
	}
	return records, true, nil
}

// CanonicalizeState rewrites a legacy state document. Its items live under
// "items", keyed by item id. Output keys are sorted so the result is stable.
func CanonicalizeState(raw []byte) ([]byte, map[string]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var state map[string]any
	if err := dec.Decode(&state); err != nil {
		return nil, nil, fmt.Errorf("parse state: %w", err)
	}

	records := map[string]Record{}
	if rawItems, ok := state["items"]; ok {
		items, ok := rawItems.(map[string]any)
		if !ok {
			return nil, nil, errors.New(`state "items" is not an object`)
		}
		for id, v := range items {
			rec, ok := v.(map[string]any)
			if !ok {
				return nil, nil, fmt.Errorf("item %s is not an object", id)
			}
			if err := canonicalizeRecord(rec); err != nil {
				return nil, nil, fmt.Errorf("item %s: %w", id, err)
			}
			records[id] = rec
		}
	}

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return append(out, '\n'), records, nil
}

func canonicalizeRecord(rec map[string]any) error {
	if v, ok := rec["status"]; ok {
		token, ok := v.(string)
		if !ok {
			return fmt.Errorf("status is not a string")
		}
		st, err := Canonicalize(token)
		if err != nil {
			return err
		}
		rec["status"] = string(st)
	}
	for from, to := range legacyFields {
		v, ok := rec[from]
		if !ok {
			continue
		}
		if _, taken := rec[to]; !taken {
			rec[to] = v
		}
		delete(rec, from)
	}
	return nil
}

func (r *Runner) importRecords(ctx context.Context, records map[string]Record) (int, error) {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	imported := 0
	for _, id := range ids {
		item, err := records[id].toItem(id, r.now())
		if err != nil {
			return imported, fmt.Errorf("import %s: %w", id, err)
		}
		err = r.items.CreateItem(ctx, item)
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return imported, fmt.Errorf("import %s: %w", id, err)
		}
		imported++
	}
	return imported, nil
}

func (rec Record) str(key string) string {
	s, _ := rec[key].(string)
	return s
}

func (rec Record) strPtr(key string) *string {
	if s := rec.str(key); s != "" {
		return &s
	}
	return nil
}

func (rec Record) toItem(id string, now time.Time) (model.ContentItem, error) {
	sourceID, t, err := model.SplitItemID(id)
	if err != nil {
		return model.ContentItem{}, err
	}
	if !t.Valid() {
		return model.ContentItem{}, fmt.Errorf("%w: %q", model.ErrUnknownType, t)
	}
	item := model.NewContentItem(sourceID, t, rec.str("title"), now)
	item.Version = 1
	if st := rec.str("status"); st != "" {
		item.Status = model.Status(st)
	}
	if vs := model.VisualStatus(rec.str("visual_status")); vs.Valid() && vs != model.VisualGenerating {
		item.VisualStatus = vs
	}
	if f, ok := rec["flagged"].(bool); ok {
		item.Flagged = f
	}
	if c := rec.str("created_at"); c != "" {
		item.CreatedAt = c
		item.UpdatedAt = c
	}
	if u := rec.str("updated_at"); u != "" {
		item.UpdatedAt = u
	}
	item.StagedAt = rec.strPtr("staged_at")
	item.CompletedAt = rec.strPtr("completed_at")
	return item, nil
}
