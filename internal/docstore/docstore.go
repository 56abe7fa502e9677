// Package docstore persists each item's refinement history as one JSON
// document on disk. History entries are append-only; every write replaces
// the whole file atomically.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/yangwenmai/draftflow/internal/fsutil"
	"github.com/yangwenmai/draftflow/internal/keylock"
	"github.com/yangwenmai/draftflow/internal/model"
)

var (
	// ErrNotFound is returned only when no document file exists for the id.
	ErrNotFound = errors.New("document not found")
	// ErrImmutable is returned when a write would change or drop an existing
	// snapshot, judgment or edit.
	ErrImmutable = errors.New("history entry is immutable")
	// ErrRoundGap is returned when a snapshot skips a round number.
	ErrRoundGap = errors.New("snapshot round out of sequence")
	// ErrNoSnapshot is returned when a judgment or edit targets a missing round.
	ErrNoSnapshot = errors.New("round has no snapshot")
)

// Store is a directory of versioned documents.
type Store struct {
	dir   string
	locks *keylock.Map
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens the document directory, creating it if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document dir: %w", err)
	}
	s := &Store{dir: dir, locks: keylock.New(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, url.QueryEscape(id)+".json")
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// Get reads the document for id. A missing file is ErrNotFound; a file that
// exists but cannot be read or parsed is reported as a distinct error.
func (s *Store) Get(id string) (*model.VersionedDocument, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", id, err)
	}
	var doc model.VersionedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document %s: %w", id, err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return &doc, nil
}

// Put replaces the whole document. It refuses documents that rewrite or
// drop history already on disk.
func (s *Store) Put(id string, doc *model.VersionedDocument) error {
	_, err := s.Update(id, func(cur *model.VersionedDocument) error {
		*cur = *doc
		return nil
	})
	return err
}

// Update runs fn on a copy of the current document (an empty one when none
// exists) and persists the result. Calls for the same id are serialized;
// calls for different ids proceed independently.
func (s *Store) Update(id string, fn func(doc *model.VersionedDocument) error) (*model.VersionedDocument, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	old, err := s.Get(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	work := model.NewDocument(id)
	if old != nil {
		if work, err = clone(old); err != nil {
			return nil, err
		}
	}
	if err := fn(work); err != nil {
		return nil, err
	}
	work.ID = id
	if err := checkAppendOnly(old, work); err != nil {
		return nil, err
	}
	if err := s.write(id, work); err != nil {
		return nil, err
	}
	return work, nil
}

// AppendSnapshot adds the next round's snapshot.
func (s *Store) AppendSnapshot(id string, snap model.Snapshot) (*model.VersionedDocument, error) {
	return s.Update(id, func(doc *model.VersionedDocument) error {
		next := doc.NextRound()
		if snap.Round < next {
			return fmt.Errorf("%w: snapshot %d of %s already exists", ErrImmutable, snap.Round, id)
		}
		if snap.Round > next {
			return fmt.Errorf("%w: got round %d, next is %d", ErrRoundGap, snap.Round, next)
		}
		if snap.CreatedAt == "" {
			snap.CreatedAt = s.timestamp()
		}
		doc.Snapshots = append(doc.Snapshots, snap)
		return nil
	})
}

// AppendJudgment records the judgment of an existing round.
func (s *Store) AppendJudgment(id string, round int, j model.Judgment) (*model.VersionedDocument, error) {
	return s.Update(id, func(doc *model.VersionedDocument) error {
		if _, ok := doc.Snapshot(round); !ok {
			return fmt.Errorf("%w: judgment for round %d of %s", ErrNoSnapshot, round, id)
		}
		if _, ok := doc.Judgments[round]; ok {
			return fmt.Errorf("%w: judgment %d of %s already exists", ErrImmutable, round, id)
		}
		if j.JudgedAt == "" {
			j.JudgedAt = s.timestamp()
		}
		if doc.Judgments == nil {
			doc.Judgments = make(map[int]model.Judgment)
		}
		doc.Judgments[round] = j
		return nil
	})
}

// StagePristine copies the latest round's draft to edit 0 of that round if
// no edit exists yet.
func (s *Store) StagePristine(id string) (*model.VersionedDocument, error) {
	return s.Update(id, func(doc *model.VersionedDocument) error {
		s.ensurePristine(doc, doc.HighestRound())
		return nil
	})
}

// AppendEdit records a human revision of round. The first edit of a round
// is preceded by the pristine copy, and each edit points at its predecessor.
func (s *Store) AppendEdit(id string, round int, text string) (model.Edit, error) {
	var added model.Edit
	_, err := s.Update(id, func(doc *model.VersionedDocument) error {
		if _, ok := doc.Snapshot(round); !ok {
			return fmt.Errorf("%w: edit for round %d of %s", ErrNoSnapshot, round, id)
		}
		s.ensurePristine(doc, round)
		edits := doc.Edits[round]
		m := len(edits)
		added = model.Edit{
			Number:    m,
			Text:      text,
			Source:    model.EditRef(round, m-1),
			CreatedAt: s.timestamp(),
		}
		doc.Edits[round] = append(edits, added)
		return nil
	})
	return added, err
}

func (s *Store) ensurePristine(doc *model.VersionedDocument, round int) {
	snap, ok := doc.Snapshot(round)
	if !ok || len(doc.Edits[round]) > 0 {
		return
	}
	if doc.Edits == nil {
		doc.Edits = make(map[int][]model.Edit)
	}
	doc.Edits[round] = []model.Edit{{Number: 0, Text: snap.Draft, CreatedAt: s.timestamp()}}
}

// UpdateAlias points the latest alias at round, which must be the highest
// snapshot round, and rebuilds its score history.
func (s *Store) UpdateAlias(id string, round int) (*model.VersionedDocument, error) {
	return s.Update(id, func(doc *model.VersionedDocument) error {
		if top := doc.HighestRound(); round != top {
			return fmt.Errorf("alias for %s must point at round %d, not %d", id, top, round)
		}
		doc.Alias = doc.Latest()
		return nil
	})
}

func (s *Store) write(id string, doc *model.VersionedDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	if err := fsutil.WriteFileAtomic(s.path(id), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write document %s: %w", id, err)
	}
	return nil
}

func clone(doc *model.VersionedDocument) (*model.VersionedDocument, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("copy document: %w", err)
	}
	var out model.VersionedDocument
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("copy document: %w", err)
	}
	return &out, nil
}

// checkAppendOnly verifies that next keeps every entry of prev unchanged.
func checkAppendOnly(prev, next *model.VersionedDocument) error {
	if prev == nil {
		return nil
	}
	for _, snap := range prev.Snapshots {
		got, ok := next.Snapshot(snap.Round)
		if !ok || got != snap {
			return fmt.Errorf("%w: snapshot %d of %s", ErrImmutable, snap.Round, prev.ID)
		}
	}
	for round, j := range prev.Judgments {
		got, ok := next.Judgments[round]
		if !ok || !reflect.DeepEqual(got, j) {
			return fmt.Errorf("%w: judgment %d of %s", ErrImmutable, round, prev.ID)
		}
	}
	for round, edits := range prev.Edits {
		got := next.Edits[round]
		if len(got) < len(edits) {
			return fmt.Errorf("%w: edits of round %d of %s", ErrImmutable, round, prev.ID)
		}
		for i, e := range edits {
			if got[i] != e {
				return fmt.Errorf("%w: edit %s of %s", ErrImmutable, model.EditRef(round, i), prev.ID)
			}
		}
	}
	return nil
}
