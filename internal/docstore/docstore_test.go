package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/draftflow/internal/model"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := New(dir, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	return s, dir
}

func TestGet_MissingIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get("nope:post")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_CorruptFileIsDistinctError(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path("bad:post"), []byte("{not json"), 0o644))

	_, err := s.Get("bad:post")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestAppendSnapshot_Sequential(t *testing.T) {
	s, _ := newTestStore(t)
	id := "ep1:post"

	_, err := s.AppendSnapshot(id, model.Snapshot{Round: 0, Draft: "v0"})
	require.NoError(t, err)
	doc, err := s.AppendSnapshot(id, model.Snapshot{Round: 1, Draft: "v1"})
	require.NoError(t, err)
	assert.Len(t, doc.Snapshots, 2)

	_, err = s.AppendSnapshot(id, model.Snapshot{Round: 1, Draft: "again"})
	assert.ErrorIs(t, err, ErrImmutable)

	_, err = s.AppendSnapshot(id, model.Snapshot{Round: 5, Draft: "gap"})
	assert.ErrorIs(t, err, ErrRoundGap)

	got, err := s.Get(id)
	require.NoError(t, err)
	snap, ok := got.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, "v1", snap.Draft)
	assert.Equal(t, "2026-03-01T12:00:00Z", snap.CreatedAt)
}

func TestAppendJudgment_Immutable(t *testing.T) {
	s, _ := newTestStore(t)
	id := "ep1:post"

	_, err := s.AppendJudgment(id, 0, model.Judgment{})
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = s.AppendSnapshot(id, model.Snapshot{Round: 0, Draft: "v0"})
	require.NoError(t, err)
	_, err = s.AppendJudgment(id, 0, model.Judgment{Criteria: map[string]float64{"hook": 7}})
	require.NoError(t, err)
	_, err = s.AppendJudgment(id, 0, model.Judgment{Criteria: map[string]float64{"hook": 9}})
	assert.ErrorIs(t, err, ErrImmutable)
}

func TestAppendEdit_PristineAndSource(t *testing.T) {
	s, _ := newTestStore(t)
	id := "ep1:article"
	_, err := s.AppendSnapshot(id, model.Snapshot{Round: 0, Draft: "original"})
	require.NoError(t, err)

	e1, err := s.AppendEdit(id, 0, "first edit")
	require.NoError(t, err)
	assert.Equal(t, 1, e1.Number)
	assert.Equal(t, "edit[0][0]", e1.Source)

	e2, err := s.AppendEdit(id, 0, "second edit")
	require.NoError(t, err)
	assert.Equal(t, "edit[0][1]", e2.Source)

	doc, err := s.Get(id)
	require.NoError(t, err)
	edits := doc.Edits[0]
	require.Len(t, edits, 3)
	assert.Equal(t, "original", edits[0].Text)
	assert.Empty(t, edits[0].Source)
	assert.Equal(t, "second edit", doc.CurrentText())
}

func TestStagePristine_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	id := "ep1:thread"
	_, err := s.AppendSnapshot(id, model.Snapshot{Round: 0, Draft: "d"})
	require.NoError(t, err)

	_, err = s.StagePristine(id)
	require.NoError(t, err)
	doc, err := s.StagePristine(id)
	require.NoError(t, err)
	assert.Len(t, doc.Edits[0], 1)
}

func TestUpdateAlias_MustBeHighestRound(t *testing.T) {
	s, _ := newTestStore(t)
	id := "ep1:post"
	_, err := s.AppendSnapshot(id, model.Snapshot{Round: 0, Draft: "v0"})
	require.NoError(t, err)
	_, err = s.AppendSnapshot(id, model.Snapshot{Round: 1, Draft: "v1"})
	require.NoError(t, err)

	_, err = s.UpdateAlias(id, 0)
	assert.Error(t, err)

	doc, err := s.UpdateAlias(id, 1)
	require.NoError(t, err)
	require.NotNil(t, doc.Alias)
	assert.Equal(t, 1, doc.Alias.CurrentRound)
	assert.Equal(t, "v1", doc.Alias.Draft)
}

func TestPut_RejectsHistoryRewrite(t *testing.T) {
	s, _ := newTestStore(t)
	id := "ep1:post"
	_, err := s.AppendSnapshot(id, model.Snapshot{Round: 0, Draft: "v0"})
	require.NoError(t, err)

	doc, err := s.Get(id)
	require.NoError(t, err)
	doc.Snapshots[0].Draft = "rewritten"
	assert.ErrorIs(t, s.Put(id, doc), ErrImmutable)

	doc.Snapshots = nil
	assert.ErrorIs(t, s.Put(id, doc), ErrImmutable)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "v0", got.Snapshots[0].Draft)
}

func TestUpdate_ConcurrentDifferentIDs(t *testing.T) {
	s, dir := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("ep%d:post", i)
			for r := 0; r < 5; r++ {
				_, err := s.AppendSnapshot(id, model.Snapshot{Round: r, Draft: "x"})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 8)
	for i := 0; i < 8; i++ {
		doc, err := s.Get(fmt.Sprintf("ep%d:post", i))
		require.NoError(t, err)
		assert.Len(t, doc.Snapshots, 5)
	}
}

func TestUpdate_ConcurrentSameIDNoLostAppend(t *testing.T) {
	s, _ := newTestStore(t)
	id := "ep1:post"
	_, err := s.AppendSnapshot(id, model.Snapshot{Round: 0, Draft: "v0"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendEdit(id, 0, fmt.Sprintf("edit %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	doc, err := s.Get(id)
	require.NoError(t, err)
	assert.Len(t, doc.Edits[0], 11)
}
