package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/draftflow/internal/model"
)

func TestWriter_WriteRead(t *testing.T) {
	w := NewWriter(t.TempDir())
	item := model.NewContentItem("ep7", model.TypeQuote, "On focus", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	done := "2026-03-01T10:00:00Z"
	item.Status = model.StatusDone
	item.CompletedAt = &done

	path, err := w.Write(item, "Focus is saying no.\n")
	require.NoError(t, err)
	assert.Equal(t, w.Path(item.ID), path)

	meta, body, err := w.Read(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "ep7:quote", meta.ID)
	assert.Equal(t, "quote", meta.Type)
	assert.Equal(t, "done", meta.Status)
	assert.Equal(t, done, meta.CompletedAt)
	assert.Equal(t, "Focus is saying no.\n", body)
}

func TestWriter_Overwrites(t *testing.T) {
	w := NewWriter(t.TempDir())
	item := model.NewContentItem("ep7", model.TypeNote, "", time.Now())

	_, err := w.Write(item, "first")
	require.NoError(t, err)
	_, err = w.Write(item, "second")
	require.NoError(t, err)

	_, body, err := w.Read(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", body)
}

func TestParseFrontMatter_Errors(t *testing.T) {
	_, _, err := ParseFrontMatter([]byte("no fence"))
	assert.ErrorIs(t, err, ErrMissingFrontMatter)

	_, _, err = ParseFrontMatter([]byte("---\nid: x\n"))
	assert.ErrorIs(t, err, ErrMalformedFrontMatter)

	_, _, err = ParseFrontMatter([]byte("---\ntype: quote\n---\nbody"))
	assert.ErrorIs(t, err, ErrMalformedFrontMatter)
}

func TestWriteFrontMatter_RequiresID(t *testing.T) {
	_, err := WriteFrontMatter(Meta{}, nil)
	assert.Error(t, err)
}

func TestWriter_DistinctIDsGetDistinctFiles(t *testing.T) {
	w := NewWriter(t.TempDir())
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := model.NewContentItem("a:b", model.TypeNote, "", at)
	b := model.NewContentItem("a_b", model.TypeNote, "", at)
	require.NotEqual(t, w.Path(a.ID), w.Path(b.ID))

	_, err := w.Write(a, "from a")
	require.NoError(t, err)
	_, err = w.Write(b, "from b")
	require.NoError(t, err)

	_, body, err := w.Read(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "from a", body)
}
