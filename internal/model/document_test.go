package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_LatestFollowsHighestRound(t *testing.T) {
	doc := NewDocument("s:post")
	assert.Nil(t, doc.Latest())
	assert.Equal(t, 0, doc.NextRound())

	doc.Snapshots = append(doc.Snapshots,
		Snapshot{Round: 0, Draft: "v0"},
		Snapshot{Round: 1, Draft: "v1"},
	)
	doc.Judgments = map[int]Judgment{
		0: {Criteria: map[string]float64{"hook": 4, "clarity": 6}},
	}

	latest := doc.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, 1, latest.CurrentRound)
	assert.Equal(t, "v1", latest.Draft)
	require.Len(t, latest.History, 1)
	assert.Equal(t, 0, latest.History[0].Round)
	assert.InDelta(t, 5.0, latest.History[0].Overall, 1e-9)
	assert.Equal(t, 2, doc.NextRound())
}

func TestDocument_RoundsReportUnjudged(t *testing.T) {
	doc := NewDocument("s:post")
	doc.Snapshots = []Snapshot{{Round: 0, Draft: "a"}, {Round: 1, Draft: "b"}}
	doc.Judgments = map[int]Judgment{1: {Criteria: map[string]float64{"hook": 8}}}

	rounds := doc.Rounds()
	require.Len(t, rounds, 2)
	assert.False(t, rounds[0].Judged)
	assert.Nil(t, rounds[0].Overall)
	assert.True(t, rounds[1].Judged)
	assert.InDelta(t, 8.0, *rounds[1].Overall, 1e-9)
}

func TestDocument_CurrentTextPrefersNewestEdit(t *testing.T) {
	doc := NewDocument("s:post")
	doc.Snapshots = []Snapshot{{Round: 0, Draft: "draft"}}
	assert.Equal(t, "draft", doc.CurrentText())

	doc.Edits = map[int][]Edit{0: {{Number: 0, Text: "draft"}, {Number: 1, Text: "edited", Source: EditRef(0, 0)}}}
	assert.Equal(t, "edited", doc.CurrentText())
}

func TestDocument_LegacyAliasOnly(t *testing.T) {
	doc := &VersionedDocument{ID: "s:post", Alias: &Alias{Snapshot: Snapshot{Draft: "old"}}}
	assert.True(t, doc.IsLegacy())
	assert.Equal(t, "old", doc.CurrentText())
	assert.Equal(t, 0, doc.NextRound())
}

func TestJudgmentOverall(t *testing.T) {
	assert.Zero(t, Judgment{}.Overall())
	assert.InDelta(t, 7.0, Judgment{Criteria: map[string]float64{"a": 6, "b": 8}}.Overall(), 1e-9)
}

func TestErrorInfoRoundTrip(t *testing.T) {
	info := ErrorInfo{FailedStep: "render", Message: "timeout", FailedAt: "2026-01-01T00:00:00Z"}
	got := ParseErrorInfo(info.ToJSON())
	require.NotNil(t, got)
	assert.Equal(t, info, *got)

	assert.Nil(t, ParseErrorInfo(""))
	assert.Equal(t, "plain", ParseErrorInfo("plain").Message)
}
