package model

import (
	"fmt"
	"sort"
)

// Snapshot is one immutable generated draft.
type Snapshot struct {
	Round     int    `json:"round"`
	Draft     string `json:"draft"`
	Model     string `json:"model,omitempty"`
	CreatedAt string `json:"created_at"`
	// Synthesized marks a round 0 rebuilt from a legacy alias-only document.
	Synthesized bool `json:"synthesized,omitempty"`
}

// Improvement is a judge's suggestion, optionally tied to one criterion.
type Improvement struct {
	Criterion  string `json:"criterion,omitempty"`
	Suggestion string `json:"suggestion"`
}

// Judgment is the immutable scoring of one round's draft.
type Judgment struct {
	Criteria      map[string]float64 `json:"criteria"`
	Improvements  []Improvement      `json:"improvements,omitempty"`
	Strengths     []string           `json:"strengths,omitempty"`
	RewrittenHook string             `json:"rewritten_hook,omitempty"`
	Model         string             `json:"model,omitempty"`
	JudgedAt      string             `json:"judged_at"`
}

// Overall is the mean criterion score, 0 when nothing was scored.
func (j Judgment) Overall() float64 {
	if len(j.Criteria) == 0 {
		return 0
	}
	var sum float64
	for _, v := range j.Criteria {
		sum += v
	}
	return sum / float64(len(j.Criteria))
}

// Edit is one human revision of a round's text. Number 0 is the verbatim
// copy taken at staging; later numbers record the edit they were based on.
type Edit struct {
	Number    int    `json:"number"`
	Text      string `json:"text"`
	Source    string `json:"_source,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ScoreSummary is one entry of the alias trend line.
type ScoreSummary struct {
	Round    int                `json:"round"`
	Overall  float64            `json:"overall"`
	Criteria map[string]float64 `json:"criteria"`
}

// Alias is the "latest" view: a snapshot plus the round it came from and
// the score history up to it.
type Alias struct {
	Snapshot
	CurrentRound int            `json:"_round"`
	History      []ScoreSummary `json:"_history"`
}

// VersionedDocument is the append-only refinement history of one item.
type VersionedDocument struct {
	ID        string           `json:"id"`
	Snapshots []Snapshot       `json:"snapshots"`
	Judgments map[int]Judgment `json:"judgments,omitempty"`
	Edits     map[int][]Edit   `json:"edits,omitempty"`
	Alias     *Alias           `json:"latest,omitempty"`
}

// NewDocument returns an empty document for id.
func NewDocument(id string) *VersionedDocument {
	return &VersionedDocument{ID: id, Snapshots: []Snapshot{}}
}

// HighestRound returns the highest snapshot round, or -1 when there is none.
func (d *VersionedDocument) HighestRound() int {
	highest := -1
	for _, s := range d.Snapshots {
		if s.Round > highest {
			highest = s.Round
		}
	}
	return highest
}

// NextRound is the round number the next snapshot must carry.
func (d *VersionedDocument) NextRound() int {
	return d.HighestRound() + 1
}

// Snapshot returns the snapshot of round n.
func (d *VersionedDocument) Snapshot(n int) (Snapshot, bool) {
	for _, s := range d.Snapshots {
		if s.Round == n {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Judgment returns the judgment of round n, if one was recorded.
func (d *VersionedDocument) Judgment(n int) (Judgment, bool) {
	j, ok := d.Judgments[n]
	return j, ok
}

// History summarizes every judged round in round order.
func (d *VersionedDocument) History() []ScoreSummary {
	rounds := make([]int, 0, len(d.Judgments))
	for r := range d.Judgments {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)
	out := make([]ScoreSummary, 0, len(rounds))
	for _, r := range rounds {
		j := d.Judgments[r]
		out = append(out, ScoreSummary{Round: r, Overall: j.Overall(), Criteria: j.Criteria})
	}
	return out
}

// Latest derives the alias from the history. It returns the stored alias
// for legacy documents that have no snapshots and nil for empty documents.
func (d *VersionedDocument) Latest() *Alias {
	top := d.HighestRound()
	if top < 0 {
		return d.Alias
	}
	snap, _ := d.Snapshot(top)
	return &Alias{Snapshot: snap, CurrentRound: top, History: d.History()}
}

// IsLegacy reports whether the document only carries an alias.
func (d *VersionedDocument) IsLegacy() bool {
	return len(d.Snapshots) == 0 && d.Alias != nil
}

// CurrentText is the text an operator is working on: the newest edit of the
// latest round, falling back to that round's draft.
func (d *VersionedDocument) CurrentText() string {
	latest := d.Latest()
	if latest == nil {
		return ""
	}
	if edits := d.Edits[latest.CurrentRound]; len(edits) > 0 {
		return edits[len(edits)-1].Text
	}
	return latest.Draft
}

// RoundRecord is the per-round context handed to generation.
type RoundRecord struct {
	Round    int       `json:"round"`
	Draft    string    `json:"draft"`
	Judgment *Judgment `json:"judgment,omitempty"`
}

// PriorHistory lists every round in order with its judgment, when present.
func (d *VersionedDocument) PriorHistory() []RoundRecord {
	snaps := append([]Snapshot(nil), d.Snapshots...)
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Round < snaps[j].Round })
	out := make([]RoundRecord, 0, len(snaps))
	for _, s := range snaps {
		rec := RoundRecord{Round: s.Round, Draft: s.Draft}
		if j, ok := d.Judgments[s.Round]; ok {
			rec.Judgment = &j
		}
		out = append(out, rec)
	}
	return out
}

// RoundView is a display row for one round.
type RoundView struct {
	Round     int       `json:"round"`
	Draft     string    `json:"draft"`
	Model     string    `json:"model,omitempty"`
	CreatedAt string    `json:"created_at"`
	Judged    bool      `json:"judged"`
	Overall   *float64  `json:"overall,omitempty"`
	Judgment  *Judgment `json:"judgment,omitempty"`
	Edits     []Edit    `json:"edits,omitempty"`
}

// Rounds renders every round for display. Rounds without a judgment are
// reported with Judged false rather than as an error.
func (d *VersionedDocument) Rounds() []RoundView {
	hist := d.PriorHistory()
	out := make([]RoundView, 0, len(hist))
	for _, rec := range hist {
		snap, _ := d.Snapshot(rec.Round)
		v := RoundView{
			Round:     rec.Round,
			Draft:     rec.Draft,
			Model:     snap.Model,
			CreatedAt: snap.CreatedAt,
			Edits:     d.Edits[rec.Round],
		}
		if rec.Judgment != nil {
			overall := rec.Judgment.Overall()
			v.Judged = true
			v.Overall = &overall
			v.Judgment = rec.Judgment
		}
		out = append(out, v)
	}
	return out
}

// EditRef names edit m of round n for the _source field.
func EditRef(n, m int) string {
	return fmt.Sprintf("edit[%d][%d]", n, m)
}
