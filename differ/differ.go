// Package differ decides what a tracking pass should record for one
// (manga, site) pair given the chapters it observed and the stored row.
package differ

import (
	"fmt"

	"github.com/pevans/mangatrack/chapter"
	"github.com/pevans/mangatrack/mangasource"
)

// DefaultGapThreshold bounds how many skipped integer chapters are listed
// between the stored chapter and a newly observed one.
const DefaultGapThreshold = 5

// Observation is one matched card's chapter.
type Observation struct {
	Key     chapter.Key
	Display string // chapter text as the site printed it
	URL     string
}

// Outcome names what Decide did.
type Outcome int

const (
	// Unchanged means nothing needs to be written.
	Unchanged Outcome = iota
	// Created means this is the first record for the pair.
	Created
	// Advanced means a greater chapter was observed.
	Advanced
	// Cleared means nothing new was found and the previous pass's new
	// chapters must be reset.
	Cleared
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Advanced:
		return "advanced"
	case Cleared:
		return "cleared"
	default:
		return "unchanged"
	}
}

// Delta is the row a pass wants to commit for one pair.
type Delta struct {
	Outcome Outcome
	Row     *mangasource.MangaSource // nil when Outcome is Unchanged
}

// NewChapters returns the chapters this delta reports as new.
func (d Delta) NewChapters() []string {
	if d.Row == nil || (d.Outcome != Created && d.Outcome != Advanced) {
		return nil
	}
	return d.Row.NewlyFoundChapters
}

// Differ compares observations with stored state.
type Differ struct {
	GapThreshold int
}

// New creates a Differ. A negative threshold disables gap backfill.
func New(gapThreshold int) *Differ {
	return &Differ{GapThreshold: gapThreshold}
}

// Decide computes the delta for mangaID on siteID. prior is the stored row,
// or nil if the pair has never been recorded. observations must be
// non-empty; the maximum key wins regardless of listing order.
//
// The stored key never decreases.
func (d *Differ) Decide(prior *mangasource.MangaSource, mangaID, siteID int64, observations []Observation) (Delta, error) {
	best, ok := maxObservation(observations)
	if !ok {
		return Delta{}, fmt.Errorf("no observations for manga %d on site %d", mangaID, siteID)
	}

	if prior == nil {
		row := &mangasource.MangaSource{
			MangaID: mangaID,
			SiteID:  siteID,
			Status:  mangasource.Pending,
		}
		record(row, best, []string{best.Display})
		row.Status = mangasource.Active

		return Delta{Outcome: Created, Row: row}, nil
	}

	priorKey := priorKey(prior)
	if priorKey.Less(best.Key) {
		row := *prior
		record(&row, best, d.newlyFound(priorKey, best))
		row.Status = mangasource.Active

		return Delta{Outcome: Advanced, Row: &row}, nil
	}

	if len(prior.NewlyFoundChapters) > 0 {
		row := *prior
		row.NewlyFoundChapters = []string{}
		return Delta{Outcome: Cleared, Row: &row}, nil
	}

	return Delta{Outcome: Unchanged}, nil
}

// newlyFound lists the chapters between prev (exclusive) and next
// (inclusive) when both are integers with a small gap. Intermediate
// chapters get a synthesized "Chapter N" label since the listing only shows
// the latest one.
func (d *Differ) newlyFound(prev chapter.Key, next Observation) []string {
	if !prev.IsInteger() || !next.Key.IsInteger() {
		return []string{next.Display}
	}

	gap := next.Key.Int() - prev.Int()
	if gap <= 1 || gap > int64(d.GapThreshold) {
		return []string{next.Display}
	}

	chapters := make([]string, 0, gap)
	for n := prev.Int() + 1; n < next.Key.Int(); n++ {
		chapters = append(chapters, fmt.Sprintf("Chapter %d", n))
	}
	return append(chapters, next.Display)
}

func record(row *mangasource.MangaSource, obs Observation, newlyFound []string) {
	row.LastChapterKey = obs.Key.Value
	row.LastChapterText = obs.Key.Text
	row.LastChapterDisplay = obs.Display
	row.NewlyFoundChapters = newlyFound
	if obs.URL != "" {
		row.URLOnSite = obs.URL
	}
}

// priorKey rebuilds the stored key. Rows always carry the numeric text they
// were parsed from; the float value is the fallback.
func priorKey(row *mangasource.MangaSource) chapter.Key {
	if key, err := chapter.FromStored(row.LastChapterText); err == nil {
		return key
	}
	return chapter.Key{Value: row.LastChapterKey, Text: fmt.Sprintf("%g", row.LastChapterKey)}
}

// maxObservation returns the observation with the greatest key. Ties keep the
// first one listed.
func maxObservation(observations []Observation) (Observation, bool) {
	if len(observations) == 0 {
		return Observation{}, false
	}

	best := observations[0]
	for _, obs := range observations[1:] {
		if best.Key.Less(obs.Key) {
			best = obs
		}
	}
	return best, true
}
