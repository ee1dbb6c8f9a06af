package mangatrack

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pevans/mangatrack/fetch"
	"github.com/pevans/mangatrack/mangasource"
	"github.com/pevans/mangatrack/scraper"
	"github.com/pevans/mangatrack/selector"
)

// SiteStatus is the outcome of one site within a pass.
type SiteStatus string

const (
	SiteOK      SiteStatus = "ok"
	SitePartial SiteStatus = "partial"
	SiteFailed  SiteStatus = "failed"
)

// ErrorKind classifies why a site was partial or failed.
type ErrorKind string

const (
	KindSelector       ErrorKind = "selector"
	KindConfig         ErrorKind = "config"
	KindFetchTransient ErrorKind = "fetch_transient"
	KindFetchPermanent ErrorKind = "fetch_permanent"
	KindTimeout        ErrorKind = "timeout"
	KindCancelled      ErrorKind = "cancelled"
	KindCommitConflict ErrorKind = "commit_conflict"
	KindInternal       ErrorKind = "internal"
)

// MangaUpdate is one committed change for a manga on a site.
type MangaUpdate struct {
	MangaID   int64    `json:"manga_id"`
	MangaName string   `json:"manga_name"`
	Outcome   string   `json:"outcome"`
	Chapter   string   `json:"chapter"`
	Chapters  []string `json:"newly_found_chapters"`
}

// SiteReport describes what happened to one site during a pass.
type SiteReport struct {
	SiteID          int64         `json:"site_id"`
	SiteName        string        `json:"site_name"`
	Status          SiteStatus    `json:"status"`
	ErrorKind       ErrorKind     `json:"error_kind,omitempty"`
	Error           string        `json:"error,omitempty"`
	PagesFetched    int           `json:"pages_fetched"`
	CardsSeen       int           `json:"cards_seen"`
	CardsMatched    int           `json:"cards_matched"`
	ParseFailures   int           `json:"parse_failures"`
	AmbiguousTitles []string      `json:"ambiguous_titles,omitempty"`
	CommitFailures  int           `json:"commit_failures,omitempty"`
	Updates         []MangaUpdate `json:"updates,omitempty"`
	NewChapters     int           `json:"new_chapters"`
	Duration        time.Duration `json:"duration_ns"`
}

// fail marks the site failed unless it is already failed.
func (r *SiteReport) fail(kind ErrorKind, err error) {
	r.Status = SiteFailed
	r.ErrorKind = kind
	if err != nil {
		r.Error = err.Error()
	}
}

// degrade marks the site partial, keeping the first error recorded.
func (r *SiteReport) degrade(kind ErrorKind, err error) {
	if r.Status == SiteFailed {
		return
	}
	r.Status = SitePartial
	if r.ErrorKind == "" {
		r.ErrorKind = kind
		if err != nil {
			r.Error = err.Error()
		}
	}
}

// PassReport summarizes one tracking pass.
type PassReport struct {
	PassID           uuid.UUID    `json:"pass_id"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at"`
	Sites            []SiteReport `json:"sites"`
	TotalNewChapters int          `json:"total_new_chapters"`
	MangaTouched     []int64      `json:"manga_touched"`
}

// Count returns how many sites ended with status.
func (p *PassReport) Count(status SiteStatus) int {
	n := 0
	for _, s := range p.Sites {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Site returns the report for siteID, or nil.
func (p *PassReport) Site(siteID int64) *SiteReport {
	for i := range p.Sites {
		if p.Sites[i].SiteID == siteID {
			return &p.Sites[i]
		}
	}
	return nil
}

// classifyError maps an error from navigation or commit to an ErrorKind.
// Callers check their own context first: a fetch cut short by the pass
// deadline is a timeout, not a transient fetch failure.
func classifyError(err error) ErrorKind {
	var selErr *selector.SelectorError
	var fetchErr *fetch.FetchError

	switch {
	case errors.As(err, &selErr):
		return KindSelector
	case errors.Is(err, scraper.ErrInvalidSite):
		return KindConfig
	case errors.As(err, &fetchErr):
		if fetchErr.Kind == fetch.Permanent {
			return KindFetchPermanent
		}
		return KindFetchTransient
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, mangasource.ErrCommitConflict):
		return KindCommitConflict
	default:
		return KindInternal
	}
}
