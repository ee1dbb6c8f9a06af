// Package mangatrack tracks new manga chapters across configured sites. A
// Tracker runs passes: every site is navigated, its cards matched against the
// registry and diffed against stored state, and the resulting changes are
// committed per (manga, site) pair.
package mangatrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pevans/mangatrack/chapter"
	"github.com/pevans/mangatrack/differ"
	"github.com/pevans/mangatrack/mangasource"
	"github.com/pevans/mangatrack/matcher"
	"github.com/pevans/mangatrack/navigator"
	"github.com/pevans/mangatrack/registry"
	"github.com/pevans/mangatrack/scraper"
	"github.com/pevans/mangatrack/selector"
)

// SiteStore is the site configuration the tracker reads, plus the last-seen
// record it writes.
type SiteStore interface {
	ListSites() ([]scraper.Site, error)
	RecordLastSeen(siteID int64, manga, chapter string, seenAt time.Time) error
}

// MangaRegistry lists the manga to track.
type MangaRegistry interface {
	ListManga() ([]registry.Manga, error)
}

// SourceStore holds the tracker-owned manga-source rows.
type SourceStore interface {
	ListForSite(ctx context.Context, siteID int64) (map[int64]*mangasource.MangaSource, error)
	Get(ctx context.Context, mangaID, siteID int64) (*mangasource.MangaSource, error)
	Commit(ctx context.Context, row *mangasource.MangaSource) error
}

// TrackerConfig holds configuration for the tracker.
type TrackerConfig struct {
	// Maximum number of sites scanned in parallel
	Workers int
	// Overall deadline for one pass
	PassTimeout time.Duration
	// Page ceiling per site
	MaxPages int
	// Largest integer gap listed chapter by chapter
	GapThreshold int
	// Time between scheduled passes; zero disables scheduling
	Interval time.Duration
}

// DefaultTrackerConfig returns the default configuration.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		Workers:      4,
		PassTimeout:  5 * time.Minute,
		MaxPages:     navigator.DefaultMaxPages,
		GapThreshold: differ.DefaultGapThreshold,
	}
}

// Tracker runs tracking passes. Only one pass runs at a time; a pass
// requested while another is running waits for it.
type Tracker struct {
	sites    SiteStore
	registry MangaRegistry
	sources  SourceStore
	fetcher  navigator.Fetcher
	eval     selector.Evaluator
	differ   *differ.Differ
	config   *TrackerConfig
	log      *slog.Logger

	passMu   sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTracker creates a tracker. A nil config uses DefaultTrackerConfig and a
// nil logger uses slog.Default.
func NewTracker(
	sites SiteStore,
	reg MangaRegistry,
	sources SourceStore,
	fetcher navigator.Fetcher,
	config *TrackerConfig,
	logger *slog.Logger,
) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		sites:    sites,
		registry: reg,
		sources:  sources,
		fetcher:  fetcher,
		eval:     selector.NewGoqueryEvaluator(),
		differ:   differ.New(config.GapThreshold),
		config:   config,
		log:      logger,
		stopChan: make(chan struct{}),
	}
}

// Run runs a pass immediately and then every config.Interval until Stop is
// called or ctx is cancelled. A zero interval runs passes only on demand, so
// Run just waits.
func (t *Tracker) Run(ctx context.Context) error {
	t.log.Info("tracker starting", slog.Duration("interval", t.config.Interval))

	var tick <-chan time.Time
	if t.config.Interval > 0 {
		if _, err := t.RunPass(ctx); err != nil {
			t.log.Error("initial pass failed", slog.Any("error", err))
		}

		ticker := time.NewTicker(t.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			t.log.Info("tracker stopping (context cancelled)")
			return ctx.Err()
		case <-t.stopChan:
			t.log.Info("tracker stopping")
			return nil
		case <-tick:
			if _, err := t.RunPass(ctx); err != nil {
				t.log.Error("scheduled pass failed", slog.Any("error", err))
			}
		}
	}
}

// Stop signals Run to return.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

// siteScan is what a worker hands back to the pass: everything it read and
// decided, nothing written yet.
type siteScan struct {
	site    scraper.Site
	report  SiteReport
	deltas  []pendingDelta
	first   *navigator.Card
	started time.Time
}

type pendingDelta struct {
	mangaID      int64
	observations []differ.Observation
	delta        differ.Delta
}

// RunPass scans every configured site and commits what changed. It returns
// once every site has finished or the pass deadline has passed; sites still
// running at the deadline are reported as timed out and commit nothing.
//
// The error is non-nil only when the pass could not start at all.
func (t *Tracker) RunPass(ctx context.Context) (*PassReport, error) {
	t.passMu.Lock()
	defer t.passMu.Unlock()

	report := &PassReport{
		PassID:       uuid.New(),
		StartedAt:    time.Now(),
		Sites:        []SiteReport{},
		MangaTouched: []int64{},
	}
	log := t.log.With(slog.String("pass_id", report.PassID.String()))

	sites, err := t.sites.ListSites()
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	mangas, err := t.registry.ListManga()
	if err != nil {
		return nil, fmt.Errorf("failed to list manga: %w", err)
	}

	index := matcher.NewIndex(mangas)
	names := make(map[int64]string, len(mangas))
	for _, m := range mangas {
		names[m.ID] = m.PrimaryName
	}

	log.Info("starting pass", slog.Int("sites", len(sites)), slog.Int("manga", len(mangas)))

	passCtx, cancel := context.WithTimeout(ctx, t.config.PassTimeout)
	defer cancel()

	// Buffered so abandoned workers never block
	results := make(chan *siteScan, len(sites))
	semaphore := make(chan struct{}, t.config.Workers)

	go func() {
		for _, site := range sites {
			select {
			case <-passCtx.Done():
				return
			case semaphore <- struct{}{}: // Acquire semaphore
			}

			go func(s scraper.Site) {
				defer func() { <-semaphore }() // Release semaphore

				results <- t.scanSite(passCtx, log, s, index)
			}(site)
		}
	}()

	reports := make(map[int64]*SiteReport, len(sites))
	touched := make(map[int64]bool)

	// Commits must finish even if the caller's context ends mid-pass
	commitCtx := context.WithoutCancel(ctx)

	accept := func(scan *siteScan) {
		t.commitScan(commitCtx, log, scan, names)
		scan.report.Duration = time.Since(scan.started)
		reports[scan.site.ID] = &scan.report

		for _, u := range scan.report.Updates {
			touched[u.MangaID] = true
		}
		t.logSite(log, &scan.report)
	}

collect:
	for len(reports) < len(sites) {
		select {
		case scan := <-results:
			accept(scan)
		case <-passCtx.Done():
			// Take anything that finished before the deadline
			for {
				select {
				case scan := <-results:
					accept(scan)
					continue
				default:
				}
				break collect
			}
		}
	}

	kind := KindTimeout
	if errors.Is(passCtx.Err(), context.Canceled) {
		kind = KindCancelled
	}

	for _, site := range sites {
		r, ok := reports[site.ID]
		if !ok {
			r = &SiteReport{SiteID: site.ID, SiteName: site.Name}
			r.fail(kind, fmt.Errorf("site did not finish before the pass ended: %w", passCtx.Err()))
			t.logSite(log, r)
		}

		report.Sites = append(report.Sites, *r)
		report.TotalNewChapters += r.NewChapters
	}

	for id := range touched {
		report.MangaTouched = append(report.MangaTouched, id)
	}
	slices.Sort(report.MangaTouched)
	report.FinishedAt = time.Now()

	log.Info("pass finished",
		slog.Int("ok", report.Count(SiteOK)),
		slog.Int("partial", report.Count(SitePartial)),
		slog.Int("failed", report.Count(SiteFailed)),
		slog.Int("new_chapters", report.TotalNewChapters),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	return report, nil
}

// scanSite runs Navigator, Matcher and Differ for one site. It only reads
// shared state.
func (t *Tracker) scanSite(ctx context.Context, log *slog.Logger, site scraper.Site, index *matcher.Index) *siteScan {
	scan := &siteScan{
		site:    site,
		report:  SiteReport{SiteID: site.ID, SiteName: site.Name, Status: SiteOK},
		started: time.Now(),
	}
	report := &scan.report

	if err := site.Validate(); err != nil {
		report.fail(KindConfig, err)
		return scan
	}

	nav, err := navigator.New(site.NavigationMode, t.fetcher, t.eval, navigator.Options{MaxPages: t.config.MaxPages})
	if err != nil {
		report.fail(KindConfig, err)
		return scan
	}

	result, navErr := nav.Navigate(ctx, &site)
	report.PagesFetched = result.Pages
	report.CardsSeen = len(result.Cards)

	if navErr != nil {
		kind := t.errorKind(ctx, navErr)
		if len(result.Cards) == 0 || kind == KindSelector || kind == KindTimeout || kind == KindCancelled {
			report.fail(kind, navErr)
			return scan
		}
		report.degrade(kind, navErr)
	}

	if len(result.Cards) > 0 {
		scan.first = &result.Cards[0]
	}

	priors, err := t.sources.ListForSite(ctx, site.ID)
	if err != nil {
		report.fail(t.errorKind(ctx, err), err)
		return scan
	}

	var order []int64
	observed := make(map[int64][]differ.Observation)

	for _, card := range result.Cards {
		m := index.Match(card.Title)
		if m.Ambiguous {
			if !slices.Contains(report.AmbiguousTitles, card.Title) {
				report.AmbiguousTitles = append(report.AmbiguousTitles, card.Title)
				log.Warn("ambiguous title",
					slog.String("site", site.Name),
					slog.String("title", card.Title),
					slog.Any("candidates", m.Candidates),
				)
			}
			continue
		}
		if !m.Matched {
			continue
		}

		key, err := chapter.Parse(card.ChapterText)
		if err != nil {
			report.ParseFailures++
			log.Debug("skipping card", slog.String("site", site.Name), slog.String("title", card.Title), slog.Any("error", err))
			continue
		}

		report.CardsMatched++
		if _, ok := observed[m.MangaID]; !ok {
			order = append(order, m.MangaID)
		}
		observed[m.MangaID] = append(observed[m.MangaID], differ.Observation{
			Key:     key,
			Display: card.ChapterText,
			URL:     card.URL,
		})
	}

	for _, mangaID := range order {
		delta, err := t.differ.Decide(priors[mangaID], mangaID, site.ID, observed[mangaID])
		if err != nil {
			report.degrade(KindInternal, err)
			continue
		}
		if delta.Outcome == differ.Unchanged {
			continue
		}

		scan.deltas = append(scan.deltas, pendingDelta{
			mangaID:      mangaID,
			observations: observed[mangaID],
			delta:        delta,
		})
	}

	return scan
}

// commitScan writes a finished site's deltas one by one and records its
// last-seen card.
func (t *Tracker) commitScan(ctx context.Context, log *slog.Logger, scan *siteScan, names map[int64]string) {
	report := &scan.report
	if report.Status == SiteFailed {
		return
	}

	for _, pending := range scan.deltas {
		delta, err := t.commit(ctx, scan.site.ID, pending)
		if err != nil {
			report.CommitFailures++
			report.degrade(classifyError(err), err)
			log.Error("failed to commit manga source",
				slog.String("site", scan.site.Name),
				slog.Int64("manga_id", pending.mangaID),
				slog.Any("error", err),
			)
			continue
		}
		if delta.Outcome == differ.Unchanged {
			continue
		}

		chapters := delta.NewChapters()
		report.NewChapters += len(chapters)
		report.Updates = append(report.Updates, MangaUpdate{
			MangaID:   pending.mangaID,
			MangaName: names[pending.mangaID],
			Outcome:   delta.Outcome.String(),
			Chapter:   delta.Row.LastChapterDisplay,
			Chapters:  slices.Clone(delta.Row.NewlyFoundChapters),
		})
	}

	if scan.first != nil {
		if err := t.sites.RecordLastSeen(scan.site.ID, scan.first.Title, scan.first.ChapterText, time.Now()); err != nil {
			log.Warn("failed to record last seen", slog.String("site", scan.site.Name), slog.Any("error", err))
		}
	}
}

// commit writes one delta. On a version conflict the row is reloaded, the
// decision is made again against it and the commit is retried once.
func (t *Tracker) commit(ctx context.Context, siteID int64, pending pendingDelta) (differ.Delta, error) {
	delta := pending.delta

	err := t.sources.Commit(ctx, delta.Row)
	if !errors.Is(err, mangasource.ErrCommitConflict) {
		return delta, err
	}

	current, err := t.sources.Get(ctx, pending.mangaID, siteID)
	if errors.Is(err, mangasource.ErrSourceNotFound) {
		current = nil
	} else if err != nil {
		return delta, fmt.Errorf("failed to reload manga source: %w", err)
	}

	delta, err = t.differ.Decide(current, pending.mangaID, siteID, pending.observations)
	if err != nil {
		return delta, err
	}
	if delta.Outcome == differ.Unchanged {
		return delta, nil
	}

	if err := t.sources.Commit(ctx, delta.Row); err != nil {
		return delta, fmt.Errorf("commit retry failed: %w", err)
	}
	return delta, nil
}

// errorKind classifies err, blaming the pass deadline when ctx has ended.
func (t *Tracker) errorKind(ctx context.Context, err error) ErrorKind {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return KindCancelled
	default:
		return classifyError(err)
	}
}

func (t *Tracker) logSite(log *slog.Logger, r *SiteReport) {
	attrs := []any{
		slog.String("site", r.SiteName),
		slog.String("status", string(r.Status)),
		slog.Int("pages", r.PagesFetched),
		slog.Int("cards", r.CardsSeen),
		slog.Int("matched", r.CardsMatched),
		slog.Int("new_chapters", r.NewChapters),
		slog.Duration("duration", r.Duration),
	}

	switch r.Status {
	case SiteFailed:
		log.Error("site failed", append(attrs, slog.String("kind", string(r.ErrorKind)), slog.String("error", r.Error))...)
	case SitePartial:
		log.Warn("site partially tracked", append(attrs, slog.String("kind", string(r.ErrorKind)), slog.String("error", r.Error))...)
	default:
		if r.Duration > 30*time.Second {
			log.Warn("slow site", attrs...)
		} else {
			log.Info("site tracked", attrs...)
		}
	}
}
