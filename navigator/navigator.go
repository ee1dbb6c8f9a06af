// Package navigator walks a site's latest-updates listing and turns every
// page into card records. Each navigation mode is a separate strategy; pages
// within one site are always fetched one after another.
package navigator

import (
	"context"
	"fmt"

	"github.com/pevans/mangatrack/fetch"
	"github.com/pevans/mangatrack/scraper"
	"github.com/pevans/mangatrack/selector"
)

// DefaultMaxPages is the page ceiling used when Options.MaxPages is unset.
const DefaultMaxPages = 10

// Card is one manga entry extracted from a listing page.
type Card struct {
	Title       string
	ChapterText string
	URL         string // link to the manga on the site, may be empty
	Page        int    // 1-based page the card was found on
}

// Result holds everything collected during one traversal. It is returned
// even when traversal stops on an error, so partial progress is usable.
type Result struct {
	Cards []Card
	Pages int // pages successfully fetched
}

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// Navigator traverses one site's listing.
type Navigator interface {
	Navigate(ctx context.Context, site *scraper.Site) (*Result, error)
}

// Options configures the strategies.
type Options struct {
	MaxPages int
}

func (o Options) maxPages() int {
	if o.MaxPages < 1 {
		return DefaultMaxPages
	}
	return o.MaxPages
}

// New returns the strategy for the given navigation mode.
func New(mode scraper.NavigationMode, fetcher Fetcher, eval selector.Evaluator, opts Options) (Navigator, error) {
	switch mode {
	case scraper.Pagination, "":
		return &Paginator{fetcher: fetcher, eval: eval, opts: opts}, nil
	case scraper.LoadMore:
		return &LoadMorer{fetcher: fetcher, eval: eval, opts: opts}, nil
	case scraper.Feed:
		return &FeedReader{fetcher: fetcher}, nil
	default:
		return nil, fmt.Errorf("unsupported navigation mode: %q", mode)
	}
}

// validateSelectors compiles all three selectors up front so a bad selector
// fails the site before any page is requested.
func validateSelectors(eval selector.Evaluator, site *scraper.Site) error {
	for _, sel := range []string{site.CardSelector, site.TitleSelector, site.ChapterSelector} {
		if err := eval.Validate(sel); err != nil {
			return err
		}
	}
	return nil
}

// parseFailure wraps an undecodable page as a permanent fetch error.
func parseFailure(page *fetch.Page, err error) error {
	return &fetch.FetchError{Kind: fetch.Permanent, URL: page.URL, StatusCode: page.StatusCode, Err: err}
}
