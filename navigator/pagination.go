package navigator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pevans/mangatrack/fetch"
	"github.com/pevans/mangatrack/scraper"
	"github.com/pevans/mangatrack/selector"
)

// Paginator requests numbered listing pages until one comes back empty,
// a page after the first is not found, or the page ceiling is reached.
type Paginator struct {
	fetcher Fetcher
	eval    selector.Evaluator
	opts    Options
}

// Navigate implements Navigator.
func (p *Paginator) Navigate(ctx context.Context, site *scraper.Site) (*Result, error) {
	result := &Result{}

	if err := validateSelectors(p.eval, site); err != nil {
		return result, err
	}

	listing, err := site.UpdatesURL()
	if err != nil {
		return result, err
	}

	for page := 1; page <= p.opts.maxPages(); page++ {
		target, err := PageURL(listing, page)
		if err != nil {
			return result, err
		}

		fetched, err := p.fetcher.Fetch(ctx, target)
		if err != nil {
			if page > 1 && pastLastPage(err) {
				break
			}
			return result, err
		}
		result.Pages++

		doc, err := p.eval.Parse(fetched.Body, fetched.URL)
		if err != nil {
			return result, parseFailure(fetched, err)
		}

		cards, err := extractCards(doc, site, page)
		if err != nil {
			return result, err
		}
		if len(cards) == 0 {
			break
		}

		result.Cards = append(result.Cards, cards...)
	}

	return result, nil
}

// pastLastPage reports whether err is the not-found answer many sites give
// for a page number beyond the end of their listing.
func pastLastPage(err error) bool {
	var fetchErr *fetch.FetchError
	if !errors.As(err, &fetchErr) {
		return false
	}
	return fetchErr.StatusCode == http.StatusNotFound || fetchErr.StatusCode == http.StatusGone
}

// PageURL builds the address of page n of a listing. A {page} placeholder is
// substituted when present; otherwise page 1 is the listing itself and later
// pages set the "page" query parameter.
func PageURL(listing string, n int) (string, error) {
	if strings.Contains(listing, scraper.PagePlaceholder) {
		return strings.ReplaceAll(listing, scraper.PagePlaceholder, strconv.Itoa(n)), nil
	}

	if n <= 1 {
		return listing, nil
	}

	u, err := url.Parse(listing)
	if err != nil {
		return "", fmt.Errorf("invalid listing url: %w", err)
	}

	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()

	return u.String(), nil
}
