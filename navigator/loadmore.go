package navigator

import (
	"context"
	"net/url"
	"strings"

	"github.com/pevans/mangatrack/scraper"
	"github.com/pevans/mangatrack/selector"
)

// controlSelector lists the elements that can act as a "load more" control.
const controlSelector = "a, button, input[type=button], input[type=submit], [role=button]"

// LoadMorer follows the site's "load more" control until it disappears or an
// iteration brings no cards that were not already seen.
type LoadMorer struct {
	fetcher Fetcher
	eval    selector.Evaluator
	opts    Options
}

// Navigate implements Navigator.
func (l *LoadMorer) Navigate(ctx context.Context, site *scraper.Site) (*Result, error) {
	result := &Result{}

	if err := validateSelectors(l.eval, site); err != nil {
		return result, err
	}

	listing, err := site.UpdatesURL()
	if err != nil {
		return result, err
	}

	seen := make(map[string]bool)
	visited := make(map[string]bool)
	current := listing

	for iteration := 1; iteration <= l.opts.maxPages(); iteration++ {
		visited[current] = true

		fetched, err := l.fetcher.Fetch(ctx, current)
		if err != nil {
			return result, err
		}
		result.Pages++

		doc, err := l.eval.Parse(fetched.Body, fetched.URL)
		if err != nil {
			return result, parseFailure(fetched, err)
		}

		cards, err := extractCards(doc, site, iteration)
		if err != nil {
			return result, err
		}

		fresh := 0
		for _, c := range cards {
			if !seen[cardKey(c)] {
				seen[cardKey(c)] = true
				fresh++
			}
		}
		result.Cards = append(result.Cards, cards...)

		if fresh == 0 {
			break
		}

		next, ok, err := nextLoadMoreURL(doc, site.LoadMoreButtonText, listing, iteration+1)
		if err != nil {
			return result, err
		}
		if !ok || visited[next] {
			break
		}
		current = next
	}

	return result, nil
}

// nextLoadMoreURL finds the control labelled buttonText and works out the
// address of the next payload. Controls that carry no address of their own
// fall back to the next numbered page of the listing.
func nextLoadMoreURL(doc selector.Document, buttonText, listing string, nextPage int) (string, bool, error) {
	controls, err := doc.Select(controlSelector)
	if err != nil {
		return "", false, err
	}

	want := normalizeLabel(buttonText)
	for _, control := range controls {
		label := selector.TextOf(control)
		if label == "" {
			label, _ = control.Attr("value")
		}
		if normalizeLabel(label) != want {
			continue
		}

		for _, attr := range []string{"href", "data-url", "data-href", "data-next", "data-next-url"} {
			if v, ok := control.Attr(attr); ok && usableHref(v) {
				return resolveURL(doc.URL(), v), true, nil
			}
		}

		for _, cursor := range []struct{ attr, param string }{
			{"data-page", "page"},
			{"data-cursor", "cursor"},
		} {
			if v, ok := control.Attr(cursor.attr); ok && strings.TrimSpace(v) != "" {
				next, err := withQuery(listing, cursor.param, strings.TrimSpace(v))
				return next, err == nil, err
			}
		}

		next, err := PageURL(listing, nextPage)
		return next, err == nil, err
	}

	return "", false, nil
}

func withQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
