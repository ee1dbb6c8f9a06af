package navigator

import (
	"net/url"
	"strings"

	"github.com/pevans/mangatrack/scraper"
	"github.com/pevans/mangatrack/selector"
)

// extractCards applies the site's selectors to one listing page. Cards
// without a title are dropped; cards without chapter text are kept so the
// parse failure is counted downstream.
func extractCards(doc selector.Document, site *scraper.Site, page int) ([]Card, error) {
	elements, err := doc.Select(site.CardSelector)
	if err != nil {
		return nil, err
	}

	cards := make([]Card, 0, len(elements))
	for _, el := range elements {
		titleEl, err := selector.First(el, site.TitleSelector)
		if err != nil {
			return nil, err
		}
		if titleEl == nil {
			continue
		}

		title := selector.TextOf(titleEl)
		if title == "" {
			continue
		}

		chapterEl, err := selector.First(el, site.ChapterSelector)
		if err != nil {
			return nil, err
		}
		chapterText := ""
		if chapterEl != nil {
			chapterText = selector.TextOf(chapterEl)
		}

		cards = append(cards, Card{
			Title:       title,
			ChapterText: chapterText,
			URL:         cardLink(el, titleEl, doc.URL()),
			Page:        page,
		})
	}

	return cards, nil
}

// cardLink prefers the title element's own href, then a link inside the
// title, then the first link anywhere in the card.
func cardLink(card, title selector.Element, pageURL string) string {
	if href, ok := title.Attr("href"); ok && usableHref(href) {
		return resolveURL(pageURL, href)
	}

	for _, scope := range []selector.Element{title, card} {
		link, err := selector.First(scope, "a[href]")
		if err != nil || link == nil {
			continue
		}
		if href, _ := link.Attr("href"); usableHref(href) {
			return resolveURL(pageURL, href)
		}
	}

	return ""
}

func usableHref(href string) bool {
	href = strings.TrimSpace(href)
	return href != "" && href != "#" && !strings.HasPrefix(strings.ToLower(href), "javascript:")
}

func resolveURL(baseURL, href string) string {
	href = strings.TrimSpace(href)

	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return ref.String()
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}

	return base.ResolveReference(ref).String()
}

func cardKey(c Card) string {
	return c.Title + "\x00" + c.ChapterText
}
