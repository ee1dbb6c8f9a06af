package navigator

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/mangatrack/scraper"
)

var (
	// "Solo Leveling - Chapter 180", "Solo Leveling Ch. 180.5"
	feedChapterRe = regexp.MustCompile(`(?i)^(.*?)[\s\-–—:|,#]*\b((?:chapter|chap|ch|episode|ep)\.?\s*\d.*)$`)
	// "Solo Leveling 180"
	feedTrailingNumberRe = regexp.MustCompile(`^(.*?)[\s\-–—:|,#]+(\d+(?:\.\d+)?)\s*$`)
)

// FeedReader reads an RSS or Atom updates feed. The gofeed library detects
// and handles both formats. A feed is a single page.
type FeedReader struct {
	fetcher Fetcher
}

// Navigate implements Navigator.
func (f *FeedReader) Navigate(ctx context.Context, site *scraper.Site) (*Result, error) {
	result := &Result{}

	listing, err := site.UpdatesURL()
	if err != nil {
		return result, err
	}

	fetched, err := f.fetcher.Fetch(ctx, listing)
	if err != nil {
		return result, err
	}
	result.Pages++

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(fetched.Body))
	if err != nil {
		return result, parseFailure(fetched, fmt.Errorf("failed to parse feed: %w", err))
	}

	for _, item := range feed.Items {
		title, chapterText := SplitFeedTitle(item.Title)
		if title == "" {
			continue
		}

		link := item.Link
		if link != "" {
			link = resolveURL(fetched.URL, link)
		}

		result.Cards = append(result.Cards, Card{
			Title:       title,
			ChapterText: chapterText,
			URL:         link,
			Page:        1,
		})
	}

	return result, nil
}

// SplitFeedTitle separates a feed item title into the manga title and the
// chapter text. Titles without a recognizable chapter token are returned
// whole with empty chapter text.
func SplitFeedTitle(itemTitle string) (string, string) {
	itemTitle = strings.Join(strings.Fields(itemTitle), " ")

	if m := feedChapterRe.FindStringSubmatch(itemTitle); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}

	if m := feedTrailingNumberRe.FindStringSubmatch(itemTitle); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1]), m[2]
	}

	return itemTitle, ""
}
