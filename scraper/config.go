package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// NavigationMode names the strategy a site uses to expose more than one page
// of its latest-updates listing.
type NavigationMode string

const (
	// Pagination walks numbered pages (?page=2, ?page=3, ...).
	Pagination NavigationMode = "pagination"

	// LoadMore follows the control labelled with LoadMoreButtonText.
	LoadMore NavigationMode = "load_more"

	// Feed reads an RSS or Atom feed instead of an HTML listing.
	Feed NavigationMode = "feed"
)

// ErrInvalidSite is wrapped by every validation failure from Site.Validate.
var ErrInvalidSite = errors.New("invalid site configuration")

// Site defines how to find manga updates on a specific website.
type Site struct {
	ID                 int64          `json:"id"`
	Name               string         `json:"name"`
	BaseURL            string         `json:"base_url"`
	LatestUpdatesURL   string         `json:"latest_updates_url"` // relative to BaseURL
	CardSelector       string         `json:"manga_card_selector"`
	TitleSelector      string         `json:"title_selector"`
	ChapterSelector    string         `json:"chapter_selector"`
	NavigationMode     NavigationMode `json:"navigation_mode"`
	LoadMoreButtonText string         `json:"load_more_button_text,omitempty"`
}

// Validate checks the invariants a site must hold before it can be stored or
// tracked.
func (s *Site) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSite)
	}

	base, err := url.Parse(s.BaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return fmt.Errorf("%w: base_url must be an absolute http(s) URL", ErrInvalidSite)
	}

	if _, err := url.Parse(s.LatestUpdatesURL); err != nil {
		return fmt.Errorf("%w: latest_updates_url: %v", ErrInvalidSite, err)
	}

	switch s.NavigationMode {
	case Pagination, LoadMore:
		if strings.TrimSpace(s.CardSelector) == "" ||
			strings.TrimSpace(s.TitleSelector) == "" ||
			strings.TrimSpace(s.ChapterSelector) == "" {
			return fmt.Errorf("%w: card, title and chapter selectors are required", ErrInvalidSite)
		}
	case Feed:
		// Feed items carry their own title and chapter text
	default:
		return fmt.Errorf("%w: unknown navigation_mode %q", ErrInvalidSite, s.NavigationMode)
	}

	if s.NavigationMode == LoadMore && strings.TrimSpace(s.LoadMoreButtonText) == "" {
		return fmt.Errorf("%w: load_more_button_text is required for load_more navigation", ErrInvalidSite)
	}

	return nil
}

// UpdatesURL resolves LatestUpdatesURL against BaseURL.
func (s *Site) UpdatesURL() (string, error) {
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base_url: %w", err)
	}

	// Keep the {page} placeholder intact; url.Parse would escape the braces
	ref := strings.ReplaceAll(s.LatestUpdatesURL, PagePlaceholder, pageToken)
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid latest_updates_url: %w", err)
	}

	resolved := base.ResolveReference(rel).String()
	return strings.ReplaceAll(resolved, pageToken, PagePlaceholder), nil
}

// PagePlaceholder marks where the page number goes in a paginated
// LatestUpdatesURL, e.g. "/updates/page/{page}".
const PagePlaceholder = "{page}"

const pageToken = "__mangatrack_page__"

// NewSite creates a site with the default navigation mode.
func NewSite(name, baseURL, latestUpdatesURL, cardSelector, titleSelector, chapterSelector string) *Site {
	return &Site{
		Name:             name,
		BaseURL:          baseURL,
		LatestUpdatesURL: latestUpdatesURL,
		CardSelector:     cardSelector,
		TitleSelector:    titleSelector,
		ChapterSelector:  chapterSelector,
		NavigationMode:   Pagination, // Default for sites added without a mode
	}
}
