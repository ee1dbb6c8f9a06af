// Package sites stores the configured manga sites and the most recent update
// each one listed.
package sites

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pevans/mangatrack/scraper"
	"github.com/pevans/mangatrack/storage"
)

// Custom errors for site operations
var (
	ErrSiteNotFound  = errors.New("site not found")
	ErrDuplicateSite = errors.New("site with this name or base_url already exists")
)

// SiteStore manages site configurations using SQLite.
type SiteStore struct {
	db *sql.DB
}

// SiteWithLastSeen is a site plus the first card of its most recent listing.
type SiteWithLastSeen struct {
	SiteID          int64      `json:"site_id"`
	SiteName        string     `json:"site_name"`
	BaseURL         string     `json:"base_url"`
	LoadMoreText    *string    `json:"load_more_text,omitempty"`
	LastSeenManga   *string    `json:"last_seen_manga,omitempty"`
	LastSeenChapter *string    `json:"last_seen_chapter,omitempty"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`
}

// NewSiteStore creates a site store on an open database.
func NewSiteStore(db *sql.DB) (*SiteStore, error) {
	store := &SiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the sites and site_last_seen tables if they don't exist.
func (s *SiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		base_url TEXT NOT NULL UNIQUE,
		latest_updates_url TEXT NOT NULL,
		card_selector TEXT NOT NULL,
		title_selector TEXT NOT NULL,
		chapter_selector TEXT NOT NULL,
		navigation_mode TEXT NOT NULL,
		load_more_button_text TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS site_last_seen (
		site_id INTEGER PRIMARY KEY REFERENCES sites(id) ON DELETE CASCADE,
		manga TEXT NOT NULL,
		chapter TEXT NOT NULL,
		seen_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSite validates and inserts a site, filling in its ID.
func (s *SiteStore) CreateSite(site *scraper.Site) (*scraper.Site, error) {
	if site.NavigationMode == "" {
		site.NavigationMode = scraper.Pagination
	}
	site.BaseURL = strings.TrimRight(strings.TrimSpace(site.BaseURL), "/")
	site.Name = strings.TrimSpace(site.Name)

	if err := site.Validate(); err != nil {
		return nil, err
	}

	var loadMore *string
	if site.LoadMoreButtonText != "" {
		loadMore = &site.LoadMoreButtonText
	}

	query := `
		INSERT INTO sites (
			name, base_url, latest_updates_url, card_selector, title_selector,
			chapter_selector, navigation_mode, load_more_button_text, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		site.Name,
		site.BaseURL,
		site.LatestUpdatesURL,
		site.CardSelector,
		site.TitleSelector,
		site.ChapterSelector,
		string(site.NavigationMode),
		loadMore,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrDuplicateSite
		}
		return nil, fmt.Errorf("failed to insert site: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read site id: %w", err)
	}
	site.ID = id

	return site, nil
}

const siteColumns = `
	id, name, base_url, latest_updates_url, card_selector, title_selector,
	chapter_selector, navigation_mode, load_more_button_text
`

// GetSite retrieves a site by ID.
func (s *SiteStore) GetSite(id int64) (*scraper.Site, error) {
	row := s.db.QueryRow("SELECT "+siteColumns+" FROM sites WHERE id = ?", id)

	site, err := scanSite(row)
	if err == sql.ErrNoRows {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query site: %w", err)
	}

	return site, nil
}

// ListSites returns every site ordered by ID.
func (s *SiteStore) ListSites() ([]scraper.Site, error) {
	rows, err := s.db.Query("SELECT " + siteColumns + " FROM sites ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	defer rows.Close()

	var sites []scraper.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, *site)
	}

	return sites, rows.Err()
}

// DeleteSite deletes a site. Its manga-source rows and last-seen record go
// with it.
func (s *SiteStore) DeleteSite(id int64) error {
	result, err := s.db.Exec("DELETE FROM sites WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSiteNotFound
	}

	return nil
}

// RecordLastSeen stores the most recent card seen on a site.
func (s *SiteStore) RecordLastSeen(siteID int64, manga, chapter string, seenAt time.Time) error {
	query := `
		INSERT INTO site_last_seen (site_id, manga, chapter, seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			manga = excluded.manga,
			chapter = excluded.chapter,
			seen_at = excluded.seen_at
	`

	_, err := s.db.Exec(query, siteID, manga, chapter, seenAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if storage.IsForeignKeyViolation(err) {
			return ErrSiteNotFound
		}
		return fmt.Errorf("failed to record last seen: %w", err)
	}

	return nil
}

// ListWithLastSeen returns every site with its last-seen card, if any.
func (s *SiteStore) ListWithLastSeen() ([]SiteWithLastSeen, error) {
	query := `
		SELECT s.id, s.name, s.base_url, s.load_more_button_text,
		       l.manga, l.chapter, l.seen_at
		FROM sites s
		LEFT JOIN site_last_seen l ON l.site_id = s.id
		ORDER BY s.id
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	defer rows.Close()

	sites := []SiteWithLastSeen{}
	for rows.Next() {
		var site SiteWithLastSeen
		var loadMore, manga, chapter, seenAt sql.NullString

		if err := rows.Scan(&site.SiteID, &site.SiteName, &site.BaseURL, &loadMore, &manga, &chapter, &seenAt); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}

		site.LoadMoreText = nullableString(loadMore)
		site.LastSeenManga = nullableString(manga)
		site.LastSeenChapter = nullableString(chapter)
		if seenAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, seenAt.String); err == nil {
				site.LastSeenAt = &t
			}
		}

		sites = append(sites, site)
	}

	return sites, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(row scanner) (*scraper.Site, error) {
	var site scraper.Site
	var mode string
	var loadMore sql.NullString

	err := row.Scan(
		&site.ID, &site.Name, &site.BaseURL, &site.LatestUpdatesURL,
		&site.CardSelector, &site.TitleSelector, &site.ChapterSelector,
		&mode, &loadMore,
	)
	if err != nil {
		return nil, err
	}

	site.NavigationMode = scraper.NavigationMode(mode)
	site.LoadMoreButtonText = loadMore.String

	return &site, nil
}

func nullableString(s sql.NullString) *string {
	if !s.Valid || s.String == "" {
		return nil
	}
	return &s.String
}
