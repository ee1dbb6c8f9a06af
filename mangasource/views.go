package mangasource

import (
	"context"
	"database/sql"
	"fmt"
)

// MangaDetails is one row of the dashboard listings: a registered manga and,
// when tracked, one of its site pairings.
type MangaDetails struct {
	MangaID            int64   `json:"manga_id"`
	MangaName          string  `json:"manga_name"`
	SiteID             *int64  `json:"site_id,omitempty"`
	SiteName           *string `json:"site_name,omitempty"`
	URLOnSite          *string `json:"url_on_site,omitempty"`
	LastChapterScraped *string `json:"last_chapter_scraped,omitempty"`
	NewlyFoundChapters *string `json:"newly_found_chapters,omitempty"`
	Status             *string `json:"status,omitempty"`
}

// AllMangas lists every registered manga, tracked or not. Untracked manga
// appear once with no site fields.
func (s *MangaSourceStore) AllMangas(ctx context.Context) ([]MangaDetails, error) {
	return s.details(ctx, `
		SELECT m.id, m.primary_name, st.id, st.name, ms.url_on_site,
		       ms.last_chapter_display, ms.newly_found_chapters, ms.status
		FROM mangas m
		LEFT JOIN manga_sources ms ON ms.manga_id = m.id
		LEFT JOIN sites st ON st.id = ms.site_id
		ORDER BY m.primary_name COLLATE NOCASE, st.name COLLATE NOCASE
	`)
}

// TrackedMangas lists only manga with at least one site pairing.
func (s *MangaSourceStore) TrackedMangas(ctx context.Context) ([]MangaDetails, error) {
	return s.details(ctx, `
		SELECT m.id, m.primary_name, st.id, st.name, ms.url_on_site,
		       ms.last_chapter_display, ms.newly_found_chapters, ms.status
		FROM mangas m
		JOIN manga_sources ms ON ms.manga_id = m.id
		JOIN sites st ON st.id = ms.site_id
		ORDER BY m.primary_name COLLATE NOCASE, st.name COLLATE NOCASE
	`)
}

func (s *MangaSourceStore) details(ctx context.Context, query string) ([]MangaDetails, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query manga details: %w", err)
	}
	defer rows.Close()

	out := []MangaDetails{}
	for rows.Next() {
		var d MangaDetails
		var siteID sql.NullInt64
		var siteName, url, last, chapters, status sql.NullString

		if err := rows.Scan(&d.MangaID, &d.MangaName, &siteID, &siteName, &url, &last, &chapters, &status); err != nil {
			return nil, fmt.Errorf("failed to scan manga details: %w", err)
		}

		if siteID.Valid {
			d.SiteID = &siteID.Int64
		}
		d.SiteName = nullable(siteName)
		d.URLOnSite = nullable(url)
		d.LastChapterScraped = nullable(last)
		d.NewlyFoundChapters = nullable(chapters)
		d.Status = nullable(status)

		out = append(out, d)
	}

	return out, rows.Err()
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
