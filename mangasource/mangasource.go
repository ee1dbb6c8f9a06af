// Package mangasource stores the tracked pairing of one manga with one site.
// The tracker is the only writer; the dashboard reads the joined views.
package mangasource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pevans/mangatrack/storage"
)

// Custom errors for manga-source operations
var (
	ErrSourceNotFound = errors.New("manga source not found")

	// ErrCommitConflict means the row changed since it was read.
	ErrCommitConflict = errors.New("manga source was modified concurrently")
)

// Status of a manga-source row. The only transition is pending -> active.
type Status string

const (
	Pending Status = "pending"
	Active  Status = "active"
)

// MangaSource is the persisted crawl state for one (manga, site) pair.
type MangaSource struct {
	ID                 int64     `json:"id"`
	MangaID            int64     `json:"manga_id"`
	SiteID             int64     `json:"site_id"`
	URLOnSite          string    `json:"url_on_site"`
	LastChapterKey     float64   `json:"last_chapter_key"`
	LastChapterText    string    `json:"-"` // numeric run the key was parsed from
	LastChapterDisplay string    `json:"last_chapter_scraped"`
	NewlyFoundChapters []string  `json:"-"`
	Status             Status    `json:"status"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Version is the compare-and-swap token. Zero means the row has not been
	// stored yet.
	Version int64 `json:"-"`
}

// NewlyFoundJSON encodes NewlyFoundChapters the way the dashboard expects:
// a JSON array inside a string, "[]" when empty.
func (m *MangaSource) NewlyFoundJSON() string {
	return encodeChapters(m.NewlyFoundChapters)
}

// MangaSourceStore manages manga-source rows using SQLite.
type MangaSourceStore struct {
	db    *sql.DB
	locks keyedMutex
}

// NewMangaSourceStore creates a store on an open database that already holds
// (or will hold) the sites and mangas tables.
func NewMangaSourceStore(db *sql.DB) (*MangaSourceStore, error) {
	store := &MangaSourceStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the manga_sources table if it doesn't exist.
func (s *MangaSourceStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS manga_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		manga_id INTEGER NOT NULL REFERENCES mangas(id) ON DELETE CASCADE,
		site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
		url_on_site TEXT NOT NULL DEFAULT '',
		last_chapter_key REAL NOT NULL,
		last_chapter_text TEXT NOT NULL,
		last_chapter_display TEXT NOT NULL,
		newly_found_chapters TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (manga_id, site_id)
	);
	CREATE INDEX IF NOT EXISTS idx_manga_sources_site ON manga_sources(site_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

const sourceColumns = `
	id, manga_id, site_id, url_on_site, last_chapter_key, last_chapter_text,
	last_chapter_display, newly_found_chapters, status, version, updated_at
`

// Get retrieves the row for a (manga, site) pair.
func (s *MangaSourceStore) Get(ctx context.Context, mangaID, siteID int64) (*MangaSource, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM manga_sources WHERE manga_id = ? AND site_id = ?",
		mangaID, siteID,
	)

	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query manga source: %w", err)
	}

	return source, nil
}

// ListForSite returns every row for a site keyed by manga ID.
func (s *MangaSourceStore) ListForSite(ctx context.Context, siteID int64) (map[int64]*MangaSource, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sourceColumns+" FROM manga_sources WHERE site_id = ?", siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query manga sources: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*MangaSource)
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan manga source: %w", err)
		}
		out[source.MangaID] = source
	}

	return out, rows.Err()
}

// Commit writes a full row for its (manga, site) pair.
//
// A row with Version zero is inserted; otherwise the stored row is replaced
// only if its version still equals row.Version. Either way a row that does
// not match what the caller read returns ErrCommitConflict. On success
// row.Version and row.ID reflect the stored row.
func (s *MangaSourceStore) Commit(ctx context.Context, row *MangaSource) error {
	unlock := s.locks.lock(pairKey{row.MangaID, row.SiteID})
	defer unlock()

	if row.Status == "" {
		row.Status = Pending
	}
	row.UpdatedAt = time.Now().UTC().Truncate(0)
	chapters := encodeChapters(row.NewlyFoundChapters)

	if row.Version == 0 {
		query := `
			INSERT INTO manga_sources (
				manga_id, site_id, url_on_site, last_chapter_key, last_chapter_text,
				last_chapter_display, newly_found_chapters, status, version, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		`

		result, err := s.db.ExecContext(ctx, query,
			row.MangaID, row.SiteID, row.URLOnSite, row.LastChapterKey,
			row.LastChapterText, row.LastChapterDisplay, chapters,
			string(row.Status), row.UpdatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return ErrCommitConflict
			}
			return fmt.Errorf("failed to insert manga source: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read manga source id: %w", err)
		}
		row.ID = id
		row.Version = 1

		return nil
	}

	query := `
		UPDATE manga_sources SET
			url_on_site = ?, last_chapter_key = ?, last_chapter_text = ?,
			last_chapter_display = ?, newly_found_chapters = ?, status = ?,
			version = version + 1, updated_at = ?
		WHERE manga_id = ? AND site_id = ? AND version = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		row.URLOnSite, row.LastChapterKey, row.LastChapterText,
		row.LastChapterDisplay, chapters, string(row.Status),
		row.UpdatedAt.Format(time.RFC3339Nano),
		row.MangaID, row.SiteID, row.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update manga source: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrCommitConflict
	}
	row.Version++

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*MangaSource, error) {
	var source MangaSource
	var status, chapters, updatedAt string

	err := row.Scan(
		&source.ID, &source.MangaID, &source.SiteID, &source.URLOnSite,
		&source.LastChapterKey, &source.LastChapterText, &source.LastChapterDisplay,
		&chapters, &status, &source.Version, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.Status = Status(status)
	source.NewlyFoundChapters = decodeChapters(chapters)
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		source.UpdatedAt = t
	}

	return &source, nil
}

func encodeChapters(chapters []string) string {
	if len(chapters) == 0 {
		return "[]"
	}

	data, err := json.Marshal(chapters)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeChapters(s string) []string {
	var chapters []string
	if err := json.Unmarshal([]byte(s), &chapters); err != nil || chapters == nil {
		return []string{}
	}
	return chapters
}

type pairKey struct {
	mangaID, siteID int64
}

// keyedMutex serializes writers per (manga, site) pair.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[pairKey]*keyedLock
}

type keyedLock struct {
	mu      sync.Mutex
	waiters int
}

func (k *keyedMutex) lock(key pairKey) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[pairKey]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.waiters++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
