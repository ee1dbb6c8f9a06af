// Package registry stores the user-curated list of manga to track. Manga are
// only ever created by the user, never by a tracking pass.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pevans/mangatrack/storage"
)

// Custom errors for registry operations
var (
	ErrMangaNotFound  = errors.New("manga not found")
	ErrDuplicateManga = errors.New("manga with this name already exists")
	ErrEmptyName      = errors.New("manga name is required")
)

// Manga is a registered title. Aliases keep their case; matching normalizes
// them.
type Manga struct {
	ID          int64     `json:"id"`
	PrimaryName string    `json:"primary_name"`
	Aliases     []string  `json:"aliases"`
	CreatedAt   time.Time `json:"created_at"`
}

// Names returns the primary name followed by every alias.
func (m *Manga) Names() []string {
	return append([]string{m.PrimaryName}, m.Aliases...)
}

// MangaRegistry manages registered manga using SQLite.
type MangaRegistry struct {
	db *sql.DB
	mu sync.Mutex // serializes AddManga's name check and insert
}

// NewMangaRegistry creates a registry on an open database.
func NewMangaRegistry(db *sql.DB) (*MangaRegistry, error) {
	r := &MangaRegistry{db: db}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return r, nil
}

// initSchema creates the mangas and manga_aliases tables if they don't exist.
func (r *MangaRegistry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mangas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		primary_name TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS manga_aliases (
		manga_id INTEGER NOT NULL REFERENCES mangas(id) ON DELETE CASCADE,
		alias TEXT NOT NULL,
		PRIMARY KEY (manga_id, alias)
	);
	`

	_, err := r.db.Exec(schema)
	return err
}

// AddManga registers a manga with optional aliases. Blank aliases, aliases
// equal to the primary name and repeats are dropped. A primary name that
// normalizes to an existing one is a duplicate: "one piece" and "One  Piece"
// would match the same cards.
func (r *MangaRegistry) AddManga(primaryName string, aliases []string) (*Manga, error) {
	primaryName = strings.TrimSpace(primaryName)
	if primaryName == "" {
		return nil, ErrEmptyName
	}

	manga := &Manga{
		PrimaryName: primaryName,
		Aliases:     cleanAliases(primaryName, aliases),
		CreatedAt:   time.Now().UTC().Truncate(0),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	taken, err := primaryNameTaken(tx, primaryName)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateManga
	}

	result, err := tx.Exec(
		"INSERT INTO mangas (primary_name, created_at) VALUES (?, ?)",
		manga.PrimaryName, manga.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrDuplicateManga
		}
		return nil, fmt.Errorf("failed to insert manga: %w", err)
	}

	manga.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read manga id: %w", err)
	}

	for _, alias := range manga.Aliases {
		if _, err := tx.Exec("INSERT INTO manga_aliases (manga_id, alias) VALUES (?, ?)", manga.ID, alias); err != nil {
			return nil, fmt.Errorf("failed to insert alias: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit manga: %w", err)
	}

	return manga, nil
}

func primaryNameTaken(tx *sql.Tx, name string) (bool, error) {
	rows, err := tx.Query("SELECT primary_name FROM mangas")
	if err != nil {
		return false, fmt.Errorf("failed to query manga names: %w", err)
	}
	defer rows.Close()

	key := NormalizeName(name)
	for rows.Next() {
		var existing string
		if err := rows.Scan(&existing); err != nil {
			return false, fmt.Errorf("failed to scan manga name: %w", err)
		}
		if NormalizeName(existing) == key {
			return true, nil
		}
	}

	return false, rows.Err()
}

// GetManga retrieves a manga and its aliases.
func (r *MangaRegistry) GetManga(id int64) (*Manga, error) {
	var manga Manga
	var createdAt string

	err := r.db.QueryRow("SELECT id, primary_name, created_at FROM mangas WHERE id = ?", id).
		Scan(&manga.ID, &manga.PrimaryName, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrMangaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query manga: %w", err)
	}
	manga.CreatedAt = parseTime(createdAt)

	aliases, err := r.aliases(id)
	if err != nil {
		return nil, err
	}
	manga.Aliases = aliases[id]
	if manga.Aliases == nil {
		manga.Aliases = []string{}
	}

	return &manga, nil
}

// ListManga returns every registered manga ordered by ID.
func (r *MangaRegistry) ListManga() ([]Manga, error) {
	rows, err := r.db.Query("SELECT id, primary_name, created_at FROM mangas ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query manga: %w", err)
	}
	defer rows.Close()

	mangas := []Manga{}
	for rows.Next() {
		var manga Manga
		var createdAt string
		if err := rows.Scan(&manga.ID, &manga.PrimaryName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan manga: %w", err)
		}
		manga.CreatedAt = parseTime(createdAt)
		mangas = append(mangas, manga)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	aliases, err := r.aliases(0)
	if err != nil {
		return nil, err
	}
	for i := range mangas {
		mangas[i].Aliases = aliases[mangas[i].ID]
		if mangas[i].Aliases == nil {
			mangas[i].Aliases = []string{}
		}
	}

	return mangas, nil
}

// DeleteManga removes a manga. Aliases and manga-source rows cascade.
func (r *MangaRegistry) DeleteManga(id int64) error {
	result, err := r.db.Exec("DELETE FROM mangas WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete manga: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMangaNotFound
	}

	return nil
}

// aliases loads aliases grouped by manga ID; mangaID 0 loads all of them.
func (r *MangaRegistry) aliases(mangaID int64) (map[int64][]string, error) {
	query := "SELECT manga_id, alias FROM manga_aliases"
	var args []any
	if mangaID != 0 {
		query += " WHERE manga_id = ?"
		args = append(args, mangaID)
	}
	query += " ORDER BY manga_id, rowid"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var alias string
		if err := rows.Scan(&id, &alias); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		out[id] = append(out[id], alias)
	}

	return out, rows.Err()
}

func cleanAliases(primaryName string, aliases []string) []string {
	seen := map[string]bool{primaryName: true}
	out := []string{}

	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" || seen[alias] {
			continue
		}
		seen[alias] = true
		out = append(out, alias)
	}

	return out
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}
