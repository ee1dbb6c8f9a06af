package mangatrack

import (
	"database/sql"
	"fmt"

	"github.com/pevans/mangatrack/mangasource"
	"github.com/pevans/mangatrack/registry"
	"github.com/pevans/mangatrack/sites"
	"github.com/pevans/mangatrack/storage"
)

// Stores bundles the three stores that share one database.
type Stores struct {
	DB       *sql.DB
	Sites    *sites.SiteStore
	Registry *registry.MangaRegistry
	Sources  *mangasource.MangaSourceStore
}

// OpenStores opens the database at path and initializes every store.
func OpenStores(path string) (*Stores, error) {
	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}

	stores := &Stores{DB: db}

	// Parents before the manga_sources table that references them
	if stores.Sites, err = sites.NewSiteStore(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open site store: %w", err)
	}
	if stores.Registry, err = registry.NewMangaRegistry(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open manga registry: %w", err)
	}
	if stores.Sources, err = mangasource.NewMangaSourceStore(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open manga source store: %w", err)
	}

	return stores, nil
}

// Close closes the database.
func (s *Stores) Close() error {
	return s.DB.Close()
}
