package mangasource

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pevans/mangatrack/registry"
	"github.com/pevans/mangatrack/scraper"
	"github.com/pevans/mangatrack/sites"
	"github.com/pevans/mangatrack/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *MangaSourceStore
	sites    *sites.SiteStore
	registry *registry.MangaRegistry
}

// Test helper: create all three stores on one database
func createTestEnv(t *testing.T) *testEnv {
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	siteStore, err := sites.NewSiteStore(db)
	require.NoError(t, err)
	reg, err := registry.NewMangaRegistry(db)
	require.NoError(t, err)
	store, err := NewMangaSourceStore(db)
	require.NoError(t, err)

	return &testEnv{store: store, sites: siteStore, registry: reg}
}

func (e *testEnv) addSite(t *testing.T, name string) int64 {
	site, err := e.sites.CreateSite(scraper.NewSite(name, "https://"+name+".example", "/latest", "div", "h3", "span"))
	require.NoError(t, err)
	return site.ID
}

func (e *testEnv) addManga(t *testing.T, name string) int64 {
	manga, err := e.registry.AddManga(name, nil)
	require.NoError(t, err)
	return manga.ID
}

func newRow(mangaID, siteID int64, key float64, display string) *MangaSource {
	return &MangaSource{
		MangaID:            mangaID,
		SiteID:             siteID,
		URLOnSite:          "https://site.example/series/1",
		LastChapterKey:     key,
		LastChapterText:    display[len("Chapter "):],
		LastChapterDisplay: display,
		NewlyFoundChapters: []string{display},
		Status:             Active,
	}
}

// TestCommit_InsertThenGet verifies a new row round-trips
func TestCommit_InsertThenGet(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()
	siteID, mangaID := env.addSite(t, "asura"), env.addManga(t, "Solo Leveling")

	row := newRow(mangaID, siteID, 179, "Chapter 179")
	require.NoError(t, env.store.Commit(ctx, row))
	assert.Equal(t, int64(1), row.Version)
	assert.NotZero(t, row.ID)

	got, err := env.store.Get(ctx, mangaID, siteID)
	require.NoError(t, err)
	assert.Equal(t, 179.0, got.LastChapterKey)
	assert.Equal(t, "179", got.LastChapterText)
	assert.Equal(t, "Chapter 179", got.LastChapterDisplay)
	assert.Equal(t, []string{"Chapter 179"}, got.NewlyFoundChapters)
	assert.Equal(t, Active, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

// TestGet_NotFound verifies the missing-row error
func TestGet_NotFound(t *testing.T) {
	env := createTestEnv(t)

	_, err := env.store.Get(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

// TestCommit_VersionConflict verifies stale writers are rejected
func TestCommit_VersionConflict(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()
	siteID, mangaID := env.addSite(t, "asura"), env.addManga(t, "Solo Leveling")

	require.NoError(t, env.store.Commit(ctx, newRow(mangaID, siteID, 179, "Chapter 179")))

	first, err := env.store.Get(ctx, mangaID, siteID)
	require.NoError(t, err)
	second, err := env.store.Get(ctx, mangaID, siteID)
	require.NoError(t, err)

	first.LastChapterKey, first.LastChapterDisplay = 180, "Chapter 180"
	require.NoError(t, env.store.Commit(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.LastChapterKey, second.LastChapterDisplay = 181, "Chapter 181"
	assert.ErrorIs(t, env.store.Commit(ctx, second), ErrCommitConflict)

	got, err := env.store.Get(ctx, mangaID, siteID)
	require.NoError(t, err)
	assert.Equal(t, "Chapter 180", got.LastChapterDisplay, "losing write must not apply")
}

// TestCommit_DuplicateInsert verifies a second insert for a pair conflicts
func TestCommit_DuplicateInsert(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()
	siteID, mangaID := env.addSite(t, "asura"), env.addManga(t, "Solo Leveling")

	require.NoError(t, env.store.Commit(ctx, newRow(mangaID, siteID, 179, "Chapter 179")))
	assert.ErrorIs(t, env.store.Commit(ctx, newRow(mangaID, siteID, 179, "Chapter 179")), ErrCommitConflict)
}

// TestCommit_RetryDoesNotDoubleApply verifies a replayed commit is rejected
func TestCommit_RetryDoesNotDoubleApply(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()
	siteID, mangaID := env.addSite(t, "asura"), env.addManga(t, "Solo Leveling")

	require.NoError(t, env.store.Commit(ctx, newRow(mangaID, siteID, 179, "Chapter 179")))
	row, err := env.store.Get(ctx, mangaID, siteID)
	require.NoError(t, err)

	replay := *row
	row.LastChapterKey = 180
	require.NoError(t, env.store.Commit(ctx, row))

	replay.LastChapterKey = 180
	assert.ErrorIs(t, env.store.Commit(ctx, &replay), ErrCommitConflict)

	got, err := env.store.Get(ctx, mangaID, siteID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

// TestCommit_ConcurrentWriters verifies exactly one of many racing writers wins
func TestCommit_ConcurrentWriters(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()
	siteID, mangaID := env.addSite(t, "asura"), env.addManga(t, "Solo Leveling")
	require.NoError(t, env.store.Commit(ctx, newRow(mangaID, siteID, 1, "Chapter 1")))

	base, err := env.store.Get(ctx, mangaID, siteID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			row := *base
			row.LastChapterKey = float64(n + 2)
			if env.store.Commit(ctx, &row) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

// TestNewlyFoundJSON verifies the dashboard encoding
func TestNewlyFoundJSON(t *testing.T) {
	assert.Equal(t, "[]", (&MangaSource{}).NewlyFoundJSON())
	assert.Equal(t, "[]", (&MangaSource{NewlyFoundChapters: []string{}}).NewlyFoundJSON())
	assert.Equal(t, `["Chapter 180","Chapter 181"]`,
		(&MangaSource{NewlyFoundChapters: []string{"Chapter 180", "Chapter 181"}}).NewlyFoundJSON())
}

// TestViews verifies the left and inner joined listings
func TestViews(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, "asura")
	tracked := env.addManga(t, "Solo Leveling")
	env.addManga(t, "Blue Lock")

	row := newRow(tracked, siteID, 179, "Chapter 179")
	row.NewlyFoundChapters = nil
	require.NoError(t, env.store.Commit(ctx, row))

	all, err := env.store.AllMangas(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Blue Lock", all[0].MangaName)
	assert.Nil(t, all[0].SiteName, "untracked manga have no site fields")
	assert.Nil(t, all[0].NewlyFoundChapters)

	list, err := env.store.TrackedMangas(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Solo Leveling", list[0].MangaName)
	require.NotNil(t, list[0].SiteName)
	assert.Equal(t, "asura", *list[0].SiteName)
	assert.Equal(t, "Chapter 179", *list[0].LastChapterScraped)
	assert.Equal(t, "[]", *list[0].NewlyFoundChapters)
	assert.Equal(t, "active", *list[0].Status)

	data, err := json.Marshal(list[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"newly_found_chapters":"[]"`)
}

// TestCascadeDeletes verifies rows go with their manga or site
func TestCascadeDeletes(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()
	siteA, siteB := env.addSite(t, "asura"), env.addSite(t, "flame")
	mangaID := env.addManga(t, "Solo Leveling")

	require.NoError(t, env.store.Commit(ctx, newRow(mangaID, siteA, 179, "Chapter 179")))
	require.NoError(t, env.store.Commit(ctx, newRow(mangaID, siteB, 178, "Chapter 178")))

	require.NoError(t, env.sites.DeleteSite(siteA))
	_, err := env.store.Get(ctx, mangaID, siteA)
	assert.ErrorIs(t, err, ErrSourceNotFound)

	require.NoError(t, env.registry.DeleteManga(mangaID))
	rows, err := env.store.ListForSite(ctx, siteB)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
