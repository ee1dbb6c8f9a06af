package registry

import (
	"path/filepath"
	"testing"

	"github.com/pevans/mangatrack/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: create a test registry
func createTestRegistry(t *testing.T) *MangaRegistry {
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r, err := NewMangaRegistry(db)
	require.NoError(t, err)
	return r
}

// TestAddManga_WithAliases verifies aliases are cleaned and stored
func TestAddManga_WithAliases(t *testing.T) {
	r := createTestRegistry(t)

	manga, err := r.AddManga("  Solo Leveling ", []string{"Na Honjaman Level Up", "", "Solo Leveling", "Na Honjaman Level Up", " Only I Level Up "})
	require.NoError(t, err)

	assert.NotZero(t, manga.ID)
	assert.Equal(t, "Solo Leveling", manga.PrimaryName)
	assert.Equal(t, []string{"Na Honjaman Level Up", "Only I Level Up"}, manga.Aliases)

	got, err := r.GetManga(manga.ID)
	require.NoError(t, err)
	assert.Equal(t, manga.Aliases, got.Aliases)
	assert.Equal(t, manga.PrimaryName, got.PrimaryName)
}

// TestAddManga_NoAliases verifies aliases serialize as an empty list
func TestAddManga_NoAliases(t *testing.T) {
	r := createTestRegistry(t)

	manga, err := r.AddManga("One Piece", nil)
	require.NoError(t, err)

	got, err := r.GetManga(manga.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Aliases)
	assert.Empty(t, got.Aliases)
}

// TestAddManga_Errors verifies validation and uniqueness
func TestAddManga_Errors(t *testing.T) {
	r := createTestRegistry(t)

	_, err := r.AddManga("   ", nil)
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = r.AddManga("One Piece", nil)
	require.NoError(t, err)

	_, err = r.AddManga("One Piece", []string{"OP"})
	assert.ErrorIs(t, err, ErrDuplicateManga)

	_, err = r.AddManga("  ONE   piece ", nil)
	assert.ErrorIs(t, err, ErrDuplicateManga, "names that match the same cards collide")

	_, err = r.AddManga("ＯＮＥ ＰＩＥＣＥ", nil)
	assert.ErrorIs(t, err, ErrDuplicateManga)

	mangas, err := r.ListManga()
	require.NoError(t, err)
	assert.Len(t, mangas, 1, "failed insert leaves no aliases or rows behind")
}

// TestAddManga_AliasMayNameAnotherManga verifies only primary names must be
// distinct; an alias shared with another manga's name is left to matching
func TestAddManga_AliasMayNameAnotherManga(t *testing.T) {
	r := createTestRegistry(t)

	_, err := r.AddManga("Sorcery Fight", []string{"Jujutsu Kaisen"})
	require.NoError(t, err)
	_, err = r.AddManga("jujutsu kaisen", nil)
	assert.NoError(t, err)
}

// TestNormalizeName verifies trimming, whitespace collapsing and case folding
func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "one piece", NormalizeName("  one   piece "))
	assert.Equal(t, NormalizeName("One Piece"), NormalizeName("  one   piece "))
	assert.Equal(t, "one piece", NormalizeName("ONE\tPIECE\n"))
	assert.Equal(t, "", NormalizeName("   "))
	assert.Equal(t, "one piece", NormalizeName("ＯＮＥ　ＰＩＥＣＥ"), "full-width letters and ideographic space")
	assert.Equal(t, NormalizeName("Strasse"), NormalizeName("STRAßE"))
}

// TestListManga verifies order and alias grouping
func TestListManga(t *testing.T) {
	r := createTestRegistry(t)

	_, err := r.AddManga("Jujutsu Kaisen", []string{"JJK"})
	require.NoError(t, err)
	_, err = r.AddManga("Sorcery Fight", []string{"Jujutsu Kaisen"})
	require.NoError(t, err)

	mangas, err := r.ListManga()
	require.NoError(t, err)
	require.Len(t, mangas, 2)
	assert.Equal(t, []string{"JJK"}, mangas[0].Aliases)
	assert.Equal(t, []string{"Sorcery Fight", "Jujutsu Kaisen"}, mangas[1].Names())
}

// TestDeleteManga verifies deletion cascades to aliases
func TestDeleteManga(t *testing.T) {
	r := createTestRegistry(t)

	manga, err := r.AddManga("Blue Lock", []string{"BL"})
	require.NoError(t, err)

	require.NoError(t, r.DeleteManga(manga.ID))
	assert.ErrorIs(t, r.DeleteManga(manga.ID), ErrMangaNotFound)

	_, err = r.GetManga(manga.ID)
	assert.ErrorIs(t, err, ErrMangaNotFound)

	var count int
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM manga_aliases").Scan(&count))
	assert.Zero(t, count)
}
