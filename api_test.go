package mangatrack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/mangatrack/mangasource"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeRunner records pass requests
type fakeRunner struct {
	calls  int
	report *PassReport
	err    error
}

func (f *fakeRunner) RunPass(context.Context) (*PassReport, error) {
	f.calls++
	return f.report, f.err
}

// Test helper: create a test router over real stores
func setupTestRouter(t *testing.T, runner PassRunner) (*gin.Engine, *Stores) {
	stores := createTestStores(t)
	if runner == nil {
		runner = newTestTracker(stores, nil)
	}
	server := NewAPIServer(stores.Sites, stores.Registry, stores.Sources, runner, discardLogger())
	return server.SetupRouter(), stores
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestHandleAddManga verifies registering manga over HTTP
func TestHandleAddManga(t *testing.T) {
	router, stores := setupTestRouter(t, &fakeRunner{})

	w := doRequest(router, http.MethodPost, "/add-manga", `{"manga_name":"Solo Leveling","aliases":["Only I Level Up"]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Solo Leveling", body["primary_name"])

	mangas, err := stores.Registry.ListManga()
	require.NoError(t, err)
	require.Len(t, mangas, 1)
	assert.Equal(t, []string{"Only I Level Up"}, mangas[0].Aliases)
}

// TestHandleAddManga_Errors verifies validation and duplicate handling
func TestHandleAddManga_Errors(t *testing.T) {
	router, _ := setupTestRouter(t, &fakeRunner{})

	w := doRequest(router, http.MethodPost, "/add-manga", `{"aliases":["x"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/add-manga", `{"manga_name":"One Piece"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(router, http.MethodPost, "/add-manga", `{"manga_name":"One Piece"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "conflict")
}

// TestHandleDeleteManga verifies deletion and its error cases
func TestHandleDeleteManga(t *testing.T) {
	router, stores := setupTestRouter(t, &fakeRunner{})
	manga, err := stores.Registry.AddManga("Blue Lock", nil)
	require.NoError(t, err)

	w := doRequest(router, http.MethodDelete, fmt.Sprintf("/delete-manga/%d", manga.ID), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(router, http.MethodDelete, fmt.Sprintf("/delete-manga/%d", manga.ID), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodDelete, "/delete-manga/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleAddSite verifies site creation and validation
func TestHandleAddSite(t *testing.T) {
	router, stores := setupTestRouter(t, &fakeRunner{})

	w := doRequest(router, http.MethodPost, "/add-site", `{
		"name": "Asura",
		"base_url": "https://asura.example",
		"latest_updates_url": "/latest",
		"manga_card_selector": "div.card",
		"title_selector": "h3 a",
		"chapter_selector": "span.chapter",
		"navigation_mode": "load_more",
		"load_more_button_text": "Load More"
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	list, err := stores.Sites.ListSites()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "load_more", string(list[0].NavigationMode))
	assert.Equal(t, "Load More", list[0].LoadMoreButtonText)

	// load_more without button text
	w = doRequest(router, http.MethodPost, "/add-site", `{
		"name": "Flame",
		"base_url": "https://flame.example",
		"latest_updates_url": "/latest",
		"manga_card_selector": "div.card",
		"title_selector": "h3 a",
		"chapter_selector": "span.chapter",
		"navigation_mode": "load_more"
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")

	// Duplicate name
	w = doRequest(router, http.MethodPost, "/add-site", `{
		"name": "Asura",
		"base_url": "https://other.example",
		"manga_card_selector": "div",
		"title_selector": "h3",
		"chapter_selector": "span"
	}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

// TestHandleRemoveSite verifies site deletion
func TestHandleRemoveSite(t *testing.T) {
	router, stores := setupTestRouter(t, &fakeRunner{})
	site := addTestSite(t, stores, "Asura", "https://asura.example")

	w := doRequest(router, http.MethodDelete, fmt.Sprintf("/remove-site/%d", site.ID), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(router, http.MethodDelete, fmt.Sprintf("/remove-site/%d", site.ID), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestHandleSitesWithLastSeen verifies the response shape
func TestHandleSitesWithLastSeen(t *testing.T) {
	router, stores := setupTestRouter(t, &fakeRunner{})
	addTestSite(t, stores, "Asura", "https://asura.example")

	w := doRequest(router, http.MethodGet, "/sites-with-last-seen", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sites []map[string]any `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Sites, 1)
	assert.Equal(t, "Asura", body.Sites[0]["site_name"])
	assert.Equal(t, "https://asura.example", body.Sites[0]["base_url"])
	assert.NotContains(t, body.Sites[0], "last_seen_manga")
}

// TestHandleMangaLists verifies the left and inner joined listings end to end
func TestHandleMangaLists(t *testing.T) {
	stores := createTestStores(t)
	_, srv := newMangaSite(t, map[string]string{"/latest": listing("Solo Leveling", "Chapter 179")})
	addTestSite(t, stores, "Asura", srv.URL)
	addTestManga(t, stores, "Solo Leveling")
	addTestManga(t, stores, "Blue Lock")

	tracker := newTestTracker(stores, nil)
	router := NewAPIServer(stores.Sites, stores.Registry, stores.Sources, tracker, discardLogger()).SetupRouter()

	w := doRequest(router, http.MethodGet, "/track-updates", "")
	require.Equal(t, http.StatusOK, w.Code)

	var report PassReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalNewChapters)
	require.Len(t, report.Sites, 1)
	assert.Equal(t, SiteOK, report.Sites[0].Status)

	type listResponse struct {
		Mangas []mangasource.MangaDetails `json:"mangas"`
	}

	w = doRequest(router, http.MethodGet, "/manga-list", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tracked listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tracked))
	require.Len(t, tracked.Mangas, 1)
	assert.Equal(t, "Solo Leveling", tracked.Mangas[0].MangaName)
	assert.Equal(t, "Chapter 179", *tracked.Mangas[0].LastChapterScraped)
	assert.Equal(t, `["Chapter 179"]`, *tracked.Mangas[0].NewlyFoundChapters)
	assert.Equal(t, "active", *tracked.Mangas[0].Status)

	w = doRequest(router, http.MethodGet, "/all-mangas", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all.Mangas, 2)

	// Unchanged site: the sentinel the dashboard checks for
	w = doRequest(router, http.MethodGet, "/track-updates", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(router, http.MethodGet, "/manga-list", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tracked))
	assert.Equal(t, "[]", *tracked.Mangas[0].NewlyFoundChapters)
}

// TestHandleTrackUpdates_Error verifies a pass that cannot start is a 500
func TestHandleTrackUpdates_Error(t *testing.T) {
	runner := &fakeRunner{err: errors.New("database is gone")}
	router, _ := setupTestRouter(t, runner)

	w := doRequest(router, http.MethodGet, "/track-updates", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, runner.calls)
	assert.NotContains(t, w.Body.String(), "database is gone")
}

// TestCORS verifies preflight requests are answered
func TestCORS(t *testing.T) {
	router, _ := setupTestRouter(t, &fakeRunner{})

	w := doRequest(router, http.MethodOptions, "/add-site", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
