package mangatrack

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pevans/mangatrack/mangasource"
	"github.com/pevans/mangatrack/registry"
	"github.com/pevans/mangatrack/scraper"
	"github.com/pevans/mangatrack/sites"
)

// PassRunner triggers a tracking pass.
type PassRunner interface {
	RunPass(ctx context.Context) (*PassReport, error)
}

// APIServer serves the dashboard API.
type APIServer struct {
	sites    *sites.SiteStore
	registry *registry.MangaRegistry
	sources  *mangasource.MangaSourceStore
	tracker  PassRunner
	log      *slog.Logger
}

// NewAPIServer creates a new API server.
func NewAPIServer(
	siteStore *sites.SiteStore,
	reg *registry.MangaRegistry,
	sources *mangasource.MangaSourceStore,
	tracker PassRunner,
	logger *slog.Logger,
) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIServer{
		sites:    siteStore,
		registry: reg,
		sources:  sources,
		tracker:  tracker,
		log:      logger,
	}
}

// SetupRouter configures the Gin router with all dashboard routes.
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/all-mangas", s.HandleAllMangas)
	router.GET("/manga-list", s.HandleMangaList)
	router.POST("/add-manga", s.HandleAddManga)
	router.DELETE("/delete-manga/:id", s.HandleDeleteManga)

	router.GET("/sites-with-last-seen", s.HandleSitesWithLastSeen)
	router.POST("/add-site", s.HandleAddSite)
	router.DELETE("/remove-site/:id", s.HandleRemoveSite)

	router.GET("/track-updates", s.HandleTrackUpdates)
	router.POST("/track-updates", s.HandleTrackUpdates)

	return router
}

// requestLogger logs one line per request through the server's slog logger.
func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		s.log.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
		)
	}
}

// MangaListResponse is the body of GET /all-mangas and GET /manga-list.
type MangaListResponse struct {
	Mangas []mangasource.MangaDetails `json:"mangas"`
}

// SitesResponse is the body of GET /sites-with-last-seen.
type SitesResponse struct {
	Sites []sites.SiteWithLastSeen `json:"sites"`
}

// AddMangaRequest is the body of POST /add-manga.
type AddMangaRequest struct {
	MangaName string   `json:"manga_name" binding:"required"`
	Aliases   []string `json:"aliases,omitempty"`
}

// AddSiteRequest is the body of POST /add-site.
type AddSiteRequest struct {
	Name               string `json:"name" binding:"required"`
	BaseURL            string `json:"base_url" binding:"required"`
	LatestUpdatesURL   string `json:"latest_updates_url"`
	CardSelector       string `json:"manga_card_selector"`
	TitleSelector      string `json:"title_selector"`
	ChapterSelector    string `json:"chapter_selector"`
	NavigationMode     string `json:"navigation_mode,omitempty"`
	LoadMoreButtonText string `json:"load_more_button_text,omitempty"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps domain errors to HTTP responses.
func (s *APIServer) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sites.ErrSiteNotFound), errors.Is(err, registry.ErrMangaNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, sites.ErrDuplicateSite), errors.Is(err, registry.ErrDuplicateManga):
		c.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	case errors.Is(err, scraper.ErrInvalidSite), errors.Is(err, registry.ErrEmptyName):
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
	default:
		s.log.Error("request failed", slog.String("path", c.Request.URL.Path), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// HandleAllMangas handles GET /all-mangas.
func (s *APIServer) HandleAllMangas(c *gin.Context) {
	mangas, err := s.sources.AllMangas(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, MangaListResponse{Mangas: mangas})
}

// HandleMangaList handles GET /manga-list.
func (s *APIServer) HandleMangaList(c *gin.Context) {
	mangas, err := s.sources.TrackedMangas(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, MangaListResponse{Mangas: mangas})
}

// HandleAddManga handles POST /add-manga.
func (s *APIServer) HandleAddManga(c *gin.Context) {
	var req AddMangaRequest

	// Bind JSON -- Gin validates required fields automatically
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
		return
	}

	manga, err := s.registry.AddManga(req.MangaName, req.Aliases)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, manga)
}

// HandleDeleteManga handles DELETE /delete-manga/{id}.
func (s *APIServer) HandleDeleteManga(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := s.registry.DeleteManga(id); err != nil {
		s.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleSitesWithLastSeen handles GET /sites-with-last-seen.
func (s *APIServer) HandleSitesWithLastSeen(c *gin.Context) {
	list, err := s.sites.ListWithLastSeen()
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SitesResponse{Sites: list})
}

// HandleAddSite handles POST /add-site.
func (s *APIServer) HandleAddSite(c *gin.Context) {
	var req AddSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
		return
	}

	site := scraper.NewSite(req.Name, req.BaseURL, req.LatestUpdatesURL, req.CardSelector, req.TitleSelector, req.ChapterSelector)
	if req.NavigationMode != "" {
		site.NavigationMode = scraper.NavigationMode(req.NavigationMode)
	}
	site.LoadMoreButtonText = req.LoadMoreButtonText

	created, err := s.sites.CreateSite(site)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// HandleRemoveSite handles DELETE /remove-site/{id}.
func (s *APIServer) HandleRemoveSite(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := s.sites.DeleteSite(id); err != nil {
		s.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleTrackUpdates handles GET /track-updates. It blocks until the pass is
// complete and returns its report.
func (s *APIServer) HandleTrackUpdates(c *gin.Context) {
	report, err := s.tracker.RunPass(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid ID"))
		return 0, false
	}
	return id, true
}
