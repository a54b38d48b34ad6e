package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/services"
	"github.com/tbourn/boss-title-updater/internal/utils"
)

// LedgerReader is the read side of the processing ledger.
type LedgerReader interface {
	Stats(ctx context.Context) (map[domain.Status]int64, error)
	ListPage(ctx context.Context, status domain.Status, page, pageSize int) ([]domain.ProcessedVideo, int64, error)
	Get(ctx context.Context, videoID string) (*domain.ProcessedVideo, error)
	ListRollbackCandidates(ctx context.Context) ([]domain.RollbackCandidate, error)
	Games(ctx context.Context) ([]domain.GameSummary, error)
}

// CacheReader reports identification cache statistics.
type CacheReader interface {
	Stats(ctx context.Context) (domain.CacheStats, error)
}

// Handlers serves the status endpoints.
type Handlers struct {
	ledger LedgerReader
	cache  CacheReader
}

// New binds the handlers to their read models. cache may be nil.
func New(ledger LedgerReader, cache CacheReader) *Handlers {
	return &Handlers{ledger: ledger, cache: cache}
}

// StatsResponse summarizes the ledger and the cache.
type StatsResponse struct {
	Videos map[string]int64   `json:"videos"`
	Total  int64              `json:"total"`
	Cache  *domain.CacheStats `json:"cache,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListVideosResponse is one page of ledger rows.
type ListVideosResponse struct {
	Videos     []domain.ProcessedVideo `json:"videos"`
	Pagination Pagination              `json:"pagination"`
}

// RollbackCandidatesResponse lists videos whose titles can be restored.
type RollbackCandidatesResponse struct {
	Candidates []domain.RollbackCandidate `json:"candidates"`
}

// GamesResponse lists per-game ledger totals.
type GamesResponse struct {
	Games []domain.GameSummary `json:"games"`
}

// Stats godoc
// @ID          getStats
// @Summary     Ledger and cache statistics
// @Description Row counts per processing status and identification cache totals.
// @Tags        status
// @Produce     json
// @Success     200 {object} StatsResponse
// @Failure     500 {object} ErrorResponse
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := h.ledger.Stats(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	resp := StatsResponse{Videos: make(map[string]int64, len(domain.AllStatuses))}
	for _, s := range domain.AllStatuses {
		resp.Videos[string(s)] = counts[s]
		resp.Total += counts[s]
	}
	if h.cache != nil {
		cs, err := h.cache.Stats(ctx)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
			return
		}
		resp.Cache = &cs
	}
	ok(c, resp)
}

// ListVideos godoc
// @ID          listVideos
// @Summary     List ledger rows
// @Description Paginated ledger rows, optionally filtered by status.
// @Tags        videos
// @Produce     json
// @Param       status    query string false "pending|processing|completed|failed|rolled_back"
// @Param       page      query int    false "Page (1-based)" default(1)
// @Param       page_size query int    false "Page size (max 100)" default(20)
// @Success     200 {object} ListVideosResponse
// @Failure     400 {object} ErrorResponse
// @Failure     500 {object} ErrorResponse
// @Router      /videos [get]
func (h *Handlers) ListVideos(c *gin.Context) {
	status := domain.Status(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeInvalidStatus, "unknown status "+string(status))
		return
	}
	page, pageSize := utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)

	items, total, err := h.ledger.ListPage(c.Request.Context(), status, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, ListVideosResponse{
		Videos: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetVideo godoc
// @ID          getVideo
// @Summary     One ledger row
// @Tags        videos
// @Produce     json
// @Param       id path string true "YouTube video ID"
// @Success     200 {object} domain.ProcessedVideo
// @Failure     404 {object} ErrorResponse
// @Failure     500 {object} ErrorResponse
// @Router      /videos/{id} [get]
func (h *Handlers) GetVideo(c *gin.Context) {
	row, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "video not in ledger")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		ok(c, row)
	}
}

// RollbackCandidates godoc
// @ID          listRollbackCandidates
// @Summary     Completed videos whose original title can be restored
// @Tags        videos
// @Produce     json
// @Success     200 {object} RollbackCandidatesResponse
// @Failure     500 {object} ErrorResponse
// @Router      /rollback-candidates [get]
func (h *Handlers) RollbackCandidates(c *gin.Context) {
	cands, err := h.ledger.ListRollbackCandidates(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if cands == nil {
		cands = []domain.RollbackCandidate{}
	}
	ok(c, RollbackCandidatesResponse{Candidates: cands})
}

// Games godoc
// @ID          listGames
// @Summary     Per-game ledger totals
// @Tags        status
// @Produce     json
// @Success     200 {object} GamesResponse
// @Failure     500 {object} ErrorResponse
// @Router      /games [get]
func (h *Handlers) Games(c *gin.Context) {
	games, err := h.ledger.Games(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if games == nil {
		games = []domain.GameSummary{}
	}
	ok(c, GamesResponse{Games: games})
}
