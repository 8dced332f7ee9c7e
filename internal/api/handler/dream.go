package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/dreamforge/internal/api/middleware"
	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/logger"
	"github.com/timmy/dreamforge/internal/service"
)

const (
	defaultSimilarLimit = 5
	maxSimilarLimit     = 20
)

// DreamStore reads and creates raw dreams.
type DreamStore interface {
	Create(ctx context.Context, dream *domain.RawDream) error
	FindByID(ctx context.Context, id string) (*domain.RawDream, error)
}

// AnalysisReader reads stored analyses.
type AnalysisReader interface {
	FindByRawDreamID(ctx context.Context, rawDreamID string) (*domain.ProcessedDream, error)
}

// AnalysisSubmitter starts and retries dream analysis.
type AnalysisSubmitter interface {
	Submit(ctx context.Context, dreamID, userID string) error
	Retry(ctx context.Context, dreamID, userID string) error
}

// DreamHandler handles dream endpoints.
type DreamHandler struct {
	dreams    DreamStore
	processed AnalysisReader
	analysis  AnalysisSubmitter
	indexer   service.DreamIndexer
}

// NewDreamHandler creates a new dream handler.
// Parameters:
//   - dreams: raw dream persistence.
//   - processed: analysis persistence.
//   - analysis: analysis pipeline.
//   - indexer: similarity index; nil disables /similar.
//
// Returns:
//   - *DreamHandler: initialized handler.
func NewDreamHandler(dreams DreamStore, processed AnalysisReader, analysis AnalysisSubmitter, indexer service.DreamIndexer) *DreamHandler {
	return &DreamHandler{
		dreams:    dreams,
		processed: processed,
		analysis:  analysis,
		indexer:   indexer,
	}
}

// CreateDreamRequest is the body of POST /api/v1/dreams.
type CreateDreamRequest struct {
	Title        string     `json:"title" binding:"required,max=200"`
	Description  string     `json:"description" binding:"required,max=20000"`
	Date         *time.Time `json:"date"`
	Mood         string     `json:"mood" binding:"required,oneof=happy sad scared confused peaceful"`
	Intensity    int        `json:"intensity" binding:"min=0,max=100"`
	Symbols      []string   `json:"symbols" binding:"max=50"`
	Themes       []string   `json:"themes" binding:"max=50"`
	Characters   []string   `json:"characters" binding:"max=50"`
	Settings     []string   `json:"settings" binding:"max=50"`
	Notes        string     `json:"notes" binding:"max=5000"`
	RealLifeLink string     `json:"real_life_link" binding:"max=5000"`
}

// Create handles POST /api/v1/dreams.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *DreamHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	var req CreateDreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: title and description must not be blank"})
		return
	}

	date := time.Now().UTC()
	if req.Date != nil {
		date = req.Date.UTC()
	}
	dream := &domain.RawDream{
		ID:             uuid.New().String(),
		UserID:         userID,
		Title:          strings.TrimSpace(req.Title),
		Description:    strings.TrimSpace(req.Description),
		Date:           date,
		Mood:           domain.Mood(req.Mood),
		Intensity:      req.Intensity,
		Symbols:        domain.StringArray(req.Symbols),
		Themes:         domain.StringArray(req.Themes),
		Characters:     domain.StringArray(req.Characters),
		Settings:       domain.StringArray(req.Settings),
		Notes:          req.Notes,
		RealLifeLink:   req.RealLifeLink,
		AnalysisStatus: domain.AnalysisStatusPending,
	}
	if err := h.dreams.Create(ctx, dream); err != nil {
		respondError(c, err)
		return
	}

	if err := h.analysis.Submit(ctx, dream.ID, userID); err != nil {
		// The dream stays pending; recovery picks it up once the queue has room.
		logger.CtxWarn(ctx, "Failed to submit dream for analysis: dream_id=%s, error=%v", dream.ID, err)
		respondError(c, err)
		return
	}

	logger.CtxInfo(ctx, "Dream submitted: dream_id=%s, mood=%s", dream.ID, dream.Mood)
	c.JSON(http.StatusAccepted, dream)
}

// Get handles GET /api/v1/dreams/:id.
func (h *DreamHandler) Get(c *gin.Context) {
	dream, ok := h.ownedDream(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dream)
}

// Retry handles POST /api/v1/dreams/:id/retry.
func (h *DreamHandler) Retry(c *gin.Context) {
	dream, ok := h.ownedDream(c)
	if !ok {
		return
	}

	if err := h.analysis.Retry(c.Request.Context(), dream.ID, dream.UserID); err != nil {
		respondError(c, err)
		return
	}

	// The dream read above predates the retry, so counters are left to GET.
	c.JSON(http.StatusAccepted, gin.H{
		"_id":             dream.ID,
		"analysis_status": domain.AnalysisStatusPending,
	})
}

// Analysis handles GET /api/v1/dreams/:id/analysis.
func (h *DreamHandler) Analysis(c *gin.Context) {
	dream, ok := h.ownedDream(c)
	if !ok {
		return
	}

	processed, err := h.processed.FindByRawDreamID(c.Request.Context(), dream.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, processed)
}

// Similar handles GET /api/v1/dreams/:id/similar.
func (h *DreamHandler) Similar(c *gin.Context) {
	if h.indexer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Similar dreams are not enabled"})
		return
	}
	dream, ok := h.ownedDream(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultSimilarLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}

	ctx := c.Request.Context()
	processed, err := h.processed.FindByRawDreamID(ctx, dream.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	results, err := h.indexer.Similar(ctx, processed, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dream_id": dream.ID,
		"results":  results,
	})
}

// ownedDream loads :id and checks it belongs to the caller. On failure the
// response is already written.
func (h *DreamHandler) ownedDream(c *gin.Context) (*domain.RawDream, bool) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dream ID is required"})
		return nil, false
	}

	dream, err := h.dreams.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if dream.UserID != middleware.UserID(c) {
		respondError(c, domain.ErrForbidden)
		return nil, false
	}
	return dream, true
}
