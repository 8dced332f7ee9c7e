package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/dreamforge/internal/api/middleware"
	"github.com/timmy/dreamforge/internal/domain"
)

// ImageRetrier retries image generation for a processed dream.
type ImageRetrier interface {
	RetryImage(ctx context.Context, processedID, userID string) error
}

// ProcessedHandler handles processed dream endpoints.
type ProcessedHandler struct {
	images ImageRetrier
}

// NewProcessedHandler creates a new processed dream handler.
func NewProcessedHandler(images ImageRetrier) *ProcessedHandler {
	return &ProcessedHandler{images: images}
}

// RetryImage handles POST /api/v1/processed/:id/image/retry.
// Ownership is checked by the image pipeline.
func (h *ProcessedHandler) RetryImage(c *gin.Context) {
	id := c.Param("id")
	if err := h.images.RetryImage(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"_id":          id,
		"image_status": domain.ImageStatusPending,
	})
}
