package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/logger"
	"github.com/timmy/dreamforge/internal/queue"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDreamNotFound),
		errors.Is(err, domain.ErrProcessedDreamNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRetryLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNoImagePrompt):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProcessedDreamExists),
		errors.Is(err, domain.ErrAnalysisInProgress):
		return http.StatusConflict
	case errors.Is(err, queue.ErrQueueFull),
		errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": ...}. Internal errors are logged and their
// detail is not sent to the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.CtxError(c.Request.Context(), "Request failed: path=%s, error=%v", c.Request.URL.Path, err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
