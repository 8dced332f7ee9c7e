package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/logger"
	"github.com/timmy/dreamforge/internal/metrics"
	"github.com/timmy/dreamforge/internal/service"
)

// Requeuer puts unfinished work back on the queues.
type Requeuer interface {
	Requeue(ctx context.Context, opts service.RequeueOptions) (*service.RequeueStats, error)
}

// StatusCounter counts dreams per analysis status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[domain.AnalysisStatus]int64, error)
}

// AdminHandler handles admin operations.
type AdminHandler struct {
	recovery Requeuer
	counter  StatusCounter
	queues   []metrics.QueueStats

	// Requeue run state
	mu            sync.RWMutex
	isRunning     bool
	lastStats     *service.RequeueStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - recovery: requeue service.
//   - counter: dream status counter.
//   - queues: queues reported by Status.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(recovery Requeuer, counter StatusCounter, queues []metrics.QueueStats) *AdminHandler {
	return &AdminHandler{
		recovery: recovery,
		counter:  counter,
		queues:   queues,
	}
}

// RequeueRequest represents the requeue API request.
type RequeueRequest struct {
	Limit         int  `json:"limit" binding:"min=0,max=10000"`
	IncludeFailed bool `json:"include_failed"`
	Images        bool `json:"images"`
}

// QueueStatus is the depth of one queue.
type QueueStatus struct {
	Buffered int `json:"buffered"`
	Delayed  int `json:"delayed"`
	InFlight int `json:"in_flight"`
}

// StatusResponse represents the pipeline status.
type StatusResponse struct {
	Dreams        map[domain.AnalysisStatus]int64 `json:"dreams"`
	Queues        map[string]QueueStatus          `json:"queues"`
	IsRunning     bool                            `json:"requeue_running"`
	LastRunTime   string                          `json:"last_requeue_time,omitempty"`
	LastRunStatus string                          `json:"last_requeue_status,omitempty"`
	LastStats     *service.RequeueStats           `json:"last_requeue_stats,omitempty"`
}

// Requeue handles POST /api/v1/admin/requeue.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) Requeue(c *gin.Context) {
	ctx := c.Request.Context()

	var req RequeueRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.CtxWarn(ctx, "Invalid requeue request: client_ip=%s, error=%v", c.ClientIP(), err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "Requeue is already running"})
		return
	}
	h.isRunning = true
	h.mu.Unlock()

	start := time.Now()
	stats, err := h.recovery.Requeue(context.WithoutCancel(ctx), service.RequeueOptions{
		Limit:         req.Limit,
		IncludeFailed: req.IncludeFailed,
		Images:        req.Images,
	})
	duration := time.Since(start)

	h.mu.Lock()
	h.isRunning = false
	h.lastStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(logger.Fields{
			logger.FieldDurationMs: duration.Milliseconds(),
		}).Error(ctx, "Requeue failed: limit=%d, include_failed=%v, error=%v", req.Limit, req.IncludeFailed, err)
		respondError(c, err)
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: duration.Milliseconds(),
		logger.FieldCount:      stats.Dreams + stats.Images,
	}).Info(ctx, "Requeue completed: dreams=%d, images=%d, skipped=%d", stats.Dreams, stats.Images, stats.Skipped)

	c.JSON(http.StatusAccepted, stats)
}

// Status handles GET /api/v1/admin/status.
func (h *AdminHandler) Status(c *gin.Context) {
	counts, err := h.counter.CountByStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := StatusResponse{
		Dreams: counts,
		Queues: make(map[string]QueueStatus, len(h.queues)),
	}
	for _, q := range h.queues {
		resp.Queues[q.Name()] = QueueStatus{
			Buffered: q.Len(),
			Delayed:  q.Pending(),
			InFlight: q.InFlight(),
		}
	}

	h.mu.RLock()
	resp.IsRunning = h.isRunning
	resp.LastRunStatus = h.lastRunStatus
	resp.LastStats = h.lastStats
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	h.mu.RUnlock()

	c.JSON(http.StatusOK, resp)
}
