package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/dreamforge/internal/api/handler"
	"github.com/timmy/dreamforge/internal/api/middleware"
	"github.com/timmy/dreamforge/internal/logger"
	"github.com/timmy/dreamforge/internal/metrics"
	"github.com/timmy/dreamforge/internal/service"
)

// Dependencies are the services behind the HTTP API. Indexer, Events,
// Recovery and Gatherer are optional.
type Dependencies struct {
	Dreams    handler.DreamStore
	Processed handler.AnalysisReader
	Analysis  handler.AnalysisSubmitter
	Images    handler.ImageRetrier
	Indexer   service.DreamIndexer
	Events    handler.ConnectionServer
	Recovery  handler.Requeuer
	Counter   handler.StatusCounter
	Queues    []metrics.QueueStats
	DBPing    handler.Pinger

	// Gatherer serves /metrics; HTTPMetrics records requests.
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
}

// RouterConfig holds the HTTP settings the router needs.
type RouterConfig struct {
	Mode string
	CORS middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps *Dependencies, cfg *RouterConfig, log *logger.Logger) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.Metrics(deps.HTTPMetrics))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(deps.DBPing)
	dreamHandler := handler.NewDreamHandler(deps.Dreams, deps.Processed, deps.Analysis, deps.Indexer)
	processedHandler := handler.NewProcessedHandler(deps.Images)

	r.GET("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if deps.Events != nil {
		r.GET("/ws", middleware.RequireUser(), handler.NewEventsHandler(deps.Events).Serve)
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RequireUser())
	{
		// Dreams
		v1.POST("/dreams", dreamHandler.Create)
		v1.GET("/dreams/:id", dreamHandler.Get)
		v1.POST("/dreams/:id/retry", dreamHandler.Retry)
		v1.GET("/dreams/:id/analysis", dreamHandler.Analysis)
		v1.GET("/dreams/:id/similar", dreamHandler.Similar)

		// Images
		v1.POST("/processed/:id/image/retry", processedHandler.RetryImage)
	}

	if deps.Recovery != nil && deps.Counter != nil {
		adminHandler := handler.NewAdminHandler(deps.Recovery, deps.Counter, deps.Queues)
		admin := r.Group("/api/v1/admin")
		{
			admin.GET("/status", adminHandler.Status)
			admin.POST("/requeue", adminHandler.Requeue)
		}
	}

	return r
}
