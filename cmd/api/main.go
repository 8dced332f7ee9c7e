package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/timmy/dreamforge/internal/api"
	"github.com/timmy/dreamforge/internal/api/middleware"
	"github.com/timmy/dreamforge/internal/app"
	"github.com/timmy/dreamforge/internal/config"
	"github.com/timmy/dreamforge/internal/logger"
	"github.com/timmy/dreamforge/internal/metrics"
	"github.com/timmy/dreamforge/internal/notify"
	"github.com/timmy/dreamforge/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer func() { _ = logger.Sync() }()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	corsCfg := middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}
	hub := notify.NewHub(notify.HubConfig{
		SendBuffer:   cfg.Notify.SendBuffer,
		WriteTimeout: cfg.Notify.WriteTimeout,
		PingInterval: cfg.Notify.PingInterval,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.IsOriginAllowed(origin, corsCfg)
		},
	}, appLogger)

	dreamforge, err := app.New(ctx, cfg, appLogger, app.Options{
		Notifier: hub,
		Registry: registry,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer dreamforge.Close()

	dreamforge.Start(ctx)

	if cfg.Pipeline.RequeueOnStart {
		stats, err := dreamforge.Recovery.Requeue(ctx, service.RequeueOptions{Images: true})
		if err != nil {
			appLogger.WithError(err).Error("Failed to requeue unfinished work")
		} else {
			appLogger.WithFields(logger.Fields{
				"dreams":  stats.Dreams,
				"images":  stats.Images,
				"skipped": stats.Skipped,
			}).Info("Requeued unfinished work")
		}
	}

	deps := &api.Dependencies{
		Dreams:      dreamforge.Dreams,
		Processed:   dreamforge.Processed,
		Analysis:    dreamforge.Analysis,
		Images:      dreamforge.Images,
		Indexer:     dreamforge.Indexer,
		Events:      hub,
		Recovery:    dreamforge.Recovery,
		Counter:     dreamforge.Dreams,
		Queues:      []metrics.QueueStats{dreamforge.AnalysisQueue, dreamforge.ImageQueue},
		DBPing:      dreamforge.Ping,
		Gatherer:    registry,
		HTTPMetrics: metrics.NewHTTPMetrics(registry),
	}
	router := api.SetupRouter(deps, &api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: corsCfg,
	}, appLogger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	hub.Close()
	if err := dreamforge.Stop(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Queues did not finish before shutdown")
	}

	appLogger.Info("Server exited")
}
