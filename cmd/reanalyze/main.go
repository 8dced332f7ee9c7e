package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/dreamforge/internal/app"
	"github.com/timmy/dreamforge/internal/config"
	"github.com/timmy/dreamforge/internal/logger"
	"github.com/timmy/dreamforge/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "dreamforge-reanalyze",
	})
	logger.SetDefaultLogger(appLogger)

	limit := flag.Int("limit", 100, "Maximum number of dreams (and images) to requeue, 0 for all")
	includeFailed := flag.Bool("failed", false, "Also resubmit dreams and images that ended failed")
	images := flag.Bool("images", true, "Also requeue unfinished image jobs")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger.WithFields(logger.Fields{
		"limit":  *limit,
		"failed": *includeFailed,
		"images": *images,
	}).Info("Starting reanalysis")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No live connections here; events are dropped.
	dreamforge, err := app.New(ctx, cfg, appLogger, app.Options{})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer dreamforge.Close()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	dreamforge.Start(ctx)

	stats, err := dreamforge.Recovery.Requeue(ctx, service.RequeueOptions{
		Limit:         *limit,
		IncludeFailed: *includeFailed,
		Images:        *images,
	})
	if err != nil {
		appLogger.WithError(err).Error("Failed to requeue dreams")
	} else {
		appLogger.WithFields(logger.Fields{
			"dreams":  stats.Dreams,
			"images":  stats.Images,
			"skipped": stats.Skipped,
		}).Info("Requeued")
	}

	// Image jobs are only enqueued once analysis finishes, so the analysis
	// queue drains first.
	start := time.Now()
	if err := dreamforge.AnalysisQueue.Drain(ctx); err != nil {
		appLogger.WithError(err).Warn("Analysis queue not drained")
	}
	if err := dreamforge.ImageQueue.Drain(ctx); err != nil {
		appLogger.WithError(err).Warn("Image queue not drained")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := dreamforge.Stop(stopCtx); err != nil {
		appLogger.WithError(err).Warn("Queues did not stop cleanly")
	}

	counts, err := dreamforge.Dreams.CountByStatus(context.Background())
	if err != nil {
		appLogger.WithError(err).Warn("Failed to count dreams")
		return
	}
	fields := logger.Fields{"duration_ms": time.Since(start).Milliseconds()}
	for status, n := range counts {
		fields[string(status)] = n
	}
	appLogger.WithFields(fields).Info("Reanalysis completed")
}
