// Package app wires configuration into the pipelines shared by the API
// server and the command-line tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/timmy/dreamforge/internal/config"
	"github.com/timmy/dreamforge/internal/logger"
	"github.com/timmy/dreamforge/internal/metrics"
	"github.com/timmy/dreamforge/internal/notify"
	"github.com/timmy/dreamforge/internal/queue"
	"github.com/timmy/dreamforge/internal/repository"
	"github.com/timmy/dreamforge/internal/service"
	"github.com/timmy/dreamforge/internal/storage"
	"gorm.io/gorm"
)

// App holds the long-lived components of one process.
type App struct {
	DB        *gorm.DB
	Dreams    *repository.DreamRepository
	Processed *repository.ProcessedDreamRepository
	Vectors   *repository.DreamVectorRepository
	Storage   storage.ObjectStorage

	AnalysisQueue *queue.Queue
	ImageQueue    *queue.Queue

	Analysis *service.AnalysisPipeline
	Images   *service.ImagePipeline
	Recovery *service.RecoveryService
	// Indexer is nil unless Qdrant is enabled.
	Indexer service.DreamIndexer

	log *logger.Logger
}

// Options are the process-specific parts of New.
type Options struct {
	Notifier notify.Notifier
	Registry prometheus.Registerer
}

// New opens the database, storage and optional vector index and builds
// both pipelines. Queues are created stopped; call Start.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	db, err := repository.InitDB(&cfg.Database, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		DB:        db,
		Dreams:    repository.NewDreamRepository(db),
		Processed: repository.NewProcessedDreamRepository(db),
		log:       log,
	}

	a.Storage, err = storage.NewStorage(ctx, &storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if cfg.Qdrant.Enabled {
		a.Vectors, err = repository.NewDreamVectorRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		if err := a.Vectors.EnsureCollection(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure Qdrant collection: %w", err)
		}
		embedding := service.NewEmbeddingService(&service.EmbeddingConfig{
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		})
		a.Indexer = service.NewVectorIndexer(embedding, a.Vectors)
		log.WithField("collection", cfg.Qdrant.Collection).Info("Dream similarity index enabled")
	}

	pipelineMetrics := metrics.NewPipelineMetrics(opts.Registry)

	a.AnalysisQueue = queue.New("analysis", queue.Options{
		Workers:  1,
		Capacity: cfg.Pipeline.Analysis.QueueSize,
		Logger:   log,
	})
	a.ImageQueue = queue.New("image", queue.Options{
		Workers:  cfg.Pipeline.Image.Workers,
		Capacity: cfg.Pipeline.Image.QueueSize,
		Logger:   log,
	})
	metrics.RegisterQueue(opts.Registry, a.AnalysisQueue)
	metrics.RegisterQueue(opts.Registry, a.ImageQueue)

	a.Images = service.NewImagePipeline(service.ImagePipelineDeps{
		Processed: a.Processed,
		Generator: service.NewImageGenerationService(&service.ImageGenerationConfig{
			Model:   cfg.ImageGen.Model,
			APIKey:  cfg.ImageGen.APIKey,
			BaseURL: cfg.ImageGen.BaseURL,
			Size:    cfg.ImageGen.Size,
			Timeout: cfg.ImageGen.Timeout,
		}),
		Uploader: service.NewStorageUploader(a.Storage),
		Notifier: opts.Notifier,
		Queue:    a.ImageQueue,
		Metrics:  pipelineMetrics,
	}, log, &service.ImagePipelineConfig{
		Folder:  cfg.Pipeline.Image.Folder,
		Timeout: cfg.ImageGen.Timeout,
	})

	a.Analysis = service.NewAnalysisPipeline(service.AnalysisPipelineDeps{
		Dreams: a.Dreams,
		Interpreter: service.NewInterpreterService(&service.InterpreterConfig{
			Model:     cfg.Analysis.Model,
			APIKey:    cfg.Analysis.APIKey,
			BaseURL:   cfg.Analysis.BaseURL,
			Timeout:   cfg.Analysis.Timeout,
			MaxTokens: cfg.Analysis.MaxTokens,
			Version:   cfg.Analysis.Version,
		}),
		Images:   a.Images,
		Indexer:  a.Indexer,
		Notifier: opts.Notifier,
		Queue:    a.AnalysisQueue,
		Metrics:  pipelineMetrics,
	}, log, &service.AnalysisPipelineConfig{
		MaxAttempts: cfg.Pipeline.Analysis.MaxAttempts,
		RetryDelay:  cfg.Pipeline.Analysis.RetryDelay,
		Timeout:     cfg.Analysis.Timeout,
	})

	a.Recovery = service.NewRecoveryService(a.Dreams, a.Processed, a.Analysis, a.Images, log)
	return a, nil
}

// Start launches the queue workers.
func (a *App) Start(ctx context.Context) {
	a.AnalysisQueue.Start(ctx)
	a.ImageQueue.Start(ctx)
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stop stops the analysis queue first, since it feeds the image queue,
// then the image queue. Each gets half of the context's remaining time.
func (a *App) Stop(ctx context.Context) error {
	budget := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline) / 2
	}

	analysisCtx, cancel := context.WithTimeout(ctx, budget)
	errAnalysis := a.AnalysisQueue.Stop(analysisCtx)
	cancel()

	errImage := a.ImageQueue.Stop(ctx)
	return errors.Join(errAnalysis, errImage)
}

// Close releases connections. It is safe after a failed New.
func (a *App) Close() {
	if a.Vectors != nil {
		if err := a.Vectors.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close Qdrant connection")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
