package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/logger"
	"github.com/timmy/dreamforge/internal/metrics"
	"github.com/timmy/dreamforge/internal/notify"
	"github.com/timmy/dreamforge/internal/queue"
)

const (
	pipelineImage = "image"

	defaultImageFolder  = "dream-images"
	defaultImageTimeout = 120 * time.Second
)

// ImagePipelineConfig configures the image pipeline.
type ImagePipelineConfig struct {
	// Folder prefixes every object key.
	Folder string
	// Timeout bounds one image provider call.
	Timeout time.Duration
}

// ImagePipelineDeps are the collaborators of the image pipeline.
type ImagePipelineDeps struct {
	Processed ProcessedDreamStore
	Generator ImageGenerator
	Uploader  ImageUploader
	Notifier  notify.Notifier
	Queue     *queue.Queue
	Metrics   *metrics.PipelineMetrics
}

// imageRemover is implemented by uploaders that can delete replaced images.
type imageRemover interface {
	Delete(ctx context.Context, url string) error
}

// ImagePipeline generates and stores images for processed dreams. Unlike
// analysis it never retries on its own; a failed job ends in
// image_status=failed until a manual retry.
type ImagePipeline struct {
	processed ProcessedDreamStore
	generator ImageGenerator
	uploader  ImageUploader
	notifier  notify.Notifier
	queue     *queue.Queue
	metrics   *metrics.PipelineMetrics
	log       *logger.Logger
	cfg       ImagePipelineConfig
	now       func() time.Time
}

// NewImagePipeline creates the pipeline.
func NewImagePipeline(deps ImagePipelineDeps, log *logger.Logger, cfg *ImagePipelineConfig) *ImagePipeline {
	c := ImagePipelineConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.Folder = strings.Trim(c.Folder, "/")
	if c.Folder == "" {
		c.Folder = defaultImageFolder
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultImageTimeout
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &ImagePipeline{
		processed: deps.Processed,
		generator: deps.Generator,
		uploader:  deps.Uploader,
		notifier:  notifier,
		queue:     deps.Queue,
		metrics:   deps.Metrics,
		log:       log.WithField(logger.FieldPipeline, pipelineImage),
		cfg:       c,
		now:       time.Now,
	}
}

// Enqueue marks the processed dream pending and queues one image attempt.
func (p *ImagePipeline) Enqueue(ctx context.Context, processedID, prompt, userID string) error {
	if strings.TrimSpace(prompt) == "" {
		return domain.ErrNoImagePrompt
	}
	if err := p.processed.MarkImagePending(ctx, processedID); err != nil {
		return err
	}
	return p.enqueue(ctx, processedID, prompt, userID)
}

// RetryImage counts one manual image retry and queues a new attempt with
// the stored prompt. It returns domain.ErrRetryLimitExceeded once the limit
// is used up, and domain.ErrForbidden when userID does not own the record.
func (p *ImagePipeline) RetryImage(ctx context.Context, processedID, userID string) error {
	record, err := p.processed.FindByID(ctx, processedID)
	if err != nil {
		return err
	}
	if userID != "" && record.UserID != userID {
		return domain.ErrForbidden
	}
	if !record.HasImagePrompt() {
		return domain.ErrNoImagePrompt
	}
	if err := p.processed.IncrementImageRetry(ctx, processedID); err != nil {
		if errors.Is(err, domain.ErrRetryLimitExceeded) {
			p.metrics.IncRetry(pipelineImage, "rejected")
		}
		return err
	}
	p.metrics.IncRetry(pipelineImage, "manual")
	return p.enqueue(ctx, processedID, record.ImagePrompt, record.UserID)
}

func (p *ImagePipeline) enqueue(ctx context.Context, processedID, prompt, userID string) error {
	job := domain.ImageJob{
		ID:          uuid.New().String(),
		ProcessedID: processedID,
		Prompt:      prompt,
		UserID:      userID,
	}
	p.notifier.Emit(ctx, userID, domain.EventProcessedDreamUpdated, domain.ProcessedDreamUpdate{
		ID:          processedID,
		ImageStatus: domain.ImageStatusPending,
	})
	if err := p.queue.Enqueue(func(ctx context.Context) { p.Run(ctx, job) }); err != nil {
		return fmt.Errorf("failed to enqueue image job: %w", err)
	}
	return nil
}

// Run executes one image attempt and reports its outcome.
func (p *ImagePipeline) Run(ctx context.Context, job domain.ImageJob) domain.ImageResult {
	ctx = logger.SetJobID(ctx, job.ID)
	ctx = logger.WithField(ctx, logger.FieldProcessedID, job.ProcessedID)
	log := p.log.WithFields(logger.Fields{
		logger.FieldJobID:       job.ID,
		logger.FieldProcessedID: job.ProcessedID,
	})
	start := p.now()

	record, err := p.processed.FindByID(ctx, job.ProcessedID)
	if err != nil {
		log.WithError(err).Warn("Processed dream unavailable, dropping image job")
		p.metrics.ObserveAttempt(pipelineImage, metrics.OutcomeDropped, p.now().Sub(start))
		return domain.ImageResult{Success: false, Error: err.Error()}
	}
	if record.UserID != "" {
		job.UserID = record.UserID
	}
	previousURL := record.ImageURL

	if err := p.processed.MarkImageProcessing(ctx, job.ProcessedID); err != nil {
		return p.fail(ctx, log, job, record, err, start)
	}
	p.emit(ctx, job, record, domain.ImageStatusProcessing, "", "")

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	data, err := p.generator.Generate(callCtx, job.Prompt)
	cancel()
	if err != nil {
		return p.fail(ctx, log, job, record, err, start)
	}

	format, contentType, err := detectImageFormat(data)
	if err != nil {
		return p.fail(ctx, log, job, record, domain.NewProviderError(imageProvider, err), start)
	}

	url, err := p.uploader.UploadImage(ctx, data, UploadTarget{
		Folder:      p.cfg.Folder,
		Key:         fmt.Sprintf("%s/%d.%s", job.ProcessedID, p.now().UnixNano(), formatExtension(format)),
		ContentType: contentType,
	})
	if err != nil {
		return p.fail(ctx, log, job, record, err, start)
	}

	if err := p.processed.CompleteImage(ctx, job.ProcessedID, url); err != nil {
		return p.fail(ctx, log, job, record, err, start)
	}

	elapsed := p.now().Sub(start)
	p.metrics.ObserveAttempt(pipelineImage, metrics.OutcomeSuccess, elapsed)
	log.WithFields(logger.Fields{
		logger.FieldSize:       len(data),
		logger.FieldDurationMs: elapsed.Milliseconds(),
	}).Info("Dream image stored")
	p.emit(ctx, job, record, domain.ImageStatusCompleted, url, "")

	if previousURL != "" && previousURL != url {
		if remover, ok := p.uploader.(imageRemover); ok {
			if err := remover.Delete(ctx, previousURL); err != nil {
				log.WithError(err).Warn("Failed to delete replaced image")
			}
		}
	}

	return domain.ImageResult{Success: true, URL: url}
}

// fail marks the image failed. Persistence errors are logged and swallowed.
func (p *ImagePipeline) fail(ctx context.Context, log *logger.Logger, job domain.ImageJob, record *domain.ProcessedDream, cause error, start time.Time) domain.ImageResult {
	msg := failureMessage(cause)
	p.metrics.ObserveAttempt(pipelineImage, metrics.OutcomeFailure, p.now().Sub(start))
	log.WithError(cause).Warn("Dream image generation failed")

	if err := p.processed.FailImage(ctx, job.ProcessedID, msg); err != nil {
		log.WithError(err).Error("Failed to persist image failure")
	}
	p.emit(ctx, job, record, domain.ImageStatusFailed, "", msg)
	return domain.ImageResult{Success: false, Error: msg}
}

func (p *ImagePipeline) emit(ctx context.Context, job domain.ImageJob, record *domain.ProcessedDream, status domain.ImageStatus, url, errMsg string) {
	p.notifier.Emit(ctx, job.UserID, domain.EventProcessedDreamUpdated, domain.ProcessedDreamUpdate{
		ID:          job.ProcessedID,
		RawDreamID:  record.RawDreamID,
		ImageStatus: status,
		ImageURL:    url,
		Error:       errMsg,
	})
}
