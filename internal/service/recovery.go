package service

import (
	"context"
	"errors"

	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/logger"
)

// DreamLister finds raw dreams by analysis status.
type DreamLister interface {
	ListByStatus(ctx context.Context, statuses []domain.AnalysisStatus, limit int) ([]domain.RawDream, error)
}

// ProcessedDreamLister finds processed dreams by image status.
type ProcessedDreamLister interface {
	ListByImageStatus(ctx context.Context, statuses []domain.ImageStatus, limit int) ([]domain.ProcessedDream, error)
}

// RequeueOptions selects what RecoveryService.Requeue picks up.
type RequeueOptions struct {
	// Limit caps dreams and images separately. Zero means no limit.
	Limit int
	// IncludeFailed also resubmits dreams and images that ended failed.
	// Resubmission does not count against the manual retry limit. Failed
	// dreams that were waiting for an automatic retry are always resubmitted.
	IncludeFailed bool
	// Images also requeues image jobs.
	Images bool
}

// RequeueStats summarises one Requeue run.
type RequeueStats struct {
	Dreams  int `json:"dreams"`
	Images  int `json:"images"`
	Skipped int `json:"skipped"`
}

// RecoveryService puts work back on the queues after the in-memory queues
// were lost, typically on restart.
type RecoveryService struct {
	dreams    DreamLister
	processed ProcessedDreamLister
	analysis  *AnalysisPipeline
	images    *ImagePipeline
	log       *logger.Logger
}

// NewRecoveryService creates a RecoveryService. images may be nil.
func NewRecoveryService(dreams DreamLister, processed ProcessedDreamLister, analysis *AnalysisPipeline, images *ImagePipeline, log *logger.Logger) *RecoveryService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &RecoveryService{
		dreams:    dreams,
		processed: processed,
		analysis:  analysis,
		images:    images,
		log:       log.WithField(logger.FieldComponent, "recovery"),
	}
}

// Requeue submits every unfinished dream again and, when asked, every
// unfinished image. Dreams that already have a live cycle in this process
// are counted as skipped.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - opts: selection options.
//
// Returns:
//   - *RequeueStats: how many jobs were enqueued.
//   - error: non-nil if listing fails or the queue refuses work.
func (s *RecoveryService) Requeue(ctx context.Context, opts RequeueOptions) (*RequeueStats, error) {
	stats := &RequeueStats{}

	statuses := []domain.AnalysisStatus{
		domain.AnalysisStatusPending,
		domain.AnalysisStatusProcessing,
		domain.AnalysisStatusFailed,
	}
	dreams, err := s.dreams.ListByStatus(ctx, statuses, opts.Limit)
	if err != nil {
		return stats, err
	}
	for _, d := range dreams {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		// A failed dream with a scheduled retry lost that retry with the queue.
		if d.AnalysisStatus == domain.AnalysisStatusFailed && !opts.IncludeFailed && !d.AnalysisIsRetrying {
			stats.Skipped++
			continue
		}
		err := s.analysis.Submit(ctx, d.ID, d.UserID)
		if errors.Is(err, domain.ErrAnalysisInProgress) {
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, err
		}
		stats.Dreams++
	}

	if opts.Images && s.images != nil {
		imageStatuses := []domain.ImageStatus{domain.ImageStatusPending, domain.ImageStatusProcessing}
		if opts.IncludeFailed {
			imageStatuses = append(imageStatuses, domain.ImageStatusFailed)
		}
		records, err := s.processed.ListByImageStatus(ctx, imageStatuses, opts.Limit)
		if err != nil {
			return stats, err
		}
		for _, p := range records {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			err := s.images.Enqueue(ctx, p.ID, p.ImagePrompt, p.UserID)
			if errors.Is(err, domain.ErrNoImagePrompt) {
				stats.Skipped++
				continue
			}
			if err != nil {
				return stats, err
			}
			stats.Images++
		}
	}

	s.log.WithFields(logger.Fields{
		"dreams":         stats.Dreams,
		"images":         stats.Images,
		"skipped":        stats.Skipped,
		"include_failed": opts.IncludeFailed,
	}).Info("Requeued unfinished work")
	return stats, nil
}
