package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/timmy/dreamforge/internal/domain"
	"gorm.io/gorm"
)

// ProcessedDreamRepository persists analysis results and image state.
type ProcessedDreamRepository struct {
	db *gorm.DB
}

// NewProcessedDreamRepository creates a new ProcessedDreamRepository.
func NewProcessedDreamRepository(db *gorm.DB) *ProcessedDreamRepository {
	return &ProcessedDreamRepository{db: db}
}

// Create inserts a processed dream, rejecting a second record for the same raw dream.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - p: record to insert; an empty ID is filled with a new UUID.
//
// Returns:
//   - error: domain.ErrProcessedDreamExists on duplicates.
func (r *ProcessedDreamRepository) Create(ctx context.Context, p *domain.ProcessedDream) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createProcessed(tx, p)
	})
	return wrapPersistence("create processed dream", err)
}

func createProcessed(tx *gorm.DB, p *domain.ProcessedDream) error {
	var count int64
	if err := tx.Model(&domain.ProcessedDream{}).Where("raw_dream_id = ?", p.RawDreamID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrProcessedDreamExists
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ImageStatus == "" {
		p.ImageStatus = domain.ImageStatusNone
	}
	return tx.Create(p).Error
}

// FindByID retrieves a processed dream by its ID.
func (r *ProcessedDreamRepository) FindByID(ctx context.Context, id string) (*domain.ProcessedDream, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByRawDreamID retrieves the processed dream for a raw dream.
func (r *ProcessedDreamRepository) FindByRawDreamID(ctx context.Context, rawDreamID string) (*domain.ProcessedDream, error) {
	return r.first(ctx, "raw_dream_id = ?", rawDreamID)
}

func (r *ProcessedDreamRepository) first(ctx context.Context, query string, arg string) (*domain.ProcessedDream, error) {
	var p domain.ProcessedDream
	if err := r.db.WithContext(ctx).First(&p, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProcessedDreamNotFound
		}
		return nil, &domain.PersistenceError{Op: "find processed dream", Err: err}
	}
	return &p, nil
}

// saveAnalysis stores a successful analysis for a raw dream inside tx. A
// re-analysis updates the existing record in place so the one-per-dream rule
// holds. Image state is kept on update; a fresh prompt is scheduled by the
// caller.
func saveAnalysis(tx *gorm.DB, dream *domain.RawDream, analysis *domain.Analysis, version string) (*domain.ProcessedDream, error) {
	var saved domain.ProcessedDream
	err := tx.First(&saved, "raw_dream_id = ?", dream.ID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		saved = domain.ProcessedDream{
			RawDreamID: dream.ID,
			UserID:     dream.UserID,
		}
		saved.ApplyAnalysis(analysis, version)
		if err := createProcessed(tx, &saved); err != nil {
			return nil, err
		}
		return &saved, nil
	case err != nil:
		return nil, err
	}

	saved.ApplyAnalysis(analysis, version)
	err = tx.Model(&saved).Select(
		"sentiment_positive", "sentiment_negative", "sentiment_neutral",
		"keywords", "interpretation", "image_prompt", "video_prompt", "analysis_version",
	).Updates(&saved).Error
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// MarkImagePending sets image_status to pending and clears the last error.
func (r *ProcessedDreamRepository) MarkImagePending(ctx context.Context, id string) error {
	return r.update(ctx, "mark image pending", id, map[string]interface{}{
		"image_status": domain.ImageStatusPending,
		"image_error":  "",
	})
}

// MarkImageProcessing sets image_status to processing.
func (r *ProcessedDreamRepository) MarkImageProcessing(ctx context.Context, id string) error {
	return r.update(ctx, "mark image processing", id, map[string]interface{}{
		"image_status": domain.ImageStatusProcessing,
	})
}

// CompleteImage stores the public URL and marks the image completed.
func (r *ProcessedDreamRepository) CompleteImage(ctx context.Context, id, url string) error {
	return r.update(ctx, "complete image", id, map[string]interface{}{
		"image_status": domain.ImageStatusCompleted,
		"image_url":    url,
		"image_error":  "",
	})
}

// FailImage marks the image failed with its cause. Any previous URL is kept.
func (r *ProcessedDreamRepository) FailImage(ctx context.Context, id, cause string) error {
	return r.update(ctx, "fail image", id, map[string]interface{}{
		"image_status": domain.ImageStatusFailed,
		"image_error":  cause,
	})
}

// IncrementImageRetry counts one manual image retry while below the limit
// and resets image_status to pending, in a single conditional UPDATE.
// Returns:
//   - error: domain.ErrRetryLimitExceeded when the limit is reached,
//     domain.ErrProcessedDreamNotFound when the record does not exist.
func (r *ProcessedDreamRepository) IncrementImageRetry(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.ProcessedDream{}).
		Where("id = ? AND image_retry_count < ?", id, domain.MaxManualRetries).
		Updates(map[string]interface{}{
			"image_retry_count": gorm.Expr("image_retry_count + ?", 1),
			"image_status":      domain.ImageStatusPending,
			"image_error":       "",
		})
	if res.Error != nil {
		return &domain.PersistenceError{Op: "increment image retry", Err: res.Error}
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrRetryLimitExceeded
}

// ListByImageStatus returns processed dreams whose image is in any of the
// given states, oldest first.
func (r *ProcessedDreamRepository) ListByImageStatus(ctx context.Context, statuses []domain.ImageStatus, limit int) ([]domain.ProcessedDream, error) {
	var records []domain.ProcessedDream
	query := r.db.WithContext(ctx).
		Where("image_status IN ?", statuses).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, &domain.PersistenceError{Op: "list processed dreams", Err: err}
	}
	return records, nil
}

func (r *ProcessedDreamRepository) update(ctx context.Context, op, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.ProcessedDream{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return &domain.PersistenceError{Op: op, Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return domain.ErrProcessedDreamNotFound
	}
	return nil
}
