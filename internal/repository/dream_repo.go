package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/dreamforge/internal/domain"
	"gorm.io/gorm"
)

// DreamRepository persists raw dreams and their attempt log.
type DreamRepository struct {
	db *gorm.DB
}

// NewDreamRepository creates a new DreamRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *DreamRepository: repository instance bound to db.
func NewDreamRepository(db *gorm.DB) *DreamRepository {
	return &DreamRepository{db: db}
}

// Create inserts a new raw dream.
func (r *DreamRepository) Create(ctx context.Context, dream *domain.RawDream) error {
	if err := r.db.WithContext(ctx).Create(dream).Error; err != nil {
		return &domain.PersistenceError{Op: "create dream", Err: err}
	}
	return nil
}

// FindByID loads a dream with its attempt log in chronological order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: dream ID.
//
// Returns:
//   - *domain.RawDream: the dream if found.
//   - error: domain.ErrDreamNotFound if missing, PersistenceError otherwise.
func (r *DreamRepository) FindByID(ctx context.Context, id string) (*domain.RawDream, error) {
	var dream domain.RawDream
	err := r.db.WithContext(ctx).
		Preload("AnalysisAttempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC, id ASC")
		}).
		First(&dream, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDreamNotFound
		}
		return nil, &domain.PersistenceError{Op: "find dream", Err: err}
	}
	return &dream, nil
}

// MarkProcessing flags the dream as being analysed.
func (r *DreamRepository) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "mark processing", id, map[string]interface{}{
		"analysis_status":      domain.AnalysisStatusProcessing,
		"analysis_is_retrying": true,
		"last_processed_at":    at,
	})
}

// CompleteAnalysis stores the analysis, marks the dream completed and
// appends a success attempt in one transaction, so a processed dream never
// exists for a dream that did not complete.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - dream: the analysed dream; ID and UserID are used.
//   - analysis: provider output.
//   - version: model and prompt version tag.
//   - at: completion time.
//
// Returns:
//   - *domain.ProcessedDream: the created or updated record.
//   - error: domain.ErrDreamNotFound if the dream is gone, PersistenceError otherwise.
func (r *DreamRepository) CompleteAnalysis(ctx context.Context, dream *domain.RawDream, analysis *domain.Analysis, version string, at time.Time) (*domain.ProcessedDream, error) {
	var processed *domain.ProcessedDream
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		saved, err := saveAnalysis(tx, dream, analysis, version)
		if err != nil {
			return err
		}
		res := tx.Model(&domain.RawDream{}).Where("id = ?", dream.ID).Updates(map[string]interface{}{
			"analysis_status":      domain.AnalysisStatusCompleted,
			"analysis_is_retrying": false,
			"last_processed_at":    at,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrDreamNotFound
		}
		if err := tx.Create(&domain.AnalysisAttempt{
			DreamID:   dream.ID,
			Status:    domain.AttemptSuccess,
			Timestamp: at,
		}).Error; err != nil {
			return err
		}
		processed = saved
		return nil
	})
	if err != nil {
		return nil, wrapPersistence("complete analysis", err)
	}
	return processed, nil
}

// RecordFailure marks the dream failed and appends a failed attempt in one
// transaction. retrying stays true while an automatic retry is scheduled.
func (r *DreamRepository) RecordFailure(ctx context.Context, id string, cause string, retrying bool, at time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.RawDream{}).Where("id = ?", id).Updates(map[string]interface{}{
			"analysis_status":      domain.AnalysisStatusFailed,
			"analysis_is_retrying": retrying,
			"last_processed_at":    at,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrDreamNotFound
		}
		return tx.Create(&domain.AnalysisAttempt{
			DreamID:   id,
			Status:    domain.AttemptFailed,
			Error:     cause,
			Timestamp: at,
		}).Error
	})
	return wrapPersistence("record failure", err)
}

// StopRetrying clears analysis_is_retrying.
func (r *DreamRepository) StopRetrying(ctx context.Context, id string) error {
	return r.update(ctx, "stop retrying", id, map[string]interface{}{
		"analysis_is_retrying": false,
	})
}

// IncrementRetry counts one manual retry and resets the dream to pending,
// but only while retry_count is below the limit. The check and the increment
// are a single conditional UPDATE so concurrent retries cannot overshoot.
// Returns:
//   - error: domain.ErrRetryLimitExceeded when the limit is reached,
//     domain.ErrDreamNotFound when the dream does not exist.
func (r *DreamRepository) IncrementRetry(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.RawDream{}).
		Where("id = ? AND retry_count < ?", id, domain.MaxManualRetries).
		Updates(map[string]interface{}{
			"retry_count":          gorm.Expr("retry_count + ?", 1),
			"analysis_status":      domain.AnalysisStatusPending,
			"analysis_is_retrying": false,
		})
	if res.Error != nil {
		return &domain.PersistenceError{Op: "increment retry", Err: res.Error}
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrRetryLimitExceeded
}

// ListByStatus returns dreams in any of the given states, oldest first.
func (r *DreamRepository) ListByStatus(ctx context.Context, statuses []domain.AnalysisStatus, limit int) ([]domain.RawDream, error) {
	var dreams []domain.RawDream
	query := r.db.WithContext(ctx).
		Where("analysis_status IN ?", statuses).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&dreams).Error; err != nil {
		return nil, &domain.PersistenceError{Op: "list dreams", Err: err}
	}
	return dreams, nil
}

// CountByStatus returns the number of dreams per analysis status.
func (r *DreamRepository) CountByStatus(ctx context.Context) (map[domain.AnalysisStatus]int64, error) {
	var rows []struct {
		AnalysisStatus domain.AnalysisStatus
		Count          int64
	}
	err := r.db.WithContext(ctx).Model(&domain.RawDream{}).
		Select("analysis_status, COUNT(*) AS count").
		Group("analysis_status").
		Scan(&rows).Error
	if err != nil {
		return nil, &domain.PersistenceError{Op: "count dreams", Err: err}
	}
	counts := make(map[domain.AnalysisStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.AnalysisStatus] = row.Count
	}
	return counts, nil
}

func (r *DreamRepository) update(ctx context.Context, op, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.RawDream{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return &domain.PersistenceError{Op: op, Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return domain.ErrDreamNotFound
	}
	return nil
}

// wrapPersistence leaves domain sentinels untouched so callers can match them.
func wrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDreamNotFound) ||
		errors.Is(err, domain.ErrProcessedDreamNotFound) ||
		errors.Is(err, domain.ErrProcessedDreamExists) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
