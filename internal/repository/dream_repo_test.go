package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/dreamforge/internal/config"
	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/logger"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	}, logger.GetDefault())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newDream(id, userID string) *domain.RawDream {
	return &domain.RawDream{
		ID:          id,
		UserID:      userID,
		Title:       "Stairs",
		Description: "Endless stairs going down.",
		Mood:        domain.MoodScared,
		Intensity:   55,
		Themes:      domain.StringArray{"descent"},
	}
}

func TestDreamCreateAndFind(t *testing.T) {
	repo := NewDreamRepository(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newDream("d1", "u1")))

	got, err := repo.FindByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusPending, got.AnalysisStatus)
	assert.Equal(t, domain.StringArray{"descent"}, got.Themes)
	assert.Equal(t, domain.StringArray{}, got.Symbols)
	assert.Empty(t, got.AnalysisAttempts)

	_, err = repo.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrDreamNotFound)
}

func TestDreamAttemptLog(t *testing.T) {
	repo := NewDreamRepository(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newDream("d1", "u1")))

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkProcessing(ctx, "d1", t0))
	got, err := repo.FindByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusProcessing, got.AnalysisStatus)
	assert.True(t, got.AnalysisIsRetrying)

	require.NoError(t, repo.RecordFailure(ctx, "d1", "rate limited", true, t0.Add(time.Second)))
	got, err = repo.FindByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusFailed, got.AnalysisStatus)
	assert.True(t, got.AnalysisIsRetrying)

	_, err = repo.CompleteAnalysis(ctx, got, analysis(""), "m/v1", t0.Add(2*time.Second))
	require.NoError(t, err)
	got, err = repo.FindByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusCompleted, got.AnalysisStatus)
	assert.False(t, got.AnalysisIsRetrying)
	require.NotNil(t, got.LastProcessedAt)
	assert.True(t, got.LastProcessedAt.Equal(t0.Add(2*time.Second)))

	require.Len(t, got.AnalysisAttempts, 2)
	assert.Equal(t, domain.AttemptFailed, got.AnalysisAttempts[0].Status)
	assert.Equal(t, "rate limited", got.AnalysisAttempts[0].Error)
	assert.Equal(t, domain.AttemptSuccess, got.AnalysisAttempts[1].Status)
	assert.Empty(t, got.AnalysisAttempts[1].Error)
}

func TestDreamUpdatesOnMissingDream(t *testing.T) {
	repo := NewDreamRepository(openTestDB(t))
	ctx := context.Background()

	assert.ErrorIs(t, repo.MarkProcessing(ctx, "ghost", time.Now()), domain.ErrDreamNotFound)
	assert.ErrorIs(t, repo.RecordFailure(ctx, "ghost", "x", false, time.Now()), domain.ErrDreamNotFound)
	assert.ErrorIs(t, repo.StopRetrying(ctx, "ghost"), domain.ErrDreamNotFound)
	assert.ErrorIs(t, repo.IncrementRetry(ctx, "ghost"), domain.ErrDreamNotFound)
}

func TestCompleteAnalysisRollsBackWithoutDream(t *testing.T) {
	db := openTestDB(t)
	repo := NewDreamRepository(db)
	processed := NewProcessedDreamRepository(db)
	ctx := context.Background()

	// The processed record is written first inside the transaction; the
	// missing dream must undo it.
	_, err := repo.CompleteAnalysis(ctx, newDream("ghost", "u1"), analysis("fog"), "m/v1", time.Now())
	assert.ErrorIs(t, err, domain.ErrDreamNotFound)

	_, err = processed.FindByRawDreamID(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrProcessedDreamNotFound)
}

func TestCompleteAnalysisUpserts(t *testing.T) {
	db := openTestDB(t)
	repo := NewDreamRepository(db)
	processed := NewProcessedDreamRepository(db)
	ctx := context.Background()
	dream := newDream("r1", "u1")
	require.NoError(t, repo.Create(ctx, dream))

	created, err := repo.CompleteAnalysis(ctx, dream, analysis("stairs into fog"), "m/v1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100, created.Sentiment.Negative)
	assert.Equal(t, "u1", created.UserID)
	require.NoError(t, processed.CompleteImage(ctx, created.ID, "memory://x/1.png"))

	second := analysis("stairs into light")
	second.Interpretation = "Climbing back out."
	updated, err := repo.CompleteAnalysis(ctx, dream, second, "m/v2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	got, err := processed.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Climbing back out.", got.Interpretation)
	assert.Equal(t, "stairs into light", got.ImagePrompt)
	assert.Equal(t, "m/v2", got.AnalysisVersion)
	assert.Equal(t, domain.ImageStatusCompleted, got.ImageStatus, "image state survives re-analysis")
	assert.Equal(t, "memory://x/1.png", got.ImageURL)

	stored, err := repo.FindByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusCompleted, stored.AnalysisStatus)
	assert.Len(t, stored.AnalysisAttempts, 2)
}

func TestIncrementRetryBounded(t *testing.T) {
	repo := NewDreamRepository(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newDream("d1", "u1")))
	require.NoError(t, repo.RecordFailure(ctx, "d1", "boom", false, time.Now()))

	for i := 1; i <= domain.MaxManualRetries; i++ {
		require.NoError(t, repo.IncrementRetry(ctx, "d1"))
		got, err := repo.FindByID(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, i, got.RetryCount)
		assert.Equal(t, domain.AnalysisStatusPending, got.AnalysisStatus)
	}

	assert.ErrorIs(t, repo.IncrementRetry(ctx, "d1"), domain.ErrRetryLimitExceeded)
	got, err := repo.FindByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.MaxManualRetries, got.RetryCount)
}

func TestIncrementRetryConcurrent(t *testing.T) {
	repo := NewDreamRepository(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newDream("d1", "u1")))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.IncrementRetry(ctx, "d1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrRetryLimitExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, domain.MaxManualRetries, accepted)
	assert.Equal(t, 10-domain.MaxManualRetries, rejected)
	got, err := repo.FindByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.MaxManualRetries, got.RetryCount)
}

func TestListAndCountByStatus(t *testing.T) {
	repo := NewDreamRepository(openTestDB(t))
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, newDream(id, "u1")))
	}
	_, err := repo.CompleteAnalysis(ctx, newDream("b", "u1"), analysis(""), "m/v1", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.RecordFailure(ctx, "c", "boom", false, time.Now()))

	stuck, err := repo.ListByStatus(ctx, []domain.AnalysisStatus{
		domain.AnalysisStatusPending, domain.AnalysisStatusFailed,
	}, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(stuck))
	for _, d := range stuck {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	limited, err := repo.ListByStatus(ctx, []domain.AnalysisStatus{domain.AnalysisStatusPending, domain.AnalysisStatusFailed}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.AnalysisStatusPending])
	assert.Equal(t, int64(1), counts[domain.AnalysisStatusCompleted])
	assert.Equal(t, int64(1), counts[domain.AnalysisStatusFailed])
}
