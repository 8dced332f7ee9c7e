package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/dreamforge/internal/domain"
)

func analysis(prompt string) *domain.Analysis {
	return &domain.Analysis{
		Sentiment:      domain.Sentiment{Positive: 10, Negative: 150, Neutral: 30},
		Keywords:       []string{"stairs", "descent"},
		Interpretation: "Going down into the unconscious.",
		ImagePrompt:    prompt,
	}
}

func TestProcessedDreamOnePerRawDream(t *testing.T) {
	repo := NewProcessedDreamRepository(openTestDB(t))
	ctx := context.Background()

	first := &domain.ProcessedDream{RawDreamID: "r1", UserID: "u1", Interpretation: "x"}
	require.NoError(t, repo.Create(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, domain.ImageStatusNone, first.ImageStatus)

	err := repo.Create(ctx, &domain.ProcessedDream{RawDreamID: "r1", UserID: "u1", Interpretation: "y"})
	assert.ErrorIs(t, err, domain.ErrProcessedDreamExists)

	got, err := repo.FindByRawDreamID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProcessedDreamNotFound)
}

func TestImageStateTransitions(t *testing.T) {
	repo := NewProcessedDreamRepository(openTestDB(t))
	ctx := context.Background()
	p := &domain.ProcessedDream{RawDreamID: "r1", UserID: "u1", Interpretation: "x", ImagePrompt: "fog"}
	require.NoError(t, repo.Create(ctx, p))

	require.NoError(t, repo.MarkImagePending(ctx, p.ID))
	require.NoError(t, repo.MarkImageProcessing(ctx, p.ID))
	require.NoError(t, repo.FailImage(ctx, p.ID, "content policy"))

	got, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImageStatusFailed, got.ImageStatus)
	assert.Equal(t, "content policy", got.ImageError)
	assert.Empty(t, got.ImageURL)

	require.NoError(t, repo.IncrementImageRetry(ctx, p.ID))
	got, err = repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImageStatusPending, got.ImageStatus)
	assert.Empty(t, got.ImageError)
	assert.Equal(t, 1, got.ImageRetryCount)

	require.NoError(t, repo.IncrementImageRetry(ctx, p.ID))
	require.NoError(t, repo.IncrementImageRetry(ctx, p.ID))
	assert.ErrorIs(t, repo.IncrementImageRetry(ctx, p.ID), domain.ErrRetryLimitExceeded)
	assert.ErrorIs(t, repo.IncrementImageRetry(ctx, "missing"), domain.ErrProcessedDreamNotFound)
	assert.ErrorIs(t, repo.CompleteImage(ctx, "missing", "u"), domain.ErrProcessedDreamNotFound)
}
