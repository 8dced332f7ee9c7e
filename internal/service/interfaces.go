package service

import (
	"context"
	"time"

	"github.com/timmy/dreamforge/internal/domain"
)

// Interpreter turns a raw dream into a structured analysis. Every failure,
// including in-band error payloads, is returned as a *domain.ProviderError.
type Interpreter interface {
	Interpret(ctx context.Context, dream *domain.RawDream) (*domain.Analysis, error)
	Version() string
}

// ImageGenerator renders a prompt into encoded image bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// UploadTarget names where an image is stored.
type UploadTarget struct {
	Folder      string
	Key         string
	ContentType string
}

// ImageUploader stores image bytes and returns their public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, data []byte, target UploadTarget) (string, error)
}

// DreamIndexer keeps a similarity index of interpretations.
type DreamIndexer interface {
	Index(ctx context.Context, processed *domain.ProcessedDream) error
	Similar(ctx context.Context, processed *domain.ProcessedDream, limit int) ([]SimilarDream, error)
}

// SimilarDream is one entry of a similarity lookup.
type SimilarDream struct {
	RawDreamID     string   `json:"raw_dream_id"`
	ProcessedID    string   `json:"processed_id"`
	Score          float32  `json:"score"`
	Keywords       []string `json:"keywords"`
	Interpretation string   `json:"interpretation"`
}

// DreamStore is the persistence the analysis pipeline needs for raw dreams.
type DreamStore interface {
	FindByID(ctx context.Context, id string) (*domain.RawDream, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	CompleteAnalysis(ctx context.Context, dream *domain.RawDream, analysis *domain.Analysis, version string, at time.Time) (*domain.ProcessedDream, error)
	RecordFailure(ctx context.Context, id string, cause string, retrying bool, at time.Time) error
	StopRetrying(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) error
}

// ProcessedDreamStore is the persistence the image pipeline needs for analyses.
type ProcessedDreamStore interface {
	FindByID(ctx context.Context, id string) (*domain.ProcessedDream, error)
	MarkImagePending(ctx context.Context, id string) error
	MarkImageProcessing(ctx context.Context, id string) error
	CompleteImage(ctx context.Context, id, url string) error
	FailImage(ctx context.Context, id, cause string) error
	IncrementImageRetry(ctx context.Context, id string) error
}
