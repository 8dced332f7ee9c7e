package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/repository"
)

// Embedder produces passage and query vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the subset of the vector repository the indexer uses.
type VectorStore interface {
	Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.DreamPayload) error
	SearchByUser(ctx context.Context, vector []float32, userID, excludeID string, topK int) ([]repository.VectorMatch, error)
}

// VectorIndexer implements DreamIndexer with an embedding API and Qdrant.
type VectorIndexer struct {
	embedder Embedder
	store    VectorStore
}

// NewVectorIndexer creates a VectorIndexer.
func NewVectorIndexer(embedder Embedder, store VectorStore) *VectorIndexer {
	return &VectorIndexer{embedder: embedder, store: store}
}

// Index embeds the interpretation and keywords of p and upserts its point.
func (x *VectorIndexer) Index(ctx context.Context, p *domain.ProcessedDream) error {
	vector, err := x.embedder.Embed(ctx, indexText(p))
	if err != nil {
		return fmt.Errorf("failed to embed interpretation: %w", err)
	}
	return x.store.Upsert(ctx, p.ID, vector, &repository.DreamPayload{
		ProcessedID:    p.ID,
		RawDreamID:     p.RawDreamID,
		UserID:         p.UserID,
		Keywords:       p.Keywords,
		Interpretation: p.Interpretation,
	})
}

// Similar returns the owner's dreams closest to p, excluding p itself.
func (x *VectorIndexer) Similar(ctx context.Context, p *domain.ProcessedDream, limit int) ([]SimilarDream, error) {
	if limit <= 0 {
		limit = 5
	}
	vector, err := x.embedder.EmbedQuery(ctx, indexText(p))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	matches, err := x.store.SearchByUser(ctx, vector, p.UserID, p.ID, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SimilarDream, 0, len(matches))
	for _, m := range matches {
		if m.Payload == nil {
			continue
		}
		results = append(results, SimilarDream{
			RawDreamID:     m.Payload.RawDreamID,
			ProcessedID:    m.Payload.ProcessedID,
			Score:          m.Score,
			Keywords:       m.Payload.Keywords,
			Interpretation: m.Payload.Interpretation,
		})
	}
	return results, nil
}

func indexText(p *domain.ProcessedDream) string {
	if len(p.Keywords) == 0 {
		return p.Interpretation
	}
	return strings.Join(p.Keywords, ", ") + "\n" + p.Interpretation
}
