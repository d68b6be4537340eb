// Package embed provides a pluggable interface for text embedding providers.
//
// Semantic retrieval treats embedding as an external capability; this
// package wraps the HTTP providers and supplies a deterministic local
// fallback so the engine works offline and in tests.
package embed

import (
	"context"
	"errors"
	"math"
)

// ErrEmbeddingFailed indicates embedding generation failure.
var ErrEmbeddingFailed = errors.New("failed to generate embedding")

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dims returns the embedding dimensionality.
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// embedAll implements EmbedDocuments in terms of a single-text embed func.
func embedAll(ctx context.Context, texts []string, one func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := one(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
