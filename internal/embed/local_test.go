package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocalEmbedder(128)
	ctx := context.Background()

	a, err := e.EmbedQuery(ctx, "I went hiking in the mountains")
	require.NoError(t, err)
	b, err := e.EmbedQuery(ctx, "I went hiking in the mountains")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
}

func TestLocalEmbedderNormalized(t *testing.T) {
	e := NewLocalEmbedder(64)
	vec, err := e.EmbedQuery(context.Background(), "normalize me")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func TestLocalEmbedderSimilarity(t *testing.T) {
	e := NewLocalEmbedder(384)
	ctx := context.Background()

	hiking1, err := e.EmbedQuery(ctx, "hiking in the mountains with friends")
	require.NoError(t, err)
	hiking2, err := e.EmbedQuery(ctx, "mountains hiking trip")
	require.NoError(t, err)
	cooking, err := e.EmbedQuery(ctx, "baking sourdough bread recipes")
	require.NoError(t, err)

	related := CosineSimilarity(hiking1, hiking2)
	unrelated := CosineSimilarity(hiking1, cooking)
	assert.Greater(t, related, unrelated)
}

func TestLocalEmbedderEmptyText(t *testing.T) {
	e := NewLocalEmbedder(32)
	vec, err := e.EmbedQuery(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vec, 32)
}

func TestEmbedDocuments(t *testing.T) {
	e := NewLocalEmbedder(32)
	vecs, err := e.EmbedDocuments(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestDefaultDims(t *testing.T) {
	assert.Equal(t, 384, NewLocalEmbedder(0).Dims())
}
