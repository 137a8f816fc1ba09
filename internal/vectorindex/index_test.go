package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns fixed vectors per text so scores are deterministic.
type stubEmbedder struct {
	vectors map[string][]float32
}

func newStubEmbedder(extra map[string][]float32) *stubEmbedder {
	vectors := map[string][]float32{
		placeholderContent: {0, 0, 1},
	}
	for text, vec := range extra {
		vectors[text] = vec
	}
	return &stubEmbedder{vectors: vectors}
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec, ok := s.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("backend down")
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("backend down")
}

func TestNewSeedsPlaceholder(t *testing.T) {
	idx, err := New(context.Background(), newStubEmbedder(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Size())
}

func TestNewUnreachableEmbedder(t *testing.T) {
	_, err := New(context.Background(), failingEmbedder{})
	assert.ErrorIs(t, err, ErrInit)
}

func TestAddChunksReplacesPlaceholder(t *testing.T) {
	ctx := context.Background()
	embedder := newStubEmbedder(map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	})
	idx, err := New(ctx, embedder)
	require.NoError(t, err)

	merged, err := idx.AddChunks(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)

	// The placeholder-only index is superseded by a fresh handle.
	assert.NotSame(t, idx, merged)
	assert.Equal(t, 2, merged.Size())
	assert.Equal(t, 1, idx.Size())
}

func TestAddChunksAppendsAfterFirstMerge(t *testing.T) {
	ctx := context.Background()
	embedder := newStubEmbedder(map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
		"gamma": {1, 1, 0},
	})
	idx, err := New(ctx, embedder)
	require.NoError(t, err)

	idx, err = idx.AddChunks(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)

	appended, err := idx.AddChunks(ctx, []string{"gamma"})
	require.NoError(t, err)
	assert.Same(t, idx, appended)
	assert.Equal(t, 3, appended.Size())
}

func TestAddDocumentsEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	idx, err := New(ctx, newStubEmbedder(nil))
	require.NoError(t, err)

	same, err := idx.AddDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Same(t, idx, same)
	assert.Equal(t, 1, idx.Size())
}

func TestSearchMemoryFiltersBySource(t *testing.T) {
	ctx := context.Background()
	embedder := newStubEmbedder(map[string][]float32{
		"Q: hi\nA: hello": {1, 0, 0},
		"document text":   {1, 0, 0},
		"hi":              {1, 0, 0},
	})
	idx, err := New(ctx, embedder)
	require.NoError(t, err)

	idx, err = idx.AddDocuments(ctx, []Document{
		{Content: "Q: hi\nA: hello", Metadata: map[string]string{MetaSource: SourceMemory}},
		{Content: "document text", Metadata: map[string]string{MetaSource: SourceDocument}},
	})
	require.NoError(t, err)

	docs, err := idx.SearchMemory(ctx, "hi", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Q: hi\nA: hello", docs[0].Content)
}

func TestSearchMemoryRejectsZeroK(t *testing.T) {
	idx, err := New(context.Background(), newStubEmbedder(nil))
	require.NoError(t, err)

	_, err = idx.SearchMemory(context.Background(), "anything", 0)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestMergeDifferentEmbeddersPanics(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, newStubEmbedder(nil))
	require.NoError(t, err)
	b, err := New(ctx, newStubEmbedder(nil))
	require.NoError(t, err)

	assert.Panics(t, func() {
		a.mergeLocked(b)
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, cosineSimilarity(nil, []float32{1}))
	assert.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{0, 0}))
}
