package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrInit means the embedding backend could not seed the index.
	ErrInit = errors.New("vector index init failed")
	// ErrConfig means an unusable retriever configuration was requested.
	ErrConfig = errors.New("invalid retriever config")
)

// Metadata keys and the provenance values stored under MetaSource.
const (
	MetaSource = "source"
	MetaUserID = "user_id"

	SourceDocument    = "document"
	SourceMemory      = "memory"
	SourcePlaceholder = "placeholder"
)

// placeholderContent seeds a fresh index so search never runs against an
// empty vector set. It is discarded on the first real merge.
const placeholderContent = "empty index placeholder"

const embedBatchSize = 10

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Document is the unit stored in the index: content plus provenance
// metadata. Documents are immutable once stored; the index only ever adds
// entries or is replaced wholesale.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Index is the mutable aggregate of documents and their embeddings. Exactly
// one embedder is associated with an index for its lifetime; merging indices
// built from different embedders is a programming error and panics.
//
// Mutations serialize on an internal lock: a merge reads then replaces whole
// slices, so concurrent writers would lose updates without it.
type Index struct {
	mu       sync.RWMutex
	embedder Embedder
	docs     []Document
	vectors  [][]float32
}

// New creates an index seeded with a single placeholder document. The
// placeholder is embedded eagerly so an unreachable embedding backend
// surfaces here as ErrInit rather than on first upload.
func New(ctx context.Context, embedder Embedder) (*Index, error) {
	vec, err := embedder.Embed(ctx, placeholderContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}
	return &Index{
		embedder: embedder,
		docs: []Document{{
			Content:  placeholderContent,
			Metadata: map[string]string{MetaSource: SourcePlaceholder},
		}},
		vectors: [][]float32{vec},
	}, nil
}

// Size returns the number of stored documents, placeholder included.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// AddChunks embeds bare text chunks as document-sourced entries and merges
// them in. Callers must adopt the returned handle: when the index still holds
// only the placeholder, the result is a brand-new index and the old handle is
// superseded.
func (idx *Index) AddChunks(ctx context.Context, chunks []string) (*Index, error) {
	docs := make([]Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = Document{
			Content:  chunk,
			Metadata: map[string]string{MetaSource: SourceDocument},
		}
	}
	return idx.AddDocuments(ctx, docs)
}

// AddDocuments embeds the documents, builds a fresh sub-index and merges it
// into the receiver under the placeholder-discard policy described on
// AddChunks.
func (idx *Index) AddDocuments(ctx context.Context, docs []Document) (*Index, error) {
	if len(docs) == 0 {
		return idx, nil
	}

	texts := make([]string, len(docs))
	for i := range docs {
		texts[i] = docs[i].Content
	}

	// Embed in bounded batches; embedding APIs commonly cap array input.
	var vectors [][]float32
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := idx.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed documents failed: %w", err)
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(docs) {
		return nil, errors.New("embedding count mismatch")
	}

	fresh := &Index{
		embedder: idx.embedder,
		docs:     docs,
		vectors:  vectors,
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.docs) <= 1 {
		// Only the placeholder remains; the fresh sub-index replaces it.
		return fresh, nil
	}
	idx.mergeLocked(fresh)
	return idx, nil
}

func (idx *Index) mergeLocked(other *Index) {
	if other.embedder != idx.embedder {
		panic("vectorindex: merging indices with different embedders")
	}
	idx.docs = append(idx.docs, other.docs...)
	idx.vectors = append(idx.vectors, other.vectors...)
}

// SearchMemory runs a similarity lookup restricted to chat-memory entries.
func (idx *Index) SearchMemory(ctx context.Context, query string, k int) ([]Document, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1", ErrConfig)
	}
	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	scored := scoreAll(idx.docs, idx.vectors, queryVec, func(d Document) bool {
		return d.Metadata[MetaSource] == SourceMemory
	})
	return topDocs(scored, k), nil
}

type scoredDoc struct {
	doc   Document
	score float32
}

func scoreAll(docs []Document, vectors [][]float32, query []float32, keep func(Document) bool) []scoredDoc {
	scored := make([]scoredDoc, 0, len(docs))
	for i := range docs {
		if keep != nil && !keep(docs[i]) {
			continue
		}
		scored = append(scored, scoredDoc{doc: docs[i], score: cosineSimilarity(query, vectors[i])})
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].score > scored[b].score })
	return scored
}

func topDocs(scored []scoredDoc, k int) []Document {
	if k > len(scored) {
		k = len(scored)
	}
	out := make([]Document, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, scored[i].doc)
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
