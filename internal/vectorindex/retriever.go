package vectorindex

import (
	"context"
	"fmt"
	"math"
)

// Search strategies recognised by Retriever.
const (
	StrategySimilarity     = "similarity"
	StrategyMMR            = "mmr"
	StrategyScoreThreshold = "similarity_score_threshold"
)

const mmrLambda = 0.5

// Retriever is a read-only, parameterised view over an index snapshot. It
// does not observe merges performed after its creation; the orchestrator
// rebuilds it whenever a document lands.
type Retriever struct {
	embedder       Embedder
	docs           []Document
	vectors        [][]float32
	strategy       string
	k              int
	scoreThreshold float32
}

// Retriever binds a query-time view with the given strategy and result
// bound. scoreThreshold only applies to the similarity_score_threshold
// strategy.
func (idx *Index) Retriever(strategy string, k int, scoreThreshold float64) (*Retriever, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: result count must be at least 1", ErrConfig)
	}
	switch strategy {
	case StrategySimilarity, StrategyMMR, StrategyScoreThreshold:
	default:
		return nil, fmt.Errorf("%w: unknown search strategy %q", ErrConfig, strategy)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return &Retriever{
		embedder:       idx.embedder,
		docs:           append([]Document(nil), idx.docs...),
		vectors:        append([][]float32(nil), idx.vectors...),
		strategy:       strategy,
		k:              k,
		scoreThreshold: float32(scoreThreshold),
	}, nil
}

// Retrieve returns up to k documents relevant to the query. The placeholder
// entry is never returned.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	scored := scoreAll(r.docs, r.vectors, queryVec, func(d Document) bool {
		return d.Metadata[MetaSource] != SourcePlaceholder
	})

	switch r.strategy {
	case StrategyMMR:
		return r.maximalMarginalRelevance(scored), nil
	case StrategyScoreThreshold:
		filtered := scored[:0]
		for _, s := range scored {
			if s.score >= r.scoreThreshold {
				filtered = append(filtered, s)
			}
		}
		return topDocs(filtered, r.k), nil
	default:
		return topDocs(scored, r.k), nil
	}
}

// maximalMarginalRelevance reranks the best 4k candidates, trading relevance
// against similarity to already-picked results.
func (r *Retriever) maximalMarginalRelevance(scored []scoredDoc) []Document {
	fetch := 4 * r.k
	if fetch > len(scored) {
		fetch = len(scored)
	}
	candidates := scored[:fetch]

	vecByContent := make(map[string][]float32, len(r.docs))
	for i := range r.docs {
		vecByContent[r.docs[i].Content] = r.vectors[i]
	}

	var picked []scoredDoc
	remaining := append([]scoredDoc(nil), candidates...)
	for len(picked) < r.k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := float32(math.Inf(-1))
		for i, cand := range remaining {
			redundancy := float32(0)
			for _, p := range picked {
				sim := cosineSimilarity(vecByContent[cand.doc.Content], vecByContent[p.doc.Content])
				if sim > redundancy {
					redundancy = sim
				}
			}
			score := mmrLambda*cand.score - (1-mmrLambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		picked = append(picked, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	out := make([]Document, len(picked))
	for i := range picked {
		out[i] = picked[i].doc
	}
	return out
}
