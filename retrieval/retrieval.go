// Package retrieval turns raw similarity-search candidates into a trustworthy
// evidence set. Two guards apply: an absolute relevance threshold against
// noise, and a dynamic-K cutoff relative to the top score against dilution of
// the context window with marginal chunks.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/clearpath/support-agent/embeddings"
	"github.com/clearpath/support-agent/store"
)

const (
	defaultTopK          = 5
	defaultDynamicKRatio = 0.8
)

// Searcher answers nearest-neighbor queries over the chunk index.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]store.ScoredChunk, error)
}

type Options struct {
	TopK               int
	RelevanceThreshold float64
	DynamicKRatio      float64
}

// Engine embeds the query, searches the index, and filters the candidates.
type Engine struct {
	searcher Searcher
	embedder embeddings.Embedder
	logger   *log.Logger
	opts     Options
}

func NewEngine(searcher Searcher, embedder embeddings.Embedder, logger *log.Logger, opts Options) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.DynamicKRatio <= 0 {
		opts.DynamicKRatio = defaultDynamicKRatio
	}

	return &Engine{
		searcher: searcher,
		embedder: embedder,
		logger:   logger,
		opts:     opts,
	}
}

// Retrieve returns the filtered evidence set for the query, sorted by
// descending relevance. An empty or whitespace query returns an empty set
// without touching the embedder or the index. Embedding and search failures
// propagate wrapped so the orchestrator can surface a backend failure.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]store.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		e.logger.Printf("empty query string provided, returning empty results")
		return nil, nil
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	candidates, err := e.searcher.Search(ctx, vectors[0], e.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(candidates) == 0 {
		e.logger.Printf("no chunks found for query")
		return nil, nil
	}

	filtered := Filter(candidates, e.opts.RelevanceThreshold, e.opts.DynamicKRatio)
	if len(filtered) == 0 {
		e.logger.Printf("no chunks above relevance threshold %.2f", e.opts.RelevanceThreshold)
		return nil, nil
	}

	e.logger.Printf("retrieved %d chunks (top score: %.3f, cutoff: %.3f)",
		len(filtered), filtered[0].RelevanceScore, filtered[0].RelevanceScore*e.opts.DynamicKRatio)
	return filtered, nil
}

// Filter applies the relevance threshold and the dynamic-K cutoff. Candidates
// scoring strictly above the threshold survive the first pass; the second
// keeps only those within ratio of the top surviving score, ties at the
// cutoff included. The result is sorted descending.
func Filter(candidates []store.ScoredChunk, threshold, ratio float64) []store.ScoredChunk {
	sorted := make([]store.ScoredChunk, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RelevanceScore > sorted[j].RelevanceScore
	})

	relevant := sorted[:0]
	for _, c := range sorted {
		if c.RelevanceScore > threshold {
			relevant = append(relevant, c)
		}
	}
	if len(relevant) == 0 {
		return nil
	}

	cutoff := relevant[0].RelevanceScore * ratio
	kept := relevant[:0]
	for _, c := range relevant {
		if c.RelevanceScore >= cutoff {
			kept = append(kept, c)
		}
	}
	return kept
}
