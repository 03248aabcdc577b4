package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/calldeck/copilot/logger"
	"github.com/pkg/errors"
)

// RetrievalResult is the value object produced for one query. It is never
// mutated after construction.
type RetrievalResult struct {
	Query              string
	Chunks             []SearchResult
	ContextText        string
	RelevanceScores    []float64
	HasRelevantContent bool
}

// TopScore returns the highest relevance score, or zero when nothing passed
// the threshold.
func (r RetrievalResult) TopScore() float64 {
	top := 0.0
	for _, s := range r.RelevanceScores {
		if s > top {
			top = s
		}
	}
	return top
}

// AverageScore returns the mean relevance score of the surviving chunks.
func (r RetrievalResult) AverageScore() float64 {
	if len(r.RelevanceScores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range r.RelevanceScores {
		sum += s
	}
	return sum / float64(len(r.RelevanceScores))
}

// Retriever turns a query into a ranked, threshold-filtered, size-bounded
// context block.
type Retriever struct {
	index    Index
	embedder Embedder

	topK      int
	threshold float64
	budget    int
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithTopK sets how many candidates to pull from the index.
func WithTopK(k int) RetrieverOption {
	return func(r *Retriever) { r.topK = k }
}

// WithThreshold sets the minimum similarity a chunk must reach.
func WithThreshold(t float64) RetrieverOption {
	return func(r *Retriever) { r.threshold = t }
}

// WithContextBudget caps the assembled context block, in characters.
func WithContextBudget(chars int) RetrieverOption {
	return func(r *Retriever) { r.budget = chars }
}

// NewRetriever wires a retriever over the given index and embedder.
func NewRetriever(index Index, embedder Embedder, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		index:     index,
		embedder:  embedder,
		topK:      4,
		threshold: 0.7,
		budget:    8000,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve embeds the query, searches the index, drops everything under the
// threshold, and assembles the context block. Failures come back as an error
// alongside an empty result so callers can degrade to "no context".
func (r *Retriever) Retrieve(ctx context.Context, query string) (RetrievalResult, error) {
	empty := RetrievalResult{Query: query}

	processed := strings.Join(strings.Fields(strings.TrimSpace(query)), " ")
	if processed == "" {
		return empty, nil
	}

	vector, err := r.embedder.Embed(ctx, processed)
	if err != nil {
		return empty, errors.Wrap(ErrRetrievalFailure, err.Error())
	}

	candidates, err := r.index.Search(ctx, vector, r.topK, nil)
	if err != nil {
		return empty, errors.Wrap(ErrRetrievalFailure, err.Error())
	}

	relevant := candidates[:0:0]
	scores := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= r.threshold {
			relevant = append(relevant, c)
			scores = append(scores, c.Score)
		}
	}
	if dropped := len(candidates) - len(relevant); dropped > 0 {
		logger.Debug("filtered low-relevance chunks", "dropped", dropped, "threshold", r.threshold)
	}

	result := RetrievalResult{
		Query:              query,
		Chunks:             relevant,
		ContextText:        r.formatContext(relevant),
		RelevanceScores:    scores,
		HasRelevantContent: len(relevant) > 0,
	}

	logger.Debug("retrieval complete", "chunks", len(relevant), "top_score", result.TopScore())
	return result, nil
}

// formatContext concatenates chunk headers and contents in ranked order
// until the character budget runs out. The chunk that would overflow gets
// truncated with an ellipsis when a meaningful amount still fits.
func (r *Retriever) formatContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var parts []string
	total := 0

	for i, res := range results {
		title := res.Metadata["title"]
		if title == "" {
			title = res.ID
		}
		header := fmt.Sprintf("[Source %d: %s]", i+1, title)
		content := strings.TrimSpace(res.Content)
		block := header + "\n" + content

		if total+len(block) > r.budget {
			remaining := r.budget - total - len(header) - 10
			if remaining > 100 {
				parts = append(parts, header+"\n"+content[:remaining]+"...")
			}
			break
		}

		parts = append(parts, block)
		total += len(block) + 2
	}

	return strings.Join(parts, "\n\n---\n\n")
}
