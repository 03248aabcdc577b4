// Package rag provides the knowledge retrieval pipeline: text chunking,
// vector indexing, embedding, and threshold-filtered context assembly.
package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Retrieval failure taxonomy. Both degrade the affected request to "no
// context"; neither ever fails a suggestion outright.
var (
	ErrEmbeddingFailure = errors.New("embedding generation failed")
	ErrRetrievalFailure = errors.New("knowledge retrieval failed")
)

// SearchResult is one ranked hit from a vector index. Score is similarity
// normalized to [0,1] where 1 means identical.
type SearchResult struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float64
}

// Index stores chunk vectors and serves nearest-neighbor search. Both
// implementations (in-memory and Redis-backed) rank by cosine similarity
// mapped onto the [0,1] scale.
type Index interface {
	Upsert(ctx context.Context, ids []string, vectors [][]float32, contents []string, metadata []map[string]string) error
	Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]SearchResult, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

type memoryEntry struct {
	vector   []float32
	content  string
	metadata map[string]string
}

// MemoryIndex is a thread-safe in-process Index. It is the development and
// test backend; production deployments point at Redis.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]memoryEntry)}
}

// Upsert stores or replaces chunks by id. Vectors are unit-normalized on the
// way in so search reduces to a dot product.
func (m *MemoryIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, contents []string, metadata []map[string]string) error {
	if len(ids) != len(vectors) || len(ids) != len(contents) {
		return errors.New("ids, vectors, and contents must have the same length")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		var meta map[string]string
		if metadata != nil && i < len(metadata) {
			meta = metadata[i]
		}
		m.entries[id] = memoryEntry{
			vector:   normalize(vectors[i]),
			content:  contents[i],
			metadata: meta,
		}
	}
	return nil
}

// Search returns up to topK entries ranked by strictly non-increasing
// similarity, optionally restricted to entries whose metadata matches every
// filter key.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]SearchResult, error) {
	query := normalize(vector)

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SearchResult, 0, len(m.entries))
	for id, entry := range m.entries {
		if !matchesFilter(entry.metadata, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:       id,
			Content:  entry.content,
			Metadata: entry.metadata,
			Score:    similarity(query, entry.vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes chunks by id. Unknown ids are ignored.
func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// Count reports the number of stored chunks.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Clear removes every chunk.
func (m *MemoryIndex) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, want := range filter {
		if meta == nil || meta[k] != want {
			return false
		}
	}
	return true
}

// normalize returns the unit vector, leaving zero vectors untouched.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// similarity maps the cosine of two unit vectors onto [0,1]: 1 identical,
// 0.5 orthogonal, 0 opposite.
func similarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot > 1 {
		dot = 1
	}
	if dot < -1 {
		dot = -1
	}
	return (1 + dot) / 2
}
