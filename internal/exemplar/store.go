package exemplar

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stacksbot/internal/embedding"
	"stacksbot/internal/logging"
)

// Match is a retrieved exemplar with its similarity to the query.
type Match struct {
	Text        string
	Category    string
	ActionBased bool
	Priority    int
	InScope     bool
	Similarity  float64
	Rank        int // 1-based position in the result set
}

// Store is a similarity-searchable exemplar set. Implementations are
// read-only during request handling; replacement happens at the Index level.
type Store interface {
	// Search returns the top-K exemplars nearest to the query embedding.
	Search(queryEmbed []float32, topK int) ([]Match, error)

	// Len returns the number of exemplars held.
	Len() int

	// Version identifies the catalog snapshot this store was built from.
	Version() string

	// Close releases any backing resources.
	Close() error
}

// MemoryStore holds the embedded catalog in memory and searches it with
// brute-force cosine similarity. This is the default backend; catalogs of
// a few hundred exemplars don't need an ANN index.
type MemoryStore struct {
	mu         sync.RWMutex
	exemplars  []Exemplar
	embeddings [][]float32
	dimensions int
	version    string
}

// BuildMemoryStore embeds the catalog and returns a searchable store.
// The whole catalog is embedded in one batch; a partial build is an error,
// never a partially usable store.
func BuildMemoryStore(ctx context.Context, cat *Catalog, engine embedding.Engine) (*MemoryStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "BuildMemoryStore")
	defer timer.Stop()

	if cat == nil || len(cat.Exemplars) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	if engine == nil {
		return nil, fmt.Errorf("embedding engine required")
	}

	texts := make([]string, len(cat.Exemplars))
	for i, ex := range cat.Exemplars {
		texts[i] = ex.Text
	}

	var embeds [][]float32
	var err error
	if taskAware, ok := engine.(embedding.TaskAwareEngine); ok {
		embeds, err = taskAware.EmbedBatchWithTask(ctx, texts, embedding.TaskDocument)
	} else {
		embeds, err = engine.EmbedBatch(ctx, texts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to embed catalog: %w", err)
	}
	if len(embeds) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d exemplars", len(embeds), len(texts))
	}

	dims := engine.Dimensions()
	for i, vec := range embeds {
		if len(vec) != dims {
			return nil, fmt.Errorf("exemplar %d embedding has %d dimensions, want %d", i, len(vec), dims)
		}
	}

	logging.Store("Built in-memory exemplar store: version=%s entries=%d dims=%d",
		cat.Version, len(cat.Exemplars), dims)

	return &MemoryStore{
		exemplars:  cat.Exemplars,
		embeddings: embeds,
		dimensions: dims,
		version:    cat.Version,
	}, nil
}

// Search performs cosine similarity search over the in-memory set.
func (s *MemoryStore) Search(queryEmbed []float32, topK int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.exemplars) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	results, err := embedding.FindTopK(queryEmbed, s.embeddings, topK)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		ex := s.exemplars[r.Index]
		matches[i] = Match{
			Text:        ex.Text,
			Category:    ex.Category,
			ActionBased: ex.ActionBased,
			Priority:    ex.Priority,
			InScope:     ex.InScope,
			Similarity:  r.Similarity,
			Rank:        i + 1,
		}
	}
	return matches, nil
}

// Len returns the number of exemplars held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exemplars)
}

// Version identifies the catalog snapshot this store was built from.
func (s *MemoryStore) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// sortMatches orders matches by similarity descending with deterministic
// tie-breaks (priority desc, then text).
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].Text < matches[j].Text
	})
	for i := range matches {
		matches[i].Rank = i + 1
	}
}
