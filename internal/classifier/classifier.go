// Package classifier resolves free-text questions to intent categories by
// nearest-neighbor search over an exemplar index. It produces a scored
// result with a confidence margin; deciding what to do with a thin margin
// (arbiter escalation, clarification) is the triage pipeline's job, not
// ours.
package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stacksbot/internal/embedding"
	"stacksbot/internal/exemplar"
	"stacksbot/internal/logging"
)

// Config tunes scoring and retrieval. Zero values are replaced by
// DefaultConfig at construction.
type Config struct {
	// TopK is how many nearest exemplars to retrieve per search.
	TopK int
	// MinSimilarity drops matches below this cosine similarity before
	// any category aggregation happens.
	MinSimilarity float64
	// PriorityWeight scales an exemplar's priority into its category's
	// score. Small on purpose: priority breaks ties, it does not
	// override semantics.
	PriorityWeight float64
	// ActionBoost is added once to a category's score when any of its
	// matched exemplars is action-based and the query looks imperative.
	ActionBoost float64
	// ParallelSearch searches the secondary store concurrently with the
	// primary when one is configured.
	ParallelSearch bool
	// EmbedTimeout bounds each query embedding call so a stalled backend
	// cannot hang classification.
	EmbedTimeout time.Duration
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		TopK:           8,
		MinSimilarity:  0.35,
		PriorityWeight: 0.05,
		ActionBoost:    0.1,
		ParallelSearch: true,
		EmbedTimeout:   15 * time.Second,
	}
}

// Message is one turn of conversation history. History is folded into the
// embedded query so follow-ups like "what about tomorrow?" inherit context
// from the preceding turns.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Candidate is one category under consideration, with the exemplar texts
// that put it there. The arbiter and the clarification builder both
// consume candidates rather than raw matches.
type Candidate struct {
	Category string   `json:"category"`
	Score    float64  `json:"score"`
	Examples []string `json:"examples"`
}

// Result is the outcome of a single classification pass.
type Result struct {
	// Category is the winning category, possibly out-of-scope marked.
	Category string `json:"category"`
	// Confidence is the winning category's aggregate score.
	Confidence float64 `json:"confidence"`
	// Margin is Confidence minus the runner-up's score. Nil when fewer
	// than two categories survived filtering, which means there is no
	// runner-up to be confused with.
	Margin *float64 `json:"margin,omitempty"`
	// AlternativeCategory is the runner-up, empty when Margin is nil.
	AlternativeCategory string `json:"alternative_category,omitempty"`
	// Candidates holds every surviving category, best first.
	Candidates []Candidate `json:"candidates,omitempty"`
	// SimilarExamples are the winning category's matched exemplar texts.
	SimilarExamples []string `json:"similar_examples,omitempty"`
	// IndexUnavailable is set when the exemplar index or the embedding
	// backend failed. The result then carries zero confidence and the
	// caller must fail safe to a human handoff.
	IndexUnavailable bool `json:"index_unavailable,omitempty"`
	// LLMUsed and LLMReasoning are filled in by the triage pipeline
	// when the arbiter overrides or confirms this result.
	LLMUsed      bool   `json:"llm_used,omitempty"`
	LLMReasoning string `json:"llm_reasoning,omitempty"`
	// NeedsClarification is set by the pipeline when the result is too
	// ambiguous to route directly.
	NeedsClarification bool `json:"needs_clarification,omitempty"`
}

// Classifier embeds queries and searches one or two exemplar indexes.
type Classifier struct {
	mu        sync.RWMutex
	cfg       Config
	engine    embedding.Engine
	primary   *exemplar.Index
	secondary *exemplar.Index
}

// New builds a classifier over the primary index. secondary may be nil;
// when present (e.g. a SQLite-backed store of learned exemplars) its
// matches are merged with the primary's before scoring.
func New(engine embedding.Engine, primary *exemplar.Index, secondary *exemplar.Index, cfg Config) (*Classifier, error) {
	if engine == nil {
		return nil, fmt.Errorf("classifier: embedding engine is required")
	}
	if primary == nil {
		return nil, fmt.Errorf("classifier: primary index is required")
	}
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = def.MinSimilarity
	}
	if cfg.PriorityWeight <= 0 {
		cfg.PriorityWeight = def.PriorityWeight
	}
	if cfg.ActionBoost <= 0 {
		cfg.ActionBoost = def.ActionBoost
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}
	return &Classifier{
		cfg:       cfg,
		engine:    engine,
		primary:   primary,
		secondary: secondary,
	}, nil
}

// SetConfig replaces the tuning at runtime.
func (c *Classifier) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Classify resolves query to a category. History, when present, is folded
// into the embedded text. Index or embedding failures do not return an
// error; they return a zero-confidence Result with IndexUnavailable set so
// the caller can fail safe.
func (c *Classifier) Classify(ctx context.Context, query string, history []Message) Result {
	timer := logging.StartTimer(logging.CategoryClassify, "Classify")
	defer timer.StopWithThreshold(2 * time.Second)

	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	embedText := foldHistory(query, history)

	vector, err := c.embedQuery(ctx, embedText, cfg.EmbedTimeout)
	if err != nil {
		logging.Classify("embedding failed, failing safe: %v", err)
		return unavailableResult()
	}

	matches, err := c.search(ctx, vector, cfg)
	if err != nil {
		logging.Classify("index search failed, failing safe: %v", err)
		return unavailableResult()
	}

	result := score(query, matches, cfg)
	logging.ClassifyDebug("query=%q category=%s confidence=%.3f margin=%v candidates=%d",
		truncate(query, 80), result.Category, result.Confidence, marginString(result.Margin), len(result.Candidates))
	return result
}

func (c *Classifier) embedQuery(ctx context.Context, text string, timeout time.Duration) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if ta, ok := c.engine.(embedding.TaskAwareEngine); ok {
		return ta.EmbedWithTask(ctx, text, embedding.TaskQuery)
	}
	return c.engine.Embed(ctx, text)
}

// search retrieves from the primary index, merging in the secondary
// index's matches when one is configured, then applies the similarity
// floor. A secondary failure is logged and ignored; a primary failure is
// fatal to the pass.
func (c *Classifier) search(ctx context.Context, vector []float32, cfg Config) ([]exemplar.Match, error) {
	if c.secondary == nil {
		matches, err := c.primary.Search(vector, cfg.TopK)
		if err != nil {
			return nil, err
		}
		return filterMatches(matches, cfg.MinSimilarity), nil
	}

	var primaryMatches, secondaryMatches []exemplar.Match
	if cfg.ParallelSearch {
		g, _ := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			primaryMatches, err = c.primary.Search(vector, cfg.TopK)
			return err
		})
		g.Go(func() error {
			var err error
			secondaryMatches, err = c.secondary.Search(vector, cfg.TopK)
			if err != nil {
				logging.Classify("secondary index search failed: %v", err)
				secondaryMatches = nil
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		var err error
		primaryMatches, err = c.primary.Search(vector, cfg.TopK)
		if err != nil {
			return nil, err
		}
		secondaryMatches, err = c.secondary.Search(vector, cfg.TopK)
		if err != nil {
			logging.Classify("secondary index search failed: %v", err)
			secondaryMatches = nil
		}
	}

	merged := mergeMatches(primaryMatches, secondaryMatches, cfg.TopK)
	return filterMatches(merged, cfg.MinSimilarity), nil
}

// filterMatches drops matches below the similarity floor.
func filterMatches(matches []exemplar.Match, minSimilarity float64) []exemplar.Match {
	kept := matches[:0:0]
	for _, m := range matches {
		if m.Similarity >= minSimilarity {
			kept = append(kept, m)
		}
	}
	return kept
}

// mergeMatches combines two ranked match lists, dropping duplicate
// exemplar texts (primary wins) and keeping the best topK overall.
func mergeMatches(primary, secondary []exemplar.Match, topK int) []exemplar.Match {
	seen := make(map[string]struct{}, len(primary))
	merged := make([]exemplar.Match, 0, len(primary)+len(secondary))
	for _, m := range primary {
		seen[m.Text] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range secondary {
		if _, dup := seen[m.Text]; dup {
			continue
		}
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Similarity != merged[j].Similarity {
			return merged[i].Similarity > merged[j].Similarity
		}
		return merged[i].Text < merged[j].Text
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}

// categoryScore accumulates one category's evidence during aggregation.
type categoryScore struct {
	category    string
	sum         float64
	count       int
	maxPriority int
	actionBased bool
	examples    []string
}

// score aggregates matches into per-category scores and picks a winner.
//
// A category's score is the mean similarity of its matches, plus
// PriorityWeight times its highest exemplar priority, plus ActionBoost
// when the category has an action-based exemplar and the query reads as a
// request to do something. Mean (not sum) keeps a category with one very
// close exemplar competitive against a category with many mediocre ones.
// Scores are capped at 1 so the boosts cannot push confidence past
// certainty.
func score(query string, matches []exemplar.Match, cfg Config) Result {
	if len(matches) == 0 {
		return Result{
			Category:   "",
			Confidence: 0,
		}
	}

	byCategory := make(map[string]*categoryScore)
	for _, m := range matches {
		cs, ok := byCategory[m.Category]
		if !ok {
			cs = &categoryScore{category: m.Category}
			byCategory[m.Category] = cs
		}
		cs.sum += m.Similarity
		cs.count++
		if m.Priority > cs.maxPriority {
			cs.maxPriority = m.Priority
		}
		if m.ActionBased {
			cs.actionBased = true
		}
		cs.examples = append(cs.examples, m.Text)
	}

	imperative := looksActionable(query)

	candidates := make([]Candidate, 0, len(byCategory))
	for _, cs := range byCategory {
		s := cs.sum / float64(cs.count)
		s += cfg.PriorityWeight * float64(cs.maxPriority)
		if cs.actionBased && imperative {
			s += cfg.ActionBoost
		}
		if s > 1 {
			s = 1
		}
		candidates = append(candidates, Candidate{
			Category: cs.category,
			Score:    s,
			Examples: cs.examples,
		})
	}

	// Deterministic ordering: score descending, category ascending on
	// ties so equal inputs always yield equal outputs.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Category < candidates[j].Category
	})

	result := Result{
		Category:        candidates[0].Category,
		Confidence:      candidates[0].Score,
		Candidates:      candidates,
		SimilarExamples: candidates[0].Examples,
	}
	if len(candidates) >= 2 {
		margin := candidates[0].Score - candidates[1].Score
		result.Margin = &margin
		result.AlternativeCategory = candidates[1].Category
	}
	return result
}

// actionVerbs are leading verbs that mark a query as a request to perform
// an action rather than a question about one.
var actionVerbs = []string{
	"book", "reserve", "borrow", "check out", "checkout", "renew",
	"cancel", "request", "i want to", "i need to", "i'd like to",
	"can i get", "sign me up", "put a hold",
}

func looksActionable(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, v := range actionVerbs {
		if strings.HasPrefix(q, v) || strings.Contains(q, " "+v+" ") {
			return true
		}
	}
	return false
}

// foldHistory prepends recent conversation turns to the query text so
// the embedding carries context. Only the last three turns are kept.
func foldHistory(query string, history []Message) string {
	if len(history) == 0 {
		return query
	}
	start := 0
	if len(history) > 3 {
		start = len(history) - 3
	}
	var b strings.Builder
	for _, m := range history[start:] {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	b.WriteString(query)
	return b.String()
}

func unavailableResult() Result {
	return Result{
		Confidence:       0,
		IndexUnavailable: true,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func marginString(m *float64) string {
	if m == nil {
		return "nil"
	}
	return fmt.Sprintf("%.3f", *m)
}
