// Package arbiter escalates ambiguous classifications to an LLM. The
// model is only ever asked to choose among the classifier's candidate
// categories; it cannot invent a category, and "not enough information"
// is an accepted answer that sends the query on to clarification.
package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"stacksbot/internal/classifier"
	"stacksbot/internal/logging"
	"stacksbot/internal/router"
)

// Decision is the arbiter's verdict. Nil decisions (no verdict) are
// expressed by Arbitrate returning nil, not by a zero Decision.
type Decision struct {
	Category  string `json:"category"`
	Reasoning string `json:"reasoning"`
}

// Invocation records one arbiter call for the audit trail.
type Invocation struct {
	Timestamp  time.Time `json:"timestamp"`
	Query      string    `json:"query"`
	Candidates []string  `json:"candidates"`
	Decision   string    `json:"decision,omitempty"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Err        string    `json:"error,omitempty"`
	Elapsed    string    `json:"elapsed"`
}

// Config tunes the arbiter.
type Config struct {
	// MaxCandidates caps how many categories are offered to the model.
	MaxCandidates int
	// DailyBudget caps invocations per UTC day, 0 for unlimited.
	DailyBudget int64
	// HistorySize bounds the in-memory invocation ring.
	HistorySize int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxCandidates: 4,
		DailyBudget:   500,
		HistorySize:   128,
	}
}

// Arbiter asks an LLM to break ties between candidate categories.
type Arbiter struct {
	client LLMClient
	budget *Budget
	cfg    Config

	mu      sync.Mutex
	history []Invocation
	next    int
}

// New builds an arbiter over client. A nil client is allowed and makes
// Arbitrate always return nil, which disables escalation cleanly when no
// API key is configured.
func New(client LLMClient, cfg Config) *Arbiter {
	def := DefaultConfig()
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	return &Arbiter{
		client:  client,
		budget:  NewBudget(cfg.DailyBudget),
		cfg:     cfg,
		history: make([]Invocation, 0, cfg.HistorySize),
	}
}

const systemPrompt = `You route questions sent to a university library help desk.
You are given a student's question and a short list of candidate intent
categories with example phrasings. Pick the single best category FROM THE
LIST, or report that the question is too ambiguous to decide.

Respond with ONLY a JSON object, no prose around it:
  {"category": "<one of the listed category ids>", "reasoning": "<one sentence>"}
or, when genuinely undecidable:
  {"category": "insufficient_information", "reasoning": "<one sentence>"}`

// insufficientCategory is the model's way of declining to decide.
const insufficientCategory = "insufficient_information"

// jsonObjectRe pulls the first {...} block out of a response that may be
// wrapped in markdown fences or stray prose.
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// Arbitrate asks the LLM to pick among candidates. It only fires when at
// least two candidates exist and the gap between the top two scores is
// below marginThreshold; a comfortable margin needs no second opinion.
// It returns nil (no verdict) when the gate does not fire, the client is
// absent, the budget is exhausted, the call fails, the response cannot be
// parsed, the model picks a category that was not offered, or the model
// declares the question undecidable. The caller treats nil as "keep the
// classifier's top choice and fall through to clarification".
func (a *Arbiter) Arbitrate(ctx context.Context, query string, candidates []classifier.Candidate, marginThreshold float64) *Decision {
	if a.client == nil || len(candidates) < 2 {
		return nil
	}
	if margin := candidates[0].Score - candidates[1].Score; margin >= marginThreshold {
		return nil
	}
	if !a.budget.Allow() {
		logging.Arbiter("Daily budget exhausted (%d), skipping escalation", a.budget.Limit())
		return nil
	}

	timer := logging.StartTimer(logging.CategoryArbiter, "Arbitrate")
	defer timer.Stop()
	start := time.Now()

	if len(candidates) > a.cfg.MaxCandidates {
		candidates = candidates[:a.cfg.MaxCandidates]
	}
	offered := make([]string, len(candidates))
	for i, c := range candidates {
		offered[i] = c.Category
	}
	logging.ArbiterDebug("Escalating %q with candidates %v", truncate(query, 60), offered)

	raw, err := a.client.CompleteWithSystem(ctx, systemPrompt, buildUserPrompt(query, candidates))
	if err != nil {
		logging.Arbiter("Arbitration call failed: %v", err)
		a.record(Invocation{
			Timestamp: start, Query: query, Candidates: offered,
			Err: err.Error(), Elapsed: time.Since(start).String(),
		})
		return nil
	}

	decision, err := parseDecision(raw, offered)
	inv := Invocation{
		Timestamp: start, Query: query, Candidates: offered,
		Elapsed: time.Since(start).String(),
	}
	if err != nil {
		logging.Arbiter("Arbitration response rejected: %v", err)
		inv.Err = err.Error()
		a.record(inv)
		return nil
	}
	if decision == nil {
		logging.Arbiter("Arbiter declined: insufficient information for %q", truncate(query, 60))
		inv.Decision = insufficientCategory
		a.record(inv)
		return nil
	}

	inv.Decision = decision.Category
	inv.Reasoning = decision.Reasoning
	a.record(inv)
	logging.Arbiter("Arbiter picked %s for %q", decision.Category, truncate(query, 60))
	return decision
}

// buildUserPrompt lists each candidate with its display description and
// up to three example phrasings from the exemplar matches.
func buildUserPrompt(query string, candidates []classifier.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nCandidate categories:\n", query)
	for _, c := range candidates {
		info := router.InfoFor(c.Category)
		fmt.Fprintf(&b, "- %s: %s\n", c.Category, info.Description)
		examples := c.Examples
		if len(examples) > 3 {
			examples = examples[:3]
		}
		for _, ex := range examples {
			fmt.Fprintf(&b, "    e.g. %q\n", ex)
		}
	}
	return b.String()
}

// parseDecision validates the model's answer against the offered set.
// Returns (nil, nil) for an explicit insufficient-information answer.
func parseDecision(raw string, offered []string) (*Decision, error) {
	blob := jsonObjectRe.FindString(raw)
	if blob == "" {
		return nil, fmt.Errorf("no JSON object in response: %q", truncate(raw, 120))
	}

	var d Decision
	if err := json.Unmarshal([]byte(blob), &d); err != nil {
		return nil, fmt.Errorf("malformed decision JSON: %w", err)
	}
	d.Category = strings.TrimSpace(d.Category)
	if d.Category == "" {
		return nil, fmt.Errorf("decision has empty category")
	}
	if d.Category == insufficientCategory {
		return nil, nil
	}
	for _, c := range offered {
		if d.Category == c {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("category %q was not among the offered candidates", d.Category)
}

// record appends to the bounded invocation ring.
func (a *Arbiter) record(inv Invocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) < a.cfg.HistorySize {
		a.history = append(a.history, inv)
		return
	}
	a.history[a.next] = inv
	a.next = (a.next + 1) % a.cfg.HistorySize
}

// History returns a copy of recorded invocations, oldest first.
func (a *Arbiter) History() []Invocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Invocation, 0, len(a.history))
	if len(a.history) == a.cfg.HistorySize {
		out = append(out, a.history[a.next:]...)
		out = append(out, a.history[:a.next]...)
	} else {
		out = append(out, a.history...)
	}
	return out
}

// BudgetUsed reports today's invocation count.
func (a *Arbiter) BudgetUsed() int64 { return a.budget.Used() }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
