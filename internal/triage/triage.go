// Package triage runs a question through the full pipeline: classify,
// escalate thin margins to the arbiter, clarify what stays ambiguous,
// and route the resolved category to an agent. It owns the
// per-conversation state the clarification exchange needs.
package triage

import (
	"context"
	"time"

	"stacksbot/internal/arbiter"
	"stacksbot/internal/clarify"
	"stacksbot/internal/classifier"
	"stacksbot/internal/logging"
	"stacksbot/internal/router"
)

// Config tunes pipeline decisions.
type Config struct {
	// MarginThreshold is the top-two score gap below which the arbiter
	// is consulted.
	MarginThreshold float64
	// ConfidenceFloor is the absolute confidence below which the user is
	// asked to clarify regardless of margin.
	ConfidenceFloor float64
	// MaxReclassificationDepth caps none-of-the-above retries before the
	// conversation is handed to a human.
	MaxReclassificationDepth int
	// SessionTTL bounds how long an idle clarification exchange is kept.
	SessionTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MarginThreshold:          0.15,
		ConfidenceFloor:          0.4,
		MaxReclassificationDepth: 1,
		SessionTTL:               30 * time.Minute,
	}
}

// Arbiter is the escalation surface the pipeline needs. Satisfied by
// *arbiter.Arbiter; tests substitute a stub.
type Arbiter interface {
	Arbitrate(ctx context.Context, query string, candidates []classifier.Candidate, marginThreshold float64) *arbiter.Decision
}

// Outcome is one pipeline turn's result. Exactly one of Routing and
// Clarification is set unless the turn only produced a message.
type Outcome struct {
	SessionID     string                  `json:"session_id"`
	Result        classifier.Result       `json:"result"`
	Routing       *router.RoutingDecision `json:"routing,omitempty"`
	Clarification *clarify.Set            `json:"clarification,omitempty"`
	Message       string                  `json:"message,omitempty"`
	State         clarify.State           `json:"-"`
}

// Pipeline wires the classifier, arbiter, clarification builder, and
// router together.
type Pipeline struct {
	classifier *classifier.Classifier
	arbiter    Arbiter
	sessions   *SessionStore
	cfg        Config
}

// New builds a pipeline. arbiter may be nil to disable escalation.
func New(c *classifier.Classifier, arb Arbiter, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.MarginThreshold <= 0 {
		cfg.MarginThreshold = def.MarginThreshold
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = def.ConfidenceFloor
	}
	if cfg.MaxReclassificationDepth <= 0 {
		cfg.MaxReclassificationDepth = def.MaxReclassificationDepth
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	return &Pipeline{
		classifier: c,
		arbiter:    arb,
		sessions:   NewSessionStore(cfg.SessionTTL),
		cfg:        cfg,
	}
}

// Sessions exposes the session store for pruning tickers and stats.
func (p *Pipeline) Sessions() *SessionStore { return p.sessions }

// Classify runs a fresh question through the pipeline. An empty
// sessionID starts a new conversation.
func (p *Pipeline) Classify(ctx context.Context, sessionID, query string) Outcome {
	sess := p.sessions.Get(sessionID)
	return p.classifyTurn(ctx, sess, query, query)
}

// classifyTurn classifies embedText (the possibly history-augmented form
// of original) and resolves the outcome against the session.
func (p *Pipeline) classifyTurn(ctx context.Context, sess Session, original, embedText string) Outcome {
	rlog := logging.WithRequestID(logging.CategorySession, sess.ID)
	rlog.Debug("classifying %q (depth=%d)", truncate(original, 60), sess.Depth)

	result := p.classifier.Classify(ctx, embedText, sess.History)
	sess.History = appendHistory(sess.History, classifier.Message{Role: "user", Text: original})

	// An index or embedding outage must never leave the user stuck on a
	// misrouted answer. Hand off.
	if result.IndexUnavailable {
		rlog.Warn("index unavailable, handing %q to staff", truncate(original, 60))
		decision := router.HumanHandoffDecision()
		result.Category = router.CategoryHumanHandoff
		sess.State = clarify.StateResolved
		sess.Set = nil
		p.sessions.Put(sess)
		return Outcome{
			SessionID: sess.ID,
			Result:    result,
			Routing:   &decision,
			Message:   "I'm having trouble looking that up right now, so I'm connecting you with library staff.",
			State:     clarify.StateResolved,
		}
	}

	// Nothing matched at all: no candidate is better than any other, so
	// the generic site search takes it.
	if result.Category == "" {
		result.Category = router.CategorySiteSearch
		return p.resolve(sess, result)
	}

	needsArbiter := result.Margin != nil && *result.Margin < p.cfg.MarginThreshold && len(result.Candidates) >= 2
	if needsArbiter && p.arbiter != nil {
		if d := p.arbiter.Arbitrate(ctx, original, result.Candidates, p.cfg.MarginThreshold); d != nil {
			rlog.Info("arbiter broke thin margin in favor of %s", d.Category)
			result.Category = d.Category
			result.LLMUsed = true
			result.LLMReasoning = d.Reasoning
			return p.resolve(sess, result)
		}
	}

	// Thin margin the arbiter could not break, or weak absolute
	// confidence: ask the user instead of guessing.
	if needsArbiter || result.Confidence < p.cfg.ConfidenceFloor {
		return p.askClarification(sess, original, result)
	}

	return p.resolve(sess, result)
}

// Resume applies the user's clarification choice.
func (p *Pipeline) Resume(ctx context.Context, sessionID, choiceID string) Outcome {
	sess := p.sessions.Get(sessionID)
	if sess.State != clarify.StateAwaitingChoice || sess.Set == nil {
		return Outcome{
			SessionID: sess.ID,
			Message:   "There's no pending question to clarify. Ask me something first.",
			State:     sess.State,
		}
	}

	rlog := logging.WithRequestID(logging.CategorySession, sess.ID).WithField("choice", choiceID)

	res := clarify.Resume(choiceID, sess.Set)
	switch {
	case res.SelectedCategory != "":
		rlog.Info("clarification answered with %s", res.SelectedCategory)
		result := classifier.Result{
			Category:   res.SelectedCategory,
			Confidence: 1, // the user said so
		}
		sess.Set = nil
		return p.resolve(sess, result)

	case res.ShouldReclassify:
		rlog.Info("none of the offered choices fit, awaiting details")
		sess.State = clarify.StateReclassifying
		p.sessions.Put(sess)
		return Outcome{
			SessionID: sess.ID,
			Message:   res.ResponseMessage,
			State:     clarify.StateReclassifying,
		}

	default:
		// Invalid choice id: keep waiting, re-prompt with the same set.
		rlog.Debug("unrecognized choice, re-prompting")
		p.sessions.Put(sess)
		return Outcome{
			SessionID:     sess.ID,
			Clarification: sess.Set,
			Message:       res.ResponseMessage,
			State:         clarify.StateAwaitingChoice,
		}
	}
}

// ProvideDetails feeds the user's free-text detail into a
// reclassification pass. Depth exhaustion hands off to a human.
func (p *Pipeline) ProvideDetails(ctx context.Context, sessionID, details string) Outcome {
	sess := p.sessions.Get(sessionID)
	if sess.State != clarify.StateReclassifying {
		// Treat stray detail as a fresh question.
		return p.classifyTurn(ctx, sess, details, details)
	}

	if sess.Depth >= p.cfg.MaxReclassificationDepth {
		logging.WithRequestID(logging.CategorySession, sess.ID).
			Warn("depth exhausted for %q: %v", truncate(sess.OriginalQuestion, 60), clarify.ErrDepthExceeded)
		decision := router.HumanHandoffDecision()
		result := classifier.Result{Category: router.CategoryHumanHandoff}
		sess.State = clarify.StateResolved
		sess.Set = nil
		p.sessions.Put(sess)
		return Outcome{
			SessionID: sess.ID,
			Result:    result,
			Routing:   &decision,
			Message:   "Let me get you to a person who can sort this out.",
			State:     clarify.StateResolved,
		}
	}

	sess.Depth++
	combined := clarify.CombineQuestion(sess.OriginalQuestion, details)
	return p.classifyTurn(ctx, sess, sess.OriginalQuestion, combined)
}

// resolve routes a final category and stores the settled session.
func (p *Pipeline) resolve(sess Session, result classifier.Result) Outcome {
	decision := router.Route(result.Category)
	sess.State = clarify.StateResolved
	sess.Set = nil
	sess.OriginalQuestion = ""
	sess.Depth = 0
	p.sessions.Put(sess)

	logging.Get(logging.CategoryRouting).StructuredLog("info", "resolved", map[string]interface{}{
		"session":  sess.ID,
		"category": result.Category,
		"agent":    decision.PrimaryAgentID,
		"oos":      decision.IsOutOfScope,
		"llm":      result.LLMUsed,
	})
	return Outcome{
		SessionID: sess.ID,
		Result:    result,
		Routing:   &decision,
		State:     clarify.StateResolved,
	}
}

// askClarification builds a choice set and parks the session on it. When
// no set can be built (no candidates survived) the turn hands off.
func (p *Pipeline) askClarification(sess Session, question string, result classifier.Result) Outcome {
	set, err := clarify.BuildSet(question, result.Candidates)
	if err != nil {
		logging.Clarify("Cannot build clarification set: %v", err)
		decision := router.HumanHandoffDecision()
		result.Category = router.CategoryHumanHandoff
		sess.State = clarify.StateResolved
		p.sessions.Put(sess)
		return Outcome{
			SessionID: sess.ID,
			Result:    result,
			Routing:   &decision,
			State:     clarify.StateResolved,
		}
	}

	result.NeedsClarification = true
	sess.State = clarify.StateAwaitingChoice
	sess.Set = set
	sess.OriginalQuestion = question
	p.sessions.Put(sess)

	return Outcome{
		SessionID:     sess.ID,
		Result:        result,
		Clarification: set,
		Message:       set.Prompt,
		State:         clarify.StateAwaitingChoice,
	}
}

// appendHistory keeps the last eight turns.
func appendHistory(history []classifier.Message, m classifier.Message) []classifier.Message {
	history = append(history, m)
	if len(history) > 8 {
		history = history[len(history)-8:]
	}
	return history
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
