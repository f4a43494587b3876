// Package agent defines the downstream handler surface the router's
// decisions resolve to. Real agents (LibCal, Primo, ticketing) live
// outside this subsystem and register themselves here; the package ships
// stub implementations only for the two agents triage itself depends on,
// site search and human handoff.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stacksbot/internal/logging"
	"stacksbot/internal/router"
)

// Result is an agent's answer to a routed query.
type Result struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Agent handles queries routed to it.
type Agent interface {
	// ID returns the stable agent identifier routing decisions carry.
	ID() string
	Execute(ctx context.Context, query string) (Result, error)
}

// Registry maps agent ids to implementations. Registration happens at
// startup; lookups are concurrent.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry returns a registry preloaded with the built-in site search
// and human handoff stubs, so every routing decision resolves even before
// real agents register.
func NewRegistry() *Registry {
	r := &Registry{agents: make(map[string]Agent)}
	r.Register(&siteSearchAgent{})
	r.Register(&humanHandoffAgent{})
	return r
}

// Register installs an agent, replacing any previous one with the same id.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID()] = a
	logging.Routing("Agent registered: %s", a.ID())
}

// Get returns the agent for id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// IDs returns the registered agent ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Execute runs the decision's primary agent. An unknown primary falls
// back to human handoff rather than failing the request.
func (r *Registry) Execute(ctx context.Context, decision router.RoutingDecision, query string) (Result, error) {
	id := decision.PrimaryAgentID
	if id == "" {
		id = router.AgentHumanHandoff
	}
	a, ok := r.Get(id)
	if !ok {
		logging.Routing("No agent registered for %s, handing off", id)
		a, ok = r.Get(router.AgentHumanHandoff)
		if !ok {
			return Result{}, fmt.Errorf("agent %s not registered and no handoff agent available", id)
		}
	}
	return a.Execute(ctx, query)
}

// siteSearchAgent is the fallback for queries no specific agent owns.
type siteSearchAgent struct{}

func (s *siteSearchAgent) ID() string { return router.AgentSiteSearch }

func (s *siteSearchAgent) Execute(ctx context.Context, query string) (Result, error) {
	return Result{
		Success: true,
		Text:    fmt.Sprintf("Here are site search results for %q.", query),
	}, nil
}

// humanHandoffAgent hands the conversation to library staff.
type humanHandoffAgent struct{}

func (h *humanHandoffAgent) ID() string { return router.AgentHumanHandoff }

func (h *humanHandoffAgent) Execute(ctx context.Context, query string) (Result, error) {
	return Result{
		Success: true,
		Text:    "I'm connecting you with library staff who can help with this.",
	}, nil
}
