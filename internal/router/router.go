package router

import (
	"stacksbot/internal/logging"
)

// RoutingDecision is the final mapping from a resolved category to
// downstream handlers. Derived deterministically; never mutated after
// creation.
type RoutingDecision struct {
	Category           string   `json:"category"`
	PrimaryAgentID     string   `json:"primary_agent_id,omitempty"`
	SecondaryAgentIDs  []string `json:"secondary_agent_ids,omitempty"`
	IsOutOfScope       bool     `json:"is_out_of_scope"`
	NeedsClarification bool     `json:"needs_clarification"`
}

// route is one row of the dispatch table.
type route struct {
	primary   string
	secondary []string
}

// routeTable maps category -> agents. Flat on purpose: no inheritance, no
// cascading conditionals. Adding a category is adding a row.
var routeTable = map[string]route{
	CategoryHoursRooms:        {primary: AgentLibCalHours},
	CategoryRoomBooking:       {primary: AgentLibCalBooking, secondary: []string{AgentLibCalHours}},
	CategoryCatalogSearch:     {primary: AgentPrimoSearch},
	CategoryEquipmentCheckout: {primary: AgentEquipmentDesk, secondary: []string{AgentCirculation}},
	CategoryTechSupport:       {primary: AgentTechTicketing},
	CategoryResearchHelp:      {primary: AgentResearchGuide, secondary: []string{AgentPrimoSearch}},
	CategoryAccount:           {primary: AgentCirculation},
	CategoryHumanHandoff:      {primary: AgentHumanHandoff},
	CategorySiteSearch:        {primary: AgentSiteSearch},
}

// Route resolves a category to a routing decision. It always produces an
// actionable decision:
//   - out-of-scope categories get no primary agent and the out-of-scope flag
//   - human_handoff always routes to the handoff agent
//   - unknown categories fall through to general site search
func Route(category string) RoutingDecision {
	timer := logging.StartTimer(logging.CategoryRouting, "Route")
	defer timer.Stop()

	if IsOutOfScope(category) {
		logging.Routing("Route: %s -> out of scope", category)
		return RoutingDecision{
			Category:     category,
			IsOutOfScope: true,
		}
	}

	r, ok := routeTable[category]
	if !ok {
		logging.Routing("Route: unknown category %q -> %s", category, AgentSiteSearch)
		return RoutingDecision{
			Category:       category,
			PrimaryAgentID: AgentSiteSearch,
		}
	}

	decision := RoutingDecision{
		Category:       category,
		PrimaryAgentID: r.primary,
	}
	if len(r.secondary) > 0 {
		// Copy so the table row can never be mutated through a decision.
		decision.SecondaryAgentIDs = append([]string(nil), r.secondary...)
	}

	logging.RoutingDebug("Route: %s -> primary=%s secondary=%v", category, decision.PrimaryAgentID, decision.SecondaryAgentIDs)
	return decision
}

// HumanHandoffDecision is the fail-safe decision used when classification
// infrastructure is unavailable or clarification retries are exhausted.
func HumanHandoffDecision() RoutingDecision {
	return RoutingDecision{
		Category:       CategoryHumanHandoff,
		PrimaryAgentID: AgentHumanHandoff,
	}
}
