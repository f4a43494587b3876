package router

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRouteKnownCategories(t *testing.T) {
	cases := []struct {
		category string
		primary  string
	}{
		{CategoryHoursRooms, AgentLibCalHours},
		{CategoryRoomBooking, AgentLibCalBooking},
		{CategoryCatalogSearch, AgentPrimoSearch},
		{CategoryEquipmentCheckout, AgentEquipmentDesk},
		{CategoryTechSupport, AgentTechTicketing},
		{CategoryResearchHelp, AgentResearchGuide},
		{CategoryAccount, AgentCirculation},
		{CategoryHumanHandoff, AgentHumanHandoff},
		{CategorySiteSearch, AgentSiteSearch},
	}

	for _, tc := range cases {
		t.Run(tc.category, func(t *testing.T) {
			d := Route(tc.category)
			if d.PrimaryAgentID != tc.primary {
				t.Errorf("Route(%s).PrimaryAgentID = %s, want %s", tc.category, d.PrimaryAgentID, tc.primary)
			}
			if d.IsOutOfScope {
				t.Errorf("Route(%s) should not be out of scope", tc.category)
			}
		})
	}
}

func TestRouteIdempotent(t *testing.T) {
	for _, category := range []string{CategoryRoomBooking, "totally_unknown", "oos:registrar"} {
		first := Route(category)
		second := Route(category)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("Route(%s) not idempotent (-first +second):\n%s", category, diff)
		}
	}
}

func TestRouteUnknownCategoryDefaultsToSiteSearch(t *testing.T) {
	d := Route("library_time_travel")
	if d.PrimaryAgentID != AgentSiteSearch {
		t.Errorf("unknown category should route to site search, got %s", d.PrimaryAgentID)
	}
	if d.IsOutOfScope {
		t.Error("unknown category is not out of scope")
	}
}

func TestRouteOutOfScope(t *testing.T) {
	d := Route("oos:legal_advice")
	if !d.IsOutOfScope {
		t.Error("expected out-of-scope flag")
	}
	if d.PrimaryAgentID != "" {
		t.Errorf("out-of-scope should have no primary agent, got %s", d.PrimaryAgentID)
	}
}

func TestSecondaryAgentsAreCopied(t *testing.T) {
	d := Route(CategoryRoomBooking)
	if len(d.SecondaryAgentIDs) == 0 {
		t.Fatal("expected secondary agents for room booking")
	}
	d.SecondaryAgentIDs[0] = "mutated"

	again := Route(CategoryRoomBooking)
	if again.SecondaryAgentIDs[0] == "mutated" {
		t.Error("mutating a decision must not affect the table")
	}
}

func TestIsOutOfScope(t *testing.T) {
	if !IsOutOfScope("oos:campus_dining") {
		t.Error("expected oos: prefix to be out of scope")
	}
	if IsOutOfScope(CategoryHoursRooms) {
		t.Error("in-scope category flagged out of scope")
	}
}

func TestHumanHandoffDecision(t *testing.T) {
	d := HumanHandoffDecision()
	if d.PrimaryAgentID != AgentHumanHandoff {
		t.Errorf("expected %s, got %s", AgentHumanHandoff, d.PrimaryAgentID)
	}
	if d.IsOutOfScope {
		t.Error("handoff is not out of scope")
	}
}

func TestInfoForUnknownCategory(t *testing.T) {
	info := InfoFor("oos:campus_parking")
	if info.Label == "" || info.Description == "" {
		t.Error("InfoFor must never return blanks")
	}
}
