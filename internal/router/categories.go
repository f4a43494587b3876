// Package router maps resolved intent categories to downstream agent
// identifiers. The mapping is deliberately a flat table keyed by category
// string: adding a category means adding a row, nothing else.
package router

import "strings"

// Category identifiers. These are the only categories classification can
// resolve to; out-of-scope classifications carry the OutOfScopeMarker
// prefix instead.
const (
	CategoryHoursRooms        = "library_hours_rooms"
	CategoryRoomBooking       = "library_room_booking"
	CategoryCatalogSearch     = "library_catalog_search"
	CategoryEquipmentCheckout = "library_equipment_checkout"
	CategoryTechSupport       = "library_tech_support"
	CategoryResearchHelp      = "library_research_help"
	CategoryAccount           = "library_account"
	CategoryHumanHandoff      = "human_handoff"
	CategorySiteSearch        = "general_site_search"

	// CategoryNoneOfAbove is reserved for the clarification catch-all
	// choice; it never routes anywhere.
	CategoryNoneOfAbove = "none_of_above"
)

// OutOfScopeMarker prefixes categories that fall outside the supported
// domain (e.g. "oos:registrar"). Callers distinguish in-scope from
// out-of-scope by this marker, not by a separate flag.
const OutOfScopeMarker = "oos:"

// IsOutOfScope reports whether a category carries the out-of-scope marker.
func IsOutOfScope(category string) bool {
	return strings.HasPrefix(category, OutOfScopeMarker)
}

// Agent identifiers for downstream handlers. Agent internals live outside
// this subsystem; the router only ever hands out these strings.
const (
	AgentLibCalHours   = "libcal_hours"
	AgentLibCalBooking = "libcal_booking"
	AgentPrimoSearch   = "primo_search"
	AgentEquipmentDesk = "equipment_desk"
	AgentTechTicketing = "tech_ticketing"
	AgentResearchGuide = "research_guides"
	AgentCirculation   = "circulation"
	AgentSiteSearch    = "site_search"
	AgentHumanHandoff  = "human_handoff"
)

// Info describes a category for user-facing surfaces: clarification
// choice labels and arbiter prompt descriptions.
type Info struct {
	Label       string
	Description string
}

// categoryInfo is the display metadata per category.
var categoryInfo = map[string]Info{
	CategoryHoursRooms: {
		Label:       "Hours & spaces",
		Description: "Library opening hours, closures, and study spaces",
	},
	CategoryRoomBooking: {
		Label:       "Room booking",
		Description: "Reserving, changing, or cancelling group study rooms",
	},
	CategoryCatalogSearch: {
		Label:       "Find books & articles",
		Description: "Searching the catalog for books, ebooks, and journal articles",
	},
	CategoryEquipmentCheckout: {
		Label:       "Borrow equipment",
		Description: "Checking out laptops, chargers, cameras, and other equipment",
	},
	CategoryTechSupport: {
		Label:       "Tech help",
		Description: "Wifi, printing, lab computers, and software problems",
	},
	CategoryResearchHelp: {
		Label:       "Research help",
		Description: "Citations, databases, and consultations with a librarian",
	},
	CategoryAccount: {
		Label:       "My account",
		Description: "Renewals, due dates, fines, and library card issues",
	},
	CategoryHumanHandoff: {
		Label:       "Talk to a person",
		Description: "Connect with library staff directly",
	},
	CategorySiteSearch: {
		Label:       "General library question",
		Description: "Anything else about the library website and services",
	},
}

// InfoFor returns display metadata for a category. Unknown categories get
// a generic entry so prompts never render blanks.
func InfoFor(category string) Info {
	if info, ok := categoryInfo[category]; ok {
		return info
	}
	return Info{
		Label:       category,
		Description: "Questions about " + strings.ReplaceAll(strings.TrimPrefix(category, OutOfScopeMarker), "_", " "),
	}
}
