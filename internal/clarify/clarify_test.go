package clarify

import (
	"testing"

	"stacksbot/internal/classifier"
	"stacksbot/internal/router"
)

func fourCandidates() []classifier.Candidate {
	return []classifier.Candidate{
		{Category: router.CategoryTechSupport, Score: 0.6, Examples: []string{"the printer is jammed", "wifi won't connect", "lab computer is frozen"}},
		{Category: router.CategoryEquipmentCheckout, Score: 0.58, Examples: []string{"borrow a laptop"}},
		{Category: router.CategoryCatalogSearch, Score: 0.5},
		{Category: router.CategoryResearchHelp, Score: 0.45},
	}
}

func TestBuildSetInvariants(t *testing.T) {
	set, err := BuildSet("computer not working", fourCandidates())
	if err != nil {
		t.Fatalf("BuildSet: %v", err)
	}
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if set.OriginalQuestion != "computer not working" {
		t.Errorf("OriginalQuestion = %q", set.OriginalQuestion)
	}
	if got := len(set.Choices); got != 5 {
		t.Fatalf("choices = %d, want 4 candidates + catch-all", got)
	}
	last := set.Choices[len(set.Choices)-1]
	if last.ID != NoneOfAboveID || last.Category != router.CategoryNoneOfAbove {
		t.Errorf("last choice must be the catch-all, got %+v", last)
	}
	// Choices carry display labels, not raw category ids.
	if set.Choices[0].Label == "" || set.Choices[0].Label == set.Choices[0].Category {
		t.Errorf("choice label should be user-facing, got %q", set.Choices[0].Label)
	}
	// Examples are bounded.
	if len(set.Choices[0].Examples) > 2 {
		t.Errorf("examples per choice capped at 2, got %d", len(set.Choices[0].Examples))
	}
}

func TestBuildSetCapsAndDeduplicates(t *testing.T) {
	many := append(fourCandidates(),
		classifier.Candidate{Category: router.CategoryHoursRooms, Score: 0.4},
		classifier.Candidate{Category: router.CategoryTechSupport, Score: 0.3}, // dup
	)
	set, err := BuildSet("q", many)
	if err != nil {
		t.Fatalf("BuildSet: %v", err)
	}
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := len(set.Choices); got != 5 {
		t.Errorf("choices = %d, want capped at 4 + catch-all", got)
	}
	seen := map[string]int{}
	for _, c := range set.Choices {
		seen[c.Category]++
	}
	if seen[router.CategoryTechSupport] != 1 {
		t.Errorf("duplicate category appeared %d times", seen[router.CategoryTechSupport])
	}
}

func TestBuildSetSingleCandidate(t *testing.T) {
	set, err := BuildSet("q", fourCandidates()[:1])
	if err != nil {
		t.Fatalf("BuildSet: %v", err)
	}
	if err := set.Validate(); err != nil {
		t.Fatalf("single candidate still yields a valid two-choice set: %v", err)
	}
}

func TestBuildSetRejectsEmpty(t *testing.T) {
	if _, err := BuildSet("q", nil); err == nil {
		t.Error("no candidates must be an error")
	}
	if _, err := BuildSet("   ", fourCandidates()); err == nil {
		t.Error("blank question must be an error")
	}
}

func TestResumeCategoryChoice(t *testing.T) {
	set, _ := BuildSet("computer not working", fourCandidates())

	res := Resume("choice_1", set)
	if res.SelectedCategory != router.CategoryTechSupport {
		t.Errorf("SelectedCategory = %q, want %s", res.SelectedCategory, router.CategoryTechSupport)
	}
	if res.NeedsMoreInfo || res.ShouldReclassify {
		t.Error("a category pick resolves immediately")
	}
	if res.ResponseMessage == "" {
		t.Error("expected a confirmation message")
	}
}

func TestResumeNoneOfAbove(t *testing.T) {
	set, _ := BuildSet("computer not working", fourCandidates())

	res := Resume(NoneOfAboveID, set)
	if res.SelectedCategory != "" {
		t.Errorf("catch-all must not resolve a category, got %q", res.SelectedCategory)
	}
	if !res.NeedsMoreInfo || !res.ShouldReclassify {
		t.Errorf("catch-all must ask for detail and reclassify, got %+v", res)
	}
}

func TestResumeUnknownChoiceID(t *testing.T) {
	set, _ := BuildSet("computer not working", fourCandidates())

	res := Resume("choice_999", set)
	if res.SelectedCategory != "" {
		t.Errorf("unknown id must not resolve, got %q", res.SelectedCategory)
	}
	if !res.NeedsMoreInfo {
		t.Error("unknown id must re-ask the user")
	}
	if res.ShouldReclassify {
		t.Error("unknown id is not a reclassification trigger")
	}
}

func TestResumeNilSet(t *testing.T) {
	res := Resume("choice_1", nil)
	if !res.NeedsMoreInfo {
		t.Error("resuming a lost set must ask the user to start over")
	}
}

func TestCombineQuestion(t *testing.T) {
	got := CombineQuestion("computer not working", "I mean the printer in the maker space")
	want := "computer not working. Additional context: I mean the printer in the maker space"
	if got != want {
		t.Errorf("CombineQuestion = %q, want %q", got, want)
	}
	if got := CombineQuestion("original", "   "); got != "original" {
		t.Errorf("blank details must leave the question untouched, got %q", got)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateResolved:       "resolved",
		StateAwaitingChoice: "awaiting_choice",
		StateReclassifying:  "reclassifying",
		State(42):           "state(42)",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
