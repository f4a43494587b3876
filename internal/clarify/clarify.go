// Package clarify builds and resolves clarification prompts. When
// classification cannot pick a category with enough confidence, the user
// is shown a short list of choices built from the candidate categories;
// their pick either resolves the category directly or feeds a
// reclassification pass with the extra detail they typed.
package clarify

import (
	"errors"
	"fmt"
	"strings"

	"stacksbot/internal/classifier"
	"stacksbot/internal/logging"
	"stacksbot/internal/router"
)

// State is where a clarification exchange stands.
type State int

const (
	// StateResolved means no clarification is pending.
	StateResolved State = iota
	// StateAwaitingChoice means choices were presented and the user has
	// not picked yet.
	StateAwaitingChoice
	// StateReclassifying means the user asked for "none of the above"
	// and we are waiting for their extra detail to reclassify with.
	StateReclassifying
)

func (s State) String() string {
	switch s {
	case StateResolved:
		return "resolved"
	case StateAwaitingChoice:
		return "awaiting_choice"
	case StateReclassifying:
		return "reclassifying"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrUnknownChoice is wrapped into a NeedsMoreInfo resolution rather
	// than surfaced; it exists for tests and logging.
	ErrUnknownChoice = errors.New("unknown clarification choice")
	// ErrDepthExceeded reports a reclassification loop that has used up
	// its allowance.
	ErrDepthExceeded = errors.New("reclassification depth exceeded")
)

// NoneOfAboveID is the fixed id of the mandatory catch-all choice.
const NoneOfAboveID = "choice_none"

// Choice is one option presented to the user.
type Choice struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Examples    []string `json:"examples,omitempty"`
}

// Set is a full clarification prompt: the question we could not classify
// plus the choices offered for it.
type Set struct {
	Prompt           string   `json:"prompt"`
	Choices          []Choice `json:"choices"`
	OriginalQuestion string   `json:"original_question"`
}

// Resolution is the outcome of the user's pick.
type Resolution struct {
	// SelectedCategory is set when the pick resolved a category.
	SelectedCategory string `json:"selected_category,omitempty"`
	// NeedsMoreInfo means the user must provide free-text detail (they
	// picked none-of-the-above, or their pick was not a valid choice).
	NeedsMoreInfo bool `json:"needs_more_info,omitempty"`
	// ShouldReclassify means the caller must run classification again
	// once the detail arrives.
	ShouldReclassify bool `json:"should_reclassify,omitempty"`
	// ResponseMessage is shown to the user.
	ResponseMessage string `json:"response_message,omitempty"`
}

// maxCategoryChoices caps how many candidate categories appear before the
// catch-all. With the catch-all that keeps the set between 2 and 5
// choices.
const maxCategoryChoices = 4

// BuildSet turns candidate categories into a clarification set. The
// catch-all none-of-the-above choice is always present and always last.
// Candidates must be non-empty; with no candidates there is nothing to
// clarify and the caller should hand off instead.
func BuildSet(question string, candidates []classifier.Candidate) (*Set, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("clarify: question is empty")
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("clarify: no candidate categories to offer")
	}

	seen := make(map[string]struct{}, len(candidates))
	choices := make([]Choice, 0, maxCategoryChoices+1)
	for _, c := range candidates {
		if _, dup := seen[c.Category]; dup {
			continue
		}
		seen[c.Category] = struct{}{}
		logging.ClarifyDebug("Offering %s (score=%.3f)", c.Category, c.Score)

		info := router.InfoFor(c.Category)
		examples := c.Examples
		if len(examples) > 2 {
			examples = examples[:2]
		}
		choices = append(choices, Choice{
			ID:          fmt.Sprintf("choice_%d", len(choices)+1),
			Label:       info.Label,
			Description: info.Description,
			Category:    c.Category,
			Examples:    examples,
		})
		if len(choices) == maxCategoryChoices {
			break
		}
	}

	choices = append(choices, Choice{
		ID:          NoneOfAboveID,
		Label:       "None of these",
		Description: "My question is about something else",
		Category:    router.CategoryNoneOfAbove,
	})

	set := &Set{
		Prompt:           "I want to make sure I point you the right way. Which of these is closest to what you need?",
		Choices:          choices,
		OriginalQuestion: question,
	}
	logging.Clarify("Built clarification set: question=%q choices=%d", truncate(question, 60), len(choices))
	return set, nil
}

// Resume applies the user's pick to a pending set.
//
// A category choice resolves immediately. The none-of-the-above choice
// asks for more detail and flags reclassification. An id that is not in
// the set does not fail the exchange; the user is asked again.
func Resume(choiceID string, set *Set) Resolution {
	if set == nil {
		return Resolution{
			NeedsMoreInfo:   true,
			ResponseMessage: "I lost track of that question. Could you ask it again?",
		}
	}

	for _, c := range set.Choices {
		if c.ID != choiceID {
			continue
		}
		if c.ID == NoneOfAboveID {
			logging.Clarify("User picked none-of-above for %q", truncate(set.OriginalQuestion, 60))
			return Resolution{
				NeedsMoreInfo:    true,
				ShouldReclassify: true,
				ResponseMessage:  "No problem. Could you tell me a bit more about what you're looking for?",
			}
		}
		logging.Clarify("User resolved %q to %s", truncate(set.OriginalQuestion, 60), c.Category)
		return Resolution{
			SelectedCategory: c.Category,
			ResponseMessage:  fmt.Sprintf("Got it: %s.", c.Label),
		}
	}

	logging.Clarify("Unknown choice id %q: %v", choiceID, ErrUnknownChoice)
	return Resolution{
		NeedsMoreInfo:   true,
		ResponseMessage: "That wasn't one of the options. Please pick one of the choices shown.",
	}
}

// CombineQuestion folds the user's extra detail into the original
// question for the reclassification pass.
func CombineQuestion(original, details string) string {
	details = strings.TrimSpace(details)
	if details == "" {
		return original
	}
	return original + ". Additional context: " + details
}

// Validate checks a set's structural invariants: between 2 and 5 choices,
// exactly one of which is the catch-all, and it is last.
func (s *Set) Validate() error {
	if len(s.Choices) < 2 || len(s.Choices) > maxCategoryChoices+1 {
		return fmt.Errorf("clarify: %d choices, want 2 to %d", len(s.Choices), maxCategoryChoices+1)
	}
	catchAlls := 0
	for _, c := range s.Choices {
		if c.ID == NoneOfAboveID || c.Category == router.CategoryNoneOfAbove {
			catchAlls++
		}
	}
	if catchAlls != 1 {
		return fmt.Errorf("clarify: %d catch-all choices, want exactly 1", catchAlls)
	}
	last := s.Choices[len(s.Choices)-1]
	if last.ID != NoneOfAboveID {
		return fmt.Errorf("clarify: catch-all must be the last choice, got %s", last.ID)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
