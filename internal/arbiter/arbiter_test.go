package arbiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"stacksbot/internal/classifier"
	"stacksbot/internal/router"
)

// cannedClient returns a fixed response or error.
type cannedClient struct {
	response string
	err      error
	calls    int
	mu       sync.Mutex
}

func (c *cannedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *cannedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.response, c.err
}

func twoCandidates() []classifier.Candidate {
	return []classifier.Candidate{
		{Category: router.CategoryTechSupport, Score: 0.61, Examples: []string{"the printer is jammed"}},
		{Category: router.CategoryEquipmentCheckout, Score: 0.58, Examples: []string{"borrow a laptop"}},
	}
}

func TestArbitratePicksOfferedCategory(t *testing.T) {
	client := &cannedClient{response: `{"category": "library_tech_support", "reasoning": "a broken printer is a support issue"}`}
	a := New(client, Config{})

	d := a.Arbitrate(context.Background(), "my printer won't print", twoCandidates(), 0.15)
	if d == nil {
		t.Fatal("expected a decision")
	}
	if d.Category != router.CategoryTechSupport {
		t.Errorf("category = %s, want %s", d.Category, router.CategoryTechSupport)
	}
	if d.Reasoning == "" {
		t.Error("expected reasoning to survive parsing")
	}
}

func TestArbitrateStripsMarkdownFences(t *testing.T) {
	client := &cannedClient{response: "```json\n{\"category\": \"library_tech_support\", \"reasoning\": \"support\"}\n```"}
	a := New(client, Config{})

	d := a.Arbitrate(context.Background(), "printer trouble", twoCandidates(), 0.15)
	if d == nil || d.Category != router.CategoryTechSupport {
		t.Fatalf("expected tech support decision, got %+v", d)
	}
}

func TestArbitrateRejectsUnofferedCategory(t *testing.T) {
	client := &cannedClient{response: `{"category": "library_room_booking", "reasoning": "made up"}`}
	a := New(client, Config{})

	if d := a.Arbitrate(context.Background(), "printer trouble", twoCandidates(), 0.15); d != nil {
		t.Fatalf("category outside the offered set must yield nil, got %+v", d)
	}
}

func TestArbitrateInsufficientInformation(t *testing.T) {
	client := &cannedClient{response: `{"category": "insufficient_information", "reasoning": "could be either"}`}
	a := New(client, Config{})

	if d := a.Arbitrate(context.Background(), "it's broken", twoCandidates(), 0.15); d != nil {
		t.Fatalf("insufficient information must yield nil, got %+v", d)
	}
}

func TestArbitrateGarbageResponse(t *testing.T) {
	for _, response := range []string{"", "I think it's tech support.", `{"category": ""}`, "{not json}"} {
		client := &cannedClient{response: response}
		a := New(client, Config{})
		if d := a.Arbitrate(context.Background(), "printer trouble", twoCandidates(), 0.15); d != nil {
			t.Errorf("response %q must yield nil, got %+v", response, d)
		}
	}
}

func TestArbitrateClientError(t *testing.T) {
	client := &cannedClient{err: fmt.Errorf("connection refused")}
	a := New(client, Config{})

	if d := a.Arbitrate(context.Background(), "printer trouble", twoCandidates(), 0.15); d != nil {
		t.Fatalf("client failure must yield nil, got %+v", d)
	}
	hist := a.History()
	if len(hist) != 1 || hist[0].Err == "" {
		t.Fatalf("expected one errored invocation recorded, got %+v", hist)
	}
}

func TestArbitrateNilClientAndSingleCandidate(t *testing.T) {
	a := New(nil, Config{})
	if d := a.Arbitrate(context.Background(), "q", twoCandidates(), 0.15); d != nil {
		t.Fatal("nil client must never decide")
	}

	a = New(&cannedClient{response: `{"category": "library_tech_support"}`}, Config{})
	one := twoCandidates()[:1]
	if d := a.Arbitrate(context.Background(), "q", one, 0.15); d != nil {
		t.Fatal("a single candidate needs no arbitration")
	}
}

func TestArbitrateComfortableMarginSkipsLLM(t *testing.T) {
	client := &cannedClient{response: `{"category": "library_tech_support", "reasoning": "x"}`}
	a := New(client, Config{})

	// Top-two gap is 0.03; a threshold below that means no ambiguity.
	if d := a.Arbitrate(context.Background(), "q", twoCandidates(), 0.01); d != nil {
		t.Fatalf("wide margin must not arbitrate, got %+v", d)
	}
	if client.calls != 0 {
		t.Errorf("client called %d times, want 0", client.calls)
	}
}

func TestArbitrateBudgetExhaustion(t *testing.T) {
	client := &cannedClient{response: `{"category": "library_tech_support", "reasoning": "x"}`}
	a := New(client, Config{DailyBudget: 2})

	for i := 0; i < 2; i++ {
		if d := a.Arbitrate(context.Background(), "q", twoCandidates(), 0.15); d == nil {
			t.Fatalf("call %d should be within budget", i+1)
		}
	}
	if d := a.Arbitrate(context.Background(), "q", twoCandidates(), 0.15); d != nil {
		t.Fatal("third call should be over budget")
	}
	if client.calls != 2 {
		t.Errorf("client called %d times, want 2", client.calls)
	}
}

func TestBudgetConcurrentAllow(t *testing.T) {
	b := NewBudget(100)
	var wg sync.WaitGroup
	var granted sync.Map
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			count := 0
			for j := 0; j < 50; j++ {
				if b.Allow() {
					count++
				}
			}
			granted.Store(id, count)
		}(i)
	}
	wg.Wait()

	total := 0
	granted.Range(func(_, v any) bool {
		total += v.(int)
		return true
	})
	if total != 100 {
		t.Errorf("granted %d invocations, want exactly 100", total)
	}
}

func TestBudgetDayRollover(t *testing.T) {
	b := NewBudget(1)
	day1 := time.Date(2026, 8, 25, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 26, 0, 1, 0, 0, time.UTC)

	if !b.allowAt(day1) {
		t.Fatal("first call of the day must pass")
	}
	if b.allowAt(day1) {
		t.Fatal("second call must be over budget")
	}
	if !b.allowAt(day2) {
		t.Fatal("counter must reset on UTC day rollover")
	}
}

func TestBudgetUnlimited(t *testing.T) {
	b := NewBudget(0)
	for i := 0; i < 1000; i++ {
		if !b.Allow() {
			t.Fatal("zero limit means unlimited")
		}
	}
}

func TestHistoryRingBounded(t *testing.T) {
	client := &cannedClient{response: `{"category": "library_tech_support", "reasoning": "x"}`}
	a := New(client, Config{HistorySize: 3})

	for i := 0; i < 5; i++ {
		a.Arbitrate(context.Background(), fmt.Sprintf("query %d", i), twoCandidates(), 0.15)
	}
	hist := a.History()
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3", len(hist))
	}
	if hist[0].Query != "query 2" || hist[2].Query != "query 4" {
		t.Errorf("ring order wrong: first=%q last=%q", hist[0].Query, hist[2].Query)
	}
}

func TestBuildUserPromptIncludesExamples(t *testing.T) {
	prompt := buildUserPrompt("who fixes printers", twoCandidates())
	for _, want := range []string{"who fixes printers", router.CategoryTechSupport, "the printer is jammed"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
