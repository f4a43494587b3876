package arbiter

import (
	"sync"
	"time"
)

// Budget caps arbiter invocations per UTC day. When the cap is reached,
// Allow returns false and triage falls through to clarification instead
// of an LLM call. Zero limit means unlimited.
type Budget struct {
	mu    sync.Mutex
	limit int64
	used  int64
	day   string // UTC date the counter belongs to, "2006-01-02"
}

// NewBudget returns a budget allowing limit invocations per UTC day.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Allow consumes one invocation if the daily cap permits. The counter
// resets when the UTC date rolls over.
func (b *Budget) Allow() bool {
	return b.allowAt(time.Now().UTC())
}

func (b *Budget) allowAt(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	day := now.Format("2006-01-02")
	if day != b.day {
		b.day = day
		b.used = 0
	}
	if b.limit > 0 && b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Used returns today's consumed count. A stale counter from a previous
// day reads as zero.
func (b *Budget) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.day != time.Now().UTC().Format("2006-01-02") {
		return 0
	}
	return b.used
}

// Limit returns the configured daily cap.
func (b *Budget) Limit() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit
}
