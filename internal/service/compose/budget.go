package compose

import (
	"sync"

	"github.com/sandevgo/memctx/internal/core"
)

// budget is single-composition token bookkeeping. Consumption is
// all-or-nothing per item, so a composed context can never exceed the
// requested window.
type budget struct {
	window int
	used   int
}

func newBudget(window int) *budget {
	return &budget{window: window}
}

// tryConsume reserves tokens if they fit, reporting whether they did.
func (b *budget) tryConsume(tokens int) bool {
	if b.used+tokens > b.window {
		return false
	}
	b.used += tokens
	return true
}

func (b *budget) utilization() float64 {
	if b.window == 0 {
		return 0
	}
	return float64(b.used) / float64(b.window)
}

// UsageStats aggregates composition activity over the engine's
// lifetime. In-memory only; counters reset on restart.
type UsageStats struct {
	Compositions   int     `json:"compositions"`
	TotalTokens    int64   `json:"total_tokens"`
	PinnedTokens   int64   `json:"pinned_tokens"`
	PriorTokens    int64   `json:"prior_tokens"`
	ActiveTokens   int64   `json:"active_tokens"`
	MaxUtilization float64 `json:"max_utilization"`
}

// UsageTracker records per-composition token usage.
type UsageTracker struct {
	mu    sync.Mutex
	stats UsageStats
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

func (u *UsageTracker) Record(cc core.ComposedContext) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stats.Compositions++
	u.stats.TotalTokens += int64(cc.TotalTokens)
	u.stats.PinnedTokens += int64(cc.Pinned.Tokens)
	u.stats.PriorTokens += int64(cc.Prior.Tokens)
	u.stats.ActiveTokens += int64(cc.Active.Tokens)
	if cc.Utilization > u.stats.MaxUtilization {
		u.stats.MaxUtilization = cc.Utilization
	}
}

func (u *UsageTracker) Snapshot() UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

// SummarizationTrigger recommends a summarization pass once window
// utilization crosses the configured ratio.
type SummarizationTrigger struct {
	threshold float64
}

func NewSummarizationTrigger(threshold float64) *SummarizationTrigger {
	return &SummarizationTrigger{threshold: threshold}
}

func (s *SummarizationTrigger) ShouldSummarize(utilization float64) bool {
	return utilization >= s.threshold
}
