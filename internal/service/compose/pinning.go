package compose

import (
	"sort"
	"sync"
	"time"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
)

// PinningManager owns the always-included tier. The invariant it
// defends: the sum of pinned token counts never exceeds the configured
// budget, after every call.
type PinningManager struct {
	mu      sync.Mutex
	cfg     config.ComposeConfig
	entries map[string]core.PinnedEntry
	refs    map[string]int
}

func NewPinningManager(cfg *config.ComposeConfig) *PinningManager {
	return &PinningManager{
		cfg:     *cfg,
		entries: make(map[string]core.PinnedEntry),
		refs:    make(map[string]int),
	}
}

// Pin adds or replaces an entry. When the budget is short, entries
// with strictly lower priority are evicted (lowest first) until the
// new entry fits; if that cannot free enough space the pin fails with
// a budget error instead of silently dropping anything.
func (p *PinningManager) Pin(id, content string, tokenCount int, reason string, priority int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tokenCount > p.cfg.MaxPinnedTokens {
		return &core.BudgetExceededError{Requested: tokenCount, Available: p.cfg.MaxPinnedTokens, Budget: p.cfg.MaxPinnedTokens}
	}

	used := 0
	for eid, e := range p.entries {
		if eid == id {
			continue // replacement frees the old entry
		}
		used += e.TokenCount
	}

	free := p.cfg.MaxPinnedTokens - used
	if tokenCount > free {
		// Lower-priority entries only, lowest (then oldest) first.
		var victims []core.PinnedEntry
		for eid, e := range p.entries {
			if eid != id && e.Priority < priority {
				victims = append(victims, e)
			}
		}
		sort.Slice(victims, func(i, j int) bool {
			if victims[i].Priority != victims[j].Priority {
				return victims[i].Priority < victims[j].Priority
			}
			return victims[i].PinnedAt.Before(victims[j].PinnedAt)
		})

		reclaimable := free
		var evict []string
		for _, v := range victims {
			if reclaimable >= tokenCount {
				break
			}
			reclaimable += v.TokenCount
			evict = append(evict, v.ID)
		}
		if reclaimable < tokenCount {
			return &core.BudgetExceededError{Requested: tokenCount, Available: reclaimable, Budget: p.cfg.MaxPinnedTokens}
		}
		for _, eid := range evict {
			delete(p.entries, eid)
		}
	}

	p.entries[id] = core.PinnedEntry{
		ID:         id,
		Content:    content,
		TokenCount: tokenCount,
		Reason:     reason,
		Priority:   priority,
		PinnedAt:   time.Now().UTC(),
	}
	return nil
}

func (p *PinningManager) Unpin(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[id]; !ok {
		return false
	}
	delete(p.entries, id)
	return true
}

// RecordCrossReference counts a reference to an item. Crossing the
// configured threshold auto-pins it at the medium priority if the
// budget allows; a failed auto-pin is non-fatal and leaves the counter
// intact for a later attempt.
func (p *PinningManager) RecordCrossReference(id, content string, tokenCount int) int {
	p.mu.Lock()
	p.refs[id]++
	count := p.refs[id]
	_, alreadyPinned := p.entries[id]
	threshold := p.cfg.AutoPinThreshold
	priority := p.cfg.AutoPinPriority
	p.mu.Unlock()

	if count >= threshold && !alreadyPinned {
		// Best effort only.
		_ = p.Pin(id, content, tokenCount, "auto-pinned by cross references", priority)
	}
	return count
}

// Entries returns pinned entries by descending priority.
func (p *PinningManager) Entries() []core.PinnedEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]core.PinnedEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].PinnedAt.Before(out[j].PinnedAt)
	})
	return out
}

func (p *PinningManager) TotalTokens() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, e := range p.entries {
		total += e.TokenCount
	}
	return total
}

// Restore reinstates entries recovered after a compaction, skipping
// any that would break the budget.
func (p *PinningManager) Restore(entries []core.PinnedEntry) (restored int) {
	for _, e := range entries {
		if err := p.Pin(e.ID, e.Content, e.TokenCount, e.Reason, e.Priority); err == nil {
			restored++
		}
	}
	return restored
}
