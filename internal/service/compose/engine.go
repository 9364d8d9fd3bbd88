package compose

import (
	"context"
	"sync"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/internal/tokens"
	"github.com/sandevgo/memctx/pkg/log"
)

// PriorItem is a relevant past episode offered for the second tier.
type PriorItem struct {
	ID      string
	Content string
}

// ComposeOptions shape one composition request.
type ComposeOptions struct {
	// ContextWindow is the hard token ceiling for the composed bundle.
	ContextWindow int
	// Prior holds candidate prior-work items, best first. At most
	// MaxDescPrior of them are included.
	Prior []PriorItem
	// IncludeDependencies places each active item's transitive
	// dependencies ahead of it in the active tier.
	IncludeDependencies bool
}

// Engine assembles the four-tier context bundle: pinned entries, prior
// relevant work, the active rolling window, and zero-token archive
// references. A composed bundle never exceeds the requested window.
type Engine struct {
	mu    sync.Mutex
	cfg   config.ComposeConfig
	phase core.Phase

	pins    *PinningManager
	window  *RollingWindow
	deps    *DependencyTracker
	usage   *UsageTracker
	trigger *SummarizationTrigger

	archive    map[string]string // id -> content, reference tier
	archOrder  []string
	archivedAt map[string]bool
}

func NewEngine(cfg *config.ComposeConfig) *Engine {
	return &Engine{
		cfg:        *cfg,
		phase:      core.PhaseImplementation,
		pins:       NewPinningManager(cfg),
		window:     NewRollingWindow(cfg.WindowSize(core.PhaseImplementation)),
		deps:       NewDependencyTracker(),
		usage:      NewUsageTracker(),
		trigger:    NewSummarizationTrigger(cfg.SummarizeAt),
		archive:    make(map[string]string),
		archivedAt: make(map[string]bool),
	}
}

func (e *Engine) Pins() *PinningManager            { return e.pins }
func (e *Engine) Window() *RollingWindow           { return e.window }
func (e *Engine) Dependencies() *DependencyTracker { return e.deps }
func (e *Engine) Usage() UsageStats                { return e.usage.Snapshot() }

// SetPhase resizes the rolling window for the new phase. Calling it
// with the current phase changes nothing.
func (e *Engine) SetPhase(ctx context.Context, phase core.Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if phase == e.phase {
		return
	}
	prev := e.phase
	e.phase = phase
	evicted := e.window.Resize(e.cfg.WindowSize(phase))
	e.archiveLocked(evicted)

	log.FromCtx(ctx).Debug().
		Str("from", string(prev)).
		Str("to", string(phase)).
		Int("window_size", e.cfg.WindowSize(phase)).
		Msg("composition phase changed")
}

func (e *Engine) Phase() core.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// AddActive pushes an item into the rolling window; anything rotated
// out moves to the archive tier as a zero-token reference.
func (e *Engine) AddActive(id, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.deps.AddNode(id)
	evicted := e.window.Add(id, content)
	e.archiveLocked(evicted)
	if e.archivedAt[id] {
		delete(e.archive, id)
		delete(e.archivedAt, id)
	}
}

// AddDependency records that item from requires item to.
func (e *Engine) AddDependency(from, to string) error {
	return e.deps.AddDependency(from, to)
}

// Compose assembles the bundle in tier priority order. Items that do
// not fit the remaining budget are skipped, never truncated.
func (e *Engine) Compose(ctx context.Context, opts ComposeOptions) core.ComposedContext {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := newBudget(opts.ContextWindow)
	cc := core.ComposedContext{Window: opts.ContextWindow, Phase: e.phase}

	// Tier 1: pinned, descending priority.
	for _, entry := range e.pins.Entries() {
		if b.tryConsume(entry.TokenCount) {
			cc.Pinned.Items = append(cc.Pinned.Items, entry.Content)
			cc.Pinned.Tokens += entry.TokenCount
		}
	}

	// Tier 2: prior relevant work, capped.
	for i, prior := range opts.Prior {
		if i >= e.cfg.MaxDescPrior {
			break
		}
		n := tokens.Count(prior.Content)
		if b.tryConsume(n) {
			cc.Prior.Items = append(cc.Prior.Items, prior.Content)
			cc.Prior.Tokens += n
		}
	}

	// Tier 3: the active window, oldest first, each item preceded by
	// its still-resident dependencies in topological order.
	included := make(map[string]bool)
	addActive := func(item WindowItem) {
		if included[item.ID] {
			return
		}
		if b.tryConsume(item.Tokens) {
			included[item.ID] = true
			cc.Active.Items = append(cc.Active.Items, item.Content)
			cc.Active.Tokens += item.Tokens
		}
	}
	for _, item := range e.window.Items() {
		if opts.IncludeDependencies {
			for _, depID := range e.deps.OrderedDependencies(item.ID) {
				if dep, ok := e.window.Get(depID); ok {
					addActive(dep)
				}
			}
		}
		addActive(item)
	}

	// Tier 4: archive references cost nothing.
	cc.Archived.Items = append([]string(nil), e.archOrder...)

	cc.TotalTokens = b.used
	cc.Utilization = b.utilization()
	e.usage.Record(cc)

	if e.trigger.ShouldSummarize(cc.Utilization) {
		log.FromCtx(ctx).Info().
			Float64("utilization", cc.Utilization).
			Msg("context utilization high, summarization recommended")
	}
	return cc
}

// ShouldSummarize reports whether the last composition's utilization
// crossed the configured ratio.
func (e *Engine) ShouldSummarize(utilization float64) bool {
	return e.trigger.ShouldSummarize(utilization)
}

// ArchivedIDs lists the archive tier, oldest first.
func (e *Engine) ArchivedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.archOrder...)
}

// Snapshot captures the engine's composition state for tier storage.
type Snapshot struct {
	Pinned       []core.PinnedEntry  `json:"pinned"`
	Window       []WindowItem        `json:"window"`
	Archive      map[string]string   `json:"archive"`
	ArchiveOrder []string            `json:"archive_order"`
	Dependencies map[string][]string `json:"dependencies"`
	Phase        core.Phase          `json:"phase"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	arch := make(map[string]string, len(e.archive))
	for k, v := range e.archive {
		arch[k] = v
	}
	return Snapshot{
		Pinned:       e.pins.Entries(),
		Window:       e.window.Items(),
		Archive:      arch,
		ArchiveOrder: append([]string(nil), e.archOrder...),
		Dependencies: e.deps.Edges(),
		Phase:        e.phase,
	}
}

// Restore rebuilds engine state from a recovered context. Entries that
// no longer fit their budgets are skipped and reported by the caller's
// reconstruction ledger, not silently retried.
func (e *Engine) Restore(ctx context.Context, rc core.ReconstructedContext, contents map[string]string) {
	restored := e.pins.Restore(rc.Pinned)

	e.mu.Lock()
	for _, id := range rc.Archive {
		if !e.archivedAt[id] {
			e.archivedAt[id] = true
			e.archOrder = append(e.archOrder, id)
			e.archive[id] = contents[id]
		}
	}
	e.mu.Unlock()

	for _, id := range rc.Window {
		if content, ok := contents[id]; ok {
			e.AddActive(id, content)
		}
	}
	if err := e.deps.Restore(rc.Dependencies); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("dependency graph restore was partial")
	}

	log.FromCtx(ctx).Info().
		Int("pinned", restored).
		Int("window", len(rc.Window)).
		Int("archived", len(rc.Archive)).
		Msg("composition state restored")
}

// archiveLocked moves evicted window items into the reference tier.
// Caller holds the lock.
func (e *Engine) archiveLocked(evicted []WindowItem) {
	for _, item := range evicted {
		if e.archivedAt[item.ID] {
			continue
		}
		e.archivedAt[item.ID] = true
		e.archive[item.ID] = item.Content
		e.archOrder = append(e.archOrder, item.ID)
	}
}
