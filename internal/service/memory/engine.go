package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sandevgo/memctx/internal/chunker"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/internal/service/compose"
	"github.com/sandevgo/memctx/internal/service/episode"
	"github.com/sandevgo/memctx/internal/service/recovery"
	"github.com/sandevgo/memctx/internal/service/retrieval"
	"github.com/sandevgo/memctx/internal/tokens"
	"github.com/sandevgo/memctx/pkg/log"
)

// Engine is the consumer-facing surface of the context and memory
// core. Orchestrators call into it; everything behind it degrades
// gracefully so a memory failure never blocks the primary task.
type Engine struct {
	chunker   *chunker.Chunker
	embedder  core.Embedder
	store     *episode.Store
	retriever *retrieval.Retriever
	filter    *retrieval.InjectionFilter
	calc      *retrieval.Calculator
	adjuster  *retrieval.Adjuster
	tracker   *retrieval.Tracker
	composer  *compose.Engine
	detector  *recovery.Detector
	rebuilder *recovery.Reconstructor
}

type Deps struct {
	Chunker   *chunker.Chunker
	Embedder  core.Embedder
	Store     *episode.Store
	Retriever *retrieval.Retriever
	Filter    *retrieval.InjectionFilter
	Calc      *retrieval.Calculator
	Adjuster  *retrieval.Adjuster
	Tracker   *retrieval.Tracker
	Composer  *compose.Engine
	Detector  *recovery.Detector
	Rebuilder *recovery.Reconstructor
}

func NewEngine(d Deps) *Engine {
	return &Engine{
		chunker:   d.Chunker,
		embedder:  d.Embedder,
		store:     d.Store,
		retriever: d.Retriever,
		filter:    d.Filter,
		calc:      d.Calc,
		adjuster:  d.Adjuster,
		tracker:   d.Tracker,
		composer:  d.Composer,
		detector:  d.Detector,
		rebuilder: d.Rebuilder,
	}
}

// Store chunks and embeds both sides of an interaction and persists
// the episode. Unlike retrieval, a store cannot degrade: without
// embeddings there is nothing durable to keep, so failures propagate.
func (e *Engine) Store(ctx context.Context, queryText, answerText string, md core.Metadata) (string, error) {
	queryChunks, err := e.chunker.ChunkWithPositions(queryText)
	if err != nil {
		return "", fmt.Errorf("failed to chunk query: %w", err)
	}
	answerChunks, err := e.chunker.ChunkWithPositions(answerText)
	if err != nil {
		return "", fmt.Errorf("failed to chunk answer: %w", err)
	}

	queryVecs, err := e.embed(ctx, queryChunks)
	if err != nil {
		return "", fmt.Errorf("failed to embed query chunks: %w", err)
	}
	answerVecs, err := e.embed(ctx, answerChunks)
	if err != nil {
		return "", fmt.Errorf("failed to embed answer chunks: %w", err)
	}

	return e.store.StoreEpisode(ctx, episode.StoreInput{
		QueryText:    queryText,
		AnswerText:   answerText,
		QueryChunks:  queryChunks,
		AnswerChunks: answerChunks,
		Metadata:     md,
	}, queryVecs, answerVecs)
}

// RetrieveOptions narrows one retrieval. Zero values use configured
// defaults.
type RetrieveOptions struct {
	Threshold  float64
	MaxResults int
	Task       retrieval.TaskContext
}

// Retrieve searches the episodic store and annotates results with
// confidence tiers and negative-example warnings. An embedding outage
// degrades to no results rather than failing the caller.
func (e *Engine) Retrieve(ctx context.Context, searchText string, opts RetrieveOptions) ([]core.RetrievedEpisode, error) {
	chunks, err := e.chunker.ChunkWithPositions(searchText)
	if err != nil {
		return nil, err
	}
	queryVecs, err := e.embed(ctx, chunks)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("embedding unavailable, retrieval degraded to empty")
		return nil, nil
	}

	results, err := e.retriever.Retrieve(ctx, queryVecs, retrieval.Options{
		Threshold:  opts.Threshold,
		MaxResults: opts.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	category := retrieval.ClassifyCategory(opts.Task)
	effective := e.adjuster.EffectiveThreshold(ctx, category)
	statsFor := func(episodeID string) core.EpisodeStats {
		stats, err := e.tracker.Stats(ctx, episodeID)
		if err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("episode_id", episodeID).Msg("stats lookup failed")
			return core.EpisodeStats{EpisodeID: episodeID}
		}
		return stats
	}
	return e.calc.Annotate(results, statsFor, effective, time.Now().UTC()), nil
}

// InjectOptions shape one prompt augmentation.
type InjectOptions struct {
	Threshold   float64
	MaxEpisodes int
	Task        retrieval.TaskContext
}

// InjectResult reports what augmentation did to the prompt.
type InjectResult struct {
	Prompt       string   `json:"prompt"`
	Injected     []string `json:"injected_episode_ids"`
	TokensBefore int      `json:"tokens_before"`
	TokensAfter  int      `json:"tokens_after"`
	TokensAdded  int      `json:"tokens_added"`
}

// Inject augments a prompt with prior solutions that pass the safety
// filter. Every failure path returns the original prompt untouched.
func (e *Engine) Inject(ctx context.Context, prompt string, opts InjectOptions) (InjectResult, error) {
	before := tokens.Count(prompt)
	result := InjectResult{Prompt: prompt, TokensBefore: before, TokensAfter: before}

	task := opts.Task
	if task.Prompt == "" {
		task.Prompt = prompt
	}

	candidates, err := e.Retrieve(ctx, prompt, RetrieveOptions{
		Threshold:  opts.Threshold,
		MaxResults: opts.MaxEpisodes,
		Task:       task,
	})
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("retrieval failed, prompt left unaugmented")
		return result, nil
	}

	now := time.Now().UTC()
	var sections []string
	for _, candidate := range candidates {
		ok, reason := e.filter.ShouldInject(ctx, candidate, task, now)
		if !ok {
			log.FromCtx(ctx).Debug().
				Str("episode_id", candidate.Episode.ID).
				Str("reason", reason).
				Msg("injection candidate filtered")
			continue
		}
		sections = append(sections, formatEpisode(candidate))
		result.Injected = append(result.Injected, candidate.Episode.ID)
	}
	if len(sections) == 0 {
		return result, nil
	}

	var sb strings.Builder
	sb.WriteString("### Relevant Prior Solutions\n")
	sb.WriteString(strings.Join(sections, "\n"))
	sb.WriteString("\n\n")
	sb.WriteString(prompt)

	result.Prompt = sb.String()
	result.TokensAfter = tokens.Count(result.Prompt)
	result.TokensAdded = result.TokensAfter - before
	return result, nil
}

// RecordOutcome persists one reuse outcome and returns its id.
func (e *Engine) RecordOutcome(ctx context.Context, episodeID, taskID string, success bool, errorType string) (string, error) {
	return e.tracker.Record(ctx, episodeID, taskID, success, errorType)
}

// ComposeOptions shape one context composition.
type ComposeOptions struct {
	ContextWindow       int
	Phase               core.Phase
	IncludeDependencies bool
	SearchText          string // fills the prior tier when non-empty
}

// ComposeContext assembles the four-tier bundle, filling the
// prior-solutions tier from retrieval when search text is given.
func (e *Engine) ComposeContext(ctx context.Context, opts ComposeOptions) (core.ComposedContext, error) {
	if opts.Phase != "" {
		e.composer.SetPhase(ctx, opts.Phase)
	}

	var prior []compose.PriorItem
	if opts.SearchText != "" {
		candidates, err := e.Retrieve(ctx, opts.SearchText, RetrieveOptions{})
		if err != nil {
			return core.ComposedContext{}, err
		}
		for _, c := range candidates {
			prior = append(prior, compose.PriorItem{
				ID:      c.Episode.ID,
				Content: formatEpisode(c),
			})
		}
	}

	return e.composer.Compose(ctx, compose.ComposeOptions{
		ContextWindow:       opts.ContextWindow,
		Prior:               prior,
		IncludeDependencies: opts.IncludeDependencies,
	}), nil
}

// CheckCompaction scores a message for truncation markers and reports
// whether recovery is needed.
func (e *Engine) CheckCompaction(ctx context.Context, message string) bool {
	return e.detector.Check(ctx, message).Detected
}

// Checkpoint persists the current composition state so a later
// compaction can be recovered from.
func (e *Engine) Checkpoint(ctx context.Context) error {
	snap := e.composer.Snapshot()
	contents := make(map[string]string, len(snap.Window))
	ids := make([]string, 0, len(snap.Window))
	for _, item := range snap.Window {
		ids = append(ids, item.ID)
		contents[item.ID] = item.Content
	}
	return e.rebuilder.Checkpoint(ctx, recovery.Snapshot{
		Pinned:       snap.Pinned,
		WindowIDs:    ids,
		Contents:     contents,
		Archive:      snap.ArchiveOrder,
		Dependencies: snap.Dependencies,
	})
}

// ReconstructContext rebuilds composition state after a detected
// compaction and reapplies it to the live engine. Partial recoveries
// are applied as far as they go; lost items ride along in the result.
func (e *Engine) ReconstructContext(ctx context.Context) (core.ReconstructedContext, error) {
	rc, err := e.rebuilder.Reconstruct(ctx)
	if err != nil {
		return rc, err
	}

	contents, err := e.rebuilder.WindowContents(ctx)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("window contents unavailable, restoring ids only")
	}
	e.composer.Restore(ctx, rc, contents)
	e.detector.Clear(ctx)
	return rc, nil
}

// Pin, Unpin, and related passthroughs expose the composition
// building blocks without leaking the whole engine.
func (e *Engine) Pin(id, content string, reason string, priority int) error {
	return e.composer.Pins().Pin(id, content, tokens.Count(content), reason, priority)
}

func (e *Engine) Unpin(id string) bool { return e.composer.Pins().Unpin(id) }

func (e *Engine) AddActive(id, content string) { e.composer.AddActive(id, content) }

func (e *Engine) AddDependency(from, to string) error { return e.composer.AddDependency(from, to) }

func (e *Engine) SetPhase(ctx context.Context, phase core.Phase) { e.composer.SetPhase(ctx, phase) }

// Deprecate soft-deletes an episode; hard deletes are forbidden by the
// append-only contract.
func (e *Engine) Deprecate(ctx context.Context, episodeID string) error {
	return e.store.Deprecate(ctx, episodeID)
}

// Stats bundles the observability counters of the whole engine.
type Stats struct {
	Episodes     int              `json:"episodes"`
	Cache        CacheStats       `json:"cache"`
	Compositions int              `json:"compositions"`
	Detections   uint64           `json:"compaction_detections"`
	Fallbacks    uint64           `json:"semantic_fallbacks"`
	Tiers        []core.TierStats `json:"tiers,omitempty"`
}

type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	count, err := e.store.CountEpisodes(ctx)
	if err != nil {
		return Stats{}, err
	}
	cache := e.store.CacheStats()
	return Stats{
		Episodes: count,
		Cache: CacheStats{
			Hits:      cache.Hits,
			Misses:    cache.Misses,
			Evictions: cache.Evictions,
			Entries:   cache.Entries,
			Bytes:     cache.Bytes,
		},
		Compositions: e.composer.Usage().Compositions,
		Detections:   e.detector.Detections(),
		Fallbacks:    e.rebuilder.Fallbacks(),
	}, nil
}

// embed turns chunk texts into vectors, preserving chunk order.
func (e *Engine) embed(ctx context.Context, chunks []core.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return e.embedder.Embed(ctx, texts)
}

func formatEpisode(r core.RetrievedEpisode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- [similarity %.2f, confidence %s]", r.Similarity, r.Confidence)
	if r.Warning != "" {
		fmt.Fprintf(&sb, " WARNING: %s", r.Warning)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Task: %s\n", firstLine(r.Episode.QueryText))
	fmt.Fprintf(&sb, "  Solution: %s", r.Episode.AnswerText)
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
