package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/memctx/internal/chunker"
	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/internal/service/compose"
	"github.com/sandevgo/memctx/internal/service/episode"
	"github.com/sandevgo/memctx/internal/service/recovery"
	"github.com/sandevgo/memctx/internal/service/retrieval"
	"github.com/sandevgo/memctx/internal/storage/sqlite"
)

// hashEmbedder derives a deterministic unit vector from each text, so
// identical texts embed identically (self-similarity 1.0) and distinct
// texts land nearly orthogonal.
type hashEmbedder struct {
	fail bool
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if h.fail {
		return nil, fmt.Errorf("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func (h *hashEmbedder) Health(context.Context) error { return nil }

func hashVector(text string) []float32 {
	const dim = 32
	vec := make([]float32, dim)
	hash := fnv.New64a()
	hash.Write([]byte(text))
	seed := hash.Sum64()
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>32)) / float32(math.MaxInt32)
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func newTestEngine(t *testing.T, embedder core.Embedder) *Engine {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "memctx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	chunkCfg := &config.ChunkerConfig{MaxChars: 1200, MinChars: 120, Overlap: 240, MaxChunks: 256}
	retrCfg := &config.RetrievalConfig{
		Threshold:            0.80,
		MaxResults:           2,
		CodingThreshold:      0.92,
		ResearchThreshold:    0.80,
		GeneralThreshold:     0.85,
		CodingHalfLife:       168 * time.Hour,
		ResearchHalfLife:     720 * time.Hour,
		GeneralHalfLife:      336 * time.Hour,
		MinAdjustmentSamples: 10,
		AdjustmentStep:       0.02,
		AdjustmentBound:      0.05,
		AdjustmentWindow:     720 * time.Hour,
		NegativeMultiplier:   0.85,
		ConfidenceTTL:        time.Minute,
	}
	composeCfg := &config.ComposeConfig{
		MaxPinnedTokens:    2000,
		MaxDescPrior:       2,
		AutoPinThreshold:   3,
		AutoPinPriority:    5,
		EpisodeCacheSize:   100,
		WindowPlanning:     5,
		WindowImplementing: 10,
		WindowQA:           15,
		SummarizeAt:        0.85,
	}
	recCfg := &config.RecoveryConfig{
		DetectConfidence:  0.5,
		FallbackThreshold: 0.85,
		HotCapacityBytes:  4 * 1024 * 1024,
	}

	episodeRepo := sqlite.NewEpisodeRepo(db)
	outcomeRepo := sqlite.NewOutcomeRepo(db)
	adjustRepo := sqlite.NewAdjustmentRepo(db)
	tierRepo := sqlite.NewTierRepo(db)

	store := episode.NewStore(episodeRepo, composeCfg.EpisodeCacheSize)
	adjuster := retrieval.NewAdjuster(retrCfg, outcomeRepo, adjustRepo)
	bridge := recovery.NewTierBridge(recCfg, tierRepo)

	return NewEngine(Deps{
		Chunker:   chunker.New(chunkCfg),
		Embedder:  embedder,
		Store:     store,
		Retriever: retrieval.NewRetriever(store, retrCfg),
		Filter:    retrieval.NewInjectionFilter(retrCfg, adjuster),
		Calc:      retrieval.NewCalculator(retrCfg),
		Adjuster:  adjuster,
		Tracker:   retrieval.NewTracker(outcomeRepo),
		Composer:  compose.NewEngine(composeCfg),
		Detector:  recovery.NewDetector(recCfg),
		Rebuilder: recovery.NewReconstructor(recCfg, bridge, embedder),
	})
}

func TestStoreAndSelfRetrieve(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{})
	ctx := context.Background()

	id, err := e.Store(ctx, "fix null pointer in parser", "add null check before dereference", core.Metadata{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	results, err := e.Retrieve(ctx, "fix null pointer in parser", RetrieveOptions{})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Episode.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 0.001)
	assert.Equal(t, "add null check before dereference", results[0].Episode.AnswerText)
}

func TestRetrieveDegradesWhenEmbedderDown(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{fail: true})

	results, err := e.Retrieve(context.Background(), "anything", RetrieveOptions{})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInjectAugmentsPrompt(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{})
	ctx := context.Background()

	prompt := "summarize the state of the migration work"
	id, err := e.Store(ctx, prompt, "the schema migration finished last sprint", core.Metadata{
		Category:    core.CategoryGeneral,
		ContentType: "text",
	})
	require.NoError(t, err)

	result, err := e.Inject(ctx, prompt, InjectOptions{
		Task: retrieval.TaskContext{Category: core.CategoryGeneral},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{id}, result.Injected)
	assert.Contains(t, result.Prompt, "Relevant Prior Solutions")
	assert.Contains(t, result.Prompt, "the schema migration finished last sprint")
	assert.Contains(t, result.Prompt, prompt)
	assert.Greater(t, result.TokensAfter, result.TokensBefore)
	assert.Equal(t, result.TokensAfter-result.TokensBefore, result.TokensAdded)
}

func TestInjectLeavesPromptUntouchedWhenNothingMatches(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{})
	ctx := context.Background()

	prompt := "an entirely novel request with no history"
	result, err := e.Inject(ctx, prompt, InjectOptions{})

	require.NoError(t, err)
	assert.Equal(t, prompt, result.Prompt)
	assert.Empty(t, result.Injected)
	assert.Zero(t, result.TokensAdded)
}

func TestInjectDegradesWhenEmbedderDown(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{fail: true})

	prompt := "please do the thing"
	result, err := e.Inject(context.Background(), prompt, InjectOptions{})

	require.NoError(t, err)
	assert.Equal(t, prompt, result.Prompt)
}

func TestRecordOutcomeRoundTrip(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{})
	ctx := context.Background()

	id, err := e.Store(ctx, "query", "answer", core.Metadata{})
	require.NoError(t, err)

	outcomeID, err := e.RecordOutcome(ctx, id, "task-1", true, "")
	require.NoError(t, err)
	assert.NotEmpty(t, outcomeID)

	_, err = e.RecordOutcome(ctx, id, "task-2", true, "compile_error")
	assert.Error(t, err, "error type is only valid on failures")
}

func TestFailingEpisodeNeverHigh(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{})
	ctx := context.Background()

	query := "how to configure the cache eviction policy"
	id, err := e.Store(ctx, query, "set the eviction knob to lru", core.Metadata{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.RecordOutcome(ctx, id, fmt.Sprintf("task-%d", i), false, "wrong_answer")
		require.NoError(t, err)
	}

	results, err := e.Retrieve(ctx, query, RetrieveOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.NotEqual(t, core.ConfidenceHigh, results[0].Confidence)
	assert.True(t, results[0].Deprioritized)
	assert.NotEmpty(t, results[0].Warning)
}

func TestComposeContextWithPrior(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{})
	ctx := context.Background()

	search := "set up the ingestion pipeline"
	_, err := e.Store(ctx, search, "use the batching worker", core.Metadata{})
	require.NoError(t, err)

	require.NoError(t, e.Pin("rules", "never bypass review", "manual", 5))
	e.AddActive("step-1", "created the worker scaffold")

	cc, err := e.ComposeContext(ctx, ComposeOptions{
		ContextWindow: 100_000,
		Phase:         core.PhaseImplementation,
		SearchText:    search,
	})
	require.NoError(t, err)

	assert.Len(t, cc.Pinned.Items, 1)
	assert.Len(t, cc.Prior.Items, 1)
	assert.Len(t, cc.Active.Items, 1)
	assert.LessOrEqual(t, cc.TotalTokens, cc.Window)
}

func TestCheckCompaction(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{})
	ctx := context.Background()

	assert.False(t, e.CheckCompaction(ctx, "regular message about work"))
	assert.True(t, e.CheckCompaction(ctx, "note: context window exceeded, dropping old turns"))
}

func TestCheckpointAndReconstruct(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{})
	ctx := context.Background()

	require.NoError(t, e.Pin("contract", "the api contract", "manual", 3))
	e.AddActive("w1", "first work item")
	e.AddActive("w2", "second work item")
	require.NoError(t, e.AddDependency("w2", "w1"))
	require.NoError(t, e.Checkpoint(ctx))

	require.True(t, e.CheckCompaction(ctx, "the conversation has been compacted"))

	rc, err := e.ReconstructContext(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, rc.Completeness, 0.75)
	require.Len(t, rc.Pinned, 1)
	assert.Equal(t, "contract", rc.Pinned[0].ID)
	assert.Equal(t, []string{"w1", "w2"}, rc.Window)
	assert.Equal(t, []string{"w1"}, rc.Dependencies["w2"])
}

func TestStatsCounters(t *testing.T) {
	e := newTestEngine(t, &hashEmbedder{})
	ctx := context.Background()

	_, err := e.Store(ctx, "q", "a", core.Metadata{})
	require.NoError(t, err)
	_, err = e.ComposeContext(ctx, ComposeOptions{ContextWindow: 1000})
	require.NoError(t, err)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Episodes)
	assert.Equal(t, 1, stats.Compositions)
}
