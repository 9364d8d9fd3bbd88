package recovery

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
)

func testRecoveryConfig() *config.RecoveryConfig {
	return &config.RecoveryConfig{
		DetectConfidence:  0.5,
		FallbackThreshold: 0.85,
		HotCapacityBytes:  4 * 1024 * 1024,
	}
}

// fakeTierRepo is an in-memory TierRepository.
type fakeTierRepo struct {
	mu    sync.Mutex
	items map[core.TierName]map[string]core.TierItem
}

func newFakeTierRepo() *fakeTierRepo {
	return &fakeTierRepo{items: map[core.TierName]map[string]core.TierItem{
		core.TierWarm: {},
		core.TierCold: {},
	}}
}

func (f *fakeTierRepo) PutTierItem(_ context.Context, tier core.TierName, item core.TierItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[tier][item.Key] = item
	return nil
}

func (f *fakeTierRepo) GetTierItem(_ context.Context, tier core.TierName, key string) (core.TierItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[tier][key]
	if !ok {
		return core.TierItem{}, fmt.Errorf("tier item %s/%s: %w", tier, key, core.ErrNotFound)
	}
	return item, nil
}

func (f *fakeTierRepo) DeleteTierItem(_ context.Context, tier core.TierName, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items[tier], key)
	return nil
}

func (f *fakeTierRepo) ListTierKeys(_ context.Context, tier core.TierName) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.items[tier]))
	for k := range f.items[tier] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeTierRepo) TierFootprint(_ context.Context, tier core.TierName) (int, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var size int64
	for _, item := range f.items[tier] {
		size += int64(item.SizeBytes)
	}
	return len(f.items[tier]), size, nil
}

// fakeEmbedder returns fixed unit vectors keyed by text.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{1, 0, 0}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Health(context.Context) error { return nil }

func TestDetectorExactMarker(t *testing.T) {
	d := NewDetector(testRecoveryConfig())

	signal := d.Check(context.Background(), "Note: the previous conversation was condensed to save space.")

	assert.True(t, signal.Detected)
	assert.Equal(t, 1.0, signal.Confidence)
	assert.True(t, d.InRecoveryMode())
}

func TestDetectorFuzzyMatch(t *testing.T) {
	d := NewDetector(testRecoveryConfig())

	// Reworded marker: enough overlapping words to cross the floor.
	signal := d.Check(context.Background(), "earlier messages were summarized for brevity")

	assert.True(t, signal.Detected)
	assert.Less(t, signal.Confidence, 1.0)
	assert.GreaterOrEqual(t, signal.Confidence, 0.5)
}

func TestDetectorIgnoresOrdinaryMessages(t *testing.T) {
	d := NewDetector(testRecoveryConfig())

	signal := d.Check(context.Background(), "please refactor the parser to return typed errors")

	assert.False(t, signal.Detected)
	assert.False(t, d.InRecoveryMode())
}

func TestDetectorClearLeavesRecoveryMode(t *testing.T) {
	d := NewDetector(testRecoveryConfig())
	ctx := context.Background()

	d.Check(ctx, "context window exceeded, older turns dropped")
	require.True(t, d.InRecoveryMode())

	d.Clear(ctx)
	assert.False(t, d.InRecoveryMode())
	// The last signal survives the clear for inspection.
	assert.True(t, d.LastSignal().Detected)
}

func TestTierBridgeHotHit(t *testing.T) {
	repo := newFakeTierRepo()
	b := NewTierBridge(testRecoveryConfig(), repo)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "k1", []byte("payload")))

	item, tier, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, core.TierHot, tier)
	assert.Equal(t, []byte("payload"), item.Data)

	stats, err := b.Stats(ctx, core.TierHot)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestTierBridgeWarmPromotion(t *testing.T) {
	repo := newFakeTierRepo()
	b := NewTierBridge(testRecoveryConfig(), repo)
	ctx := context.Background()

	require.NoError(t, b.PutWarm(ctx, "k1", []byte("warm payload")))

	item, tier, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, core.TierWarm, tier)
	assert.Equal(t, []byte("warm payload"), item.Data)

	// Promotion moved it: now a hot hit, and the warm copy is gone.
	_, tier, err = b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, core.TierHot, tier)

	_, err = repo.GetTierItem(ctx, core.TierWarm, "k1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	stats, err := b.Stats(ctx, core.TierWarm)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Promotions)
}

func TestTierBridgeColdHitStaysArchived(t *testing.T) {
	repo := newFakeTierRepo()
	b := NewTierBridge(testRecoveryConfig(), repo)
	ctx := context.Background()

	require.NoError(t, b.PutCold(ctx, "k1", []byte("cold payload")))

	_, tier, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, core.TierCold, tier)

	// The cold archive copy survives promotion.
	_, err = repo.GetTierItem(ctx, core.TierCold, "k1")
	assert.NoError(t, err)
}

func TestTierBridgeMissEverywhere(t *testing.T) {
	b := NewTierBridge(testRecoveryConfig(), newFakeTierRepo())

	_, _, err := b.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestHotCapacityEvictsToWarm(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.HotCapacityBytes = 1024
	repo := newFakeTierRepo()
	b := NewTierBridge(cfg, repo)
	ctx := context.Background()

	// Three 512-byte items against a 1KB hot tier: the LRU item must
	// be demoted, not lost.
	payload := bytes.Repeat([]byte("x"), 512)
	require.NoError(t, b.Put(ctx, "a", payload))
	require.NoError(t, b.Put(ctx, "b", payload))
	require.NoError(t, b.Put(ctx, "c", payload))

	stats, err := b.Stats(ctx, core.TierHot)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Items)
	assert.LessOrEqual(t, stats.Bytes, int64(1024))
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, uint64(1), stats.Demotions)

	// The evicted item is retrievable from Warm.
	item, err := repo.GetTierItem(ctx, core.TierWarm, "a")
	require.NoError(t, err)
	assert.Equal(t, payload, item.Data)
}

func newTestReconstructor(t *testing.T, embedder core.Embedder) (*Reconstructor, *TierBridge, *fakeTierRepo) {
	t.Helper()
	repo := newFakeTierRepo()
	bridge := NewTierBridge(testRecoveryConfig(), repo)
	return NewReconstructor(testRecoveryConfig(), bridge, embedder), bridge, repo
}

func testSnapshot() Snapshot {
	return Snapshot{
		Pinned:    []core.PinnedEntry{{ID: "pin-1", Content: "the api contract", TokenCount: 12, Priority: 3}},
		WindowIDs: []string{"w1", "w2"},
		Contents: map[string]string{
			"w1": "first active item",
			"w2": "second active item",
		},
		Archive:      []string{"old-1"},
		Dependencies: map[string][]string{"w2": {"w1"}},
	}
}

func TestCheckpointReconstructRoundTrip(t *testing.T) {
	r, _, _ := newTestReconstructor(t, &fakeEmbedder{})
	ctx := context.Background()

	require.NoError(t, r.Checkpoint(ctx, testSnapshot()))

	rc, err := r.Reconstruct(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, rc.Completeness)
	assert.False(t, rc.Partial)
	assert.Empty(t, rc.Lost)
	require.Len(t, rc.Pinned, 1)
	assert.Equal(t, "pin-1", rc.Pinned[0].ID)
	assert.Equal(t, []string{"w1", "w2"}, rc.Window)
	assert.Equal(t, []string{"old-1"}, rc.Archive)
	assert.Equal(t, []string{"w1"}, rc.Dependencies["w2"])
	assert.Zero(t, rc.SemanticFallbks)

	contents, err := r.WindowContents(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first active item", contents["w1"])
}

func TestReconstructNothingCheckpointed(t *testing.T) {
	r, _, _ := newTestReconstructor(t, &fakeEmbedder{})

	rc, err := r.Reconstruct(context.Background())
	require.NoError(t, err)

	// Misses are reported, not fatal.
	assert.Zero(t, rc.Completeness)
	assert.True(t, rc.Partial)
	assert.Len(t, rc.Lost, 4)
	assert.Equal(t, 4, rc.SemanticFallbks)
}

func TestReconstructReportsOwnFallbacksOnly(t *testing.T) {
	r, _, _ := newTestReconstructor(t, &fakeEmbedder{})
	ctx := context.Background()

	first, err := r.Reconstruct(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, first.SemanticFallbks)

	// A second pass on the same reconstructor reports only its own
	// fallbacks; the lifetime counter keeps the running total.
	second, err := r.Reconstruct(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, second.SemanticFallbks)
	assert.Equal(t, uint64(8), r.Fallbacks())
}

func TestReconstructSemanticFallback(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		componentQueries[KeyPinned]: {0, 1, 0},
	}}
	r, bridge, repo := newTestReconstructor(t, embedder)
	ctx := context.Background()

	require.NoError(t, r.Checkpoint(ctx, testSnapshot()))

	// Lose the pinned component's key everywhere except its indexed
	// cold copy, which the pinned query vector still matches.
	require.True(t, bridge.hot.Remove(KeyPinned))
	require.NoError(t, repo.DeleteTierItem(ctx, core.TierWarm, KeyPinned))
	cold, err := repo.GetTierItem(ctx, core.TierCold, KeyPinned)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteTierItem(ctx, core.TierCold, KeyPinned))
	cold.Key = "misplaced:pinned"
	cold.Embedding = []float32{0, 1, 0}
	require.NoError(t, repo.PutTierItem(ctx, core.TierCold, cold))

	rc, err := r.Reconstruct(ctx)
	require.NoError(t, err)

	require.Len(t, rc.Pinned, 1)
	assert.Equal(t, "pin-1", rc.Pinned[0].ID)
	assert.Equal(t, 1, rc.SemanticFallbks)
	assert.Equal(t, 1.0, rc.Completeness)
}

func TestReconstructEmbedderDownDegrades(t *testing.T) {
	r, _, _ := newTestReconstructor(t, &fakeEmbedder{fail: true})

	rc, err := r.Reconstruct(context.Background())
	require.NoError(t, err)

	assert.True(t, rc.Partial)
	assert.Len(t, rc.Lost, 4)
	for _, lost := range rc.Lost {
		assert.Contains(t, lost.Reason, "semantic fallback unavailable")
	}
}

func TestReconstructExpiredContextReturnsPartial(t *testing.T) {
	r, _, _ := newTestReconstructor(t, &fakeEmbedder{})
	require.NoError(t, r.Checkpoint(context.Background(), testSnapshot()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc, err := r.Reconstruct(ctx)
	require.NoError(t, err)

	assert.True(t, rc.Partial)
	assert.Len(t, rc.Lost, 4)
	for _, lost := range rc.Lost {
		assert.Contains(t, lost.Reason, "deadline")
	}
}
