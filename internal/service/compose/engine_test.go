package compose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/memctx/internal/core"
)

func TestComposeFourTiers(t *testing.T) {
	e := NewEngine(testComposeConfig())
	ctx := context.Background()

	require.NoError(t, e.Pins().Pin("arch", "service boundaries stay as drawn", 8, "manual", 1))
	e.AddActive("step-1", "implemented the chunk writer")
	e.AddActive("step-2", "wired the retry policy")

	cc := e.Compose(ctx, ComposeOptions{
		ContextWindow: 100_000,
		Prior:         []PriorItem{{ID: "ep-1", Content: "similar fix from last week"}},
	})

	assert.Len(t, cc.Pinned.Items, 1)
	assert.Len(t, cc.Prior.Items, 1)
	assert.Len(t, cc.Active.Items, 2)
	assert.Empty(t, cc.Archived.Items)
	assert.Equal(t, cc.Pinned.Tokens+cc.Prior.Tokens+cc.Active.Tokens, cc.TotalTokens)
	assert.LessOrEqual(t, cc.TotalTokens, cc.Window)
	assert.Positive(t, cc.Utilization)
}

func TestComposeNeverExceedsWindow(t *testing.T) {
	e := NewEngine(testComposeConfig())
	ctx := context.Background()

	require.NoError(t, e.Pins().Pin("big", "x", 1500, "manual", 2))
	require.NoError(t, e.Pins().Pin("small", "y", 30, "manual", 1))
	for i := 0; i < 5; i++ {
		e.AddActive(string(rune('a'+i)), "a reasonably long window item about ongoing work")
	}

	cc := e.Compose(ctx, ComposeOptions{ContextWindow: 1600})

	assert.LessOrEqual(t, cc.TotalTokens, 1600)
	// The oversized pin took most of the budget; items are skipped
	// whole, never truncated.
	assert.Contains(t, cc.Pinned.Items, "x")
}

func TestComposePriorCapped(t *testing.T) {
	e := NewEngine(testComposeConfig())

	cc := e.Compose(context.Background(), ComposeOptions{
		ContextWindow: 100_000,
		Prior: []PriorItem{
			{ID: "1", Content: "first"},
			{ID: "2", Content: "second"},
			{ID: "3", Content: "third"},
		},
	})

	// MaxDescPrior is 2.
	assert.Equal(t, []string{"first", "second"}, cc.Prior.Items)
}

func TestComposeDependenciesPrecedeDependents(t *testing.T) {
	e := NewEngine(testComposeConfig())

	e.AddActive("helper", "the helper definition")
	e.AddActive("schema", "the schema definition")
	e.AddActive("caller", "the caller using both")
	require.NoError(t, e.AddDependency("caller", "helper"))
	require.NoError(t, e.AddDependency("helper", "schema"))

	cc := e.Compose(context.Background(), ComposeOptions{
		ContextWindow:       100_000,
		IncludeDependencies: true,
	})

	require.Len(t, cc.Active.Items, 3)
	pos := make(map[string]int)
	for i, item := range cc.Active.Items {
		pos[item] = i
	}
	assert.Less(t, pos["the schema definition"], pos["the helper definition"])
	assert.Less(t, pos["the helper definition"], pos["the caller using both"])
}

func TestWindowOverflowMovesToArchive(t *testing.T) {
	cfg := testComposeConfig()
	cfg.WindowImplementing = 2
	e := NewEngine(cfg)

	e.AddActive("a", "oldest")
	e.AddActive("b", "middle")
	e.AddActive("c", "newest")

	cc := e.Compose(context.Background(), ComposeOptions{ContextWindow: 100_000})

	assert.Len(t, cc.Active.Items, 2)
	assert.Equal(t, []string{"a"}, cc.Archived.Items)
	// Archive references cost no tokens.
	assert.Zero(t, cc.Archived.Tokens)
}

func TestSetPhaseResizesWindowIdempotently(t *testing.T) {
	e := NewEngine(testComposeConfig())
	ctx := context.Background()

	assert.Equal(t, core.PhaseImplementation, e.Phase())
	assert.Equal(t, 10, e.Window().Size())

	e.SetPhase(ctx, core.PhasePlanning)
	assert.Equal(t, 5, e.Window().Size())

	// Repeating the same phase changes nothing.
	e.SetPhase(ctx, core.PhasePlanning)
	assert.Equal(t, 5, e.Window().Size())

	e.SetPhase(ctx, core.PhaseQA)
	assert.Equal(t, 15, e.Window().Size())
}

func TestSetPhaseShrinkArchivesEvicted(t *testing.T) {
	cfg := testComposeConfig()
	cfg.WindowImplementing = 4
	cfg.WindowPlanning = 2
	e := NewEngine(cfg)

	for _, id := range []string{"a", "b", "c", "d"} {
		e.AddActive(id, id)
	}
	e.SetPhase(context.Background(), core.PhasePlanning)

	assert.Equal(t, []string{"a", "b"}, e.ArchivedIDs())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	cfg := testComposeConfig()
	cfg.WindowImplementing = 2
	e := NewEngine(cfg)
	ctx := context.Background()

	require.NoError(t, e.Pins().Pin("pin", "the pinned note", 10, "manual", 3))
	e.AddActive("old", "rotated out")
	e.AddActive("a", "kept one")
	e.AddActive("b", "kept two")
	require.NoError(t, e.AddDependency("b", "a"))

	snap := e.Snapshot()

	fresh := NewEngine(cfg)
	contents := map[string]string{"old": "rotated out", "a": "kept one", "b": "kept two"}
	fresh.Restore(ctx, core.ReconstructedContext{
		Pinned:       snap.Pinned,
		Window:       []string{"a", "b"},
		Archive:      snap.ArchiveOrder,
		Dependencies: snap.Dependencies,
	}, contents)

	assert.Equal(t, 10, fresh.Pins().TotalTokens())
	assert.Equal(t, []string{"a", "b"}, windowIDs(fresh.Window()))
	assert.Equal(t, []string{"old"}, fresh.ArchivedIDs())
	assert.Equal(t, []string{"a"}, fresh.Dependencies().OrderedDependencies("b"))
}

func TestUsageTrackerRecordsCompositions(t *testing.T) {
	e := NewEngine(testComposeConfig())

	e.AddActive("a", "something in the window")
	e.Compose(context.Background(), ComposeOptions{ContextWindow: 10_000})
	e.Compose(context.Background(), ComposeOptions{ContextWindow: 10_000})

	stats := e.Usage()
	assert.Equal(t, 2, stats.Compositions)
	assert.Positive(t, stats.TotalTokens)
	assert.Positive(t, stats.MaxUtilization)
}
