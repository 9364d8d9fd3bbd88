package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*EpisodeRepo, *OutcomeRepo, *AdjustmentRepo, *TierRepo) {
	t.Helper()
	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "memctx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEpisodeRepo(db), NewOutcomeRepo(db), NewAdjustmentRepo(db), NewTierRepo(db)
}

func testEpisode(id string) core.Episode {
	return core.Episode{
		ID:         id,
		QueryText:  "fix null pointer in parser",
		AnswerText: "add null check before dereference",
		QueryChunks: []core.Chunk{
			{Text: "fix null pointer in parser", Start: 0, End: 26, Index: 0, Total: 1},
		},
		AnswerChunks: []core.Chunk{
			{Text: "add null check before dereference", Start: 0, End: 33, Index: 0, Total: 1},
		},
		QueryEmbeddings:  [][]float32{{1, 0, 0}},
		AnswerEmbeddings: [][]float32{{0, 1, 0}},
		Metadata: core.Metadata{
			Version:     core.MetadataVersion,
			Category:    core.CategoryCoding,
			ContentType: "code",
			Files:       []string{"parser.go"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestEpisodeRepo_RoundTrip(t *testing.T) {
	t.Parallel()
	episodes, _, _, _ := newTestDB(t)
	ctx := context.Background()

	ep := testEpisode(uuid.NewString())
	require.NoError(t, episodes.InsertEpisode(ctx, ep))

	got, err := episodes.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.QueryText, got.QueryText)
	assert.Equal(t, ep.AnswerText, got.AnswerText)
	assert.Equal(t, ep.QueryEmbeddings, got.QueryEmbeddings)
	assert.Equal(t, ep.AnswerEmbeddings, got.AnswerEmbeddings)
	assert.Equal(t, core.CategoryCoding, got.Metadata.Category)
	assert.Equal(t, []string{"parser.go"}, got.Metadata.Files)
}

func TestEpisodeRepo_InsertIsIdempotent(t *testing.T) {
	t.Parallel()
	episodes, _, _, _ := newTestDB(t)
	ctx := context.Background()

	ep := testEpisode(uuid.NewString())
	require.NoError(t, episodes.InsertEpisode(ctx, ep))
	require.NoError(t, episodes.InsertEpisode(ctx, ep))

	count, err := episodes.CountEpisodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEpisodeRepo_NotFound(t *testing.T) {
	t.Parallel()
	episodes, _, _, _ := newTestDB(t)

	_, err := episodes.GetEpisode(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEpisodeRepo_AppendOnly(t *testing.T) {
	t.Parallel()
	episodes, outcomes, _, _ := newTestDB(t)
	ctx := context.Background()

	ep := testEpisode(uuid.NewString())
	require.NoError(t, episodes.InsertEpisode(ctx, ep))

	var appendErr *core.AppendOnlyError
	assert.ErrorAs(t, episodes.DeleteEpisode(ctx, ep.ID), &appendErr)
	assert.ErrorAs(t, episodes.ClearEpisodes(ctx), &appendErr)
	assert.ErrorAs(t, outcomes.DeleteOutcomes(ctx, ep.ID), &appendErr)

	count, err := episodes.CountEpisodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "count never decreases")
}

func TestEpisodeRepo_Deprecate(t *testing.T) {
	t.Parallel()
	episodes, _, _, _ := newTestDB(t)
	ctx := context.Background()

	ep := testEpisode(uuid.NewString())
	require.NoError(t, episodes.InsertEpisode(ctx, ep))
	require.NoError(t, episodes.DeprecateEpisode(ctx, ep.ID))

	got, err := episodes.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.True(t, got.Deprecated)

	assert.ErrorIs(t, episodes.DeprecateEpisode(ctx, "missing"), core.ErrNotFound)
}

func TestOutcomeRepo_StatsMaintainedIncrementally(t *testing.T) {
	t.Parallel()
	episodes, outcomes, _, _ := newTestDB(t)
	ctx := context.Background()

	ep := testEpisode(uuid.NewString())
	require.NoError(t, episodes.InsertEpisode(ctx, ep))

	record := func(success bool) {
		require.NoError(t, outcomes.InsertOutcome(ctx, core.Outcome{
			ID:         uuid.NewString(),
			EpisodeID:  ep.ID,
			TaskID:     uuid.NewString(),
			Success:    success,
			RecordedAt: time.Now().UTC(),
		}))
	}

	record(true)
	record(true)

	stats, err := outcomes.GetStats(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OutcomeCount)
	assert.Nil(t, stats.SuccessRate, "no rate below the minimum sample count")

	record(false)

	stats, err = outcomes.GetStats(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.OutcomeCount)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.Equal(t, 1, stats.FailureCount)
	require.NotNil(t, stats.SuccessRate)
	assert.InDelta(t, 2.0/3.0, *stats.SuccessRate, 1e-9)
}

func TestOutcomeRepo_RequiresEpisode(t *testing.T) {
	t.Parallel()
	_, outcomes, _, _ := newTestDB(t)

	err := outcomes.InsertOutcome(context.Background(), core.Outcome{
		ID:         uuid.NewString(),
		EpisodeID:  "missing",
		TaskID:     "t1",
		Success:    true,
		RecordedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestOutcomeRepo_CategorySuccess(t *testing.T) {
	t.Parallel()
	episodes, outcomes, _, _ := newTestDB(t)
	ctx := context.Background()

	ep := testEpisode(uuid.NewString())
	require.NoError(t, episodes.InsertEpisode(ctx, ep))

	for _, success := range []bool{true, true, false, true} {
		require.NoError(t, outcomes.InsertOutcome(ctx, core.Outcome{
			ID:         uuid.NewString(),
			EpisodeID:  ep.ID,
			TaskID:     uuid.NewString(),
			Success:    success,
			RecordedAt: time.Now().UTC(),
		}))
	}

	samples, rate, err := outcomes.CategorySuccess(ctx, core.CategoryCoding, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, samples)
	assert.InDelta(t, 0.75, rate, 1e-9)

	samples, _, err = outcomes.CategorySuccess(ctx, core.CategoryResearch, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, samples)
}

func TestAdjustmentRepo_CurrentThreshold(t *testing.T) {
	t.Parallel()
	_, _, adjustments, _ := newTestDB(t)
	ctx := context.Background()

	_, found, err := adjustments.CurrentThreshold(ctx, core.CategoryCoding)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, adjustments.InsertAdjustment(ctx, core.ThresholdAdjustment{
		ID: uuid.NewString(), Category: core.CategoryCoding,
		OldValue: 0.92, NewValue: 0.90, Reason: "high success rate",
		SamplesUsed: 20, Applied: true, AdjustedAt: time.Now().UTC().Add(-time.Minute),
	}))
	// Rejected proposals are persisted but never become current.
	require.NoError(t, adjustments.InsertAdjustment(ctx, core.ThresholdAdjustment{
		ID: uuid.NewString(), Category: core.CategoryCoding,
		OldValue: 0.90, NewValue: 0.80, Reason: "out of bounds",
		SamplesUsed: 20, Applied: false, AdjustedAt: time.Now().UTC(),
	}))

	value, found, err := adjustments.CurrentThreshold(ctx, core.CategoryCoding)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 0.90, value, 1e-9)
}

func TestTierRepo_RoundTrip(t *testing.T) {
	t.Parallel()
	_, _, _, tiers := newTestDB(t)
	ctx := context.Background()

	item := core.TierItem{
		Key:          "agent:planner",
		Data:         []byte("pinned agent state"),
		SizeBytes:    18,
		Embedding:    []float32{0.6, 0.8},
		AccessCount:  2,
		LastAccessed: time.Now().UTC(),
	}
	require.NoError(t, tiers.PutTierItem(ctx, core.TierWarm, item))

	got, err := tiers.GetTierItem(ctx, core.TierWarm, item.Key)
	require.NoError(t, err)
	assert.Equal(t, item.Data, got.Data)
	assert.Equal(t, item.Embedding, got.Embedding)

	_, err = tiers.GetTierItem(ctx, core.TierCold, item.Key)
	assert.ErrorIs(t, err, core.ErrNotFound)

	items, bytes, err := tiers.TierFootprint(ctx, core.TierWarm)
	require.NoError(t, err)
	assert.Equal(t, 1, items)
	assert.Equal(t, int64(18), bytes)

	require.NoError(t, tiers.DeleteTierItem(ctx, core.TierWarm, item.Key))
	_, err = tiers.GetTierItem(ctx, core.TierWarm, item.Key)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestEmbeddingCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	vecs := [][]float32{{0.1, 0.2, 0.3}, {1, 0}, {}}
	data, err := serializeEmbeddings(vecs)
	require.NoError(t, err)

	got, err := deserializeEmbeddings(data)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, vecs[0], got[0])
	assert.Equal(t, vecs[1], got[1])
	assert.Empty(t, got[2])
}
