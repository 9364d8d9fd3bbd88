package episode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sandevgo/memctx/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory EpisodeRepository with fault injection.
type fakeRepo struct {
	mu       sync.Mutex
	episodes map[string]core.Episode
	getCalls int
	failNext error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{episodes: make(map[string]core.Episode)}
}

func (f *fakeRepo) InsertEpisode(_ context.Context, ep core.Episode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.episodes[ep.ID] = ep
	return nil
}

func (f *fakeRepo) GetEpisode(_ context.Context, id string) (core.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	ep, ok := f.episodes[id]
	if !ok {
		return core.Episode{}, fmt.Errorf("episode %s: %w", id, core.ErrNotFound)
	}
	return ep, nil
}

func (f *fakeRepo) ListEpisodes(_ context.Context) ([]core.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Episode, 0, len(f.episodes))
	for _, ep := range f.episodes {
		out = append(out, ep)
	}
	return out, nil
}

func (f *fakeRepo) CountEpisodes(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.episodes), nil
}

func (f *fakeRepo) DeprecateEpisode(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.episodes[id]
	if !ok {
		return core.ErrNotFound
	}
	ep.Deprecated = true
	f.episodes[id] = ep
	return nil
}

func (f *fakeRepo) DeleteEpisode(context.Context, string) error {
	return &core.AppendOnlyError{Op: "delete episode"}
}

func (f *fakeRepo) ClearEpisodes(context.Context) error {
	return &core.AppendOnlyError{Op: "clear episodes"}
}

func testInput() StoreInput {
	return StoreInput{
		QueryText:    "q",
		AnswerText:   "a",
		QueryChunks:  []core.Chunk{{Text: "q", End: 1, Total: 1}},
		AnswerChunks: []core.Chunk{{Text: "a", End: 1, Total: 1}},
	}
}

func TestStore_WriteThenCache(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	store := NewStore(repo, 10)
	ctx := context.Background()

	id, err := store.StoreEpisode(ctx, testInput(), [][]float32{{1}}, [][]float32{{1}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Read is served from cache, not the repo.
	before := repo.getCalls
	_, err = store.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, repo.getCalls)
	assert.Equal(t, uint64(1), store.CacheStats().Hits)
}

func TestStore_FailedWriteDoesNotCache(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	repo.failNext = errors.New("disk full")
	store := NewStore(repo, 10)
	ctx := context.Background()

	_, err := store.StoreEpisode(ctx, testInput(), [][]float32{{1}}, [][]float32{{1}})
	require.Error(t, err)
	assert.Zero(t, store.CacheStats().Entries, "failed persistence must not populate the cache")
}

func TestStore_CacheMissFallsThrough(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	writer := NewStore(repo, 10)
	reader := NewStore(repo, 10)
	ctx := context.Background()

	id, err := writer.StoreEpisode(ctx, testInput(), [][]float32{{1}}, [][]float32{{1}})
	require.NoError(t, err)

	got, err := reader.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, uint64(1), reader.CacheStats().Misses)

	// Second read hits the freshly populated cache.
	_, err = reader.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reader.CacheStats().Hits)
}

func TestStore_CacheEvictsAtCapacity(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	store := NewStore(repo, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.StoreEpisode(ctx, testInput(), [][]float32{{1}}, [][]float32{{1}})
		require.NoError(t, err)
	}

	stats := store.CacheStats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, uint64(1), stats.Evictions)

	// All three are still durable.
	count, err := repo.CountEpisodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStore_DeleteSurfacesAppendOnly(t *testing.T) {
	t.Parallel()
	store := NewStore(newFakeRepo(), 10)
	ctx := context.Background()

	var appendErr *core.AppendOnlyError
	assert.ErrorAs(t, store.Delete(ctx, "any"), &appendErr)
	assert.ErrorAs(t, store.Clear(ctx), &appendErr)
}

func TestStore_DefaultsMetadata(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	store := NewStore(repo, 10)
	ctx := context.Background()

	id, err := store.StoreEpisode(ctx, testInput(), [][]float32{{1}}, [][]float32{{1}})
	require.NoError(t, err)

	ep, err := store.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.MetadataVersion, ep.Metadata.Version)
	assert.Equal(t, core.CategoryGeneral, ep.Metadata.Category)
}
