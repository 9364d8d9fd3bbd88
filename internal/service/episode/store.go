package episode

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/log"
	"github.com/sandevgo/memctx/pkg/lru"
)

// Store is the dual-embedding episode store: durable sqlite behind a
// bounded LRU read cache. Durable storage is the source of truth; a
// write that fails persistence never touches the cache.
type Store struct {
	repo  core.EpisodeRepository
	cache *lru.Cache[string, core.Episode]
}

func NewStore(repo core.EpisodeRepository, cacheSize int) *Store {
	return &Store{
		repo: repo,
		cache: lru.New[string, core.Episode](cacheSize,
			lru.WithByteBudget[string, core.Episode](0, episodeFootprint),
		),
	}
}

// StoreInput is everything the caller provides for one episode; ids
// and timestamps are generated here.
type StoreInput struct {
	QueryText    string
	AnswerText   string
	QueryChunks  []core.Chunk
	AnswerChunks []core.Chunk
	Metadata     core.Metadata
}

// StoreEpisode persists a new episode durable-first, then populates
// the cache, and returns the generated episode id.
func (s *Store) StoreEpisode(ctx context.Context, in StoreInput, queryEmbeddings, answerEmbeddings [][]float32) (string, error) {
	md := in.Metadata
	if md.Version == 0 {
		md.Version = core.MetadataVersion
	}
	if md.Category == "" {
		md.Category = core.CategoryGeneral
	}

	ep := core.Episode{
		ID:               uuid.NewString(),
		QueryText:        in.QueryText,
		AnswerText:       in.AnswerText,
		QueryChunks:      in.QueryChunks,
		AnswerChunks:     in.AnswerChunks,
		QueryEmbeddings:  queryEmbeddings,
		AnswerEmbeddings: answerEmbeddings,
		Metadata:         md,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.repo.InsertEpisode(ctx, ep); err != nil {
		return "", err
	}
	s.cache.Put(ep.ID, ep)

	log.FromCtx(ctx).Debug().
		Str("episode_id", ep.ID).
		Int("query_chunks", len(ep.QueryChunks)).
		Int("answer_chunks", len(ep.AnswerChunks)).
		Msg("stored episode")
	return ep.ID, nil
}

// GetEpisode reads through the cache.
func (s *Store) GetEpisode(ctx context.Context, id string) (core.Episode, error) {
	if ep, ok := s.cache.Get(id); ok {
		return ep, nil
	}
	ep, err := s.repo.GetEpisode(ctx, id)
	if err != nil {
		return core.Episode{}, err
	}
	s.cache.Put(id, ep)
	return ep, nil
}

// GetAllEpisodes bypasses the cache; retrieval needs the full corpus
// and the cache only serves point reads.
func (s *Store) GetAllEpisodes(ctx context.Context) ([]core.Episode, error) {
	return s.repo.ListEpisodes(ctx)
}

// CountEpisodes reports the durable corpus size.
func (s *Store) CountEpisodes(ctx context.Context) (int, error) {
	return s.repo.CountEpisodes(ctx)
}

// Deprecate soft-deletes an episode and drops it from the cache.
func (s *Store) Deprecate(ctx context.Context, id string) error {
	if err := s.repo.DeprecateEpisode(ctx, id); err != nil {
		return err
	}
	s.cache.Remove(id)
	return nil
}

// Delete always fails with an append-only violation; it exists so the
// forbidden operation is part of the visible contract.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteEpisode(ctx, id)
}

// Clear always fails with an append-only violation.
func (s *Store) Clear(ctx context.Context) error {
	return s.repo.ClearEpisodes(ctx)
}

// CacheStats exposes hit/miss/eviction counters and the estimated
// cache footprint in bytes.
func (s *Store) CacheStats() lru.Stats {
	return s.cache.Stats()
}

// episodeFootprint estimates the in-memory size of a cached episode.
func episodeFootprint(ep core.Episode) int {
	size := len(ep.QueryText) + len(ep.AnswerText)
	for _, vec := range ep.QueryEmbeddings {
		size += 4 * len(vec)
	}
	for _, vec := range ep.AnswerEmbeddings {
		size += 4 * len(vec)
	}
	for _, ch := range ep.QueryChunks {
		size += len(ch.Text)
	}
	for _, ch := range ep.AnswerChunks {
		size += len(ch.Text)
	}
	return size
}
